package factory

import (
	"github.com/born-ml/netbuild/internal/nn"
	"github.com/born-ml/netbuild/internal/tensor"
	"go.uber.org/zap"
)

// LayerNormParams configures layer normalization over trailing dimensions.
// An omitted or -1 normalized_shape normalizes over everything but the batch.
type LayerNormParams struct {
	NormalizedShape IntList `yaml:"normalized_shape"`
	Eps             float32 `yaml:"eps"`
}

func buildLayerNorm[B tensor.Backend](ctx *Context, spec LayerSpec, in tensor.Shape, backend B) (*Layer[B], error) {
	if err := requireRank(in, 2, 3, 4); err != nil {
		return nil, err
	}
	var p LayerNormParams
	if err := ctx.decode(spec, &p); err != nil {
		return nil, err
	}
	if p.NormalizedShape.auto() {
		p.NormalizedShape = IntList(in[1:].Clone())
	}
	if p.Eps <= 0 {
		p.Eps = 1e-5
	}
	k := len(p.NormalizedShape)
	if k > len(in) || !in[len(in)-k:].Equal(tensor.Shape(p.NormalizedShape)) {
		return nil, paramErrorf("normalized_shape %v does not match the trailing dimensions of %v", []int(p.NormalizedShape), in)
	}

	return &Layer[B]{
		Module: nn.NewLayerNorm(tensor.Shape(p.NormalizedShape), p.Eps, backend),
		Out:    in.Clone(),
		Params: p,
	}, nil
}

// BatchNormParams configures BatchNorm1d, BatchNorm1dT and BatchNorm2d.
// Affine is only honoured by BatchNorm1d.
type BatchNormParams struct {
	NumFeatures int   `yaml:"num_features"`
	Affine      *bool `yaml:"affine,omitempty"`
}

func decodeBatchNorm(ctx *Context, spec LayerSpec, in tensor.Shape, featureDim int) (BatchNormParams, error) {
	var p BatchNormParams
	if err := ctx.decode(spec, &p); err != nil {
		return p, err
	}
	p.NumFeatures = autoInt(p.NumFeatures, in[featureDim])
	if p.NumFeatures != in[featureDim] {
		return p, paramErrorf("num_features %d does not match dimension %d of %v", p.NumFeatures, featureDim, in)
	}
	return p, nil
}

// buildBatchNorm1d normalizes dimension 1 of [B, D] or [B, C, T].
func buildBatchNorm1d[B tensor.Backend](ctx *Context, spec LayerSpec, in tensor.Shape, backend B) (*Layer[B], error) {
	if err := requireRank(in, 2, 3); err != nil {
		return nil, err
	}
	p, err := decodeBatchNorm(ctx, spec, in, 1)
	if err != nil {
		return nil, err
	}
	p.Affine = boolPtr(boolOr(p.Affine, true))
	return &Layer[B]{
		Module: nn.NewBatchNorm1D(p.NumFeatures, *p.Affine, backend),
		Out:    in.Clone(),
		Params: p,
	}, nil
}

// buildBatchNorm1dT normalizes the last dimension of [B, T, D].
func buildBatchNorm1dT[B tensor.Backend](ctx *Context, spec LayerSpec, in tensor.Shape, backend B) (*Layer[B], error) {
	if err := requireRank(in, 3); err != nil {
		return nil, err
	}
	p, err := decodeBatchNorm(ctx, spec, in, 2)
	if err != nil {
		return nil, err
	}
	ignoreAffine(ctx, &p)
	return &Layer[B]{
		Module: nn.NewBatchNorm1DT(p.NumFeatures, backend),
		Out:    in.Clone(),
		Params: p,
	}, nil
}

func buildBatchNorm2d[B tensor.Backend](ctx *Context, spec LayerSpec, in tensor.Shape, backend B) (*Layer[B], error) {
	if err := requireRank(in, 4); err != nil {
		return nil, err
	}
	p, err := decodeBatchNorm(ctx, spec, in, 1)
	if err != nil {
		return nil, err
	}
	ignoreAffine(ctx, &p)
	return &Layer[B]{
		Module: nn.NewBatchNorm2D(p.NumFeatures, backend),
		Out:    in.Clone(),
		Params: p,
	}, nil
}

// ignoreAffine drops an affine setting on layers whose scale and shift
// are always learned.
func ignoreAffine(ctx *Context, p *BatchNormParams) {
	if p.Affine != nil {
		ctx.Warn("affine is ignored for this layer, scale and shift are always learned",
			zap.String("param", "affine"), zap.Bool("value", *p.Affine))
	}
	p.Affine = nil
}
