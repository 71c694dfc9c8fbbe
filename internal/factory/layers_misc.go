package factory

import (
	"fmt"

	"github.com/born-ml/netbuild/internal/nn"
	"github.com/born-ml/netbuild/internal/tensor"
	"gopkg.in/yaml.v3"
)

// LinearParams configures a dense layer over the last dimension.
type LinearParams struct {
	InFeatures  int `yaml:"in_features"`
	OutFeatures int `yaml:"out_features"`
}

func buildLinear[B tensor.Backend](ctx *Context, spec LayerSpec, in tensor.Shape, backend B) (*Layer[B], error) {
	if len(in) < 2 {
		return nil, rankErrorf("expected rank >= 2, got shape %v", in)
	}
	var p LinearParams
	if err := ctx.decode(spec, &p); err != nil {
		return nil, err
	}
	last := len(in) - 1
	p.InFeatures = autoInt(p.InFeatures, in[last])
	if p.InFeatures != in[last] {
		return nil, paramErrorf("in_features %d does not match last dimension of %v", p.InFeatures, in)
	}
	if err := positive("out_features", p.OutFeatures); err != nil {
		return nil, err
	}
	return &Layer[B]{
		Module: nn.NewLinear(p.InFeatures, p.OutFeatures, backend),
		Out:    withDims(in, map[int]int{last: p.OutFeatures}),
		Params: p,
	}, nil
}

// ActivationParams names an activation. In YAML it is usually a bare
// scalar (`Activation: ReLU`); the mapping form {name: Softmax, dim: 2}
// sets an explicit softmax dimension.
type ActivationParams struct {
	Name string `yaml:"name"`
	Dim  *int   `yaml:"dim,omitempty"`
}

// UnmarshalYAML accepts a scalar name or a mapping.
func (a *ActivationParams) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*a = ActivationParams{Name: value.Value}
		return nil
	}
	type plain ActivationParams
	return value.Decode((*plain)(a))
}

// MarshalYAML writes the scalar form when no dim is set.
func (a ActivationParams) MarshalYAML() (any, error) {
	if a.Dim == nil {
		return a.Name, nil
	}
	type plain ActivationParams
	return plain(a), nil
}

func buildActivation[B tensor.Backend](ctx *Context, spec LayerSpec, in tensor.Shape, backend B) (*Layer[B], error) {
	var p ActivationParams
	if err := ctx.decode(spec, &p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, paramErrorf("activation name is required")
	}

	var module nn.Module[B]
	if p.Dim != nil {
		if p.Name != nn.ActSoftmax {
			return nil, paramErrorf("dim is only valid for Softmax, got %s", p.Name)
		}
		if _, err := in.Normalize(*p.Dim); err != nil {
			return nil, paramErrorf("softmax dim: %v", err)
		}
		module = nn.NewSoftmax(*p.Dim, backend)
	} else {
		m, err := nn.NewActivation(p.Name, backend)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParam, err)
		}
		module = m
	}
	return &Layer[B]{Module: module, Out: in.Clone(), Params: p}, nil
}

// DropoutParams configures dropout. A bare scalar is read as p.
type DropoutParams struct {
	P *float32 `yaml:"p"`
}

// UnmarshalYAML accepts `Dropout: 0.3` and `Dropout: {p: 0.3}`.
func (d *DropoutParams) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var p float32
		if err := value.Decode(&p); err != nil {
			return err
		}
		d.P = &p
		return nil
	}
	type plain DropoutParams
	return value.Decode((*plain)(d))
}

func buildDropout[B tensor.Backend](ctx *Context, spec LayerSpec, in tensor.Shape, backend B) (*Layer[B], error) {
	var p DropoutParams
	if err := ctx.decode(spec, &p); err != nil {
		return nil, err
	}
	p.P = float32Ptr(float32Or(p.P, 0.5))
	if *p.P < 0 || *p.P > 1 {
		return nil, paramErrorf("dropout p must be in [0, 1], got %g", *p.P)
	}
	return &Layer[B]{Module: nn.NewDropout[B](*p.P), Out: in.Clone(), Params: p}, nil
}

// FlattenParams configures Flatten. Defaults are start_dim 1, end_dim -1.
type FlattenParams struct {
	StartDim *int `yaml:"start_dim"`
	EndDim   *int `yaml:"end_dim"`
}

func buildFlatten[B tensor.Backend](ctx *Context, spec LayerSpec, in tensor.Shape, _ B) (*Layer[B], error) {
	var p FlattenParams
	if err := ctx.decode(spec, &p); err != nil {
		return nil, err
	}
	if p.StartDim == nil {
		p.StartDim = intPtr(1)
	}
	if p.EndDim == nil {
		p.EndDim = intPtr(-1)
	}
	out, err := nn.FlattenShape(in, *p.StartDim, *p.EndDim)
	if err != nil {
		return nil, rankErrorf("flatten: %v", err)
	}
	return &Layer[B]{Module: nn.NewFlatten[B](*p.StartDim, *p.EndDim), Out: out, Params: p}, nil
}

// DimParams configures Squeeze.
type DimParams struct {
	Dim *int `yaml:"dim"`
}

func buildSqueeze[B tensor.Backend](ctx *Context, spec LayerSpec, in tensor.Shape, _ B) (*Layer[B], error) {
	var p DimParams
	if err := ctx.decode(spec, &p); err != nil {
		return nil, err
	}
	if p.Dim == nil {
		return nil, paramErrorf("dim is required")
	}
	out, err := nn.SqueezeShape(in, *p.Dim)
	if err != nil {
		return nil, rankErrorf("squeeze: %v", err)
	}
	return &Layer[B]{Module: nn.NewSqueeze[B](*p.Dim), Out: out, Params: p}, nil
}

// PermuteParams configures Permute; shape is the new dimension order.
type PermuteParams struct {
	Shape IntList `yaml:"shape"`
}

func buildPermute[B tensor.Backend](ctx *Context, spec LayerSpec, in tensor.Shape, _ B) (*Layer[B], error) {
	var p PermuteParams
	if err := ctx.decode(spec, &p); err != nil {
		return nil, err
	}
	out, err := nn.PermuteShape(in, p.Shape)
	if err != nil {
		return nil, paramErrorf("permute: %v", err)
	}
	return &Layer[B]{Module: nn.NewPermute[B](p.Shape...), Out: out, Params: p}, nil
}

// ReduceParams configures Mean and Max.
type ReduceParams struct {
	Dim     *int `yaml:"dim"`
	KeepDim bool `yaml:"keepdim"`
}

func decodeReduce(ctx *Context, spec LayerSpec, in tensor.Shape) (ReduceParams, tensor.Shape, error) {
	var p ReduceParams
	if err := ctx.decode(spec, &p); err != nil {
		return p, nil, err
	}
	if p.Dim == nil {
		return p, nil, paramErrorf("dim is required")
	}
	out, err := nn.ReduceShape(in, *p.Dim, p.KeepDim)
	if err != nil {
		return p, nil, rankErrorf("reduce: %v", err)
	}
	return p, out, nil
}

func buildMean[B tensor.Backend](ctx *Context, spec LayerSpec, in tensor.Shape, _ B) (*Layer[B], error) {
	p, out, err := decodeReduce(ctx, spec, in)
	if err != nil {
		return nil, err
	}
	return &Layer[B]{Module: nn.NewMean[B](*p.Dim, p.KeepDim), Out: out, Params: p}, nil
}

func buildMax[B tensor.Backend](ctx *Context, spec LayerSpec, in tensor.Shape, _ B) (*Layer[B], error) {
	p, out, err := decodeReduce(ctx, spec, in)
	if err != nil {
		return nil, err
	}
	return &Layer[B]{Module: nn.NewMax[B](*p.Dim, p.KeepDim), Out: out, Params: p}, nil
}

// noParams decodes into an empty struct so stray keys are reported.
func noParams(ctx *Context, spec LayerSpec) error {
	var p struct{}
	return ctx.decode(spec, &p)
}

func buildAbs[B tensor.Backend](ctx *Context, spec LayerSpec, in tensor.Shape, _ B) (*Layer[B], error) {
	if err := noParams(ctx, spec); err != nil {
		return nil, err
	}
	return &Layer[B]{Module: nn.NewAbs[B](), Out: in.Clone()}, nil
}

func buildIdentity[B tensor.Backend](ctx *Context, spec LayerSpec, in tensor.Shape, _ B) (*Layer[B], error) {
	if err := noParams(ctx, spec); err != nil {
		return nil, err
	}
	return &Layer[B]{Module: nn.NewIdentity[B](), Out: in.Clone()}, nil
}

// buildDoubleChannel records that the channel count doubles because a skip
// connection is concatenated outside the sequence (U-Net decoders). The
// module itself is the identity.
func buildDoubleChannel[B tensor.Backend](ctx *Context, spec LayerSpec, in tensor.Shape, _ B) (*Layer[B], error) {
	if len(in) < 2 {
		return nil, rankErrorf("expected rank >= 2, got shape %v", in)
	}
	if err := noParams(ctx, spec); err != nil {
		return nil, err
	}
	return &Layer[B]{
		Module: nn.NewIdentity[B](),
		Out:    withDims(in, map[int]int{1: 2 * in[1]}),
		Marker: true,
	}, nil
}

func buildAutoPoolWeight[B tensor.Backend](ctx *Context, spec LayerSpec, in tensor.Shape, backend B) (*Layer[B], error) {
	if err := requireRank(in, 4); err != nil {
		return nil, err
	}
	if err := noParams(ctx, spec); err != nil {
		return nil, err
	}
	return &Layer[B]{
		Module: nn.NewAutoPoolWeight(backend),
		Out:    withDims(in, map[int]int{3: 1}),
	}, nil
}

func splitPoolShape(in tensor.Shape) (tensor.Shape, error) {
	if err := requireRank(in, 4); err != nil {
		return nil, err
	}
	if in[1]%2 != 0 {
		return nil, paramErrorf("channel count must be even to split, got %d", in[1])
	}
	return withDims(in, map[int]int{1: in[1] / 2, 3: 1}), nil
}

func buildAutoPoolWeightSplit[B tensor.Backend](ctx *Context, spec LayerSpec, in tensor.Shape, backend B) (*Layer[B], error) {
	out, err := splitPoolShape(in)
	if err != nil {
		return nil, err
	}
	if err := noParams(ctx, spec); err != nil {
		return nil, err
	}
	return &Layer[B]{Module: nn.NewAutoPoolWeightSplit(in[1], backend), Out: out}, nil
}

func buildSoftmaxWeight[B tensor.Backend](ctx *Context, spec LayerSpec, in tensor.Shape, _ B) (*Layer[B], error) {
	out, err := splitPoolShape(in)
	if err != nil {
		return nil, err
	}
	if err := noParams(ctx, spec); err != nil {
		return nil, err
	}
	return &Layer[B]{Module: nn.NewSoftmaxWeight[B](in[1]), Out: out}, nil
}

func intPtr(v int) *int { return &v }
