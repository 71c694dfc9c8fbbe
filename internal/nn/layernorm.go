package nn

import (
	"fmt"

	"github.com/born-ml/netbuild/internal/tensor"
)

// LayerNorm applies Layer Normalization over the trailing dimensions given
// by normalizedShape.
//
// Formula: Y = gamma * (X - mean(X)) / sqrt(var(X) + eps) + beta
//
// Where:
//   - mean and variance are computed jointly over the normalized dimensions
//   - gamma (ones) and beta (zeros) have shape normalizedShape
//
// Example:
//
//	// Input [B, C, T], normalize over (C, T)
//	layernorm := nn.NewLayerNorm(tensor.Shape{64, 100}, 1e-5, backend)
type LayerNorm[B tensor.Backend] struct {
	normalizedShape tensor.Shape
	Gamma           *Parameter[B] // learnable scale
	Beta            *Parameter[B] // learnable shift
	Epsilon         float32       // numerical stability constant
}

// NewLayerNorm creates a new LayerNorm layer.
func NewLayerNorm[B tensor.Backend](normalizedShape tensor.Shape, epsilon float32, backend B) *LayerNorm[B] {
	if len(normalizedShape) == 0 {
		panic("layernorm: empty normalized shape")
	}
	if err := normalizedShape.Validate(); err != nil {
		panic(fmt.Sprintf("layernorm: %v", err))
	}
	return &LayerNorm[B]{
		normalizedShape: normalizedShape.Clone(),
		Gamma:           NewParameter("weight", Ones(normalizedShape, backend)),
		Beta:            NewParameter("bias", Zeros(normalizedShape, backend)),
		Epsilon:         epsilon,
	}
}

// Forward applies LayerNorm to the input tensor.
//
// Shapes:
//   - input: [..., *normalized_shape]
//   - output: same as input
func (l *LayerNorm[B]) Forward(x *tensor.Tensor[B]) *tensor.Tensor[B] {
	shape := x.Shape()
	k := len(l.normalizedShape)
	if len(shape) < k || !shape[len(shape)-k:].Equal(l.normalizedShape) {
		panic(fmt.Sprintf("layernorm: input %v does not end with normalized shape %v", shape, l.normalizedShape))
	}

	n := l.normalizedShape.NumElements()
	flat := x.Reshape(-1, n)

	mean := flat.MeanDim(-1, true)
	centered := flat.Sub(mean)
	variance := centered.Mul(centered).MeanDim(-1, true)
	norm := centered.Div(variance.AddScalar(l.Epsilon).Sqrt())

	out := norm.Mul(l.Gamma.Tensor().Reshape(1, n)).Add(l.Beta.Tensor().Reshape(1, n))
	return out.Reshape(shape...)
}

// Parameters returns the learnable parameters (gamma and beta).
func (l *LayerNorm[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{l.Gamma, l.Beta}
}

// NormalizedShape returns the trailing shape normalized over.
func (l *LayerNorm[B]) NormalizedShape() tensor.Shape {
	return l.normalizedShape
}
