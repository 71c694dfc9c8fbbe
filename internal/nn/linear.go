package nn

import (
	"fmt"

	"github.com/born-ml/netbuild/internal/tensor"
)

// Linear implements a fully connected (dense) layer.
//
// Performs the transformation: y = x @ W.T + b over the last dimension,
// so inputs may be [batch, in_features] or [batch, time, in_features].
//
//   - W is the weight matrix with shape [out_features, in_features]
//   - b is the bias vector with shape [out_features]
//
// Weights and biases are drawn from U(-1/sqrt(in), 1/sqrt(in)).
//
// Example:
//
//	backend := cpu.New()
//	layer := nn.NewLinear(784, 128, backend)
//	output := layer.Forward(input)  // [32, 784] -> [32, 128]
type Linear[B tensor.Backend] struct {
	inFeatures  int
	outFeatures int
	weight      *Parameter[B] // [out_features, in_features]
	bias        *Parameter[B] // [out_features]
}

// NewLinear creates a new Linear layer with bias.
func NewLinear[B tensor.Backend](inFeatures, outFeatures int, backend B) *Linear[B] {
	if inFeatures <= 0 || outFeatures <= 0 {
		panic(fmt.Sprintf("linear: invalid features in=%d, out=%d", inFeatures, outFeatures))
	}

	return &Linear[B]{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      NewParameter("weight", KaimingUniform(inFeatures, tensor.Shape{outFeatures, inFeatures}, backend)),
		bias:        NewParameter("bias", KaimingUniform(inFeatures, tensor.Shape{outFeatures}, backend)),
	}
}

// Forward computes y = x @ W.T + b over the last dimension of input.
//
// Input shape: [..., in_features]
// Output shape: [..., out_features]
func (l *Linear[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	inputShape := input.Shape()
	if len(inputShape) < 1 || inputShape[len(inputShape)-1] != l.inFeatures {
		panic(fmt.Sprintf("linear: expected input [..., %d], got %v", l.inFeatures, inputShape))
	}

	// Collapse leading dimensions: [M, in] @ [out, in]ᵀ = [M, out]
	flat := input.Reshape(-1, l.inFeatures)
	output := flat.MatMulT(l.weight.Tensor())
	output = output.Add(l.bias.Tensor().Reshape(1, l.outFeatures))

	outShape := inputShape.Clone()
	outShape[len(outShape)-1] = l.outFeatures
	return output.Reshape(outShape...)
}

// Parameters returns [weight, bias].
func (l *Linear[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{l.weight, l.bias}
}

// Weight returns the weight parameter.
func (l *Linear[B]) Weight() *Parameter[B] {
	return l.weight
}

// Bias returns the bias parameter.
func (l *Linear[B]) Bias() *Parameter[B] {
	return l.bias
}

// InFeatures returns the number of input features.
func (l *Linear[B]) InFeatures() int {
	return l.inFeatures
}

// OutFeatures returns the number of output features.
func (l *Linear[B]) OutFeatures() int {
	return l.outFeatures
}
