package nn

import (
	"fmt"

	"github.com/born-ml/netbuild/internal/tensor"
)

// Attention pooling layers collapse the last (time) axis of [N, C, H, T]
// into a weighted sum. The weights are a softmax over time, either of the
// input itself scaled by a learnable alpha (auto-pool) or of a second half
// of the channels (split variants).
//
// Auto-pool interpolates between pooling operators through alpha:
// alpha = 0 is the unweighted mean, alpha = 1 is softmax pooling and
// alpha -> inf approaches max pooling.

const poolAxis = 3

func checkPoolInput(name string, shape tensor.Shape) {
	if len(shape) != 4 {
		panic(fmt.Sprintf("%s: expected 4D input [N,C,H,T], got %v", name, shape))
	}
}

// AutoPoolWeight pools over time with weights softmax(alpha * x).
type AutoPoolWeight[B tensor.Backend] struct {
	alpha *Parameter[B] // [1], starts at 0
}

// NewAutoPoolWeight creates an auto-pool layer.
func NewAutoPoolWeight[B tensor.Backend](backend B) *AutoPoolWeight[B] {
	return &AutoPoolWeight[B]{alpha: NewParameter("autopool_param", Zeros(tensor.Shape{1}, backend))}
}

// Forward maps [N, C, H, T] to [N, C, H, 1].
func (a *AutoPoolWeight[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	checkPoolInput("autopool", input.Shape())
	weights := autoPoolWeights(input, a.alpha.Tensor())
	return input.Mul(weights).SumDim(poolAxis, true)
}

// Parameters returns [autopool_param].
func (a *AutoPoolWeight[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{a.alpha}
}

// Alpha returns the auto-pool parameter.
func (a *AutoPoolWeight[B]) Alpha() *Parameter[B] { return a.alpha }

func autoPoolWeights[B tensor.Backend](x, alpha *tensor.Tensor[B]) *tensor.Tensor[B] {
	return x.Mul(alpha).Softmax(poolAxis)
}

// splitHalves returns the value half (first C/2 channels) and the
// attention half (remaining channels) of x.
func splitHalves[B tensor.Backend](name string, x *tensor.Tensor[B], channels int) (values, attention *tensor.Tensor[B]) {
	shape := x.Shape()
	checkPoolInput(name, shape)
	if shape[1] != channels {
		panic(fmt.Sprintf("%s: expected %d channels, got %v", name, channels, shape))
	}
	half := channels / 2
	return x.Narrow(1, 0, half), x.Narrow(1, half, channels-half)
}

func checkEvenChannels(name string, channels int) {
	if channels <= 0 || channels%2 != 0 {
		panic(fmt.Sprintf("%s: channel count must be positive and even, got %d", name, channels))
	}
}

// AutoPoolWeightSplit uses the second half of the channels, auto-pooled,
// as weights for the first half.
type AutoPoolWeightSplit[B tensor.Backend] struct {
	channels int
	alpha    *Parameter[B]
}

// NewAutoPoolWeightSplit creates a split auto-pool layer for inputs with
// the given (even) channel count.
func NewAutoPoolWeightSplit[B tensor.Backend](channels int, backend B) *AutoPoolWeightSplit[B] {
	checkEvenChannels("autopool split", channels)
	return &AutoPoolWeightSplit[B]{
		channels: channels,
		alpha:    NewParameter("autopool_param", Zeros(tensor.Shape{1}, backend)),
	}
}

// Forward maps [N, C, H, T] to [N, C/2, H, 1].
func (a *AutoPoolWeightSplit[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	values, attention := splitHalves("autopool split", input, a.channels)
	weights := autoPoolWeights(attention, a.alpha.Tensor())
	return values.Mul(weights).SumDim(poolAxis, true)
}

// Parameters returns [autopool_param].
func (a *AutoPoolWeightSplit[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{a.alpha}
}

// SoftmaxWeight uses softmax over time of the second half of the channels
// as weights for the first half.
type SoftmaxWeight[B tensor.Backend] struct {
	channels int
}

// NewSoftmaxWeight creates a softmax-weighted pooling layer for inputs with
// the given (even) channel count.
func NewSoftmaxWeight[B tensor.Backend](channels int) *SoftmaxWeight[B] {
	checkEvenChannels("softmax weight", channels)
	return &SoftmaxWeight[B]{channels: channels}
}

// Forward maps [N, C, H, T] to [N, C/2, H, 1].
func (s *SoftmaxWeight[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	values, attention := splitHalves("softmax weight", input, s.channels)
	return values.Mul(attention.Softmax(poolAxis)).SumDim(poolAxis, true)
}

// Parameters returns nil.
func (s *SoftmaxWeight[B]) Parameters() []*Parameter[B] { return nil }
