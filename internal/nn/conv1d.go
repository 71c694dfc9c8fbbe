package nn

import (
	"fmt"

	"github.com/born-ml/netbuild/internal/tensor"
)

// Conv1D is a 1D convolution over [batch, channels, time] inputs.
//
// It runs as a Conv2D with a [1, kernel] filter on a [batch, channels, 1, time]
// view of the input.
//
//	out_t = (time + 2*padding - dilation*(kernel-1) - 1) / stride + 1
//
// The weight parameter is exposed as [out, in, kernel] and shares its
// buffer with the [out, in, 1, kernel] filter used for the convolution.
type Conv1D[B tensor.Backend] struct {
	conv   *Conv2D[B]
	weight *Parameter[B] // [out_channels, in_channels, kernel]
}

// NewConv1D creates a 1D convolution with symmetric zero padding.
func NewConv1D[B tensor.Backend](
	inChannels, outChannels, kernel, stride, padding, dilation int,
	useBias bool,
	backend B,
) *Conv1D[B] {
	return NewConv1DPadded(inChannels, outChannels, kernel, stride, padding, padding, dilation, useBias, backend)
}

// NewConv1DPadded creates a 1D convolution with separate left and right
// zero padding.
func NewConv1DPadded[B tensor.Backend](
	inChannels, outChannels, kernel, stride, padLeft, padRight, dilation int,
	useBias bool,
	backend B,
) *Conv1D[B] {
	if padLeft < 0 || padRight < 0 {
		panic(fmt.Sprintf("conv1d: invalid padding (%d, %d)", padLeft, padRight))
	}
	opts := tensor.ConvOptions{
		Stride:   [2]int{1, stride},
		Padding:  [4]int{0, 0, padLeft, padRight},
		Dilation: [2]int{1, dilation},
		Groups:   1,
	}
	conv := NewConv2D(inChannels, outChannels, [2]int{1, kernel}, opts, useBias, backend)
	return &Conv1D[B]{
		conv:   conv,
		weight: NewParameter("weight", conv.weight.Tensor().View(outChannels, inChannels, kernel)),
	}
}

// Forward performs the forward pass.
//
// Input: [batch, in_channels, time]
// Output: [batch, out_channels, out_time].
func (c *Conv1D[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	return c.forwardWith(input, c.conv.weight.Tensor())
}

func (c *Conv1D[B]) forwardWith(input, weight *tensor.Tensor[B]) *tensor.Tensor[B] {
	shape := input.Shape()
	if len(shape) != 3 {
		panic(fmt.Sprintf("conv1d: expected 3D input [N,C,T], got %v", shape))
	}
	out := c.conv.forwardWith(input.Reshape(shape[0], shape[1], 1, shape[2]), weight)
	outShape := out.Shape()
	return out.Reshape(outShape[0], outShape[1], outShape[3])
}

// Parameters returns [weight, bias] (bias omitted when disabled).
func (c *Conv1D[B]) Parameters() []*Parameter[B] {
	if c.conv.bias != nil {
		return []*Parameter[B]{c.weight, c.conv.bias}
	}
	return []*Parameter[B]{c.weight}
}

// Weight returns the weight parameter with shape [out, in, kernel].
func (c *Conv1D[B]) Weight() *Parameter[B] {
	return c.weight
}

// InChannels returns the number of input channels.
func (c *Conv1D[B]) InChannels() int {
	return c.conv.inChannels
}

// OutChannels returns the number of output channels.
func (c *Conv1D[B]) OutChannels() int {
	return c.conv.outChannels
}

// WeightNormConv1D is a Conv1D whose weight is reparameterised as
// w = g * v / ||v||, with the norm taken per output channel.
//
// g starts at ||v|| so the initial effective weight equals v.
type WeightNormConv1D[B tensor.Backend] struct {
	*Conv1D[B]
	g  *Parameter[B]     // [out, 1, 1]
	g4 *tensor.Tensor[B] // g viewed as [out, 1, 1, 1]
}

// NewWeightNormConv1D wraps a new Conv1D with weight normalization.
func NewWeightNormConv1D[B tensor.Backend](
	inChannels, outChannels, kernel, stride, padding, dilation int,
	backend B,
) *WeightNormConv1D[B] {
	conv := NewConv1D(inChannels, outChannels, kernel, stride, padding, dilation, true, backend)
	m := &WeightNormConv1D[B]{Conv1D: conv}
	m.g4 = m.vNorm()
	m.g = NewParameter("weight_g", m.g4.View(outChannels, 1, 1))
	return m
}

// vNorm returns ||v|| per output channel as [out, 1, 1, 1].
func (m *WeightNormConv1D[B]) vNorm() *tensor.Tensor[B] {
	v := m.conv.weight.Tensor()
	return v.Mul(v).SumDim(3, true).SumDim(2, true).SumDim(1, true).Sqrt()
}

// EffectiveWeight returns g * v / ||v||.
func (m *WeightNormConv1D[B]) EffectiveWeight() *tensor.Tensor[B] {
	return m.conv.weight.Tensor().Mul(m.g4.Div(m.vNorm()))
}

// Forward convolves with the normalized weight.
func (m *WeightNormConv1D[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	return m.forwardWith(input, m.EffectiveWeight())
}

// Parameters returns [weight_v, weight_g, bias] (bias omitted when disabled).
func (m *WeightNormConv1D[B]) Parameters() []*Parameter[B] {
	params := []*Parameter[B]{NewParameter("weight_v", m.weight.Tensor()), m.g}
	if m.conv.bias != nil {
		params = append(params, m.conv.bias)
	}
	return params
}
