package nn

import (
	"github.com/born-ml/netbuild/internal/tensor"
)

// DepthwiseSeparableConv factors a convolution into a per-channel (depthwise)
// convolution followed by a 1x1 (pointwise) convolution.
//
//	depthwise: in -> in*kernelsPerLayer, groups = in
//	pointwise: in*kernelsPerLayer -> out, kernel 1x1
type DepthwiseSeparableConv[B tensor.Backend] struct {
	depthwise *Conv2D[B]
	pointwise *Conv2D[B]
}

// NewDepthwiseSeparableConv creates a depthwise separable convolution.
// opts configures the depthwise stage; its Groups field is overridden.
func NewDepthwiseSeparableConv[B tensor.Backend](
	inChannels, kernelsPerLayer, outChannels int,
	kernel [2]int,
	opts tensor.ConvOptions,
	backend B,
) *DepthwiseSeparableConv[B] {
	if kernelsPerLayer <= 0 {
		kernelsPerLayer = 1
	}
	opts.Groups = inChannels
	mid := inChannels * kernelsPerLayer
	return &DepthwiseSeparableConv[B]{
		depthwise: NewConv2D(inChannels, mid, kernel, opts, true, backend),
		pointwise: NewConv2D(mid, outChannels, [2]int{1, 1}, tensor.DefaultConvOptions(), true, backend),
	}
}

// Forward applies the depthwise then the pointwise convolution.
func (d *DepthwiseSeparableConv[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	return d.pointwise.Forward(d.depthwise.Forward(input))
}

// Parameters returns the parameters of both stages.
func (d *DepthwiseSeparableConv[B]) Parameters() []*Parameter[B] {
	return append(namespaced("depthwise", d.depthwise), namespaced("pointwise", d.pointwise)...)
}

// ComputeOutputSize returns the spatial output size, set by the depthwise stage.
func (d *DepthwiseSeparableConv[B]) ComputeOutputSize(inputH, inputW int) [2]int {
	return d.depthwise.ComputeOutputSize(inputH, inputW)
}
