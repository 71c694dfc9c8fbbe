package nn

import (
	"fmt"

	"github.com/born-ml/netbuild/internal/tensor"
)

// ConvTranspose2D is a transposed 2D convolution, used for upsampling.
//
// Input shape:  [batch, in_channels, height, width]
// Weight shape: [in_channels, out_channels, kernel_h, kernel_w]
// Output shape: [batch, out_channels, (height-1)*stride_h + kernel_h, (width-1)*stride_w + kernel_w]
type ConvTranspose2D[B tensor.Backend] struct {
	inChannels  int
	outChannels int
	kernelSize  [2]int
	stride      [2]int

	weight *Parameter[B]
	bias   *Parameter[B]

	backend B
}

// NewConvTranspose2D creates a transposed convolution with bias.
func NewConvTranspose2D[B tensor.Backend](inChannels, outChannels int, kernel, stride [2]int, backend B) *ConvTranspose2D[B] {
	if inChannels <= 0 || outChannels <= 0 {
		panic(fmt.Sprintf("conv_transpose2d: invalid channels in=%d, out=%d", inChannels, outChannels))
	}
	if kernel[0] <= 0 || kernel[1] <= 0 || stride[0] <= 0 || stride[1] <= 0 {
		panic(fmt.Sprintf("conv_transpose2d: invalid kernel %v or stride %v", kernel, stride))
	}

	// PyTorch computes fan_in from weight.size(1) for transposed convolutions.
	fanIn := outChannels * kernel[0] * kernel[1]
	return &ConvTranspose2D[B]{
		inChannels:  inChannels,
		outChannels: outChannels,
		kernelSize:  kernel,
		stride:      stride,
		weight:      NewParameter("weight", KaimingUniform(fanIn, tensor.Shape{inChannels, outChannels, kernel[0], kernel[1]}, backend)),
		bias:        NewParameter("bias", KaimingUniform(fanIn, tensor.Shape{outChannels}, backend)),
		backend:     backend,
	}
}

// Forward performs the forward pass.
func (c *ConvTranspose2D[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	shape := input.Shape()
	if len(shape) != 4 || shape[1] != c.inChannels {
		panic(fmt.Sprintf("conv_transpose2d: expected input [N,%d,H,W], got %v", c.inChannels, shape))
	}
	out := wrap(c.backend.ConvTranspose2D(input.Raw(), c.weight.Tensor().Raw(), c.stride), c.backend)
	return out.Add(c.bias.Tensor().Reshape(1, c.outChannels, 1, 1))
}

// Parameters returns [weight, bias].
func (c *ConvTranspose2D[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{c.weight, c.bias}
}

// ComputeOutputSize computes output spatial dimensions for given input size.
func (c *ConvTranspose2D[B]) ComputeOutputSize(inputH, inputW int) [2]int {
	return [2]int{
		(inputH-1)*c.stride[0] + c.kernelSize[0],
		(inputW-1)*c.stride[1] + c.kernelSize[1],
	}
}
