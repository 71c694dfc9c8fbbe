package nn

import (
	"fmt"

	"github.com/born-ml/netbuild/internal/tensor"
)

// Conv2D is a 2D convolutional layer.
//
// Performs convolution: output = Conv2D(input, weight) + bias
//
// Input shape:  [batch, in_channels, height, width]
// Weight shape: [out_channels, in_channels/groups, kernel_h, kernel_w]
// Bias shape:   [out_channels]
// Output shape: [batch, out_channels, out_h, out_w]
//
// Where:
//
//	out_h = (height + pad_top + pad_bottom - dilation_h*(kernel_h-1) - 1) / stride_h + 1
//
// Example:
//
//	opts := tensor.DefaultConvOptions()
//	opts.Padding = nn.SamePadding([2]int{3, 3}, opts.Dilation)
//	conv := nn.NewConv2D(1, 16, [2]int{3, 3}, opts, true, backend)
//	output := conv.Forward(input) // [8, 1, 64, 400] -> [8, 16, 64, 400]
type Conv2D[B tensor.Backend] struct {
	inChannels  int
	outChannels int
	kernelSize  [2]int
	opts        tensor.ConvOptions

	weight *Parameter[B] // [out_channels, in_channels/groups, kernel_h, kernel_w]
	bias   *Parameter[B] // [out_channels] or nil

	backend B
}

// NewConv2D creates a new 2D convolutional layer.
//
// Parameters:
//   - inChannels: Number of input channels
//   - outChannels: Number of output channels (number of filters)
//   - kernel: Kernel dimensions {height, width}
//   - opts: Stride, padding, dilation and groups
//   - useBias: Whether to include bias term
//   - backend: Backend for computation
//
// Weights and bias are drawn from U(-1/sqrt(fan_in), 1/sqrt(fan_in)) with
// fan_in = in_channels/groups * kernel_h * kernel_w.
func NewConv2D[B tensor.Backend](
	inChannels, outChannels int,
	kernel [2]int,
	opts tensor.ConvOptions,
	useBias bool,
	backend B,
) *Conv2D[B] {
	opts = normalizeConvOptions(opts)
	if inChannels <= 0 || outChannels <= 0 {
		panic(fmt.Sprintf("conv2d: invalid channels in=%d, out=%d", inChannels, outChannels))
	}
	if kernel[0] <= 0 || kernel[1] <= 0 {
		panic(fmt.Sprintf("conv2d: invalid kernel size %v", kernel))
	}
	if opts.Stride[0] <= 0 || opts.Stride[1] <= 0 {
		panic(fmt.Sprintf("conv2d: invalid stride %v", opts.Stride))
	}
	if inChannels%opts.Groups != 0 || outChannels%opts.Groups != 0 {
		panic(fmt.Sprintf("conv2d: channels in=%d, out=%d not divisible by groups=%d", inChannels, outChannels, opts.Groups))
	}

	fanIn := inChannels / opts.Groups * kernel[0] * kernel[1]
	weightShape := tensor.Shape{outChannels, inChannels / opts.Groups, kernel[0], kernel[1]}

	var bias *Parameter[B]
	if useBias {
		bias = NewParameter("bias", KaimingUniform(fanIn, tensor.Shape{outChannels}, backend))
	}

	return &Conv2D[B]{
		inChannels:  inChannels,
		outChannels: outChannels,
		kernelSize:  kernel,
		opts:        opts,
		weight:      NewParameter("weight", KaimingUniform(fanIn, weightShape, backend)),
		bias:        bias,
		backend:     backend,
	}
}

func normalizeConvOptions(opts tensor.ConvOptions) tensor.ConvOptions {
	if opts.Groups <= 0 {
		opts.Groups = 1
	}
	if opts.Dilation[0] <= 0 {
		opts.Dilation[0] = 1
	}
	if opts.Dilation[1] <= 0 {
		opts.Dilation[1] = 1
	}
	return opts
}

// SamePadding returns {top, bottom, left, right} padding that keeps the
// spatial size unchanged at stride 1. Odd totals put the extra row/column
// at the bottom/right.
func SamePadding(kernel, dilation [2]int) [4]int {
	th := max(dilation[0], 1) * (kernel[0] - 1)
	tw := max(dilation[1], 1) * (kernel[1] - 1)
	return [4]int{th / 2, th - th/2, tw / 2, tw - tw/2}
}

// Forward performs the forward pass.
//
// Input: [batch, in_channels, height, width]
// Output: [batch, out_channels, out_h, out_w].
func (c *Conv2D[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	return c.forwardWith(input, c.weight.Tensor())
}

func (c *Conv2D[B]) forwardWith(input, weight *tensor.Tensor[B]) *tensor.Tensor[B] {
	inputShape := input.Shape()
	if len(inputShape) != 4 {
		panic(fmt.Sprintf("conv2d: expected 4D input [N,C,H,W], got %dD", len(inputShape)))
	}
	if inputShape[1] != c.inChannels {
		panic(fmt.Sprintf("conv2d: input channels %d != expected %d", inputShape[1], c.inChannels))
	}

	output := wrap(c.backend.Conv2D(input.Raw(), weight.Raw(), c.opts), c.backend)
	if c.bias != nil {
		output = output.Add(c.bias.Tensor().Reshape(1, c.outChannels, 1, 1))
	}
	return output
}

// Parameters returns all trainable parameters.
func (c *Conv2D[B]) Parameters() []*Parameter[B] {
	if c.bias != nil {
		return []*Parameter[B]{c.weight, c.bias}
	}
	return []*Parameter[B]{c.weight}
}

// String returns a string representation of the layer.
func (c *Conv2D[B]) String() string {
	return fmt.Sprintf("Conv2D(in_channels=%d, out_channels=%d, kernel_size=%v, stride=%v, padding=%v, dilation=%v, groups=%d, bias=%v)",
		c.inChannels, c.outChannels, c.kernelSize, c.opts.Stride, c.opts.Padding, c.opts.Dilation, c.opts.Groups, c.bias != nil)
}

// Weight returns the weight parameter.
func (c *Conv2D[B]) Weight() *Parameter[B] {
	return c.weight
}

// OutChannels returns the number of output channels.
func (c *Conv2D[B]) OutChannels() int {
	return c.outChannels
}

// InChannels returns the number of input channels.
func (c *Conv2D[B]) InChannels() int {
	return c.inChannels
}

// KernelSize returns the kernel size [height, width].
func (c *Conv2D[B]) KernelSize() [2]int {
	return c.kernelSize
}

// Options returns the stride, padding, dilation and groups settings.
func (c *Conv2D[B]) Options() tensor.ConvOptions {
	return c.opts
}

// ComputeOutputSize computes output spatial dimensions for given input size.
//
// Returns: [out_height, out_width].
func (c *Conv2D[B]) ComputeOutputSize(inputH, inputW int) [2]int {
	p, s, d, k := c.opts.Padding, c.opts.Stride, c.opts.Dilation, c.kernelSize
	return [2]int{
		(inputH+p[0]+p[1]-d[0]*(k[0]-1)-1)/s[0] + 1,
		(inputW+p[2]+p[3]-d[1]*(k[1]-1)-1)/s[1] + 1,
	}
}
