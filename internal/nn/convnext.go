package nn

import (
	"fmt"

	"github.com/born-ml/netbuild/internal/tensor"
)

// ConvNeXtBlock is the ConvNeXt residual block over [N, C, H, W]:
//
//	x -> depthwise kxk conv -> permute to [N, H, W, C] -> LayerNorm(C)
//	  -> Linear(C, 4C) -> GELU -> Linear(4C, C) -> permute back
//	  -> stochastic depth -> + x
//
// The residual connection requires out_channels == in_channels.
type ConvNeXtBlock[B tensor.Backend] struct {
	dwconv   *Conv2D[B]
	norm     *LayerNorm[B]
	pwconv1  *Linear[B]
	act      *GELU[B]
	pwconv2  *Linear[B]
	dropPath Module[B]
}

// DefaultConvNeXtKernel is the depthwise kernel size of a ConvNeXt block.
const DefaultConvNeXtKernel = 7

// NewConvNeXtBlock creates a ConvNeXt block. dropPath 0 disables stochastic depth.
func NewConvNeXtBlock[B tensor.Backend](inChannels, outChannels, kernel int, dropPath float32, backend B) *ConvNeXtBlock[B] {
	if outChannels != inChannels {
		panic(fmt.Sprintf("convnext: out_channels %d must equal in_channels %d for the residual connection", outChannels, inChannels))
	}
	opts := tensor.DefaultConvOptions()
	opts.Padding = [4]int{kernel / 2, kernel / 2, kernel / 2, kernel / 2}
	opts.Groups = inChannels

	var drop Module[B] = NewIdentity[B]()
	if dropPath > 0 {
		drop = NewStochasticDepth[B](dropPath)
	}
	return &ConvNeXtBlock[B]{
		dwconv:   NewConv2D(inChannels, inChannels, [2]int{kernel, kernel}, opts, true, backend),
		norm:     NewLayerNorm(tensor.Shape{inChannels}, 1e-6, backend),
		pwconv1:  NewLinear(inChannels, 4*inChannels, backend),
		act:      NewGELU(backend),
		pwconv2:  NewLinear(4*inChannels, outChannels, backend),
		dropPath: drop,
	}
}

// Forward runs the block.
func (c *ConvNeXtBlock[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	x := c.dwconv.Forward(input)
	x = x.Transpose(0, 2, 3, 1)
	x = c.norm.Forward(x)
	x = c.pwconv2.Forward(c.act.Forward(c.pwconv1.Forward(x)))
	x = x.Transpose(0, 3, 1, 2)
	return c.dropPath.Forward(x).Add(input)
}

// SetTraining forwards the mode to the stochastic depth layer.
func (c *ConvNeXtBlock[B]) SetTraining(training bool) {
	SetTraining(c.dropPath, training)
}

// Parameters returns all parameters of the block.
func (c *ConvNeXtBlock[B]) Parameters() []*Parameter[B] {
	params := namespaced("dwconv", c.dwconv)
	params = append(params, namespaced("norm", c.norm)...)
	params = append(params, namespaced("pwconv1", c.pwconv1)...)
	return append(params, namespaced("pwconv2", c.pwconv2)...)
}
