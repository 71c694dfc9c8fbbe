package nn

import (
	"fmt"

	"github.com/born-ml/netbuild/internal/tensor"
)

// MaxPool2D is a 2D max pooling layer.
//
// Input shape:  [batch, channels, height, width]
// Output shape: [batch, channels, out_h, out_w]
//
//	out_h = (height - kernel_h) / stride_h + 1
//
// MaxPool2D has no trainable parameters.
type MaxPool2D[B tensor.Backend] struct {
	kernelSize [2]int
	stride     [2]int
	backend    B
}

// NewMaxPool2D creates a 2D max pooling layer.
func NewMaxPool2D[B tensor.Backend](kernel, stride [2]int, backend B) *MaxPool2D[B] {
	if kernel[0] <= 0 || kernel[1] <= 0 {
		panic(fmt.Sprintf("maxpool2d: invalid kernel size %v", kernel))
	}
	if stride[0] <= 0 || stride[1] <= 0 {
		panic(fmt.Sprintf("maxpool2d: invalid stride %v", stride))
	}
	return &MaxPool2D[B]{kernelSize: kernel, stride: stride, backend: backend}
}

// Forward performs max pooling.
func (m *MaxPool2D[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	return wrap(m.backend.MaxPool2D(input.Raw(), m.kernelSize, m.stride), m.backend)
}

// Parameters returns nil.
func (m *MaxPool2D[B]) Parameters() []*Parameter[B] {
	return nil
}

// ComputeOutputSize computes output spatial dimensions for given input size.
func (m *MaxPool2D[B]) ComputeOutputSize(inputH, inputW int) [2]int {
	return [2]int{
		(inputH-m.kernelSize[0])/m.stride[0] + 1,
		(inputW-m.kernelSize[1])/m.stride[1] + 1,
	}
}

// MaxPool1D pools over the last axis of [batch, channels, time].
type MaxPool1D[B tensor.Backend] struct {
	pool *MaxPool2D[B]
}

// NewMaxPool1D creates a 1D max pooling layer.
func NewMaxPool1D[B tensor.Backend](kernel, stride int, backend B) *MaxPool1D[B] {
	return &MaxPool1D[B]{pool: NewMaxPool2D([2]int{1, kernel}, [2]int{1, stride}, backend)}
}

// Forward performs max pooling on a [N, C, T] input.
func (m *MaxPool1D[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	shape := input.Shape()
	if len(shape) != 3 {
		panic(fmt.Sprintf("maxpool1d: expected 3D input [N,C,T], got %v", shape))
	}
	out := m.pool.Forward(input.Reshape(shape[0], shape[1], 1, shape[2]))
	return out.Reshape(shape[0], shape[1], out.Shape()[3])
}

// Parameters returns nil.
func (m *MaxPool1D[B]) Parameters() []*Parameter[B] {
	return nil
}
