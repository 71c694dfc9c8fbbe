// Package nn implements the layer modules instantiated by the network builder.
//
// This package provides:
//   - Module interface: Forward + Parameters, shared by every layer
//   - Parameter: named trainable tensors
//   - Standard layers: Linear, Conv1D, Conv2D, ConvTranspose2D, BatchNorm,
//     LayerNorm, MaxPool1D/2D, Dropout, activations
//   - Shape wrappers: Flatten, Squeeze, Permute, Mean, Max, Abs, Identity
//   - Composite blocks: TemporalConvNet, ResidualBlock, ConvNeXtBlock,
//     DepthwiseSeparableConv, SincConv, attention pooling layers
//   - Sequential: container for stacking layers
//
// Design inspired by PyTorch's nn.Module but adapted for Go generics.
package nn

import (
	"github.com/born-ml/netbuild/internal/tensor"
)

// Module is the base interface for all neural network components.
//
// Every NN module must implement:
//   - Forward: Compute output from input
//   - Parameters: Return all trainable parameters
//
// Forward panics when the input shape does not fit the module, like the
// backend kernels it calls.
//
// Type parameter B must satisfy the tensor.Backend interface.
type Module[B tensor.Backend] interface {
	// Forward computes the output of the module given an input tensor.
	Forward(input *tensor.Tensor[B]) *tensor.Tensor[B]

	// Parameters returns all trainable parameters of this module,
	// including those of nested modules. Returns nil for modules
	// without trainable parameters.
	Parameters() []*Parameter[B]
}

// Trainable is implemented by modules that behave differently in training
// and evaluation mode (dropout, batch normalization, and containers of them).
//
// Modules start in training mode.
type Trainable interface {
	SetTraining(training bool)
}

// SetTraining switches m to training or evaluation mode if it supports it.
func SetTraining[B tensor.Backend](m Module[B], training bool) {
	if t, ok := m.(Trainable); ok {
		t.SetTraining(training)
	}
}

// CountParameters returns the total number of scalar parameters in m.
func CountParameters[B tensor.Backend](m Module[B]) int {
	n := 0
	for _, p := range m.Parameters() {
		n += p.Tensor().NumElements()
	}
	return n
}

func wrap[B tensor.Backend](raw *tensor.RawTensor, backend B) *tensor.Tensor[B] {
	return tensor.New(raw, backend)
}
