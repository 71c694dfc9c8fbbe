// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn exposes the layer modules netbuild assembles.
//
// Modules are forward-only. Trainable modules (batch normalization,
// dropout, stochastic depth and the blocks containing them) start in
// training mode; call SetTraining(m, false) before inference.
package nn

import (
	"github.com/born-ml/netbuild/internal/nn"
	"github.com/born-ml/netbuild/tensor"
)

// Module interface defines the common interface for all neural network modules.
type Module[B tensor.Backend] = nn.Module[B]

// Trainable is implemented by modules whose behaviour differs between
// training and inference.
type Trainable = nn.Trainable

// Parameter is a named tensor owned by a module.
type Parameter[B tensor.Backend] = nn.Parameter[B]

// Sequential runs modules one after another.
type Sequential[B tensor.Backend] = nn.Sequential[B]

// NewSequential creates a sequential container.
//
// Example:
//
//	backend := cpu.New()
//	model := nn.NewSequential[*cpu.Backend](
//	    nn.NewLinear(784, 128, backend),
//	    nn.NewReLU(backend),
//	)
func NewSequential[B tensor.Backend](modules ...Module[B]) *Sequential[B] {
	return nn.NewSequential(modules...)
}

// Seed reseeds weight initialization, dropout masks and stochastic depth.
func Seed(seed int64) {
	nn.Seed(seed)
}

// SetTraining switches m, and every module inside it, between training and
// inference behaviour.
func SetTraining[B tensor.Backend](m Module[B], training bool) {
	nn.SetTraining(m, training)
}

// CountParameters returns the number of scalar parameters in m.
func CountParameters[B tensor.Backend](m Module[B]) int {
	return nn.CountParameters(m)
}

// Linear represents a fully connected (dense) layer.
type Linear[B tensor.Backend] = nn.Linear[B]

// NewLinear creates a linear layer over the last input dimension.
func NewLinear[B tensor.Backend](inFeatures, outFeatures int, backend B) *Linear[B] {
	return nn.NewLinear(inFeatures, outFeatures, backend)
}

// ReLU applies max(0, x).
type ReLU[B tensor.Backend] = nn.ReLU[B]

// NewReLU creates a ReLU activation.
func NewReLU[B tensor.Backend](backend B) *ReLU[B] {
	return nn.NewReLU(backend)
}

// NewActivation creates an activation by name: Sigmoid, Softmax, ReLU,
// LeakyReLU, PReLU, Tanh or GELU.
func NewActivation[B tensor.Backend](name string, backend B) (Module[B], error) {
	return nn.NewActivation(name, backend)
}

// ResidualBlock is two same-padded convolution and batch norm stages with a
// skip connection.
type ResidualBlock[B tensor.Backend] = nn.ResidualBlock[B]

// NewResidualBlock creates a residual block. A 1x1 convolution adapts the
// skip path when inChannels differs from outChannels.
func NewResidualBlock[B tensor.Backend](inChannels, outChannels int, kernel [2]int, backend B) *ResidualBlock[B] {
	return nn.NewResidualBlock(inChannels, outChannels, kernel, backend)
}

// ConvNeXtBlock is a depthwise convolution followed by an inverted
// bottleneck MLP with a residual connection.
type ConvNeXtBlock[B tensor.Backend] = nn.ConvNeXtBlock[B]

// NewConvNeXtBlock creates a ConvNeXt block; inChannels must equal outChannels.
func NewConvNeXtBlock[B tensor.Backend](inChannels, outChannels, kernel int, dropPath float32, backend B) *ConvNeXtBlock[B] {
	return nn.NewConvNeXtBlock(inChannels, outChannels, kernel, dropPath, backend)
}

// TemporalConvNet is a stack of dilated causal convolution blocks.
type TemporalConvNet[B tensor.Backend] = nn.TemporalConvNet[B]

// NewTemporalConvNet creates a TCN with one level per entry of channels.
// Level i uses dilation 2^i.
func NewTemporalConvNet[B tensor.Backend](numInputs int, channels []int, kernel int, dropout float32, backend B) *TemporalConvNet[B] {
	return nn.NewTemporalConvNet(numInputs, channels, kernel, dropout, backend)
}

// SincConv is a 1D convolution whose filters are learnable band-pass sinc
// functions.
type SincConv[B tensor.Backend] = nn.SincConv[B]

// NewSincConv creates a SincConv layer. inChannels must be 1 and the kernel
// size is rounded up to an odd number.
func NewSincConv[B tensor.Backend](inChannels, outChannels, kernel, stride int, sampleRate float64, backend B) *SincConv[B] {
	return nn.NewSincConv(inChannels, outChannels, kernel, stride, sampleRate, backend)
}
