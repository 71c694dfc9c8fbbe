// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the public tensor API used by netbuild layers.
//
// Tensors are float32, row-major and forward-only. Every operation is
// delegated to a Backend:
//
//	backend := cpu.New()
//	x := tensor.Zeros(tensor.Shape{2, 3}, backend)
//	y := tensor.Ones(tensor.Shape{2, 3}, backend)
//	z := x.Add(y)
package tensor

import (
	"math/rand"

	"github.com/born-ml/netbuild/internal/tensor"
)

// Shape represents the dimensions of a tensor.
// Example: Shape{2, 3, 4} represents a 3D tensor with dimensions 2×3×4.
type Shape = tensor.Shape

// RawTensor is the untyped buffer backends operate on.
type RawTensor = tensor.RawTensor

// Backend performs the computation behind tensor operations.
type Backend = tensor.Backend

// ConvOptions holds stride, padding, dilation and groups of a convolution.
type ConvOptions = tensor.ConvOptions

// Tensor is a float32 tensor bound to backend B.
type Tensor[B Backend] = tensor.Tensor[B]

// DefaultConvOptions returns stride 1, no padding, dilation 1 and one group.
func DefaultConvOptions() ConvOptions {
	return tensor.DefaultConvOptions()
}

// Zeros creates a tensor filled with zeros.
func Zeros[B Backend](shape Shape, b B) *Tensor[B] {
	return tensor.Zeros(shape, b)
}

// Ones creates a tensor filled with ones.
func Ones[B Backend](shape Shape, b B) *Tensor[B] {
	return tensor.Ones(shape, b)
}

// Full creates a tensor filled with value.
func Full[B Backend](shape Shape, value float32, b B) *Tensor[B] {
	return tensor.Full(shape, value, b)
}

// FromSlice creates a tensor from data, which must hold shape.NumElements() values.
func FromSlice[B Backend](data []float32, shape Shape, b B) (*Tensor[B], error) {
	return tensor.FromSlice(data, shape, b)
}

// Randn creates a tensor with values drawn from N(0, 1).
func Randn[B Backend](shape Shape, rng *rand.Rand, b B) *Tensor[B] {
	return tensor.Randn(shape, rng, b)
}

// Rand creates a tensor with values drawn from U(0, 1).
func Rand[B Backend](shape Shape, rng *rand.Rand, b B) *Tensor[B] {
	return tensor.Rand(shape, rng, b)
}

// ParseShape parses a comma separated shape such as "8,1,64,400".
func ParseShape(text string) (Shape, error) {
	return tensor.ParseShape(text)
}
