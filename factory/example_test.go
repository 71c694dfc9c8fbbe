// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package factory_test

import (
	"fmt"

	"github.com/born-ml/netbuild/backend/cpu"
	"github.com/born-ml/netbuild/factory"
	"github.com/born-ml/netbuild/tensor"
)

func ExampleBuild() {
	specs := []factory.LayerSpec{}
	for _, l := range []struct {
		typ    string
		params any
	}{
		{"Conv2d", map[string]any{"out_channels": 8, "kernel_size": 3, "padding": "same"}},
		{"BatchNorm2d", nil},
		{"Activation", "ReLU"},
		{"MaxPool2d", map[string]any{"kernel_size": 2}},
		{"Flatten", nil},
		{"Linear", map[string]any{"out_features": 10}},
	} {
		spec, err := factory.NewLayerSpec(l.typ, l.params)
		if err != nil {
			panic(err)
		}
		specs = append(specs, spec)
	}

	net, err := factory.Build(specs, tensor.Shape{4, 1, 28, 28}, cpu.New())
	if err != nil {
		panic(err)
	}
	for _, info := range net.Layers {
		fmt.Println(info.Type, info.Out)
	}
	// Output:
	// Conv2d [4 8 28 28]
	// BatchNorm2d [4 8 28 28]
	// Activation [4 8 28 28]
	// MaxPool2d [4 8 14 14]
	// Flatten [4 1568]
	// Linear [4 10]
}

func ExampleParseModel() {
	model, err := factory.ParseModel([]byte(`
name: tcn
input_shape: [2, 1, 400]
layers:
  - SincNet: {out_channels: 8, kernel_size: 31, stride: 4}
  - Conv1dTCN: {num_channels: [16, 16], kernel_size: 3}
  - Mean: {dim: 2}
  - Linear: {out_features: 3}
`))
	if err != nil {
		panic(err)
	}
	net, err := factory.Build(model.Layers, model.Shape(), cpu.New())
	if err != nil {
		panic(err)
	}
	fmt.Println(model.Name, net.OutputShape)
	// Output:
	// tcn [2 3]
}
