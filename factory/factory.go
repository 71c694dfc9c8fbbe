// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package factory builds layer stacks from declarative layer lists.
//
// A layer list is a sequence of type tags with parameters. Channel and
// feature counts given as -1 (or omitted) are inferred from the shape
// flowing through the list:
//
//	model, err := factory.LoadModel("model.yaml")
//	if err != nil {
//	    return err
//	}
//	net, err := factory.Build(model.Layers, model.Shape(), cpu.New())
//	if err != nil {
//	    return err
//	}
//	fmt.Println(net.OutputShape)
package factory

import (
	"github.com/born-ml/netbuild/internal/config"
	"github.com/born-ml/netbuild/internal/factory"
	"github.com/born-ml/netbuild/nn"
	"github.com/born-ml/netbuild/tensor"
)

// LayerSpec is one entry of a layer list.
type LayerSpec = factory.LayerSpec

// Factory maps type tags to builders for backend B.
type Factory[B tensor.Backend] = factory.Factory[B]

// BuildFunc creates one layer from its spec and input shape.
type BuildFunc[B tensor.Backend] = factory.BuildFunc[B]

// Layer is what a BuildFunc returns.
type Layer[B tensor.Backend] = factory.Layer[B]

// Context identifies the layer being built and carries the logger.
type Context = factory.Context

// Network is a built layer sequence with per-layer shape records.
type Network[B tensor.Backend] = factory.Network[B]

// LayerInfo records how one layer was built.
type LayerInfo[B tensor.Backend] = factory.LayerInfo[B]

// LayerError attributes an error to one entry of the layer list.
type LayerError = factory.LayerError

// Option configures a Factory.
type Option = factory.Option

// Model is a parsed YAML model description.
type Model = config.Model

// Errors returned by builders, wrapped in a LayerError.
var (
	ErrUnknownLayer = factory.ErrUnknownLayer
	ErrRank         = factory.ErrRank
	ErrParam        = factory.ErrParam
)

// WithLogger sets the logger used for configuration warnings.
var WithLogger = factory.WithLogger

// NewLayerSpec builds a LayerSpec from a Go value (map, struct or scalar).
func NewLayerSpec(typ string, params any) (LayerSpec, error) {
	return factory.NewLayerSpec(typ, params)
}

// New creates a factory with every built-in layer type registered.
func New[B tensor.Backend](backend B, opts ...Option) *Factory[B] {
	return factory.New(backend, opts...)
}

// Build creates a network from specs with a default factory.
func Build[B tensor.Backend](specs []LayerSpec, inputShape tensor.Shape, backend B, opts ...Option) (*Network[B], error) {
	return factory.Build(specs, inputShape, backend, opts...)
}

// ParseComponent builds a single layer and returns it with its output shape.
func ParseComponent[B tensor.Backend](spec LayerSpec, in tensor.Shape, backend B, opts ...Option) (nn.Module[B], tensor.Shape, error) {
	return factory.ParseComponent(spec, in, backend, opts...)
}

// LoadModel reads and validates a YAML model description.
func LoadModel(path string) (*Model, error) {
	return config.Load(path)
}

// ParseModel decodes and validates a YAML model description.
func ParseModel(data []byte) (*Model, error) {
	return config.Parse(data)
}

// FormatParams renders resolved layer parameters on one line.
func FormatParams(params any) string {
	return factory.FormatParams(params)
}
