package factory

import (
	"fmt"
	"strings"

	"github.com/born-ml/netbuild/internal/nn"
	"github.com/born-ml/netbuild/internal/tensor"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// LayerInfo records how one layer was built.
type LayerInfo[B tensor.Backend] struct {
	Index  int
	Type   string
	Params any // resolved parameters, nil for parameterless layers
	In     tensor.Shape
	Out    tensor.Shape
	Marker bool
	Module nn.Module[B]
}

// ParamCount returns the number of scalar parameters of the layer.
func (l LayerInfo[B]) ParamCount() int {
	return nn.CountParameters(l.Module)
}

// ParseComponent builds a single layer from its spec and the shape of its
// input. It returns the module and the predicted output shape; the input
// shape is not modified.
func (f *Factory[B]) ParseComponent(index int, spec LayerSpec, in tensor.Shape) (*Layer[B], error) {
	build, ok := f.builders[spec.Type]
	if !ok {
		return nil, &LayerError{Index: index, Type: spec.Type, Err: fmt.Errorf("%w %q", ErrUnknownLayer, spec.Type)}
	}
	ctx := &Context{Index: index, Type: spec.Type, Logger: f.logger}
	layer, err := build(ctx, spec, in.Clone(), f.backend)
	if err != nil {
		return nil, &LayerError{Index: index, Type: spec.Type, Err: err}
	}
	return layer, nil
}

// Build creates every layer in order, feeding each predicted output shape
// to the next builder.
func (f *Factory[B]) Build(specs []LayerSpec, inputShape tensor.Shape) (*Network[B], error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: empty layer list", ErrParam)
	}
	if err := inputShape.Validate(); err != nil {
		return nil, fmt.Errorf("input shape: %w", err)
	}

	net := &Network[B]{
		Sequential: nn.NewSequential[B](),
		InputShape: inputShape.Clone(),
		backend:    f.backend,
		logger:     f.logger,
	}
	current := inputShape.Clone()
	for i, spec := range specs {
		layer, err := f.ParseComponent(i, spec, current)
		if err != nil {
			return nil, err
		}
		f.logger.Debug("built layer",
			zap.Int("index", i),
			zap.String("layer", spec.Type),
			zap.Stringer("in", current),
			zap.Stringer("out", layer.Out))

		net.Sequential.Add(layer.Module)
		net.Layers = append(net.Layers, LayerInfo[B]{
			Index:  i,
			Type:   spec.Type,
			Params: layer.Params,
			In:     current,
			Out:    layer.Out.Clone(),
			Marker: layer.Marker,
			Module: layer.Module,
		})
		current = layer.Out.Clone()
	}
	net.OutputShape = current
	return net, nil
}

// ParseComponent builds a single layer with a default Factory.
func ParseComponent[B tensor.Backend](spec LayerSpec, in tensor.Shape, backend B, opts ...Option) (nn.Module[B], tensor.Shape, error) {
	layer, err := New(backend, opts...).ParseComponent(0, spec, in)
	if err != nil {
		return nil, nil, err
	}
	return layer.Module, layer.Out, nil
}

// Build creates a network with a default Factory.
func Build[B tensor.Backend](specs []LayerSpec, inputShape tensor.Shape, backend B, opts ...Option) (*Network[B], error) {
	return New(backend, opts...).Build(specs, inputShape)
}

// Network is the built layer sequence together with the per-layer records.
type Network[B tensor.Backend] struct {
	*nn.Sequential[B]

	Layers      []LayerInfo[B]
	InputShape  tensor.Shape
	OutputShape tensor.Shape

	backend B
	logger  *zap.Logger
}

// Backend returns the backend the layers were created on.
func (n *Network[B]) Backend() B {
	return n.backend
}

// Verify runs input through the layers one at a time and checks each
// output against the predicted shape. Shape panics from the modules are
// returned as errors. Checking stops at the first marker layer, whose
// predicted shape describes a concatenation the sequence does not perform.
func (n *Network[B]) Verify(input *tensor.Tensor[B]) (err error) {
	if !input.Shape().Equal(n.InputShape) {
		return fmt.Errorf("%w: input %v, network expects %v", ErrRank, input.Shape(), n.InputShape)
	}

	current := -1
	defer func() {
		if r := recover(); r != nil {
			if current < 0 {
				panic(r)
			}
			info := n.Layers[current]
			err = &LayerError{Index: info.Index, Type: info.Type, Err: fmt.Errorf("forward: %v", r)}
		}
	}()

	x := input
	for i, info := range n.Layers {
		if info.Marker {
			n.logger.Info("stopping shape verification at marker layer",
				zap.Int("index", info.Index), zap.String("layer", info.Type),
				zap.Int("skipped", len(n.Layers)-i))
			return nil
		}
		current = i
		x = info.Module.Forward(x)
		if !x.Shape().Equal(info.Out) {
			return &LayerError{
				Index: info.Index,
				Type:  info.Type,
				Err:   fmt.Errorf("%w: produced %v, predicted %v", ErrRank, x.Shape(), info.Out),
			}
		}
	}
	return nil
}

// HasMarkers reports whether any layer is a bookkeeping marker.
func (n *Network[B]) HasMarkers() bool {
	for _, info := range n.Layers {
		if info.Marker {
			return true
		}
	}
	return false
}

// FormatParams renders resolved parameters as a single-line YAML flow
// mapping, e.g. "{in_channels: 1, out_channels: 16, kernel_size: [3, 3]}".
func FormatParams(params any) string {
	if params == nil {
		return ""
	}
	var node yaml.Node
	if err := node.Encode(params); err != nil {
		return fmt.Sprintf("%+v", params)
	}
	setFlow(&node)
	out, err := yaml.Marshal(&node)
	if err != nil {
		return fmt.Sprintf("%+v", params)
	}
	return strings.Join(strings.Fields(string(out)), " ")
}

func setFlow(node *yaml.Node) {
	if node.Kind == yaml.MappingNode || node.Kind == yaml.SequenceNode {
		node.Style |= yaml.FlowStyle
	}
	for _, child := range node.Content {
		setFlow(child)
	}
}
