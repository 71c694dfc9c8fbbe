package factory

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LayerSpec is one entry of a layer list: a type tag plus its raw
// parameters. In YAML it is written either as
//
//	- type: Conv2d
//	  params: {out_channels: 16, kernel_size: 3}
//
// or as a single-key mapping
//
//	- Conv2d: {out_channels: 16, kernel_size: 3}
//
// Params may be a mapping or a scalar (Activation takes its name as a scalar).
type LayerSpec struct {
	Type   string
	Params yaml.Node
}

// NewLayerSpec builds a LayerSpec from a Go value (map, struct or scalar).
func NewLayerSpec(typ string, params any) (LayerSpec, error) {
	spec := LayerSpec{Type: typ}
	if params == nil {
		return spec, nil
	}
	if err := spec.Params.Encode(params); err != nil {
		return LayerSpec{}, fmt.Errorf("encode params for %s: %w", typ, err)
	}
	return spec, nil
}

// MustLayerSpec is like NewLayerSpec but panics on error.
func MustLayerSpec(typ string, params any) LayerSpec {
	spec, err := NewLayerSpec(typ, params)
	if err != nil {
		panic(err)
	}
	return spec
}

// UnmarshalYAML accepts both layer entry forms.
func (s *LayerSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: layer entry must be a mapping", value.Line)
	}

	var typeNode, paramsNode *yaml.Node
	for i := 0; i+1 < len(value.Content); i += 2 {
		switch value.Content[i].Value {
		case "type":
			typeNode = value.Content[i+1]
		case "params":
			paramsNode = value.Content[i+1]
		}
	}

	switch {
	case typeNode != nil:
		if extra := len(value.Content)/2 - 1; (paramsNode == nil && extra != 0) || (paramsNode != nil && extra != 1) {
			return fmt.Errorf("line %d: layer entry with 'type' may only have 'params'", value.Line)
		}
		s.Type = typeNode.Value
		if paramsNode != nil {
			s.Params = *paramsNode
		}
	case len(value.Content) == 2:
		s.Type = value.Content[0].Value
		s.Params = *value.Content[1]
	default:
		return fmt.Errorf("line %d: layer entry must be {type, params} or a single-key mapping", value.Line)
	}

	if s.Type == "" {
		return fmt.Errorf("line %d: empty layer type", value.Line)
	}
	return nil
}

// MarshalYAML writes the single-key form.
func (s LayerSpec) MarshalYAML() (any, error) {
	if s.empty() {
		return map[string]any{s.Type: nil}, nil
	}
	params := s.Params
	return map[string]*yaml.Node{s.Type: &params}, nil
}

func (s LayerSpec) empty() bool {
	return s.Params.Kind == 0 || (s.Params.Kind == yaml.ScalarNode && s.Params.Tag == "!!null")
}

// Decode decodes the parameters into out. Empty parameters leave out
// untouched. Keys that out does not declare are returned as unknown.
func (s LayerSpec) Decode(out any) (unknown []string, err error) {
	if s.empty() {
		return nil, nil
	}
	if err := s.Params.Decode(out); err != nil {
		return nil, paramErrorf("%v", err)
	}
	if s.Params.Kind == yaml.MappingNode {
		unknown = unknownKeys(&s.Params, out)
	}
	return unknown, nil
}

// unknownKeys lists mapping keys with no matching yaml tag on out's struct.
func unknownKeys(node *yaml.Node, out any) []string {
	t := reflect.TypeOf(out)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	known := map[string]bool{}
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("yaml"), ",")
		if name != "" && name != "-" {
			known[name] = true
		}
	}
	var unknown []string
	for i := 0; i+1 < len(node.Content); i += 2 {
		if key := node.Content[i].Value; !known[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	return unknown
}

// Pair is an (height, width) integer pair. In YAML it is a scalar, applied
// to both axes, or a one- or two-element sequence.
type Pair [2]int

// UnmarshalYAML accepts 3, [3] and [3, 5].
func (p *Pair) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var v int
		if err := value.Decode(&v); err != nil {
			return err
		}
		*p = Pair{v, v}
		return nil
	case yaml.SequenceNode:
		var vs []int
		if err := value.Decode(&vs); err != nil {
			return err
		}
		switch len(vs) {
		case 1:
			*p = Pair{vs[0], vs[0]}
		case 2:
			*p = Pair{vs[0], vs[1]}
		default:
			return fmt.Errorf("line %d: expected 1 or 2 values, got %d", value.Line, len(vs))
		}
		return nil
	default:
		return fmt.Errorf("line %d: expected an integer or a list of integers", value.Line)
	}
}

// MarshalYAML writes the pair as a two-element list.
func (p Pair) MarshalYAML() (any, error) {
	return []int{p[0], p[1]}, nil
}

func (p Pair) isZero() bool { return p == Pair{} }

// Padding modes.
const (
	PadValid    = "valid"
	PadSame     = "same"
	PadExplicit = "explicit"
)

// Padding is "valid", "same", a scalar or a pair of zero padding amounts.
// 2D layers read the pair as symmetric (height, width) padding; Conv1d
// reads it as (start, end) padding of the time axis.
type Padding struct {
	Mode   string
	Amount Pair
}

// UnmarshalYAML accepts valid, same, 2 and [1, 2].
func (p *Padding) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		switch strings.ToLower(value.Value) {
		case PadValid:
			*p = Padding{Mode: PadValid}
			return nil
		case PadSame:
			*p = Padding{Mode: PadSame}
			return nil
		}
	}
	var amount Pair
	if err := amount.UnmarshalYAML(value); err != nil {
		return fmt.Errorf("padding: %w", err)
	}
	*p = Padding{Mode: PadExplicit, Amount: amount}
	return nil
}

// MarshalYAML writes the mode, or the amount for explicit padding.
func (p Padding) MarshalYAML() (any, error) {
	if p.Mode == PadExplicit {
		return p.Amount.MarshalYAML()
	}
	if p.Mode == "" {
		return PadValid, nil
	}
	return p.Mode, nil
}

// IsSame reports whether p asks for size-preserving padding.
func (p Padding) IsSame() bool { return p.Mode == PadSame }

// IntList is a list of integers that may also be written as a scalar.
type IntList []int

// UnmarshalYAML accepts 4 and [4, 8].
func (l *IntList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var v int
		if err := value.Decode(&v); err != nil {
			return err
		}
		*l = IntList{v}
		return nil
	case yaml.SequenceNode:
		var vs []int
		if err := value.Decode(&vs); err != nil {
			return err
		}
		*l = vs
		return nil
	default:
		return fmt.Errorf("line %d: expected an integer or a list of integers", value.Line)
	}
}

// auto reports whether the list asks for inference (omitted, -1 or 0).
func (l IntList) auto() bool {
	return len(l) == 0 || (len(l) == 1 && l[0] <= 0)
}
