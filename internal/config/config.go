// Package config loads YAML model descriptions for the layer builder.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/born-ml/netbuild/internal/factory"
	"github.com/born-ml/netbuild/internal/tensor"
	"gopkg.in/yaml.v3"
)

// ErrInvalid marks a model description that parsed but cannot be built.
var ErrInvalid = errors.New("invalid model config")

// Model is a parsed model description.
type Model struct {
	Name       string              `yaml:"name"`
	Seed       *int64              `yaml:"seed,omitempty"`
	InputShape []int               `yaml:"input_shape"`
	Layers     []factory.LayerSpec `yaml:"layers"`

	// Path is the file the model was loaded from, empty for Parse.
	Path string `yaml:"-"`
}

// Load reads and validates a model description from a YAML file.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.Path = path
	return m, nil
}

// Parse decodes and validates a model description.
func Parse(data []byte) (*Model, error) {
	var m Model
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate reports a missing input shape, an empty layer list and
// non-positive input dimensions.
func (m *Model) Validate() error {
	if len(m.InputShape) == 0 {
		return fmt.Errorf("%w: input_shape is required", ErrInvalid)
	}
	for i, d := range m.InputShape {
		if d <= 0 {
			return fmt.Errorf("%w: input_shape[%d] is %d, must be > 0", ErrInvalid, i, d)
		}
	}
	if len(m.Layers) == 0 {
		return fmt.Errorf("%w: layers must not be empty", ErrInvalid)
	}
	for i, l := range m.Layers {
		if l.Type == "" {
			return fmt.Errorf("%w: layer %d has no type", ErrInvalid, i)
		}
	}
	return nil
}

// Shape returns the input shape as a tensor shape.
func (m *Model) Shape() tensor.Shape {
	return tensor.Shape(append([]int(nil), m.InputShape...))
}

// Save writes the model back as YAML. Layers use the single-key form.
func (m *Model) Save(path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
