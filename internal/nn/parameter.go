package nn

import (
	"github.com/born-ml/netbuild/internal/tensor"
)

// Parameter represents a trainable parameter in a neural network.
//
// Parameters are tensors that an external optimizer would update.
// They typically represent weights and biases of layers.
//
// Example:
//
//	weight := nn.NewParameter("weight", weightTensor)
//	w := weight.Tensor()
type Parameter[B tensor.Backend] struct {
	name   string            // Parameter name (e.g., "weight", "conv1.bias")
	tensor *tensor.Tensor[B] // The parameter tensor
}

// NewParameter creates a new trainable parameter.
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[B]) *Parameter[B] {
	return &Parameter[B]{
		name:   name,
		tensor: t,
	}
}

// Name returns the parameter name.
func (p *Parameter[B]) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter[B]) Tensor() *tensor.Tensor[B] {
	return p.tensor
}

// namespaced returns the parameters of m renamed to "prefix.name".
// The returned parameters share their tensors with m.
func namespaced[B tensor.Backend](prefix string, m Module[B]) []*Parameter[B] {
	params := m.Parameters()
	out := make([]*Parameter[B], len(params))
	for i, p := range params {
		out[i] = NewParameter(prefix+"."+p.name, p.tensor)
	}
	return out
}
