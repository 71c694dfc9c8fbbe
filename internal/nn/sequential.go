package nn

import (
	"strconv"

	"github.com/born-ml/netbuild/internal/tensor"
)

// Sequential is a container that chains modules sequentially.
//
// The output of each module becomes the input to the next module.
//
// Example:
//
//	model := nn.NewSequential(
//	    nn.NewLinear(784, 128, backend),
//	    nn.NewReLU(backend),
//	    nn.NewLinear(128, 10, backend),
//	)
//	output := model.Forward(input)
type Sequential[B tensor.Backend] struct {
	modules []Module[B]
}

// NewSequential creates a new Sequential container.
func NewSequential[B tensor.Backend](modules ...Module[B]) *Sequential[B] {
	return &Sequential[B]{modules: modules}
}

// Forward passes the input through all modules in order.
func (s *Sequential[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	output := input
	for _, module := range s.modules {
		output = module.Forward(output)
	}
	return output
}

// Parameters returns the parameters of all modules, named "index.name".
func (s *Sequential[B]) Parameters() []*Parameter[B] {
	var params []*Parameter[B]
	for i, module := range s.modules {
		params = append(params, namespaced(strconv.Itoa(i), module)...)
	}
	return params
}

// SetTraining propagates the mode to every module.
func (s *Sequential[B]) SetTraining(training bool) {
	for _, module := range s.modules {
		SetTraining(module, training)
	}
}

// Add appends a module to the sequence.
func (s *Sequential[B]) Add(module Module[B]) {
	s.modules = append(s.modules, module)
}

// Len returns the number of modules.
func (s *Sequential[B]) Len() int {
	return len(s.modules)
}

// Module returns the module at the given index.
func (s *Sequential[B]) Module(index int) Module[B] {
	return s.modules[index]
}
