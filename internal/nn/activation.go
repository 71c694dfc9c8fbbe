package nn

import (
	"fmt"

	"github.com/born-ml/netbuild/internal/tensor"
)

// ReLU applies max(0, x) element-wise.
type ReLU[B tensor.Backend] struct {
	backend B
}

// NewReLU creates a ReLU activation.
func NewReLU[B tensor.Backend](backend B) *ReLU[B] {
	return &ReLU[B]{backend: backend}
}

// Forward applies ReLU.
func (r *ReLU[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	return wrap(r.backend.ReLU(input.Raw()), r.backend)
}

// Parameters returns nil.
func (r *ReLU[B]) Parameters() []*Parameter[B] { return nil }

// LeakyReLU applies x for x > 0 and slope*x otherwise.
type LeakyReLU[B tensor.Backend] struct {
	slope   float32
	backend B
}

// NewLeakyReLU creates a LeakyReLU with the given negative slope.
func NewLeakyReLU[B tensor.Backend](slope float32, backend B) *LeakyReLU[B] {
	return &LeakyReLU[B]{slope: slope, backend: backend}
}

// Forward applies LeakyReLU.
func (r *LeakyReLU[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	return wrap(r.backend.LeakyReLU(input.Raw(), r.slope), r.backend)
}

// Parameters returns nil.
func (r *LeakyReLU[B]) Parameters() []*Parameter[B] { return nil }

// PReLU is LeakyReLU with a single learnable slope, initialised to 0.25.
//
//	PReLU(x) = max(0, x) + a * min(0, x)
type PReLU[B tensor.Backend] struct {
	weight  *Parameter[B] // [1]
	backend B
}

// NewPReLU creates a PReLU activation.
func NewPReLU[B tensor.Backend](backend B) *PReLU[B] {
	return &PReLU[B]{
		weight:  NewParameter("weight", tensor.Full(tensor.Shape{1}, 0.25, backend)),
		backend: backend,
	}
}

// Forward applies PReLU.
func (p *PReLU[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	pos := wrap(p.backend.ReLU(input.Raw()), p.backend)
	neg := input.Sub(pos)
	return pos.Add(neg.Mul(p.weight.Tensor()))
}

// Parameters returns [weight].
func (p *PReLU[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{p.weight}
}

// Sigmoid applies 1 / (1 + exp(-x)).
type Sigmoid[B tensor.Backend] struct {
	backend B
}

// NewSigmoid creates a Sigmoid activation.
func NewSigmoid[B tensor.Backend](backend B) *Sigmoid[B] {
	return &Sigmoid[B]{backend: backend}
}

// Forward applies Sigmoid.
func (s *Sigmoid[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	return wrap(s.backend.Sigmoid(input.Raw()), s.backend)
}

// Parameters returns nil.
func (s *Sigmoid[B]) Parameters() []*Parameter[B] { return nil }

// Tanh applies the hyperbolic tangent.
type Tanh[B tensor.Backend] struct {
	backend B
}

// NewTanh creates a Tanh activation.
func NewTanh[B tensor.Backend](backend B) *Tanh[B] {
	return &Tanh[B]{backend: backend}
}

// Forward applies Tanh.
func (t *Tanh[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	return wrap(t.backend.Tanh(input.Raw()), t.backend)
}

// Parameters returns nil.
func (t *Tanh[B]) Parameters() []*Parameter[B] { return nil }

// GELU applies the exact Gaussian Error Linear Unit, x * Φ(x).
type GELU[B tensor.Backend] struct {
	backend B
}

// NewGELU creates a GELU activation.
func NewGELU[B tensor.Backend](backend B) *GELU[B] {
	return &GELU[B]{backend: backend}
}

// Forward applies GELU.
func (g *GELU[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	return wrap(g.backend.GELU(input.Raw()), g.backend)
}

// Parameters returns nil.
func (g *GELU[B]) Parameters() []*Parameter[B] { return nil }

// Softmax normalizes along one dimension.
//
// Built with NewImplicitSoftmax the dimension is picked from the input rank:
// dim 0 for rank 0, 1 and 3 inputs, dim 1 otherwise.
type Softmax[B tensor.Backend] struct {
	dim      int
	implicit bool
	backend  B
}

// NewSoftmax creates a softmax along dim.
func NewSoftmax[B tensor.Backend](dim int, backend B) *Softmax[B] {
	return &Softmax[B]{dim: dim, backend: backend}
}

// NewImplicitSoftmax creates a softmax that chooses its dimension from the
// input rank.
func NewImplicitSoftmax[B tensor.Backend](backend B) *Softmax[B] {
	return &Softmax[B]{implicit: true, backend: backend}
}

// Forward applies softmax.
func (s *Softmax[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	dim := s.dim
	if s.implicit {
		dim = ImplicitSoftmaxDim(len(input.Shape()))
	}
	return input.Softmax(dim)
}

// Parameters returns nil.
func (s *Softmax[B]) Parameters() []*Parameter[B] { return nil }

// ImplicitSoftmaxDim returns the dimension a softmax without explicit dim
// normalizes over for an input of the given rank.
func ImplicitSoftmaxDim(rank int) int {
	switch rank {
	case 0, 1, 3:
		return 0
	default:
		return 1
	}
}

// Activation names accepted by NewActivation.
const (
	ActSigmoid   = "Sigmoid"
	ActSoftmax   = "Softmax"
	ActReLU      = "ReLU"
	ActLeakyReLU = "LeakyReLU"
	ActPReLU     = "PReLU"
	ActTanh      = "Tanh"
	ActGELU      = "GELU"
)

// NewActivation creates an activation module from its name.
//
// LeakyReLU uses a negative slope of 0.01 and Softmax uses the implicit
// dimension rule.
func NewActivation[B tensor.Backend](name string, backend B) (Module[B], error) {
	switch name {
	case ActSigmoid:
		return NewSigmoid(backend), nil
	case ActSoftmax:
		return NewImplicitSoftmax(backend), nil
	case ActReLU:
		return NewReLU(backend), nil
	case ActLeakyReLU:
		return NewLeakyReLU(0.01, backend), nil
	case ActPReLU:
		return NewPReLU(backend), nil
	case ActTanh:
		return NewTanh(backend), nil
	case ActGELU:
		return NewGELU(backend), nil
	default:
		return nil, fmt.Errorf("unknown activation %q", name)
	}
}
