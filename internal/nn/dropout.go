package nn

import (
	"fmt"

	"github.com/born-ml/netbuild/internal/tensor"
)

// Dropout zeroes elements with probability p during training and scales the
// survivors by 1/(1-p). In evaluation mode it is the identity.
type Dropout[B tensor.Backend] struct {
	p        float32
	training bool
}

// NewDropout creates a dropout layer. p must lie in [0, 1].
func NewDropout[B tensor.Backend](p float32) *Dropout[B] {
	if p < 0 || p > 1 {
		panic(fmt.Sprintf("dropout: probability must be in [0, 1], got %g", p))
	}
	return &Dropout[B]{p: p, training: true}
}

// Forward applies dropout.
func (d *Dropout[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	if !d.training || d.p == 0 {
		return input
	}
	out := input.Clone()
	data := out.Data()
	if d.p == 1 {
		clear(data)
		return out
	}
	scale := 1 / (1 - d.p)
	for i := range data {
		if randFloat() < float64(d.p) {
			data[i] = 0
		} else {
			data[i] *= scale
		}
	}
	return out
}

// SetTraining enables or disables dropout.
func (d *Dropout[B]) SetTraining(training bool) { d.training = training }

// P returns the drop probability.
func (d *Dropout[B]) P() float32 { return d.p }

// Parameters returns nil.
func (d *Dropout[B]) Parameters() []*Parameter[B] { return nil }

// StochasticDepth drops whole samples of a residual branch with probability
// p during training, scaling kept samples by 1/(1-p).
type StochasticDepth[B tensor.Backend] struct {
	p        float32
	training bool
}

// NewStochasticDepth creates a stochastic depth (drop path) layer.
func NewStochasticDepth[B tensor.Backend](p float32) *StochasticDepth[B] {
	if p < 0 || p >= 1 {
		panic(fmt.Sprintf("stochastic depth: probability must be in [0, 1), got %g", p))
	}
	return &StochasticDepth[B]{p: p, training: true}
}

// Forward applies the per-sample mask.
func (s *StochasticDepth[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	if !s.training || s.p == 0 {
		return input
	}
	shape := input.Shape()
	if len(shape) == 0 || shape[0] == 0 {
		return input
	}
	keep := 1 - s.p
	out := input.Clone()
	data := out.Data()
	per := len(data) / shape[0]
	for b := 0; b < shape[0]; b++ {
		scale := 1 / keep
		if randFloat() >= float64(keep) {
			scale = 0
		}
		sample := data[b*per : (b+1)*per]
		for i := range sample {
			sample[i] *= scale
		}
	}
	return out
}

// SetTraining enables or disables dropping.
func (s *StochasticDepth[B]) SetTraining(training bool) { s.training = training }

// Parameters returns nil.
func (s *StochasticDepth[B]) Parameters() []*Parameter[B] { return nil }
