package nn

import (
	"fmt"

	"github.com/born-ml/netbuild/internal/tensor"
)

// Flatten merges dimensions startDim..endDim (inclusive) into one.
//
// Example: Flatten(1, -1) maps [8, 16, 4, 10] to [8, 640].
type Flatten[B tensor.Backend] struct {
	startDim int
	endDim   int
}

// NewFlatten creates a flatten layer. Negative dims count from the end.
func NewFlatten[B tensor.Backend](startDim, endDim int) *Flatten[B] {
	return &Flatten[B]{startDim: startDim, endDim: endDim}
}

// Forward flattens the input.
func (f *Flatten[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	out, err := FlattenShape(input.Shape(), f.startDim, f.endDim)
	if err != nil {
		panic(fmt.Sprintf("flatten: %v", err))
	}
	return input.Reshape(out...)
}

// Parameters returns nil.
func (f *Flatten[B]) Parameters() []*Parameter[B] { return nil }

// FlattenShape returns the shape produced by flattening start..end.
func FlattenShape(shape tensor.Shape, start, end int) (tensor.Shape, error) {
	s, err := shape.Normalize(start)
	if err != nil {
		return nil, err
	}
	e, err := shape.Normalize(end)
	if err != nil {
		return nil, err
	}
	if s > e {
		return nil, fmt.Errorf("start_dim %d after end_dim %d for shape %v", start, end, shape)
	}
	out := make(tensor.Shape, 0, len(shape)-(e-s))
	out = append(out, shape[:s]...)
	out = append(out, shape[s:e+1].NumElements())
	return append(out, shape[e+1:]...), nil
}

// Squeeze removes dimension dim when its size is 1 and is a no-op otherwise.
type Squeeze[B tensor.Backend] struct {
	dim int
}

// NewSqueeze creates a squeeze layer.
func NewSqueeze[B tensor.Backend](dim int) *Squeeze[B] {
	return &Squeeze[B]{dim: dim}
}

// Forward squeezes the input.
func (s *Squeeze[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	out, err := SqueezeShape(input.Shape(), s.dim)
	if err != nil {
		panic(fmt.Sprintf("squeeze: %v", err))
	}
	return input.Reshape(out...)
}

// Parameters returns nil.
func (s *Squeeze[B]) Parameters() []*Parameter[B] { return nil }

// SqueezeShape returns shape without dim if that dim has size 1.
func SqueezeShape(shape tensor.Shape, dim int) (tensor.Shape, error) {
	d, err := shape.Normalize(dim)
	if err != nil {
		return nil, err
	}
	if shape[d] != 1 {
		return shape.Clone(), nil
	}
	out := make(tensor.Shape, 0, len(shape)-1)
	out = append(out, shape[:d]...)
	return append(out, shape[d+1:]...), nil
}

// Permute reorders dimensions.
type Permute[B tensor.Backend] struct {
	dims []int
}

// NewPermute creates a permute layer.
func NewPermute[B tensor.Backend](dims ...int) *Permute[B] {
	return &Permute[B]{dims: append([]int(nil), dims...)}
}

// Forward permutes the input. Negative dims count from the end.
func (p *Permute[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	shape := input.Shape()
	if len(p.dims) != len(shape) {
		panic(fmt.Sprintf("permute: %d dims for input %v", len(p.dims), shape))
	}
	axes := make([]int, len(p.dims))
	for i, d := range p.dims {
		n, err := shape.Normalize(d)
		if err != nil {
			panic(fmt.Sprintf("permute: %v", err))
		}
		axes[i] = n
	}
	return input.Transpose(axes...)
}

// Parameters returns nil.
func (p *Permute[B]) Parameters() []*Parameter[B] { return nil }

// PermuteShape returns shape reordered by dims.
func PermuteShape(shape tensor.Shape, dims []int) (tensor.Shape, error) {
	if len(dims) != len(shape) {
		return nil, fmt.Errorf("permutation %v has %d dims, shape %v has %d", dims, len(dims), shape, len(shape))
	}
	seen := make([]bool, len(shape))
	out := make(tensor.Shape, len(shape))
	for i, d := range dims {
		n, err := shape.Normalize(d)
		if err != nil {
			return nil, err
		}
		if seen[n] {
			return nil, fmt.Errorf("dimension %d repeated in permutation %v", d, dims)
		}
		seen[n] = true
		out[i] = shape[n]
	}
	return out, nil
}

// Reduction wraps Mean or Max over one dimension.
type Reduction[B tensor.Backend] struct {
	op      string
	dim     int
	keepDim bool
}

// NewMean creates a layer averaging over dim.
func NewMean[B tensor.Backend](dim int, keepDim bool) *Reduction[B] {
	return &Reduction[B]{op: "mean", dim: dim, keepDim: keepDim}
}

// NewMax creates a layer taking the maximum over dim.
func NewMax[B tensor.Backend](dim int, keepDim bool) *Reduction[B] {
	return &Reduction[B]{op: "max", dim: dim, keepDim: keepDim}
}

// Forward reduces the input.
func (r *Reduction[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	if r.op == "max" {
		return input.MaxDim(r.dim, r.keepDim)
	}
	return input.MeanDim(r.dim, r.keepDim)
}

// Parameters returns nil.
func (r *Reduction[B]) Parameters() []*Parameter[B] { return nil }

// ReduceShape returns the shape after reducing dim.
func ReduceShape(shape tensor.Shape, dim int, keepDim bool) (tensor.Shape, error) {
	d, err := shape.Normalize(dim)
	if err != nil {
		return nil, err
	}
	if keepDim {
		out := shape.Clone()
		out[d] = 1
		return out, nil
	}
	out := make(tensor.Shape, 0, len(shape)-1)
	out = append(out, shape[:d]...)
	return append(out, shape[d+1:]...), nil
}

// Abs takes the absolute value element-wise.
type Abs[B tensor.Backend] struct{}

// NewAbs creates an Abs layer.
func NewAbs[B tensor.Backend]() *Abs[B] { return &Abs[B]{} }

// Forward returns |input|.
func (a *Abs[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] { return input.Abs() }

// Parameters returns nil.
func (a *Abs[B]) Parameters() []*Parameter[B] { return nil }

// Identity returns its input unchanged.
type Identity[B tensor.Backend] struct{}

// NewIdentity creates an Identity layer.
func NewIdentity[B tensor.Backend]() *Identity[B] { return &Identity[B]{} }

// Forward returns input.
func (i *Identity[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] { return input }

// Parameters returns nil.
func (i *Identity[B]) Parameters() []*Parameter[B] { return nil }

// Chomp1D trims size elements from the end of the time axis of [N, C, T].
// It turns a symmetrically padded convolution into a causal one.
type Chomp1D[B tensor.Backend] struct {
	size int
}

// NewChomp1D creates a Chomp1D layer.
func NewChomp1D[B tensor.Backend](size int) *Chomp1D[B] {
	return &Chomp1D[B]{size: size}
}

// Forward trims the input.
func (c *Chomp1D[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	shape := input.Shape()
	if len(shape) != 3 || c.size >= shape[2] {
		panic(fmt.Sprintf("chomp1d: cannot trim %d steps from %v", c.size, shape))
	}
	if c.size == 0 {
		return input
	}
	return input.Narrow(2, 0, shape[2]-c.size)
}

// Parameters returns nil.
func (c *Chomp1D[B]) Parameters() []*Parameter[B] { return nil }
