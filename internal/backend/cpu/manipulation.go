package cpu

import (
	"fmt"

	"github.com/born-ml/netbuild/internal/tensor"
)

// Reshape returns a tensor with the same data and a new shape.
// At most one dimension may be -1; it is inferred from the element count.
func (cpu *CPUBackend) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	shape := newShape.Clone()
	infer := -1
	known := 1
	for i, d := range shape {
		if d == -1 {
			if infer >= 0 {
				panic(fmt.Sprintf("reshape: more than one -1 in %v", newShape))
			}
			infer = i
			continue
		}
		known *= d
	}
	if infer >= 0 {
		if known == 0 || t.NumElements()%known != 0 {
			panic(fmt.Sprintf("reshape: cannot infer dimension of %v for %d elements", newShape, t.NumElements()))
		}
		shape[infer] = t.NumElements() / known
	}

	// Copy so the result never aliases the input buffer
	out, err := t.Clone().WithShape(shape)
	if err != nil {
		panic(fmt.Sprintf("reshape: %v", err))
	}
	return out
}

// Transpose permutes dimensions. With no axes the last two dimensions are swapped.
//
// Example: input [N, C, H, W] with axes (0, 2, 3, 1) gives [N, H, W, C].
func (cpu *CPUBackend) Transpose(t *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	shape := t.Shape()
	rank := len(shape)

	if len(axes) == 0 {
		if rank < 2 {
			panic(fmt.Sprintf("transpose: need at least 2 dimensions, got %v", shape))
		}
		axes = make([]int, rank)
		for i := range axes {
			axes[i] = i
		}
		axes[rank-1], axes[rank-2] = axes[rank-2], axes[rank-1]
	}

	if err := validatePermutation(axes, rank); err != nil {
		panic(fmt.Sprintf("transpose: %v", err))
	}

	outShape := make(tensor.Shape, rank)
	for i, a := range axes {
		outShape[i] = shape[a]
	}

	result := tensor.MustRaw(outShape)
	in, out := t.Data(), result.Data()
	inStrides := t.Strides()
	outStrides := outShape.ComputeStrides()

	for i := range out {
		src, rem := 0, i
		for d, s := range outStrides {
			coord := rem / s
			rem %= s
			src += coord * inStrides[axes[d]]
		}
		out[i] = in[src]
	}
	return result
}

// Narrow returns length entries of dim starting at start, copied into a new tensor.
func (cpu *CPUBackend) Narrow(t *tensor.RawTensor, dim, start, length int) *tensor.RawTensor {
	shape := t.Shape()
	d, err := shape.Normalize(dim)
	if err != nil {
		panic(fmt.Sprintf("narrow: %v", err))
	}
	if start < 0 || length <= 0 || start+length > shape[d] {
		panic(fmt.Sprintf("narrow: range [%d, %d) out of bounds for dimension %d of size %d",
			start, start+length, d, shape[d]))
	}

	outer, n, inner := splitAt(shape, d)
	outShape := shape.Clone()
	outShape[d] = length

	result := tensor.MustRaw(outShape)
	in, out := t.Data(), result.Data()
	for o := 0; o < outer; o++ {
		src := (o*n + start) * inner
		copy(out[o*length*inner:(o+1)*length*inner], in[src:src+length*inner])
	}
	return result
}

// validatePermutation checks that axes is a permutation of [0, rank).
func validatePermutation(axes []int, rank int) error {
	if len(axes) != rank {
		return fmt.Errorf("expected %d axes, got %d", rank, len(axes))
	}
	seen := make([]bool, rank)
	for _, a := range axes {
		if a < 0 || a >= rank {
			return fmt.Errorf("axis %d out of range for rank %d", a, rank)
		}
		if seen[a] {
			return fmt.Errorf("axis %d repeated in %v", a, axes)
		}
		seen[a] = true
	}
	return nil
}
