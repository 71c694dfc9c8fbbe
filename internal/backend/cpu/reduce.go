package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/netbuild/internal/tensor"
)

// SumDim sums along dim. With keepDim the reduced dimension stays with size 1.
func (cpu *CPUBackend) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	return reduceDim("sumdim", x, dim, keepDim, 0,
		func(acc, v float32) float32 { return acc + v },
		nil)
}

// MeanDim averages along dim.
func (cpu *CPUBackend) MeanDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	return reduceDim("meandim", x, dim, keepDim, 0,
		func(acc, v float32) float32 { return acc + v },
		func(acc float32, n int) float32 { return acc / float32(n) })
}

// MaxDim takes the maximum along dim.
func (cpu *CPUBackend) MaxDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	return reduceDim("maxdim", x, dim, keepDim, float32(math.Inf(-1)),
		func(acc, v float32) float32 { return max(acc, v) },
		nil)
}

func reduceDim(
	op string,
	x *tensor.RawTensor,
	dim int,
	keepDim bool,
	init float32,
	combine func(acc, v float32) float32,
	finish func(acc float32, n int) float32,
) *tensor.RawTensor {
	shape := x.Shape()
	d, err := shape.Normalize(dim)
	if err != nil {
		panic(fmt.Sprintf("%s: %v", op, err))
	}

	outer, n, inner := splitAt(shape, d)
	result := tensor.MustRaw(reducedShape(shape, d, keepDim))
	in, out := x.Data(), result.Data()

	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			acc := init
			base := o*n*inner + i
			for k := 0; k < n; k++ {
				acc = combine(acc, in[base+k*inner])
			}
			if finish != nil {
				acc = finish(acc, n)
			}
			out[o*inner+i] = acc
		}
	}
	return result
}

func reducedShape(shape tensor.Shape, d int, keepDim bool) tensor.Shape {
	if keepDim {
		out := shape.Clone()
		out[d] = 1
		return out
	}
	out := make(tensor.Shape, 0, len(shape)-1)
	out = append(out, shape[:d]...)
	return append(out, shape[d+1:]...)
}
