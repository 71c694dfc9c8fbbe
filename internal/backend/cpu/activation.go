package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/netbuild/internal/tensor"
)

// Exp computes e^x element-wise.
func (cpu *CPUBackend) Exp(x *tensor.RawTensor) *tensor.RawTensor {
	return unary(x, func(v float32) float32 { return float32(math.Exp(float64(v))) })
}

// Abs computes |x| element-wise.
func (cpu *CPUBackend) Abs(x *tensor.RawTensor) *tensor.RawTensor {
	return unary(x, func(v float32) float32 { return float32(math.Abs(float64(v))) })
}

// Sqrt computes the square root element-wise.
func (cpu *CPUBackend) Sqrt(x *tensor.RawTensor) *tensor.RawTensor {
	return unary(x, func(v float32) float32 { return float32(math.Sqrt(float64(v))) })
}

// Sin computes the sine element-wise.
func (cpu *CPUBackend) Sin(x *tensor.RawTensor) *tensor.RawTensor {
	return unary(x, func(v float32) float32 { return float32(math.Sin(float64(v))) })
}

// ReLU computes max(0, x).
func (cpu *CPUBackend) ReLU(x *tensor.RawTensor) *tensor.RawTensor {
	return unary(x, func(v float32) float32 {
		if v > 0 {
			return v
		}
		return 0
	})
}

// LeakyReLU computes x for x > 0 and slope*x otherwise.
func (cpu *CPUBackend) LeakyReLU(x *tensor.RawTensor, slope float32) *tensor.RawTensor {
	return unary(x, func(v float32) float32 {
		if v > 0 {
			return v
		}
		return slope * v
	})
}

// Sigmoid computes 1 / (1 + exp(-x)).
func (cpu *CPUBackend) Sigmoid(x *tensor.RawTensor) *tensor.RawTensor {
	return unary(x, func(v float32) float32 {
		return float32(1.0 / (1.0 + math.Exp(-float64(v))))
	})
}

// Tanh computes the hyperbolic tangent.
func (cpu *CPUBackend) Tanh(x *tensor.RawTensor) *tensor.RawTensor {
	return unary(x, func(v float32) float32 { return float32(math.Tanh(float64(v))) })
}

// GELU computes the exact (erf based) Gaussian error linear unit:
// 0.5 * x * (1 + erf(x / sqrt(2))).
func (cpu *CPUBackend) GELU(x *tensor.RawTensor) *tensor.RawTensor {
	return unary(x, func(v float32) float32 {
		f := float64(v)
		return float32(0.5 * f * (1 + math.Erf(f/math.Sqrt2)))
	})
}

// Softmax applies a numerically stable softmax along dim.
func (cpu *CPUBackend) Softmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	shape := x.Shape()
	d, err := shape.Normalize(dim)
	if err != nil {
		panic(fmt.Sprintf("softmax: %v", err))
	}

	outer, n, inner := splitAt(shape, d)
	result := tensor.MustRaw(shape)
	in, out := x.Data(), result.Data()

	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			base := o*n*inner + i
			maxVal := float32(math.Inf(-1))
			for k := 0; k < n; k++ {
				maxVal = max(maxVal, in[base+k*inner])
			}
			var sum float64
			for k := 0; k < n; k++ {
				e := math.Exp(float64(in[base+k*inner] - maxVal))
				out[base+k*inner] = float32(e)
				sum += e
			}
			for k := 0; k < n; k++ {
				out[base+k*inner] = float32(float64(out[base+k*inner]) / sum)
			}
		}
	}
	return result
}

// splitAt views shape as [outer, shape[d], inner].
func splitAt(shape tensor.Shape, d int) (outer, n, inner int) {
	outer, inner = 1, 1
	for i := 0; i < d; i++ {
		outer *= shape[i]
	}
	for i := d + 1; i < len(shape); i++ {
		inner *= shape[i]
	}
	return outer, shape[d], inner
}
