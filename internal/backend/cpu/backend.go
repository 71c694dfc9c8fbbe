// Package cpu implements the float32 CPU backend used to run built networks.
package cpu

import (
	"fmt"

	"github.com/born-ml/netbuild/internal/parallel"
	"github.com/born-ml/netbuild/internal/tensor"
)

// CPUBackend implements tensor operations on CPU.
//
// Convolution, pooling and matmul kernels split their outer loops across
// goroutines according to the parallel config.
type CPUBackend struct {
	parallel parallel.Config
}

// Compile-time check that CPUBackend implements tensor.Backend.
var _ tensor.Backend = (*CPUBackend)(nil)

// New creates a new CPU backend.
func New() *CPUBackend {
	return &CPUBackend{
		parallel: parallel.DefaultConfig(),
	}
}

// NewWithConfig creates a CPU backend with explicit parallelism settings.
func NewWithConfig(cfg parallel.Config) *CPUBackend {
	return &CPUBackend{parallel: cfg}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Add performs element-wise addition with NumPy-style broadcasting.
func (cpu *CPUBackend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	return binary("add", a, b, func(x, y float32) float32 { return x + y })
}

// Sub performs element-wise subtraction with broadcasting.
func (cpu *CPUBackend) Sub(a, b *tensor.RawTensor) *tensor.RawTensor {
	return binary("sub", a, b, func(x, y float32) float32 { return x - y })
}

// Mul performs element-wise multiplication with broadcasting.
func (cpu *CPUBackend) Mul(a, b *tensor.RawTensor) *tensor.RawTensor {
	return binary("mul", a, b, func(x, y float32) float32 { return x * y })
}

// Div performs element-wise division with broadcasting.
func (cpu *CPUBackend) Div(a, b *tensor.RawTensor) *tensor.RawTensor {
	return binary("div", a, b, func(x, y float32) float32 { return x / y })
}

// AddScalar adds scalar to every element.
func (cpu *CPUBackend) AddScalar(x *tensor.RawTensor, scalar float32) *tensor.RawTensor {
	return unary(x, func(v float32) float32 { return v + scalar })
}

// MulScalar multiplies every element by scalar.
func (cpu *CPUBackend) MulScalar(x *tensor.RawTensor, scalar float32) *tensor.RawTensor {
	return unary(x, func(v float32) float32 { return v * scalar })
}

func unary(x *tensor.RawTensor, f func(float32) float32) *tensor.RawTensor {
	result := tensor.MustRaw(x.Shape())
	out := result.Data()
	for i, v := range x.Data() {
		out[i] = f(v)
	}
	return result
}

func binary(op string, a, b *tensor.RawTensor, f func(x, y float32) float32) *tensor.RawTensor {
	outShape, needsBroadcast, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(fmt.Sprintf("%s: %v", op, err))
	}

	result := tensor.MustRaw(outShape)
	out, ad, bd := result.Data(), a.Data(), b.Data()

	// Fast path: identical shapes
	if !needsBroadcast {
		for i := range out {
			out[i] = f(ad[i], bd[i])
		}
		return result
	}

	outStrides := outShape.ComputeStrides()
	aStrides := broadcastStrides(a.Shape(), outShape)
	bStrides := broadcastStrides(b.Shape(), outShape)
	for i := range out {
		ai, bi, rem := 0, 0, i
		for d, s := range outStrides {
			coord := rem / s
			rem %= s
			ai += coord * aStrides[d]
			bi += coord * bStrides[d]
		}
		out[i] = f(ad[ai], bd[bi])
	}
	return result
}

// broadcastStrides computes strides for reading inShape as if it had outShape.
// Dimensions of size 1 and missing leading dimensions get stride 0.
func broadcastStrides(inShape, outShape tensor.Shape) []int {
	strides := make([]int, len(outShape))
	offset := len(outShape) - len(inShape)
	orig := inShape.ComputeStrides()
	for i := range outShape {
		inIdx := i - offset
		if inIdx < 0 || inShape[inIdx] == 1 {
			continue
		}
		strides[i] = orig[inIdx]
	}
	return strides
}
