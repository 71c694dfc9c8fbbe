package cpu

import (
	"fmt"

	"github.com/born-ml/netbuild/internal/parallel"
	"github.com/born-ml/netbuild/internal/tensor"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// gemmRowBlock is the number of output rows handed to one worker.
const gemmRowBlock = 64

// MatMul performs 2D matrix multiplication: [M, K] @ [K, N] -> [M, N].
func (cpu *CPUBackend) MatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	aShape, bShape := a.Shape(), b.Shape()
	if len(aShape) != 2 || len(bShape) != 2 {
		panic(fmt.Sprintf("matmul: expected 2D tensors, got %v and %v", aShape, bShape))
	}
	M, K, N := aShape[0], aShape[1], bShape[1]
	if bShape[0] != K {
		panic(fmt.Sprintf("matmul: inner dimensions differ: %v @ %v", aShape, bShape))
	}

	result := tensor.MustRaw(tensor.Shape{M, N})
	cpu.gemm(blas.NoTrans, general(a.Data(), M, K), general(b.Data(), K, N), general(result.Data(), M, N))
	return result
}

// MatMulT multiplies a by the transpose of b: [M, K] @ [N, K]ᵀ -> [M, N].
// Linear layers keep weights as [out, in], so this avoids materializing
// the transpose on every forward pass.
func (cpu *CPUBackend) MatMulT(a, b *tensor.RawTensor) *tensor.RawTensor {
	aShape, bShape := a.Shape(), b.Shape()
	if len(aShape) != 2 || len(bShape) != 2 {
		panic(fmt.Sprintf("matmul_t: expected 2D tensors, got %v and %v", aShape, bShape))
	}
	M, K, N := aShape[0], aShape[1], bShape[0]
	if bShape[1] != K {
		panic(fmt.Sprintf("matmul_t: inner dimensions differ: %v @ %vᵀ", aShape, bShape))
	}

	result := tensor.MustRaw(tensor.Shape{M, N})
	cpu.gemm(blas.Trans, general(a.Data(), M, K), general(b.Data(), N, K), general(result.Data(), M, N))
	return result
}

// gemm computes c = a @ op(b), splitting the rows of a and c into blocks
// that run on separate workers.
func (cpu *CPUBackend) gemm(tB blas.Transpose, a, b, c blas32.General) {
	if a.Rows == 0 || a.Cols == 0 || c.Cols == 0 {
		return
	}
	blocks := (a.Rows + gemmRowBlock - 1) / gemmRowBlock
	parallel.For(blocks, func(i int) {
		lo := i * gemmRowBlock
		hi := min(lo+gemmRowBlock, a.Rows)
		blas32.Gemm(blas.NoTrans, tB, 1, rows(a, lo, hi), b, 0, rows(c, lo, hi))
	}, cpu.parallel)
}

// general views a row-major buffer as a rows x cols BLAS matrix.
func general(data []float32, r, c int) blas32.General {
	return blas32.General{Rows: r, Cols: c, Stride: max(c, 1), Data: data}
}

// rows returns the sub-matrix of m holding rows [lo, hi).
func rows(m blas32.General, lo, hi int) blas32.General {
	return blas32.General{
		Rows:   hi - lo,
		Cols:   m.Cols,
		Stride: m.Stride,
		Data:   m.Data[lo*m.Stride : (hi-1)*m.Stride+m.Cols],
	}
}
