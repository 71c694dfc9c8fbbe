package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/netbuild/internal/parallel"
	"github.com/born-ml/netbuild/internal/tensor"
)

// MaxPool2D performs 2D max pooling.
//
// Input shape:  [batch, channels, height, width]
// Output shape: [batch, channels, out_height, out_width]
//
// Where:
//
//	out_height = (height - kernel_h) / stride_h + 1
//	out_width = (width - kernel_w) / stride_w + 1
//
// Example (2x2 pool, stride=2):
//
//	Input: [[1,2,3,4],    Output: [[6,8],
//	        [5,6,7,8],             [14,16]]
//	        [9,10,11,12],
//	        [13,14,15,16]]
func (cpu *CPUBackend) MaxPool2D(input *tensor.RawTensor, kernel, stride [2]int) *tensor.RawTensor {
	inputShape := input.Shape()
	if len(inputShape) != 4 {
		panic(fmt.Sprintf("maxpool2d: expected 4D input [N,C,H,W], got %dD", len(inputShape)))
	}

	N, C, H, W := inputShape[0], inputShape[1], inputShape[2], inputShape[3]
	KH, KW := kernel[0], kernel[1]
	SH, SW := stride[0], stride[1]

	if KH <= 0 || KW <= 0 {
		panic(fmt.Sprintf("maxpool2d: invalid kernel size %v", kernel))
	}
	if SH <= 0 || SW <= 0 {
		panic(fmt.Sprintf("maxpool2d: invalid stride %v", stride))
	}
	if KH > H || KW > W {
		panic(fmt.Sprintf("maxpool2d: kernel size %v too large for input %dx%d", kernel, H, W))
	}

	HOut := (H-KH)/SH + 1
	WOut := (W-KW)/SW + 1

	output := tensor.MustRaw(tensor.Shape{N, C, HOut, WOut})
	in, out := input.Data(), output.Data()

	parallel.ForBatch(N, C, func(n, c int) {
		inPlane := in[(n*C+c)*H*W : (n*C+c+1)*H*W]
		outPlane := out[(n*C+c)*HOut*WOut : (n*C+c+1)*HOut*WOut]
		for oh := 0; oh < HOut; oh++ {
			for ow := 0; ow < WOut; ow++ {
				best := float32(math.Inf(-1))
				for kh := 0; kh < KH; kh++ {
					row := inPlane[(oh*SH+kh)*W:]
					for kw := 0; kw < KW; kw++ {
						best = max(best, row[ow*SW+kw])
					}
				}
				outPlane[oh*WOut+ow] = best
			}
		}
	}, cpu.parallel)

	return output
}
