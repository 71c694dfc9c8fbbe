package cpu

import (
	"fmt"

	"github.com/born-ml/netbuild/internal/parallel"
	"github.com/born-ml/netbuild/internal/tensor"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Conv2D performs grouped, dilated 2D convolution (cross-correlation).
//
// Input shape:  [N, C_in, H, W]
// Kernel shape: [C_out, C_in/groups, K_h, K_w]
// Output shape: [N, C_out, H_out, W_out]
//
// Where:
//
//	H_out = (H + pad_top + pad_bottom - dil_h*(K_h-1) - 1) / stride_h + 1
//	W_out = (W + pad_left + pad_right - dil_w*(K_w-1) - 1) / stride_w + 1
//
// Out-of-range input positions read as zero. Each (batch, group) pair is
// unrolled with im2col into a [C_in/groups*K_h*K_w, H_out*W_out] matrix and
// multiplied by the group's kernel rows with a single GEMM.
func (cpu *CPUBackend) Conv2D(input, kernel *tensor.RawTensor, opts tensor.ConvOptions) *tensor.RawTensor {
	inputShape := input.Shape()
	kernelShape := kernel.Shape()

	if len(inputShape) != 4 {
		panic(fmt.Sprintf("conv2d: input must be 4D [N,C,H,W], got %dD", len(inputShape)))
	}
	if len(kernelShape) != 4 {
		panic(fmt.Sprintf("conv2d: kernel must be 4D [C_out,C_in/groups,K_h,K_w], got %dD", len(kernelShape)))
	}

	N, CIn, H, W := inputShape[0], inputShape[1], inputShape[2], inputShape[3]
	COut, CInG, KH, KW := kernelShape[0], kernelShape[1], kernelShape[2], kernelShape[3]

	groups := max(opts.Groups, 1)
	if CIn%groups != 0 || COut%groups != 0 {
		panic(fmt.Sprintf("conv2d: channels in=%d out=%d not divisible by groups=%d", CIn, COut, groups))
	}
	if CIn/groups != CInG {
		panic(fmt.Sprintf("conv2d: input channels %d / groups %d != kernel channels %d", CIn, groups, CInG))
	}

	sh, sw := opts.Stride[0], opts.Stride[1]
	dh, dw := max(opts.Dilation[0], 1), max(opts.Dilation[1], 1)
	pt, pb, pl, pr := opts.Padding[0], opts.Padding[1], opts.Padding[2], opts.Padding[3]
	if sh <= 0 || sw <= 0 {
		panic(fmt.Sprintf("conv2d: invalid stride %v", opts.Stride))
	}

	HOut := (H+pt+pb-dh*(KH-1)-1)/sh + 1
	WOut := (W+pl+pr-dw*(KW-1)-1)/sw + 1
	if HOut <= 0 || WOut <= 0 {
		panic(fmt.Sprintf("conv2d: invalid output dimensions: out_h=%d, out_w=%d (input %dx%d, kernel %dx%d)",
			HOut, WOut, H, W, KH, KW))
	}

	output := tensor.MustRaw(tensor.Shape{N, COut, HOut, WOut})
	in, k, out := input.Data(), kernel.Data(), output.Data()
	cpg := COut / groups
	patch := CInG * KH * KW
	spatial := HOut * WOut
	geom := im2colGeometry{
		channels: CInG, h: H, w: W, kh: KH, kw: KW,
		sh: sh, sw: sw, dh: dh, dw: dw, pt: pt, pl: pl,
		hOut: HOut, wOut: WOut,
	}

	parallel.For(N*groups, func(i int) {
		n, g := i/groups, i%groups
		col := make([]float32, patch*spatial)
		src := in[(n*CIn+g*CInG)*H*W : (n*CIn+(g+1)*CInG)*H*W]
		geom.unroll(src, col)

		a := general(k[g*cpg*patch:(g+1)*cpg*patch], cpg, patch)
		dst := general(out[(n*COut+g*cpg)*spatial:(n*COut+(g+1)*cpg)*spatial], cpg, spatial)
		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, a, general(col, patch, spatial), 0, dst)
	}, cpu.parallel)

	return output
}

// im2colGeometry describes how one group's input planes map to patches.
type im2colGeometry struct {
	channels, h, w int
	kh, kw         int
	sh, sw         int
	dh, dw         int
	pt, pl         int
	hOut, wOut     int
}

// unroll writes the receptive field of every output position into col.
// Row (c*kh+i)*kw+j of col holds input channel c sampled at kernel tap
// (i, j) for all output positions; padded positions stay zero.
func (g im2colGeometry) unroll(src, col []float32) {
	spatial := g.hOut * g.wOut
	row := 0
	for c := 0; c < g.channels; c++ {
		plane := src[c*g.h*g.w : (c+1)*g.h*g.w]
		for i := 0; i < g.kh; i++ {
			for j := 0; j < g.kw; j++ {
				dst := col[row*spatial : (row+1)*spatial]
				for oh := 0; oh < g.hOut; oh++ {
					ih := oh*g.sh - g.pt + i*g.dh
					if ih < 0 || ih >= g.h {
						continue
					}
					inRow := plane[ih*g.w : (ih+1)*g.w]
					outRow := dst[oh*g.wOut : (oh+1)*g.wOut]
					for ow := range outRow {
						iw := ow*g.sw - g.pl + j*g.dw
						if iw >= 0 && iw < g.w {
							outRow[ow] = inRow[iw]
						}
					}
				}
				row++
			}
		}
	}
}

// ConvTranspose2D performs the transposed (fractionally strided) convolution.
//
// Input shape:  [N, C_in, H, W]
// Kernel shape: [C_in, C_out, K_h, K_w]
// Output shape: [N, C_out, (H-1)*stride_h + K_h, (W-1)*stride_w + K_w]
func (cpu *CPUBackend) ConvTranspose2D(input, kernel *tensor.RawTensor, stride [2]int) *tensor.RawTensor {
	inputShape := input.Shape()
	kernelShape := kernel.Shape()
	if len(inputShape) != 4 || len(kernelShape) != 4 {
		panic(fmt.Sprintf("conv_transpose2d: expected 4D input and kernel, got %v and %v", inputShape, kernelShape))
	}

	N, CIn, H, W := inputShape[0], inputShape[1], inputShape[2], inputShape[3]
	if kernelShape[0] != CIn {
		panic(fmt.Sprintf("conv_transpose2d: input channels %d != kernel channels %d", CIn, kernelShape[0]))
	}
	COut, KH, KW := kernelShape[1], kernelShape[2], kernelShape[3]
	sh, sw := stride[0], stride[1]
	if sh <= 0 || sw <= 0 {
		panic(fmt.Sprintf("conv_transpose2d: invalid stride %v", stride))
	}

	HOut := (H-1)*sh + KH
	WOut := (W-1)*sw + KW
	output := tensor.MustRaw(tensor.Shape{N, COut, HOut, WOut})
	in, k, out := input.Data(), kernel.Data(), output.Data()

	parallel.ForBatch(N, COut, func(n, co int) {
		plane := out[(n*COut+co)*HOut*WOut : (n*COut+co+1)*HOut*WOut]
		for ci := 0; ci < CIn; ci++ {
			inPlane := in[(n*CIn+ci)*H*W : (n*CIn+ci+1)*H*W]
			kPlane := k[(ci*COut+co)*KH*KW : (ci*COut+co+1)*KH*KW]
			for ih := 0; ih < H; ih++ {
				for iw := 0; iw < W; iw++ {
					v := inPlane[ih*W+iw]
					if v == 0 {
						continue
					}
					for kh := 0; kh < KH; kh++ {
						outRow := plane[(ih*sh+kh)*WOut:]
						for kw := 0; kw < KW; kw++ {
							outRow[iw*sw+kw] += v * kPlane[kh*KW+kw]
						}
					}
				}
			}
		}
	}, cpu.parallel)

	return output
}
