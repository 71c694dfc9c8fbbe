package cpu

import (
	"testing"

	"github.com/born-ml/netbuild/internal/tensor"
	"github.com/stretchr/testify/assert"
)

func TestConv2D_KnownValues(t *testing.T) {
	backend := New()

	// Input: [1, 1, 3, 3] with values 1-9, kernel [[1, 2], [3, 4]]
	input := raw(t, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9}, 1, 1, 3, 3)
	kernel := raw(t, []float32{1, 2, 3, 4}, 1, 1, 2, 2)

	out := backend.Conv2D(input, kernel, tensor.DefaultConvOptions())

	// [0,0]: 1*1 + 2*2 + 3*4 + 4*5 = 37
	// [0,1]: 1*2 + 2*3 + 3*5 + 4*6 = 47
	// [1,0]: 1*4 + 2*5 + 3*7 + 4*8 = 67
	// [1,1]: 1*5 + 2*6 + 3*8 + 4*9 = 77
	assert.Equal(t, tensor.Shape{1, 1, 2, 2}, out.Shape())
	assert.Equal(t, []float32{37, 47, 67, 77}, out.Data())
}

func TestConv2D_StrideAndSymmetricPadding(t *testing.T) {
	backend := New()
	input := raw(t, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9}, 1, 1, 3, 3)
	kernel := raw(t, []float32{1, 1, 1, 1, 1, 1, 1, 1, 1}, 1, 1, 3, 3)

	opts := tensor.DefaultConvOptions()
	opts.Padding = [4]int{1, 1, 1, 1}
	opts.Stride = [2]int{2, 2}

	out := backend.Conv2D(input, kernel, opts)

	// Corners of the zero padded 3x3 box sums.
	assert.Equal(t, tensor.Shape{1, 1, 2, 2}, out.Shape())
	assert.Equal(t, []float32{12, 16, 24, 28}, out.Data())
}

func TestConv2D_AsymmetricPadding(t *testing.T) {
	backend := New()
	input := raw(t, []float32{1, 2, 3, 4}, 1, 1, 1, 4)
	kernel := raw(t, []float32{1, 1}, 1, 1, 1, 2)

	opts := tensor.DefaultConvOptions()
	opts.Padding = [4]int{0, 0, 0, 1}

	out := backend.Conv2D(input, kernel, opts)
	assert.Equal(t, tensor.Shape{1, 1, 1, 4}, out.Shape())
	assert.Equal(t, []float32{3, 5, 7, 4}, out.Data())
}

func TestConv2D_Dilation(t *testing.T) {
	backend := New()
	input := raw(t, []float32{1, 2, 3, 4, 5}, 1, 1, 1, 5)
	kernel := raw(t, []float32{1, 1}, 1, 1, 1, 2)

	opts := tensor.DefaultConvOptions()
	opts.Dilation = [2]int{1, 2}

	out := backend.Conv2D(input, kernel, opts)
	assert.Equal(t, tensor.Shape{1, 1, 1, 3}, out.Shape())
	assert.Equal(t, []float32{4, 6, 8}, out.Data())
}

func TestConv2D_Depthwise(t *testing.T) {
	backend := New()
	// Two channels: [1, 2] and [3, 4]
	input := raw(t, []float32{1, 2, 3, 4}, 1, 2, 1, 2)
	kernel := raw(t, []float32{2, 3}, 2, 1, 1, 1)

	opts := tensor.DefaultConvOptions()
	opts.Groups = 2

	out := backend.Conv2D(input, kernel, opts)
	assert.Equal(t, tensor.Shape{1, 2, 1, 2}, out.Shape())
	assert.Equal(t, []float32{2, 4, 9, 12}, out.Data())
}

// naiveConv2D is a direct-loop reference for checking the GEMM path.
func naiveConv2D(in []float32, inShape tensor.Shape, k []float32, kShape tensor.Shape, opts tensor.ConvOptions) []float32 {
	N, CIn, H, W := inShape[0], inShape[1], inShape[2], inShape[3]
	COut, CInG, KH, KW := kShape[0], kShape[1], kShape[2], kShape[3]
	groups := max(opts.Groups, 1)
	sh, sw := opts.Stride[0], opts.Stride[1]
	dh, dw := opts.Dilation[0], opts.Dilation[1]
	pt, pb, pl, pr := opts.Padding[0], opts.Padding[1], opts.Padding[2], opts.Padding[3]
	HOut := (H+pt+pb-dh*(KH-1)-1)/sh + 1
	WOut := (W+pl+pr-dw*(KW-1)-1)/sw + 1
	cpg := COut / groups

	out := make([]float32, N*COut*HOut*WOut)
	for n := 0; n < N; n++ {
		for co := 0; co < COut; co++ {
			g := co / cpg
			for oh := 0; oh < HOut; oh++ {
				for ow := 0; ow < WOut; ow++ {
					var sum float32
					for ci := 0; ci < CInG; ci++ {
						for i := 0; i < KH; i++ {
							for j := 0; j < KW; j++ {
								ih, iw := oh*sh-pt+i*dh, ow*sw-pl+j*dw
								if ih < 0 || ih >= H || iw < 0 || iw >= W {
									continue
								}
								sum += in[((n*CIn+g*CInG+ci)*H+ih)*W+iw] * k[((co*CInG+ci)*KH+i)*KW+j]
							}
						}
					}
					out[((n*COut+co)*HOut+oh)*WOut+ow] = sum
				}
			}
		}
	}
	return out
}

func TestConv2D_GroupedDilatedMatchesDirectLoop(t *testing.T) {
	backend := New()
	inShape := tensor.Shape{2, 4, 7, 9}
	kShape := tensor.Shape{6, 2, 3, 2}

	in := make([]float32, inShape.NumElements())
	for i := range in {
		in[i] = float32(i%11) - 5
	}
	k := make([]float32, kShape.NumElements())
	for i := range k {
		k[i] = float32(i%7)*0.25 - 0.75
	}

	opts := tensor.DefaultConvOptions()
	opts.Groups = 2
	opts.Stride = [2]int{2, 1}
	opts.Dilation = [2]int{2, 3}
	opts.Padding = [4]int{1, 2, 0, 3}

	out := backend.Conv2D(raw(t, in, inShape...), raw(t, k, kShape...), opts)

	// H_out = (7+3-4-1)/2+1 = 3, W_out = (9+3-3-1)/1+1 = 9
	assert.Equal(t, tensor.Shape{2, 6, 3, 9}, out.Shape())
	assert.InDeltaSlice(t, naiveConv2D(in, inShape, k, kShape, opts), out.Data(), 1e-4)
}

func TestConv2D_InvalidInput(t *testing.T) {
	backend := New()
	kernel := raw(t, []float32{1, 1, 1, 1}, 1, 1, 2, 2)

	assert.Panics(t, func() {
		backend.Conv2D(raw(t, []float32{1, 2, 3}, 1, 3), kernel, tensor.DefaultConvOptions())
	}, "3D input")

	assert.Panics(t, func() {
		backend.Conv2D(raw(t, []float32{1, 2, 3, 4, 5, 6, 7, 8}, 1, 2, 2, 2), kernel, tensor.DefaultConvOptions())
	}, "channel mismatch")

	assert.Panics(t, func() {
		backend.Conv2D(raw(t, []float32{1}, 1, 1, 1, 1), kernel, tensor.DefaultConvOptions())
	}, "kernel larger than input")
}

func TestConvTranspose2D(t *testing.T) {
	backend := New()
	input := raw(t, []float32{1, 2, 3, 4}, 1, 1, 2, 2)
	kernel := raw(t, []float32{1, 1, 1, 1}, 1, 1, 2, 2)

	out := backend.ConvTranspose2D(input, kernel, [2]int{1, 1})
	assert.Equal(t, tensor.Shape{1, 1, 3, 3}, out.Shape())
	assert.Equal(t, []float32{1, 3, 2, 4, 10, 6, 3, 7, 4}, out.Data())

	// Stride equal to the kernel tiles each input value into a block.
	up := backend.ConvTranspose2D(input, kernel, [2]int{2, 2})
	assert.Equal(t, tensor.Shape{1, 1, 4, 4}, up.Shape())
	assert.Equal(t, []float32{
		1, 1, 2, 2,
		1, 1, 2, 2,
		3, 3, 4, 4,
		3, 3, 4, 4,
	}, up.Data())
}

func TestMaxPool2D(t *testing.T) {
	backend := New()
	data := make([]float32, 16)
	for i := range data {
		data[i] = float32(i + 1)
	}
	input := raw(t, data, 1, 1, 4, 4)

	out := backend.MaxPool2D(input, [2]int{2, 2}, [2]int{2, 2})
	assert.Equal(t, tensor.Shape{1, 1, 2, 2}, out.Shape())
	assert.Equal(t, []float32{6, 8, 14, 16}, out.Data())

	// 1x3 windows with stride 1 along width only.
	row := backend.MaxPool2D(input, [2]int{1, 3}, [2]int{1, 1})
	assert.Equal(t, tensor.Shape{1, 1, 4, 2}, row.Shape())
	assert.Equal(t, []float32{3, 4, 7, 8, 11, 12, 15, 16}, row.Data())

	assert.Panics(t, func() { backend.MaxPool2D(input, [2]int{5, 5}, [2]int{1, 1}) })
}
