package factory

import (
	"github.com/born-ml/netbuild/internal/nn"
	"github.com/born-ml/netbuild/internal/tensor"
	"go.uber.org/zap"
)

// SincNetParams configures a SincNet band-pass filter bank.
type SincNetParams struct {
	InChannels  int     `yaml:"in_channels"`
	OutChannels int     `yaml:"out_channels"`
	KernelSize  int     `yaml:"kernel_size"`
	Stride      int     `yaml:"stride"`
	SampleRate  float64 `yaml:"sr_hz"`
}

// DefaultSampleRate is used by SincNet when sr_hz is omitted.
const DefaultSampleRate = 16000

func buildSincNet[B tensor.Backend](ctx *Context, spec LayerSpec, in tensor.Shape, backend B) (*Layer[B], error) {
	if err := requireRank(in, 3); err != nil {
		return nil, err
	}
	var p SincNetParams
	if err := ctx.decode(spec, &p); err != nil {
		return nil, err
	}
	p.InChannels = autoInt(p.InChannels, in[1])
	p.Stride = autoInt(p.Stride, 1)
	if p.SampleRate <= 0 {
		p.SampleRate = DefaultSampleRate
	}
	if p.InChannels != 1 {
		return nil, paramErrorf("SincNet needs a single input channel, got %d", p.InChannels)
	}
	if err := positive("out_channels", p.OutChannels); err != nil {
		return nil, err
	}
	if err := positive("kernel_size", p.KernelSize); err != nil {
		return nil, err
	}
	if k := nn.SincKernelSize(p.KernelSize); k != p.KernelSize {
		ctx.Warn("SincNet kernel size must be odd, using the next odd size",
			zap.String("param", "kernel_size"), zap.Int("requested", p.KernelSize), zap.Int("used", k))
		p.KernelSize = k
	}

	length, err := poolOut(in[2], p.KernelSize, p.Stride)
	if err != nil {
		return nil, err
	}
	return &Layer[B]{
		Module: nn.NewSincConv(p.InChannels, p.OutChannels, p.KernelSize, p.Stride, p.SampleRate, backend),
		Out:    tensor.Shape{in[0], p.OutChannels, length},
		Params: p,
	}, nil
}

// Conv1dParams configures a 1D convolution over [B, C, T].
type Conv1dParams struct {
	InChannels  int     `yaml:"in_channels"`
	OutChannels int     `yaml:"out_channels"`
	KernelSize  int     `yaml:"kernel_size"`
	Stride      int     `yaml:"stride"`
	Padding     Padding `yaml:"padding"`
	Dilation    int     `yaml:"dilation"`
	Bias        *bool   `yaml:"bias"`
}

func buildConv1d[B tensor.Backend](ctx *Context, spec LayerSpec, in tensor.Shape, backend B) (*Layer[B], error) {
	if err := requireRank(in, 3); err != nil {
		return nil, err
	}
	var p Conv1dParams
	if err := ctx.decode(spec, &p); err != nil {
		return nil, err
	}
	p.InChannels = autoInt(p.InChannels, in[1])
	p.Stride = autoInt(p.Stride, 1)
	p.Dilation = autoInt(p.Dilation, 1)
	p.Bias = boolPtr(boolOr(p.Bias, true))
	if p.Padding.Mode == "" {
		p.Padding.Mode = PadValid
	}
	if p.InChannels != in[1] {
		return nil, paramErrorf("in_channels %d does not match input channels %d", p.InChannels, in[1])
	}
	if err := positive("out_channels", p.OutChannels); err != nil {
		return nil, err
	}
	if err := positive("kernel_size", p.KernelSize); err != nil {
		return nil, err
	}

	var left, right int
	switch p.Padding.Mode {
	case PadSame:
		if p.Stride != 1 {
			return nil, paramErrorf("padding 'same' requires stride 1, got %d", p.Stride)
		}
		total := p.Dilation * (p.KernelSize - 1)
		left, right = total/2, total-total/2
	case PadExplicit:
		// A pair pads the start and end of the time axis separately.
		left, right = p.Padding.Amount[0], p.Padding.Amount[1]
		if left < 0 || right < 0 {
			return nil, paramErrorf("negative padding %v", p.Padding.Amount)
		}
	}

	length, err := convOut(in[2], p.KernelSize, p.Stride, p.Dilation, left+right)
	if err != nil {
		return nil, err
	}
	return &Layer[B]{
		Module: nn.NewConv1DPadded(p.InChannels, p.OutChannels, p.KernelSize, p.Stride, left, right, p.Dilation, *p.Bias, backend),
		Out:    tensor.Shape{in[0], p.OutChannels, length},
		Params: p,
	}, nil
}

// Conv1dTCNParams configures a temporal convolutional network.
type Conv1dTCNParams struct {
	InChannels  int      `yaml:"in_channels"`
	NumChannels IntList  `yaml:"num_channels"`
	KernelSize  int      `yaml:"kernel_size"`
	Dropout     *float32 `yaml:"dropout"`
}

func buildConv1dTCN[B tensor.Backend](ctx *Context, spec LayerSpec, in tensor.Shape, backend B) (*Layer[B], error) {
	if err := requireRank(in, 3); err != nil {
		return nil, err
	}
	var p Conv1dTCNParams
	if err := ctx.decode(spec, &p); err != nil {
		return nil, err
	}
	p.InChannels = autoInt(p.InChannels, in[1])
	p.KernelSize = autoInt(p.KernelSize, nn.DefaultTCNKernel)
	p.Dropout = float32Ptr(float32Or(p.Dropout, nn.DefaultTCNDropout))
	if p.InChannels != in[1] {
		return nil, paramErrorf("in_channels %d does not match input channels %d", p.InChannels, in[1])
	}
	if len(p.NumChannels) == 0 {
		return nil, paramErrorf("num_channels is required")
	}
	for _, c := range p.NumChannels {
		if err := positive("num_channels entry", c); err != nil {
			return nil, err
		}
	}
	if *p.Dropout < 0 || *p.Dropout > 1 {
		return nil, paramErrorf("dropout must be in [0, 1], got %g", *p.Dropout)
	}

	out := in.Clone()
	out[1] = p.NumChannels[len(p.NumChannels)-1]
	return &Layer[B]{
		Module: nn.NewTemporalConvNet(p.InChannels, p.NumChannels, p.KernelSize, *p.Dropout, backend),
		Out:    out,
		Params: p,
	}, nil
}

// Conv2dParams configures a 2D convolution over [B, C, H, W].
type Conv2dParams struct {
	InChannels  int     `yaml:"in_channels"`
	OutChannels int     `yaml:"out_channels"`
	KernelSize  Pair    `yaml:"kernel_size"`
	Stride      Pair    `yaml:"stride"`
	Padding     Padding `yaml:"padding"`
	Dilation    Pair    `yaml:"dilation"`
	Groups      int     `yaml:"groups"`
	Bias        *bool   `yaml:"bias"`
}

func buildConv2d[B tensor.Backend](ctx *Context, spec LayerSpec, in tensor.Shape, backend B) (*Layer[B], error) {
	if err := requireRank(in, 4); err != nil {
		return nil, err
	}
	var p Conv2dParams
	if err := ctx.decode(spec, &p); err != nil {
		return nil, err
	}
	p.InChannels = autoInt(p.InChannels, in[1])
	p.Stride = pairOr(p.Stride, Pair{1, 1})
	p.Dilation = pairOr(p.Dilation, Pair{1, 1})
	p.Groups = autoInt(p.Groups, 1)
	p.Bias = boolPtr(boolOr(p.Bias, true))
	if p.Padding.Mode == "" {
		p.Padding.Mode = PadValid
	}
	if err := checkConv2dCommon(in, p.InChannels, p.OutChannels, p.KernelSize, p.Stride); err != nil {
		return nil, err
	}
	if err := positivePair("dilation", p.Dilation); err != nil {
		return nil, err
	}
	if p.InChannels%p.Groups != 0 || p.OutChannels%p.Groups != 0 {
		return nil, paramErrorf("channels in=%d out=%d not divisible by groups=%d", p.InChannels, p.OutChannels, p.Groups)
	}

	opts, size, err := conv2dGeometry(in, p.KernelSize, p.Stride, p.Dilation, p.Padding)
	if err != nil {
		return nil, err
	}
	opts.Groups = p.Groups
	return &Layer[B]{
		Module: nn.NewConv2D(p.InChannels, p.OutChannels, [2]int(p.KernelSize), opts, *p.Bias, backend),
		Out:    tensor.Shape{in[0], p.OutChannels, size[0], size[1]},
		Params: p,
	}, nil
}

func checkConv2dCommon(in tensor.Shape, inChannels, outChannels int, kernel, stride Pair) error {
	if inChannels != in[1] {
		return paramErrorf("in_channels %d does not match input channels %d", inChannels, in[1])
	}
	if err := positive("out_channels", outChannels); err != nil {
		return err
	}
	if err := positivePair("kernel_size", kernel); err != nil {
		return err
	}
	return positivePair("stride", stride)
}

// Conv2dDSParams configures a depthwise separable 2D convolution.
type Conv2dDSParams struct {
	InChannels      int     `yaml:"in_channels"`
	OutChannels     int     `yaml:"out_channels"`
	KernelSize      Pair    `yaml:"kernel_size"`
	Stride          Pair    `yaml:"stride"`
	Padding         Padding `yaml:"padding"`
	KernelsPerLayer int     `yaml:"kernels_per_layer"`
}

func buildConv2dDS[B tensor.Backend](ctx *Context, spec LayerSpec, in tensor.Shape, backend B) (*Layer[B], error) {
	if err := requireRank(in, 4); err != nil {
		return nil, err
	}
	var p Conv2dDSParams
	if err := ctx.decode(spec, &p); err != nil {
		return nil, err
	}
	p.InChannels = autoInt(p.InChannels, in[1])
	p.Stride = pairOr(p.Stride, Pair{1, 1})
	p.KernelsPerLayer = autoInt(p.KernelsPerLayer, 1)
	if p.Padding.Mode == "" {
		p.Padding.Mode = PadValid
	}
	if err := checkConv2dCommon(in, p.InChannels, p.OutChannels, p.KernelSize, p.Stride); err != nil {
		return nil, err
	}

	opts, size, err := conv2dGeometry(in, p.KernelSize, p.Stride, Pair{1, 1}, p.Padding)
	if err != nil {
		return nil, err
	}
	return &Layer[B]{
		Module: nn.NewDepthwiseSeparableConv(p.InChannels, p.KernelsPerLayer, p.OutChannels, [2]int(p.KernelSize), opts, backend),
		Out:    tensor.Shape{in[0], p.OutChannels, size[0], size[1]},
		Params: p,
	}, nil
}

// Conv2dResParams configures a residual block. The block always uses
// "same" padding and stride 1.
type Conv2dResParams struct {
	InChannels  int     `yaml:"in_channels"`
	OutChannels int     `yaml:"out_channels"`
	KernelSize  Pair    `yaml:"kernel_size"`
	Stride      Pair    `yaml:"stride"`
	Padding     Padding `yaml:"padding"`
}

func buildConv2dRes[B tensor.Backend](ctx *Context, spec LayerSpec, in tensor.Shape, backend B) (*Layer[B], error) {
	if err := requireRank(in, 4); err != nil {
		return nil, err
	}
	var p Conv2dResParams
	if err := ctx.decode(spec, &p); err != nil {
		return nil, err
	}
	p.InChannels = autoInt(p.InChannels, in[1])
	p.KernelSize = pairOr(p.KernelSize, Pair{3, 3})
	warnSameStride(ctx, p.Padding, p.Stride)
	p.Padding = Padding{Mode: PadSame}
	p.Stride = Pair{1, 1}
	if err := checkConv2dCommon(in, p.InChannels, p.OutChannels, p.KernelSize, p.Stride); err != nil {
		return nil, err
	}

	return &Layer[B]{
		Module: nn.NewResidualBlock(p.InChannels, p.OutChannels, [2]int(p.KernelSize), backend),
		Out:    withDims(in, map[int]int{1: p.OutChannels}),
		Params: p,
	}, nil
}

// warnSameStride warns when a block that only supports "same" padding and
// stride 1 is configured otherwise.
func warnSameStride(ctx *Context, pad Padding, stride Pair) {
	if pad.Mode != "" && !pad.IsSame() {
		ctx.Warn("block only works with padding 'same', overriding",
			zap.String("param", "padding"), zap.String("got", pad.Mode))
	}
	if !stride.isZero() && stride != (Pair{1, 1}) {
		ctx.Warn("block only works with stride 1, overriding",
			zap.String("param", "stride"), zap.Ints("got", stride[:]))
	}
}

// Conv2dNextParams configures a ConvNeXt block.
type Conv2dNextParams struct {
	InChannels  int     `yaml:"in_channels"`
	OutChannels int     `yaml:"out_channels"`
	KernelSize  int     `yaml:"kernel_size"`
	Stride      Pair    `yaml:"stride"`
	Padding     Padding `yaml:"padding"`
	DropPath    float32 `yaml:"drop_path"`
}

func buildConv2dNext[B tensor.Backend](ctx *Context, spec LayerSpec, in tensor.Shape, backend B) (*Layer[B], error) {
	if err := requireRank(in, 4); err != nil {
		return nil, err
	}
	var p Conv2dNextParams
	if err := ctx.decode(spec, &p); err != nil {
		return nil, err
	}
	p.InChannels = autoInt(p.InChannels, in[1])
	p.OutChannels = autoInt(p.OutChannels, p.InChannels)
	p.KernelSize = autoInt(p.KernelSize, nn.DefaultConvNeXtKernel)
	warnSameStride(ctx, p.Padding, p.Stride)
	p.Padding = Padding{Mode: PadSame}
	p.Stride = Pair{1, 1}

	if p.InChannels != in[1] {
		return nil, paramErrorf("in_channels %d does not match input channels %d", p.InChannels, in[1])
	}
	if p.OutChannels != p.InChannels {
		return nil, paramErrorf("out_channels %d must equal in_channels %d because of the residual connection", p.OutChannels, p.InChannels)
	}
	if p.KernelSize%2 == 0 {
		return nil, paramErrorf("kernel_size must be odd, got %d", p.KernelSize)
	}
	if p.DropPath < 0 || p.DropPath >= 1 {
		return nil, paramErrorf("drop_path must be in [0, 1), got %g", p.DropPath)
	}

	return &Layer[B]{
		Module: nn.NewConvNeXtBlock(p.InChannels, p.OutChannels, p.KernelSize, p.DropPath, backend),
		Out:    in.Clone(),
		Params: p,
	}, nil
}

// ConvTranspose2dParams configures a transposed 2D convolution.
type ConvTranspose2dParams struct {
	InChannels  int  `yaml:"in_channels"`
	OutChannels int  `yaml:"out_channels"`
	KernelSize  Pair `yaml:"kernel_size"`
	Stride      Pair `yaml:"stride"`
}

func buildConvTranspose2d[B tensor.Backend](ctx *Context, spec LayerSpec, in tensor.Shape, backend B) (*Layer[B], error) {
	if err := requireRank(in, 4); err != nil {
		return nil, err
	}
	var p ConvTranspose2dParams
	if err := ctx.decode(spec, &p); err != nil {
		return nil, err
	}
	p.InChannels = autoInt(p.InChannels, in[1])
	p.Stride = pairOr(p.Stride, Pair{1, 1})
	if err := checkConv2dCommon(in, p.InChannels, p.OutChannels, p.KernelSize, p.Stride); err != nil {
		return nil, err
	}

	conv := nn.NewConvTranspose2D(p.InChannels, p.OutChannels, [2]int(p.KernelSize), [2]int(p.Stride), backend)
	size := conv.ComputeOutputSize(in[2], in[3])
	return &Layer[B]{
		Module: conv,
		Out:    tensor.Shape{in[0], p.OutChannels, size[0], size[1]},
		Params: p,
	}, nil
}

// MaxPool1dParams configures 1D max pooling. Stride defaults to the kernel size.
type MaxPool1dParams struct {
	KernelSize int `yaml:"kernel_size"`
	Stride     int `yaml:"stride"`
}

func buildMaxPool1d[B tensor.Backend](ctx *Context, spec LayerSpec, in tensor.Shape, backend B) (*Layer[B], error) {
	if err := requireRank(in, 3); err != nil {
		return nil, err
	}
	var p MaxPool1dParams
	if err := ctx.decode(spec, &p); err != nil {
		return nil, err
	}
	if err := positive("kernel_size", p.KernelSize); err != nil {
		return nil, err
	}
	p.Stride = autoInt(p.Stride, p.KernelSize)

	length, err := poolOut(in[2], p.KernelSize, p.Stride)
	if err != nil {
		return nil, err
	}
	return &Layer[B]{
		Module: nn.NewMaxPool1D(p.KernelSize, p.Stride, backend),
		Out:    withDims(in, map[int]int{2: length}),
		Params: p,
	}, nil
}

// MaxPool2dParams configures 2D max pooling. Stride defaults to the kernel size.
type MaxPool2dParams struct {
	KernelSize Pair `yaml:"kernel_size"`
	Stride     Pair `yaml:"stride"`
}

func buildMaxPool2d[B tensor.Backend](ctx *Context, spec LayerSpec, in tensor.Shape, backend B) (*Layer[B], error) {
	if err := requireRank(in, 4); err != nil {
		return nil, err
	}
	var p MaxPool2dParams
	if err := ctx.decode(spec, &p); err != nil {
		return nil, err
	}
	if err := positivePair("kernel_size", p.KernelSize); err != nil {
		return nil, err
	}
	p.Stride = pairOr(p.Stride, p.KernelSize)
	if err := positivePair("stride", p.Stride); err != nil {
		return nil, err
	}

	h, err := poolOut(in[2], p.KernelSize[0], p.Stride[0])
	if err != nil {
		return nil, err
	}
	w, err := poolOut(in[3], p.KernelSize[1], p.Stride[1])
	if err != nil {
		return nil, err
	}
	return &Layer[B]{
		Module: nn.NewMaxPool2D([2]int(p.KernelSize), [2]int(p.Stride), backend),
		Out:    tensor.Shape{in[0], in[1], h, w},
		Params: p,
	}, nil
}
