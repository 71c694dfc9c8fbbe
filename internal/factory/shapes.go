package factory

import (
	"github.com/born-ml/netbuild/internal/nn"
	"github.com/born-ml/netbuild/internal/tensor"
)

// Shape rules used by the builders. Dimensions follow the usual layouts:
//
//	dense:  [B, D] or [B, T, D]
//	conv1d: [B, C, T]
//	conv2d: [B, C, H=freq, W=time]

func requireRank(in tensor.Shape, ranks ...int) error {
	for _, r := range ranks {
		if len(in) == r {
			return nil
		}
	}
	return rankErrorf("expected rank %v, got shape %v", ranks, in)
}

// convOut returns floor((length + padTotal - dilation*(kernel-1) - 1) / stride) + 1.
func convOut(length, kernel, stride, dilation, padTotal int) (int, error) {
	num := length + padTotal - dilation*(kernel-1) - 1
	if num < 0 {
		return 0, paramErrorf("kernel %d (dilation %d) larger than padded input %d", kernel, dilation, length+padTotal)
	}
	return num/stride + 1, nil
}

// poolOut returns floor((length - kernel) / stride) + 1.
func poolOut(length, kernel, stride int) (int, error) {
	return convOut(length, kernel, stride, 1, 0)
}

// autoInt returns inferred when v asks for inference (-1, 0 or omitted).
func autoInt(v, inferred int) int {
	if v <= 0 {
		return inferred
	}
	return v
}

func positive(name string, v int) error {
	if v <= 0 {
		return paramErrorf("%s must be positive, got %d", name, v)
	}
	return nil
}

func positivePair(name string, p Pair) error {
	if p[0] <= 0 || p[1] <= 0 {
		return paramErrorf("%s must be positive, got %v", name, p)
	}
	return nil
}

func pairOr(p, def Pair) Pair {
	if p.isZero() {
		return def
	}
	return p
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func float32Or(p *float32, def float32) float32 {
	if p == nil {
		return def
	}
	return *p
}

func boolPtr(v bool) *bool { return &v }

func float32Ptr(v float32) *float32 { return &v }

// conv2dGeometry resolves padding into backend options and returns the
// output spatial size for an [B, C, H, W] input.
func conv2dGeometry(in tensor.Shape, kernel, stride, dilation Pair, pad Padding) (tensor.ConvOptions, [2]int, error) {
	opts := tensor.DefaultConvOptions()
	opts.Stride = [2]int(stride)
	opts.Dilation = [2]int(dilation)

	switch pad.Mode {
	case PadSame:
		if stride != (Pair{1, 1}) {
			return opts, [2]int{}, paramErrorf("padding 'same' requires stride 1, got %v", stride)
		}
		opts.Padding = nn.SamePadding([2]int(kernel), [2]int(dilation))
	case PadExplicit:
		if pad.Amount[0] < 0 || pad.Amount[1] < 0 {
			return opts, [2]int{}, paramErrorf("negative padding %v", pad.Amount)
		}
		opts.Padding = [4]int{pad.Amount[0], pad.Amount[0], pad.Amount[1], pad.Amount[1]}
	}

	var out [2]int
	for axis := 0; axis < 2; axis++ {
		padTotal := opts.Padding[2*axis] + opts.Padding[2*axis+1]
		size, err := convOut(in[2+axis], kernel[axis], stride[axis], dilation[axis], padTotal)
		if err != nil {
			return opts, out, err
		}
		out[axis] = size
	}
	return opts, out, nil
}

func withDims(in tensor.Shape, set map[int]int) tensor.Shape {
	out := in.Clone()
	for d, v := range set {
		out[d] = v
	}
	return out
}
