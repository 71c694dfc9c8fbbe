package nn

import (
	"fmt"

	"github.com/born-ml/netbuild/internal/tensor"
)

// TemporalBlock is one level of a temporal convolutional network:
//
//	out = ReLU(net(x) + res(x))
//	net = [WeightNormConv1D, Chomp1D, ReLU, Dropout] x 2
//
// res is the identity, or a 1x1 Conv1D when the channel count changes.
// Padding (k-1)*dilation followed by the chomp keeps the layer causal and
// the time axis unchanged.
type TemporalBlock[B tensor.Backend] struct {
	conv1      *WeightNormConv1D[B]
	conv2      *WeightNormConv1D[B]
	chomp      *Chomp1D[B]
	dropout1   *Dropout[B]
	dropout2   *Dropout[B]
	downsample *Conv1D[B] // nil when in == out
	backend    B
}

// NewTemporalBlock creates a temporal block. Convolution weights start from
// N(0, 0.01).
func NewTemporalBlock[B tensor.Backend](
	inChannels, outChannels, kernel, stride, dilation, padding int,
	dropout float32,
	backend B,
) *TemporalBlock[B] {
	tb := &TemporalBlock[B]{
		conv1:    NewWeightNormConv1D(inChannels, outChannels, kernel, stride, padding, dilation, backend),
		conv2:    NewWeightNormConv1D(outChannels, outChannels, kernel, stride, padding, dilation, backend),
		chomp:    NewChomp1D[B](padding),
		dropout1: NewDropout[B](dropout),
		dropout2: NewDropout[B](dropout),
		backend:  backend,
	}
	tb.conv1.initNormal(0.01)
	tb.conv2.initNormal(0.01)
	if inChannels != outChannels {
		tb.downsample = NewConv1D(inChannels, outChannels, 1, 1, 0, 1, true, backend)
		w := tb.downsample.Weight().Tensor()
		copy(w.Data(), Normal(0, 0.01, w.Shape(), backend).Data())
	}
	return tb
}

// initNormal redraws v from N(0, std) and resets g to ||v||.
func (m *WeightNormConv1D[B]) initNormal(std float64) {
	v := m.conv.weight.Tensor()
	copy(v.Data(), Normal(0, std, v.Shape(), m.conv.backend).Data())
	copy(m.g.Tensor().Data(), m.vNorm().Data())
}

// Forward runs the block on [N, C_in, T] and returns [N, C_out, T].
func (tb *TemporalBlock[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	out := tb.conv1.Forward(input)
	out = tb.dropout1.Forward(tb.relu(tb.chomp.Forward(out)))
	out = tb.conv2.Forward(out)
	out = tb.dropout2.Forward(tb.relu(tb.chomp.Forward(out)))

	res := input
	if tb.downsample != nil {
		res = tb.downsample.Forward(input)
	}
	return tb.relu(out.Add(res))
}

func (tb *TemporalBlock[B]) relu(x *tensor.Tensor[B]) *tensor.Tensor[B] {
	return wrap(tb.backend.ReLU(x.Raw()), tb.backend)
}

// SetTraining toggles both dropout layers.
func (tb *TemporalBlock[B]) SetTraining(training bool) {
	tb.dropout1.SetTraining(training)
	tb.dropout2.SetTraining(training)
}

// Parameters returns the parameters of both convolutions and the
// downsample projection.
func (tb *TemporalBlock[B]) Parameters() []*Parameter[B] {
	params := namespaced("conv1", tb.conv1)
	params = append(params, namespaced("conv2", tb.conv2)...)
	if tb.downsample != nil {
		params = append(params, namespaced("downsample", tb.downsample)...)
	}
	return params
}

// TemporalConvNet stacks TemporalBlocks with dilation 2^i at level i.
//
// Input [N, num_inputs, T], output [N, channels[len-1], T].
type TemporalConvNet[B tensor.Backend] struct {
	network *Sequential[B]
}

// Default kernel size and dropout of a TCN level.
const (
	DefaultTCNKernel  = 2
	DefaultTCNDropout = 0.2
)

// NewTemporalConvNet creates a TCN.
func NewTemporalConvNet[B tensor.Backend](numInputs int, channels []int, kernel int, dropout float32, backend B) *TemporalConvNet[B] {
	if len(channels) == 0 {
		panic("tcn: at least one level is required")
	}
	seq := NewSequential[B]()
	in := numInputs
	for i, out := range channels {
		if out <= 0 {
			panic(fmt.Sprintf("tcn: invalid channel count %d at level %d", out, i))
		}
		dilation := 1 << i
		seq.Add(NewTemporalBlock(in, out, kernel, 1, dilation, (kernel-1)*dilation, dropout, backend))
		in = out
	}
	return &TemporalConvNet[B]{network: seq}
}

// Forward runs every level in order.
func (t *TemporalConvNet[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	return t.network.Forward(input)
}

// SetTraining propagates the mode to every level.
func (t *TemporalConvNet[B]) SetTraining(training bool) {
	t.network.SetTraining(training)
}

// Parameters returns "network.<level>.<name>" parameters.
func (t *TemporalConvNet[B]) Parameters() []*Parameter[B] {
	return namespaced("network", t.network)
}

// Levels returns the number of temporal blocks.
func (t *TemporalConvNet[B]) Levels() int {
	return t.network.Len()
}

// Level returns the temporal block at index i.
func (t *TemporalConvNet[B]) Level(i int) *TemporalBlock[B] {
	return t.network.Module(i).(*TemporalBlock[B])
}
