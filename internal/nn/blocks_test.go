package nn_test

import (
	"testing"

	"github.com/born-ml/netbuild/internal/backend/cpu"
	"github.com/born-ml/netbuild/internal/nn"
	"github.com/born-ml/netbuild/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemporalConvNet_Shape(t *testing.T) {
	backend := cpu.New()
	tcn := nn.NewTemporalConvNet(3, []int{8, 8, 4}, nn.DefaultTCNKernel, nn.DefaultTCNDropout, backend)

	out := tcn.Forward(randn(backend, 2, 3, 20))
	assert.Equal(t, tensor.Shape{2, 4, 20}, out.Shape())
	assert.Equal(t, 3, tcn.Levels())

	// Downsample only where the channel count changes.
	names := map[string]bool{}
	for _, p := range tcn.Parameters() {
		names[p.Name()] = true
	}
	assert.True(t, names["network.0.downsample.weight"])
	assert.False(t, names["network.1.downsample.weight"])
	assert.True(t, names["network.2.downsample.weight"])
	assert.True(t, names["network.1.conv2.weight_g"])
}

func TestTemporalConvNet_Causal(t *testing.T) {
	backend := cpu.New()
	tcn := nn.NewTemporalConvNet(1, []int{4, 4}, 3, 0.2, backend)
	tcn.SetTraining(false)

	x := randn(backend, 1, 1, 16)
	before := tcn.Forward(x)

	changed := x.Clone()
	changed.Set(100, 0, 0, 15)
	after := tcn.Forward(changed)

	// Only the last time step may change.
	for c := 0; c < 4; c++ {
		for step := 0; step < 15; step++ {
			assert.Equal(t, before.At(0, c, step), after.At(0, c, step), "channel %d step %d", c, step)
		}
	}
}

func TestTemporalBlock_WeightInit(t *testing.T) {
	backend := cpu.New()
	nn.Seed(11)
	block := nn.NewTemporalBlock(2, 2, 2, 1, 1, 1, 0, backend)

	for _, p := range block.Parameters() {
		if p.Name() != "conv1.weight_v" {
			continue
		}
		for _, v := range p.Tensor().Data() {
			assert.Less(t, v*v, float32(0.01), "N(0, 0.01) draws stay small")
		}
	}
}

func TestResidualBlock(t *testing.T) {
	backend := cpu.New()

	rb := nn.NewResidualBlock(3, 5, [2]int{3, 3}, backend)
	out := rb.Forward(randn(backend, 2, 3, 8, 9))
	assert.Equal(t, tensor.Shape{2, 5, 8, 9}, out.Shape())
	for _, v := range out.Data() {
		assert.GreaterOrEqual(t, v, float32(0))
	}

	same := nn.NewResidualBlock(4, 4, [2]int{3, 3}, backend)
	for _, p := range same.Parameters() {
		assert.NotContains(t, p.Name(), "conv_ds")
	}
	rb.SetTraining(false)
	assert.Equal(t, tensor.Shape{1, 5, 4, 4}, rb.Forward(randn(backend, 1, 3, 4, 4)).Shape())
}

func TestDepthwiseSeparableConv(t *testing.T) {
	backend := cpu.New()
	opts := tensor.DefaultConvOptions()
	opts.Padding = [4]int{1, 1, 1, 1}
	opts.Stride = [2]int{2, 2}

	conv := nn.NewDepthwiseSeparableConv(4, 1, 6, [2]int{3, 3}, opts, backend)
	out := conv.Forward(randn(backend, 2, 4, 10, 10))

	assert.Equal(t, tensor.Shape{2, 6, 5, 5}, out.Shape())
	assert.Equal(t, [2]int{5, 5}, conv.ComputeOutputSize(10, 10))
	// depthwise: 4*1*3*3 + 4, pointwise: 6*4 + 6
	assert.Equal(t, 40+30, nn.CountParameters[*cpu.CPUBackend](conv))
}

func TestConvNeXtBlock(t *testing.T) {
	backend := cpu.New()
	block := nn.NewConvNeXtBlock(8, 8, nn.DefaultConvNeXtKernel, 0, backend)

	out := block.Forward(randn(backend, 2, 8, 9, 11))
	assert.Equal(t, tensor.Shape{2, 8, 9, 11}, out.Shape())
	// dwconv 8*49+8, norm 16, pwconv1 8*32+32, pwconv2 32*8+8
	assert.Equal(t, 400+16+288+264, nn.CountParameters[*cpu.CPUBackend](block))

	assert.Panics(t, func() { nn.NewConvNeXtBlock(8, 4, 7, 0, backend) })
}

func TestAutoPoolWeight_ZeroAlphaIsMean(t *testing.T) {
	backend := cpu.New()
	x := fromSlice(t, backend, []float32{1, 2, 3, 4, 10, 20, 30, 40}, 1, 2, 1, 4)

	pool := nn.NewAutoPoolWeight(backend)
	out := pool.Forward(x)

	assert.Equal(t, tensor.Shape{1, 2, 1, 1}, out.Shape())
	assert.InDeltaSlice(t, []float32{2.5, 25}, out.Data(), 1e-5)

	// A large alpha approaches max pooling.
	pool.Alpha().Tensor().Data()[0] = 50
	out = pool.Forward(x)
	assert.InDeltaSlice(t, []float32{4, 40}, out.Data(), 1e-3)
}

func TestAutoPoolWeightSplit(t *testing.T) {
	backend := cpu.New()
	// Values channel [1 2 3 4], attention channel constant.
	x := fromSlice(t, backend, []float32{1, 2, 3, 4, 7, 7, 7, 7}, 1, 2, 1, 4)

	pool := nn.NewAutoPoolWeightSplit(2, backend)
	out := pool.Forward(x)
	assert.Equal(t, tensor.Shape{1, 1, 1, 1}, out.Shape())
	assert.InDelta(t, 2.5, out.Data()[0], 1e-5)
	assert.Len(t, pool.Parameters(), 1)

	assert.Panics(t, func() { nn.NewAutoPoolWeightSplit(3, backend) })
	assert.Panics(t, func() { pool.Forward(randn(backend, 1, 4, 1, 4)) })
}

func TestSoftmaxWeight(t *testing.T) {
	backend := cpu.New()
	// Attention strongly favours the last step.
	x := fromSlice(t, backend, []float32{1, 2, 3, 4, 0, 0, 0, 50}, 1, 2, 1, 4)

	out := nn.NewSoftmaxWeight[*cpu.CPUBackend](2).Forward(x)
	assert.Equal(t, tensor.Shape{1, 1, 1, 1}, out.Shape())
	assert.InDelta(t, 4, out.Data()[0], 1e-4)

	out = nn.NewSoftmaxWeight[*cpu.CPUBackend](6).Forward(randn(backend, 2, 6, 3, 10))
	assert.Equal(t, tensor.Shape{2, 3, 3, 1}, out.Shape())
}

func TestSincConv(t *testing.T) {
	backend := cpu.New()
	sinc := nn.NewSincConv(1, 8, 250, 1, 16000, backend)

	assert.Equal(t, 251, sinc.KernelSize())
	assert.Equal(t, 251, nn.SincKernelSize(250))
	assert.Equal(t, 251, nn.SincKernelSize(251))
	assert.Len(t, sinc.Parameters(), 2)

	filters := sinc.Filters()
	require.Equal(t, tensor.Shape{8, 1, 1, 251}, filters.Shape())
	for c := 0; c < 8; c++ {
		assert.InDelta(t, 1, filters.At(c, 0, 0, 125), 1e-6)
		for i := 0; i < 125; i++ {
			assert.Equal(t, filters.At(c, 0, 0, i), filters.At(c, 0, 0, 250-i))
		}
	}

	// Cutoffs start on a mel grid, so they are strictly increasing.
	low := sinc.Parameters()[0].Tensor().Data()
	for i := 1; i < len(low); i++ {
		assert.Greater(t, low[i], low[i-1])
	}
	assert.InDelta(t, 30, low[0], 1e-3)

	out := sinc.Forward(randn(backend, 2, 1, 1000))
	assert.Equal(t, tensor.Shape{2, 8, 750}, out.Shape())

	assert.Panics(t, func() { nn.NewSincConv(2, 8, 251, 1, 16000, backend) })
}
