package nn_test

import (
	"testing"

	"github.com/born-ml/netbuild/internal/backend/cpu"
	"github.com/born-ml/netbuild/internal/nn"
	"github.com/born-ml/netbuild/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatten(t *testing.T) {
	backend := cpu.New()

	out := nn.NewFlatten[*cpu.CPUBackend](1, -1).Forward(randn(backend, 8, 16, 4, 10))
	assert.Equal(t, tensor.Shape{8, 640}, out.Shape())

	out = nn.NewFlatten[*cpu.CPUBackend](1, 2).Forward(randn(backend, 8, 16, 4, 10))
	assert.Equal(t, tensor.Shape{8, 64, 10}, out.Shape())

	_, err := nn.FlattenShape(tensor.Shape{2, 3}, 1, 0)
	assert.Error(t, err)
}

func TestSqueeze(t *testing.T) {
	backend := cpu.New()

	out := nn.NewSqueeze[*cpu.CPUBackend](2).Forward(randn(backend, 4, 8, 1, 20))
	assert.Equal(t, tensor.Shape{4, 8, 20}, out.Shape())

	// Non-unit dimension is left alone.
	out = nn.NewSqueeze[*cpu.CPUBackend](1).Forward(randn(backend, 4, 8, 1, 20))
	assert.Equal(t, tensor.Shape{4, 8, 1, 20}, out.Shape())

	got, err := nn.SqueezeShape(tensor.Shape{1, 3, 1}, -1)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 3}, got)
}

func TestPermute(t *testing.T) {
	backend := cpu.New()
	x := fromSlice(t, backend, []float32{1, 2, 3, 4, 5, 6}, 1, 2, 3)

	out := nn.NewPermute[*cpu.CPUBackend](0, 2, 1).Forward(x)
	assert.Equal(t, tensor.Shape{1, 3, 2}, out.Shape())
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, out.Data())

	got, err := nn.PermuteShape(tensor.Shape{2, 3, 4}, []int{2, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{4, 2, 3}, got)

	_, err = nn.PermuteShape(tensor.Shape{2, 3, 4}, []int{0, 0, 1})
	assert.Error(t, err)
	_, err = nn.PermuteShape(tensor.Shape{2, 3, 4}, []int{0, 1})
	assert.Error(t, err)
}

func TestPermute_NegativeDims(t *testing.T) {
	backend := cpu.New()
	x := fromSlice(t, backend, []float32{1, 2, 3, 4, 5, 6}, 1, 2, 3)

	out := nn.NewPermute[*cpu.CPUBackend](0, -1, 1).Forward(x)
	assert.Equal(t, tensor.Shape{1, 3, 2}, out.Shape())
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, out.Data())

	predicted, err := nn.PermuteShape(x.Shape(), []int{0, -1, 1})
	require.NoError(t, err)
	assert.Equal(t, predicted, out.Shape())
}

func TestMeanMax(t *testing.T) {
	backend := cpu.New()
	x := fromSlice(t, backend, []float32{1, 5, 3, 2, 2, 8}, 1, 2, 3)

	mean := nn.NewMean[*cpu.CPUBackend](2, false).Forward(x)
	assert.Equal(t, tensor.Shape{1, 2}, mean.Shape())
	assert.Equal(t, []float32{3, 4}, mean.Data())

	maxOut := nn.NewMax[*cpu.CPUBackend](2, true).Forward(x)
	assert.Equal(t, tensor.Shape{1, 2, 1}, maxOut.Shape())
	assert.Equal(t, []float32{5, 8}, maxOut.Data())

	got, err := nn.ReduceShape(tensor.Shape{4, 8, 10}, 1, false)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{4, 10}, got)
}

func TestAbsIdentity(t *testing.T) {
	backend := cpu.New()
	x := fromSlice(t, backend, []float32{-1, 2, -3}, 3)

	assert.Equal(t, []float32{1, 2, 3}, nn.NewAbs[*cpu.CPUBackend]().Forward(x).Data())
	assert.Same(t, x, nn.NewIdentity[*cpu.CPUBackend]().Forward(x))
}

func TestChomp1D(t *testing.T) {
	backend := cpu.New()
	x := fromSlice(t, backend, []float32{1, 2, 3, 4, 5, 6}, 1, 2, 3)

	out := nn.NewChomp1D[*cpu.CPUBackend](1).Forward(x)
	assert.Equal(t, tensor.Shape{1, 2, 2}, out.Shape())
	assert.Equal(t, []float32{1, 2, 4, 5}, out.Data())

	assert.Panics(t, func() { nn.NewChomp1D[*cpu.CPUBackend](3).Forward(x) })
}

func TestSequential(t *testing.T) {
	backend := cpu.New()
	model := nn.NewSequential[*cpu.CPUBackend](
		nn.NewLinear(4, 8, backend),
		nn.NewReLU(backend),
		nn.NewDropout[*cpu.CPUBackend](0.5),
	)
	model.Add(nn.NewLinear(8, 2, backend))

	assert.Equal(t, 4, model.Len())
	params := model.Parameters()
	require.Len(t, params, 4)
	assert.Equal(t, "0.weight", params[0].Name())
	assert.Equal(t, "3.bias", params[3].Name())

	model.SetTraining(false)
	x := randn(backend, 3, 4)
	a := model.Forward(x)
	b := model.Forward(x)
	assert.Equal(t, tensor.Shape{3, 2}, a.Shape())
	assert.Equal(t, a.Data(), b.Data())
}
