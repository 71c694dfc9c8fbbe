package factory_test

import (
	"errors"
	"testing"

	"github.com/born-ml/netbuild/internal/backend/cpu"
	"github.com/born-ml/netbuild/internal/factory"
	"github.com/born-ml/netbuild/internal/nn"
	"github.com/born-ml/netbuild/internal/tensor"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gopkg.in/yaml.v3"
)

func parseLayers(t *testing.T, src string) []factory.LayerSpec {
	t.Helper()
	var specs []factory.LayerSpec
	require.NoError(t, yaml.Unmarshal([]byte(src), &specs))
	return specs
}

func outShapes[B tensor.Backend](net *factory.Network[B]) []tensor.Shape {
	shapes := make([]tensor.Shape, len(net.Layers))
	for i, info := range net.Layers {
		shapes[i] = info.Out
	}
	return shapes
}

func TestBuild_Conv2DPipeline(t *testing.T) {
	backend := cpu.New()
	specs := parseLayers(t, `
- Conv2d: {in_channels: -1, out_channels: 4, kernel_size: 3, padding: same}
- BatchNorm2d: {num_features: -1}
- type: Activation
  params: ReLU
- MaxPool2d: {kernel_size: [2, 4]}
- Conv2dRes: {out_channels: 6, kernel_size: 3, padding: same, stride: 1}
- Conv2dNext: {in_channels: -1, out_channels: -1}
- Conv2dDS: {out_channels: 8, kernel_size: 3, stride: 2}
- SoftmaxWeight: {}
- Squeeze: {dim: 3}
- Flatten: {start_dim: 1}
- Linear: {in_features: -1, out_features: 5}
- Activation: Softmax
`)

	nn.Seed(1)
	net, err := factory.Build(specs, tensor.Shape{2, 1, 16, 40}, backend)
	require.NoError(t, err)

	want := []tensor.Shape{
		{2, 4, 16, 40},
		{2, 4, 16, 40},
		{2, 4, 16, 40},
		{2, 4, 8, 10},
		{2, 6, 8, 10},
		{2, 6, 8, 10},
		{2, 8, 3, 4},
		{2, 4, 3, 1},
		{2, 4, 3},
		{2, 12},
		{2, 5},
		{2, 5},
	}
	if diff := cmp.Diff(want, outShapes(net)); diff != "" {
		t.Fatalf("predicted shapes mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, tensor.Shape{2, 5}, net.OutputShape)

	conv := net.Layers[0].Params.(factory.Conv2dParams)
	assert.Equal(t, 1, conv.InChannels)
	assert.Equal(t, factory.Pair{1, 1}, conv.Stride)
	assert.Equal(t, 4, net.Layers[1].Params.(factory.BatchNormParams).NumFeatures)
	assert.Equal(t, 12, net.Layers[10].Params.(factory.LinearParams).InFeatures)
	assert.Equal(t, 6, net.Layers[5].Params.(factory.Conv2dNextParams).OutChannels)

	net.SetTraining(false)
	require.NoError(t, net.Verify(nn.Normal(0, 1, net.InputShape, backend)))

	out := net.Forward(nn.Normal(0, 1, net.InputShape, backend))
	assert.Equal(t, tensor.Shape{2, 5}, out.Shape())
	for row := 0; row < 2; row++ {
		var sum float32
		for c := 0; c < 5; c++ {
			sum += out.At(row, c)
		}
		assert.InDelta(t, 1, sum, 1e-5)
	}
}

func TestBuild_SequencePipeline(t *testing.T) {
	backend := cpu.New()
	core, logs := observer.New(zap.WarnLevel)
	specs := parseLayers(t, `
- SincNet: {in_channels: -1, out_channels: 8, kernel_size: 50, stride: 2, sr_hz: 16000}
- AbsLayer:
- MaxPool1d: {kernel_size: 3}
- BatchNorm1d: {num_features: -1}
- Conv1d: {out_channels: 16, kernel_size: 5, stride: 1}
- Conv1dTCN: {num_channels: [16, 12]}
- Permute: {shape: [0, 2, 1]}
- BatchNorm1dT: {num_features: -1}
- LayerNorm: {normalized_shape: -1}
- Linear: {out_features: 3}
- Mean: {dim: 1}
`)

	net, err := factory.Build(specs, tensor.Shape{2, 1, 400}, backend, factory.WithLogger(zap.New(core)))
	require.NoError(t, err)

	want := []tensor.Shape{
		{2, 8, 175},
		{2, 8, 175},
		{2, 8, 58},
		{2, 8, 58},
		{2, 16, 54},
		{2, 12, 54},
		{2, 54, 12},
		{2, 54, 12},
		{2, 54, 12},
		{2, 54, 3},
		{2, 3},
	}
	if diff := cmp.Diff(want, outShapes(net)); diff != "" {
		t.Fatalf("predicted shapes mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, 51, net.Layers[0].Params.(factory.SincNetParams).KernelSize)
	assert.Equal(t, 1, logs.FilterField(zap.String("param", "kernel_size")).Len())
	assert.Equal(t, factory.IntList{54, 12}, net.Layers[8].Params.(factory.LayerNormParams).NormalizedShape)
	assert.Equal(t, 16, net.Layers[5].Params.(factory.Conv1dTCNParams).InChannels)

	net.SetTraining(false)
	require.NoError(t, net.Verify(nn.Normal(0, 1, net.InputShape, backend)))
}

func TestLayerSpec_Forms(t *testing.T) {
	specs := parseLayers(t, `
- type: Conv2d
  params: {out_channels: 4, kernel_size: [3, 5], padding: [1, 2]}
- Dropout: 0.3
- Activation: {name: Softmax, dim: 2}
- Identity: {}
`)
	require.Len(t, specs, 4)
	assert.Equal(t, "Conv2d", specs[0].Type)
	assert.Equal(t, "Dropout", specs[1].Type)

	var conv factory.Conv2dParams
	unknown, err := specs[0].Decode(&conv)
	require.NoError(t, err)
	assert.Empty(t, unknown)
	assert.Equal(t, factory.Pair{3, 5}, conv.KernelSize)
	assert.Equal(t, factory.Padding{Mode: factory.PadExplicit, Amount: factory.Pair{1, 2}}, conv.Padding)

	var drop factory.DropoutParams
	_, err = specs[1].Decode(&drop)
	require.NoError(t, err)
	require.NotNil(t, drop.P)
	assert.InDelta(t, 0.3, *drop.P, 1e-6)

	var act factory.ActivationParams
	_, err = specs[2].Decode(&act)
	require.NoError(t, err)
	assert.Equal(t, "Softmax", act.Name)
	require.NotNil(t, act.Dim)
	assert.Equal(t, 2, *act.Dim)

	var bad []factory.LayerSpec
	assert.Error(t, yaml.Unmarshal([]byte(`- {Conv2d: {}, Linear: {}}`), &bad))
	assert.Error(t, yaml.Unmarshal([]byte(`- {type: Conv2d, extra: 1}`), &bad))
	assert.Error(t, yaml.Unmarshal([]byte(`- Conv2d`), &bad))
}

func TestLayerSpec_RoundTrip(t *testing.T) {
	spec := factory.MustLayerSpec("Linear", map[string]int{"out_features": 7})

	out, err := yaml.Marshal([]factory.LayerSpec{spec})
	require.NoError(t, err)

	specs := parseLayers(t, string(out))
	require.Len(t, specs, 1)
	var p factory.LinearParams
	_, err = specs[0].Decode(&p)
	require.NoError(t, err)
	assert.Equal(t, 7, p.OutFeatures)
}

func TestBuild_Errors(t *testing.T) {
	backend := cpu.New()

	tests := []struct {
		name   string
		layers string
		input  tensor.Shape
		target error
		index  int
	}{
		{"unknown type", "- Linear: {out_features: 4}\n- Conv3d: {}", tensor.Shape{2, 8}, factory.ErrUnknownLayer, 1},
		{"conv2d on rank 3", "- Conv2d: {out_channels: 4, kernel_size: 3}", tensor.Shape{2, 1, 40}, factory.ErrRank, 0},
		{"convnext residual", "- Conv2dNext: {out_channels: 8}", tensor.Shape{2, 4, 8, 8}, factory.ErrParam, 0},
		{"odd split", "- AutoPoolWeightSplit: {}", tensor.Shape{2, 5, 1, 8}, factory.ErrParam, 0},
		{"odd softmax split", "- SoftmaxWeight:", tensor.Shape{2, 3, 1, 8}, factory.ErrParam, 0},
		{"unknown activation", "- Activation: Swish", tensor.Shape{2, 8}, factory.ErrParam, 0},
		{"kernel too large", "- Conv1d: {out_channels: 2, kernel_size: 9}", tensor.Shape{1, 1, 4}, factory.ErrParam, 0},
		{"channel mismatch", "- Linear: {in_features: 3, out_features: 2}", tensor.Shape{2, 8}, factory.ErrParam, 0},
		{"same with stride", "- Conv2d: {out_channels: 2, kernel_size: 3, stride: 2, padding: same}", tensor.Shape{1, 1, 8, 8}, factory.ErrParam, 0},
		{"sincnet channels", "- SincNet: {out_channels: 4, kernel_size: 11}", tensor.Shape{1, 2, 100}, factory.ErrParam, 0},
		{"squeeze without dim", "- Squeeze: {}", tensor.Shape{1, 1, 4}, factory.ErrParam, 0},
		{"bad permutation", "- Permute: {shape: [0, 1]}", tensor.Shape{1, 2, 3}, factory.ErrParam, 0},
		{"malformed params", "- Linear: {out_features: many}", tensor.Shape{2, 8}, factory.ErrParam, 0},
		{"negative conv1d padding", "- Conv1d: {out_channels: 2, kernel_size: 3, padding: -1}", tensor.Shape{1, 1, 20}, factory.ErrParam, 0},
		{"negative conv1d end padding", "- Conv1d: {out_channels: 2, kernel_size: 3, padding: [0, -2]}", tensor.Shape{1, 1, 20}, factory.ErrParam, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := factory.Build(parseLayers(t, tt.layers), tt.input, backend)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target), "got %v", err)

			var layerErr *factory.LayerError
			require.True(t, errors.As(err, &layerErr))
			assert.Equal(t, tt.index, layerErr.Index)
		})
	}

	_, err := factory.Build(nil, tensor.Shape{1, 2}, backend)
	assert.ErrorIs(t, err, factory.ErrParam)
}

func TestBuild_PredictedShapeMatchesForward(t *testing.T) {
	backend := cpu.New()

	tests := []struct {
		name   string
		layers string
		input  tensor.Shape
		want   tensor.Shape
	}{
		{"permute negative dims", "- Permute: {shape: [0, -1, 1]}", tensor.Shape{2, 3, 5}, tensor.Shape{2, 5, 3}},
		{"permute all negative", "- Permute: {shape: [-3, -1, -2]}", tensor.Shape{2, 3, 5}, tensor.Shape{2, 5, 3}},
		{"conv1d scalar padding", "- Conv1d: {out_channels: 2, kernel_size: 3, padding: 1}", tensor.Shape{1, 1, 20}, tensor.Shape{1, 2, 20}},
		{"conv1d start end padding", "- Conv1d: {out_channels: 2, kernel_size: 3, padding: [1, 2]}", tensor.Shape{1, 1, 20}, tensor.Shape{1, 2, 21}},
		{"conv1d same dilated", "- Conv1d: {out_channels: 3, kernel_size: 4, dilation: 3, padding: same}", tensor.Shape{2, 2, 17}, tensor.Shape{2, 3, 17}},
		{"conv1d strided", "- Conv1d: {out_channels: 2, kernel_size: 5, stride: 3, padding: [2, 0]}", tensor.Shape{1, 1, 20}, tensor.Shape{1, 2, 6}},
		{"conv2d groups dilation", "- Conv2d: {out_channels: 6, kernel_size: 3, groups: 2, dilation: 2}", tensor.Shape{1, 4, 10, 10}, tensor.Shape{1, 6, 6, 6}},
		{"conv2d depthwise same", "- Conv2d: {out_channels: 4, kernel_size: [3, 5], groups: 4, padding: same}", tensor.Shape{2, 4, 7, 9}, tensor.Shape{2, 4, 7, 9}},
		{"dropout", "- Dropout: 0.5", tensor.Shape{4, 6}, tensor.Shape{4, 6}},
		{"prelu", "- Activation: PReLU", tensor.Shape{2, 3, 4}, tensor.Shape{2, 3, 4}},
		{"leaky relu", "- Activation: LeakyReLU", tensor.Shape{2, 3, 4}, tensor.Shape{2, 3, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			net, err := factory.Build(parseLayers(t, tt.layers), tt.input, backend)
			require.NoError(t, err)
			assert.Equal(t, tt.want, net.OutputShape)
			require.NoError(t, net.Verify(nn.Normal(0, 1, tt.input, backend)))
		})
	}
}

func TestBuild_ActivationAndDropoutForward(t *testing.T) {
	backend := cpu.New()
	input, err := tensor.FromSlice([]float32{-4, 2, 0, -1}, tensor.Shape{1, 4}, backend)
	require.NoError(t, err)

	tests := []struct {
		layers string
		want   []float32
	}{
		{"- Activation: LeakyReLU", []float32{-0.04, 2, 0, -0.01}},
		{"- Activation: PReLU", []float32{-1, 2, 0, -0.25}},
		{"- Dropout: 0.5", []float32{-4, 2, 0, -1}},
	}
	for _, tt := range tests {
		t.Run(tt.layers, func(t *testing.T) {
			net, err := factory.Build(parseLayers(t, tt.layers), input.Shape(), backend)
			require.NoError(t, err)
			net.SetTraining(false)
			assert.InDeltaSlice(t, tt.want, net.Forward(input).Data(), 1e-6)
		})
	}

	// In training mode every element is either dropped or scaled by 1/(1-p).
	net, err := factory.Build(parseLayers(t, "- Dropout: 0.5"), tensor.Shape{64}, backend)
	require.NoError(t, err)
	for _, v := range net.Forward(tensor.Ones(tensor.Shape{64}, backend)).Data() {
		assert.Contains(t, []float32{0, 2}, v)
	}
}

func TestBatchNorm_WarnsOnIgnoredAffine(t *testing.T) {
	backend := cpu.New()

	tests := []struct {
		layers string
		input  tensor.Shape
		warns  int
	}{
		{"- BatchNorm2d: {affine: false}", tensor.Shape{2, 3, 4, 4}, 1},
		{"- BatchNorm1dT: {affine: true}", tensor.Shape{2, 5, 3}, 1},
		{"- BatchNorm2d: {}", tensor.Shape{2, 3, 4, 4}, 0},
		{"- BatchNorm1d: {affine: false}", tensor.Shape{2, 3, 4}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.layers, func(t *testing.T) {
			core, logs := observer.New(zap.WarnLevel)
			_, err := factory.Build(parseLayers(t, tt.layers), tt.input, backend, factory.WithLogger(zap.New(core)))
			require.NoError(t, err)

			entries := logs.FilterField(zap.String("param", "affine")).All()
			assert.Len(t, entries, tt.warns)
			for _, entry := range entries {
				assert.Equal(t, 0, int(entry.ContextMap()["index"].(int64)))
			}
		})
	}
}

func TestConv2dRes_WarnsAndOverrides(t *testing.T) {
	backend := cpu.New()
	core, logs := observer.New(zap.WarnLevel)

	specs := parseLayers(t, "- Conv2dRes: {out_channels: 4, kernel_size: 3, padding: valid, stride: 2}")
	net, err := factory.Build(specs, tensor.Shape{1, 2, 6, 6}, backend, factory.WithLogger(zap.New(core)))
	require.NoError(t, err)

	assert.Equal(t, tensor.Shape{1, 4, 6, 6}, net.OutputShape)
	assert.Equal(t, 2, logs.Len())
	for _, entry := range logs.All() {
		assert.Equal(t, "Conv2dRes", entry.ContextMap()["layer"])
	}

	p := net.Layers[0].Params.(factory.Conv2dResParams)
	assert.True(t, p.Padding.IsSame())
	assert.Equal(t, factory.Pair{1, 1}, p.Stride)
	require.NoError(t, net.Verify(nn.Normal(0, 1, net.InputShape, backend)))
}

func TestBuild_WarnsOnUnknownParams(t *testing.T) {
	backend := cpu.New()
	core, logs := observer.New(zap.WarnLevel)

	specs := parseLayers(t, "- Linear: {out_features: 2, activation: relu}")
	_, err := factory.Build(specs, tensor.Shape{1, 4}, backend, factory.WithLogger(zap.New(core)))
	require.NoError(t, err)

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "activation", logs.All()[0].ContextMap()["param"])
}

func TestDoubleChannel_Marker(t *testing.T) {
	backend := cpu.New()
	specs := parseLayers(t, `
- ConvTranspose2d: {out_channels: 4, kernel_size: 2, stride: 2}
- DoubleChannel:
- Conv2d: {out_channels: 4, kernel_size: 3, padding: same}
`)
	net, err := factory.Build(specs, tensor.Shape{1, 8, 4, 5}, backend)
	require.NoError(t, err)

	want := []tensor.Shape{{1, 4, 8, 10}, {1, 8, 8, 10}, {1, 4, 8, 10}}
	if diff := cmp.Diff(want, outShapes(net)); diff != "" {
		t.Fatalf("predicted shapes mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, net.HasMarkers())
	assert.Equal(t, 8, net.Layers[2].Params.(factory.Conv2dParams).InChannels)

	// Verification covers the layers before the marker only.
	require.NoError(t, net.Verify(nn.Normal(0, 1, net.InputShape, backend)))
}

func TestVerify_ReportsForwardPanics(t *testing.T) {
	backend := cpu.New()
	specs := parseLayers(t, "- Linear: {out_features: 2}\n- BatchNorm1d: {}")
	net, err := factory.Build(specs, tensor.Shape{1, 4}, backend)
	require.NoError(t, err)

	// Training-mode batch norm needs more than one value per channel.
	err = net.Verify(nn.Normal(0, 1, net.InputShape, backend))
	var layerErr *factory.LayerError
	require.True(t, errors.As(err, &layerErr))
	assert.Equal(t, 1, layerErr.Index)

	err = net.Verify(nn.Normal(0, 1, tensor.Shape{3, 4}, backend))
	assert.ErrorIs(t, err, factory.ErrRank)
}

func TestParseComponent(t *testing.T) {
	backend := cpu.New()
	in := tensor.Shape{4, 3, 20}

	module, out, err := factory.ParseComponent(factory.MustLayerSpec("MaxPool1d", map[string]int{"kernel_size": 4, "stride": 2}), in, backend)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{4, 3, 9}, out)
	assert.Equal(t, tensor.Shape{4, 3, 20}, in, "input shape must not change")
	assert.Equal(t, out, module.Forward(nn.Normal(0, 1, in, backend)).Shape())

	_, out, err = factory.ParseComponent(factory.MustLayerSpec("Max", map[string]any{"dim": -1, "keepdim": true}), in, backend)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{4, 3, 1}, out)

	_, out, err = factory.ParseComponent(factory.MustLayerSpec("AutoPoolWeight", nil), tensor.Shape{2, 6, 1, 30}, backend)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 6, 1, 1}, out)

	_, out, err = factory.ParseComponent(factory.MustLayerSpec("AutoPoolWeightSplit", nil), tensor.Shape{2, 6, 1, 30}, backend)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 3, 1, 1}, out)
}

func TestFactory_Register(t *testing.T) {
	backend := cpu.New()
	f := factory.New(backend)
	assert.Contains(t, f.Types(), "Conv2dNext")
	assert.Len(t, f.Types(), 28)

	f.Register("Halve", func(ctx *factory.Context, spec factory.LayerSpec, in tensor.Shape, b *cpu.CPUBackend) (*factory.Layer[*cpu.CPUBackend], error) {
		return &factory.Layer[*cpu.CPUBackend]{Module: nn.NewMaxPool1D(2, 2, b), Out: tensor.Shape{in[0], in[1], in[2] / 2}}, nil
	})
	net, err := f.Build(parseLayers(t, "- Halve:\n- Halve:"), tensor.Shape{1, 2, 16})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 2, 4}, net.OutputShape)
}

func TestSeededBuildIsReproducible(t *testing.T) {
	backend := cpu.New()
	specs := parseLayers(t, "- Conv1dTCN: {num_channels: [4]}\n- Linear: {out_features: 3}")

	build := func() []float32 {
		nn.Seed(99)
		net, err := factory.Build(specs, tensor.Shape{1, 2, 8}, backend)
		require.NoError(t, err)
		var all []float32
		for _, p := range net.Parameters() {
			all = append(all, p.Tensor().Data()...)
		}
		return all
	}
	assert.Equal(t, build(), build())
}

func TestFormatParams(t *testing.T) {
	backend := cpu.New()
	specs := parseLayers(t, "- Conv2d: {out_channels: 16, kernel_size: 3, padding: same}\n- Activation: ReLU")
	net, err := factory.Build(specs, tensor.Shape{1, 1, 8, 8}, backend)
	require.NoError(t, err)

	text := factory.FormatParams(net.Layers[0].Params)
	assert.Contains(t, text, "in_channels: 1")
	assert.Contains(t, text, "kernel_size: [3, 3]")
	assert.Contains(t, text, "padding: same")
	assert.NotContains(t, text, "\n")

	assert.Equal(t, "ReLU", factory.FormatParams(net.Layers[1].Params))
	assert.Equal(t, "", factory.FormatParams(nil))
}
