package weights

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/born-ml/netbuild/internal/backend/cpu"
	"github.com/born-ml/netbuild/internal/nn"
	"github.com/born-ml/netbuild/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newModel(seed int64) *nn.Sequential[*cpu.CPUBackend] {
	backend := cpu.New()
	nn.Seed(seed)
	return nn.NewSequential[*cpu.CPUBackend](
		nn.NewLinear(4, 3, backend),
		nn.NewReLU(backend),
		nn.NewLinear(3, 2, backend),
	)
}

func TestWriteRead(t *testing.T) {
	src := newModel(1)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, StateDict[*cpu.CPUBackend](src), map[string]string{"name": "mlp"}))

	state, meta, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "mlp"}, meta)
	require.Len(t, state, 4)
	assert.Equal(t, tensor.Shape{3, 4}, state["0.weight"].Shape())
	assert.Equal(t, tensor.Shape{2}, state["2.bias"].Shape())
	assert.Equal(t, src.Parameters()[0].Tensor().Data(), state["0.weight"].Data())
}

func TestLoadStateDict(t *testing.T) {
	src := newModel(1)
	dst := newModel(2)
	require.NotEqual(t, src.Parameters()[0].Tensor().Data(), dst.Parameters()[0].Tensor().Data())

	res, err := LoadStateDict[*cpu.CPUBackend](dst, StateDict[*cpu.CPUBackend](src), true)
	require.NoError(t, err)
	assert.Empty(t, res.Missing)
	assert.Empty(t, res.Unexpected)

	for i, p := range dst.Parameters() {
		assert.Equal(t, src.Parameters()[i].Tensor().Data(), p.Tensor().Data(), p.Name())
	}
	// Copies, not shared tensors.
	src.Parameters()[0].Tensor().Data()[0] = 42
	assert.NotEqual(t, float32(42), dst.Parameters()[0].Tensor().Data()[0])
}

func TestLoadStateDict_Conv1DLayout(t *testing.T) {
	backend := cpu.New()
	block := nn.NewTemporalBlock(2, 3, 2, 1, 1, 1, 0, backend)

	state := map[string]*tensor.RawTensor{}
	for name, shape := range map[string]tensor.Shape{
		"conv1.weight_v":    {3, 2, 2},
		"conv1.weight_g":    {3, 1, 1},
		"conv1.bias":        {3},
		"conv2.weight_v":    {3, 3, 2},
		"conv2.weight_g":    {3, 1, 1},
		"conv2.bias":        {3},
		"downsample.weight": {3, 2, 1},
		"downsample.bias":   {3},
	} {
		raw := tensor.MustRaw(shape)
		for i := range raw.Data() {
			raw.Data()[i] = 0.5
		}
		state[name] = raw
	}

	res, err := LoadStateDict[*cpu.CPUBackend](block, state, true)
	require.NoError(t, err)
	assert.Empty(t, res.Missing)

	out := block.Forward(tensor.Ones(tensor.Shape{1, 2, 5}, backend))
	assert.Equal(t, tensor.Shape{1, 3, 5}, out.Shape())
}

func TestLoadStateDict_Mismatch(t *testing.T) {
	state := StateDict[*cpu.CPUBackend](newModel(1))
	delete(state, "2.bias")
	state["2.running_mean"] = tensor.MustRaw(tensor.Shape{2})

	dst := newModel(2)
	before := append([]float32(nil), dst.Parameters()[0].Tensor().Data()...)

	res, err := LoadStateDict[*cpu.CPUBackend](dst, state, true)
	require.ErrorIs(t, err, ErrStateMismatch)
	assert.Equal(t, []string{"2.bias"}, res.Missing)
	assert.Equal(t, []string{"2.running_mean"}, res.Unexpected)
	assert.Equal(t, before, dst.Parameters()[0].Tensor().Data(), "strict failure must not copy")

	res, err = LoadStateDict[*cpu.CPUBackend](dst, state, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"2.bias"}, res.Missing)
	assert.Equal(t, state["0.weight"].Data(), dst.Parameters()[0].Tensor().Data())
}

func TestLoadStateDict_ShapeMismatch(t *testing.T) {
	state := StateDict[*cpu.CPUBackend](newModel(1))
	state["0.weight"] = tensor.MustRaw(tensor.Shape{4, 3})

	_, err := LoadStateDict[*cpu.CPUBackend](newModel(2), state, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0.weight")
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mlp.safetensors")
	src := newModel(1)
	require.NoError(t, SaveFile[*cpu.CPUBackend](path, src, nil))

	dst := newModel(3)
	res, meta, err := LoadFile[*cpu.CPUBackend](path, dst, true)
	require.NoError(t, err)
	assert.Nil(t, meta)
	assert.Empty(t, res.Missing)
	assert.Equal(t, src.Parameters()[3].Tensor().Data(), dst.Parameters()[3].Tensor().Data())
}

// encode writes a file with a hand-made header.
func encode(t *testing.T, header string, data []byte) *bytes.Reader {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint64(len(header))))
	buf.WriteString(header)
	buf.Write(data)
	return bytes.NewReader(buf.Bytes())
}

func TestRead_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		header string
		data   []byte
		kind   string
	}{
		{"out of bounds", `{"a":{"dtype":"F32","shape":[2],"data_offsets":[0,8]}}`, make([]byte, 4), "out_of_bounds"},
		{"overlap", `{"a":{"dtype":"F32","shape":[2],"data_offsets":[0,8]},"b":{"dtype":"F32","shape":[1],"data_offsets":[4,8]}}`, make([]byte, 8), "offset_overlap"},
		{"size mismatch", `{"a":{"dtype":"F32","shape":[3],"data_offsets":[0,8]}}`, make([]byte, 8), "size_mismatch"},
		{"bad shape", `{"a":{"dtype":"F32","shape":[0],"data_offsets":[0,0]}}`, nil, "invalid_shape"},
		{"negative offset", `{"a":{"dtype":"F32","shape":[1],"data_offsets":[-4,0]}}`, nil, "negative_offset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Read(encode(t, tt.header, tt.data))
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.kind, verr.Type)
		})
	}
}

func TestRead_UnsupportedDType(t *testing.T) {
	_, _, err := Read(encode(t, `{"a":{"dtype":"F16","shape":[2],"data_offsets":[0,4]}}`, make([]byte, 4)))
	require.ErrorIs(t, err, ErrUnsupportedDType)
}

func TestRead_HeaderTooLarge(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint64(MaxHeaderSize+1)))
	_, _, err := Read(&buf)
	require.ErrorIs(t, err, ErrHeaderTooLarge)
}
