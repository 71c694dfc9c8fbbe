package weights

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/born-ml/netbuild/internal/nn"
	"github.com/born-ml/netbuild/internal/tensor"
)

// StateDict maps each parameter name of m to its tensor. The tensors are
// shared with m.
//
// Shapes follow the PyTorch layout: Conv1d weights are [out, in, kernel]
// and weight-normalized g is [out, 1, 1].
func StateDict[B tensor.Backend](m nn.Module[B]) map[string]*tensor.RawTensor {
	params := m.Parameters()
	state := make(map[string]*tensor.RawTensor, len(params))
	for _, p := range params {
		state[p.Name()] = p.Tensor().Raw()
	}
	return state
}

// LoadResult lists the names that did not line up during a load.
type LoadResult struct {
	Missing    []string // module parameters absent from the state
	Unexpected []string // state entries with no matching parameter
}

// LoadStateDict copies state into the parameters of m. Shapes must match
// exactly. With strict set, any missing or unexpected name is an error and
// nothing is copied.
func LoadStateDict[B tensor.Backend](m nn.Module[B], state map[string]*tensor.RawTensor, strict bool) (LoadResult, error) {
	var res LoadResult
	params := m.Parameters()
	known := make(map[string]bool, len(params))
	for _, p := range params {
		known[p.Name()] = true
		raw, ok := state[p.Name()]
		if !ok {
			res.Missing = append(res.Missing, p.Name())
			continue
		}
		if !raw.Shape().Equal(p.Tensor().Shape()) {
			return res, fmt.Errorf("parameter %s: shape %v in state, module has %v", p.Name(), raw.Shape(), p.Tensor().Shape())
		}
	}
	for name := range state {
		if !known[name] {
			res.Unexpected = append(res.Unexpected, name)
		}
	}
	sort.Strings(res.Unexpected)

	if strict && (len(res.Missing) > 0 || len(res.Unexpected) > 0) {
		return res, fmt.Errorf("%w: missing %v, unexpected %v", ErrStateMismatch, res.Missing, res.Unexpected)
	}
	for _, p := range params {
		if raw, ok := state[p.Name()]; ok {
			copy(p.Tensor().Data(), raw.Data())
		}
	}
	return res, nil
}

// SaveFile writes the parameters of m to path.
func SaveFile[B tensor.Backend](path string, m nn.Module[B], metadata map[string]string) (err error) {
	//nolint:gosec // G304: path comes from the user
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()
	return Write(f, StateDict(m), metadata)
}

// LoadFile reads path and loads it into m.
func LoadFile[B tensor.Backend](path string, m nn.Module[B], strict bool) (LoadResult, map[string]string, error) {
	//nolint:gosec // G304: path comes from the user
	f, err := os.Open(path)
	if err != nil {
		return LoadResult{}, nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	state, metadata, err := Read(f)
	if err != nil {
		return LoadResult{}, nil, fmt.Errorf("%s: %w", path, err)
	}
	res, err := LoadStateDict(m, state, strict)
	return res, metadata, err
}
