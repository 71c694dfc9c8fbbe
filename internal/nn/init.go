package nn

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/born-ml/netbuild/internal/tensor"
)

var (
	rngMu sync.Mutex
	//nolint:gosec // Using math/rand for weight initialization (not security-critical)
	rng = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Seed reseeds the generator used for weight initialization, dropout masks
// and stochastic depth. Building the same network twice after the same Seed
// yields identical weights.
func Seed(seed int64) {
	rngMu.Lock()
	defer rngMu.Unlock()
	rng = rand.New(rand.NewSource(seed)) //nolint:gosec // reproducible init
}

func randFloat() float64 {
	rngMu.Lock()
	defer rngMu.Unlock()
	return rng.Float64()
}

// Uniform creates a tensor with values drawn from U(-bound, bound).
func Uniform[B tensor.Backend](bound float64, shape tensor.Shape, backend B) *tensor.Tensor[B] {
	t := tensor.Zeros(shape, backend)
	data := t.Data()

	rngMu.Lock()
	defer rngMu.Unlock()
	for i := range data {
		data[i] = float32((rng.Float64()*2.0 - 1.0) * bound)
	}
	return t
}

// KaimingUniform initializes weights the way PyTorch initializes Linear and
// Conv layers: U(-1/sqrt(fan_in), 1/sqrt(fan_in)).
//
// Parameters:
//   - fanIn: Number of input units (in_features, or in_channels * kernel area)
//   - shape: Shape of the weight tensor
//   - backend: Backend to use for tensor creation
func KaimingUniform[B tensor.Backend](fanIn int, shape tensor.Shape, backend B) *tensor.Tensor[B] {
	return Uniform(1/math.Sqrt(float64(fanIn)), shape, backend)
}

// Normal creates a tensor with values drawn from N(mean, std²).
func Normal[B tensor.Backend](mean, std float64, shape tensor.Shape, backend B) *tensor.Tensor[B] {
	rngMu.Lock()
	t := tensor.Randn(shape, rng, backend)
	rngMu.Unlock()

	data := t.Data()
	for i := range data {
		data[i] = float32(mean + std*float64(data[i]))
	}
	return t
}

// Zeros creates a tensor filled with zeros.
func Zeros[B tensor.Backend](shape tensor.Shape, backend B) *tensor.Tensor[B] {
	return tensor.Zeros(shape, backend)
}

// Ones creates a tensor filled with ones.
func Ones[B tensor.Backend](shape tensor.Shape, backend B) *tensor.Tensor[B] {
	return tensor.Ones(shape, backend)
}
