package nn

import (
	"fmt"

	"github.com/born-ml/netbuild/internal/tensor"
)

// BatchNorm normalizes each channel (dimension 1) over the batch and all
// remaining dimensions.
//
// Formula: y = (x - mean) / sqrt(var + eps) * gamma + beta
//
// In training mode the statistics come from the current batch (biased
// variance) and the running estimates are updated with momentum 0.1 using
// the unbiased variance. In evaluation mode the running estimates are used.
//
// The accepted input rank depends on the constructor:
//   - NewBatchNorm1D: [batch, features] or [batch, features, time]
//   - NewBatchNorm2D: [batch, channels, height, width]
type BatchNorm[B tensor.Backend] struct {
	numFeatures int
	ranks       []int
	eps         float32
	momentum    float32
	training    bool

	gamma *Parameter[B] // [num_features] or nil when affine is false
	beta  *Parameter[B]

	runningMean *tensor.Tensor[B]
	runningVar  *tensor.Tensor[B]

	backend B
}

func newBatchNorm[B tensor.Backend](numFeatures int, affine bool, ranks []int, backend B) *BatchNorm[B] {
	if numFeatures <= 0 {
		panic(fmt.Sprintf("batchnorm: invalid num_features %d", numFeatures))
	}
	bn := &BatchNorm[B]{
		numFeatures: numFeatures,
		ranks:       ranks,
		eps:         1e-5,
		momentum:    0.1,
		training:    true,
		runningMean: Zeros(tensor.Shape{numFeatures}, backend),
		runningVar:  Ones(tensor.Shape{numFeatures}, backend),
		backend:     backend,
	}
	if affine {
		bn.gamma = NewParameter("weight", Ones(tensor.Shape{numFeatures}, backend))
		bn.beta = NewParameter("bias", Zeros(tensor.Shape{numFeatures}, backend))
	}
	return bn
}

// NewBatchNorm1D creates batch normalization for [N, C] or [N, C, T] inputs.
func NewBatchNorm1D[B tensor.Backend](numFeatures int, affine bool, backend B) *BatchNorm[B] {
	return newBatchNorm(numFeatures, affine, []int{2, 3}, backend)
}

// NewBatchNorm2D creates batch normalization for [N, C, H, W] inputs.
func NewBatchNorm2D[B tensor.Backend](numFeatures int, backend B) *BatchNorm[B] {
	return newBatchNorm(numFeatures, true, []int{4}, backend)
}

// Forward normalizes the input.
func (bn *BatchNorm[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	shape := input.Shape()
	if !bn.acceptsRank(len(shape)) || shape[1] != bn.numFeatures {
		panic(fmt.Sprintf("batchnorm: expected rank %v input with %d channels, got %v", bn.ranks, bn.numFeatures, shape))
	}

	// [N, C, S] view with S = product of trailing dimensions.
	x := input.Reshape(shape[0], shape[1], -1)
	count := shape.NumElements() / bn.numFeatures

	var mean, variance *tensor.Tensor[B]
	if bn.training {
		if count <= 1 {
			panic(fmt.Sprintf("batchnorm: expected more than 1 value per channel when training, got input %v", shape))
		}
		mean = x.MeanDim(2, true).MeanDim(0, true)
		centered := x.Sub(mean)
		variance = centered.Mul(centered).MeanDim(2, true).MeanDim(0, true)
		bn.updateRunning(mean.Data(), variance.Data(), count)
	} else {
		mean = bn.runningMean.Reshape(1, bn.numFeatures, 1)
		variance = bn.runningVar.Reshape(1, bn.numFeatures, 1)
	}

	out := x.Sub(mean).Div(variance.AddScalar(bn.eps).Sqrt())
	if bn.gamma != nil {
		out = out.Mul(bn.gamma.Tensor().Reshape(1, bn.numFeatures, 1)).
			Add(bn.beta.Tensor().Reshape(1, bn.numFeatures, 1))
	}
	return out.Reshape(shape...)
}

func (bn *BatchNorm[B]) updateRunning(mean, variance []float32, count int) {
	unbias := float32(count) / float32(count-1)
	rm, rv := bn.runningMean.Data(), bn.runningVar.Data()
	for c := range rm {
		rm[c] = (1-bn.momentum)*rm[c] + bn.momentum*mean[c]
		rv[c] = (1-bn.momentum)*rv[c] + bn.momentum*variance[c]*unbias
	}
}

func (bn *BatchNorm[B]) acceptsRank(rank int) bool {
	for _, r := range bn.ranks {
		if r == rank {
			return true
		}
	}
	return false
}

// SetTraining switches between batch statistics and running statistics.
func (bn *BatchNorm[B]) SetTraining(training bool) {
	bn.training = training
}

// Parameters returns [weight, bias], or nil when affine is disabled.
func (bn *BatchNorm[B]) Parameters() []*Parameter[B] {
	if bn.gamma == nil {
		return nil
	}
	return []*Parameter[B]{bn.gamma, bn.beta}
}

// RunningMean returns the running mean estimate.
func (bn *BatchNorm[B]) RunningMean() *tensor.Tensor[B] {
	return bn.runningMean
}

// RunningVar returns the running variance estimate.
func (bn *BatchNorm[B]) RunningVar() *tensor.Tensor[B] {
	return bn.runningVar
}

// BatchNorm1DT applies BatchNorm1D to [batch, time, features] input by
// normalizing over the transposed [batch, features, time] view.
type BatchNorm1DT[B tensor.Backend] struct {
	bn *BatchNorm[B]
}

// NewBatchNorm1DT creates a channels-last batch normalization.
func NewBatchNorm1DT[B tensor.Backend](numFeatures int, backend B) *BatchNorm1DT[B] {
	return &BatchNorm1DT[B]{bn: NewBatchNorm1D(numFeatures, true, backend)}
}

// Forward normalizes the last dimension of a [N, T, C] input.
func (m *BatchNorm1DT[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	if len(input.Shape()) != 3 {
		panic(fmt.Sprintf("batchnorm1dT: expected 3D input [N,T,C], got %v", input.Shape()))
	}
	return m.bn.Forward(input.Transpose(0, 2, 1)).Transpose(0, 2, 1)
}

// SetTraining forwards the mode to the wrapped BatchNorm1D.
func (m *BatchNorm1DT[B]) SetTraining(training bool) {
	m.bn.SetTraining(training)
}

// Parameters returns the wrapped module's parameters.
func (m *BatchNorm1DT[B]) Parameters() []*Parameter[B] {
	return namespaced("module", m.bn)
}
