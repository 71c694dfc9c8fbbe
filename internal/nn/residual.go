package nn

import (
	"github.com/born-ml/netbuild/internal/tensor"
)

// ResidualBlock is a two-convolution residual block over [N, C, H, W]:
//
//	out = ReLU(BN(Conv(ReLU(BN(Conv(x))))) + res(x))
//
// Both convolutions use "same" padding and stride 1, so the spatial size is
// preserved. res is the identity, or a 1x1 convolution when the channel
// count changes.
type ResidualBlock[B tensor.Backend] struct {
	conv1      *Conv2D[B]
	bn1        *BatchNorm[B]
	conv2      *Conv2D[B]
	bn2        *BatchNorm[B]
	downsample *Conv2D[B]
	backend    B
}

// NewResidualBlock creates a residual block.
func NewResidualBlock[B tensor.Backend](inChannels, outChannels int, kernel [2]int, backend B) *ResidualBlock[B] {
	same := tensor.DefaultConvOptions()
	same.Padding = SamePadding(kernel, same.Dilation)

	rb := &ResidualBlock[B]{
		conv1:   NewConv2D(inChannels, outChannels, kernel, same, true, backend),
		bn1:     NewBatchNorm2D(outChannels, backend),
		conv2:   NewConv2D(outChannels, outChannels, kernel, same, true, backend),
		bn2:     NewBatchNorm2D(outChannels, backend),
		backend: backend,
	}
	if inChannels != outChannels {
		rb.downsample = NewConv2D(inChannels, outChannels, [2]int{1, 1}, tensor.DefaultConvOptions(), true, backend)
	}
	return rb
}

// Forward runs the block.
func (rb *ResidualBlock[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	out := rb.relu(rb.bn1.Forward(rb.conv1.Forward(input)))
	out = rb.bn2.Forward(rb.conv2.Forward(out))

	residual := input
	if rb.downsample != nil {
		residual = rb.downsample.Forward(input)
	}
	return rb.relu(out.Add(residual))
}

func (rb *ResidualBlock[B]) relu(x *tensor.Tensor[B]) *tensor.Tensor[B] {
	return wrap(rb.backend.ReLU(x.Raw()), rb.backend)
}

// SetTraining toggles both batch normalizations.
func (rb *ResidualBlock[B]) SetTraining(training bool) {
	rb.bn1.SetTraining(training)
	rb.bn2.SetTraining(training)
}

// Parameters returns all parameters of the block.
func (rb *ResidualBlock[B]) Parameters() []*Parameter[B] {
	params := namespaced("conv1.0", rb.conv1)
	params = append(params, namespaced("conv1.1", rb.bn1)...)
	params = append(params, namespaced("conv2.0", rb.conv2)...)
	params = append(params, namespaced("conv2.1", rb.bn2)...)
	if rb.downsample != nil {
		params = append(params, namespaced("conv_ds", rb.downsample)...)
	}
	return params
}
