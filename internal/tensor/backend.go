package tensor

// ConvOptions configures a 2D convolution.
//
// Padding is {top, bottom, left, right} so that "same" padding with even
// kernels can pad asymmetrically.
type ConvOptions struct {
	Stride   [2]int
	Padding  [4]int
	Dilation [2]int
	Groups   int
}

// DefaultConvOptions returns stride 1, no padding, dilation 1, one group.
func DefaultConvOptions() ConvOptions {
	return ConvOptions{
		Stride:   [2]int{1, 1},
		Dilation: [2]int{1, 1},
		Groups:   1,
	}
}

// Backend defines the interface that all compute backends must implement.
// Backends handle the actual computation for tensor operations.
//
// All operations work on float32 data and return freshly allocated tensors.
// Shape misuse is a programming error and panics.
type Backend interface {
	// Element-wise binary operations (NumPy broadcasting)
	Add(a, b *RawTensor) *RawTensor
	Sub(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor
	Div(a, b *RawTensor) *RawTensor

	// Scalar operations
	AddScalar(x *RawTensor, scalar float32) *RawTensor
	MulScalar(x *RawTensor, scalar float32) *RawTensor

	// MatMul multiplies 2D matrices: [M, K] @ [K, N] -> [M, N].
	MatMul(a, b *RawTensor) *RawTensor
	// MatMulT multiplies by a transposed right operand: [M, K] @ [N, K]ᵀ -> [M, N].
	MatMulT(a, b *RawTensor) *RawTensor

	// Convolutional operations
	Conv2D(input, kernel *RawTensor, opts ConvOptions) *RawTensor
	ConvTranspose2D(input, kernel *RawTensor, stride [2]int) *RawTensor
	MaxPool2D(input *RawTensor, kernel, stride [2]int) *RawTensor

	// Math operations (element-wise)
	Exp(x *RawTensor) *RawTensor
	Abs(x *RawTensor) *RawTensor
	Sqrt(x *RawTensor) *RawTensor
	Sin(x *RawTensor) *RawTensor

	// Activation functions
	ReLU(x *RawTensor) *RawTensor
	LeakyReLU(x *RawTensor, slope float32) *RawTensor
	Sigmoid(x *RawTensor) *RawTensor
	Tanh(x *RawTensor) *RawTensor
	GELU(x *RawTensor) *RawTensor
	Softmax(x *RawTensor, dim int) *RawTensor

	// Reduction operations
	SumDim(x *RawTensor, dim int, keepDim bool) *RawTensor
	MeanDim(x *RawTensor, dim int, keepDim bool) *RawTensor
	MaxDim(x *RawTensor, dim int, keepDim bool) *RawTensor

	// Shape operations
	Reshape(t *RawTensor, newShape Shape) *RawTensor
	Transpose(t *RawTensor, axes ...int) *RawTensor
	Narrow(t *RawTensor, dim, start, length int) *RawTensor

	// Metadata
	Name() string
}
