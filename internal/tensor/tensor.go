// Package tensor provides the core tensor types for the netbuild layer engine.
package tensor

import "fmt"

// Tensor is a float32 tensor bound to a computation backend B.
//
// Example:
//
//	backend := cpu.New()
//	t := tensor.Zeros(Shape{3, 4}, backend)
//	result := t.Add(t)
type Tensor[B Backend] struct {
	raw     *RawTensor
	backend B
}

// New creates a Tensor from a RawTensor and backend.
func New[B Backend](raw *RawTensor, b B) *Tensor[B] {
	return &Tensor[B]{raw: raw, backend: b}
}

// FromSlice creates a tensor from a Go slice.
// The slice is copied into the tensor's memory.
func FromSlice[B Backend](data []float32, shape Shape, b B) (*Tensor[B], error) {
	raw, err := RawFromSlice(data, shape)
	if err != nil {
		return nil, err
	}
	return New(raw, b), nil
}

// Shape returns the tensor's shape.
func (t *Tensor[B]) Shape() Shape {
	return t.raw.Shape()
}

// NumElements returns the total number of elements.
func (t *Tensor[B]) NumElements() int {
	return t.raw.NumElements()
}

// Raw returns the underlying RawTensor.
// Used by backend implementations for low-level operations.
func (t *Tensor[B]) Raw() *RawTensor {
	return t.raw
}

// Backend returns the computation backend.
func (t *Tensor[B]) Backend() B {
	return t.backend
}

// Data returns the underlying data (zero-copy).
//
// WARNING: Modifications to the returned slice will modify the tensor.
func (t *Tensor[B]) Data() []float32 {
	return t.raw.Data()
}

// At returns the element at the given indices.
// Panics if indices are out of bounds.
func (t *Tensor[B]) At(indices ...int) float32 {
	return t.Data()[t.offset(indices)]
}

// Set sets the element at the given indices.
// Panics if indices are out of bounds.
func (t *Tensor[B]) Set(value float32, indices ...int) {
	t.Data()[t.offset(indices)] = value
}

func (t *Tensor[B]) offset(indices []int) int {
	shape := t.Shape()
	if len(indices) != len(shape) {
		panic(fmt.Sprintf("expected %d indices, got %d", len(shape), len(indices)))
	}
	offset := 0
	strides := t.raw.Strides()
	for i, idx := range indices {
		if idx < 0 || idx >= shape[i] {
			panic(fmt.Sprintf("index %d out of bounds for dimension %d (size %d)", idx, i, shape[i]))
		}
		offset += idx * strides[i]
	}
	return offset
}

// String returns a human-readable representation of the tensor.
func (t *Tensor[B]) String() string {
	return fmt.Sprintf("Tensor[float32]%v on %s", t.raw.Shape(), t.backend.Name())
}

// Clone creates a deep copy of the tensor.
func (t *Tensor[B]) Clone() *Tensor[B] {
	return New(t.raw.Clone(), t.backend)
}

func (t *Tensor[B]) wrap(raw *RawTensor) *Tensor[B] {
	return New(raw, t.backend)
}

// Add performs element-wise addition with broadcasting.
func (t *Tensor[B]) Add(other *Tensor[B]) *Tensor[B] {
	return t.wrap(t.backend.Add(t.raw, other.raw))
}

// Sub performs element-wise subtraction with broadcasting.
func (t *Tensor[B]) Sub(other *Tensor[B]) *Tensor[B] {
	return t.wrap(t.backend.Sub(t.raw, other.raw))
}

// Mul performs element-wise multiplication with broadcasting.
func (t *Tensor[B]) Mul(other *Tensor[B]) *Tensor[B] {
	return t.wrap(t.backend.Mul(t.raw, other.raw))
}

// Div performs element-wise division with broadcasting.
func (t *Tensor[B]) Div(other *Tensor[B]) *Tensor[B] {
	return t.wrap(t.backend.Div(t.raw, other.raw))
}

// AddScalar adds a scalar to every element.
func (t *Tensor[B]) AddScalar(scalar float32) *Tensor[B] {
	return t.wrap(t.backend.AddScalar(t.raw, scalar))
}

// MulScalar multiplies every element by a scalar.
func (t *Tensor[B]) MulScalar(scalar float32) *Tensor[B] {
	return t.wrap(t.backend.MulScalar(t.raw, scalar))
}

// MatMul performs 2D matrix multiplication.
func (t *Tensor[B]) MatMul(other *Tensor[B]) *Tensor[B] {
	return t.wrap(t.backend.MatMul(t.raw, other.raw))
}

// MatMulT multiplies t by the transpose of other.
func (t *Tensor[B]) MatMulT(other *Tensor[B]) *Tensor[B] {
	return t.wrap(t.backend.MatMulT(t.raw, other.raw))
}

// Exp computes e^x element-wise.
func (t *Tensor[B]) Exp() *Tensor[B] {
	return t.wrap(t.backend.Exp(t.raw))
}

// Abs computes |x| element-wise.
func (t *Tensor[B]) Abs() *Tensor[B] {
	return t.wrap(t.backend.Abs(t.raw))
}

// Sqrt computes the square root element-wise.
func (t *Tensor[B]) Sqrt() *Tensor[B] {
	return t.wrap(t.backend.Sqrt(t.raw))
}

// Softmax applies softmax along dim. Negative dims count from the end.
func (t *Tensor[B]) Softmax(dim int) *Tensor[B] {
	return t.wrap(t.backend.Softmax(t.raw, dim))
}

// SumDim sums along dim.
func (t *Tensor[B]) SumDim(dim int, keepDim bool) *Tensor[B] {
	return t.wrap(t.backend.SumDim(t.raw, dim, keepDim))
}

// MeanDim averages along dim.
func (t *Tensor[B]) MeanDim(dim int, keepDim bool) *Tensor[B] {
	return t.wrap(t.backend.MeanDim(t.raw, dim, keepDim))
}

// MaxDim takes the maximum along dim.
func (t *Tensor[B]) MaxDim(dim int, keepDim bool) *Tensor[B] {
	return t.wrap(t.backend.MaxDim(t.raw, dim, keepDim))
}

// Reshape returns a tensor with the same data and a new shape.
// One dimension may be -1 and is inferred.
func (t *Tensor[B]) Reshape(newShape ...int) *Tensor[B] {
	return t.wrap(t.backend.Reshape(t.raw, Shape(newShape)))
}

// View returns a tensor sharing t's buffer under a new shape with the same
// element count. Writes through either tensor are visible in both.
func (t *Tensor[B]) View(shape ...int) *Tensor[B] {
	raw, err := t.raw.WithShape(Shape(shape))
	if err != nil {
		panic(fmt.Sprintf("view: %v", err))
	}
	return t.wrap(raw)
}

// Transpose permutes the dimensions. With no axes the last two are swapped.
func (t *Tensor[B]) Transpose(axes ...int) *Tensor[B] {
	return t.wrap(t.backend.Transpose(t.raw, axes...))
}

// Narrow returns length consecutive entries of dim starting at start.
func (t *Tensor[B]) Narrow(dim, start, length int) *Tensor[B] {
	return t.wrap(t.backend.Narrow(t.raw, dim, start, length))
}
