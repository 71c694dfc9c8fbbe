package tensor

import "fmt"

// RawTensor is the low-level tensor representation: a contiguous row-major
// float32 buffer plus its shape.
//
// Backends consume and produce RawTensors. Views are not supported; every
// operation that changes layout materialises a new buffer.
type RawTensor struct {
	data   []float32
	shape  Shape
	stride []int
}

// NewRaw creates a new zero-filled RawTensor with the given shape.
func NewRaw(shape Shape) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}

	return &RawTensor{
		data:   make([]float32, shape.NumElements()),
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
	}, nil
}

// MustRaw is NewRaw for shapes already known to be valid. Used by kernels.
func MustRaw(shape Shape) *RawTensor {
	r, err := NewRaw(shape)
	if err != nil {
		panic(err)
	}
	return r
}

// RawFromSlice wraps a copy of data in a RawTensor.
func RawFromSlice(data []float32, shape Shape) (*RawTensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}
	r, err := NewRaw(shape)
	if err != nil {
		return nil, err
	}
	copy(r.data, data)
	return r, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// Strides returns the tensor's memory strides.
func (r *RawTensor) Strides() []int {
	return r.stride
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// Data returns the underlying buffer.
// WARNING: Direct access to underlying memory. Modifications are visible to the tensor.
func (r *RawTensor) Data() []float32 {
	return r.data
}

// Clone creates a deep copy.
func (r *RawTensor) Clone() *RawTensor {
	data := make([]float32, len(r.data))
	copy(data, r.data)
	return &RawTensor{
		data:   data,
		shape:  r.shape.Clone(),
		stride: append([]int(nil), r.stride...),
	}
}

// WithShape returns a RawTensor sharing the buffer under a different shape.
// The element count must be unchanged.
func (r *RawTensor) WithShape(shape Shape) (*RawTensor, error) {
	if shape.NumElements() != r.NumElements() {
		return nil, fmt.Errorf("cannot reshape %v (%d elements) to %v (%d elements)",
			r.shape, r.NumElements(), shape, shape.NumElements())
	}
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	return &RawTensor{
		data:   r.data,
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
	}, nil
}
