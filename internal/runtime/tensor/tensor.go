// Package tensor implements the dense float32 tensors that flow between codec
// stages. Tensors are row-major and immutable from the caller's point of view:
// every operation returns a new tensor.
package tensor

import (
	"errors"
	"fmt"
)

// Tensor is a dense, row-major float32 tensor.
type Tensor struct {
	shape []int64
	data  []float32
}

// New creates a tensor from data and shape. Both slices are copied.
func New(data []float32, shape []int64) (*Tensor, error) {
	total, err := shapeElemCount(shape)
	if err != nil {
		return nil, err
	}

	if len(data) != total {
		return nil, fmt.Errorf("tensor: data length %d does not match shape %v (%d elements)", len(data), shape, total)
	}

	return &Tensor{
		shape: append([]int64(nil), shape...),
		data:  append([]float32(nil), data...),
	}, nil
}

// newOwned wraps data and shape without copying. len(data) must match shape.
func newOwned(data []float32, shape []int64) *Tensor {
	return &Tensor{shape: shape, data: data}
}

// Zeros creates a zero-initialized tensor.
func Zeros(shape []int64) (*Tensor, error) {
	total, err := shapeElemCount(shape)
	if err != nil {
		return nil, err
	}

	return &Tensor{
		shape: append([]int64(nil), shape...),
		data:  make([]float32, total),
	}, nil
}

// FromRows stacks equal-length rows into a [len(rows), len(rows[0])] tensor.
func FromRows(rows [][]float32) (*Tensor, error) {
	if len(rows) == 0 {
		return nil, errors.New("tensor: from rows requires at least one row")
	}

	width := len(rows[0])
	data := make([]float32, 0, len(rows)*width)

	for i, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("tensor: row %d has length %d, want %d", i, len(row), width)
		}

		data = append(data, row...)
	}

	return newOwned(data, []int64{int64(len(rows)), int64(width)}), nil
}

// Rows splits a rank-2 tensor into copied rows.
func (t *Tensor) Rows() ([][]float32, error) {
	if t == nil || len(t.shape) != 2 {
		return nil, fmt.Errorf("tensor: rows requires rank-2 tensor, got shape %v", t.Shape())
	}

	n, width := int(t.shape[0]), int(t.shape[1])
	out := make([][]float32, n)

	for i := range n {
		out[i] = append([]float32(nil), t.data[i*width:(i+1)*width]...)
	}

	return out, nil
}

func (t *Tensor) Shape() []int64 {
	if t == nil {
		return nil
	}

	return append([]int64(nil), t.shape...)
}

// Dim returns the size of dimension i; negative i counts from the end.
func (t *Tensor) Dim(i int) int64 {
	if t == nil {
		return 0
	}

	d, err := normalizeDim(i, len(t.shape))
	if err != nil {
		return 0
	}

	return t.shape[d]
}

// Data returns a copy of the underlying tensor data.
func (t *Tensor) Data() []float32 {
	if t == nil {
		return nil
	}

	return append([]float32(nil), t.data...)
}

// RawData returns the underlying data slice.
// Callers must treat it as read-only.
func (t *Tensor) RawData() []float32 {
	if t == nil {
		return nil
	}

	return t.data
}

func (t *Tensor) ElemCount() int {
	if t == nil {
		return 0
	}

	return len(t.data)
}

func (t *Tensor) Rank() int {
	if t == nil {
		return 0
	}

	return len(t.shape)
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	if t == nil {
		return nil
	}

	return &Tensor{
		shape: append([]int64(nil), t.shape...),
		data:  append([]float32(nil), t.data...),
	}
}

// Reshape returns a copy of t with a new shape of equal element count.
func (t *Tensor) Reshape(shape []int64) (*Tensor, error) {
	if t == nil {
		return nil, errors.New("tensor: reshape on nil tensor")
	}

	total, err := shapeElemCount(shape)
	if err != nil {
		return nil, err
	}

	if total != len(t.data) {
		return nil, fmt.Errorf("tensor: cannot reshape %v (%d elements) to %v (%d elements)", t.shape, len(t.data), shape, total)
	}

	return &Tensor{shape: append([]int64(nil), shape...), data: append([]float32(nil), t.data...)}, nil
}

// Equal reports whether a and b have identical shapes and bit-identical data.
func Equal(a, b *Tensor) bool {
	if a == nil || b == nil {
		return a == b
	}

	if !equalShape(a.shape, b.shape) {
		return false
	}

	for i := range a.data {
		if a.data[i] != b.data[i] {
			return false
		}
	}

	return true
}
