package tensor

import (
	"errors"
	"fmt"
)

// Narrow slices the tensor along a single dimension.
func (t *Tensor) Narrow(dim int, start, length int64) (*Tensor, error) {
	if t == nil {
		return nil, errors.New("tensor: narrow on nil tensor")
	}

	dim, err := normalizeDim(dim, len(t.shape))
	if err != nil {
		return nil, fmt.Errorf("tensor: narrow: %w", err)
	}

	if start < 0 || length < 0 || start+length > t.shape[dim] {
		return nil, fmt.Errorf("tensor: narrow: range [%d:%d] out of bounds for dim %d size %d", start, start+length, dim, t.shape[dim])
	}

	outShape := append([]int64(nil), t.shape...)
	outShape[dim] = length

	outer, inner := outerInner(t.shape, dim)
	out := make([]float32, 0, outer*length*inner)
	srcSpan := t.shape[dim] * inner

	for o := range outer {
		base := o*srcSpan + start*inner
		out = append(out, t.data[base:base+length*inner]...)
	}

	return newOwned(out, outShape), nil
}

// Transpose swaps dim1 and dim2.
func (t *Tensor) Transpose(dim1, dim2 int) (*Tensor, error) {
	if t == nil {
		return nil, errors.New("tensor: transpose on nil tensor")
	}

	rank := len(t.shape)

	d1, err := normalizeDim(dim1, rank)
	if err != nil {
		return nil, fmt.Errorf("tensor: transpose dim1: %w", err)
	}

	d2, err := normalizeDim(dim2, rank)
	if err != nil {
		return nil, fmt.Errorf("tensor: transpose dim2: %w", err)
	}

	if d1 == d2 {
		return t.Clone(), nil
	}

	outShape := append([]int64(nil), t.shape...)
	outShape[d1], outShape[d2] = outShape[d2], outShape[d1]
	out := make([]float32, len(t.data))

	srcStrides := computeStrides(t.shape)
	outStrides := computeStrides(outShape)
	outCoord := make([]int64, rank)
	srcCoord := make([]int64, rank)

	for i := range out {
		linearToCoord(int64(i), outShape, outStrides, outCoord)
		copy(srcCoord, outCoord)
		srcCoord[d1], srcCoord[d2] = outCoord[d2], outCoord[d1]
		out[i] = t.data[coordToLinear(srcCoord, srcStrides)]
	}

	return newOwned(out, outShape), nil
}

// Concat concatenates tensors along dim. All other dimensions must match.
func Concat(tensors []*Tensor, dim int) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, errors.New("tensor: concat requires at least one tensor")
	}

	first := tensors[0]
	if first == nil {
		return nil, errors.New("tensor: concat tensor 0 is nil")
	}

	rank := len(first.shape)

	dim, err := normalizeDim(dim, rank)
	if err != nil {
		return nil, fmt.Errorf("tensor: concat: %w", err)
	}

	outShape := append([]int64(nil), first.shape...)
	outShape[dim] = 0

	for i, t := range tensors {
		if t == nil {
			return nil, fmt.Errorf("tensor: concat tensor %d is nil", i)
		}

		if len(t.shape) != rank {
			return nil, fmt.Errorf("tensor: concat tensor %d rank %d does not match rank %d", i, len(t.shape), rank)
		}

		for d := range rank {
			if d != dim && t.shape[d] != first.shape[d] {
				return nil, fmt.Errorf("tensor: concat tensor %d shape %v does not match base shape %v on dim %d", i, t.shape, first.shape, d)
			}
		}

		outShape[dim] += t.shape[dim]
	}

	outer, inner := outerInner(outShape, dim)
	total, err := shapeElemCount(outShape)
	if err != nil {
		return nil, err
	}

	out := make([]float32, 0, total)

	for o := range outer {
		for _, t := range tensors {
			span := t.shape[dim] * inner
			base := o * span
			out = append(out, t.data[base:base+span]...)
		}
	}

	return newOwned(out, outShape), nil
}

// PadLast zero-pads the last dimension with left and right samples.
func (t *Tensor) PadLast(left, right int64) (*Tensor, error) {
	if t == nil {
		return nil, errors.New("tensor: pad on nil tensor")
	}

	if len(t.shape) == 0 {
		return nil, errors.New("tensor: pad requires rank >= 1")
	}

	if left < 0 || right < 0 {
		return nil, fmt.Errorf("tensor: pad amounts must be >= 0, got (%d, %d)", left, right)
	}

	last := t.shape[len(t.shape)-1]
	outShape := append([]int64(nil), t.shape...)
	outShape[len(outShape)-1] = last + left + right

	total, err := shapeElemCount(outShape)
	if err != nil {
		return nil, err
	}

	out := make([]float32, total)
	rows, _ := outerInner(t.shape, len(t.shape)-1)
	width := last + left + right
	for r := range rows {
		copy(out[r*width+left:r*width+left+last], t.data[r*last:(r+1)*last])
	}

	return newOwned(out, outShape), nil
}
