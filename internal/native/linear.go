package native

import (
	"errors"
	"fmt"

	"github.com/example/go-xcodec/internal/runtime/ops"
	"github.com/example/go-xcodec/internal/runtime/tensor"
)

// Linear is a dense layer with weight [out, in] and optional bias [out].
type Linear struct {
	Weight *tensor.Tensor
	Bias   *tensor.Tensor
}

// loadLinear reads name.weight and, when present, name.bias. in and out of 0
// skip the respective dimension check.
func loadLinear(vb *VarBuilder, name string, in, out int64) (*Linear, error) {
	w, err := vb.Tensor(name + ".weight")
	if err != nil {
		return nil, err
	}

	if w.Rank() != 2 {
		return nil, fmt.Errorf("native: linear %q weight must be rank-2, got %v", name, w.Shape())
	}

	if (out > 0 && w.Dim(0) != out) || (in > 0 && w.Dim(1) != in) {
		return nil, fmt.Errorf("native: linear %q weight %v, want [%d %d]", name, w.Shape(), out, in)
	}

	b, _, err := vb.TensorMaybe(name+".bias", w.Dim(0))
	if err != nil {
		return nil, err
	}

	return &Linear{Weight: w, Bias: b}, nil
}

func (l *Linear) In() int64  { return l.Weight.Dim(1) }
func (l *Linear) Out() int64 { return l.Weight.Dim(0) }

func (l *Linear) Forward(x *tensor.Tensor, workers int) (*tensor.Tensor, error) {
	if l == nil || l.Weight == nil {
		return nil, errors.New("native: linear is not initialized")
	}

	return tensor.LinearN(x, l.Weight, l.Bias, workers)
}

// Conv1d is a stride-1 "same" convolution over [B, C, L].
type Conv1d struct {
	Weight *tensor.Tensor // [out, in, k]
	Bias   *tensor.Tensor // optional [out]
}

func loadConv1d(vb *VarBuilder, name string, in, out, kernel int64, withBias bool) (*Conv1d, error) {
	w, err := vb.Tensor(name+".weight", out, in, kernel)
	if err != nil {
		return nil, err
	}

	c := &Conv1d{Weight: w}
	if withBias {
		if c.Bias, err = vb.Tensor(name+".bias", out); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func (c *Conv1d) Forward(x *tensor.Tensor, workers int) (*tensor.Tensor, error) {
	if c == nil || c.Weight == nil {
		return nil, errors.New("native: conv1d is not initialized")
	}

	return ops.Conv1DSame(x, c.Weight, c.Bias, workers)
}
