package native

import (
	"context"
	"fmt"

	"github.com/example/go-xcodec/internal/runtime/compute"
	"github.com/example/go-xcodec/internal/runtime/tensor"
)

const semanticKernel = 3

// SemanticEncoder maps a selected hidden-state layer [B, frames, H] into the
// fusion space [B, frames, D]:
//
//	initial_conv -> h = ReLU(x) -> h + (conv -> ReLU -> conv)(h) -> final_conv
//
// The checkpoint's residual block opens with an in-place ReLU, so the skip
// connection carries the rectified activations, not the initial_conv output.
// All convolutions use kernel 3 with same padding, so the frame count is kept.
type SemanticEncoder struct {
	initial *Conv1d
	res1    *Conv1d
	res2    *Conv1d
	final   *Conv1d
	device  compute.Device
}

// LoadSemanticEncoder reads initial_conv, residual_blocks.{1,3} and
// final_conv under vb.
func LoadSemanticEncoder(vb *VarBuilder, hidden, channels, out int64) (*SemanticEncoder, error) {
	initial, err := loadConv1d(vb, "initial_conv", hidden, channels, semanticKernel, false)
	if err != nil {
		return nil, err
	}

	res1, err := loadConv1d(vb, "residual_blocks.1", channels, channels, semanticKernel, true)
	if err != nil {
		return nil, err
	}

	res2, err := loadConv1d(vb, "residual_blocks.3", channels, channels, semanticKernel, true)
	if err != nil {
		return nil, err
	}

	final, err := loadConv1d(vb, "final_conv", channels, out, semanticKernel, false)
	if err != nil {
		return nil, err
	}

	return &SemanticEncoder{
		initial: initial,
		res1:    res1,
		res2:    res2,
		final:   final,
		device:  compute.CPU,
	}, nil
}

func (e *SemanticEncoder) Device() compute.Device { return e.device }

// InDim is the hidden size the encoder expects.
func (e *SemanticEncoder) InDim() int64 { return e.initial.Weight.Dim(1) }

// OutDim is the per-frame output size.
func (e *SemanticEncoder) OutDim() int64 { return e.final.Weight.Dim(0) }

// Project implements the semantic projection stage.
func (e *SemanticEncoder) Project(_ context.Context, cc compute.Context, hidden *tensor.Tensor) (*tensor.Tensor, error) {
	if hidden == nil || hidden.Rank() != 3 || hidden.Dim(2) != e.InDim() {
		return nil, fmt.Errorf("native: semantic encoder expects [B, frames, %d], got %v", e.InDim(), shapeOf(hidden))
	}

	x, err := hidden.Transpose(1, 2)
	if err != nil {
		return nil, err
	}

	if x, err = e.initial.Forward(x, cc.Workers); err != nil {
		return nil, fmt.Errorf("native: semantic initial_conv: %w", err)
	}

	x = tensor.ReLU(x)

	r, err := e.res1.Forward(x, cc.Workers)
	if err != nil {
		return nil, fmt.Errorf("native: semantic residual conv 1: %w", err)
	}

	if r, err = e.res2.Forward(tensor.ReLU(r), cc.Workers); err != nil {
		return nil, fmt.Errorf("native: semantic residual conv 2: %w", err)
	}

	if x, err = tensor.Add(x, r); err != nil {
		return nil, err
	}

	if x, err = e.final.Forward(x, cc.Workers); err != nil {
		return nil, fmt.Errorf("native: semantic final_conv: %w", err)
	}

	return x.Transpose(1, 2)
}

func shapeOf(t *tensor.Tensor) []int64 {
	if t == nil {
		return nil
	}

	return t.Shape()
}
