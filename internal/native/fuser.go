package native

import (
	"context"
	"fmt"

	"github.com/example/go-xcodec/internal/runtime/compute"
	"github.com/example/go-xcodec/internal/runtime/tensor"
)

// Fuser concatenates the semantic and acoustic streams on the feature axis
// (semantic first) and applies one linear layer. There is no activation.
type Fuser struct {
	proj   *Linear
	device compute.Device
}

func LoadFuser(vb *VarBuilder, semanticDim, acousticDim, out int64) (*Fuser, error) {
	proj, err := loadLinear(vb, "fc_prior", semanticDim+acousticDim, out)
	if err != nil {
		return nil, err
	}

	return &Fuser{proj: proj, device: compute.CPU}, nil
}

func (f *Fuser) Device() compute.Device { return f.device }
func (f *Fuser) OutDim() int64          { return f.proj.Out() }

func (f *Fuser) Fuse(_ context.Context, cc compute.Context, semantic, acoustic *tensor.Tensor) (*tensor.Tensor, error) {
	if semantic == nil || acoustic == nil || semantic.Rank() != 3 || acoustic.Rank() != 3 {
		return nil, fmt.Errorf("native: fuser expects rank-3 streams, got %v and %v", shapeOf(semantic), shapeOf(acoustic))
	}

	if got := semantic.Dim(2) + acoustic.Dim(2); got != f.proj.In() {
		return nil, fmt.Errorf("native: fuser concat width %d does not match fc_prior input %d", got, f.proj.In())
	}

	cat, err := tensor.Concat([]*tensor.Tensor{semantic, acoustic}, -1)
	if err != nil {
		return nil, fmt.Errorf("native: fuser concat: %w", err)
	}

	return f.proj.Forward(cat, cc.Workers)
}

// PostProjection maps dequantized latents into the synthesizer's input space.
type PostProjection struct {
	proj   *Linear
	device compute.Device
}

func LoadPostProjection(vb *VarBuilder, in, out int64) (*PostProjection, error) {
	proj, err := loadLinear(vb, "fc_post_a", in, out)
	if err != nil {
		return nil, err
	}

	return &PostProjection{proj: proj, device: compute.CPU}, nil
}

func (p *PostProjection) Device() compute.Device { return p.device }
func (p *PostProjection) OutDim() int64          { return p.proj.Out() }

func (p *PostProjection) Project(_ context.Context, cc compute.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	if x == nil || x.Rank() != 3 || x.Dim(2) != p.proj.In() {
		return nil, fmt.Errorf("native: post projection expects [B, frames, %d], got %v", p.proj.In(), shapeOf(x))
	}

	return p.proj.Forward(x, cc.Workers)
}
