package codec

import (
	"context"
	"errors"

	"github.com/example/go-xcodec/internal/codes"
	"github.com/example/go-xcodec/internal/quantize"
	"github.com/example/go-xcodec/internal/runtime/compute"
	"github.com/example/go-xcodec/internal/runtime/tensor"
)

// Stage doubles with fixed, easily reasoned shape contracts. Values are
// chosen so a piecewise-constant signal survives the round trip exactly.

type device struct{ d compute.Device }

func (s device) Device() compute.Device {
	if s.d == "" {
		return compute.CPU
	}

	return s.d
}

// zeroSemantic returns layers hidden states of zeros, one feature wide. Its
// frame count is derived from the padded input plus frameDelta.
type zeroSemantic struct {
	device
	layers     int
	frameDelta int64
	calls      *int
}

func (s zeroSemantic) HiddenStates(_ context.Context, _ compute.Context, padded *tensor.Tensor, _ int) ([]*tensor.Tensor, error) {
	if s.calls != nil {
		*s.calls++
	}

	frames := (padded.Dim(1)-2*ContextPad)/FrameStride + s.frameDelta

	out := make([]*tensor.Tensor, s.layers)
	for i := range out {
		z, err := tensor.Zeros([]int64{padded.Dim(0), frames, 1})
		if err != nil {
			return nil, err
		}

		out[i] = z
	}

	return out, nil
}

type identityProjector struct{ device }

func (identityProjector) Project(_ context.Context, _ compute.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	return x.Clone(), nil
}

// meanAcoustic emits the mean of each FrameStride block as a 1-wide frame.
type meanAcoustic struct {
	device
	frameDelta int64
}

func (a meanAcoustic) Encode(_ context.Context, _ compute.Context, aligned *tensor.Tensor) (*tensor.Tensor, error) {
	b, t := aligned.Dim(0), aligned.Dim(1)
	frames := t / FrameStride
	data := aligned.RawData()

	out := make([]float32, 0, b*(frames+max(a.frameDelta, 0)))
	for row := range b {
		for f := range frames + a.frameDelta {
			var sum float32
			if f < frames {
				for _, v := range data[row*t+f*FrameStride : row*t+(f+1)*FrameStride] {
					sum += v
				}
			}

			out = append(out, sum/FrameStride)
		}
	}

	return tensor.New(out, []int64{b, frames + a.frameDelta, 1})
}

type concatFuser struct{ device }

func (concatFuser) Fuse(_ context.Context, _ compute.Context, semantic, acoustic *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Concat([]*tensor.Tensor{semantic, acoustic}, -1)
}

// lastChannel keeps only the final feature of each frame.
type lastChannel struct{ device }

func (lastChannel) Project(_ context.Context, _ compute.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	return x.Narrow(2, x.Dim(2)-1, 1)
}

// holdSynth repeats each frame value FrameStride times, plus extra samples.
type holdSynth struct {
	device
	extra int64
}

func (s holdSynth) Synthesize(_ context.Context, _ compute.Context, emb *tensor.Tensor) (*tensor.Tensor, error) {
	if emb.Dim(2) != 1 {
		return nil, errors.New("hold synth expects one feature per frame")
	}

	b, frames := emb.Dim(0), emb.Dim(1)
	n := frames*FrameStride + s.extra
	data := emb.RawData()
	out := make([]float32, b*n)

	for row := range b {
		for i := range n {
			f := min(i/FrameStride, frames-1)
			out[row*n+i] = data[row*frames+f]
		}
	}

	return tensor.New(out, []int64{b, n})
}

// featureSemantic also accepts precomputed features; its hidden states are
// zeros shaped after the features it is given.
type featureSemantic struct {
	zeroSemantic
	featureCalls *int
}

func (s featureSemantic) HiddenStatesFromFeatures(_ context.Context, _ compute.Context, feats *tensor.Tensor) ([]*tensor.Tensor, error) {
	if s.featureCalls != nil {
		*s.featureCalls++
	}

	out := make([]*tensor.Tensor, s.layers)
	for i := range out {
		z, err := tensor.Zeros([]int64{feats.Dim(0), feats.Dim(1), 1})
		if err != nil {
			return nil, err
		}

		out[i] = z
	}

	return out, nil
}

// silentQuantizer returns no sequence and no error from Quantize.
type silentQuantizer struct{ *quantize.VQ }

func (silentQuantizer) Quantize(context.Context, compute.Context, *tensor.Tensor) (*codes.Sequence, error) {
	return nil, nil
}
