package codec

import (
	"github.com/example/go-xcodec/internal/runtime/tensor"
)

const (
	// FrameStride is the number of samples per code frame (20 ms at 16 kHz).
	FrameStride = 320
	// ContextPad is added on both sides of the semantic branch input.
	ContextPad = 160
	// SampleRate is the rate the released checkpoint was trained at.
	SampleRate = 16000
	// SemanticLayer is the hidden-state layer the released checkpoint fuses.
	SemanticLayer = 16
)

// PadAmount is the number of zeros appended to a length-t signal. It is
// always in [1, stride]: a length that is already a multiple of stride still
// gets one full extra frame.
func PadAmount(t, stride int) int {
	return stride - t%stride
}

// FrameCount is the number of code frames produced for t samples.
func FrameCount(t, stride int) int {
	return (t + PadAmount(t, stride)) / stride
}

// Aligned holds both inputs derived from one waveform batch.
type Aligned struct {
	Waveform *tensor.Tensor // [B, T'] for the acoustic branch
	Context  *tensor.Tensor // [B, T'+2*contextPad] for the semantic branch
	Pad      int
	Frames   int
}

// Align right-pads every row to T' = T + PadAmount(T) and derives the
// context-padded copy for the semantic branch.
func Align(w Waveform, stride, contextPad int) (*Aligned, error) {
	if err := w.validate(); err != nil {
		return nil, err
	}

	if stride <= 0 || contextPad < 0 {
		return nil, Configf("aligner", "stride %d and context pad %d must be positive", stride, contextPad)
	}

	x, err := tensor.FromRows(w.Samples)
	if err != nil {
		return nil, invalidInput("%v", err)
	}

	t := w.Len()
	pad := PadAmount(t, stride)

	aligned, err := x.PadLast(0, int64(pad))
	if err != nil {
		return nil, err
	}

	ctxPadded, err := aligned.PadLast(int64(contextPad), int64(contextPad))
	if err != nil {
		return nil, err
	}

	return &Aligned{
		Waveform: aligned,
		Context:  ctxPadded,
		Pad:      pad,
		Frames:   (t + pad) / stride,
	}, nil
}
