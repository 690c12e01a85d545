// Package codec turns waveforms into discrete code sequences and back.
//
// Encode runs Align -> {semantic, acoustic} -> Fuse -> Quantize; Decode runs
// Dequantize -> PostProject -> Synthesize. The two operations share nothing
// but the immutable stages and communicate only through codes.Sequence.
package codec

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/example/go-xcodec/internal/codes"
	"github.com/example/go-xcodec/internal/runtime/compute"
	"github.com/example/go-xcodec/internal/runtime/tensor"
)

// Config holds the per-checkpoint constants.
type Config struct {
	SampleRate    int
	FrameStride   int
	ContextPad    int
	SemanticLayer int
}

// DefaultConfig matches the released 16 kHz checkpoint.
func DefaultConfig() Config {
	return Config{
		SampleRate:    SampleRate,
		FrameStride:   FrameStride,
		ContextPad:    ContextPad,
		SemanticLayer: SemanticLayer,
	}
}

func (c Config) validate() error {
	switch {
	case c.SampleRate <= 0:
		return Configf("config", "sample rate %d must be positive", c.SampleRate)
	case c.FrameStride <= 0:
		return Configf("config", "frame stride %d must be positive", c.FrameStride)
	case c.ContextPad < 0:
		return Configf("config", "context pad %d must not be negative", c.ContextPad)
	case c.SemanticLayer < 0:
		return Configf("config", "semantic layer %d must not be negative", c.SemanticLayer)
	}

	return nil
}

// Codec holds immutable stages and is safe for concurrent use.
type Codec struct {
	cfg    Config
	stages Stages
}

func New(cfg Config, stages Stages) (*Codec, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if err := stages.validate(); err != nil {
		return nil, err
	}

	return &Codec{cfg: cfg, stages: stages}, nil
}

func (c *Codec) Config() Config { return c.cfg }

// CodebookSize is K.
func (c *Codec) CodebookSize() int { return c.stages.Quantizer.Size() }

// Encode returns one code per FrameStride samples of the aligned input.
func (c *Codec) Encode(ctx context.Context, cc compute.Context, w Waveform) (*codes.Sequence, error) {
	return c.encode(ctx, cc.Normalize(), w, nil)
}

// EncodeWithFeatures encodes w using precomputed semantic input features
// [B, frames, D] instead of extracting them from the waveform, for callers
// that batch feature extraction offline. w is aligned as in Encode and feats
// must cover exactly the aligned frame count. The semantic stage must
// implement FeatureSemanticProvider.
func (c *Codec) EncodeWithFeatures(ctx context.Context, cc compute.Context, w Waveform, feats *tensor.Tensor) (*codes.Sequence, error) {
	if _, ok := c.stages.Semantic.(FeatureSemanticProvider); !ok {
		return nil, Configf("semantic", "stage does not accept precomputed features")
	}

	if feats == nil {
		return nil, invalidInput("nil semantic features")
	}

	return c.encode(ctx, cc.Normalize(), w, feats)
}

func (c *Codec) encode(ctx context.Context, cc compute.Context, w Waveform, feats *tensor.Tensor) (*codes.Sequence, error) {
	start := time.Now()

	fused, frames, err := c.fuse(ctx, cc, w, feats)
	if err != nil {
		return nil, err
	}

	seq, err := c.quantize(ctx, cc, fused, frames)
	if err != nil {
		return nil, err
	}

	slog.Debug("codec encode",
		"batch", seq.Batch,
		"samples", w.Len(),
		"frames", seq.Frames,
		"ms", time.Since(start).Milliseconds(),
	)

	return seq, nil
}

// EncodeFeatures returns the fused latents [B, frames, D] that Encode would
// quantize.
func (c *Codec) EncodeFeatures(ctx context.Context, cc compute.Context, w Waveform) (*tensor.Tensor, error) {
	fused, _, err := c.fuse(ctx, cc.Normalize(), w, nil)
	return fused, err
}

// EncodeQuantizedFeatures returns the dequantized latents of w's codes, i.e.
// what the decoder sees before post projection.
func (c *Codec) EncodeQuantizedFeatures(ctx context.Context, cc compute.Context, w Waveform) (*tensor.Tensor, error) {
	cc = cc.Normalize()

	seq, err := c.Encode(ctx, cc, w)
	if err != nil {
		return nil, err
	}

	return c.dequantize(ctx, cc, seq)
}

// Decode reconstructs Frames*FrameStride samples per row from seq alone.
func (c *Codec) Decode(ctx context.Context, cc compute.Context, seq *codes.Sequence) (Waveform, error) {
	start := time.Now()
	cc = cc.Normalize()

	emb, err := c.dequantize(ctx, cc, seq)
	if err != nil {
		return Waveform{}, err
	}

	if err := ctx.Err(); err != nil {
		return Waveform{}, err
	}

	proj, err := c.stages.Post.Project(ctx, cc, emb)
	if err != nil {
		return Waveform{}, fmt.Errorf("codec: post projection: %w", err)
	}

	if err := expectSequence("post", proj, int64(seq.Batch), int64(seq.Frames)); err != nil {
		return Waveform{}, err
	}

	if err := ctx.Err(); err != nil {
		return Waveform{}, err
	}

	audio, err := c.stages.Synth.Synthesize(ctx, cc, proj)
	if err != nil {
		return Waveform{}, fmt.Errorf("codec: synthesize: %w", err)
	}

	want := int64(seq.Frames) * int64(c.cfg.FrameStride)
	if audio == nil || audio.Rank() != 2 || audio.Dim(0) != int64(seq.Batch) {
		return Waveform{}, &ShapeMismatchError{Stage: "synth", What: "output rank/batch", Want: int64(seq.Batch), Got: dimOrNeg(audio, 0)}
	}

	if audio.Dim(1) != want {
		return Waveform{}, &ShapeMismatchError{Stage: "synth", What: "output samples", Want: want, Got: audio.Dim(1)}
	}

	out, err := waveformFromTensor(audio, c.cfg.SampleRate)
	if err != nil {
		return Waveform{}, err
	}

	slog.Debug("codec decode",
		"batch", seq.Batch,
		"frames", seq.Frames,
		"samples", want,
		"ms", time.Since(start).Milliseconds(),
	)

	return out, nil
}

// Reconstruct runs Encode then Decode and returns both results.
func (c *Codec) Reconstruct(ctx context.Context, cc compute.Context, w Waveform) (Waveform, *codes.Sequence, error) {
	seq, err := c.Encode(ctx, cc, w)
	if err != nil {
		return Waveform{}, nil, err
	}

	out, err := c.Decode(ctx, cc, seq)
	if err != nil {
		return Waveform{}, nil, err
	}

	return out, seq, nil
}

// fuse runs alignment, both branches and the fuser. A non-nil feats replaces
// feature extraction in the semantic branch.
func (c *Codec) fuse(ctx context.Context, cc compute.Context, w Waveform, feats *tensor.Tensor) (*tensor.Tensor, int, error) {
	if err := checkDevices(cc, c.stages.encodeStages()); err != nil {
		return nil, 0, err
	}

	al, err := Align(w, c.cfg.FrameStride, c.cfg.ContextPad)
	if err != nil {
		return nil, 0, err
	}

	sampleRate := w.SampleRate
	if sampleRate == 0 {
		sampleRate = c.cfg.SampleRate
	}

	batch := int64(w.Batch())
	frames := int64(al.Frames)

	if feats != nil {
		if err := expectSequence("semantic features", feats, batch, frames); err != nil {
			return nil, 0, err
		}
	}

	var semantic, acoustic *tensor.Tensor

	p := pool.New().WithErrors().WithContext(ctx).WithCancelOnError().WithFirstError()
	p.Go(func(ctx context.Context) error {
		var err error
		semantic, err = c.semanticBranch(ctx, cc, al.Context, feats, sampleRate, batch, frames)

		return err
	})
	p.Go(func(ctx context.Context) error {
		out, err := c.stages.Acoustic.Encode(ctx, cc, al.Waveform)
		if err != nil {
			return fmt.Errorf("codec: acoustic encoder: %w", err)
		}

		if err := expectSequence("acoustic", out, batch, frames); err != nil {
			return err
		}

		acoustic = out

		return nil
	})

	if err := p.Wait(); err != nil {
		return nil, 0, err
	}

	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	fused, err := c.stages.Fuser.Fuse(ctx, cc, semantic, acoustic)
	if err != nil {
		return nil, 0, fmt.Errorf("codec: fuser: %w", err)
	}

	if err := expectSequence("fuser", fused, batch, frames); err != nil {
		return nil, 0, err
	}

	return fused, al.Frames, nil
}

func (c *Codec) semanticBranch(ctx context.Context, cc compute.Context, padded, feats *tensor.Tensor, sampleRate int, batch, frames int64) (*tensor.Tensor, error) {
	var (
		layers []*tensor.Tensor
		err    error
	)

	if feats != nil {
		layers, err = c.stages.Semantic.(FeatureSemanticProvider).HiddenStatesFromFeatures(ctx, cc, feats)
	} else {
		layers, err = c.stages.Semantic.HiddenStates(ctx, cc, padded, sampleRate)
	}

	if err != nil {
		return nil, fmt.Errorf("codec: semantic features: %w", err)
	}

	if c.cfg.SemanticLayer >= len(layers) {
		return nil, Configf("semantic", "layer %d requested, model returned %d hidden states", c.cfg.SemanticLayer, len(layers))
	}

	hidden := layers[c.cfg.SemanticLayer]
	if err := expectSequence("semantic", hidden, batch, frames); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := c.stages.Projector.Project(ctx, cc, hidden)
	if err != nil {
		return nil, fmt.Errorf("codec: semantic projector: %w", err)
	}

	if err := expectSequence("projector", out, batch, frames); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *Codec) quantize(ctx context.Context, cc compute.Context, fused *tensor.Tensor, frames int) (*codes.Sequence, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seq, err := c.stages.Quantizer.Quantize(ctx, cc, fused)
	if err != nil {
		return nil, fmt.Errorf("codec: quantize: %w", err)
	}

	if seq == nil {
		return nil, &ShapeMismatchError{Stage: "quantizer", What: "code sequence", Want: int64(frames), Got: -1}
	}

	if int64(seq.Batch) != fused.Dim(0) || seq.Frames != frames {
		return nil, &ShapeMismatchError{Stage: "quantizer", What: "code frames", Want: int64(frames), Got: int64(seq.Frames)}
	}

	seq.K = c.stages.Quantizer.Size()
	seq.SampleRate = c.cfg.SampleRate
	seq.FrameStride = c.cfg.FrameStride

	return seq, nil
}

func (c *Codec) dequantize(ctx context.Context, cc compute.Context, seq *codes.Sequence) (*tensor.Tensor, error) {
	if seq == nil {
		return nil, invalidInput("nil code sequence")
	}

	if err := checkDevices(cc, c.stages.decodeStages()); err != nil {
		return nil, err
	}

	if seq.FrameStride != 0 && seq.FrameStride != c.cfg.FrameStride {
		return nil, invalidInput("sequence frame stride %d, codec uses %d", seq.FrameStride, c.cfg.FrameStride)
	}

	if seq.SampleRate != 0 && seq.SampleRate != c.cfg.SampleRate {
		return nil, invalidInput("sequence sample rate %d, codec uses %d", seq.SampleRate, c.cfg.SampleRate)
	}

	emb, err := c.stages.Quantizer.Dequantize(ctx, cc, seq)
	if err != nil {
		return nil, fmt.Errorf("codec: dequantize: %w", err)
	}

	if err := expectSequence("dequantize", emb, int64(seq.Batch), int64(seq.Frames)); err != nil {
		return nil, err
	}

	return emb, nil
}

// expectSequence checks that x is [batch, frames, *].
func expectSequence(stage string, x *tensor.Tensor, batch, frames int64) error {
	if x == nil || x.Rank() != 3 {
		return &ShapeMismatchError{Stage: stage, What: "rank", Want: 3, Got: int64(rankOrNeg(x))}
	}

	if x.Dim(0) != batch {
		return &ShapeMismatchError{Stage: stage, What: "batch", Want: batch, Got: x.Dim(0)}
	}

	if x.Dim(1) != frames {
		return &ShapeMismatchError{Stage: stage, What: "frame count", Want: frames, Got: x.Dim(1)}
	}

	return nil
}

func rankOrNeg(x *tensor.Tensor) int {
	if x == nil {
		return -1
	}

	return x.Rank()
}

func dimOrNeg(x *tensor.Tensor, i int) int64 {
	if x == nil || x.Rank() <= i {
		return -1
	}

	return x.Dim(i)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}

	rv := reflect.ValueOf(v)

	return rv.Kind() == reflect.Pointer && rv.IsNil()
}
