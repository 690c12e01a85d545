package codec

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/example/go-xcodec/internal/codes"
	"github.com/example/go-xcodec/internal/quantize"
	"github.com/example/go-xcodec/internal/runtime/compute"
	"github.com/example/go-xcodec/internal/runtime/tensor"
)

var levels = []float32{-0.75, -0.5, -0.25, 0, 0.25, 0.5, 0.75}

// levelBook holds (0, level) pairs so the zero semantic channel never
// affects the nearest entry.
func levelBook() *quantize.Codebook {
	data := make([]float32, 0, 2*len(levels))
	for _, l := range levels {
		data = append(data, 0, l)
	}

	book, err := quantize.NewCodebook(len(levels), 2, data)
	if err != nil {
		panic(err)
	}

	return book
}

func testStages() Stages {
	return Stages{
		Semantic:  zeroSemantic{layers: SemanticLayer + 1},
		Projector: identityProjector{},
		Acoustic:  meanAcoustic{},
		Fuser:     concatFuser{},
		Quantizer: quantize.NewVQ(levelBook()),
		Post:      lastChannel{},
		Synth:     holdSynth{},
	}
}

func newTestCodec(t *testing.T, stages Stages) *Codec {
	t.Helper()

	c, err := New(DefaultConfig(), stages)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return c
}

var cpu = compute.Context{Device: compute.CPU, Workers: 2}

// steps builds a piecewise-constant signal with a small ripple on top.
func steps(n int, ripple float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		l := levels[(i/FrameStride*3)%len(levels)]
		out[i] = l + float32(ripple*math.Sin(float64(i)*0.7))
	}

	return out
}

func TestPadAmountAndFrameCount(t *testing.T) {
	tests := []struct {
		t, pad, frames int
	}{
		{t: 1, pad: 319, frames: 1},
		{t: 319, pad: 1, frames: 1},
		{t: 320, pad: 320, frames: 2},
		{t: 321, pad: 319, frames: 2},
		{t: 16000, pad: 320, frames: 51},
		{t: 16001, pad: 319, frames: 51},
	}

	for _, tt := range tests {
		if got := PadAmount(tt.t, FrameStride); got != tt.pad {
			t.Fatalf("PadAmount(%d) = %d, want %d", tt.t, got, tt.pad)
		}

		if got := FrameCount(tt.t, FrameStride); got != tt.frames {
			t.Fatalf("FrameCount(%d) = %d, want %d", tt.t, got, tt.frames)
		}
	}
}

func TestAlignExactMultipleGetsFullExtraFrame(t *testing.T) {
	al, err := Align(Mono(steps(16000, 0), SampleRate), FrameStride, ContextPad)
	if err != nil {
		t.Fatalf("Align: %v", err)
	}

	if al.Pad != 320 || al.Waveform.Dim(1) != 16320 || al.Frames != 51 {
		t.Fatalf("pad=%d len=%d frames=%d, want 320/16320/51", al.Pad, al.Waveform.Dim(1), al.Frames)
	}

	if al.Context.Dim(1) != 16320+2*ContextPad {
		t.Fatalf("context len = %d", al.Context.Dim(1))
	}

	ctxData := al.Context.RawData()
	alData := al.Waveform.RawData()

	for i := range ContextPad {
		if ctxData[i] != 0 || ctxData[len(ctxData)-1-i] != 0 {
			t.Fatal("context margins must be zero")
		}
	}

	if ctxData[ContextPad] != alData[0] || alData[16000] != 0 || alData[16319] != 0 {
		t.Fatal("aligned samples misplaced")
	}
}

func TestAlignRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		w    Waveform
	}{
		{name: "empty batch", w: Waveform{}},
		{name: "empty row", w: Waveform{Samples: [][]float32{{}}}},
		{name: "ragged", w: Waveform{Samples: [][]float32{{1, 2}, {1}}}},
		{name: "nan", w: Mono([]float32{0, float32(math.NaN())}, SampleRate)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Align(tt.w, FrameStride, ContextPad); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestEncodeFrameCountLaw(t *testing.T) {
	c := newTestCodec(t, testStages())

	for _, n := range []int{1, 319, 320, 321, 999, 16000} {
		seq, err := c.Encode(context.Background(), cpu, Waveform{Samples: [][]float32{steps(n, 0), steps(n, 0.01)}})
		if err != nil {
			t.Fatalf("T=%d Encode: %v", n, err)
		}

		want := (n + PadAmount(n, FrameStride)) / FrameStride
		if seq.Frames != want || seq.Batch != 2 {
			t.Fatalf("T=%d got [%d, %d], want [2, %d]", n, seq.Batch, seq.Frames, want)
		}

		if seq.K != len(levels) || seq.FrameStride != FrameStride || seq.SampleRate != SampleRate {
			t.Fatalf("T=%d header = %+v", n, seq)
		}
	}
}

func TestEncodeDeterministic(t *testing.T) {
	c := newTestCodec(t, testStages())
	w := Mono(steps(5000, 0.05), SampleRate)

	a, err := c.Encode(context.Background(), cpu, w)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			b, err := c.Encode(context.Background(), compute.Context{Device: compute.CPU, Workers: 4}, w)
			if err != nil {
				t.Errorf("Encode: %v", err)
				return
			}

			if !codes.Equal(a, b) {
				t.Errorf("codes differ: %v vs %v", a.Data, b.Data)
			}
		}()
	}

	wg.Wait()
}

func TestDecodeDependsOnlyOnCodes(t *testing.T) {
	c := newTestCodec(t, testStages())

	x := Mono(steps(3200, 0), SampleRate)
	y := Mono(steps(3200, 0.02), SampleRate)

	sx, err := c.Encode(context.Background(), cpu, x)
	if err != nil {
		t.Fatalf("Encode x: %v", err)
	}

	sy, err := c.Encode(context.Background(), cpu, y)
	if err != nil {
		t.Fatalf("Encode y: %v", err)
	}

	if !codes.Equal(sx, sy) {
		t.Fatal("fixture expects both signals to share codes")
	}

	wx, err := c.Decode(context.Background(), cpu, sx)
	if err != nil {
		t.Fatalf("Decode x: %v", err)
	}

	wy, err := c.Decode(context.Background(), cpu, sy)
	if err != nil {
		t.Fatalf("Decode y: %v", err)
	}

	for i := range wx.Samples[0] {
		if wx.Samples[0][i] != wy.Samples[0][i] {
			t.Fatalf("sample %d differs: %v vs %v", i, wx.Samples[0][i], wy.Samples[0][i])
		}
	}
}

func TestDecodeRejectsInvalidIndex(t *testing.T) {
	c := newTestCodec(t, testStages())

	seq := codes.New(1, 4, len(levels))
	seq.FrameStride = FrameStride
	seq.Data[3] = uint32(len(levels))

	_, err := c.Decode(context.Background(), cpu, seq)
	if !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("err = %v, want ErrInvalidCode", err)
	}

	var ice *InvalidCodeError
	if !errors.As(err, &ice) || ice.Index != int64(len(levels)) || ice.Frame != 3 {
		t.Fatalf("InvalidCodeError = %+v", ice)
	}

	seq.Data[3] = math.MaxUint32
	if _, err := c.Decode(context.Background(), cpu, seq); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("err = %v, want ErrInvalidCode", err)
	}
}

func TestRoundTripFidelity(t *testing.T) {
	c := newTestCodec(t, testStages())

	const n = 16000
	x := steps(n, 0.01)

	out, seq, err := c.Reconstruct(context.Background(), cpu, Mono(x, SampleRate))
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}

	if seq.Frames != 51 || len(out.Samples[0]) != 16320 {
		t.Fatalf("frames=%d samples=%d, want 51/16320", seq.Frames, len(out.Samples[0]))
	}

	var errEnergy, sigEnergy float64
	for i := range n {
		d := float64(out.Samples[0][i] - x[i])
		errEnergy += d * d
		sigEnergy += float64(x[i]) * float64(x[i])
	}

	const threshold = 0.01
	if ratio := errEnergy / sigEnergy; ratio > threshold || ratio == 0 {
		t.Fatalf("normalized reconstruction error %.5f, want (0, %.2f]", ratio, threshold)
	}
}

func TestShapeMismatchFromBranches(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Stages)
		stage  string
	}{
		{name: "semantic extra frame", mutate: func(s *Stages) { s.Semantic = zeroSemantic{layers: SemanticLayer + 1, frameDelta: 1} }, stage: "semantic"},
		{name: "acoustic missing frame", mutate: func(s *Stages) { s.Acoustic = meanAcoustic{frameDelta: -1} }, stage: "acoustic"},
		{name: "acoustic extra frame", mutate: func(s *Stages) { s.Acoustic = meanAcoustic{frameDelta: 2} }, stage: "acoustic"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stages := testStages()
			tt.mutate(&stages)

			_, err := newTestCodec(t, stages).Encode(context.Background(), cpu, Mono(steps(1000, 0), SampleRate))
			if !errors.Is(err, ErrShapeMismatch) {
				t.Fatalf("err = %v, want ErrShapeMismatch", err)
			}

			var sme *ShapeMismatchError
			if !errors.As(err, &sme) || sme.Stage != tt.stage || sme.What != "frame count" {
				t.Fatalf("ShapeMismatchError = %+v", sme)
			}
		})
	}
}

func TestSynthesizerLengthMismatch(t *testing.T) {
	stages := testStages()
	stages.Synth = holdSynth{extra: 7}
	c := newTestCodec(t, stages)

	seq := codes.New(1, 2, len(levels))
	if _, err := c.Decode(context.Background(), cpu, seq); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("err = %v, want ErrShapeMismatch", err)
	}
}

func TestDeviceMismatch(t *testing.T) {
	stages := testStages()
	stages.Acoustic = meanAcoustic{device: device{compute.CUDA}}
	c := newTestCodec(t, stages)

	_, err := c.Encode(context.Background(), cpu, Mono(steps(640, 0), SampleRate))

	var dme *DeviceMismatchError
	if !errors.Is(err, ErrDeviceMismatch) || !errors.As(err, &dme) || dme.Stage != "acoustic" {
		t.Fatalf("err = %v, want acoustic DeviceMismatchError", err)
	}

	// decode stages all live on the CPU, so decoding on a CUDA context fails
	// at the quantizer
	_, err = c.Decode(context.Background(), compute.Context{Device: compute.CUDA}, codes.New(1, 1, len(levels)))
	if !errors.As(err, &dme) || dme.Stage != "quantizer" {
		t.Fatalf("err = %v, want quantizer DeviceMismatchError", err)
	}
}

func TestSemanticLayerOutOfRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SemanticLayer = 40

	calls := 0
	stages := testStages()
	stages.Semantic = zeroSemantic{layers: 17, calls: &calls}

	c, err := New(cfg, stages)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := c.Encode(context.Background(), cpu, Mono(steps(640, 0), SampleRate)); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}

	if calls != 1 {
		t.Fatalf("semantic provider called %d times", calls)
	}
}

func TestSemanticLayerIsConfigurable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SemanticLayer = 2

	stages := testStages()
	stages.Semantic = zeroSemantic{layers: 3}

	c, err := New(cfg, stages)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := c.Encode(context.Background(), cpu, Mono(steps(640, 0), SampleRate)); err != nil {
		t.Fatalf("Encode: %v", err)
	}
}

func TestNewRejectsMissingStage(t *testing.T) {
	stages := testStages()
	stages.Synth = nil

	if _, err := New(DefaultConfig(), stages); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}

	var nilVQ *quantize.VQ

	stages = testStages()
	stages.Quantizer = nilVQ

	if _, err := New(DefaultConfig(), stages); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("typed nil: err = %v, want ErrConfiguration", err)
	}

	cfg := DefaultConfig()
	cfg.FrameStride = 0

	if _, err := New(cfg, testStages()); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
}

func TestEncodeFeaturesAndQuantizedFeatures(t *testing.T) {
	c := newTestCodec(t, testStages())
	w := Mono(steps(960, 0.01), SampleRate)

	fused, err := c.EncodeFeatures(context.Background(), cpu, w)
	if err != nil {
		t.Fatalf("EncodeFeatures: %v", err)
	}

	if got := fused.Shape(); got[0] != 1 || got[1] != 4 || got[2] != 2 {
		t.Fatalf("fused shape = %v", got)
	}

	q, err := c.EncodeQuantizedFeatures(context.Background(), cpu, w)
	if err != nil {
		t.Fatalf("EncodeQuantizedFeatures: %v", err)
	}

	// quantized features sit exactly on codebook entries
	data := q.RawData()
	for f := range 4 {
		if data[f*2] != 0 {
			t.Fatalf("frame %d semantic channel = %v", f, data[f*2])
		}

		if math.Abs(float64(data[f*2+1]-levels[(f*3)%len(levels)])) > 1e-6 && f < 3 {
			t.Fatalf("frame %d level = %v", f, data[f*2+1])
		}
	}
}

func TestEncodeHonoursCancellation(t *testing.T) {
	c := newTestCodec(t, testStages())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Encode(ctx, cpu, Mono(steps(640, 0), SampleRate)); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestEncodeWithFeaturesSkipsExtraction(t *testing.T) {
	var waveCalls, featCalls int

	stages := testStages()
	stages.Semantic = featureSemantic{
		zeroSemantic: zeroSemantic{layers: SemanticLayer + 1, calls: &waveCalls},
		featureCalls: &featCalls,
	}
	c := newTestCodec(t, stages)

	w := Mono(steps(16000, 0), SampleRate)

	want, err := c.Encode(context.Background(), cpu, w)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	waveCalls = 0

	feats, _ := tensor.Zeros([]int64{1, 51, 160})

	got, err := c.EncodeWithFeatures(context.Background(), cpu, w, feats)
	if err != nil {
		t.Fatalf("EncodeWithFeatures: %v", err)
	}

	if waveCalls != 0 || featCalls != 1 {
		t.Fatalf("waveform calls = %d, feature calls = %d; want 0 and 1", waveCalls, featCalls)
	}

	if !codes.Equal(got, want) {
		t.Fatalf("codes = %v, want %v", got.Data, want.Data)
	}

	short, _ := tensor.Zeros([]int64{1, 50, 160})
	if _, err := c.EncodeWithFeatures(context.Background(), cpu, w, short); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("50 feature frames: err = %v, want ErrShapeMismatch", err)
	}

	if _, err := c.EncodeWithFeatures(context.Background(), cpu, w, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("nil features: err = %v, want ErrInvalidInput", err)
	}
}

func TestEncodeWithFeaturesNeedsCapableStage(t *testing.T) {
	c := newTestCodec(t, testStages())
	feats, _ := tensor.Zeros([]int64{1, 3, 160})

	_, err := c.EncodeWithFeatures(context.Background(), cpu, Mono(steps(640, 0), SampleRate), feats)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
}

func TestQuantizerWithoutSequence(t *testing.T) {
	stages := testStages()
	stages.Quantizer = silentQuantizer{quantize.NewVQ(levelBook())}
	c := newTestCodec(t, stages)

	_, err := c.Encode(context.Background(), cpu, Mono(steps(640, 0), SampleRate))
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("err = %v, want ErrShapeMismatch", err)
	}
}

func TestZeroComputeContextRunsOnCPU(t *testing.T) {
	c := newTestCodec(t, testStages())

	seq, err := c.Encode(context.Background(), compute.Context{}, Mono(steps(640, 0), SampleRate))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if _, err := c.Decode(context.Background(), compute.Context{}, seq); err != nil {
		t.Fatalf("Decode: %v", err)
	}
}

func TestDecodeRejectsForeignSampleRate(t *testing.T) {
	c := newTestCodec(t, testStages())

	seq := codes.New(1, 2, len(levels))
	seq.FrameStride = FrameStride
	seq.SampleRate = 24000

	if _, err := c.Decode(context.Background(), cpu, seq); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}

	seq.SampleRate = 0
	if _, err := c.Decode(context.Background(), cpu, seq); err != nil {
		t.Fatalf("unset sample rate: %v", err)
	}
}
