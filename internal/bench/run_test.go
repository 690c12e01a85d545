package bench_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/go-xcodec/internal/bench"
	"github.com/example/go-xcodec/internal/codec"
	"github.com/example/go-xcodec/internal/codes"
	"github.com/example/go-xcodec/internal/runtime/compute"
)

type fakeCodec struct {
	encodes, decodes int
	failDecode       bool
}

func (f *fakeCodec) Encode(_ context.Context, _ compute.Context, w codec.Waveform) (*codes.Sequence, error) {
	f.encodes++
	frames := codec.FrameCount(w.Len(), 320)
	seq := codes.New(w.Batch(), frames, 16)
	seq.SampleRate = w.SampleRate
	seq.FrameStride = 320

	return seq, nil
}

func (f *fakeCodec) Decode(_ context.Context, _ compute.Context, seq *codes.Sequence) (codec.Waveform, error) {
	f.decodes++
	if f.failDecode {
		return codec.Waveform{}, errors.New("boom")
	}

	return codec.Mono(make([]float32, seq.Samples()), seq.SampleRate), nil
}

func TestRun(t *testing.T) {
	fc := &fakeCodec{}
	w := codec.Mono(make([]float32, 16000), 16000)

	runs, err := bench.Run(context.Background(), fc, compute.Default(), w, bench.Options{Runs: 3, Warmup: 1})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(runs) != 3 {
		t.Fatalf("want 3 results, got %d", len(runs))
	}

	if fc.encodes != 4 || fc.decodes != 4 {
		t.Errorf("want 4 encodes and decodes including warmup, got %d/%d", fc.encodes, fc.decodes)
	}

	for i, r := range runs {
		if r.Index != i || r.Cold {
			t.Errorf("run %d: index=%d cold=%v", i, r.Index, r.Cold)
		}

		if r.Frames != 51 {
			t.Errorf("run %d: want 51 frames, got %d", i, r.Frames)
		}

		if r.Audio != time.Second {
			t.Errorf("run %d: want 1s audio, got %v", i, r.Audio)
		}

		if r.Total < r.Encode || r.Total < r.Decode {
			t.Errorf("run %d: total %v shorter than a stage", i, r.Total)
		}
	}
}

func TestRunColdWithoutWarmup(t *testing.T) {
	runs, err := bench.Run(context.Background(), &fakeCodec{}, compute.Default(),
		codec.Mono(make([]float32, 3200), 16000), bench.Options{Runs: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !runs[0].Cold || runs[1].Cold {
		t.Errorf("only the first run should be cold: %+v", runs)
	}
}

func TestRunErrors(t *testing.T) {
	w := codec.Mono(make([]float32, 320), 16000)

	if _, err := bench.Run(context.Background(), &fakeCodec{}, compute.Default(), w, bench.Options{}); err == nil {
		t.Error("want error for zero runs")
	}

	if _, err := bench.Run(context.Background(), &fakeCodec{failDecode: true}, compute.Default(), w, bench.Options{Runs: 1}); err == nil {
		t.Error("want decode error to propagate")
	}
}
