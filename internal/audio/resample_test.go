package audio

import (
	"math"
	"testing"
)

func TestResampleSameRateCopies(t *testing.T) {
	in := []float32{0.1, 0.2}

	out, err := Resample(in, 16000, 16000)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}

	out[0] = 9
	if in[0] != 0.1 {
		t.Fatal("same-rate resample must copy")
	}
}

func TestResampleRejectsBadRates(t *testing.T) {
	if _, err := Resample([]float32{0}, 0, 16000); err == nil {
		t.Fatal("expected error for zero input rate")
	}
}

func TestResampleDownsamplesTone(t *testing.T) {
	const from, to = 48000, 16000

	in := make([]float32, from)
	for i := range in {
		in[i] = 0.5 * float32(math.Sin(2*math.Pi*440*float64(i)/from))
	}

	out, err := Conform(Clip{Samples: in, SampleRate: from}, to)
	if err != nil {
		t.Fatalf("Conform: %v", err)
	}

	// The filter may hold back its group delay; allow a short tail.
	if len(out) < to*9/10 || len(out) > to*11/10 {
		t.Fatalf("got %d samples, want about %d", len(out), to)
	}

	mid := out[len(out)/4 : len(out)*3/4]
	if r := rmsOf(mid); math.Abs(float64(r)-0.5/math.Sqrt2) > 0.02 {
		t.Errorf("tone RMS = %f, want ~%f", r, 0.5/math.Sqrt2)
	}
}
