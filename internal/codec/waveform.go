package codec

import (
	"math"

	"github.com/example/go-xcodec/internal/runtime/tensor"
)

// Waveform is a batch of equal-length PCM rows, nominally in [-1, 1].
type Waveform struct {
	Samples    [][]float32
	SampleRate int
}

// Mono wraps a single signal as a batch of one.
func Mono(samples []float32, sampleRate int) Waveform {
	return Waveform{Samples: [][]float32{samples}, SampleRate: sampleRate}
}

func (w Waveform) Batch() int { return len(w.Samples) }

// Len is the per-row sample count.
func (w Waveform) Len() int {
	if len(w.Samples) == 0 {
		return 0
	}

	return len(w.Samples[0])
}

func (w Waveform) validate() error {
	if len(w.Samples) == 0 {
		return invalidInput("empty batch")
	}

	n := len(w.Samples[0])
	if n == 0 {
		return invalidInput("empty waveform")
	}

	for i, row := range w.Samples {
		if len(row) != n {
			return invalidInput("row %d has %d samples, row 0 has %d", i, len(row), n)
		}

		for j, v := range row {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return invalidInput("row %d sample %d is not finite", i, j)
			}
		}
	}

	return nil
}

func waveformFromTensor(t *tensor.Tensor, sampleRate int) (Waveform, error) {
	rows, err := t.Rows()
	if err != nil {
		return Waveform{}, err
	}

	return Waveform{Samples: rows, SampleRate: sampleRate}, nil
}
