package audio

import "math"

// Hook post-processes a decoded waveform.
type Hook func(samples []float32) []float32

func ApplyHooks(samples []float32, hooks ...Hook) []float32 {
	out := samples
	for _, hook := range hooks {
		out = hook(out)
	}

	return out
}

// PeakNormalize scales samples so the peak amplitude reaches 1.0. Silence is
// returned unchanged.
func PeakNormalize(samples []float32) []float32 {
	var peak float32
	for _, s := range samples {
		if a := float32(math.Abs(float64(s))); a > peak {
			peak = a
		}
	}

	out := append([]float32(nil), samples...)
	if peak == 0 {
		return out
	}

	g := 1 / peak
	for i := range out {
		out[i] *= g
	}

	return out
}

// DCBlockCutoff is the corner frequency of DCBlock in Hz.
const DCBlockCutoff = 20.0

// DCBlock removes DC offset with a one-pole high-pass filter.
func DCBlock(samples []float32, sampleRate int) []float32 {
	out := make([]float32, len(samples))
	if sampleRate <= 0 {
		copy(out, samples)
		return out
	}

	r := math.Exp(-2 * math.Pi * DCBlockCutoff / float64(sampleRate))

	var prevX, prevY float64
	for i, s := range samples {
		x := float64(s)
		y := x - prevX + r*prevY
		out[i] = float32(y)
		prevX, prevY = x, y
	}

	return out
}
