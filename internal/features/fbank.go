// Package features computes the log-mel filterbank input of the semantic
// representation network: 80 Kaldi-style mel bins every 10 ms, normalized per
// bin and stacked in pairs so one feature vector covers one 20 ms code frame.
package features

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Config controls filterbank extraction.
type Config struct {
	SampleRate  int
	WindowSize  int // samples, 25 ms
	HopSize     int // samples, 10 ms
	FFTSize     int
	NumMels     int
	LowFreq     float64
	HighFreq    float64 // <= 0 means Nyquist
	PreEmphasis float64
	MelFloor    float64
	InputScale  float64 // applied to [-1, 1] samples before framing
	Stride      int     // consecutive frames concatenated into one vector
}

// DefaultConfig matches the feature extractor the semantic model was trained
// with at 16 kHz.
func DefaultConfig() Config {
	return Config{
		SampleRate:  16000,
		WindowSize:  400,
		HopSize:     160,
		FFTSize:     512,
		NumMels:     80,
		LowFreq:     20,
		HighFreq:    0,
		PreEmphasis: 0.97,
		MelFloor:    1.192092955078125e-07,
		InputScale:  32768, // Kaldi works on 16-bit integer amplitudes
		Stride:      2,
	}
}

// Dim is the width of one stacked feature vector.
func (c Config) Dim() int { return c.NumMels * c.Stride }

func (c Config) validate() error {
	if c.SampleRate <= 0 || c.WindowSize <= 0 || c.HopSize <= 0 || c.NumMels <= 0 || c.Stride <= 0 || c.InputScale <= 0 {
		return fmt.Errorf("features: invalid config %+v", c)
	}

	if c.FFTSize < c.WindowSize {
		return fmt.Errorf("features: fft size %d smaller than window %d", c.FFTSize, c.WindowSize)
	}

	return nil
}

// Extractor is immutable after New and safe for concurrent use.
type Extractor struct {
	cfg     Config
	window  []float64
	melBank [][]float64
}

func New(cfg Config) (*Extractor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	high := cfg.HighFreq
	if high <= 0 {
		high = float64(cfg.SampleRate) / 2
	}

	return &Extractor{
		cfg:     cfg,
		window:  poveyWindow(cfg.WindowSize),
		melBank: melFilterBank(cfg.NumMels, cfg.FFTSize, cfg.SampleRate, cfg.LowFreq, high),
	}, nil
}

func (e *Extractor) Config() Config { return e.cfg }

// NumFrames is the number of 10 ms frames for n samples (edges snipped).
func (e *Extractor) NumFrames(n int) int {
	if n < e.cfg.WindowSize {
		return 0
	}

	return (n-e.cfg.WindowSize)/e.cfg.HopSize + 1
}

// LogMel returns [frames][NumMels] log mel energies of pcm scaled by
// InputScale.
func (e *Extractor) LogMel(pcm []float32) [][]float32 {
	cfg := e.cfg
	frames := e.NumFrames(len(pcm))
	out := make([][]float32, frames)

	fft := fourier.NewFFT(cfg.FFTSize)
	buf := make([]float64, cfg.FFTSize)
	coeffs := make([]complex128, cfg.FFTSize/2+1)
	power := make([]float64, len(coeffs))

	for t := range frames {
		seg := pcm[t*cfg.HopSize : t*cfg.HopSize+cfg.WindowSize]

		var mean float64
		for _, v := range seg {
			mean += float64(v)
		}

		mean /= float64(len(seg))
		scale := cfg.InputScale

		for i := range buf {
			buf[i] = 0
		}

		for i, v := range seg {
			prev := float64(seg[max(i-1, 0)]) - mean
			buf[i] = scale * (float64(v) - mean - cfg.PreEmphasis*prev) * e.window[i]
		}

		coeffs = fft.Coefficients(coeffs, buf)
		for k, c := range coeffs {
			power[k] = real(c)*real(c) + imag(c)*imag(c)
		}

		mel := make([]float32, cfg.NumMels)
		for m, filter := range e.melBank {
			var sum float64
			for k, w := range filter {
				sum += w * power[k]
			}

			mel[m] = float32(math.Log(math.Max(sum, cfg.MelFloor)))
		}

		out[t] = mel
	}

	return out
}

// Normalize subtracts each bin's mean over time and divides by its sample
// standard deviation (n-1 denominator), in place. A single frame has zero
// variance.
func Normalize(feats [][]float32) {
	if len(feats) == 0 {
		return
	}

	n := float64(len(feats))
	dof := max(n-1, 1)

	for m := range feats[0] {
		var sum float64
		for _, f := range feats {
			sum += float64(f[m])
		}

		mean := sum / n

		var v float64
		for _, f := range feats {
			d := float64(f[m]) - mean
			v += d * d
		}

		std := math.Sqrt(v/dof + 1e-7)
		for _, f := range feats {
			f[m] = float32((float64(f[m]) - mean) / std)
		}
	}
}

// Stack concatenates every stride consecutive frames into one vector,
// dropping a trailing remainder.
func Stack(feats [][]float32, stride int) [][]float32 {
	out := make([][]float32, 0, len(feats)/stride)

	for i := 0; i+stride <= len(feats); i += stride {
		v := make([]float32, 0, stride*len(feats[i]))
		for _, f := range feats[i : i+stride] {
			v = append(v, f...)
		}

		out = append(out, v)
	}

	return out
}

// Extract returns normalized, stacked features [frames][Dim()].
func (e *Extractor) Extract(pcm []float32) [][]float32 {
	feats := e.LogMel(pcm)
	Normalize(feats)

	return Stack(feats, e.cfg.Stride)
}

// poveyWindow is a Hann window raised to 0.85.
func poveyWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = math.Pow(0.5-0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1)), 0.85)
	}

	return w
}

func hzToMel(hz float64) float64  { return 1127 * math.Log(1+hz/700) }
func melToHz(mel float64) float64 { return 700 * (math.Exp(mel/1127) - 1) }

// melFilterBank builds triangular filters over the non-negative FFT bins,
// spaced evenly on the Kaldi mel scale.
func melFilterBank(numMels, fftSize, sampleRate int, low, high float64) [][]float64 {
	bins := fftSize/2 + 1
	binHz := float64(sampleRate) / float64(fftSize)

	lowMel, highMel := hzToMel(low), hzToMel(high)
	delta := (highMel - lowMel) / float64(numMels+1)

	bank := make([][]float64, numMels)
	for m := range bank {
		left := lowMel + float64(m)*delta
		center := left + delta
		right := center + delta

		filter := make([]float64, bins)
		for k := range filter {
			mel := hzToMel(float64(k) * binHz)
			switch {
			case mel > left && mel <= center:
				filter[k] = (mel - left) / (center - left)
			case mel > center && mel < right:
				filter[k] = (right - mel) / (right - center)
			}
		}

		bank[m] = filter
	}

	return bank
}
