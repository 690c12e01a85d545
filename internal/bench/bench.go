// Package bench times encode/decode round trips for the xcodec bench command.
package bench

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/example/go-xcodec/internal/codec"
	"github.com/example/go-xcodec/internal/codes"
	"github.com/example/go-xcodec/internal/runtime/compute"
)

// ---------------------------------------------------------------------------
// Run result and stats
// ---------------------------------------------------------------------------

// RunResult holds the timing and stream metadata for a single round trip.
type RunResult struct {
	Index  int
	Cold   bool // true for the first run (cold-start)
	Encode time.Duration
	Decode time.Duration
	Total  time.Duration
	Audio  time.Duration
	Frames int
	RTF    float64
}

// Stats holds aggregate timing statistics across all runs.
type Stats struct {
	Min  time.Duration
	Max  time.Duration
	Mean time.Duration
}

// ComputeStats calculates min, max and mean over a slice of durations.
func ComputeStats(durations []time.Duration) Stats {
	if len(durations) == 0 {
		return Stats{}
	}
	mn, mx := durations[0], durations[0]
	var sum time.Duration
	for _, d := range durations {
		if d < mn {
			mn = d
		}
		if d > mx {
			mx = d
		}
		sum += d
	}
	return Stats{
		Min:  mn,
		Max:  mx,
		Mean: sum / time.Duration(len(durations)),
	}
}

// Summary aggregates a set of runs per stage.
type Summary struct {
	Encode  Stats
	Decode  Stats
	Total   Stats
	MeanRTF float64
	// Bitrate of the code stream in bits per second.
	Bitrate float64
}

// Summarize computes per-stage stats. k is the codebook size.
func Summarize(runs []RunResult, k int) Summary {
	if len(runs) == 0 {
		return Summary{}
	}

	enc := make([]time.Duration, len(runs))
	dec := make([]time.Duration, len(runs))
	tot := make([]time.Duration, len(runs))
	var rtf float64
	for i, r := range runs {
		enc[i], dec[i], tot[i] = r.Encode, r.Decode, r.Total
		rtf += r.RTF
	}

	s := Summary{
		Encode:  ComputeStats(enc),
		Decode:  ComputeStats(dec),
		Total:   ComputeStats(tot),
		MeanRTF: rtf / float64(len(runs)),
	}
	s.Bitrate = Bitrate(runs[0].Frames, k, runs[0].Audio)

	return s
}

// ---------------------------------------------------------------------------
// RTF helpers
// ---------------------------------------------------------------------------

// CalcRTF returns processing_duration / audio_duration.
// Returns 0 if audioDur is zero to avoid division by zero.
func CalcRTF(procDur, audioDur time.Duration) float64 {
	if audioDur <= 0 {
		return 0
	}
	return float64(procDur) / float64(audioDur)
}

// Bitrate is frames*log2(k) bits spread over audio.
func Bitrate(frames, k int, audio time.Duration) float64 {
	if audio <= 0 || k < 2 {
		return 0
	}
	return float64(frames) * math.Log2(float64(k)) / audio.Seconds()
}

// AudioDuration converts a sample count to playback time.
func AudioDuration(samples, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(samples) * int64(time.Second) / int64(sampleRate))
}

// ---------------------------------------------------------------------------
// Runner
// ---------------------------------------------------------------------------

// Codec is the part of *codec.Codec the bench drives.
type Codec interface {
	Encode(ctx context.Context, cc compute.Context, w codec.Waveform) (*codes.Sequence, error)
	Decode(ctx context.Context, cc compute.Context, seq *codes.Sequence) (codec.Waveform, error)
}

type Options struct {
	Runs   int
	Warmup int
}

// Run performs opts.Warmup untimed and opts.Runs timed round trips of w.
// Each stage runs under a pprof "stage" label so CPU profiles split by stage.
func Run(ctx context.Context, c Codec, cc compute.Context, w codec.Waveform, opts Options) ([]RunResult, error) {
	if opts.Runs < 1 {
		return nil, errors.New("bench: runs must be >= 1")
	}

	for i := range opts.Warmup {
		if _, err := runOnce(ctx, c, cc, w); err != nil {
			return nil, fmt.Errorf("bench: warmup run %d: %w", i+1, err)
		}
	}

	audio := AudioDuration(w.Len(), w.SampleRate)
	results := make([]RunResult, 0, opts.Runs)
	for i := range opts.Runs {
		r, err := runOnce(ctx, c, cc, w)
		if err != nil {
			return nil, fmt.Errorf("bench: run %d: %w", i+1, err)
		}

		r.Index = i
		r.Cold = i == 0 && opts.Warmup == 0
		r.Audio = audio
		r.RTF = CalcRTF(r.Total, audio)
		results = append(results, r)
	}

	return results, nil
}

func runOnce(ctx context.Context, c Codec, cc compute.Context, w codec.Waveform) (RunResult, error) {
	var (
		out RunResult
		seq *codes.Sequence
		err error
	)

	start := time.Now()

	pprof.Do(ctx, pprof.Labels("stage", "encode"), func(ctx context.Context) {
		t := time.Now()
		seq, err = c.Encode(ctx, cc, w)
		out.Encode = time.Since(t)
	})
	if err != nil {
		return out, fmt.Errorf("encode: %w", err)
	}

	pprof.Do(ctx, pprof.Labels("stage", "decode"), func(ctx context.Context) {
		t := time.Now()
		_, err = c.Decode(ctx, cc, seq)
		out.Decode = time.Since(t)
	})
	if err != nil {
		return out, fmt.Errorf("decode: %w", err)
	}

	out.Total = time.Since(start)
	out.Frames = seq.Frames

	return out, nil
}

// ---------------------------------------------------------------------------
// RTF threshold gate
// ---------------------------------------------------------------------------

// CheckRTFThreshold returns an error if meanRTF > threshold.
// A threshold of 0 disables the gate.
func CheckRTFThreshold(meanRTF, threshold float64) error {
	if threshold <= 0 {
		return nil
	}
	if meanRTF > threshold {
		return fmt.Errorf("mean RTF %.3f exceeds threshold %.3f", meanRTF, threshold)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Output formatters
// ---------------------------------------------------------------------------

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }

// FormatTable writes a human-readable ASCII table of bench results to w.
func FormatTable(runs []RunResult, s Summary, w io.Writer) {
	sb := &strings.Builder{}

	fmt.Fprintf(sb, "%-5s  %-5s  %10s  %10s  %10s  %7s  %8s\n", "Run", "Cold", "Enc(ms)", "Dec(ms)", "Total(ms)", "Frames", "RTF")
	fmt.Fprintln(sb, strings.Repeat("-", 67))

	for _, r := range runs {
		cold := ""
		if r.Cold {
			cold = "yes"
		}
		fmt.Fprintf(sb, "%-5d  %-5s  %10.1f  %10.1f  %10.1f  %7d  %8.3f\n",
			r.Index+1, cold, ms(r.Encode), ms(r.Decode), ms(r.Total), r.Frames, r.RTF)
	}

	fmt.Fprintln(sb, strings.Repeat("-", 67))
	for _, row := range []struct {
		label string
		pick  func(Stats) time.Duration
	}{
		{"min", func(s Stats) time.Duration { return s.Min }},
		{"mean", func(s Stats) time.Duration { return s.Mean }},
		{"max", func(s Stats) time.Duration { return s.Max }},
	} {
		fmt.Fprintf(sb, "%-5s  %-5s  %10.1f  %10.1f  %10.1f  (%s)\n", "", "",
			ms(row.pick(s.Encode)), ms(row.pick(s.Decode)), ms(row.pick(s.Total)), row.label)
	}
	fmt.Fprintf(sb, "mean RTF %.3f, bitrate %.1f bps\n", s.MeanRTF, s.Bitrate)

	fmt.Fprint(w, sb.String())
}

type jsonReport struct {
	Runs    []jsonRun `json:"runs"`
	Encode  jsonStats `json:"encode"`
	Decode  jsonStats `json:"decode"`
	Total   jsonStats `json:"total"`
	MeanRTF float64   `json:"mean_rtf"`
	Bitrate float64   `json:"bitrate_bps"`
}

type jsonRun struct {
	Index    int     `json:"index"`
	Cold     bool    `json:"cold"`
	EncodeMS float64 `json:"encode_ms"`
	DecodeMS float64 `json:"decode_ms"`
	TotalMS  float64 `json:"total_ms"`
	AudioMS  float64 `json:"audio_ms"`
	Frames   int     `json:"frames"`
	RTF      float64 `json:"rtf"`
}

type jsonStats struct {
	MinMS  float64 `json:"min_ms"`
	MeanMS float64 `json:"mean_ms"`
	MaxMS  float64 `json:"max_ms"`
}

func toJSONStats(s Stats) jsonStats {
	return jsonStats{MinMS: ms(s.Min), MeanMS: ms(s.Mean), MaxMS: ms(s.Max)}
}

// FormatJSON writes a JSON report of bench results to w.
func FormatJSON(runs []RunResult, s Summary, w io.Writer) error {
	jr := jsonReport{
		Runs:    make([]jsonRun, len(runs)),
		Encode:  toJSONStats(s.Encode),
		Decode:  toJSONStats(s.Decode),
		Total:   toJSONStats(s.Total),
		MeanRTF: s.MeanRTF,
		Bitrate: s.Bitrate,
	}
	for i, r := range runs {
		jr.Runs[i] = jsonRun{
			Index:    r.Index,
			Cold:     r.Cold,
			EncodeMS: ms(r.Encode),
			DecodeMS: ms(r.Decode),
			TotalMS:  ms(r.Total),
			AudioMS:  ms(r.Audio),
			Frames:   r.Frames,
			RTF:      r.RTF,
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jr)
}
