package testutil

import (
	"encoding/binary"
	"fmt"
	"testing"
)

const wavHeaderLen = 44

// AssertValidWAV checks that data is mono 16-bit PCM at sampleRate with at
// least one sample, and returns the sample count. A streaming header (data
// size 0xFFFFFFFF) is measured from the bytes actually present.
func AssertValidWAV(tb testing.TB, data []byte, sampleRate int) int {
	tb.Helper()

	n, err := pcm16Samples(data, sampleRate)
	if err != nil {
		tb.Fatalf("WAV: %v", err)
	}

	if n == 0 {
		tb.Fatal("WAV: data chunk contains zero samples")
	}

	return n
}

// AssertWAVSamples checks that data holds exactly want samples. Codec output
// is always frames*stride long, so tests compare counts rather than durations.
func AssertWAVSamples(tb testing.TB, data []byte, sampleRate, want int) {
	tb.Helper()

	if got := AssertValidWAV(tb, data, sampleRate); got != want {
		tb.Fatalf("WAV: %d samples (%.3fs), want %d (%.3fs)",
			got, float64(got)/float64(sampleRate), want, float64(want)/float64(sampleRate))
	}
}

func pcm16Samples(data []byte, sampleRate int) (int, error) {
	if len(data) < wavHeaderLen {
		return 0, fmt.Errorf("too short: %d bytes", len(data))
	}

	for _, tag := range []struct {
		off  int
		want string
	}{{0, "RIFF"}, {8, "WAVE"}, {12, "fmt "}} {
		if got := string(data[tag.off : tag.off+4]); got != tag.want {
			return 0, fmt.Errorf("want %q at offset %d, got %q", tag.want, tag.off, got)
		}
	}

	le := binary.LittleEndian
	switch {
	case le.Uint16(data[20:22]) != 1:
		return 0, fmt.Errorf("format %d is not PCM", le.Uint16(data[20:22]))
	case le.Uint16(data[22:24]) != 1:
		return 0, fmt.Errorf("%d channels, want mono", le.Uint16(data[22:24]))
	case int(le.Uint32(data[24:28])) != sampleRate:
		return 0, fmt.Errorf("sample rate %d, want %d", le.Uint32(data[24:28]), sampleRate)
	case le.Uint16(data[34:36]) != 16:
		return 0, fmt.Errorf("%d-bit, want 16-bit", le.Uint16(data[34:36]))
	}

	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := le.Uint32(data[off+4 : off+8])
		body := off + 8

		if id == "data" {
			avail := len(data) - body
			if size == 0xFFFFFFFF {
				size = uint32(avail)
			}

			if int(size) > avail {
				return 0, fmt.Errorf("data chunk truncated: %d of %d bytes", avail, size)
			}

			return int(size) / 2, nil
		}

		off = body + int(size) + int(size&1)
	}

	return 0, fmt.Errorf("data chunk not found")
}
