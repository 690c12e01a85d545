// Package codes defines the discrete code sequence produced by the codec and
// its binary container format.
package codes

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCode matches any InvalidCodeError.
	ErrInvalidCode = errors.New("codes: invalid code index")
	// ErrMalformed reports a container that cannot be decoded.
	ErrMalformed = errors.New("codes: malformed container")
)

// InvalidCodeError reports an index outside [0, K).
type InvalidCodeError struct {
	Batch int
	Frame int
	Index int64
	K     int
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("codes: index %d at [%d, %d] outside codebook [0, %d)", e.Index, e.Batch, e.Frame, e.K)
}

func (e *InvalidCodeError) Is(target error) bool { return target == ErrInvalidCode }

// Sequence is a [Batch, Frames] matrix of codebook indices stored row-major.
type Sequence struct {
	Batch       int
	Frames      int
	K           int
	SampleRate  int
	FrameStride int
	Data        []uint32
}

// New allocates a zeroed sequence.
func New(batch, frames, k int) *Sequence {
	return &Sequence{Batch: batch, Frames: frames, K: k, Data: make([]uint32, batch*frames)}
}

// FromRows builds a sequence from per-batch rows of signed indices, rejecting
// anything outside [0, k).
func FromRows(rows [][]int64, k int) (*Sequence, error) {
	if len(rows) == 0 {
		return nil, errors.New("codes: no rows")
	}

	s := New(len(rows), len(rows[0]), k)
	for b, row := range rows {
		if len(row) != s.Frames {
			return nil, fmt.Errorf("codes: row %d has %d frames, want %d", b, len(row), s.Frames)
		}

		for f, idx := range row {
			if idx < 0 || idx >= int64(k) {
				return nil, &InvalidCodeError{Batch: b, Frame: f, Index: idx, K: k}
			}

			s.Data[b*s.Frames+f] = uint32(idx)
		}
	}

	return s, nil
}

// At returns the index at (batch, frame).
func (s *Sequence) At(b, f int) uint32 { return s.Data[b*s.Frames+f] }

// Row returns a view of one batch row.
func (s *Sequence) Row(b int) []uint32 { return s.Data[b*s.Frames : (b+1)*s.Frames] }

// Samples is the waveform length the sequence decodes to.
func (s *Sequence) Samples() int { return s.Frames * s.FrameStride }

// Duration in seconds, or 0 when the sample rate is unknown.
func (s *Sequence) Duration() float64 {
	if s.SampleRate <= 0 {
		return 0
	}

	return float64(s.Samples()) / float64(s.SampleRate)
}

// Validate checks the layout and that every index lies in [0, K).
func (s *Sequence) Validate() error {
	if s == nil {
		return errors.New("codes: nil sequence")
	}

	if s.K <= 0 {
		return fmt.Errorf("codes: codebook size %d must be positive", s.K)
	}

	if s.Batch < 0 || s.Frames < 0 || len(s.Data) != s.Batch*s.Frames {
		return fmt.Errorf("codes: %d values do not fill [%d, %d]", len(s.Data), s.Batch, s.Frames)
	}

	for i, idx := range s.Data {
		if uint64(idx) >= uint64(s.K) {
			return &InvalidCodeError{Batch: i / max(s.Frames, 1), Frame: i % max(s.Frames, 1), Index: int64(idx), K: s.K}
		}
	}

	return nil
}

// Equal reports whether two sequences carry the same header and indices.
func Equal(a, b *Sequence) bool {
	if a == nil || b == nil {
		return a == b
	}

	if a.Batch != b.Batch || a.Frames != b.Frames || a.K != b.K ||
		a.SampleRate != b.SampleRate || a.FrameStride != b.FrameStride ||
		len(a.Data) != len(b.Data) {
		return false
	}

	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			return false
		}
	}

	return true
}

func (s *Sequence) Clone() *Sequence {
	c := *s
	c.Data = append([]uint32(nil), s.Data...)

	return &c
}
