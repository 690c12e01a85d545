package features

import (
	"fmt"

	"github.com/example/go-xcodec/internal/runtime/tensor"
)

// ExtractBatch turns a [B, N] waveform into [B, frames, Dim()] features.
// Rows are processed on up to workers goroutines.
func (e *Extractor) ExtractBatch(x *tensor.Tensor, workers int) (*tensor.Tensor, error) {
	rows, err := x.Rows()
	if err != nil {
		return nil, fmt.Errorf("features: %w", err)
	}

	out := make([][][]float32, len(rows))
	tensor.ParallelFor(len(rows), workers, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out[i] = e.Extract(rows[i])
		}
	})

	frames := len(out[0])
	if frames == 0 {
		return nil, fmt.Errorf("features: %d samples is shorter than one analysis window", len(rows[0]))
	}

	dim := e.cfg.Dim()
	data := make([]float32, 0, len(rows)*frames*dim)

	for _, feats := range out {
		for _, f := range feats {
			data = append(data, f...)
		}
	}

	return tensor.New(data, []int64{int64(len(rows)), int64(frames), int64(dim)})
}
