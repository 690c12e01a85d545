// Package quantize maps fused latent frames to discrete codebook indices and
// back.
package quantize

import (
	"fmt"
	"math"

	"github.com/example/go-xcodec/internal/runtime/tensor"
)

// Codebook is a fixed [K, D] table of reference vectors stored in one flat
// slice. Entry i occupies data[i*D : (i+1)*D].
type Codebook struct {
	k, d int
	data []float32
}

// NewCodebook copies data into a new arena of k entries of width d.
func NewCodebook(k, d int, data []float32) (*Codebook, error) {
	if k <= 0 || d <= 0 {
		return nil, fmt.Errorf("quantize: codebook dims must be positive, got [%d, %d]", k, d)
	}

	if len(data) != k*d {
		return nil, fmt.Errorf("quantize: codebook data has %d values, want %d", len(data), k*d)
	}

	return &Codebook{k: k, d: d, data: append([]float32(nil), data...)}, nil
}

// CodebookFromTensor accepts [K, D] or [1, K, D].
func CodebookFromTensor(t *tensor.Tensor) (*Codebook, error) {
	shape := t.Shape()
	if len(shape) == 3 && shape[0] == 1 {
		shape = shape[1:]
	}

	if len(shape) != 2 {
		return nil, fmt.Errorf("quantize: codebook tensor must be [K, D], got %v", t.Shape())
	}

	return NewCodebook(int(shape[0]), int(shape[1]), t.RawData())
}

func (c *Codebook) Size() int { return c.k }
func (c *Codebook) Dim() int  { return c.d }

// Entry returns a read-only view of entry i.
func (c *Codebook) Entry(i int) []float32 {
	return c.data[i*c.d : (i+1)*c.d]
}

// Nearest returns the entry with the smallest squared Euclidean distance to
// v. Equal distances resolve to the lowest index.
func (c *Codebook) Nearest(v []float32) (int, float32) {
	best, bestDist := 0, float32(math.Inf(1))

	for i := range c.k {
		if d := tensor.SquaredDistance(v, c.Entry(i)); d < bestDist {
			best, bestDist = i, d
		}
	}

	return best, bestDist
}
