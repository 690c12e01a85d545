package quantize

import (
	"context"
	"fmt"
	"math"

	"github.com/example/go-xcodec/internal/codes"
	"github.com/example/go-xcodec/internal/native"
	"github.com/example/go-xcodec/internal/runtime/compute"
	"github.com/example/go-xcodec/internal/runtime/tensor"
)

const fsqEps = 1e-3

// DefaultLevels is the 8-dimensional 4-level grid, K = 4^8 = 65536.
var DefaultLevels = []int{4, 4, 4, 4, 4, 4, 4, 4}

// FSQ is finite scalar quantization: each of len(levels) channels is bounded
// with tanh and rounded to one of levels[i] values. The codebook is the
// implicit product grid, so K is the product of the levels.
type FSQ struct {
	levels     []int
	basis      []int
	size       int
	projectIn  *affine
	projectOut *affine
	device     compute.Device
}

// NewFSQ builds an FSQ without projections.
func NewFSQ(levels []int) (*FSQ, error) {
	if len(levels) == 0 {
		return nil, fmt.Errorf("quantize: fsq needs at least one level")
	}

	q := &FSQ{levels: append([]int(nil), levels...), basis: make([]int, len(levels)), size: 1, device: compute.CPU}

	for i, l := range levels {
		if l < 2 {
			return nil, fmt.Errorf("quantize: fsq level %d must be >= 2, got %d", i, l)
		}

		q.basis[i] = q.size
		if q.size > math.MaxUint32/l {
			return nil, fmt.Errorf("quantize: fsq levels %v overflow the index range", levels)
		}

		q.size *= l
	}

	return q, nil
}

// LoadFSQ builds an FSQ with the project_in/project_out layers found under vb.
func LoadFSQ(vb *native.VarBuilder, levels []int) (*FSQ, error) {
	q, err := NewFSQ(levels)
	if err != nil {
		return nil, err
	}

	if q.projectIn, err = loadAffine(vb, "project_in"); err != nil {
		return nil, err
	}

	if q.projectOut, err = loadAffine(vb, "project_out"); err != nil {
		return nil, err
	}

	n := len(levels)
	if q.projectIn.out(n) != n || q.projectOut.in(n) != n {
		return nil, fmt.Errorf("quantize: fsq projections must meet at %d channels, got in->%d and %d->out",
			n, q.projectIn.out(n), q.projectOut.in(n))
	}

	return q, nil
}

func (q *FSQ) Device() compute.Device { return q.device }
func (q *FSQ) Size() int              { return q.size }
func (q *FSQ) Levels() []int          { return append([]int(nil), q.levels...) }
func (q *FSQ) InDim() int             { return q.projectIn.in(len(q.levels)) }
func (q *FSQ) OutDim() int            { return q.projectOut.out(len(q.levels)) }

// bound squashes z into the open range that rounds to exactly l values.
func bound(z float64, l int) float64 {
	halfL := float64(l-1) * (1 + fsqEps) / 2

	offset := 0.0
	if l%2 == 0 {
		offset = 0.5
	}

	shift := math.Atanh(offset / halfL)

	return math.Tanh(z+shift)*halfL - offset
}

// levelIndex returns the grid position in [0, l) for one channel value.
func levelIndex(z float64, l int) int {
	return int(math.RoundToEven(bound(z, l))) + l/2
}

// Index maps one frame of len(levels) pre-quantization values to its code.
func (q *FSQ) Index(z []float32) int {
	idx := 0
	for i, l := range q.levels {
		idx += levelIndex(float64(z[i]), l) * q.basis[i]
	}

	return idx
}

// Code writes the normalized grid point of idx into dst (len(levels) values
// in [-1, 1)).
func (q *FSQ) Code(idx int, dst []float32) {
	for i, l := range q.levels {
		hw := l / 2
		li := (idx / q.basis[i]) % l
		dst[i] = float32(li-hw) / float32(hw)
	}
}

// Codebook materializes the implicit grid as an explicit [K, len(levels)]
// arena.
func (q *FSQ) Codebook() *Codebook {
	d := len(q.levels)
	data := make([]float32, q.size*d)

	for i := range q.size {
		q.Code(i, data[i*d:(i+1)*d])
	}

	return &Codebook{k: q.size, d: d, data: data}
}

func (q *FSQ) Quantize(_ context.Context, cc compute.Context, latents *tensor.Tensor) (*codes.Sequence, error) {
	if err := checkLatents(latents, q.InDim()); err != nil {
		return nil, err
	}

	z, err := q.projectIn.apply(latents, cc.Workers)
	if err != nil {
		return nil, fmt.Errorf("quantize: project_in: %w", err)
	}

	seq := codes.New(int(latents.Dim(0)), int(latents.Dim(1)), q.size)
	d := len(q.levels)
	zd := z.RawData()

	tensor.ParallelFor(len(seq.Data), cc.Workers, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			seq.Data[i] = uint32(q.Index(zd[i*d : (i+1)*d]))
		}
	})

	return seq, nil
}

func (q *FSQ) Dequantize(_ context.Context, cc compute.Context, seq *codes.Sequence) (*tensor.Tensor, error) {
	if err := checkSequence(seq, q.size); err != nil {
		return nil, err
	}

	d := len(q.levels)
	out := make([]float32, len(seq.Data)*d)

	for i, idx := range seq.Data {
		q.Code(int(idx), out[i*d:(i+1)*d])
	}

	emb, err := tensor.New(out, []int64{int64(seq.Batch), int64(seq.Frames), int64(d)})
	if err != nil {
		return nil, err
	}

	return q.projectOut.apply(emb, cc.Workers)
}
