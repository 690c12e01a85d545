package quantize

import (
	"context"
	"fmt"

	"github.com/example/go-xcodec/internal/codes"
	"github.com/example/go-xcodec/internal/native"
	"github.com/example/go-xcodec/internal/runtime/compute"
	"github.com/example/go-xcodec/internal/runtime/tensor"
)

// affine is an optional factorized projection around the codebook.
type affine struct {
	w, b *tensor.Tensor
}

func (a *affine) apply(x *tensor.Tensor, workers int) (*tensor.Tensor, error) {
	if a == nil {
		return x, nil
	}

	return tensor.LinearN(x, a.w, a.b, workers)
}

func (a *affine) in(def int) int {
	if a == nil {
		return def
	}

	return int(a.w.Dim(1))
}

func (a *affine) out(def int) int {
	if a == nil {
		return def
	}

	return int(a.w.Dim(0))
}

func loadAffine(vb *native.VarBuilder, name string) (*affine, error) {
	w, ok, err := vb.TensorMaybe(name + ".weight")
	if err != nil || !ok {
		return nil, err
	}

	if w.Rank() != 2 {
		return nil, fmt.Errorf("quantize: %s.weight must be rank 2, got %v", name, w.Shape())
	}

	b, _, err := vb.TensorMaybe(name+".bias", w.Dim(0))
	if err != nil {
		return nil, err
	}

	return &affine{w: w, b: b}, nil
}

// VQ is a nearest-neighbour vector quantizer over an explicit codebook.
type VQ struct {
	book       *Codebook
	projectIn  *affine
	projectOut *affine
	device     compute.Device
}

// NewVQ wraps a codebook without projections.
func NewVQ(book *Codebook) *VQ {
	return &VQ{book: book, device: compute.CPU}
}

// LoadVQ reads codebook plus optional project_in and project_out under vb.
func LoadVQ(vb *native.VarBuilder) (*VQ, error) {
	t, err := vb.Tensor("codebook")
	if err != nil {
		return nil, err
	}

	book, err := CodebookFromTensor(t)
	if err != nil {
		return nil, err
	}

	q := NewVQ(book)

	if q.projectIn, err = loadAffine(vb, "project_in"); err != nil {
		return nil, err
	}

	if q.projectOut, err = loadAffine(vb, "project_out"); err != nil {
		return nil, err
	}

	if got := q.projectIn.out(book.Dim()); got != book.Dim() {
		return nil, fmt.Errorf("quantize: project_in emits %d values, codebook width is %d", got, book.Dim())
	}

	if got := q.projectOut.in(book.Dim()); got != book.Dim() {
		return nil, fmt.Errorf("quantize: project_out expects %d values, codebook width is %d", got, book.Dim())
	}

	return q, nil
}

func (q *VQ) Device() compute.Device { return q.device }
func (q *VQ) Size() int              { return q.book.Size() }
func (q *VQ) InDim() int             { return q.projectIn.in(q.book.Dim()) }
func (q *VQ) OutDim() int            { return q.projectOut.out(q.book.Dim()) }
func (q *VQ) Codebook() *Codebook    { return q.book }

// Quantize maps each frame of latents [B, frames, InDim] to its nearest entry.
func (q *VQ) Quantize(_ context.Context, cc compute.Context, latents *tensor.Tensor) (*codes.Sequence, error) {
	if err := checkLatents(latents, q.InDim()); err != nil {
		return nil, err
	}

	z, err := q.projectIn.apply(latents, cc.Workers)
	if err != nil {
		return nil, fmt.Errorf("quantize: project_in: %w", err)
	}

	seq := codes.New(int(latents.Dim(0)), int(latents.Dim(1)), q.Size())
	d := q.book.Dim()
	zd := z.RawData()

	tensor.ParallelFor(len(seq.Data), cc.Workers, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			idx, _ := q.book.Nearest(zd[i*d : (i+1)*d])
			seq.Data[i] = uint32(idx)
		}
	})

	return seq, nil
}

// Dequantize looks up every index and applies project_out.
func (q *VQ) Dequantize(_ context.Context, cc compute.Context, seq *codes.Sequence) (*tensor.Tensor, error) {
	if err := checkSequence(seq, q.Size()); err != nil {
		return nil, err
	}

	d := q.book.Dim()
	out := make([]float32, len(seq.Data)*d)

	for i, idx := range seq.Data {
		copy(out[i*d:(i+1)*d], q.book.Entry(int(idx)))
	}

	emb, err := tensor.New(out, []int64{int64(seq.Batch), int64(seq.Frames), int64(d)})
	if err != nil {
		return nil, err
	}

	return q.projectOut.apply(emb, cc.Workers)
}

func checkLatents(x *tensor.Tensor, dim int) error {
	if x == nil || x.Rank() != 3 || x.Dim(2) != int64(dim) {
		var shape []int64
		if x != nil {
			shape = x.Shape()
		}

		return fmt.Errorf("quantize: latents must be [B, frames, %d], got %v", dim, shape)
	}

	return nil
}

// checkSequence validates indices against the quantizer's own K first, then
// rejects a sequence that claims a different codebook size.
func checkSequence(seq *codes.Sequence, k int) error {
	if seq == nil {
		return fmt.Errorf("quantize: nil code sequence")
	}

	check := *seq
	check.K = k

	if err := check.Validate(); err != nil {
		return err
	}

	if seq.K != 0 && seq.K != k {
		return fmt.Errorf("quantize: sequence codebook size %d does not match quantizer size %d", seq.K, k)
	}

	return nil
}
