package ops

import (
	"errors"
	"fmt"

	"github.com/example/go-xcodec/internal/runtime/tensor"
)

// Conv1D computes a 1D convolution over input [B, Cin, L] with kernel
// [Cout, Cin, K] and optional bias [Cout]. Output length follows the usual
// (L + 2p - d(k-1) - 1)/s + 1 rule. The output-channel loop is split across
// up to workers goroutines.
func Conv1D(input, kernel, bias *tensor.Tensor, stride, padding, dilation int64, workers int) (*tensor.Tensor, error) {
	p, err := prepareConv1D(input, kernel, bias, stride, padding, dilation)
	if err != nil {
		return nil, err
	}

	in := input.RawData()
	w := kernel.RawData()

	var b []float32
	if bias != nil {
		b = bias.RawData()
	}

	cols := int(p.inChannels * p.kernelSize)
	outLen := int(p.outLength)
	out := make([]float32, int(p.batch)*int(p.outChannels)*outLen)

	for n := range int(p.batch) {
		col := im2col(in[n*int(p.inChannels*p.length):(n+1)*int(p.inChannels*p.length)], p)
		dst := out[n*int(p.outChannels)*outLen : (n+1)*int(p.outChannels)*outLen]

		tensor.ParallelFor(int(p.outChannels), workers, func(lo, hi int) {
			for oc := lo; oc < hi; oc++ {
				wRow := w[oc*cols : (oc+1)*cols]
				row := dst[oc*outLen : (oc+1)*outLen]

				var bv float32
				if b != nil {
					bv = b[oc]
				}

				for t := range outLen {
					row[t] = tensor.DotProduct(wRow, col[t*cols:(t+1)*cols]) + bv
				}
			}
		})
	}

	return tensor.New(out, []int64{p.batch, p.outChannels, p.outLength})
}

// Conv1DSame is Conv1D with stride 1, dilation 1 and padding (K-1)/2, which
// preserves the sequence length for odd kernels.
func Conv1DSame(input, kernel, bias *tensor.Tensor, workers int) (*tensor.Tensor, error) {
	if kernel == nil || kernel.Rank() != 3 {
		return nil, errors.New("ops: conv1d same requires rank-3 kernel")
	}

	k := kernel.Dim(2)
	if k%2 == 0 {
		return nil, fmt.Errorf("ops: conv1d same requires odd kernel size, got %d", k)
	}

	return Conv1D(input, kernel, bias, 1, (k-1)/2, 1, workers)
}

type conv1DParams struct {
	batch       int64
	inChannels  int64
	length      int64
	outChannels int64
	kernelSize  int64
	stride      int64
	padding     int64
	dilation    int64
	outLength   int64
}

func prepareConv1D(input, kernel, bias *tensor.Tensor, stride, padding, dilation int64) (conv1DParams, error) {
	if input == nil || kernel == nil {
		return conv1DParams{}, errors.New("ops: conv1d requires non-nil input and kernel")
	}

	if input.Rank() != 3 || kernel.Rank() != 3 {
		return conv1DParams{}, fmt.Errorf("ops: conv1d expects input [B,C,L] and kernel [O,C,K], got %v and %v", input.Shape(), kernel.Shape())
	}

	if stride <= 0 || dilation <= 0 || padding < 0 {
		return conv1DParams{}, fmt.Errorf("ops: conv1d invalid stride=%d padding=%d dilation=%d", stride, padding, dilation)
	}

	p := conv1DParams{
		batch:       input.Dim(0),
		inChannels:  input.Dim(1),
		length:      input.Dim(2),
		outChannels: kernel.Dim(0),
		kernelSize:  kernel.Dim(2),
		stride:      stride,
		padding:     padding,
		dilation:    dilation,
	}

	if kernel.Dim(1) != p.inChannels {
		return conv1DParams{}, fmt.Errorf("ops: conv1d channel mismatch: input %d, kernel %d", p.inChannels, kernel.Dim(1))
	}

	if bias != nil && (bias.Rank() != 1 || bias.Dim(0) != p.outChannels) {
		return conv1DParams{}, fmt.Errorf("ops: conv1d bias shape %v does not match out channels %d", bias.Shape(), p.outChannels)
	}

	p.outLength = (p.length+2*padding-dilation*(p.kernelSize-1)-1)/stride + 1
	if p.outLength <= 0 {
		return conv1DParams{}, fmt.Errorf("ops: conv1d output length %d is not positive (L=%d K=%d)", p.outLength, p.length, p.kernelSize)
	}

	return p, nil
}

// im2col lays out one batch item as [outLength, Cin*K] so each output sample
// is a single dot product against a kernel row.
func im2col(x []float32, p conv1DParams) []float32 {
	cols := int(p.inChannels * p.kernelSize)
	col := make([]float32, int(p.outLength)*cols)

	for t := range p.outLength {
		base := int(t) * cols
		start := t*p.stride - p.padding

		for c := range p.inChannels {
			src := x[c*p.length : (c+1)*p.length]
			for k := range p.kernelSize {
				pos := start + k*p.dilation
				if pos >= 0 && pos < p.length {
					col[base+int(c*p.kernelSize+k)] = src[pos]
				}
			}
		}
	}

	return col
}
