package onnx

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/go-xcodec/internal/features"
	"github.com/example/go-xcodec/internal/runtime/compute"
	"github.com/example/go-xcodec/internal/runtime/tensor"
)

// GraphRunner is the minimal runner contract the graph adapters need. Tests
// substitute it with in-memory fakes.
type GraphRunner interface {
	Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error)
	Name() string
	Close()
}

// Graph names in a model bundle.
const (
	GraphSemantic        = "semantic"
	GraphAcousticEncoder = "acoustic_encoder"
	GraphVocoder         = "vocoder"
)

func runSingle(ctx context.Context, r GraphRunner, inputs map[string]*Tensor, output string) (*tensor.Tensor, error) {
	outputs, err := r.Run(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("%s: run: %w", r.Name(), err)
	}

	out, ok := outputs[output]
	if !ok {
		return nil, fmt.Errorf("%s: missing %q in output", r.Name(), output)
	}

	dense, err := out.Dense()
	if err != nil {
		return nil, fmt.Errorf("%s: %q: %w", r.Name(), output, err)
	}

	return dense, nil
}

// SemanticModel feeds filterbank features of the context-padded waveform to
// the representation network and returns every hidden layer.
//
// Inputs: input_features [B, F, 160] float32, attention_mask [B, F] int64.
// Output: hidden_states [L, B, F, H].
type SemanticModel struct {
	runner GraphRunner
	fbank  *features.Extractor
}

func NewSemanticModel(r GraphRunner, fbank *features.Extractor) (*SemanticModel, error) {
	if r == nil || fbank == nil {
		return nil, errors.New("onnx: semantic model needs a runner and a feature extractor")
	}

	return &SemanticModel{runner: r, fbank: fbank}, nil
}

func (m *SemanticModel) Device() compute.Device { return compute.CPU }

func (m *SemanticModel) HiddenStates(ctx context.Context, cc compute.Context, padded *tensor.Tensor, sampleRate int) ([]*tensor.Tensor, error) {
	if want := m.fbank.Config().SampleRate; sampleRate != want {
		return nil, fmt.Errorf("semantic: features expect %d Hz audio, got %d Hz", want, sampleRate)
	}

	feats, err := m.fbank.ExtractBatch(padded, cc.Workers)
	if err != nil {
		return nil, fmt.Errorf("semantic: %w", err)
	}

	return m.HiddenStatesFromFeatures(ctx, cc, feats)
}

// HiddenStatesFromFeatures runs the network on features produced by
// features.Extractor.ExtractBatch, [B, F, 160].
func (m *SemanticModel) HiddenStatesFromFeatures(ctx context.Context, _ compute.Context, feats *tensor.Tensor) ([]*tensor.Tensor, error) {
	if want := int64(m.fbank.Config().Dim()); feats == nil || feats.Rank() != 3 || feats.Dim(2) != want {
		var got []int64
		if feats != nil {
			got = feats.Shape()
		}

		return nil, fmt.Errorf("semantic: input features %v, want [B, F, %d]", got, want)
	}

	batch, frames := feats.Dim(0), feats.Dim(1)

	in, err := FromDense(feats)
	if err != nil {
		return nil, err
	}

	mask := make([]int64, batch*frames)
	for i := range mask {
		mask[i] = 1
	}

	maskT, err := NewTensor(mask, []int64{batch, frames})
	if err != nil {
		return nil, err
	}

	hidden, err := runSingle(ctx, m.runner, map[string]*Tensor{
		"input_features": in,
		"attention_mask": maskT,
	}, "hidden_states")
	if err != nil {
		return nil, err
	}

	return splitLayers(hidden)
}

// splitLayers turns [L, B, F, H] into L tensors of [B, F, H].
func splitLayers(hidden *tensor.Tensor) ([]*tensor.Tensor, error) {
	if hidden.Rank() != 4 {
		return nil, fmt.Errorf("semantic: hidden_states rank %d, want 4", hidden.Rank())
	}

	shape := hidden.Shape()
	layers := make([]*tensor.Tensor, shape[0])

	for l := range layers {
		layer, err := hidden.Narrow(0, int64(l), 1)
		if err != nil {
			return nil, err
		}

		if layers[l], err = layer.Reshape(shape[1:]); err != nil {
			return nil, err
		}
	}

	return layers, nil
}

// AcousticModel runs the convolutional waveform encoder.
//
// Input: waveform [B, 1, T']. Output: embeddings [B, T'/320, D].
type AcousticModel struct {
	runner GraphRunner
}

func NewAcousticModel(r GraphRunner) (*AcousticModel, error) {
	if r == nil {
		return nil, errors.New("onnx: acoustic model needs a runner")
	}

	return &AcousticModel{runner: r}, nil
}

func (m *AcousticModel) Device() compute.Device { return compute.CPU }

func (m *AcousticModel) Encode(ctx context.Context, _ compute.Context, aligned *tensor.Tensor) (*tensor.Tensor, error) {
	if aligned.Rank() != 2 {
		return nil, fmt.Errorf("acoustic: waveform rank %d, want 2", aligned.Rank())
	}

	x, err := aligned.Reshape([]int64{aligned.Dim(0), 1, aligned.Dim(1)})
	if err != nil {
		return nil, err
	}

	in, err := FromDense(x)
	if err != nil {
		return nil, err
	}

	return runSingle(ctx, m.runner, map[string]*Tensor{"waveform": in}, "embeddings")
}

// Vocoder synthesizes a waveform from post-projected embeddings.
//
// Input: embeddings [B, F, D]. Output: waveform [B, T'] or [B, 1, T'].
type Vocoder struct {
	runner GraphRunner
}

func NewVocoder(r GraphRunner) (*Vocoder, error) {
	if r == nil {
		return nil, errors.New("onnx: vocoder needs a runner")
	}

	return &Vocoder{runner: r}, nil
}

func (m *Vocoder) Device() compute.Device { return compute.CPU }

func (m *Vocoder) Synthesize(ctx context.Context, _ compute.Context, emb *tensor.Tensor) (*tensor.Tensor, error) {
	in, err := FromDense(emb)
	if err != nil {
		return nil, err
	}

	out, err := runSingle(ctx, m.runner, map[string]*Tensor{"embeddings": in}, "waveform")
	if err != nil {
		return nil, err
	}

	if out.Rank() == 3 && out.Dim(1) == 1 {
		return out.Reshape([]int64{out.Dim(0), out.Dim(2)})
	}

	return out, nil
}
