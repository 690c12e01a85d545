package native

import (
	"fmt"
	"log/slog"

	"github.com/example/go-xcodec/internal/safetensors"
)

// Dims fixes the layer widths the checkpoint must match.
type Dims struct {
	SemanticHidden int64 // hidden size of the selected semantic layer
	SemanticOut    int64 // semantic encoder output (fusion half)
	AcousticDim    int64
	FusedDim       int64
	QuantizedDim   int64 // quantizer output fed to fc_post_a
	SynthDim       int64
}

// DefaultDims returns the widths of the released 16 kHz checkpoint.
func DefaultDims() Dims {
	return Dims{
		SemanticHidden: 1024,
		SemanticOut:    1024,
		AcousticDim:    1024,
		FusedDim:       2048,
		QuantizedDim:   2048,
		SynthDim:       1024,
	}
}

// Weights groups the natively executed stages of the codec.
type Weights struct {
	Semantic *SemanticEncoder
	Fuser    *Fuser
	Post     *PostProjection

	vb *VarBuilder
}

const semanticModulePrefix = "SemanticEncoder_module"

// LoadWeights builds every native stage from one checkpoint. The quantizer
// reads its own tensors from the same store, see VarBuilder().
func LoadWeights(store *safetensors.Store, dims Dims) (*Weights, error) {
	vb := NewVarBuilder(store)

	sem, err := LoadSemanticEncoder(vb.Path(semanticModulePrefix), dims.SemanticHidden, dims.SemanticOut, dims.SemanticOut)
	if err != nil {
		return nil, fmt.Errorf("native: semantic encoder: %w", err)
	}

	fuser, err := LoadFuser(vb, dims.SemanticOut, dims.AcousticDim, dims.FusedDim)
	if err != nil {
		return nil, fmt.Errorf("native: fuser: %w", err)
	}

	post, err := LoadPostProjection(vb, dims.QuantizedDim, dims.SynthDim)
	if err != nil {
		return nil, fmt.Errorf("native: post projection: %w", err)
	}

	slog.Debug("native weights loaded",
		"tensors", len(store.Names()),
		"semantic_hidden", dims.SemanticHidden,
		"fused_dim", dims.FusedDim,
		"synth_dim", dims.SynthDim,
	)

	return &Weights{Semantic: sem, Fuser: fuser, Post: post, vb: vb}, nil
}

func LoadWeightsFromFile(path string, dims Dims) (*Weights, error) {
	store, err := safetensors.OpenStore(path, safetensors.StoreOptions{})
	if err != nil {
		return nil, err
	}

	return LoadWeights(store, dims)
}

// VarBuilder exposes the underlying checkpoint for other loaders.
func (w *Weights) VarBuilder() *VarBuilder { return w.vb }

func (w *Weights) Close() {
	if w != nil {
		w.vb.Close()
	}
}
