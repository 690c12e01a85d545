// Package model loads a codec model bundle: a directory holding
// manifest.yaml, one safetensors checkpoint for the natively executed stages
// and the quantizer, and the ONNX graphs of the external networks.
package model

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/example/go-xcodec/internal/codec"
	"github.com/example/go-xcodec/internal/native"
)

const ManifestName = "manifest.yaml"

// Quantizer kinds.
const (
	QuantizerFSQ = "fsq"
	QuantizerVQ  = "vq"
)

type Manifest struct {
	Name               string `yaml:"name" validate:"required"`
	SampleRate         int    `yaml:"sample_rate" validate:"required,min=1"`
	FrameStride        int    `yaml:"frame_stride" validate:"required,min=1"`
	ContextPad         int    `yaml:"context_pad" validate:"min=0"`
	SemanticLayer      int    `yaml:"semantic_layer" validate:"min=0"`
	SemanticHiddenSize int64  `yaml:"semantic_hidden_size" validate:"required,min=1"`
	SemanticOutDim     int64  `yaml:"semantic_out_dim" validate:"omitempty,min=1"`
	AcousticDim        int64  `yaml:"acoustic_dim" validate:"required,min=1"`
	FusedDim           int64  `yaml:"fused_dim" validate:"required,min=1"`
	QuantizedDim       int64  `yaml:"quantized_dim" validate:"omitempty,min=1"`
	SynthDim           int64  `yaml:"synth_dim" validate:"required,min=1"`

	Weights   string            `yaml:"weights" validate:"required"`
	Quantizer QuantizerManifest `yaml:"quantizer"`
	Graphs    GraphsManifest    `yaml:"graphs"`

	// Checksums maps bundle-relative file names to lowercase hex SHA-256.
	Checksums map[string]string `yaml:"checksums" validate:"omitempty,dive,keys,required,endkeys,len=64,hexadecimal"`
}

type QuantizerManifest struct {
	Kind   string `yaml:"kind" validate:"oneof=fsq vq"`
	Levels []int  `yaml:"levels" validate:"required_if=Kind fsq,dive,min=2"`
	Prefix string `yaml:"prefix"`
}

type GraphsManifest struct {
	Semantic        string `yaml:"semantic" validate:"required"`
	AcousticEncoder string `yaml:"acoustic_encoder" validate:"required"`
	Vocoder         string `yaml:"vocoder" validate:"required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseManifest decodes and validates manifest YAML. Unknown keys are errors.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&m); err != nil {
		return Manifest{}, codec.Configf("manifest", "decode: %v", err)
	}

	m.applyDefaults()

	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}

	return m, nil
}

// LoadManifest reads dir/manifest.yaml.
func LoadManifest(dir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return Manifest{}, &codec.ConfigurationError{Component: "manifest", Err: err}
	}

	return ParseManifest(data)
}

func (m *Manifest) applyDefaults() {
	if m.SemanticOutDim == 0 {
		m.SemanticOutDim = m.SemanticHiddenSize
	}

	if m.QuantizedDim == 0 {
		m.QuantizedDim = m.FusedDim
	}

	if m.Quantizer.Kind == "" {
		m.Quantizer.Kind = QuantizerFSQ
	}

	if m.Quantizer.Prefix == "" {
		m.Quantizer.Prefix = "generator.quantizer"
	}
}

// Validate reports field violations as a ConfigurationError.
func (m Manifest) Validate() error {
	if err := validate.Struct(m); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return &codec.ConfigurationError{Component: "manifest", Err: err}
		}

		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
		}

		return codec.Configf("manifest", "%s", strings.Join(msgs, "; "))
	}

	return nil
}

// CodecConfig returns the alignment and layer settings of the bundle.
func (m Manifest) CodecConfig() codec.Config {
	return codec.Config{
		SampleRate:    m.SampleRate,
		FrameStride:   m.FrameStride,
		ContextPad:    m.ContextPad,
		SemanticLayer: m.SemanticLayer,
	}
}

func (m Manifest) Dims() native.Dims {
	return native.Dims{
		SemanticHidden: m.SemanticHiddenSize,
		SemanticOut:    m.SemanticOutDim,
		AcousticDim:    m.AcousticDim,
		FusedDim:       m.FusedDim,
		QuantizedDim:   m.QuantizedDim,
		SynthDim:       m.SynthDim,
	}
}

// Files lists every bundle-relative file the manifest references.
func (m Manifest) Files() []string {
	return []string{m.Weights, m.Graphs.Semantic, m.Graphs.AcousticEncoder, m.Graphs.Vocoder}
}
