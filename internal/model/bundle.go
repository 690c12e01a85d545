package model

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/example/go-xcodec/internal/codec"
	"github.com/example/go-xcodec/internal/config"
	"github.com/example/go-xcodec/internal/features"
	"github.com/example/go-xcodec/internal/native"
	"github.com/example/go-xcodec/internal/onnx"
	"github.com/example/go-xcodec/internal/quantize"
)

// RunnerFactory opens one ONNX graph.
type RunnerFactory func(name, path string) (onnx.GraphRunner, error)

type LoadOptions struct {
	Runtime config.RuntimeConfig
	// NewRunner overrides how graphs are opened. Nil uses ONNX Runtime.
	NewRunner RunnerFactory
}

// Bundle owns every resource of a loaded model. Close releases them.
type Bundle struct {
	Dir      string
	Manifest Manifest
	Codec    *codec.Codec

	weights *native.Weights
	runners []onnx.GraphRunner
	env     *onnx.Env
}

type projectedQuantizer interface {
	codec.Quantizer
	InDim() int
	OutDim() int
}

// Load reads the manifest in dir and assembles a Codec from it. Any missing
// file, tensor or incompatible width is reported as a ConfigurationError.
func Load(dir string, opts LoadOptions) (_ *Bundle, err error) {
	m, err := LoadManifest(dir)
	if err != nil {
		return nil, err
	}

	b := &Bundle{Dir: dir, Manifest: m}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	var q projectedQuantizer

	b.weights, q, err = loadWeights(dir, m)
	if err != nil {
		return nil, err
	}

	newRunner := opts.NewRunner
	if newRunner == nil {
		if b.env, err = openEnv(opts.Runtime); err != nil {
			return nil, &codec.ConfigurationError{Component: "onnx", Err: err}
		}

		env := b.env
		newRunner = func(name, path string) (onnx.GraphRunner, error) {
			return env.Open(name, path)
		}
	}

	open := func(name, file string) (onnx.GraphRunner, error) {
		r, err := newRunner(name, filepath.Join(dir, file))
		if err != nil {
			return nil, &codec.ConfigurationError{Component: name, Err: err}
		}

		b.runners = append(b.runners, r)

		return r, nil
	}

	fbank, err := features.New(featureConfig(m))
	if err != nil {
		return nil, &codec.ConfigurationError{Component: "features", Err: err}
	}

	semRunner, err := open(onnx.GraphSemantic, m.Graphs.Semantic)
	if err != nil {
		return nil, err
	}

	semantic, err := onnx.NewSemanticModel(semRunner, fbank)
	if err != nil {
		return nil, &codec.ConfigurationError{Component: onnx.GraphSemantic, Err: err}
	}

	acRunner, err := open(onnx.GraphAcousticEncoder, m.Graphs.AcousticEncoder)
	if err != nil {
		return nil, err
	}

	acoustic, err := onnx.NewAcousticModel(acRunner)
	if err != nil {
		return nil, &codec.ConfigurationError{Component: onnx.GraphAcousticEncoder, Err: err}
	}

	vocRunner, err := open(onnx.GraphVocoder, m.Graphs.Vocoder)
	if err != nil {
		return nil, err
	}

	vocoder, err := onnx.NewVocoder(vocRunner)
	if err != nil {
		return nil, &codec.ConfigurationError{Component: onnx.GraphVocoder, Err: err}
	}

	b.Codec, err = codec.New(m.CodecConfig(), codec.Stages{
		Semantic:  semantic,
		Projector: b.weights.Semantic,
		Acoustic:  acoustic,
		Fuser:     b.weights.Fuser,
		Quantizer: q,
		Post:      b.weights.Post,
		Synth:     vocoder,
	})
	if err != nil {
		return nil, err
	}

	slog.Info("model bundle loaded",
		"name", m.Name,
		"dir", dir,
		"quantizer", m.Quantizer.Kind,
		"codebook_size", q.Size(),
		"sample_rate", m.SampleRate,
	)

	return b, nil
}

// Close releases the checkpoint and every ONNX session. Safe to call twice.
func (b *Bundle) Close() {
	for _, r := range b.runners {
		r.Close()
	}

	b.runners = nil

	if b.env != nil {
		b.env.Close()
		b.env = nil
	}

	if b.weights != nil {
		b.weights.Close()
		b.weights = nil
	}
}

// CheckWeights loads the checkpoint and quantizer of the bundle in dir and
// releases them again. It reports the same errors Load would for them.
func CheckWeights(dir string, m Manifest) error {
	w, _, err := loadWeights(dir, m)
	if err != nil {
		return err
	}

	w.Close()

	return nil
}

func loadWeights(dir string, m Manifest) (*native.Weights, projectedQuantizer, error) {
	dims := m.Dims()

	w, err := native.LoadWeightsFromFile(filepath.Join(dir, m.Weights), dims)
	if err != nil {
		return nil, nil, &codec.ConfigurationError{Component: "weights", Err: err}
	}

	q, err := loadQuantizer(w.VarBuilder().Path(m.Quantizer.Prefix), m.Quantizer)
	if err != nil {
		w.Close()
		return nil, nil, &codec.ConfigurationError{Component: "quantizer", Err: err}
	}

	if int64(q.InDim()) != dims.FusedDim || int64(q.OutDim()) != dims.QuantizedDim {
		w.Close()
		return nil, nil, codec.Configf("quantizer", "maps %d -> %d, bundle needs %d -> %d",
			q.InDim(), q.OutDim(), dims.FusedDim, dims.QuantizedDim)
	}

	return w, q, nil
}

func loadQuantizer(vb *native.VarBuilder, qm QuantizerManifest) (projectedQuantizer, error) {
	switch qm.Kind {
	case QuantizerFSQ:
		return quantize.LoadFSQ(vb, qm.Levels)
	case QuantizerVQ:
		return quantize.LoadVQ(vb)
	default:
		return nil, fmt.Errorf("unknown quantizer kind %q", qm.Kind)
	}
}

func featureConfig(m Manifest) features.Config {
	cfg := features.DefaultConfig()
	cfg.SampleRate = m.SampleRate

	return cfg
}

// openEnv loads ONNX Runtime once for all graphs of the bundle.
func openEnv(rt config.RuntimeConfig) (*onnx.Env, error) {
	info, err := onnx.DetectRuntime(rt)
	if err != nil {
		return nil, err
	}

	return onnx.NewEnv(onnx.RunnerConfig{LibraryPath: info.LibraryPath, APIVersion: rt.ORTAPIVersion})
}
