package codec

import (
	"context"

	"github.com/example/go-xcodec/internal/codes"
	"github.com/example/go-xcodec/internal/runtime/compute"
	"github.com/example/go-xcodec/internal/runtime/tensor"
)

// SemanticFeatureProvider runs the pretrained representation network over the
// context-padded waveform [B, T'+2*ContextPad] and returns one [B, frames, H]
// tensor per hidden layer.
type SemanticFeatureProvider interface {
	compute.Bound
	HiddenStates(ctx context.Context, cc compute.Context, padded *tensor.Tensor, sampleRate int) ([]*tensor.Tensor, error)
}

// FeatureSemanticProvider is implemented by semantic stages that can also
// run on precomputed input features [B, frames, D], skipping extraction.
type FeatureSemanticProvider interface {
	SemanticFeatureProvider
	HiddenStatesFromFeatures(ctx context.Context, cc compute.Context, feats *tensor.Tensor) ([]*tensor.Tensor, error)
}

// Projector is a per-frame transform [B, frames, Din] -> [B, frames, Dout].
// It serves as both the semantic projector and the post projection.
type Projector interface {
	compute.Bound
	Project(ctx context.Context, cc compute.Context, x *tensor.Tensor) (*tensor.Tensor, error)
}

// AcousticEncoder maps the aligned waveform [B, T'] to [B, T'/FrameStride, D].
type AcousticEncoder interface {
	compute.Bound
	Encode(ctx context.Context, cc compute.Context, aligned *tensor.Tensor) (*tensor.Tensor, error)
}

// StreamFuser combines the semantic and acoustic streams into one latent
// sequence.
type StreamFuser interface {
	compute.Bound
	Fuse(ctx context.Context, cc compute.Context, semantic, acoustic *tensor.Tensor) (*tensor.Tensor, error)
}

// Quantizer owns the codebook. Dequantize must reject indices outside
// [0, Size()) with an InvalidCodeError.
type Quantizer interface {
	compute.Bound
	Size() int
	Quantize(ctx context.Context, cc compute.Context, latents *tensor.Tensor) (*codes.Sequence, error)
	Dequantize(ctx context.Context, cc compute.Context, seq *codes.Sequence) (*tensor.Tensor, error)
}

// WaveformSynthesizer maps [B, frames, D] to [B, frames*FrameStride].
type WaveformSynthesizer interface {
	compute.Bound
	Synthesize(ctx context.Context, cc compute.Context, emb *tensor.Tensor) (*tensor.Tensor, error)
}

// Stages bundles every collaborator of a Codec.
type Stages struct {
	Semantic  SemanticFeatureProvider
	Projector Projector
	Acoustic  AcousticEncoder
	Fuser     StreamFuser
	Quantizer Quantizer
	Post      Projector
	Synth     WaveformSynthesizer
}

type namedStage struct {
	name  string
	stage compute.Bound
}

func (s Stages) encodeStages() []namedStage {
	return []namedStage{
		{"semantic", s.Semantic},
		{"projector", s.Projector},
		{"acoustic", s.Acoustic},
		{"fuser", s.Fuser},
		{"quantizer", s.Quantizer},
	}
}

func (s Stages) decodeStages() []namedStage {
	return []namedStage{
		{"quantizer", s.Quantizer},
		{"post", s.Post},
		{"synth", s.Synth},
	}
}

func (s Stages) validate() error {
	for _, st := range append(s.encodeStages(), s.decodeStages()...) {
		if isNil(st.stage) {
			return Configf(st.name, "stage is not set")
		}
	}

	return nil
}

func checkDevices(cc compute.Context, stages []namedStage) error {
	for _, st := range stages {
		if d := st.stage.Device(); d != cc.Device {
			return &DeviceMismatchError{Stage: st.name, Want: cc.Device, Got: d}
		}
	}

	return nil
}
