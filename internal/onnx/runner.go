//go:build !windows

package onnx

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	ort "github.com/shota3506/onnxruntime-purego/onnxruntime"
)

// RunnerConfig holds ORT library settings for creating runners.
type RunnerConfig struct {
	LibraryPath string
	APIVersion  uint32
}

// Env owns one loaded ORT library and logging environment. All graphs of a
// bundle open their sessions from the same Env.
type Env struct {
	runtime *ort.Runtime
	env     *ort.Env
}

// NewEnv loads the ORT shared library.
func NewEnv(cfg RunnerConfig) (*Env, error) {
	if cfg.APIVersion == 0 {
		cfg.APIVersion = 23
	}

	runtime, err := ort.NewRuntime(cfg.LibraryPath, cfg.APIVersion)
	if err != nil {
		return nil, fmt.Errorf("ort runtime %s (api %d): %w", cfg.LibraryPath, cfg.APIVersion, err)
	}

	env, err := runtime.NewEnv("xcodec", ort.LoggingLevelWarning)
	if err != nil {
		_ = runtime.Close()
		return nil, fmt.Errorf("ort env: %w", err)
	}

	return &Env{runtime: runtime, env: env}, nil
}

// Open creates a session for the graph at path. Runners opened here must be
// closed before the Env.
func (e *Env) Open(name, path string) (*Runner, error) {
	if e == nil || e.env == nil {
		return nil, fmt.Errorf("ort session for %q: environment closed", name)
	}

	session, err := e.runtime.NewSession(e.env, path, nil)
	if err != nil {
		return nil, fmt.Errorf("ort session for %q (%s): %w", name, path, err)
	}

	slog.Info("loaded ONNX session", "name", name, "path", path)

	return &Runner{name: name, runtime: e.runtime, session: session}, nil
}

// Close releases the environment and library. Safe to call multiple times.
func (e *Env) Close() {
	if e.env != nil {
		e.env.Close()
		e.env = nil
	}

	if e.runtime != nil {
		_ = e.runtime.Close()
		e.runtime = nil
	}
}

// Runner wraps an ORT session for a single ONNX graph.
type Runner struct {
	name    string
	runtime *ort.Runtime
	session *ort.Session
	owned   *Env // set by NewRunner, closed with the runner
}

// NewRunner opens a single graph in an environment of its own.
func NewRunner(name, path string, cfg RunnerConfig) (*Runner, error) {
	env, err := NewEnv(cfg)
	if err != nil {
		return nil, fmt.Errorf("graph %q: %w", name, err)
	}

	r, err := env.Open(name, path)
	if err != nil {
		env.Close()
		return nil, err
	}

	r.owned = env

	return r, nil
}

// Run executes the graph. Inputs are copied into ORT values and released
// before returning; outputs are copied back out.
func (r *Runner) Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error) {
	if r.session == nil {
		return nil, fmt.Errorf("run %q: runner closed", r.name)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ortInputs := make(map[string]*ort.Value, len(inputs))
	for name, t := range inputs {
		v, err := tensorToORT(r.runtime, t)
		if err != nil {
			closeORTValues(ortInputs)
			return nil, fmt.Errorf("%s input %q: %w", r.name, name, err)
		}

		ortInputs[name] = v
	}

	defer closeORTValues(ortInputs)

	start := time.Now()

	ortOutputs, err := r.session.Run(ctx, ortInputs)
	if err != nil {
		return nil, fmt.Errorf("run %q: %w", r.name, err)
	}
	defer closeORTValues(ortOutputs)

	slog.Debug("onnx run", "graph", r.name, "elapsed", time.Since(start))

	results := make(map[string]*Tensor, len(ortOutputs))
	for name, v := range ortOutputs {
		t, err := ortToTensor(v)
		if err != nil {
			return nil, fmt.Errorf("%s output %q: %w", r.name, name, err)
		}

		results[name] = t
	}

	return results, nil
}

// Close releases the session, and the environment if the runner owns one.
func (r *Runner) Close() {
	if r.session != nil {
		r.session.Close()
		r.session = nil
	}

	if r.owned != nil {
		r.owned.Close()
		r.owned = nil
	}

	r.runtime = nil
}

func (r *Runner) Name() string { return r.name }

func tensorToORT(runtime *ort.Runtime, t *Tensor) (*ort.Value, error) {
	switch data := t.data.(type) {
	case []float32:
		return ort.NewTensorValue(runtime, data, t.Shape())
	case []int64:
		return ort.NewTensorValue(runtime, data, t.Shape())
	default:
		return nil, fmt.Errorf("unsupported tensor dtype %T", data)
	}
}

func ortToTensor(v *ort.Value) (*Tensor, error) {
	elemType, err := v.GetTensorElementType()
	if err != nil {
		return nil, fmt.Errorf("element type: %w", err)
	}

	switch elemType {
	case ort.ONNXTensorElementDataTypeFloat:
		data, shape, err := ort.GetTensorData[float32](v)
		if err != nil {
			return nil, err
		}

		return NewTensor(data, shape)
	case ort.ONNXTensorElementDataTypeInt64:
		data, shape, err := ort.GetTensorData[int64](v)
		if err != nil {
			return nil, err
		}

		return NewTensor(data, shape)
	default:
		return nil, fmt.Errorf("unsupported ORT element type %d", elemType)
	}
}

func closeORTValues(vals map[string]*ort.Value) {
	for _, v := range vals {
		if v != nil {
			v.Close()
		}
	}
}
