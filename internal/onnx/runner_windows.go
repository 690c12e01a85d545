//go:build windows

package onnx

import (
	"context"
	"errors"
	"fmt"
)

var errNoRunner = errors.New("onnx runner is unavailable on windows")

// RunnerConfig holds ORT library settings for creating runners.
type RunnerConfig struct {
	LibraryPath string
	APIVersion  uint32
}

// Env is unavailable in windows builds.
type Env struct{}

func NewEnv(RunnerConfig) (*Env, error) { return nil, errNoRunner }

func (e *Env) Open(name, _ string) (*Runner, error) {
	return nil, fmt.Errorf("graph %q: %w", name, errNoRunner)
}

func (e *Env) Close() {}

// Runner is unavailable in windows builds.
type Runner struct {
	name string
}

func NewRunner(name, _ string, _ RunnerConfig) (*Runner, error) {
	return nil, fmt.Errorf("graph %q: %w", name, errNoRunner)
}

func (r *Runner) Run(_ context.Context, _ map[string]*Tensor) (map[string]*Tensor, error) {
	return nil, fmt.Errorf("graph %q: %w", r.name, errNoRunner)
}

func (r *Runner) Close() {}

func (r *Runner) Name() string { return r.name }
