package codec

import (
	"errors"
	"fmt"

	"github.com/example/go-xcodec/internal/codes"
	"github.com/example/go-xcodec/internal/runtime/compute"
)

var (
	ErrShapeMismatch  = errors.New("codec: shape mismatch")
	ErrInvalidCode    = codes.ErrInvalidCode
	ErrDeviceMismatch = errors.New("codec: device mismatch")
	ErrConfiguration  = errors.New("codec: configuration error")
	ErrInvalidInput   = errors.New("codec: invalid input")
)

// InvalidCodeError is raised when a decode index lies outside [0, K).
type InvalidCodeError = codes.InvalidCodeError

// ShapeMismatchError reports a tensor whose shape breaks a stage contract,
// most importantly branches that disagree on the frame count.
type ShapeMismatchError struct {
	Stage string
	What  string
	Want  int64
	Got   int64
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("codec: %s: %s is %d, want %d", e.Stage, e.What, e.Got, e.Want)
}

func (e *ShapeMismatchError) Is(target error) bool { return target == ErrShapeMismatch }

// DeviceMismatchError reports a stage bound to a different device than the
// call's compute context.
type DeviceMismatchError struct {
	Stage string
	Want  compute.Device
	Got   compute.Device
}

func (e *DeviceMismatchError) Error() string {
	return fmt.Sprintf("codec: stage %s runs on %s, call context is %s", e.Stage, e.Got, e.Want)
}

func (e *DeviceMismatchError) Is(target error) bool { return target == ErrDeviceMismatch }

// ConfigurationError reports missing or incompatible model artifacts.
type ConfigurationError struct {
	Component string
	Err       error
}

func (e *ConfigurationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("codec: configuration: %s", e.Component)
	}

	return fmt.Sprintf("codec: configuration: %s: %v", e.Component, e.Err)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }
func (e *ConfigurationError) Unwrap() error        { return e.Err }

// Configf builds a ConfigurationError from a format string.
func Configf(component, format string, args ...any) error {
	return &ConfigurationError{Component: component, Err: fmt.Errorf(format, args...)}
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
