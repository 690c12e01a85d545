// Package compute carries the execution context that every codec stage is
// bound to: the device it runs on and how many goroutines its kernels may use.
package compute

import (
	"fmt"
	"runtime"
	"strings"
)

// Device names where a stage's tensors live.
type Device string

const (
	CPU  Device = "cpu"
	CUDA Device = "cuda"
)

// ParseDevice accepts "cpu", "cuda" or "cuda:N".
func ParseDevice(s string) (Device, error) {
	d := Device(strings.ToLower(strings.TrimSpace(s)))
	switch {
	case d == "":
		return CPU, nil
	case d == CPU, d == CUDA:
		return d, nil
	case strings.HasPrefix(string(d), "cuda:"):
		return d, nil
	default:
		return "", fmt.Errorf("compute: unknown device %q (expected cpu, cuda or cuda:N)", s)
	}
}

func (d Device) String() string { return string(d) }

// IsCUDA reports whether d names a CUDA device.
func (d Device) IsCUDA() bool {
	return d == CUDA || strings.HasPrefix(string(d), "cuda:")
}

// Context is passed explicitly on every codec call and every stage call.
// There is no process-wide default. The codec normalizes it on entry, so a
// zero Context means CPU with every core.
type Context struct {
	Device  Device
	Workers int
}

// Default returns a CPU context using every available core.
func Default() Context {
	return Context{Device: CPU, Workers: runtime.NumCPU()}
}

// Normalize fills zero fields: empty device becomes CPU and workers <= 0
// becomes runtime.NumCPU().
func (c Context) Normalize() Context {
	if c.Device == "" {
		c.Device = CPU
	}

	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}

	return c
}

// Bound is implemented by anything pinned to a device.
type Bound interface {
	Device() Device
}
