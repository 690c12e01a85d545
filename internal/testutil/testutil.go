// Package testutil provides shared skip helpers for integration tests.
//
// Each helper calls t.Skip with a clear reason when the named prerequisite is
// absent, so integration tests stay runnable in partial environments.
//
// Typical usage:
//
//	func TestMyIntegration(t *testing.T) {
//	    lib := testutil.RequireONNXRuntime(t)
//	    dir := testutil.RequireModelBundle(t)
//	    ...
//	}
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// RequireONNXRuntime skips the test if no ONNX Runtime shared library can be
// located and otherwise returns its path. It checks ORT_LIBRARY_PATH, then
// XCODEC_ORT_LIB, then common system library paths.
func RequireONNXRuntime(tb testing.TB) string {
	tb.Helper()

	for _, env := range []string{"ORT_LIBRARY_PATH", "XCODEC_ORT_LIB"} {
		if p := os.Getenv(env); p != "" {
			if _, err := os.Stat(p); err == nil {
				return p
			}

			tb.Skipf("ONNX Runtime library not found at %s=%q", env, p)

			return ""
		}
	}

	candidates := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	tb.Skip("ONNX Runtime shared library not found; set ORT_LIBRARY_PATH or XCODEC_ORT_LIB")

	return ""
}

// RequireModelBundle skips the test unless XCODEC_MODEL_DIR points at a
// directory containing manifest.yaml, and returns that directory.
func RequireModelBundle(tb testing.TB) string {
	tb.Helper()

	dir := os.Getenv("XCODEC_MODEL_DIR")
	if dir == "" {
		tb.Skip("model bundle not configured; set XCODEC_MODEL_DIR")
		return ""
	}

	if _, err := os.Stat(filepath.Join(dir, "manifest.yaml")); err != nil {
		tb.Skipf("model bundle manifest not available in %q: %v", dir, err)
		return ""
	}

	return dir
}
