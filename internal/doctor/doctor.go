// Package doctor provides environment preflight checks for xcodec.
package doctor

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/example/go-xcodec/internal/model"
	"github.com/example/go-xcodec/internal/onnx"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// DetectRuntime locates the ONNX Runtime shared library.
	DetectRuntime func() (onnx.RuntimeInfo, error)
	// MinAPIVersion is the ORT C API version the runner requests. A library
	// whose version is known must be at least 1.<MinAPIVersion>.
	MinAPIVersion uint32
	// ModelDir is the bundle directory. Empty skips the model checks.
	ModelDir string
	// SkipWeights skips loading the checkpoint.
	SkipWeights bool
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(w io.Writer, check string, err error) {
	r.failures = append(r.failures, fmt.Sprintf("%s: %v", check, err))
	fmt.Fprintf(w, "%s %s: %v\n", FailMark, check, err)
}

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	// ---- ONNX Runtime -----------------------------------------------------
	if cfg.DetectRuntime == nil {
		fmt.Fprintf(w, "%s onnxruntime: skipped\n", PassMark)
	} else if info, err := cfg.DetectRuntime(); err != nil {
		res.fail(w, "onnxruntime", err)
	} else if vErr := checkORTVersion(info.Version, cfg.MinAPIVersion); vErr != nil {
		res.fail(w, "onnxruntime "+info.Version, vErr)
	} else {
		fmt.Fprintf(w, "%s onnxruntime: %s (%s)\n", PassMark, info.LibraryPath, info.Version)
	}

	if cfg.ModelDir == "" {
		fmt.Fprintf(w, "%s model bundle: skipped\n", PassMark)
		return res
	}

	// ---- manifest ---------------------------------------------------------
	m, err := model.LoadManifest(cfg.ModelDir)
	if err != nil {
		res.fail(w, "manifest", err)
		return res
	}

	fmt.Fprintf(w, "%s manifest: %s (%d Hz, %s quantizer)\n", PassMark, m.Name, m.SampleRate, m.Quantizer.Kind)

	// ---- bundle files -----------------------------------------------------
	filesOK := true
	for _, fc := range model.VerifyFiles(cfg.ModelDir, m) {
		if fc.Err != nil {
			filesOK = false
			res.fail(w, "file "+fc.File, fc.Err)
			continue
		}

		fmt.Fprintf(w, "%s file %s: sha256 %s\n", PassMark, fc.File, shortHash(fc.SHA256))
	}

	// ---- checkpoint tensors -----------------------------------------------
	switch {
	case cfg.SkipWeights:
		fmt.Fprintf(w, "%s weights: skipped\n", PassMark)
	case !filesOK:
		fmt.Fprintf(w, "%s weights: not checked, bundle files missing\n", FailMark)
	default:
		if err := model.CheckWeights(cfg.ModelDir, m); err != nil {
			res.fail(w, "weights", err)
		} else {
			fmt.Fprintf(w, "%s weights: %s\n", PassMark, m.Weights)
		}
	}

	return res
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// checkORTVersion returns an error if ver is a 1.x release older than
// 1.<minAPI>. An unknown version passes; the runner reports API mismatches.
func checkORTVersion(ver string, minAPI uint32) error {
	if ver == "" || ver == "unknown" {
		return nil
	}
	major, minor, err := parseMajorMinor(ver)
	if err != nil {
		return fmt.Errorf("cannot parse %q: %w", ver, err)
	}
	if major != 1 {
		return fmt.Errorf("requires onnxruntime 1.x, got %d", major)
	}
	if minAPI > 0 && minor < int(minAPI) {
		return fmt.Errorf("requires onnxruntime >=1.%d, got 1.%d", minAPI, minor)
	}
	return nil
}

func parseMajorMinor(ver string) (major, minor int, err error) {
	parts := strings.SplitN(ver, ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("unexpected version format %q", ver)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad major in %q: %w", ver, err)
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad minor in %q: %w", ver, err)
	}
	return major, minor, nil
}
