package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/example/go-xcodec/internal/audio"
	"github.com/example/go-xcodec/internal/codes"
	"github.com/example/go-xcodec/internal/testutil"
)

func TestCLI_EncodeDecodeRoundTrip(t *testing.T) {
	lib := testutil.RequireONNXRuntime(t)
	modelDir := testutil.RequireModelBundle(t)

	work := t.TempDir()
	in := filepath.Join(work, "in.wav")
	if err := audio.WriteWAVFile(in, tone(16000, 16000), 16000); err != nil {
		t.Fatalf("WriteWAVFile: %v", err)
	}

	common := []string{"--paths-model-dir", modelDir, "--ort-lib", lib, "--log-level", "warn"}
	xcd := filepath.Join(work, "in.xcd")

	if _, err := execute(t, append(common, "encode", "--in", in, "--out", xcd)...); err != nil {
		t.Fatalf("encode: %v", err)
	}

	seq, err := codes.ReadFile(xcd)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	// 16000 samples are always padded up to 16320.
	if seq.Frames != 51 {
		t.Errorf("want 51 frames, got %d", seq.Frames)
	}

	out := filepath.Join(work, "out.wav")
	if _, err := execute(t, append(common, "decode", "--in", xcd, "--out", out)...); err != nil {
		t.Fatalf("decode: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}

	testutil.AssertWAVSamples(t, data, seq.SampleRate, seq.Samples())
}
