package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/example/go-xcodec/internal/bench"
	"github.com/example/go-xcodec/internal/codes"
	"github.com/spf13/cobra"
)

func newInspectCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "inspect <file.xcd>",
		Short: "Describe a code file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "table" && format != "json" {
				return fmt.Errorf("--format must be 'table' or 'json'")
			}

			seq, err := codes.ReadFile(args[0])
			if err != nil {
				return err
			}

			return writeInspect(cmd.OutOrStdout(), summarize(args[0], seq), format)
		},
	}

	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json")

	return cmd
}

type sequenceInfo struct {
	File         string  `json:"file"`
	CodebookSize int     `json:"codebook_size"`
	SampleRate   int     `json:"sample_rate"`
	FrameStride  int     `json:"frame_stride"`
	Batch        int     `json:"batch"`
	Frames       int     `json:"frames"`
	DurationSec  float64 `json:"duration_sec"`
	IndexBytes   int     `json:"index_bytes"`
	SizeBytes    int     `json:"size_bytes"`
	BitrateBPS   float64 `json:"bitrate_bps"`
	UniqueCodes  []int   `json:"unique_codes"`
}

func summarize(file string, seq *codes.Sequence) sequenceInfo {
	info := sequenceInfo{
		File:         file,
		CodebookSize: seq.K,
		SampleRate:   seq.SampleRate,
		FrameStride:  seq.FrameStride,
		Batch:        seq.Batch,
		Frames:       seq.Frames,
		DurationSec:  seq.Duration(),
		IndexBytes:   codes.IndexWidth(seq.K),
		SizeBytes:    codes.EncodedSize(seq),
		BitrateBPS:   bench.Bitrate(seq.Frames, seq.K, bench.AudioDuration(seq.Samples(), seq.SampleRate)),
		UniqueCodes:  make([]int, seq.Batch),
	}

	for b := range seq.Batch {
		seen := make(map[uint32]struct{})
		for _, idx := range seq.Row(b) {
			seen[idx] = struct{}{}
		}
		info.UniqueCodes[b] = len(seen)
	}

	return info
}

func writeInspect(w io.Writer, info sequenceInfo, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	sb := &strings.Builder{}
	row := func(k string, v any) { fmt.Fprintf(sb, "%-14s %v\n", k, v) }

	row("file", info.File)
	row("codebook size", info.CodebookSize)
	row("sample rate", info.SampleRate)
	row("frame stride", info.FrameStride)
	row("batch", info.Batch)
	row("frames", info.Frames)
	row("duration", fmt.Sprintf("%.3fs", info.DurationSec))
	row("index width", fmt.Sprintf("%d bytes", info.IndexBytes))
	row("size", fmt.Sprintf("%d bytes", info.SizeBytes))
	row("bitrate", fmt.Sprintf("%.1f bps", info.BitrateBPS))
	for b, n := range info.UniqueCodes {
		row(fmt.Sprintf("unique[%d]", b), n)
	}

	_, err := io.WriteString(w, sb.String())
	return err
}
