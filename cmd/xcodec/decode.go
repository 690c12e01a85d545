package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/example/go-xcodec/internal/audio"
	"github.com/example/go-xcodec/internal/codec"
	"github.com/example/go-xcodec/internal/codes"
	"github.com/example/go-xcodec/internal/config"
	"github.com/spf13/cobra"
)

// postOptions are the output conditioning flags shared by decode and reconstruct.
type postOptions struct {
	normalize bool
	dcBlock   bool
}

func (p *postOptions) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&p.normalize, "peak-normalize", false, "Peak-normalize the decoded audio")
	cmd.Flags().BoolVar(&p.dcBlock, "dc-block", false, "Remove DC offset from the decoded audio")
}

func (p postOptions) hooks(sampleRate int) []audio.Hook {
	var hooks []audio.Hook
	if p.dcBlock {
		hooks = append(hooks, func(s []float32) []float32 { return audio.DCBlock(s, sampleRate) })
	}
	if p.normalize {
		hooks = append(hooks, audio.PeakNormalize)
	}
	return hooks
}

func newDecodeCmd() *cobra.Command {
	var (
		in   string
		id   string
		out  string
		post postOptions
	)

	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode a code sequence back to WAV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			if (in == "") == (id == "") {
				return errors.New("exactly one of --in or --id is required")
			}
			if err := requireFlag("out", out); err != nil {
				return err
			}

			seq, err := loadSequence(cmd.Context(), cfg, in, id)
			if err != nil {
				return err
			}

			s, err := openSession(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			w, err := s.codec().Decode(cmd.Context(), s.cc, seq)
			if err != nil {
				return err
			}

			slog.Info("decoded", "frames", seq.Frames, "samples", w.Len())

			return writeWaveform(out, cmd.OutOrStdout(), w, post.hooks(w.SampleRate))
		},
	}

	cmd.Flags().StringVar(&in, "in", "", "Input code file (.xcd)")
	cmd.Flags().StringVar(&id, "id", "", "ID of a sequence in the code store")
	cmd.Flags().StringVar(&out, "out", "", "Output WAV file, - for stdout (required)")
	post.register(cmd)

	return cmd
}

func loadSequence(ctx context.Context, cfg config.Config, in, id string) (*codes.Sequence, error) {
	if in != "" {
		return codes.ReadFile(in)
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	rec, err := st.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.Codes, nil
}

// writeWaveform writes each batch row as 16-bit PCM WAV. A batch of more than
// one row is written as <out>.<row>.wav. "-" streams row 0 to stdout.
func writeWaveform(out string, stdout io.Writer, w codec.Waveform, hooks []audio.Hook) error {
	if w.Batch() == 0 {
		return errors.New("no audio to write")
	}

	if out == "-" {
		if _, err := audio.WriteWAVHeaderStreaming(stdout, w.SampleRate); err != nil {
			return err
		}
		_, err := audio.WritePCM16Samples(stdout, audio.ApplyHooks(w.Samples[0], hooks...))
		return err
	}

	for b, row := range w.Samples {
		path := out
		if w.Batch() > 1 {
			ext := filepath.Ext(out)
			path = fmt.Sprintf("%s.%d%s", strings.TrimSuffix(out, ext), b, ext)
		}

		if err := audio.WriteWAVFile(path, audio.ApplyHooks(row, hooks...), w.SampleRate); err != nil {
			return err
		}
	}

	return nil
}
