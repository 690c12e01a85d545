package main

import (
	"log/slog"

	"github.com/example/go-xcodec/internal/bench"
	"github.com/spf13/cobra"
)

func newReconstructCmd() *cobra.Command {
	var (
		in   string
		out  string
		post postOptions
	)

	cmd := &cobra.Command{
		Use:   "reconstruct",
		Short: "Encode and decode a WAV file in one pass",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			if err := requireFlag("in", in); err != nil {
				return err
			}
			if err := requireFlag("out", out); err != nil {
				return err
			}

			s, err := openSession(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			w, err := readWaveform(in, cmd.InOrStdin(), s.sampleRate())
			if err != nil {
				return err
			}

			rec, seq, err := s.codec().Reconstruct(cmd.Context(), s.cc, w)
			if err != nil {
				return err
			}

			audioDur := bench.AudioDuration(w.Len(), w.SampleRate)
			slog.Info("reconstructed",
				"in_samples", w.Len(),
				"out_samples", rec.Len(),
				"frames", seq.Frames,
				"bitrate_bps", bench.Bitrate(seq.Frames, seq.K, audioDur),
			)

			return writeWaveform(out, cmd.OutOrStdout(), rec, post.hooks(rec.SampleRate))
		},
	}

	cmd.Flags().StringVar(&in, "in", "", "Input WAV file, - for stdin (required)")
	cmd.Flags().StringVar(&out, "out", "", "Output WAV file, - for stdout (required)")
	post.register(cmd)

	return cmd
}
