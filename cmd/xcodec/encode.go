package main

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/example/go-xcodec/internal/codes"
	"github.com/example/go-xcodec/internal/codestore"
	"github.com/spf13/cobra"
)

func newEncodeCmd() *cobra.Command {
	var (
		in     string
		out    string
		store  bool
		name   string
		labels map[string]string
	)

	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode a WAV file into a code sequence",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			if err := requireFlag("in", in); err != nil {
				return err
			}
			if out == "" && !store {
				return errors.New("one of --out or --store is required")
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

			seq, err := s.codec().Encode(cmd.Context(), s.cc, w)
			if err != nil {
				return err
			}

			slog.Info("encoded",
				"in", in,
				"samples", w.Len(),
				"frames", seq.Frames,
				"codebook_size", seq.K,
			)

			if out != "" {
				if err := codes.WriteFile(out, seq); err != nil {
					return err
				}
			}

			if store {
				st, err := openStore(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				defer st.Close()

				if name == "" && in != "-" {
					name = filepath.Base(in)
				}

				id, err := st.Put(cmd.Context(), seq, codestore.Meta{Name: name, Labels: labels})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&in, "in", "", "Input WAV file, - for stdin (required)")
	cmd.Flags().StringVar(&out, "out", "", "Output code file (.xcd)")
	cmd.Flags().BoolVar(&store, "store", false, "Save the codes in the configured code store and print the ID")
	cmd.Flags().StringVar(&name, "name", "", "Name recorded in the store (defaults to the input file name)")
	cmd.Flags().StringToStringVar(&labels, "label", nil, "Labels recorded in the store (key=value)")

	return cmd
}
