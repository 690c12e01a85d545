package main

import (
	"fmt"
	"os"
	"runtime/pprof"

	"github.com/example/go-xcodec/internal/bench"
	"github.com/spf13/cobra"
)

func newBenchCmd() *cobra.Command {
	var (
		in           string
		runs         int
		warmup       int
		format       string
		rtfThreshold float64
		cpuprofile   string
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark encode/decode latency and realtime factor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if err := requireFlag("in", in); err != nil {
				return err
			}
			if runs < 1 {
				return fmt.Errorf("--runs must be at least 1")
			}
			if format != "table" && format != "json" {
				return fmt.Errorf("--format must be 'table' or 'json'")
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

			if cpuprofile != "" {
				f, err := os.Create(cpuprofile)
				if err != nil {
					return fmt.Errorf("create cpuprofile: %w", err)
				}
				defer f.Close()

				if err := pprof.StartCPUProfile(f); err != nil {
					return fmt.Errorf("start cpuprofile: %w", err)
				}
				defer pprof.StopCPUProfile()
			}

			results, err := bench.Run(cmd.Context(), s.codec(), s.cc, w, bench.Options{Runs: runs, Warmup: warmup})
			if err != nil {
				return err
			}

			summary := bench.Summarize(results, s.codec().CodebookSize())

			switch format {
			case "json":
				if err := bench.FormatJSON(results, summary, cmd.OutOrStdout()); err != nil {
					return err
				}
			default:
				bench.FormatTable(results, summary, cmd.OutOrStdout())
			}

			return bench.CheckRTFThreshold(summary.MeanRTF, rtfThreshold)
		},
	}

	cmd.Flags().StringVar(&in, "in", "", "Input WAV file (required)")
	cmd.Flags().IntVar(&runs, "runs", 5, "Number of timed round trips")
	cmd.Flags().IntVar(&warmup, "warmup", 1, "Number of untimed warmup round trips")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json")
	cmd.Flags().Float64Var(&rtfThreshold, "rtf-threshold", 0, "Exit non-zero if mean RTF exceeds this value (0 = disabled)")
	cmd.Flags().StringVar(&cpuprofile, "cpuprofile", "", "Write a CPU profile labelled by stage")

	return cmd
}
