package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/example/go-xcodec/internal/doctor"
	"github.com/example/go-xcodec/internal/onnx"
	"github.com/spf13/cobra"
)

func newDoctorCmd() *cobra.Command {
	var skipWeights bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run local runtime and model checks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			stdout := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(stdout, "model dir: %s\n", cfg.Paths.ModelDir)

			result := doctor.Run(doctor.Config{
				DetectRuntime: func() (onnx.RuntimeInfo, error) { return onnx.DetectRuntime(cfg.Runtime) },
				MinAPIVersion: cfg.Runtime.ORTAPIVersion,
				ModelDir:      cfg.Paths.ModelDir,
				SkipWeights:   skipWeights,
			}, stdout)

			if _, err := computeContext(cfg); err != nil {
				result.AddFailure(fmt.Sprintf("device: %v", err))
				_, _ = fmt.Fprintf(stdout, "%s device: %v\n", doctor.FailMark, err)
			}

			if result.Failed() {
				for _, f := range result.Failures() {
					fmt.Fprintf(os.Stderr, "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(stdout, "doctor checks passed")

			return nil
		},
	}

	cmd.Flags().BoolVar(&skipWeights, "skip-weights", false, "Do not load the checkpoint")

	return cmd
}
