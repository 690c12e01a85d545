package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/example/go-xcodec/internal/audio"
	"github.com/example/go-xcodec/internal/codec"
	"github.com/example/go-xcodec/internal/codestore"
	"github.com/example/go-xcodec/internal/config"
	"github.com/example/go-xcodec/internal/model"
	"github.com/example/go-xcodec/internal/runtime/compute"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	activeCfg config.Config
)

func NewRootCmd() *cobra.Command {
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:           "xcodec",
		Short:         "Neural speech codec command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(config.LoadOptions{
				Cmd:        cmd,
				ConfigFile: cfgFile,
				Defaults:   defaults,
			})
			if err != nil {
				return err
			}
			activeCfg = loaded
			setupLogger(loaded.SlogLevel())
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Optional config file (yaml|toml|json)")
	config.RegisterFlags(cmd.PersistentFlags(), defaults)

	cmd.AddCommand(newEncodeCmd())
	cmd.AddCommand(newDecodeCmd())
	cmd.AddCommand(newReconstructCmd())
	cmd.AddCommand(newInspectCmd())
	cmd.AddCommand(newStoreCmd())
	cmd.AddCommand(newBenchCmd())
	cmd.AddCommand(newDoctorCmd())

	return cmd
}

// setupLogger configures the process-wide slog default logger.
func setupLogger(lvl slog.Level) {
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(h))
}

func requireConfig() (config.Config, error) {
	if activeCfg.Paths.ModelDir == "" {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return activeCfg, nil
}

func computeContext(cfg config.Config) (compute.Context, error) {
	dev, err := compute.ParseDevice(cfg.Runtime.Device)
	if err != nil {
		return compute.Context{}, err
	}
	return compute.Context{Device: dev, Workers: cfg.Runtime.Threads}.Normalize(), nil
}

// session is a loaded model bundle plus the context to run it in.
type session struct {
	bundle *model.Bundle
	cc     compute.Context
}

func openSession(cfg config.Config) (*session, error) {
	cc, err := computeContext(cfg)
	if err != nil {
		return nil, err
	}

	b, err := model.Load(cfg.Paths.ModelDir, model.LoadOptions{Runtime: cfg.Runtime})
	if err != nil {
		return nil, err
	}

	return &session{bundle: b, cc: cc}, nil
}

func (s *session) Close()             { s.bundle.Close() }
func (s *session) codec() *codec.Codec { return s.bundle.Codec }
func (s *session) sampleRate() int    { return s.bundle.Manifest.SampleRate }

// readWaveform loads a WAV file ("-" for stdin), downmixes it and resamples
// it to sampleRate.
func readWaveform(path string, stdin io.Reader, sampleRate int) (codec.Waveform, error) {
	var (
		clip audio.Clip
		err  error
	)

	if path == "-" {
		data, rerr := io.ReadAll(stdin)
		if rerr != nil {
			return codec.Waveform{}, fmt.Errorf("read stdin: %w", rerr)
		}
		clip, err = audio.DecodeWAV(data)
	} else {
		clip, err = audio.ReadWAVFile(path)
	}
	if err != nil {
		return codec.Waveform{}, err
	}

	if clip.SampleRate != sampleRate {
		slog.Debug("resampling input", "from", clip.SampleRate, "to", sampleRate)
	}

	samples, err := audio.Conform(clip, sampleRate)
	if err != nil {
		return codec.Waveform{}, err
	}

	return codec.Mono(samples, sampleRate), nil
}

func openStore(ctx context.Context, cfg config.Config) (codestore.Store, error) {
	if cfg.Store.Backend != config.StoreS3 && cfg.Store.Dir != "" {
		if err := os.MkdirAll(filepath.Clean(cfg.Store.Dir), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	return codestore.Open(ctx, cfg.Store)
}

func requireFlag(name, value string) error {
	if value == "" {
		return fmt.Errorf("--%s is required", name)
	}
	return nil
}
