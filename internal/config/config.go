// Package config layers defaults, flags, XCODEC_* environment variables and an
// optional xcodec.{yaml,toml,json} file into one validated Config.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "XCODEC"

type Config struct {
	Paths    PathsConfig   `mapstructure:"paths"`
	Runtime  RuntimeConfig `mapstructure:"runtime"`
	Store    StoreConfig   `mapstructure:"store"`
	LogLevel string        `mapstructure:"log_level" validate:"oneof=debug info warn error"`
}

type PathsConfig struct {
	ModelDir string `mapstructure:"model_dir" validate:"required"`
}

type RuntimeConfig struct {
	Threads        int    `mapstructure:"threads" validate:"min=1"`
	Device         string `mapstructure:"device" validate:"required"`
	ORTLibraryPath string `mapstructure:"ort_library_path"`
	ORTVersion     string `mapstructure:"ort_version"`
	ORTAPIVersion  uint32 `mapstructure:"ort_api_version" validate:"min=1"`
}

const (
	StoreBadger = "badger"
	StoreFile   = "file"
	StoreS3     = "s3"
)

type StoreConfig struct {
	Backend      string `mapstructure:"backend" validate:"oneof=badger file s3"`
	Dir          string `mapstructure:"dir" validate:"required_unless=Backend s3"`
	Bucket       string `mapstructure:"bucket" validate:"required_if=Backend s3"`
	Prefix       string `mapstructure:"prefix"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint" validate:"omitempty,url"`
	UsePathStyle bool   `mapstructure:"use_path_style"`

	// Static credentials; empty falls back to the default AWS chain.
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" validate:"required_with=AccessKeyID"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			ModelDir: "models/xcodec2",
		},
		Runtime: RuntimeConfig{
			Threads:       4,
			Device:        "cpu",
			ORTAPIVersion: 23,
		},
		Store: StoreConfig{
			Backend: StoreBadger,
			Dir:     "data/codes",
			Prefix:  "codes/",
		},
		LogLevel: "info",
	}
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("paths-model-dir", defaults.Paths.ModelDir, "Model bundle directory (manifest.yaml, weights, graphs)")
	fs.Int("runtime-threads", defaults.Runtime.Threads, "Worker goroutines for native kernels")
	fs.String("runtime-device", defaults.Runtime.Device, "Compute device (cpu, cuda, cuda:N)")
	fs.String("runtime-ort-library-path", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library")
	fs.String("ort-lib", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library (alias for --runtime-ort-library-path)")
	fs.String("runtime-ort-version", defaults.Runtime.ORTVersion, "Expected ONNX Runtime version")
	fs.Uint32("runtime-ort-api-version", defaults.Runtime.ORTAPIVersion, "ONNX Runtime C API version")
	fs.String("store-backend", defaults.Store.Backend, "Code store backend (badger, file, s3)")
	fs.String("store-dir", defaults.Store.Dir, "Code store directory (badger, file)")
	fs.String("store-bucket", defaults.Store.Bucket, "S3 bucket for the s3 code store")
	fs.String("store-prefix", defaults.Store.Prefix, "Key prefix inside the code store")
	fs.String("store-region", defaults.Store.Region, "S3 region")
	fs.String("store-endpoint", defaults.Store.Endpoint, "S3-compatible endpoint URL")
	fs.Bool("store-use-path-style", defaults.Store.UsePathStyle, "Use path-style S3 addressing")
	fs.String("log-level", defaults.LogLevel, "Log level (debug, info, warn, error)")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)

	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	if err := v.BindEnv("runtime.ort_library_path", "XCODEC_ORT_LIB", "ORT_LIBRARY_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind ort env vars: %w", err)
	}

	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)

		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("xcodec")
		v.AddConfigPath(".")

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and reports every violation at once.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}

	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// SlogLevel maps LogLevel onto slog. Unknown values fall back to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.model_dir", c.Paths.ModelDir)
	v.SetDefault("runtime.threads", c.Runtime.Threads)
	v.SetDefault("runtime.device", c.Runtime.Device)
	v.SetDefault("runtime.ort_library_path", c.Runtime.ORTLibraryPath)
	v.SetDefault("runtime.ort_version", c.Runtime.ORTVersion)
	v.SetDefault("runtime.ort_api_version", c.Runtime.ORTAPIVersion)
	v.SetDefault("store.backend", c.Store.Backend)
	v.SetDefault("store.dir", c.Store.Dir)
	v.SetDefault("store.bucket", c.Store.Bucket)
	v.SetDefault("store.prefix", c.Store.Prefix)
	v.SetDefault("store.region", c.Store.Region)
	v.SetDefault("store.endpoint", c.Store.Endpoint)
	v.SetDefault("store.use_path_style", c.Store.UsePathStyle)
	v.SetDefault("store.access_key_id", c.Store.AccessKeyID)
	v.SetDefault("store.secret_access_key", c.Store.SecretAccessKey)
	v.SetDefault("log_level", c.LogLevel)
}

// flagKeys maps config keys to the flags that set them. When a key has more
// than one flag the first changed flag wins.
var flagKeys = []struct {
	key   string
	flags []string
}{
	{"paths.model_dir", []string{"paths-model-dir"}},
	{"runtime.threads", []string{"runtime-threads"}},
	{"runtime.device", []string{"runtime-device"}},
	{"runtime.ort_library_path", []string{"runtime-ort-library-path", "ort-lib"}},
	{"runtime.ort_version", []string{"runtime-ort-version"}},
	{"runtime.ort_api_version", []string{"runtime-ort-api-version"}},
	{"store.backend", []string{"store-backend"}},
	{"store.dir", []string{"store-dir"}},
	{"store.bucket", []string{"store-bucket"}},
	{"store.prefix", []string{"store-prefix"}},
	{"store.region", []string{"store-region"}},
	{"store.endpoint", []string{"store-endpoint"}},
	{"store.use_path_style", []string{"store-use-path-style"}},
	{"log_level", []string{"log-level"}},
}

// bindFlags binds flags to their nested keys directly so values from a config
// file still apply when the flag was left at its default.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for _, fk := range flagKeys {
		var chosen *pflag.Flag

		for _, name := range fk.flags {
			f := fs.Lookup(name)
			if f == nil {
				continue
			}

			if chosen == nil || (!chosen.Changed && f.Changed) {
				chosen = f
			}
		}

		if chosen == nil {
			continue
		}

		if err := v.BindPFlag(fk.key, chosen); err != nil {
			return fmt.Errorf("%s: %w", fk.key, err)
		}
	}

	return nil
}
