// Package commands implements the apiprobe command line.
package commands

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/gaborage/apiprobe/config"
	"github.com/gaborage/apiprobe/evidence"
	"github.com/gaborage/apiprobe/httpclient"
	"github.com/gaborage/apiprobe/logger"
	"github.com/gaborage/apiprobe/observability"
)

// skipRuntime marks commands that run without loading configuration.
const skipRuntime = "apiprobe/skip-runtime"

// Runtime is what the root command prepares for its subcommands.
type Runtime struct {
	Config    *config.Config
	Logger    logger.Logger
	Recorder  evidence.Recorder
	Telemetry observability.Provider

	// Loader loads configuration; tests replace it.
	Loader func(path string) (*config.Config, error)
	// LogWriter receives log output. Defaults to the command's stdout.
	LogWriter io.Writer
}

// NewClient builds an HTTP client from the loaded configuration, recording
// evidence and reporting telemetry through the runtime.
func (rt *Runtime) NewClient() (httpclient.Client, error) {
	b, err := httpclient.BuilderFromConfig(rt.Config, rt.Logger)
	if err != nil {
		return nil, err
	}
	return b.
		WithRecorder(rt.Recorder).
		WithTracerProvider(rt.Telemetry.TracerProvider()).
		WithMeterProvider(rt.Telemetry.MeterProvider()).
		Build()
}

// RootOptions holds the persistent flags.
type RootOptions struct {
	ConfigFile string
	BaseURL    string
	LogLevel   string
}

// NewRootCommand creates the apiprobe root command with all subcommands.
func NewRootCommand(version string) *cobra.Command {
	return newRootCommand(version, &Runtime{})
}

func newRootCommand(version string, rt *Runtime) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "apiprobe",
		Short: "Probe httpbin-compatible APIs with retrying requests",
		Long: `apiprobe sends HTTP requests with a retry policy, records request and
response evidence and exports telemetry. It can also serve a local
httpbin-compatible stub for offline runs.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipRuntime] == "true" {
				return nil
			}
			return rt.init(cmd, opts)
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return observability.Shutdown(rt.Telemetry, 0)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "YAML configuration file (default config.yaml or $APIPROBE_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.BaseURL, "base-url", "", "Override the configured base URL")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "Override the configured log level")

	cmd.AddCommand(
		NewSendCommand(rt),
		NewSmokeCommand(rt),
		NewStubCommand(rt),
		NewVersionCommand(version),
	)

	return cmd
}

// init loads configuration once and builds the shared dependencies.
func (rt *Runtime) init(cmd *cobra.Command, opts *RootOptions) error {
	load := rt.Loader
	if load == nil {
		load = loadConfig
	}
	cfg, err := load(opts.ConfigFile)
	if err != nil {
		return err
	}
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	rt.Config = cfg

	w := rt.LogWriter
	if w == nil {
		w = cmd.OutOrStdout()
	}
	rt.Logger = logger.NewWithWriter(w, cfg.Log.Level, cfg.Log.Pretty)

	rec, err := evidence.FromConfig(cfg.Reporting)
	if err != nil {
		rt.Logger.Warn().Err(err).Msg("Evidence recording unavailable, attachments are discarded")
	}
	rt.Recorder = rec

	tel, err := observability.NewProvider(cfg, observability.WithLogger(rt.Logger))
	if err != nil {
		return err
	}
	rt.Telemetry = tel

	rt.Logger.Debug().
		Str("base_url", cfg.BaseURL).
		Interface("files", cfg.LoadedFiles()).
		Msg("Configuration loaded")
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadWithOptions(config.WithFiles(path))
}
