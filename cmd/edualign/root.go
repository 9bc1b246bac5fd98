package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/MrWong99/edualign/internal/config"
)

// rootOptions holds the persistent flags shared by all subcommands.
type rootOptions struct {
	configPath string
	envFile    string
	verbose    bool
	quiet      bool

	// level is the live log level; serve adjusts it on config reload.
	level *slog.LevelVar
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{level: new(slog.LevelVar)}

	cmd := &cobra.Command{
		Use:   "edualign",
		Short: "Segment time-coded transcripts into discourse units",
		Long: `edualign turns a word-level, time-coded transcript into elementary discourse
units (EDUs) using an LLM, then maps the units back onto the original timing.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadEnv(opts.envFile); err != nil {
				return err
			}
			setupLogging(opts, config.LogInfo)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file with provider API keys (ignored when missing)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose logging")
	cmd.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "suppress non-error output")

	cmd.AddCommand(newSegmentCmd(opts), newServeCmd(opts))
	return cmd
}

// loadEnv populates the process environment from path. Variables already set
// win over the file. A missing file is not an error.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	slog.Debug("loaded env file", "path", path)
	return nil
}

// setupLogging installs a text logger on stderr as the default. --verbose and
// --quiet override the configured level.
func setupLogging(opts *rootOptions, level config.LogLevel) {
	opts.level.Set(effectiveLevel(opts, level))
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: opts.level})
	slog.SetDefault(slog.New(handler))
}

func effectiveLevel(opts *rootOptions, level config.LogLevel) slog.Level {
	switch {
	case opts.verbose:
		return slog.LevelDebug
	case opts.quiet:
		return slog.LevelError
	}
	return level.Level()
}

// loadConfig reads the config file. When the file does not exist and the
// path was not set explicitly, a default config is returned so one-shot runs
// work with environment credentials alone.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		slog.Debug("no config file, using defaults", "path", opts.configPath)
		cfg = &config.Config{}
		config.ApplyDefaults(cfg)
		return cfg, nil
	}
	return nil, err
}
