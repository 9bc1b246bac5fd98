package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/edualign/internal/app"
	"github.com/MrWong99/edualign/internal/config"
	"github.com/MrWong99/edualign/internal/observe"
)

// shutdownTimeout bounds graceful shutdown, including in-flight jobs.
const shutdownTimeout = 30 * time.Second

// version is reported in telemetry. Overridden at build time via -ldflags.
var version = "dev"

type serveOptions struct {
	listenAddr       string
	noWatch          bool
	traceSampleRatio float64
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP segmentation service",
		Long: `Serve starts the HTTP service with the job API (/v1/jobs), health and
readiness probes (/healthz, /readyz) and Prometheus metrics (/metrics).

The config file is watched; changes to the pipeline block and the log level
apply without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, root, opts)
		},
	}
	cmd.Flags().StringVar(&opts.listenAddr, "listen", "", "override server.listen_addr")
	cmd.Flags().BoolVar(&opts.noWatch, "no-watch", false, "do not reload the config file on change")
	cmd.Flags().Float64Var(&opts.traceSampleRatio, "trace-sample-ratio", 1, "fraction of new traces to sample")
	return cmd
}

func runServe(cmd *cobra.Command, root *rootOptions, opts *serveOptions) error {
	// ── Load configuration ────────────────────────────────────────────────
	cfg, err := loadConfig(cmd, root)
	if err != nil {
		return err
	}
	if opts.listenAddr != "" {
		cfg.Server.ListenAddr = opts.listenAddr
	}

	// ── Logger ────────────────────────────────────────────────────────────
	setupLogging(root, cfg.Server.LogLevel)
	slog.Info("edualign starting",
		"config", root.configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"version", version,
	)

	// ── Signal context ────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "edualign",
		ServiceVersion: version,
		SampleRatio:    opts.traceSampleRatio,
		Global:         true,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		return err
	}

	appOpts := []app.Option{app.WithTelemetry(tel)}
	if !root.verbose && !root.quiet {
		appOpts = append(appOpts, app.WithLevelVar(root.level))
	}
	application, err := app.New(ctx, cfg, providers, appOpts...)
	if err != nil {
		return fmt.Errorf("initialise application: %w", err)
	}

	// ── Config hot reload ─────────────────────────────────────────────────
	if !opts.noWatch {
		if _, statErr := os.Stat(root.configPath); statErr == nil {
			w, err := config.NewWatcher(root.configPath, func(_, newCfg *config.Config) {
				if opts.listenAddr != "" {
					newCfg.Server.ListenAddr = opts.listenAddr
				}
				application.Reload(newCfg)
			})
			if err != nil {
				slog.Warn("config watcher disabled", "err", err)
			} else {
				defer w.Stop()
			}
		}
	}

	// ── Serve ─────────────────────────────────────────────────────────────
	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	slog.Info("goodbye")
	return nil
}
