package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/edualign/internal/app"
	"github.com/MrWong99/edualign/internal/config"
	"github.com/MrWong99/edualign/internal/observe"
	"github.com/MrWong99/edualign/internal/pipeline"
	"github.com/MrWong99/edualign/internal/transcript"
)

type segmentOptions struct {
	output    string
	withUnits bool
	provider  string
	model     string
	timeout   time.Duration
}

func newSegmentCmd(root *rootOptions) *cobra.Command {
	opts := &segmentOptions{}
	cmd := &cobra.Command{
		Use:   "segment <input.json>",
		Short: "Segment one transcript file and write the realigned result",
		Long: `Segment reads a transcript (a JSON array of segments, {"segments": [...]},
or a speech-to-text result {"words": [...]} with times in seconds), splits it
into discourse units and writes the realigned segments as JSON.

Use "-" as input to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSegment(cmd, root, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "-", `output path ("-" for stdout)`)
	cmd.Flags().BoolVar(&opts.withUnits, "units", false, "write the full result including units, paragraph count and stats")
	cmd.Flags().StringVar(&opts.provider, "provider", "", "override the primary LLM provider name")
	cmd.Flags().StringVar(&opts.model, "model", "", "override the primary LLM model")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "abort the run after this duration (0 = no limit)")
	return cmd
}

func runSegment(cmd *cobra.Command, root *rootOptions, opts *segmentOptions, input string) error {
	cfg, err := loadConfig(cmd, root)
	if err != nil {
		return err
	}
	setupLogging(root, cfg.Server.LogLevel)

	if opts.provider != "" {
		cfg.Providers.LLM.Name = opts.provider
	}
	if opts.model != "" {
		cfg.Providers.LLM.Model = opts.model
	}
	if cfg.Providers.LLM.Name == "" {
		return fmt.Errorf("no LLM provider configured; set providers.llm in %s or pass --provider", root.configPath)
	}

	data, err := readInput(cmd, input)
	if err != nil {
		return err
	}
	segments, err := transcript.DecodeSegments(data)
	if err != nil {
		return fmt.Errorf("decode %s: %w", input, err)
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		return err
	}
	metrics := observe.DefaultMetrics()
	fb, err := app.NewLLM(providers, cfg.Resilience, metrics)
	if err != nil {
		return err
	}

	o := app.NewOracle(fb, providers.LLMName, cfg.Pipeline, metrics)
	p := app.NewPipeline(o, cfg.Pipeline, metrics)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	res, err := p.Run(ctx, segments)
	if err != nil {
		return fmt.Errorf("segment %s: %w", input, err)
	}
	slog.Info("segmentation complete",
		"paragraphs", res.Paragraphs,
		"units", len(res.Units),
		"segments_in", res.Stats.SegmentsIn,
		"segments_out", len(res.Segments),
		"duration", res.Stats.Total,
	)

	return writeResult(cmd, opts, res)
}

func readInput(cmd *cobra.Command, input string) ([]byte, error) {
	if input == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(input)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return data, nil
}

// writeResult writes the realigned segments, or the whole result with
// --units, as indented JSON.
func writeResult(cmd *cobra.Command, opts *segmentOptions, res *pipeline.Result) error {
	var v any = res.Segments
	if opts.withUnits {
		v = res
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	data = append(data, '\n')

	if opts.output == "" || opts.output == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(opts.output, data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	slog.Info("result written", "path", opts.output)
	return nil
}
