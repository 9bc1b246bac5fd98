package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known LLM provider names.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{
	"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, validates it and applies
// defaults. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	p := &cfg.Pipeline
	if p.SpacingCollapseThreshold == nil {
		d := DefaultSpacingCollapseThreshold
		p.SpacingCollapseThreshold = &d
	}
	if p.ParagraphAttempts == 0 {
		p.ParagraphAttempts = DefaultParagraphAttempts
	}
	if p.UnitAttempts == 0 {
		p.UnitAttempts = DefaultUnitAttempts
	}
	if p.MaxConcurrentParagraphs == 0 {
		p.MaxConcurrentParagraphs = DefaultMaxConcurrentParagraphs
	}
	if p.OracleTimeout == 0 {
		p.OracleTimeout = DefaultOracleTimeout
	}
	if p.RetryBackoff == 0 {
		p.RetryBackoff = DefaultRetryBackoff
	}
	if p.TargetParagraphChars == 0 {
		p.TargetParagraphChars = DefaultTargetParagraphChars
	}

	if cfg.Resilience.MaxFailures == 0 {
		cfg.Resilience.MaxFailures = DefaultMaxFailures
	}
	if cfg.Resilience.ResetTimeout == 0 {
		cfg.Resilience.ResetTimeout = DefaultResetTimeout
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Providers
	validateProviderName("providers.llm", cfg.Providers.LLM.Name)
	if cfg.Providers.LLM.Name == "" {
		if len(cfg.Providers.LLMFallbacks) > 0 {
			errs = append(errs, errors.New("providers.llm_fallbacks is set but providers.llm is not configured"))
		} else {
			slog.Warn("no LLM provider configured; segmentation requests will fail")
		}
	}
	for i, fb := range cfg.Providers.LLMFallbacks {
		prefix := fmt.Sprintf("providers.llm_fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateProviderName(prefix, fb.Name)
	}

	// Pipeline
	p := cfg.Pipeline
	if p.SpacingCollapseThreshold != nil && *p.SpacingCollapseThreshold < 0 {
		errs = append(errs, fmt.Errorf("pipeline.spacing_collapse_threshold %s must not be negative", *p.SpacingCollapseThreshold))
	}
	if p.ParagraphAttempts < 0 {
		errs = append(errs, fmt.Errorf("pipeline.paragraph_attempts %d must be positive", p.ParagraphAttempts))
	}
	if p.UnitAttempts < 0 {
		errs = append(errs, fmt.Errorf("pipeline.unit_attempts %d must be positive", p.UnitAttempts))
	}
	if p.MaxConcurrentParagraphs < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_concurrent_paragraphs %d must be positive", p.MaxConcurrentParagraphs))
	}
	if p.OracleRateLimitPerMin < 0 {
		errs = append(errs, fmt.Errorf("pipeline.oracle_rate_limit_per_min %d must not be negative", p.OracleRateLimitPerMin))
	}
	if p.OracleTimeout < 0 {
		errs = append(errs, fmt.Errorf("pipeline.oracle_timeout %s must not be negative", p.OracleTimeout))
	}
	if p.RetryBackoff < 0 {
		errs = append(errs, fmt.Errorf("pipeline.retry_backoff %s must not be negative", p.RetryBackoff))
	}
	if p.TargetParagraphChars < 0 {
		errs = append(errs, fmt.Errorf("pipeline.target_paragraph_chars %d must be positive", p.TargetParagraphChars))
	}

	// Resilience
	if cfg.Resilience.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("resilience.max_failures %d must be positive", cfg.Resilience.MaxFailures))
	}
	if cfg.Resilience.HalfOpenProbes < 0 {
		errs = append(errs, fmt.Errorf("resilience.half_open_probes %d must not be negative", cfg.Resilience.HalfOpenProbes))
	}
	if cfg.Resilience.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("resilience.reset_timeout %s must not be negative", cfg.Resilience.ResetTimeout))
	}

	// Store
	if cfg.Store.PostgresDSN == "" {
		slog.Debug("store.postgres_dsn is empty; job results are kept in memory")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// [ValidProviderNames].
func validateProviderName(field, name string) {
	if name == "" || slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"field", field,
		"name", name,
		"known", ValidProviderNames,
	)
}
