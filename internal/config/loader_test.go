package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/edualign/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		mention string
	}{
		{
			name:    "invalid log level",
			yaml:    "server:\n  log_level: verbose\n",
			mention: "log_level",
		},
		{
			name:    "fallbacks without primary",
			yaml:    "providers:\n  llm_fallbacks:\n    - name: anthropic\n",
			mention: "providers.llm is not configured",
		},
		{
			name:    "fallback without name",
			yaml:    "providers:\n  llm:\n    name: openai\n  llm_fallbacks:\n    - model: x\n",
			mention: "llm_fallbacks[0].name",
		},
		{
			name:    "negative spacing threshold",
			yaml:    "pipeline:\n  spacing_collapse_threshold: -1s\n",
			mention: "spacing_collapse_threshold",
		},
		{
			name:    "negative unit attempts",
			yaml:    "pipeline:\n  unit_attempts: -1\n",
			mention: "unit_attempts",
		},
		{
			name:    "negative rate limit",
			yaml:    "pipeline:\n  oracle_rate_limit_per_min: -5\n",
			mention: "oracle_rate_limit_per_min",
		},
		{
			name:    "negative reset timeout",
			yaml:    "resilience:\n  reset_timeout: -3s\n",
			mention: "reset_timeout",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.mention) {
				t.Errorf("error should mention %q, got: %v", tt.mention, err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: "loud"},
		Pipeline: config.PipelineConfig{
			ParagraphAttempts:       -1,
			MaxConcurrentParagraphs: -2,
		},
	}
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	msg := err.Error()
	for _, want := range []string{"log_level", "paragraph_attempts", "max_concurrent_paragraphs"} {
		if !strings.Contains(msg, want) {
			t.Errorf("joined error should mention %q, got: %v", want, msg)
		}
	}
}

func TestValidate_UnknownProviderNameIsWarningOnly(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Providers: config.ProvidersConfig{LLM: config.ProviderEntry{Name: "my-private-llm"}},
	}
	if err := config.Validate(cfg); err != nil {
		t.Errorf("unknown provider name should not fail validation, got: %v", err)
	}
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server:   config.ServerConfig{ListenAddr: ":1234", LogLevel: config.LogWarn},
		Pipeline: config.PipelineConfig{UnitAttempts: 7},
	}
	config.ApplyDefaults(cfg)
	if cfg.Server.ListenAddr != ":1234" || cfg.Server.LogLevel != config.LogWarn {
		t.Errorf("server: got %+v", cfg.Server)
	}
	if cfg.Pipeline.UnitAttempts != 7 {
		t.Errorf("unit_attempts: got %d, want 7", cfg.Pipeline.UnitAttempts)
	}
	if cfg.Pipeline.ParagraphAttempts != config.DefaultParagraphAttempts {
		t.Errorf("paragraph_attempts: got %d, want default", cfg.Pipeline.ParagraphAttempts)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"openai", "anthropic", "ollama"} {
		found := false
		for _, n := range config.ValidProviderNames {
			if n == name {
				found = true
			}
		}
		if !found {
			t.Errorf("ValidProviderNames should include %q", name)
		}
	}
}
