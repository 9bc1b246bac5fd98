package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Pipeline and log level changes are applied live; provider, server address,
// resilience and store changes need a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	PipelineChanged bool

	ProvidersChanged  bool
	ListenAddrChanged bool
	ResilienceChanged bool
	StoreChanged      bool
}

// RequiresRestart reports whether d contains changes that are not applied live.
func (d ConfigDiff) RequiresRestart() bool {
	return d.ProvidersChanged || d.ListenAddrChanged || d.ResilienceChanged || d.StoreChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.ListenAddrChanged = old.Server.ListenAddr != new.Server.ListenAddr
	d.PipelineChanged = !pipelineEqual(old.Pipeline, new.Pipeline)
	d.ProvidersChanged = !providerEqual(old.Providers.LLM, new.Providers.LLM) ||
		!slices.EqualFunc(old.Providers.LLMFallbacks, new.Providers.LLMFallbacks, providerEqual)
	d.ResilienceChanged = old.Resilience != new.Resilience
	d.StoreChanged = old.Store != new.Store

	return d
}

func pipelineEqual(a, b PipelineConfig) bool {
	if a.SpacingThreshold() != b.SpacingThreshold() {
		return false
	}
	a.SpacingCollapseThreshold, b.SpacingCollapseThreshold = nil, nil
	return a == b
}

func providerEqual(a, b ProviderEntry) bool {
	return reflect.DeepEqual(a, b)
}
