// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads and validates the retronet YAML configuration.
//
// The on-disk shape (File) is separate from the runtime configs the
// pipeline packages consume; Pipeline() performs the conversion after
// defaults, environment overrides, and validation have been applied.
// Provider API keys are never stored inline: each provider names the
// environment variable that holds its key.
package config

import (
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/pariosur/retronet-sub001/services/insights/cache"
	"github.com/pariosur/retronet-sub001/services/insights/generative"
	"github.com/pariosur/retronet-sub001/services/insights/llm"
	"github.com/pariosur/retronet-sub001/services/insights/merger"
	"github.com/pariosur/retronet-sub001/services/insights/pipeline"
	"github.com/pariosur/retronet-sub001/services/insights/progress"
	"github.com/pariosur/retronet-sub001/services/insights/telemetry"
)

// =============================================================================
// Duration
// =============================================================================

// Duration is a time.Duration that unmarshals from YAML strings like
// "30m" or "2h15m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard library form.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// =============================================================================
// File Shape
// =============================================================================

// File is the on-disk YAML shape of the retronet configuration.
type File struct {
	Cache      CacheConfig               `yaml:"cache"`
	Progress   ProgressConfig            `yaml:"progress"`
	Merge      MergeConfig               `yaml:"merge"`
	Generative GenerativeConfig          `yaml:"generative"`
	Providers  map[string]ProviderConfig `yaml:"providers" validate:"dive"`
	Telemetry  TelemetryConfig           `yaml:"telemetry"`
	RuleSets   RuleSetsConfig            `yaml:"rule_sets"`
}

// CacheConfig tunes the partitioned analysis cache.
type CacheConfig struct {
	TTL                 Duration `yaml:"ttl" validate:"gte=0"`
	MaxEntries          int      `yaml:"max_entries" validate:"gte=0"`
	SimilarityThreshold float64  `yaml:"similarity_threshold" validate:"gte=0,lte=1"`
	SweepInterval       Duration `yaml:"sweep_interval"`
}

// ProgressConfig tunes session retention.
type ProgressConfig struct {
	GracePeriod  Duration `yaml:"grace_period" validate:"gte=0"`
	ReapInterval Duration `yaml:"reap_interval"`
}

// MergeConfig tunes hybrid merging.
type MergeConfig struct {
	DuplicateThreshold float64 `yaml:"duplicate_threshold" validate:"gte=0,lte=1"`
	AgreementBonus     float64 `yaml:"agreement_bonus" validate:"gte=0,lte=1"`
}

// GenerativeConfig tunes the generative analyzer.
type GenerativeConfig struct {
	MaxPromptChars  int      `yaml:"max_prompt_chars" validate:"gte=0"`
	CallTimeout     Duration `yaml:"call_timeout" validate:"gte=0"`
	CostPer1KTokens float64  `yaml:"cost_per_1k_tokens" validate:"gte=0"`
}

// ProviderConfig configures one model provider. APIKeyEnv names the
// environment variable holding the key so keys never live in the file.
type ProviderConfig struct {
	Model             string   `yaml:"model"`
	BaseURL           string   `yaml:"base_url"`
	APIKeyEnv         string   `yaml:"api_key_env"`
	Timeout           Duration `yaml:"timeout" validate:"gte=0"`
	RequestsPerMinute int      `yaml:"requests_per_minute" validate:"gte=0"`
	CostPer1KTokens   float64  `yaml:"cost_per_1k_tokens" validate:"gte=0"`
}

// TelemetryConfig selects exporters for traces and metrics.
type TelemetryConfig struct {
	TraceExporter  string        `yaml:"trace_exporter" validate:"omitempty,oneof=none otlp stdout"`
	MetricExporter string        `yaml:"metric_exporter" validate:"omitempty,oneof=none prometheus stdout"`
	OTLPEndpoint   string        `yaml:"otlp_endpoint"`
	OTLPInsecure   bool          `yaml:"otlp_insecure"`
	Influx         *InfluxConfig `yaml:"influx"`
}

// InfluxConfig enables the InfluxDB run-stats sink. The token comes
// from the named environment variable.
type InfluxConfig struct {
	URL      string `yaml:"url" validate:"required,url"`
	TokenEnv string `yaml:"token_env" validate:"required"`
	Org      string `yaml:"org" validate:"required"`
	Bucket   string `yaml:"bucket" validate:"required"`
}

// RuleSetsConfig points at the categorizer rule-set directory.
type RuleSetsConfig struct {
	// Dir holds *.yaml rule-set files. Empty disables file-based rule
	// sets; the shipped defaults apply.
	Dir string `yaml:"dir"`

	// ReloadDebounce coalesces bursts of file events before a reload.
	ReloadDebounce Duration `yaml:"reload_debounce" validate:"gte=0"`
}

// =============================================================================
// Defaults and Loading
// =============================================================================

// Defaults returns the shipped configuration.
func Defaults() File {
	return File{
		Cache: CacheConfig{
			TTL:                 Duration(30 * time.Minute),
			MaxEntries:          500,
			SimilarityThreshold: 0.8,
			SweepInterval:       Duration(5 * time.Minute),
		},
		Progress: ProgressConfig{
			GracePeriod:  Duration(10 * time.Minute),
			ReapInterval: Duration(time.Minute),
		},
		Merge: MergeConfig{
			DuplicateThreshold: 0.5,
			AgreementBonus:     0.1,
		},
		Generative: GenerativeConfig{
			MaxPromptChars:  24000,
			CallTimeout:     Duration(2 * time.Minute),
			CostPer1KTokens: 0.003,
		},
		Providers: map[string]ProviderConfig{
			"ollama": {
				Model:   "llama3.1",
				BaseURL: "http://localhost:11434",
			},
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
		},
		RuleSets: RuleSetsConfig{
			ReloadDebounce: Duration(500 * time.Millisecond),
		},
	}
}

// ApplyDefaults fills zero-valued fields from Defaults.
func (f *File) ApplyDefaults() {
	def := Defaults()

	if f.Cache.TTL == 0 {
		f.Cache.TTL = def.Cache.TTL
	}
	if f.Cache.MaxEntries == 0 {
		f.Cache.MaxEntries = def.Cache.MaxEntries
	}
	if f.Cache.SimilarityThreshold == 0 {
		f.Cache.SimilarityThreshold = def.Cache.SimilarityThreshold
	}
	if f.Cache.SweepInterval == 0 {
		f.Cache.SweepInterval = def.Cache.SweepInterval
	}

	if f.Progress.GracePeriod == 0 {
		f.Progress.GracePeriod = def.Progress.GracePeriod
	}
	if f.Progress.ReapInterval == 0 {
		f.Progress.ReapInterval = def.Progress.ReapInterval
	}

	if f.Merge.DuplicateThreshold == 0 {
		f.Merge.DuplicateThreshold = def.Merge.DuplicateThreshold
	}
	if f.Merge.AgreementBonus == 0 {
		f.Merge.AgreementBonus = def.Merge.AgreementBonus
	}

	if f.Generative.MaxPromptChars == 0 {
		f.Generative.MaxPromptChars = def.Generative.MaxPromptChars
	}
	if f.Generative.CallTimeout == 0 {
		f.Generative.CallTimeout = def.Generative.CallTimeout
	}
	if f.Generative.CostPer1KTokens == 0 {
		f.Generative.CostPer1KTokens = def.Generative.CostPer1KTokens
	}

	if f.Providers == nil {
		f.Providers = def.Providers
	}

	if f.Telemetry.TraceExporter == "" {
		f.Telemetry.TraceExporter = def.Telemetry.TraceExporter
	}
	if f.Telemetry.MetricExporter == "" {
		f.Telemetry.MetricExporter = def.Telemetry.MetricExporter
	}

	if f.RuleSets.ReloadDebounce == 0 {
		f.RuleSets.ReloadDebounce = def.RuleSets.ReloadDebounce
	}
}

// applyEnvOverrides lets the environment trump the file for deploy-time
// knobs. Provider API keys are always environment-resolved (see
// ProviderConfig.APIKeyEnv).
func (f *File) applyEnvOverrides() {
	if v := os.Getenv("RETRONET_TRACE_EXPORTER"); v != "" {
		f.Telemetry.TraceExporter = v
	}
	if v := os.Getenv("RETRONET_METRIC_EXPORTER"); v != "" {
		f.Telemetry.MetricExporter = v
	}
	if v := os.Getenv("RETRONET_OTLP_ENDPOINT"); v != "" {
		f.Telemetry.OTLPEndpoint = v
	}
	if v := os.Getenv("RETRONET_RULESET_DIR"); v != "" {
		f.RuleSets.Dir = v
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Durations validate through their nanosecond count so numeric tags
	// (gte, lte) apply.
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(Duration); ok {
			return time.Duration(d).Nanoseconds()
		}
		return nil
	}, Duration(0))
	return v
}

// Load reads, defaults, env-overrides, and validates the file at path.
//
// Description:
//
//	A missing file is not an error: Load returns Defaults() so first
//	runs work without setup. A present-but-invalid file is always an
//	error; silent fallback would mask typos in deployed configs.
func Load(path string) (*File, error) {
	var f File

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		f = Defaults()
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		f.ApplyDefaults()
	}

	f.applyEnvOverrides()

	if err := newValidator().Struct(&f); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return &f, nil
}

// =============================================================================
// Runtime Conversion
// =============================================================================

// Pipeline converts the file shape into the Manager's runtime config.
// Provider API keys are resolved from the environment here.
func (f *File) Pipeline() pipeline.Config {
	providers := make(map[string]llm.Config, len(f.Providers))
	for name, p := range f.Providers {
		providers[name] = llm.Config{
			Name:              name,
			Model:             p.Model,
			BaseURL:           p.BaseURL,
			APIKey:            resolveKey(p.APIKeyEnv),
			Timeout:           p.Timeout.Std(),
			RequestsPerMinute: float64(p.RequestsPerMinute),
			CostPer1KTokens:   p.CostPer1KTokens,
		}
	}

	return pipeline.Config{
		Cache: cache.Config{
			TTL:                 f.Cache.TTL.Std(),
			MaxEntries:          f.Cache.MaxEntries,
			SimilarityThreshold: f.Cache.SimilarityThreshold,
			SweepInterval:       f.Cache.SweepInterval.Std(),
		},
		Store: progress.StoreConfig{
			GracePeriod:  f.Progress.GracePeriod.Std(),
			ReapInterval: f.Progress.ReapInterval.Std(),
		},
		Merger: merger.Config{
			DuplicateThreshold: f.Merge.DuplicateThreshold,
			AgreementBonus:     f.Merge.AgreementBonus,
		},
		Generative: generative.Config{
			MaxPromptChars:  f.Generative.MaxPromptChars,
			CallTimeout:     f.Generative.CallTimeout.Std(),
			CostPer1KTokens: f.Generative.CostPer1KTokens,
		},
		Providers: providers,
	}
}

// TelemetryConfig converts the telemetry section into the init config.
func (f *File) TelemetryConfig() telemetry.Config {
	cfg := telemetry.Config{
		TraceExporter:  f.Telemetry.TraceExporter,
		MetricExporter: f.Telemetry.MetricExporter,
		OTLPEndpoint:   f.Telemetry.OTLPEndpoint,
		OTLPInsecure:   f.Telemetry.OTLPInsecure,
	}
	if in := f.Telemetry.Influx; in != nil {
		cfg.Influx = &telemetry.InfluxConfig{
			URL:    in.URL,
			Token:  resolveKey(in.TokenEnv),
			Org:    in.Org,
			Bucket: in.Bucket,
		}
	}
	return cfg
}

func resolveKey(envName string) string {
	if envName == "" {
		return ""
	}
	return os.Getenv(envName)
}
