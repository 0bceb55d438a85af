// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	f, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if f.Cache.TTL.Std() != 30*time.Minute {
		t.Errorf("default cache TTL = %v, want 30m", f.Cache.TTL.Std())
	}
	if f.Telemetry.MetricExporter != "prometheus" {
		t.Errorf("default metric exporter = %q", f.Telemetry.MetricExporter)
	}
	if _, ok := f.Providers["ollama"]; !ok {
		t.Error("defaults should ship an ollama provider")
	}
}

func TestLoad_FileWithOverridesAndDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "retronet.yaml", `
cache:
  ttl: 1h
  similarity_threshold: 0.9
providers:
  anthropic:
    model: claude-3-5-sonnet-20240620
    api_key_env: TEST_ANTHROPIC_KEY
    requests_per_minute: 30
`)

	f, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if f.Cache.TTL.Std() != time.Hour {
		t.Errorf("ttl = %v, want 1h", f.Cache.TTL.Std())
	}
	if f.Cache.SimilarityThreshold != 0.9 {
		t.Errorf("similarity = %v", f.Cache.SimilarityThreshold)
	}
	// Unset fields still take defaults.
	if f.Cache.MaxEntries != 500 {
		t.Errorf("max_entries default = %d, want 500", f.Cache.MaxEntries)
	}
	if f.Merge.DuplicateThreshold != 0.5 {
		t.Errorf("merge threshold default = %v, want 0.5", f.Merge.DuplicateThreshold)
	}

	p, ok := f.Providers["anthropic"]
	if !ok {
		t.Fatal("anthropic provider missing")
	}
	if p.RequestsPerMinute != 30 {
		t.Errorf("rpm = %d", p.RequestsPerMinute)
	}
}

func TestLoad_InvalidValuesRejected(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"similarity above one", "cache:\n  similarity_threshold: 1.5\n"},
		{"bad duration", "cache:\n  ttl: soon\n"},
		{"bad exporter", "telemetry:\n  trace_exporter: jaeger\n"},
		{"malformed yaml", "cache: [\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "retronet.yaml", tc.content)
			if _, err := Load(path); err == nil {
				t.Error("invalid config must fail to load")
			}
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RETRONET_TRACE_EXPORTER", "stdout")
	t.Setenv("RETRONET_OTLP_ENDPOINT", "collector:4317")

	f, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if f.Telemetry.TraceExporter != "stdout" {
		t.Errorf("trace exporter = %q, want env override", f.Telemetry.TraceExporter)
	}
	if f.Telemetry.OTLPEndpoint != "collector:4317" {
		t.Errorf("otlp endpoint = %q", f.Telemetry.OTLPEndpoint)
	}
}

func TestPipeline_ResolvesAPIKeysFromEnv(t *testing.T) {
	t.Setenv("TEST_ANTHROPIC_KEY", "sk-test-123")

	f := Defaults()
	f.Providers = map[string]ProviderConfig{
		"anthropic": {Model: "claude-3-5-sonnet-20240620", APIKeyEnv: "TEST_ANTHROPIC_KEY", Timeout: Duration(45 * time.Second), RequestsPerMinute: 30},
	}

	cfg := f.Pipeline()
	p, ok := cfg.Providers["anthropic"]
	if !ok {
		t.Fatal("provider not converted")
	}
	if p.APIKey != "sk-test-123" {
		t.Errorf("api key = %q, want env value", p.APIKey)
	}
	if p.Name != "anthropic" {
		t.Errorf("name = %q, want map key", p.Name)
	}
	if p.Timeout != 45*time.Second {
		t.Errorf("timeout = %v", p.Timeout)
	}
	if p.RequestsPerMinute != 30.0 {
		t.Errorf("rpm = %v, want 30", p.RequestsPerMinute)
	}
	if cfg.Cache.TTL != 30*time.Minute {
		t.Errorf("cache ttl = %v", cfg.Cache.TTL)
	}
}

func TestTelemetryConfig_InfluxTokenFromEnv(t *testing.T) {
	t.Setenv("TEST_INFLUX_TOKEN", "tok-9")

	f := Defaults()
	f.Telemetry.Influx = &InfluxConfig{
		URL:      "http://influx:8086",
		TokenEnv: "TEST_INFLUX_TOKEN",
		Org:      "retronet",
		Bucket:   "runs",
	}

	tc := f.TelemetryConfig()
	if tc.Influx == nil || tc.Influx.Token != "tok-9" {
		t.Fatalf("influx token not resolved: %+v", tc.Influx)
	}
}

func TestDuration_Marshal(t *testing.T) {
	out, err := Duration(90 * time.Second).MarshalYAML()
	if err != nil {
		t.Fatal(err)
	}
	if out != "1m30s" {
		t.Errorf("marshal = %v, want 1m30s", out)
	}
}
