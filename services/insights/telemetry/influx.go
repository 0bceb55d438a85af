// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package telemetry

import (
	"context"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// InfluxConfig configures the stage-timing sink.
type InfluxConfig struct {
	URL    string `json:"url" yaml:"url" validate:"required,url"`
	Token  string `json:"token" yaml:"token"`
	Org    string `json:"org" yaml:"org"`
	Bucket string `json:"bucket" yaml:"bucket" validate:"required"`
}

// InfluxSink writes per-analysis stage timings to InfluxDB for
// long-horizon trend dashboards. Prometheus stays the operational
// source of truth; this sink is best-effort and write failures are
// logged, never propagated.
type InfluxSink struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
	logger *slog.Logger
}

// NewInfluxSink connects the sink. A nil config returns a nil sink,
// which every method treats as a no-op.
func NewInfluxSink(cfg *InfluxConfig, logger *slog.Logger) *InfluxSink {
	if cfg == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSink{
		client: client,
		write:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		logger: logger.With(slog.String("component", "influx_sink")),
	}
}

// RecordStage writes one stage timing point.
func (s *InfluxSink) RecordStage(ctx context.Context, sessionID, stage string, d time.Duration, failed bool) {
	if s == nil {
		return
	}
	point := influxdb2.NewPoint(
		"insight_stage",
		map[string]string{
			"stage":  stage,
			"failed": boolTag(failed),
		},
		map[string]any{
			"duration_ms": d.Milliseconds(),
			"session_id":  sessionID,
		},
		time.Now(),
	)
	if err := s.write.WritePoint(ctx, point); err != nil {
		s.logger.Warn("influx stage write failed", slog.String("stage", stage), slog.Any("error", err))
	}
}

// RecordAnalysis writes one analysis summary point.
func (s *InfluxSink) RecordAnalysis(ctx context.Context, sessionID string, insightCount int, elapsed time.Duration, degraded bool) {
	if s == nil {
		return
	}
	point := influxdb2.NewPoint(
		"insight_analysis",
		map[string]string{
			"degraded": boolTag(degraded),
		},
		map[string]any{
			"insights":    insightCount,
			"duration_ms": elapsed.Milliseconds(),
			"session_id":  sessionID,
		},
		time.Now(),
	)
	if err := s.write.WritePoint(ctx, point); err != nil {
		s.logger.Warn("influx analysis write failed", slog.Any("error", err))
	}
}

// Close releases the underlying client.
func (s *InfluxSink) Close() {
	if s == nil {
		return
	}
	s.client.Close()
}

func boolTag(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
