// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the insight pipeline.
//
// Thread Safety: Safe for concurrent use (Prometheus metrics are thread-safe).
type Metrics struct {
	// StageDurationSeconds measures per-stage wall time by stage name
	// and outcome.
	StageDurationSeconds *prometheus.HistogramVec

	// AnalysesTotal counts completed analyses by outcome.
	AnalysesTotal *prometheus.CounterVec

	// InsightsProduced counts insights by bucket and source.
	InsightsProduced *prometheus.CounterVec

	// CacheOpsTotal counts cache lookups by partition and result
	// (hit, similar_hit, miss, expired).
	CacheOpsTotal *prometheus.CounterVec

	// CacheCostSavedDollars accumulates the estimated model spend
	// avoided by cache hits.
	CacheCostSavedDollars prometheus.Counter

	// ProviderCallsTotal counts model calls by provider and outcome.
	ProviderCallsTotal *prometheus.CounterVec

	// ProviderLatencySeconds measures model call latency by provider.
	ProviderLatencySeconds *prometheus.HistogramVec

	// ParseStageTotal counts which parser stage produced each result.
	ParseStageTotal *prometheus.CounterVec

	// DegradationsTotal counts partial-failure degradations by scope.
	DegradationsTotal *prometheus.CounterVec

	// ActiveSessions gauges in-flight analysis sessions.
	ActiveSessions prometheus.Gauge
}

// NewMetrics creates and registers all pipeline metrics with the default
// registerer.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates pipeline metrics against an explicit registerer.
// Tests pass a throwaway registry so repeated construction cannot panic
// on duplicate registration.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		StageDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "retronet",
				Subsystem: "insights",
				Name:      "stage_duration_seconds",
				Help:      "Wall time per pipeline stage",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"stage", "outcome"},
		),

		AnalysesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "retronet",
				Subsystem: "insights",
				Name:      "analyses_total",
				Help:      "Completed analyses by outcome",
			},
			[]string{"outcome"},
		),

		InsightsProduced: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "retronet",
				Subsystem: "insights",
				Name:      "produced_total",
				Help:      "Insights produced by bucket and source",
			},
			[]string{"bucket", "source"},
		),

		CacheOpsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "retronet",
				Subsystem: "insights",
				Name:      "cache_ops_total",
				Help:      "Cache lookups by partition and result",
			},
			[]string{"partition", "result"},
		),

		CacheCostSavedDollars: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "retronet",
				Subsystem: "insights",
				Name:      "cache_cost_saved_dollars_total",
				Help:      "Estimated model spend avoided by cache hits",
			},
		),

		ProviderCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "retronet",
				Subsystem: "insights",
				Name:      "provider_calls_total",
				Help:      "Model provider calls by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),

		ProviderLatencySeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "retronet",
				Subsystem: "insights",
				Name:      "provider_latency_seconds",
				Help:      "Model provider call latency",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"provider"},
		),

		ParseStageTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "retronet",
				Subsystem: "insights",
				Name:      "parse_stage_total",
				Help:      "Parser results by winning stage",
			},
			[]string{"stage"},
		),

		DegradationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "retronet",
				Subsystem: "insights",
				Name:      "degradations_total",
				Help:      "Partial-failure degradations by scope",
			},
			[]string{"scope"},
		),

		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "retronet",
				Subsystem: "insights",
				Name:      "active_sessions",
				Help:      "In-flight analysis sessions",
			},
		),
	}
}

// ObserveStage records one stage execution. Outcome is "ok" or "error".
func (m *Metrics) ObserveStage(stage string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.StageDurationSeconds.WithLabelValues(stage, outcome).Observe(d.Seconds())
}

// ObserveProviderCall records one model call.
func (m *Metrics) ObserveProviderCall(provider string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.ProviderCallsTotal.WithLabelValues(provider, outcome).Inc()
	m.ProviderLatencySeconds.WithLabelValues(provider).Observe(d.Seconds())
}
