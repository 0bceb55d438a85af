// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package generative runs the model-backed analysis stage: digest the
// activity records, consult the cache, call the configured provider,
// and parse whatever comes back.
package generative

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pariosur/retronet-sub001/services/insights/cache"
	"github.com/pariosur/retronet-sub001/services/insights/datatypes"
	"github.com/pariosur/retronet-sub001/services/insights/llm"
	"github.com/pariosur/retronet-sub001/services/insights/parser"
	"github.com/pariosur/retronet-sub001/services/insights/telemetry"
)

// Config tunes the generative stage.
type Config struct {
	// MaxPromptChars bounds the digest portion of the prompt. Zero
	// means unbounded.
	MaxPromptChars int

	// CallTimeout bounds one provider call. Zero means the parent
	// context alone governs.
	CallTimeout time.Duration

	// CostPer1KTokens feeds the cache's cost-saved accounting.
	CostPer1KTokens float64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxPromptChars:  24000,
		CallTimeout:     2 * time.Minute,
		CostPer1KTokens: 0.003,
	}
}

// Result is what one generative analysis produced.
type Result struct {
	Set      datatypes.InsightSet
	Provider datatypes.ProviderInfo

	// CacheHit is true when the set came from the cache, exact or
	// similar, without a model call.
	CacheHit bool

	// Similarity is the match score for similar-text hits; 1 for exact
	// hits, 0 for misses.
	Similarity float64
}

// Analyzer is the generative counterpart to the rule analyzer.
//
// Thread Safety: Safe for concurrent use. Identical concurrent requests
// are coalesced into a single provider call.
type Analyzer struct {
	provider llm.Provider
	cache    *cache.AnalysisCache
	metrics  *telemetry.Metrics
	cfg      Config
	logger   *slog.Logger
	group    singleflight.Group
}

// Option customizes an Analyzer.
type Option func(*Analyzer)

// WithMetrics attaches pipeline metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) { a.logger = l }
}

// WithConfig overrides the default stage config.
func WithConfig(cfg Config) Option {
	return func(a *Analyzer) { a.cfg = cfg }
}

// New builds an Analyzer. The cache may be nil, which disables caching
// entirely.
func New(provider llm.Provider, c *cache.AnalysisCache, opts ...Option) *Analyzer {
	a := &Analyzer{
		provider: provider,
		cache:    c,
		cfg:      DefaultConfig(),
		logger:   slog.Default().With(slog.String("component", "generative_analyzer")),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze runs the full generative stage over the records.
//
// Description:
//
//	Builds the deterministic digest, probes the cache (exact key first,
//	then similar text), and only then calls the provider. The raw
//	response goes through the parser fallback chain; whatever survives
//	is cached for next time. Provider failures propagate raw so the
//	pipeline boundary can classify them.
//
// Inputs:
//
//	ctx - Cancels the provider call.
//	records - Records grouped by source tag. Read-only.
//	actx - Analysis window and team context.
//	opts - Per-request options; SkipCache bypasses both probe and store.
//
// Outputs:
//
//	Result - The parsed insight set plus provenance.
//	error - Nil on success. Empty input is not an error; it yields an
//	empty set without a model call.
func (a *Analyzer) Analyze(ctx context.Context, records map[string][]datatypes.ActivityRecord, actx datatypes.AnalysisContext, opts datatypes.AnalysisOptions) (Result, error) {
	digest := BuildDigest(records)
	if digest == "" {
		return Result{Provider: datatypes.ProviderInfo{Name: a.provider.ProviderName()}}, nil
	}

	key := GenerateCacheKey(digest, a.provider.ProviderName(), actx)

	if a.cache != nil && !opts.SkipCache {
		if res, ok := a.probeCache(key, digest); ok {
			return res, nil
		}
	}

	// Coalesce identical concurrent requests onto one provider call.
	v, err, _ := a.group.Do(key, func() (any, error) {
		return a.generate(ctx, digest, actx)
	})
	if err != nil {
		return Result{}, err
	}
	res := v.(Result)

	if a.cache != nil && !opts.SkipCache {
		a.cache.Set(key, cache.PartitionAnalysis, res.Set, cache.EntryMeta{
			SourceText:    digest,
			EstimatedCost: llm.EstimateCost(llm.Config{CostPer1KTokens: a.cfg.CostPer1KTokens}, len(digest), 0),
		})
	}
	return res, nil
}

func (a *Analyzer) probeCache(key, digest string) (Result, bool) {
	if cached, ok := a.cache.Get(key, cache.PartitionAnalysis); ok {
		if set, ok := cached.(datatypes.InsightSet); ok {
			a.countCacheOp("hit")
			a.recordCostSaved(len(digest))
			a.logger.Debug("analysis cache hit", slog.String("key", key[:12]))
			return Result{
				Set:        set,
				Provider:   datatypes.ProviderInfo{Name: a.provider.ProviderName()},
				CacheHit:   true,
				Similarity: 1,
			}, true
		}
	}
	if cached, sim, ok := a.cache.FindSimilar(digest, cache.PartitionAnalysis); ok {
		if set, ok := cached.(datatypes.InsightSet); ok {
			a.countCacheOp("similar_hit")
			a.recordCostSaved(len(digest))
			a.logger.Debug("analysis cache similar hit", slog.Float64("similarity", sim))
			return Result{
				Set:        set,
				Provider:   datatypes.ProviderInfo{Name: a.provider.ProviderName()},
				CacheHit:   true,
				Similarity: sim,
			}, true
		}
	}
	a.countCacheOp("miss")
	return Result{}, false
}

func (a *Analyzer) generate(ctx context.Context, digest string, actx datatypes.AnalysisContext) (Result, error) {
	if a.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.CallTimeout)
		defer cancel()
	}

	prompt, truncated := truncateDigest(digest, a.cfg.MaxPromptChars)
	if truncated {
		a.logger.Info("digest truncated to fit prompt budget",
			slog.Int("original_chars", len(digest)),
			slog.Int("prompt_chars", len(prompt)))
	}

	start := time.Now()
	raw, err := a.provider.GenerateInsights(ctx, prompt, actx)
	elapsed := time.Since(start)
	if a.metrics != nil {
		a.metrics.ObserveProviderCall(a.provider.ProviderName(), elapsed, err)
	}
	if err != nil {
		return Result{}, fmt.Errorf("provider %s: %w", a.provider.ProviderName(), err)
	}

	outcome := parser.Parse(raw, a.provider.ProviderName())
	if a.metrics != nil {
		a.metrics.ParseStageTotal.WithLabelValues(outcome.Stage).Inc()
	}
	if outcome.Fallback {
		a.logger.Warn("structured parse failed, used fallback stage",
			slog.String("stage", outcome.Stage),
			slog.String("parse_error", outcome.ParseError))
	}

	return Result{
		Set: outcome.Set,
		Provider: datatypes.ProviderInfo{
			Name:       a.provider.ProviderName(),
			Fallback:   outcome.Fallback,
			ParseStage: outcome.Stage,
			ParseError: outcome.ParseError,
		},
	}, nil
}

func (a *Analyzer) countCacheOp(result string) {
	if a.metrics != nil {
		a.metrics.CacheOpsTotal.WithLabelValues(string(cache.PartitionAnalysis), result).Inc()
	}
}

// recordCostSaved reports the model spend a cache hit avoided, using the
// same estimate Set stored for the entry.
func (a *Analyzer) recordCostSaved(digestLen int) {
	if a.metrics != nil {
		a.metrics.CacheCostSavedDollars.Add(
			llm.EstimateCost(llm.Config{CostPer1KTokens: a.cfg.CostPer1KTokens}, digestLen, 0))
	}
}
