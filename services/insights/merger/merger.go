// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package merger combines the rule-based and generative insight sets into
// one deduplicated result.
//
// Per bucket, every rule insight is compared with every generative insight
// by token-overlap similarity (the same tokenizer the analysis cache uses
// for near-duplicate lookups). Pairs above the duplicate threshold collapse
// into a single hybrid insight whose confidence reflects cross-path
// agreement; everything unmatched is kept with its original source.
package merger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/pariosur/retronet-sub001/services/insights/cache"
	"github.com/pariosur/retronet-sub001/services/insights/categorizer"
	"github.com/pariosur/retronet-sub001/services/insights/datatypes"
)

// Config tunes duplicate detection and hybrid confidence.
type Config struct {
	// DuplicateThreshold is the minimum similarity for a rule/generative
	// pair to merge into one hybrid insight.
	DuplicateThreshold float64

	// AgreementBonus scales the weaker confidence into the hybrid score:
	// hybrid = max(pair) + AgreementBonus*min(pair), clamped to 1.
	AgreementBonus float64
}

// DefaultConfig returns the shipped merge tuning.
func DefaultConfig() Config {
	return Config{
		DuplicateThreshold: 0.5,
		AgreementBonus:     0.1,
	}
}

// Merger merges insight sets and categorizes stragglers.
//
// Thread Safety: Safe for concurrent use.
type Merger struct {
	cfg     Config
	ruleSet *categorizer.RuleSet
	cache   *cache.AnalysisCache
	logger  *slog.Logger
}

// Option customizes a Merger.
type Option func(*Merger)

// WithCache memoizes categorizer scoring through the cache's category
// partition, so repeated runs over overlapping insight text skip the
// rule scan.
func WithCache(c *cache.AnalysisCache) Option {
	return func(m *Merger) { m.cache = c }
}

// New creates a Merger.
//
// Inputs:
//
//	cfg - Merge tuning. Zero-value fields take defaults.
//	ruleSet - Rule set used to categorize insights that arrive without a
//	          category. Nil uses the shipped retro rule set.
//	logger - Structured logger. Nil uses slog.Default().
//	opts - Optional wiring, e.g. WithCache.
func New(cfg Config, ruleSet *categorizer.RuleSet, logger *slog.Logger, opts ...Option) *Merger {
	if cfg.DuplicateThreshold <= 0 {
		cfg.DuplicateThreshold = DefaultConfig().DuplicateThreshold
	}
	if cfg.AgreementBonus <= 0 {
		cfg.AgreementBonus = DefaultConfig().AgreementBonus
	}
	if ruleSet == nil {
		ruleSet = categorizer.RetroRuleSet
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Merger{
		cfg:     cfg,
		ruleSet: ruleSet,
		logger:  logger.With(slog.String("component", "merger")),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Merge combines the rule and generative sets bucket by bucket.
//
// Description:
//
//	For each bucket, pairwise similarity is computed between every rule
//	insight and every generative insight. Candidate pairs above the
//	duplicate threshold are matched greedily by descending similarity;
//	each insight joins at most one pair. Matched pairs become hybrid
//	insights; unmatched insights keep their original source. Insights
//	without a category are categorized on the way out.
//
//	Invariant: len(merged bucket) <= len(rule bucket) + len(gen bucket),
//	with equality exactly when no pair cleared the threshold. Pair
//	identification is order-independent: swapping the arguments selects
//	the same pairs.
//
// Inputs:
//
//	rule - Output of the rule-based analyzer.
//	gen - Output of the generative analyzer (may be empty on degradation).
//
// Outputs:
//
//	datatypes.InsightSet - The merged, categorized set.
func (m *Merger) Merge(rule, gen datatypes.InsightSet) datatypes.InsightSet {
	var out datatypes.InsightSet
	for _, b := range datatypes.Buckets {
		merged := m.mergeBucket(rule.Bucket(b), gen.Bucket(b))
		for i := range merged {
			merged[i] = m.ensureCategory(merged[i])
		}
		out.SetBucket(b, merged)
	}
	return out
}

type candidate struct {
	ri, gi int
	sim    float64
}

func (m *Merger) mergeBucket(rule, gen []datatypes.Insight) []datatypes.Insight {
	ruleTokens := make([]map[string]struct{}, len(rule))
	for i, in := range rule {
		ruleTokens[i] = cache.Tokenize(in.Title + " " + in.Details)
	}
	genTokens := make([]map[string]struct{}, len(gen))
	for i, in := range gen {
		genTokens[i] = cache.Tokenize(in.Title + " " + in.Details)
	}

	var candidates []candidate
	for ri := range rule {
		for gi := range gen {
			sim := cache.Jaccard(ruleTokens[ri], genTokens[gi])
			if sim >= m.cfg.DuplicateThreshold {
				candidates = append(candidates, candidate{ri: ri, gi: gi, sim: sim})
			}
		}
	}

	// Greedy matching by descending similarity. Ties break on the
	// combined index so argument order cannot change pair selection.
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.sim != b.sim {
			return a.sim > b.sim
		}
		if a.ri+a.gi != b.ri+b.gi {
			return a.ri+a.gi < b.ri+b.gi
		}
		return a.ri < b.ri
	})

	ruleUsed := make([]bool, len(rule))
	genUsed := make([]bool, len(gen))
	var out []datatypes.Insight
	for _, c := range candidates {
		if ruleUsed[c.ri] || genUsed[c.gi] {
			continue
		}
		ruleUsed[c.ri] = true
		genUsed[c.gi] = true
		out = append(out, m.makeHybrid(rule[c.ri], gen[c.gi], c.sim))
	}

	for ri, in := range rule {
		if !ruleUsed[ri] {
			in.Source = datatypes.SourceRule
			out = append(out, in)
		}
	}
	for gi, in := range gen {
		if !genUsed[gi] {
			in.Source = datatypes.SourceGenerative
			out = append(out, in)
		}
	}
	return out
}

// makeHybrid collapses a duplicate pair into one hybrid insight. The
// higher-confidence member contributes the visible text; the hybrid
// confidence rewards cross-path agreement.
func (m *Merger) makeHybrid(r, g datatypes.Insight, sim float64) datatypes.Insight {
	lead, other := g, r
	if r.Confidence > g.Confidence {
		lead, other = r, g
	}

	conf := lead.Confidence + m.cfg.AgreementBonus*other.Confidence
	hybrid := datatypes.Insight{
		ID:         uuid.NewString(),
		Title:      lead.Title,
		Details:    lead.Details,
		Source:     datatypes.SourceHybrid,
		Confidence: datatypes.ClampConfidence(conf),
		Category:   firstNonEmpty(lead.Category, other.Category),
		Priority:   maxInt(r.Priority, g.Priority),
		Reasoning: fmt.Sprintf("rule and generative analysis agree (similarity %.2f)",
			sim),
		Provider:       g.Provider,
		SourceInsights: []datatypes.Insight{r, g},
		Metadata: map[string]any{
			"mergedFrom": 2,
			"similarity": sim,
		},
	}
	if hybrid.Details == "" {
		hybrid.Details = other.Details
	}
	return hybrid
}

// ensureCategory assigns a category via the categorizer when missing.
// Categorization never fails; malformed insights get the fallback.
func (m *Merger) ensureCategory(in datatypes.Insight) datatypes.Insight {
	if in.Category != "" {
		return in
	}
	cls := m.classify(in.Title, in.Details)
	in.Category = cls.Category
	if in.Reasoning == "" {
		in.Reasoning = cls.Reasoning
	}
	return in
}

// classify scores title+details against the rule set, memoized through
// the category partition when a cache is wired.
func (m *Merger) classify(title, details string) categorizer.Classification {
	if m.cache == nil {
		return categorizer.Categorize(categorizer.Item{Title: title, Details: details}, m.ruleSet)
	}

	key := categoryCacheKey(m.ruleSet.Fingerprint(), title, details)
	if cached, ok := m.cache.Get(key, cache.PartitionCategory); ok {
		if cls, ok := cached.(categorizer.Classification); ok {
			return cls
		}
	}
	cls := categorizer.Categorize(categorizer.Item{Title: title, Details: details}, m.ruleSet)
	m.cache.Set(key, cache.PartitionCategory, cls, cache.EntryMeta{})
	return cls
}

// categoryCacheKey covers the rule set fingerprint so a hot-reloaded
// rule change never aliases into scores from the old table.
func categoryCacheKey(fingerprint, title, details string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s", fingerprint, title, details)
	return hex.EncodeToString(h.Sum(nil))
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
