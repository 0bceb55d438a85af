// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package categorizer assigns taxonomy categories to insights using
// confidence-scored keyword, label, and pattern rules.
//
// The scoring rules live in an explicit RuleSetConfig rather than hidden
// constants so rule sets are swappable (config hot-reload) and testable in
// isolation. Categorization is pure and deterministic: identical input and
// config always produce identical output.
package categorizer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// =============================================================================
// Rule Set Configuration
// =============================================================================

// Weights controls how match counts convert into a category score.
//
// Each match family (keywords, labels, patterns) contributes
// min(matches * PerMatch, familyCap); context keywords contribute a
// density-scaled share of ContextWeight; each exclusion match subtracts
// ExclusionPenalty. The final score is clamped to [0,1].
type Weights struct {
	PerMatch         float64 `yaml:"per_match" validate:"gt=0"`
	KeywordCap       float64 `yaml:"keyword_cap" validate:"gte=0,lte=1"`
	LabelCap         float64 `yaml:"label_cap" validate:"gte=0,lte=1"`
	PatternCap       float64 `yaml:"pattern_cap" validate:"gte=0,lte=1"`
	ContextWeight    float64 `yaml:"context_weight" validate:"gte=0,lte=1"`
	ExclusionPenalty float64 `yaml:"exclusion_penalty" validate:"gte=0,lte=1"`
}

// DefaultWeights returns the shipped scoring weights.
func DefaultWeights() Weights {
	return Weights{
		PerMatch:         0.3,
		KeywordCap:       0.4,
		LabelCap:         0.3,
		PatternCap:       0.3,
		ContextWeight:    0.1,
		ExclusionPenalty: 0.25,
	}
}

// CategoryRule defines the signals for one taxonomy category.
type CategoryRule struct {
	// Name is the taxonomy label this rule scores for.
	Name string `yaml:"name" validate:"required"`

	// Keywords are matched case-insensitively as whole words in title+details.
	Keywords []string `yaml:"keywords"`

	// Labels are matched exactly (case-insensitive) against item labels.
	Labels []string `yaml:"labels"`

	// Patterns are regular expressions applied to title+details.
	Patterns []string `yaml:"patterns"`

	// ContextKeywords are weaker signals scored by density, not count.
	ContextKeywords []string `yaml:"context_keywords"`

	// Exclusions subtract from the score when present; they mark phrases
	// that usually indicate a different category.
	Exclusions []string `yaml:"exclusions"`
}

// RuleSetConfig is the serializable form of a rule set.
type RuleSetConfig struct {
	// Name identifies the rule set ("retro", "change").
	Name string `yaml:"name" validate:"required"`

	// Categories are the scored taxonomy entries.
	Categories []CategoryRule `yaml:"categories" validate:"required,min=1,dive"`

	// Priority breaks score ties; earlier wins.
	Priority []string `yaml:"priority"`

	// DefaultCategory is the fallback for unscorable input.
	DefaultCategory string `yaml:"default_category" validate:"required"`

	// MediumConfidence is the floor for listing a category as an alternative.
	MediumConfidence float64 `yaml:"medium_confidence" validate:"gte=0,lte=1"`

	Weights Weights `yaml:"weights"`
}

// RuleSet is a compiled RuleSetConfig ready for scoring.
//
// Thread Safety: Immutable after Compile; safe for concurrent use.
type RuleSet struct {
	cfg         RuleSetConfig
	compiled    []compiledRule
	priority    map[string]int
	fingerprint string
}

type compiledRule struct {
	rule     CategoryRule
	patterns []*regexp.Regexp
}

// Compile validates and compiles a rule set configuration.
//
// Inputs:
//
//	cfg - The rule set configuration. Pattern entries must be valid
//	      regular expressions.
//
// Outputs:
//
//	*RuleSet - The compiled rule set.
//	error - Non-nil if a pattern fails to compile or the config is empty.
func Compile(cfg RuleSetConfig) (*RuleSet, error) {
	if len(cfg.Categories) == 0 {
		return nil, fmt.Errorf("rule set %q has no categories", cfg.Name)
	}
	if cfg.MediumConfidence == 0 {
		cfg.MediumConfidence = 0.4
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}

	sum := sha256.Sum256([]byte(fmt.Sprintf("%+v", cfg)))
	rs := &RuleSet{
		cfg:         cfg,
		priority:    make(map[string]int, len(cfg.Priority)),
		fingerprint: hex.EncodeToString(sum[:]),
	}
	for i, name := range cfg.Priority {
		rs.priority[name] = i
	}
	for _, rule := range cfg.Categories {
		cr := compiledRule{rule: rule}
		for _, p := range rule.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("rule set %q category %q pattern %q: %w",
					cfg.Name, rule.Name, p, err)
			}
			cr.patterns = append(cr.patterns, re)
		}
		rs.compiled = append(rs.compiled, cr)
	}
	return rs, nil
}

// MustCompile is Compile for the shipped rule sets, panicking on error.
func MustCompile(cfg RuleSetConfig) *RuleSet {
	rs, err := Compile(cfg)
	if err != nil {
		panic(err)
	}
	return rs
}

// Name returns the rule set name.
func (rs *RuleSet) Name() string { return rs.cfg.Name }

// Fingerprint returns a stable content hash of the compiled config. Two
// rule sets with the same name but different rules get different
// fingerprints, which cache keys rely on across hot reloads.
func (rs *RuleSet) Fingerprint() string { return rs.fingerprint }

// Config returns a copy of the underlying configuration.
func (rs *RuleSet) Config() RuleSetConfig { return rs.cfg }

// DefaultCategory returns the fallback category.
func (rs *RuleSet) DefaultCategory() string { return rs.cfg.DefaultCategory }

// =============================================================================
// Classification
// =============================================================================

// FallbackConfidence is assigned when input cannot be scored at all.
const FallbackConfidence = 0.3

// Item is the categorizable view of an insight or activity record.
type Item struct {
	Title   string
	Details string
	Labels  []string
}

// Alternative is a non-winning category that still scored above the
// medium-confidence threshold.
type Alternative struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// Classification is the full scoring outcome for one item.
type Classification struct {
	// Category is the winning taxonomy label.
	Category string `json:"category"`

	// Confidence is the winning score in [0,1].
	Confidence float64 `json:"confidence"`

	// Reasoning summarizes the evidence behind the winner.
	Reasoning string `json:"reasoning"`

	// AllScores maps every category to its clamped score.
	AllScores map[string]float64 `json:"all_scores"`

	// Alternatives lists non-winners above the medium threshold, descending.
	Alternatives []Alternative `json:"alternatives,omitempty"`
}

// Categorize scores an item against every category in the rule set and
// returns the arg-max winner.
//
// Description:
//
//	Per-category score is
//	min(keywordMatches*w, keywordCap) + min(labelMatches*w, labelCap) +
//	min(patternMatches*w, patternCap) + contextDensity*contextWeight -
//	exclusionMatches*exclusionPenalty, clamped to [0,1]. Score ties are
//	broken by the rule set's declared priority order. Invalid or empty
//	input never produces an error: it falls back to the default category
//	with FallbackConfidence.
//
// Inputs:
//
//	item - The item to classify. An item with no text and no labels
//	       triggers the fallback.
//	rs - The compiled rule set. Must not be nil.
//
// Outputs:
//
//	Classification - Winner, confidence, reasoning, all scores, alternatives.
//
// Thread Safety: Safe for concurrent use; rs is read-only.
func Categorize(item Item, rs *RuleSet) Classification {
	if strings.TrimSpace(item.Title) == "" &&
		strings.TrimSpace(item.Details) == "" && len(item.Labels) == 0 {
		return fallback(rs, "empty input")
	}

	text := strings.ToLower(item.Title + " " + item.Details)
	labels := make([]string, len(item.Labels))
	for i, l := range item.Labels {
		labels[i] = strings.ToLower(l)
	}

	scores := make(map[string]float64, len(rs.compiled))
	evidence := make(map[string]string, len(rs.compiled))
	for _, cr := range rs.compiled {
		score, why := scoreCategory(text, labels, cr, rs.cfg.Weights)
		scores[cr.rule.Name] = score
		evidence[cr.rule.Name] = why
	}

	winner := pickWinner(scores, rs.priority)
	if winner == "" || scores[winner] == 0 {
		return fallbackWithScores(rs, scores, "no rule matched")
	}

	cls := Classification{
		Category:   winner,
		Confidence: scores[winner],
		Reasoning:  evidence[winner],
		AllScores:  scores,
	}
	for name, s := range scores {
		if name != winner && s >= rs.cfg.MediumConfidence {
			cls.Alternatives = append(cls.Alternatives, Alternative{Category: name, Confidence: s})
		}
	}
	sort.Slice(cls.Alternatives, func(i, j int) bool {
		a, b := cls.Alternatives[i], cls.Alternatives[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.Category < b.Category
	})
	return cls
}

// CategorizeAll classifies a batch, substituting the fallback for any item
// that cannot be scored rather than aborting the batch.
func CategorizeAll(items []Item, rs *RuleSet) []Classification {
	out := make([]Classification, len(items))
	for i, item := range items {
		out[i] = Categorize(item, rs)
	}
	return out
}

func scoreCategory(text string, labels []string, cr compiledRule, w Weights) (float64, string) {
	var parts []string

	keywordMatches := 0
	for _, kw := range cr.rule.Keywords {
		if containsWord(text, strings.ToLower(kw)) {
			keywordMatches++
		}
	}
	if keywordMatches > 0 {
		parts = append(parts, fmt.Sprintf("%d keyword match(es)", keywordMatches))
	}

	labelMatches := 0
	for _, want := range cr.rule.Labels {
		lw := strings.ToLower(want)
		for _, have := range labels {
			if have == lw {
				labelMatches++
				break
			}
		}
	}
	if labelMatches > 0 {
		parts = append(parts, fmt.Sprintf("%d label match(es)", labelMatches))
	}

	patternMatches := 0
	for _, re := range cr.patterns {
		if re.MatchString(text) {
			patternMatches++
		}
	}
	if patternMatches > 0 {
		parts = append(parts, fmt.Sprintf("%d pattern match(es)", patternMatches))
	}

	contextScore := 0.0
	if len(cr.rule.ContextKeywords) > 0 {
		hits := 0
		for _, kw := range cr.rule.ContextKeywords {
			if containsWord(text, strings.ToLower(kw)) {
				hits++
			}
		}
		contextScore = float64(hits) / float64(len(cr.rule.ContextKeywords))
		if hits > 0 {
			parts = append(parts, fmt.Sprintf("%d context keyword(s)", hits))
		}
	}

	exclusionMatches := 0
	for _, ex := range cr.rule.Exclusions {
		if strings.Contains(text, strings.ToLower(ex)) {
			exclusionMatches++
		}
	}
	if exclusionMatches > 0 {
		parts = append(parts, fmt.Sprintf("%d exclusion(s)", exclusionMatches))
	}

	score := min64(float64(keywordMatches)*w.PerMatch, w.KeywordCap) +
		min64(float64(labelMatches)*w.PerMatch, w.LabelCap) +
		min64(float64(patternMatches)*w.PerMatch, w.PatternCap) +
		contextScore*w.ContextWeight -
		float64(exclusionMatches)*w.ExclusionPenalty

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	why := "no signals"
	if len(parts) > 0 {
		why = strings.Join(parts, ", ")
	}
	return score, why
}

// pickWinner returns the arg-max category, breaking ties by declared
// priority order, then lexicographically for categories without a
// declared priority.
func pickWinner(scores map[string]float64, priority map[string]int) string {
	winner := ""
	best := -1.0
	for name, s := range scores {
		switch {
		case s > best:
			winner, best = name, s
		case s == best && winner != "":
			if rank(name, priority) < rank(winner, priority) ||
				(rank(name, priority) == rank(winner, priority) && name < winner) {
				winner = name
			}
		}
	}
	return winner
}

func rank(name string, priority map[string]int) int {
	if r, ok := priority[name]; ok {
		return r
	}
	return len(priority) + 1
}

func fallback(rs *RuleSet, why string) Classification {
	scores := make(map[string]float64, len(rs.compiled))
	for _, cr := range rs.compiled {
		scores[cr.rule.Name] = 0
	}
	return fallbackWithScores(rs, scores, why)
}

func fallbackWithScores(rs *RuleSet, scores map[string]float64, why string) Classification {
	return Classification{
		Category:   rs.cfg.DefaultCategory,
		Confidence: FallbackConfidence,
		Reasoning:  "fallback: " + why,
		AllScores:  scores,
	}
}

// containsWord reports whether text contains word bounded by non-letters.
// Multi-word phrases fall back to substring matching.
func containsWord(text, word string) bool {
	if strings.ContainsRune(word, ' ') {
		return strings.Contains(text, word)
	}
	idx := 0
	for {
		i := strings.Index(text[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordByte(text[start-1])
		afterOK := end == len(text) || !isWordByte(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

func min64(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
