// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the shared data model for the insight pipeline.
//
// Every package in services/insights consumes these types; none of them
// mutates an ActivityRecord after collection, and Insight confidences are
// clamped to [0,1] at every construction site via ClampConfidence.
package datatypes

import (
	"strings"
	"time"
)

// =============================================================================
// Insight Sources
// =============================================================================

// InsightSource identifies which analysis path produced an insight.
type InsightSource string

const (
	// SourceRule marks insights produced by the deterministic rule analyzer.
	SourceRule InsightSource = "rule"

	// SourceGenerative marks insights produced by a model provider.
	SourceGenerative InsightSource = "generative"

	// SourceHybrid marks insights produced by merging a rule insight with a
	// generative insight judged to be duplicates.
	SourceHybrid InsightSource = "hybrid"

	// SourceSystem marks insights synthesized by the pipeline itself
	// (for example degradation notices surfaced to the user).
	SourceSystem InsightSource = "system"
)

// =============================================================================
// Activity Records
// =============================================================================

// ActivityRecord is a raw item collected from one team-collaboration source
// (an issue, a message, a commit, a ticket). Records are immutable once
// collected; analyzers consume them read-only.
type ActivityRecord struct {
	// ID is the source-local identifier of the record.
	ID string `json:"id"`

	// Title is the short headline of the record.
	Title string `json:"title"`

	// Body is the free-form description or message text.
	Body string `json:"body"`

	// Labels are source-assigned tags (e.g. "bug", "blocked").
	Labels []string `json:"labels,omitempty"`

	// Author is the display name of the record's creator.
	Author string `json:"author,omitempty"`

	// State is the source-reported lifecycle state (e.g. "completed",
	// "blocked", "open"). Empty when the source has no state concept.
	State string `json:"state,omitempty"`

	// Source is the tag of the producing collector.
	Source string `json:"source"`

	// URL links back to the record in its source system.
	URL string `json:"url,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Text returns title and body joined for keyword scanning.
func (r ActivityRecord) Text() string {
	if r.Body == "" {
		return r.Title
	}
	return r.Title + " " + r.Body
}

// =============================================================================
// Insights
// =============================================================================

// ProviderInfo describes the model provider that produced a generative
// insight, for audit trails in results and cache entries.
type ProviderInfo struct {
	// Name is the registry name of the provider (e.g. "anthropic").
	Name string `json:"name"`

	// Model is the concrete model identifier used for the call.
	Model string `json:"model,omitempty"`

	// Fallback is true when the response parser had to fall back past the
	// structured stage to recover insights from the raw response.
	Fallback bool `json:"fallback,omitempty"`

	// ParseStage names the parser stage that produced the insights
	// ("structured", "extracted", "sectioned", "sentence").
	ParseStage string `json:"parse_stage,omitempty"`

	// ParseError carries the structured-parse failure when a fallback
	// stage was used. Informational only.
	ParseError string `json:"parse_error,omitempty"`
}

// Insight is one qualitative finding about the period under analysis.
//
// Invariants:
//   - Confidence is always within [0,1].
//   - A hybrid insight's SourceInsights has length >= 2 and holds the
//     originating insights it replaced.
//   - Title and Details are never both empty after normalization.
type Insight struct {
	// ID uniquely identifies the insight within one analysis run.
	ID string `json:"id"`

	Title   string `json:"title"`
	Details string `json:"details,omitempty"`

	// Source records which analysis path produced the insight.
	Source InsightSource `json:"source"`

	// Confidence is the producer's confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// Category is a taxonomy label assigned by the categorizer
	// (empty until categorized).
	Category string `json:"category,omitempty"`

	// Priority orders insights for presentation; higher is more urgent.
	Priority int `json:"priority,omitempty"`

	// Reasoning explains how the insight (or its category) was derived.
	Reasoning string `json:"reasoning,omitempty"`

	// Provider is set on generative and hybrid insights.
	Provider *ProviderInfo `json:"provider,omitempty"`

	// SourceInsights holds the originals replaced by a hybrid insight.
	SourceInsights []Insight `json:"source_insights,omitempty"`

	// Metadata carries free-form bookkeeping (mergedFrom, sectionHeader...).
	Metadata map[string]any `json:"metadata,omitempty"`
}

// IsEmpty reports whether the insight has no usable text.
func (i Insight) IsEmpty() bool {
	return strings.TrimSpace(i.Title) == "" && strings.TrimSpace(i.Details) == ""
}

// ClampConfidence bounds v to [0,1]. NaN is treated as zero.
func ClampConfidence(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// =============================================================================
// Insight Sets
// =============================================================================

// Bucket names the three fixed InsightSet buckets.
type Bucket string

const (
	BucketWentWell    Bucket = "wentWell"
	BucketDidntGoWell Bucket = "didntGoWell"
	BucketActionItems Bucket = "actionItems"
)

// Buckets lists the bucket names in presentation order.
var Buckets = []Bucket{BucketWentWell, BucketDidntGoWell, BucketActionItems}

// InsightSet is the three-bucket container every analyzer produces and the
// merger consumes. Bucket membership is exhaustive and mutually exclusive;
// ordering within a bucket is insertion order unless explicitly sorted.
type InsightSet struct {
	WentWell    []Insight `json:"wentWell"`
	DidntGoWell []Insight `json:"didntGoWell"`
	ActionItems []Insight `json:"actionItems"`
}

// Bucket returns the named bucket's insights. Unknown names return nil.
func (s *InsightSet) Bucket(b Bucket) []Insight {
	switch b {
	case BucketWentWell:
		return s.WentWell
	case BucketDidntGoWell:
		return s.DidntGoWell
	case BucketActionItems:
		return s.ActionItems
	}
	return nil
}

// Append adds an insight to the named bucket. Unknown names are dropped.
func (s *InsightSet) Append(b Bucket, in Insight) {
	switch b {
	case BucketWentWell:
		s.WentWell = append(s.WentWell, in)
	case BucketDidntGoWell:
		s.DidntGoWell = append(s.DidntGoWell, in)
	case BucketActionItems:
		s.ActionItems = append(s.ActionItems, in)
	}
}

// SetBucket replaces the named bucket's contents.
func (s *InsightSet) SetBucket(b Bucket, ins []Insight) {
	switch b {
	case BucketWentWell:
		s.WentWell = ins
	case BucketDidntGoWell:
		s.DidntGoWell = ins
	case BucketActionItems:
		s.ActionItems = ins
	}
}

// Len returns the total insight count across all buckets.
func (s *InsightSet) Len() int {
	return len(s.WentWell) + len(s.DidntGoWell) + len(s.ActionItems)
}

// All returns every insight across the buckets in bucket order.
func (s *InsightSet) All() []Insight {
	out := make([]Insight, 0, s.Len())
	out = append(out, s.WentWell...)
	out = append(out, s.DidntGoWell...)
	out = append(out, s.ActionItems...)
	return out
}

// Clone returns a deep copy of the set. Cached results are cloned on both
// store and load so callers can never mutate shared state.
func (s *InsightSet) Clone() InsightSet {
	return InsightSet{
		WentWell:    cloneInsights(s.WentWell),
		DidntGoWell: cloneInsights(s.DidntGoWell),
		ActionItems: cloneInsights(s.ActionItems),
	}
}

func cloneInsights(in []Insight) []Insight {
	if in == nil {
		return nil
	}
	out := make([]Insight, len(in))
	for i, ins := range in {
		out[i] = cloneInsight(ins)
	}
	return out
}

func cloneInsight(in Insight) Insight {
	out := in
	if in.Provider != nil {
		p := *in.Provider
		out.Provider = &p
	}
	if in.SourceInsights != nil {
		out.SourceInsights = cloneInsights(in.SourceInsights)
	}
	if in.Metadata != nil {
		out.Metadata = make(map[string]any, len(in.Metadata))
		for k, v := range in.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// =============================================================================
// Analysis Context and Results
// =============================================================================

// DateRange bounds the period under analysis. End is inclusive.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Days returns the span in whole days, never less than one.
func (d DateRange) Days() int {
	days := int(d.End.Sub(d.Start).Hours() / 24)
	if days < 1 {
		return 1
	}
	return days
}

// Valid reports whether the range is non-zero and ordered.
func (d DateRange) Valid() bool {
	return !d.Start.IsZero() && !d.End.IsZero() && !d.End.Before(d.Start)
}

// AnalysisOptions tunes one pipeline invocation.
type AnalysisOptions struct {
	// Provider selects the model provider by registry name.
	// Empty disables the generative path.
	Provider string `json:"provider,omitempty"`

	// SkipCache bypasses the analysis cache for this run.
	SkipCache bool `json:"skip_cache,omitempty"`

	// MinConfidence filters the final result; zero keeps everything.
	MinConfidence float64 `json:"min_confidence,omitempty"`
}

// AnalysisContext carries the per-invocation inputs shared by both analyzers.
type AnalysisContext struct {
	DateRange   DateRange       `json:"date_range"`
	TeamMembers []string        `json:"team_members,omitempty"`
	SessionID   string          `json:"session_id,omitempty"`
	Options     AnalysisOptions `json:"options,omitempty"`
}

// TeamSize returns the number of team members, never less than one.
func (c AnalysisContext) TeamSize() int {
	if len(c.TeamMembers) == 0 {
		return 1
	}
	return len(c.TeamMembers)
}

// Degradation records scope lost while the pipeline continued.
type Degradation struct {
	// Scope names what was lost ("github", "generative-analysis"...).
	Scope string `json:"scope"`

	// Impact is a human-readable description of the reduced result.
	Impact string `json:"impact"`

	// At is when the degradation was recorded.
	At time.Time `json:"at"`
}

// AnalysisMetadata describes how a result was produced.
type AnalysisMetadata struct {
	GeneratedAt            time.Time                `json:"generated_at"`
	DateRange              DateRange                `json:"date_range"`
	TeamMembers            []string                 `json:"team_members,omitempty"`
	RuleAnalysisUsed       bool                     `json:"rule_analysis_used"`
	GenerativeAnalysisUsed bool                     `json:"generative_analysis_used"`
	Provider               *ProviderInfo            `json:"provider,omitempty"`
	Degradations           []Degradation            `json:"degradations,omitempty"`
	StageDurations         map[string]time.Duration `json:"stage_durations,omitempty"`
}

// AnalysisResult is the pipeline's final product.
type AnalysisResult struct {
	Insights InsightSet       `json:"insights"`
	Metadata AnalysisMetadata `json:"metadata"`
}
