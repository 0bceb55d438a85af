// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package analyzer derives insights from activity records with fixed
// threshold rules.
//
// Analyze is pure, total, and deterministic: no I/O, no randomness, and
// absence of signal yields empty buckets rather than an error. The rule
// thresholds live in an explicit config struct so they are swappable and
// testable in isolation; the keyword tables are package-level vars
// compiled at init.
package analyzer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pariosur/retronet-sub001/services/insights/datatypes"
)

// Thresholds tunes the fixed rules. DefaultThresholds matches product
// defaults; tests may tighten or loosen individual rules.
type Thresholds struct {
	// CompletionRatioGood marks a source as going well when
	// completed/(completed+blocked) meets it.
	CompletionRatioGood float64

	// BlockedRatioBad marks a source as going badly when
	// blocked/(completed+blocked) meets it.
	BlockedRatioBad float64

	// MinStateSignal is the minimum completed+blocked count before the
	// ratio rules fire at all.
	MinStateSignal int

	// KeywordDensityBad fires the blocker-keyword rule when the share of
	// records mentioning a blocker keyword meets it.
	KeywordDensityBad float64

	// MinRecordsForDensity is the minimum record count before density
	// rules fire.
	MinRecordsForDensity int

	// HighVelocityPerMemberDay fires the throughput rule when records
	// per member per day meet it.
	HighVelocityPerMemberDay float64

	// LowVelocityPerMemberDay fires the low-throughput rule when records
	// per member per day fall below it.
	LowVelocityPerMemberDay float64
}

// DefaultThresholds returns the shipped rule thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CompletionRatioGood:      0.7,
		BlockedRatioBad:          0.3,
		MinStateSignal:           3,
		KeywordDensityBad:        0.25,
		MinRecordsForDensity:     4,
		HighVelocityPerMemberDay: 2.0,
		LowVelocityPerMemberDay:  0.2,
	}
}

// Keyword tables for the density rules.
var (
	blockerKeywords = []string{
		"blocked", "blocker", "stuck", "waiting on", "delayed",
		"can't proceed", "cannot proceed", "on hold",
	}
	praiseKeywords = []string{
		"shipped", "launched", "great", "thanks", "kudos",
		"well done", "nice work", "milestone",
	}
	actionKeywords = []string{
		"todo", "follow up", "follow-up", "next sprint",
		"should", "need to", "let's",
	}
)

// Completed/blocked state names recognized across sources.
var (
	completedStates = map[string]bool{
		"completed": true, "closed": true, "done": true, "merged": true, "resolved": true,
	}
	blockedStates = map[string]bool{
		"blocked": true, "on_hold": true, "stuck": true,
	}
)

// Analyze runs the fixed rules over every source's records.
//
// Description:
//
//	Applies, per source: completion-ratio rules over record states,
//	blocker/praise keyword-density rules over title+body, and
//	volume/velocity rules against the date range and team size. Action
//	keyword hits contribute action items. Sources are processed in
//	sorted-name order so output ordering is deterministic.
//
// Inputs:
//
//	records - Records grouped by source tag. Read-only; never mutated.
//	actx - Date range and team size for the velocity rules.
//
// Outputs:
//
//	datatypes.InsightSet - Zero or more insights per bucket. Never fails.
func Analyze(records map[string][]datatypes.ActivityRecord, actx datatypes.AnalysisContext) datatypes.InsightSet {
	return AnalyzeWithThresholds(records, actx, DefaultThresholds())
}

// AnalyzeWithThresholds is Analyze with explicit rule thresholds.
func AnalyzeWithThresholds(records map[string][]datatypes.ActivityRecord, actx datatypes.AnalysisContext, th Thresholds) datatypes.InsightSet {
	var set datatypes.InsightSet

	sources := make([]string, 0, len(records))
	for src := range records {
		sources = append(sources, src)
	}
	sort.Strings(sources)

	total := 0
	for _, src := range sources {
		recs := records[src]
		total += len(recs)
		applyStateRules(&set, src, recs, th)
		applyKeywordRules(&set, src, recs, th)
	}
	applyVelocityRules(&set, total, actx, th)

	return set
}

func applyStateRules(set *datatypes.InsightSet, src string, recs []datatypes.ActivityRecord, th Thresholds) {
	completed, blocked := 0, 0
	for _, r := range recs {
		state := strings.ToLower(r.State)
		switch {
		case completedStates[state]:
			completed++
		case blockedStates[state]:
			blocked++
		}
	}
	signal := completed + blocked
	if signal < th.MinStateSignal {
		return
	}

	ratio := float64(completed) / float64(signal)
	if ratio >= th.CompletionRatioGood {
		set.Append(datatypes.BucketWentWell, ruleInsight(
			fmt.Sprintf("Completed %d %s items", completed, src),
			fmt.Sprintf("%d of %d state-tracked %s items reached a completed state", completed, signal, src),
			0.6+0.3*ratio, src, "completion-ratio"))
	}
	if float64(blocked)/float64(signal) >= th.BlockedRatioBad {
		set.Append(datatypes.BucketDidntGoWell, ruleInsight(
			fmt.Sprintf("%d %s items were blocked", blocked, src),
			fmt.Sprintf("%d of %d state-tracked %s items ended up blocked", blocked, signal, src),
			0.6+0.3*float64(blocked)/float64(signal), src, "blocked-ratio"))
		set.Append(datatypes.BucketActionItems, ruleInsight(
			fmt.Sprintf("Review recurring blockers in %s", src),
			"A recurring blocked state suggests a systemic dependency worth unblocking",
			0.55, src, "blocked-ratio"))
	}
}

func applyKeywordRules(set *datatypes.InsightSet, src string, recs []datatypes.ActivityRecord, th Thresholds) {
	if len(recs) < th.MinRecordsForDensity {
		return
	}
	blockerHits, praiseHits, actionHits := 0, 0, 0
	for _, r := range recs {
		text := strings.ToLower(r.Text())
		if containsAny(text, blockerKeywords) {
			blockerHits++
		}
		if containsAny(text, praiseKeywords) {
			praiseHits++
		}
		if containsAny(text, actionKeywords) {
			actionHits++
		}
	}

	n := float64(len(recs))
	if float64(blockerHits)/n >= th.KeywordDensityBad {
		set.Append(datatypes.BucketDidntGoWell, ruleInsight(
			fmt.Sprintf("Frequent blocker mentions in %s", src),
			fmt.Sprintf("%d of %d %s records mention being blocked or stuck", blockerHits, len(recs), src),
			0.5+0.4*float64(blockerHits)/n, src, "keyword-density"))
	}
	if float64(praiseHits)/n >= th.KeywordDensityBad {
		set.Append(datatypes.BucketWentWell, ruleInsight(
			fmt.Sprintf("Positive signals in %s activity", src),
			fmt.Sprintf("%d of %d %s records carry shipped/praise language", praiseHits, len(recs), src),
			0.5+0.3*float64(praiseHits)/n, src, "keyword-density"))
	}
	if float64(actionHits)/n >= th.KeywordDensityBad {
		set.Append(datatypes.BucketActionItems, ruleInsight(
			fmt.Sprintf("Open follow-ups mentioned in %s", src),
			fmt.Sprintf("%d of %d %s records mention follow-up work", actionHits, len(recs), src),
			0.5, src, "keyword-density"))
	}
}

func applyVelocityRules(set *datatypes.InsightSet, total int, actx datatypes.AnalysisContext, th Thresholds) {
	if total == 0 || !actx.DateRange.Valid() {
		return
	}
	perMemberDay := float64(total) / float64(actx.TeamSize()) / float64(actx.DateRange.Days())
	switch {
	case perMemberDay >= th.HighVelocityPerMemberDay:
		set.Append(datatypes.BucketWentWell, ruleInsight(
			"High team throughput",
			fmt.Sprintf("%.1f activity items per member per day across all sources", perMemberDay),
			0.6, "all", "velocity"))
	case perMemberDay < th.LowVelocityPerMemberDay:
		set.Append(datatypes.BucketDidntGoWell, ruleInsight(
			"Low recorded activity",
			fmt.Sprintf("only %.2f activity items per member per day; data may be incomplete", perMemberDay),
			0.45, "all", "velocity"))
	}
}

func ruleInsight(title, details string, confidence float64, src, rule string) datatypes.Insight {
	return datatypes.Insight{
		ID:         fmt.Sprintf("rule-%s-%s", rule, src),
		Title:      title,
		Details:    details,
		Source:     datatypes.SourceRule,
		Confidence: datatypes.ClampConfidence(confidence),
		Reasoning:  "threshold rule: " + rule,
		Metadata:   map[string]any{"rule": rule, "origin": src},
	}
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
