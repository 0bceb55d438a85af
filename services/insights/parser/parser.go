// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package parser recovers an InsightSet from raw model output.
//
// Model responses are probabilistic: sometimes clean JSON, sometimes JSON
// wrapped in prose or code fences, sometimes markdown, sometimes plain
// sentences. Parse is total — it never returns an error. It runs a
// chain-of-responsibility of parse strategies in decreasing confidence
// order (structured > extracted > sectioned > sentence heuristic); the
// first strategy to produce insights wins, and the outcome records which
// stage fired so downstream consumers can audit parse quality.
package parser

import (
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/pariosur/retronet-sub001/services/insights/datatypes"
)

// Default confidences per parse stage. Structured output carries its own
// confidences where present; the fallback stages assign these.
const (
	StructuredDefaultConfidence = 0.8
	SectionedConfidence         = 0.7
	SentenceConfidence          = 0.5
)

// Stage names, recorded in ParseOutcome and insight metadata.
const (
	StageStructured = "structured"
	StageExtracted  = "extracted"
	StageSectioned  = "sectioned"
	StageSentence   = "sentence"
	StageEmpty      = "empty"
)

// Outcome is the result of parsing one raw response.
type Outcome struct {
	// Set holds the recovered insights. Never nil buckets semantics:
	// an unparseable response yields an empty set, not an error.
	Set datatypes.InsightSet

	// Provider is the registry name of the provider that produced the
	// raw text, carried through for audit.
	Provider string

	// Stage names the strategy that produced the set.
	Stage string

	// Fallback is true when any stage past structured was used.
	Fallback bool

	// ParseError holds the structured-parse failure when a fallback
	// stage was used. Informational only.
	ParseError string
}

// strategy is one total parse attempt. ok is false when the strategy
// could not recover any insights; err is diagnostic, never fatal.
type strategy func(raw string) (datatypes.InsightSet, bool, error)

// Parse recovers insights from raw provider output.
//
// Description:
//
//	Runs the fallback chain: whole-document structured parse, balanced
//	JSON substring extraction, header-delimited section split, then
//	per-sentence keyword sentiment. The first stage to produce at least
//	one insight wins. Parse never returns an error; a response with no
//	recoverable content yields an empty set with Stage "empty".
//
// Inputs:
//
//	raw - The raw response text. May be empty.
//	provider - Registry name of the producing provider, for audit.
//
// Outputs:
//
//	Outcome - The recovered set plus parse-quality metadata.
//
// Thread Safety: Safe for concurrent use; Parse has no shared state.
func Parse(raw, provider string) Outcome {
	out := Outcome{Provider: provider, Stage: StageEmpty}
	if strings.TrimSpace(raw) == "" {
		return out
	}

	stages := []struct {
		name string
		fn   strategy
	}{
		{StageStructured, parseStructured},
		{StageExtracted, parseExtracted},
		{StageSectioned, parseSectioned},
		{StageSentence, parseSentences},
	}

	for _, st := range stages {
		set, ok, err := st.fn(raw)
		if err != nil && out.ParseError == "" {
			out.ParseError = err.Error()
		}
		if !ok {
			continue
		}
		out.Set = finalize(set, provider, st.name, out.ParseError)
		out.Stage = st.name
		out.Fallback = st.name != StageStructured
		return out
	}

	slog.Debug("response parser recovered nothing",
		slog.String("provider", provider),
		slog.Int("raw_len", len(raw)))
	return out
}

// finalize normalizes every recovered insight: IDs, source, clamped
// confidence, provider metadata, and drops insights with no text at all.
func finalize(set datatypes.InsightSet, provider, stage, parseErr string) datatypes.InsightSet {
	var out datatypes.InsightSet
	for _, b := range datatypes.Buckets {
		for _, in := range set.Bucket(b) {
			in.Title = strings.TrimSpace(in.Title)
			in.Details = strings.TrimSpace(in.Details)
			if in.IsEmpty() {
				continue
			}
			if in.Title == "" {
				// Promote the first clause of the details so the
				// title/details invariant holds.
				in.Title = firstClause(in.Details)
			}
			if in.ID == "" {
				in.ID = uuid.NewString()
			}
			in.Source = datatypes.SourceGenerative
			in.Confidence = datatypes.ClampConfidence(in.Confidence)
			in.Provider = &datatypes.ProviderInfo{
				Name:       provider,
				Fallback:   stage != StageStructured,
				ParseStage: stage,
				ParseError: parseErr,
			}
			out.Append(b, in)
		}
	}
	return out
}

// firstClause returns the leading fragment of s, capped at 80 runes.
func firstClause(s string) string {
	if i := strings.IndexAny(s, ".!?\n"); i > 0 {
		s = s[:i]
	}
	runes := []rune(s)
	if len(runes) > 80 {
		return string(runes[:80])
	}
	return s
}
