// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package parser

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pariosur/retronet-sub001/services/insights/datatypes"
)

// =============================================================================
// Stage 1: whole-document structured parse
// =============================================================================

// rawInsight accepts the object shapes providers actually emit: "details"
// or "description" for the body, confidence optional.
type rawInsight struct {
	Title       string   `json:"title"`
	Details     string   `json:"details"`
	Description string   `json:"description"`
	Confidence  *float64 `json:"confidence"`
	Category    string   `json:"category"`
	Priority    int      `json:"priority"`
	Reasoning   string   `json:"reasoning"`
}

// rawBucket tolerates both plain strings and insight objects per item.
type rawBucket []json.RawMessage

type rawSet struct {
	WentWell    rawBucket `json:"wentWell"`
	DidntGoWell rawBucket `json:"didntGoWell"`
	ActionItems rawBucket `json:"actionItems"`

	// Nested shape: {"insights": {"wentWell": ...}}
	Insights *rawSet `json:"insights"`
}

func parseStructured(raw string) (datatypes.InsightSet, bool, error) {
	return parseJSONDocument(stripCodeFences(raw))
}

func parseJSONDocument(doc string) (datatypes.InsightSet, bool, error) {
	var rs rawSet
	if err := json.Unmarshal([]byte(doc), &rs); err != nil {
		return datatypes.InsightSet{}, false, fmt.Errorf("structured parse: %w", err)
	}
	if rs.Insights != nil {
		rs = *rs.Insights
	}
	set := datatypes.InsightSet{
		WentWell:    normalizeBucket(rs.WentWell),
		DidntGoWell: normalizeBucket(rs.DidntGoWell),
		ActionItems: normalizeBucket(rs.ActionItems),
	}
	if set.Len() == 0 {
		return datatypes.InsightSet{}, false, fmt.Errorf("structured parse: no recognizable insight buckets")
	}
	return set, true, nil
}

func normalizeBucket(items rawBucket) []datatypes.Insight {
	var out []datatypes.Insight
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			if strings.TrimSpace(s) == "" {
				continue
			}
			out = append(out, datatypes.Insight{
				Title:      s,
				Confidence: StructuredDefaultConfidence,
			})
			continue
		}

		var ri rawInsight
		if err := json.Unmarshal(item, &ri); err != nil {
			continue
		}
		details := ri.Details
		if details == "" {
			details = ri.Description
		}
		conf := StructuredDefaultConfidence
		if ri.Confidence != nil {
			conf = *ri.Confidence
		}
		out = append(out, datatypes.Insight{
			Title:      ri.Title,
			Details:    details,
			Confidence: conf,
			Category:   ri.Category,
			Priority:   ri.Priority,
			Reasoning:  ri.Reasoning,
		})
	}
	return out
}

// =============================================================================
// Stage 2: balanced substring extraction
// =============================================================================

func parseExtracted(raw string) (datatypes.InsightSet, bool, error) {
	doc := stripCodeFences(raw)
	sub, ok := extractBalanced(doc)
	if !ok {
		return datatypes.InsightSet{}, false, nil
	}
	return parseJSONDocument(sub)
}

// extractBalanced returns the first balanced {...} or [...] substring.
// The scan is string- and escape-aware so braces inside JSON strings do
// not break the depth count.
func extractBalanced(s string) (string, bool) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", false
	}
	open := s[start]
	var close byte = '}'
	if open == '[' {
		close = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// stripCodeFences removes markdown ``` fences, keeping their contents.
func stripCodeFences(s string) string {
	if !strings.Contains(s, "```") {
		return s
	}
	var b strings.Builder
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
