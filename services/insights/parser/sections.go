// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package parser

import (
	"regexp"
	"strings"

	"github.com/pariosur/retronet-sub001/services/insights/datatypes"
)

// =============================================================================
// Stage 3: header-delimited sections
// =============================================================================

// Fixed keyword sets for recognizing section headers and for the
// sentence-sentiment fallback.
var (
	positiveKeywords = []string{
		"went well", "wins", "good", "highlights", "successes",
		"achievements", "positives", "accomplished", "celebrate",
	}
	negativeKeywords = []string{
		"didn't go well", "didnt go well", "went wrong", "challenges",
		"problems", "issues", "concerns", "blockers", "struggles",
		"pain points", "negatives", "failed", "blocked", "delayed",
		"broken", "slow", "difficult", "missed", "stuck",
	}
	actionKeywords = []string{
		"action items", "next steps", "todo", "to do", "follow up",
		"follow-up", "improvements", "recommendations", "should",
		"need to", "must", "will", "plan to", "going to",
	}
)

var (
	bulletRe   = regexp.MustCompile(`^\s*[-*•]\s+(.+)$`)
	numberedRe = regexp.MustCompile(`^\s*\d+[.)]\s+(.+)$`)
)

type section struct {
	bucket datatypes.Bucket
	lines  []string
}

func parseSectioned(raw string) (datatypes.InsightSet, bool, error) {
	var sections []*section
	var current *section

	for _, line := range strings.Split(raw, "\n") {
		if bucket, isHeader := classifyHeader(line); isHeader {
			current = &section{bucket: bucket}
			sections = append(sections, current)
			continue
		}
		if current != nil {
			current.lines = append(current.lines, line)
		}
	}
	if len(sections) == 0 {
		return datatypes.InsightSet{}, false, nil
	}

	var set datatypes.InsightSet
	for _, sec := range sections {
		for _, item := range extractItems(sec.lines) {
			set.Append(sec.bucket, datatypes.Insight{
				Title:      item,
				Confidence: SectionedConfidence,
				Metadata:   map[string]any{"section": string(sec.bucket)},
			})
		}
	}
	if set.Len() == 0 {
		return datatypes.InsightSet{}, false, nil
	}
	return set, true, nil
}

// classifyHeader reports whether a line is a section header and which
// bucket it opens. Headers are markdown '#' lines, or short lines ending
// in ':' that match a keyword set. Unrecognized markdown headers open a
// didntGoWell section.
func classifyHeader(line string) (datatypes.Bucket, bool) {
	trimmed := strings.TrimSpace(line)
	isMarkdown := strings.HasPrefix(trimmed, "#")
	text := strings.ToLower(strings.Trim(strings.TrimLeft(trimmed, "# "), ":* "))

	if !isMarkdown {
		// Keyword headers must be short lines ending in a colon,
		// otherwise ordinary prose would open sections.
		if !strings.HasSuffix(trimmed, ":") || len(trimmed) > 60 || trimmed == "" {
			return "", false
		}
	}
	if text == "" {
		return "", false
	}

	switch {
	case matchesAny(text, positiveKeywords):
		return datatypes.BucketWentWell, true
	case matchesAny(text, actionKeywords):
		return datatypes.BucketActionItems, true
	case matchesAny(text, negativeKeywords):
		return datatypes.BucketDidntGoWell, true
	case isMarkdown:
		return datatypes.BucketDidntGoWell, true
	}
	return "", false
}

func matchesAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// extractItems pulls bullet, numbered, or paragraph items from a
// section body. Paragraph fallback only fires when no list items exist.
func extractItems(lines []string) []string {
	var items []string
	for _, line := range lines {
		if m := bulletRe.FindStringSubmatch(line); m != nil {
			items = append(items, strings.TrimSpace(m[1]))
		} else if m := numberedRe.FindStringSubmatch(line); m != nil {
			items = append(items, strings.TrimSpace(m[1]))
		}
	}
	if len(items) > 0 {
		return items
	}
	for _, para := range strings.Split(strings.Join(lines, "\n"), "\n\n") {
		para = strings.TrimSpace(strings.ReplaceAll(para, "\n", " "))
		if para != "" {
			items = append(items, para)
		}
	}
	return items
}

// =============================================================================
// Stage 4: per-sentence keyword sentiment
// =============================================================================

var sentenceSplitRe = regexp.MustCompile(`[.!?]+\s+|\n+`)

func parseSentences(raw string) (datatypes.InsightSet, bool, error) {
	var set datatypes.InsightSet
	for _, sentence := range sentenceSplitRe.Split(raw, -1) {
		sentence = strings.TrimSpace(strings.TrimRight(sentence, ".!?"))
		if len(sentence) < 10 {
			continue
		}
		set.Append(classifySentence(sentence), datatypes.Insight{
			Title:      sentence,
			Confidence: SentenceConfidence,
		})
	}
	if set.Len() == 0 {
		return datatypes.InsightSet{}, false, nil
	}
	return set, true, nil
}

// classifySentence buckets one sentence by keyword counts: any action
// keyword wins, then positive vs negative majority, else didntGoWell.
func classifySentence(sentence string) datatypes.Bucket {
	lower := strings.ToLower(sentence)
	if countMatches(lower, actionKeywords) > 0 {
		return datatypes.BucketActionItems
	}
	if countMatches(lower, positiveKeywords) > countMatches(lower, negativeKeywords) {
		return datatypes.BucketWentWell
	}
	return datatypes.BucketDidntGoWell
}

func countMatches(text string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			n++
		}
	}
	return n
}
