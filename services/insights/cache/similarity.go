// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"container/list"
	"strings"
	"time"
	"unicode"
)

// FindSimilar scans the partition's live entries for a near-duplicate of
// the given text.
//
// Description:
//
//	Intended for use after an exact Get miss. Computes Jaccard similarity
//	between the token set of text and each entry's SourceText; returns the
//	best entry's result only when its similarity exceeds the configured
//	threshold. Expired entries are skipped (and left for the sweeper). A
//	similar-hit updates the entry's bookkeeping and counts as a hit for
//	statistics, including cost saved.
//
// Inputs:
//
//	text - Normalized title+details of the item being looked up.
//	part - The partition to scan.
//
// Outputs:
//
//	any - The best matching cached result, or nil.
//	float64 - The winning similarity (zero when no match).
//	bool - True when a result cleared the threshold.
//
// Thread Safety: Safe for concurrent use. The partition lock is held for
// the scan; entries carry pre-tokenized source text so the scan stays cheap.
func (c *AnalysisCache) FindSimilar(text string, part Partition) (any, float64, bool) {
	p, ok := c.partitions[part]
	if !ok {
		return nil, 0, false
	}
	want := Tokenize(text)
	if len(want) == 0 {
		return nil, 0, false
	}

	now := time.Now()

	p.mu.Lock()
	var bestElem *list.Element
	best := 0.0
	for _, elem := range p.entries {
		entry := elem.Value.(*Entry)
		if len(entry.sourceTokens) == 0 || now.Sub(entry.CreatedAt) > c.cfg.TTL {
			continue
		}
		sim := Jaccard(want, entry.sourceTokens)
		if sim > best {
			best = sim
			bestElem = elem
		}
	}

	if bestElem == nil || best <= c.cfg.SimilarityThreshold {
		p.mu.Unlock()
		c.misses.Add(1)
		return nil, 0, false
	}

	entry := bestElem.Value.(*Entry)
	entry.LastAccessedAt = now
	entry.AccessCount++
	p.lru.MoveToFront(bestElem)
	result := copyResult(entry.Result)
	cost := entry.EstimatedCost
	p.mu.Unlock()

	c.hits.Add(1)
	c.similarHits.Add(1)
	c.addCostSaved(cost)
	return result, best, true
}

// Tokenize lower-cases text and returns the set of tokens longer than two
// characters. Punctuation separates tokens.
func Tokenize(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(tok) > 2 {
			out[tok] = struct{}{}
		}
	}
	return out
}

// Jaccard returns |a ∩ b| / |a ∪ b|. Two empty sets are not similar.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	inter := 0
	for tok := range small {
		if _, ok := large[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
