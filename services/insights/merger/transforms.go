// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package merger

import (
	"sort"
	"strings"

	"github.com/pariosur/retronet-sub001/services/insights/datatypes"
)

// =============================================================================
// Filter
// =============================================================================

// FilterOptions selects which insights to keep. Zero-value fields are
// treated as "no constraint".
type FilterOptions struct {
	// Categories keeps only insights whose category is listed.
	Categories []string

	// Sources keeps only insights from the listed sources.
	Sources []datatypes.InsightSource

	// MinConfidence drops insights below the threshold.
	MinConfidence float64

	// SearchText keeps insights whose title or details contain the text
	// (case-insensitive).
	SearchText string
}

// Filter returns a new set holding only insights matching the options.
// Pure and order-stable: surviving insights keep their relative order.
func Filter(set datatypes.InsightSet, opts FilterOptions) datatypes.InsightSet {
	var out datatypes.InsightSet
	search := strings.ToLower(strings.TrimSpace(opts.SearchText))
	for _, b := range datatypes.Buckets {
		for _, in := range set.Bucket(b) {
			if !matchesFilter(in, opts, search) {
				continue
			}
			out.Append(b, in)
		}
	}
	return out
}

func matchesFilter(in datatypes.Insight, opts FilterOptions, search string) bool {
	if len(opts.Categories) > 0 && !containsString(opts.Categories, in.Category) {
		return false
	}
	if len(opts.Sources) > 0 {
		found := false
		for _, s := range opts.Sources {
			if in.Source == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if in.Confidence < opts.MinConfidence {
		return false
	}
	if search != "" {
		haystack := strings.ToLower(in.Title + " " + in.Details)
		if !strings.Contains(haystack, search) {
			return false
		}
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// =============================================================================
// Sort
// =============================================================================

// SortBy names the supported sort keys.
type SortBy string

const (
	SortByConfidence SortBy = "confidence"
	SortByPriority   SortBy = "priority"
	SortByCategory   SortBy = "category"
	SortByTitle      SortBy = "title"
)

// SortOrder is ascending or descending.
type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// SortOptions selects the sort key and direction.
type SortOptions struct {
	By    SortBy
	Order SortOrder
}

// Sort returns a new set with each bucket sorted. Pure and stable:
// insights comparing equal keep insertion order. Unknown keys leave the
// set unsorted.
func Sort(set datatypes.InsightSet, opts SortOptions) datatypes.InsightSet {
	less := lessFunc(opts.By)
	if less == nil {
		return set.Clone()
	}
	out := set.Clone()
	desc := opts.Order == OrderDesc
	for _, b := range datatypes.Buckets {
		bucket := out.Bucket(b)
		sort.SliceStable(bucket, func(i, j int) bool {
			if desc {
				return less(bucket[j], bucket[i])
			}
			return less(bucket[i], bucket[j])
		})
	}
	return out
}

func lessFunc(by SortBy) func(a, b datatypes.Insight) bool {
	switch by {
	case SortByConfidence:
		return func(a, b datatypes.Insight) bool { return a.Confidence < b.Confidence }
	case SortByPriority:
		return func(a, b datatypes.Insight) bool { return a.Priority < b.Priority }
	case SortByCategory:
		return func(a, b datatypes.Insight) bool { return a.Category < b.Category }
	case SortByTitle:
		return func(a, b datatypes.Insight) bool {
			return strings.ToLower(a.Title) < strings.ToLower(b.Title)
		}
	}
	return nil
}

// =============================================================================
// Statistics
// =============================================================================

// Statistics summarizes a merged set for reporting.
type SetStatistics struct {
	Total         int                               `json:"total"`
	ByBucket      map[datatypes.Bucket]int          `json:"by_bucket"`
	ByCategory    map[string]int                    `json:"by_category"`
	BySource      map[datatypes.InsightSource]int   `json:"by_source"`
	HybridCount   int                               `json:"hybrid_count"`
	AvgConfidence float64                           `json:"avg_confidence"`
	AvgPriority   float64                           `json:"avg_priority"`
}

// Statistics computes counts and averages across all buckets. Pure.
func Statistics(set datatypes.InsightSet) SetStatistics {
	stats := SetStatistics{
		ByBucket:   make(map[datatypes.Bucket]int, len(datatypes.Buckets)),
		ByCategory: make(map[string]int),
		BySource:   make(map[datatypes.InsightSource]int),
	}
	sumConf := 0.0
	sumPrio := 0
	for _, b := range datatypes.Buckets {
		bucket := set.Bucket(b)
		stats.ByBucket[b] = len(bucket)
		for _, in := range bucket {
			stats.Total++
			stats.ByCategory[in.Category]++
			stats.BySource[in.Source]++
			if in.Source == datatypes.SourceHybrid {
				stats.HybridCount++
			}
			sumConf += in.Confidence
			sumPrio += in.Priority
		}
	}
	if stats.Total > 0 {
		stats.AvgConfidence = sumConf / float64(stats.Total)
		stats.AvgPriority = float64(sumPrio) / float64(stats.Total)
	}
	return stats
}
