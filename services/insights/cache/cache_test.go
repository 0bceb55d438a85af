// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pariosur/retronet-sub001/services/insights/datatypes"
)

func newTestCache(t *testing.T, cfg Config) *AnalysisCache {
	t.Helper()
	c := New(cfg, nil)
	t.Cleanup(c.Close)
	return c
}

func sampleSet(title string) datatypes.InsightSet {
	return datatypes.InsightSet{
		WentWell: []datatypes.Insight{{
			ID:         "i1",
			Title:      title,
			Source:     datatypes.SourceGenerative,
			Confidence: 0.8,
			Metadata:   map[string]any{"k": "v"},
		}},
	}
}

func TestAnalysisCache_SetGetRoundTrip(t *testing.T) {
	c := newTestCache(t, Config{TTL: time.Minute})

	set := sampleSet("Completed 5 issues")
	c.Set("k1", PartitionAnalysis, set, EntryMeta{EstimatedCost: 0.02})

	got, ok := c.Get("k1", PartitionAnalysis)
	if !ok {
		t.Fatal("expected hit")
	}
	result, ok := got.(datatypes.InsightSet)
	if !ok {
		t.Fatalf("unexpected result type %T", got)
	}
	if len(result.WentWell) != 1 || result.WentWell[0].Title != "Completed 5 issues" {
		t.Errorf("round trip mutated the value: %+v", result)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 0 {
		t.Errorf("expected 1 hit / 0 misses, got %d / %d", stats.Hits, stats.Misses)
	}
	if stats.CostSaved != 0.02 {
		t.Errorf("expected cost saved 0.02, got %f", stats.CostSaved)
	}
}

func TestAnalysisCache_DeepCopyOnGet(t *testing.T) {
	c := newTestCache(t, Config{TTL: time.Minute})
	c.Set("k1", PartitionAnalysis, sampleSet("original"), EntryMeta{})

	got, _ := c.Get("k1", PartitionAnalysis)
	mutated := got.(datatypes.InsightSet)
	mutated.WentWell[0].Title = "mutated"
	mutated.WentWell[0].Metadata["k"] = "changed"

	again, _ := c.Get("k1", PartitionAnalysis)
	fresh := again.(datatypes.InsightSet)
	if fresh.WentWell[0].Title != "original" {
		t.Error("caller mutation leaked into cached insight")
	}
	if fresh.WentWell[0].Metadata["k"] != "v" {
		t.Error("caller mutation leaked into cached metadata")
	}
}

func TestAnalysisCache_TTLExpiry(t *testing.T) {
	c := newTestCache(t, Config{TTL: 40 * time.Millisecond})
	c.Set("k1", PartitionAnalysis, sampleSet("x"), EntryMeta{})

	if _, ok := c.Get("k1", PartitionAnalysis); !ok {
		t.Fatal("expected hit before expiry")
	}

	time.Sleep(50 * time.Millisecond)

	if _, ok := c.Get("k1", PartitionAnalysis); ok {
		t.Fatal("expected miss after expiry")
	}
	stats := c.Stats()
	if stats.Expirations != 1 {
		t.Errorf("expected 1 expiration, got %d", stats.Expirations)
	}
	if stats.Sizes[PartitionAnalysis] != 0 {
		t.Error("expired entry should be evicted lazily on read")
	}
}

func TestAnalysisCache_LRUEvictsOldestFifth(t *testing.T) {
	c := newTestCache(t, Config{TTL: time.Minute, MaxEntries: 10})

	for i := 0; i < 10; i++ {
		c.Set(fmt.Sprintf("k%d", i), PartitionAnalysis, sampleSet("x"), EntryMeta{})
		time.Sleep(time.Millisecond)
	}
	// Touch the two oldest so eviction order follows access, not insertion.
	c.Get("k0", PartitionAnalysis)
	c.Get("k1", PartitionAnalysis)

	c.Set("k10", PartitionAnalysis, sampleSet("x"), EntryMeta{})

	stats := c.Stats()
	if stats.Evictions != 2 {
		t.Fatalf("expected 2 evictions (20%% of 10), got %d", stats.Evictions)
	}
	if stats.Sizes[PartitionAnalysis] != 9 {
		t.Errorf("expected size 9 after eviction+insert, got %d", stats.Sizes[PartitionAnalysis])
	}
	// k0 and k1 were recently accessed; k2 and k3 were the LRU victims.
	if _, ok := c.Get("k0", PartitionAnalysis); !ok {
		t.Error("recently accessed k0 should survive eviction")
	}
	if _, ok := c.Get("k2", PartitionAnalysis); ok {
		t.Error("least recently used k2 should be evicted")
	}
}

func TestAnalysisCache_PartitionsAreIndependent(t *testing.T) {
	c := newTestCache(t, Config{TTL: time.Minute})
	c.Set("same-key", PartitionAnalysis, sampleSet("analysis"), EntryMeta{})
	c.Set("same-key", PartitionCategory, "category-result", EntryMeta{})

	got, ok := c.Get("same-key", PartitionCategory)
	if !ok || got.(string) != "category-result" {
		t.Fatalf("category partition returned %v", got)
	}
	other, ok := c.Get("same-key", PartitionAnalysis)
	if !ok {
		t.Fatal("analysis partition should hold its own value")
	}
	if _, isSet := other.(datatypes.InsightSet); !isSet {
		t.Errorf("analysis partition returned %T, want its own insight set", other)
	}
}

func TestAnalysisCache_FindSimilar(t *testing.T) {
	c := newTestCache(t, Config{TTL: time.Minute, SimilarityThreshold: 0.8})

	c.Set("k1", PartitionAnalysis, sampleSet("deploys"), EntryMeta{
		SourceText:    "completed five issues during sprint review week",
		EstimatedCost: 0.05,
	})

	t.Run("near duplicate hits", func(t *testing.T) {
		got, sim, ok := c.FindSimilar("completed five issues during sprint review week", PartitionAnalysis)
		if !ok {
			t.Fatal("expected similarity hit")
		}
		if sim < 0.8 {
			t.Errorf("expected similarity >= threshold, got %f", sim)
		}
		if _, isSet := got.(datatypes.InsightSet); !isSet {
			t.Errorf("unexpected result type %T", got)
		}
		stats := c.Stats()
		if stats.SimilarHits != 1 || stats.Hits != 1 {
			t.Errorf("similar hit must count as a hit: %+v", stats)
		}
		if stats.CostSaved != 0.05 {
			t.Errorf("expected cost saved on similar hit, got %f", stats.CostSaved)
		}
	})

	t.Run("unrelated text misses", func(t *testing.T) {
		if _, _, ok := c.FindSimilar("database migration rollback failure", PartitionAnalysis); ok {
			t.Error("expected miss for unrelated text")
		}
	})
}

func TestAnalysisCache_FindSimilarThresholdIsStrict(t *testing.T) {
	c := newTestCache(t, Config{TTL: time.Minute, SimilarityThreshold: 0.5})

	// Tokens {alpha, beta} vs {alpha}: Jaccard exactly 0.5.
	c.Set("k1", PartitionAnalysis, sampleSet("x"), EntryMeta{SourceText: "alpha beta"})

	if _, sim, ok := c.FindSimilar("alpha", PartitionAnalysis); ok {
		t.Errorf("similarity equal to the threshold must miss, got hit at %f", sim)
	}
	if _, sim, ok := c.FindSimilar("alpha beta", PartitionAnalysis); !ok || sim != 1.0 {
		t.Errorf("exceeding the threshold must hit, got ok=%v sim=%f", ok, sim)
	}
}

func TestAnalysisCache_OverwriteRefreshesSourceText(t *testing.T) {
	c := newTestCache(t, Config{TTL: time.Minute, SimilarityThreshold: 0.8})

	c.Set("k1", PartitionAnalysis, sampleSet("x"), EntryMeta{SourceText: "sprint retro completed smoothly"})
	c.Set("k1", PartitionAnalysis, sampleSet("y"), EntryMeta{SourceText: "database outage during deploy window"})

	if _, _, ok := c.FindSimilar("sprint retro completed smoothly", PartitionAnalysis); ok {
		t.Error("stale source text must not match after overwrite")
	}
	if _, _, ok := c.FindSimilar("database outage during deploy window", PartitionAnalysis); !ok {
		t.Error("overwritten source text must match")
	}
}

func TestAnalysisCache_Sweep(t *testing.T) {
	c := newTestCache(t, Config{TTL: 30 * time.Millisecond})
	c.Set("a", PartitionAnalysis, sampleSet("x"), EntryMeta{})
	c.Set("b", PartitionCategory, "y", EntryMeta{})

	time.Sleep(40 * time.Millisecond)

	removed := c.Sweep()
	if removed != 2 {
		t.Fatalf("expected sweep to remove 2 entries, got %d", removed)
	}
	stats := c.Stats()
	if stats.Sizes[PartitionAnalysis] != 0 || stats.Sizes[PartitionCategory] != 0 {
		t.Errorf("expected empty partitions after sweep, got %v", stats.Sizes)
	}
}

func TestAnalysisCache_ConcurrentAccess(t *testing.T) {
	c := newTestCache(t, Config{TTL: time.Minute, MaxEntries: 50})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("k%d", i%60)
				c.Set(key, PartitionAnalysis, sampleSet("t"), EntryMeta{SourceText: "shared text"})
				c.Get(key, PartitionAnalysis)
				c.FindSimilar("shared text", PartitionAnalysis)
			}
		}(g)
	}
	wg.Wait()

	if size := c.Stats().Sizes[PartitionAnalysis]; size > 50 {
		t.Errorf("partition exceeded capacity: %d", size)
	}
}

func TestJaccard(t *testing.T) {
	a := Tokenize("Completed five issues this sprint")
	b := Tokenize("completed FIVE issues this sprint!")
	if sim := Jaccard(a, b); sim != 1.0 {
		t.Errorf("case and punctuation must not affect similarity, got %f", sim)
	}

	if sim := Jaccard(Tokenize(""), b); sim != 0 {
		t.Errorf("empty set similarity must be 0, got %f", sim)
	}

	c := Tokenize("unrelated database outage report")
	if sim := Jaccard(a, c); sim != 0 {
		t.Errorf("disjoint sets must score 0, got %f", sim)
	}
}
