// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cache memoizes expensive analysis results across pipeline runs.
//
// The cache is split into independent partitions keyed by analysis
// kind. Each partition has its own mutex, TTL-lazy expiry on read, LRU
// eviction of the oldest 20% at capacity, and a similarity lookup that can
// satisfy a near-duplicate request without a model call. A background
// sweeper removes expired entries off the request path.
package cache

import (
	"container/list"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pariosur/retronet-sub001/services/insights/datatypes"
)

// =============================================================================
// Partitions
// =============================================================================

// Partition names an independent cache region.
type Partition string

const (
	// PartitionCategory memoizes categorizer scoring results.
	PartitionCategory Partition = "category"

	// PartitionAnalysis memoizes full generative analysis results.
	PartitionAnalysis Partition = "analysis"
)

// Partitions lists all partitions, for sweeps and stats.
var Partitions = []Partition{PartitionCategory, PartitionAnalysis}

// =============================================================================
// Entries
// =============================================================================

// Entry is one cached result with its bookkeeping.
//
// Entries are removed only by TTL expiry or LRU eviction; an overwrite
// through Set refreshes LastAccessedAt rather than silently replacing the
// bookkeeping.
type Entry struct {
	// Key is the deterministic hash the entry was stored under.
	Key string

	// Result is the cached value. InsightSets are deep-copied on both
	// store and load; other values must be treated as read-only.
	Result any

	// SourceText is the normalized title+details text used for
	// similarity lookups. Empty disables FindSimilar for this entry.
	SourceText string

	// EstimatedCost is the producer's cost estimate for recomputing the
	// result, accumulated into Stats.CostSaved on every hit.
	EstimatedCost float64

	CreatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int64

	// sourceTokens is SourceText tokenized once at Set so similarity
	// scans never re-tokenize under the partition lock.
	sourceTokens map[string]struct{}
}

// EntryMeta carries the optional bookkeeping for Set.
type EntryMeta struct {
	SourceText    string
	EstimatedCost float64
}

// =============================================================================
// Cache
// =============================================================================

// Config tunes the cache.
type Config struct {
	// TTL is the max age of an entry before it reads as a miss.
	TTL time.Duration

	// MaxEntries caps each partition. At capacity, Set evicts the
	// oldest 20% of entries by LastAccessedAt (at least one).
	MaxEntries int

	// SimilarityThreshold is the Jaccard similarity a scan result must
	// exceed for FindSimilar to return a near-duplicate hit.
	SimilarityThreshold float64

	// SweepInterval is how often the background sweeper removes
	// expired entries. Zero disables the sweeper.
	SweepInterval time.Duration
}

// DefaultConfig returns the shipped cache tuning.
func DefaultConfig() Config {
	return Config{
		TTL:                 30 * time.Minute,
		MaxEntries:          500,
		SimilarityThreshold: 0.8,
		SweepInterval:       5 * time.Minute,
	}
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits        int64             `json:"hits"`
	Misses      int64             `json:"misses"`
	SimilarHits int64             `json:"similar_hits"`
	Evictions   int64             `json:"evictions"`
	Expirations int64             `json:"expirations"`
	CostSaved   float64           `json:"cost_saved"`
	Sizes       map[Partition]int `json:"sizes"`
}

// AnalysisCache is the shared, partitioned memoization store.
//
// Thread Safety: Safe for concurrent use. Each partition holds its own
// short-held mutex; no lock is held across I/O.
type AnalysisCache struct {
	cfg    Config
	logger *slog.Logger

	partitions map[Partition]*partition

	hits        atomic.Int64
	misses      atomic.Int64
	similarHits atomic.Int64
	evictions   atomic.Int64
	expirations atomic.Int64

	costMu    sync.Mutex
	costSaved float64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

type partition struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List // front = most recently used
}

// New creates an AnalysisCache and starts its sweeper when configured.
//
// Inputs:
//
//	cfg - Cache tuning. Zero-value fields are replaced with defaults.
//	logger - Structured logger. Nil uses slog.Default().
//
// Outputs:
//
//	*AnalysisCache - Ready-to-use cache. Call Close to stop the sweeper.
func New(cfg Config, logger *slog.Logger) *AnalysisCache {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = def.SimilarityThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &AnalysisCache{
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "analysis_cache")),
		partitions: make(map[Partition]*partition, len(Partitions)),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, p := range Partitions {
		c.partitions[p] = &partition{
			entries: make(map[string]*list.Element),
			lru:     list.New(),
		}
	}

	if cfg.SweepInterval > 0 {
		go c.sweepLoop()
	} else {
		close(c.done)
	}
	return c
}

// Close stops the background sweeper. Idempotent.
func (c *AnalysisCache) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
	<-c.done
}

// Get returns the live entry stored under key in the partition.
//
// Description:
//
//	Exact-match lookup. An entry older than the TTL is evicted lazily and
//	counted as a miss plus an expiration. A hit refreshes LastAccessedAt,
//	increments AccessCount, moves the entry to the LRU front, and adds its
//	EstimatedCost to the cost-saved counter.
//
// Outputs:
//
//	any - The cached result (deep-copied for InsightSets), or nil.
//	bool - True on a hit.
func (c *AnalysisCache) Get(key string, part Partition) (any, bool) {
	p, ok := c.partitions[part]
	if !ok {
		return nil, false
	}

	p.mu.Lock()
	elem, exists := p.entries[key]
	if !exists {
		p.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}

	entry := elem.Value.(*Entry)
	now := time.Now()
	if now.Sub(entry.CreatedAt) > c.cfg.TTL {
		delete(p.entries, key)
		p.lru.Remove(elem)
		p.mu.Unlock()
		c.expirations.Add(1)
		c.misses.Add(1)
		return nil, false
	}

	entry.LastAccessedAt = now
	entry.AccessCount++
	p.lru.MoveToFront(elem)
	result := copyResult(entry.Result)
	cost := entry.EstimatedCost
	p.mu.Unlock()

	c.hits.Add(1)
	c.addCostSaved(cost)
	return result, true
}

// Set stores a result under key in the partition.
//
// Description:
//
//	Overwriting an existing key refreshes its bookkeeping in place. A new
//	insert into a full partition first evicts the oldest 20% of entries by
//	LastAccessedAt (rounded up, so at least one).
func (c *AnalysisCache) Set(key string, part Partition, result any, meta EntryMeta) {
	p, ok := c.partitions[part]
	if !ok {
		return
	}
	now := time.Now()
	stored := copyResult(result)
	var tokens map[string]struct{}
	if meta.SourceText != "" {
		tokens = Tokenize(meta.SourceText)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if elem, exists := p.entries[key]; exists {
		entry := elem.Value.(*Entry)
		entry.Result = stored
		entry.SourceText = meta.SourceText
		entry.sourceTokens = tokens
		entry.EstimatedCost = meta.EstimatedCost
		entry.LastAccessedAt = now
		p.lru.MoveToFront(elem)
		return
	}

	if p.lru.Len() >= c.cfg.MaxEntries {
		c.evictOldestLocked(p)
	}

	entry := &Entry{
		Key:            key,
		Result:         stored,
		SourceText:     meta.SourceText,
		sourceTokens:   tokens,
		EstimatedCost:  meta.EstimatedCost,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	p.entries[key] = p.lru.PushFront(entry)
}

// evictOldestLocked removes the oldest 20% of p's entries by
// LastAccessedAt. Caller holds p.mu.
func (c *AnalysisCache) evictOldestLocked(p *partition) {
	n := p.lru.Len() / 5
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		back := p.lru.Back()
		if back == nil {
			return
		}
		entry := back.Value.(*Entry)
		delete(p.entries, entry.Key)
		p.lru.Remove(back)
		c.evictions.Add(1)
	}
}

// Stats returns a snapshot of the cache counters.
func (c *AnalysisCache) Stats() Stats {
	s := Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		SimilarHits: c.similarHits.Load(),
		Evictions:   c.evictions.Load(),
		Expirations: c.expirations.Load(),
		Sizes:       make(map[Partition]int, len(c.partitions)),
	}
	for name, p := range c.partitions {
		p.mu.Lock()
		s.Sizes[name] = p.lru.Len()
		p.mu.Unlock()
	}
	c.costMu.Lock()
	s.CostSaved = c.costSaved
	c.costMu.Unlock()
	return s
}

func (c *AnalysisCache) addCostSaved(cost float64) {
	if cost == 0 {
		return
	}
	c.costMu.Lock()
	c.costSaved += cost
	c.costMu.Unlock()
}

// =============================================================================
// Sweeper
// =============================================================================

func (c *AnalysisCache) sweepLoop() {
	defer close(c.done)
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			removed := c.Sweep()
			if removed > 0 {
				c.logger.Debug("cache sweep removed expired entries",
					slog.Int("removed", removed))
			}
		}
	}
}

// Sweep removes every TTL-expired entry across all partitions and returns
// the number removed. Each partition's lock is held only while that
// partition is scanned.
func (c *AnalysisCache) Sweep() int {
	removed := 0
	cutoff := time.Now().Add(-c.cfg.TTL)
	for _, p := range c.partitions {
		p.mu.Lock()
		for key, elem := range p.entries {
			if elem.Value.(*Entry).CreatedAt.Before(cutoff) {
				delete(p.entries, key)
				p.lru.Remove(elem)
				removed++
			}
		}
		p.mu.Unlock()
	}
	if removed > 0 {
		c.expirations.Add(int64(removed))
	}
	return removed
}

// copyResult deep-copies InsightSet values so callers can never mutate
// cached state. Other result types are value-copied by assignment and must
// be treated as read-only by callers.
func copyResult(v any) any {
	switch r := v.(type) {
	case datatypes.InsightSet:
		return r.Clone()
	case *datatypes.InsightSet:
		if r == nil {
			return (*datatypes.InsightSet)(nil)
		}
		cloned := r.Clone()
		return &cloned
	default:
		return v
	}
}
