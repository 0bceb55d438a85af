// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline orchestrates one insight analysis end to end and owns
// the process-lifetime resources the stages share.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/pariosur/retronet-sub001/services/insights/analyzer"
	"github.com/pariosur/retronet-sub001/services/insights/cache"
	"github.com/pariosur/retronet-sub001/services/insights/categorizer"
	"github.com/pariosur/retronet-sub001/services/insights/datatypes"
	"github.com/pariosur/retronet-sub001/services/insights/errclass"
	"github.com/pariosur/retronet-sub001/services/insights/events"
	"github.com/pariosur/retronet-sub001/services/insights/generative"
	"github.com/pariosur/retronet-sub001/services/insights/llm"
	"github.com/pariosur/retronet-sub001/services/insights/merger"
	"github.com/pariosur/retronet-sub001/services/insights/progress"
	"github.com/pariosur/retronet-sub001/services/insights/telemetry"
)

var tracer = otel.Tracer("insights.pipeline")

// Fixed stage names, in step order.
const (
	StageCollect    = "collect"
	StageRule       = "rule-analysis"
	StageGenerative = "generative-analysis"
	StageMerge      = "merge"
	StageFinalize   = "finalize"
)

const (
	stepCollect = iota
	stepRule
	stepGenerative
	stepMerge
	stepFinalize
)

func sessionSteps() []progress.StepSpec {
	return []progress.StepSpec{
		{Name: StageCollect, Description: "Collect activity from sources", EstimatedDuration: 3 * time.Second},
		{Name: StageRule, Description: "Run rule-based analysis", EstimatedDuration: time.Second},
		{Name: StageGenerative, Description: "Run generative analysis", EstimatedDuration: 15 * time.Second},
		{Name: StageMerge, Description: "Merge and deduplicate insights", EstimatedDuration: time.Second},
		{Name: StageFinalize, Description: "Finalize result", EstimatedDuration: time.Second},
	}
}

// Config wires the Manager's owned resources.
type Config struct {
	// Cache tunes the shared analysis cache.
	Cache cache.Config `yaml:"cache"`

	// Store tunes session retention.
	Store progress.StoreConfig `yaml:"store"`

	// Providers maps registry names to provider configs. Only named
	// providers can be selected per request.
	Providers map[string]llm.Config `yaml:"providers"`

	// Generative tunes the generative stage.
	Generative generative.Config `yaml:"generative"`

	// Merger tunes dedup and the agreement bonus.
	Merger merger.Config `yaml:"merger"`
}

// GenerateRequest is one analysis invocation.
type GenerateRequest struct {
	DateRange   datatypes.DateRange       `json:"date_range" validate:"required"`
	TeamMembers []string                  `json:"team_members,omitempty"`
	SessionID   string                    `json:"session_id,omitempty"`
	Options     datatypes.AnalysisOptions `json:"options,omitempty"`
}

// Manager owns the cache, the session store, the provider registry, and
// the per-provider generative analyzers. One Manager serves the whole
// process; Close releases its background loops.
//
// Thread Safety: Safe for concurrent use.
type Manager struct {
	cfg      Config
	logger   *slog.Logger
	validate *validator.Validate

	cache    *cache.AnalysisCache
	store    *progress.Store
	registry *llm.Registry
	merger   *merger.Merger
	metrics  *telemetry.Metrics
	influx   *telemetry.InfluxSink

	observer events.Handler

	mu         sync.Mutex
	collectors []Collector
	analyzers  map[string]*generative.Analyzer
	closed     bool
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithMetrics attaches pipeline metrics.
func WithMetrics(m *telemetry.Metrics) ManagerOption {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithInfluxSink attaches the optional run-stats sink.
func WithInfluxSink(s *telemetry.InfluxSink) ManagerOption {
	return func(mgr *Manager) { mgr.influx = s }
}

// WithSessionObserver subscribes h to every session's event stream as
// soon as the session is created, before any step runs. The CLI uses
// this to stream progress without racing Generate.
func WithSessionObserver(h events.Handler) ManagerOption {
	return func(mgr *Manager) { mgr.observer = h }
}

// WithRuleSet overrides the categorizer rule set used by the merger.
func WithRuleSet(rs *categorizer.RuleSet) ManagerOption {
	return func(mgr *Manager) {
		mgr.merger = merger.New(mgr.cfg.Merger, rs, mgr.logger, merger.WithCache(mgr.cache))
	}
}

// NewManager builds a Manager and starts its background reapers.
func NewManager(cfg Config, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "pipeline_manager"))

	c := cache.New(cfg.Cache, logger)
	m := &Manager{
		cfg:       cfg,
		logger:    logger,
		validate:  validator.New(),
		cache:     c,
		store:     progress.NewStore(cfg.Store, logger),
		registry:  llm.NewRegistry(),
		merger:    merger.New(cfg.Merger, nil, logger, merger.WithCache(c)),
		analyzers: make(map[string]*generative.Analyzer),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterCollector adds a source. Collectors registered after Generate
// starts apply to subsequent runs only.
func (m *Manager) RegisterCollector(c Collector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collectors = append(m.collectors, c)
}

// Registry exposes the provider registry for CLI listing and overrides.
func (m *Manager) Registry() *llm.Registry { return m.registry }

// CacheStats returns a snapshot of the shared cache counters.
func (m *Manager) CacheStats() cache.Stats { return m.cache.Stats() }

// Subscribe attaches a handler to a session's event stream.
func (m *Manager) Subscribe(sessionID string, h events.Handler) (string, error) {
	session, err := m.store.Get(sessionID)
	if err != nil {
		return "", err
	}
	return session.Emitter().Subscribe(h), nil
}

// Status reports a session's progress snapshot.
func (m *Manager) Status(ctx context.Context, sessionID string) (progress.Snapshot, error) {
	return m.store.Status(ctx, sessionID)
}

// Close releases the cache sweeper, the session reaper, and the influx
// sink. Idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.cache.Close()
	m.store.Close()
	m.influx.Close()
}

// Generate runs the full pipeline for one request.
//
// Description:
//
//	Validates the request, creates a progress session, collects from
//	every source concurrently, runs the rule and generative analyzers
//	concurrently, merges, and finalizes. Partial failures degrade: a
//	failing source or a failing generative call is recorded as a
//	degradation and the run continues; only total source loss or an
//	invalid request is fatal. Returned errors are always classified
//	InsightErrors.
//
// Inputs:
//
//	ctx - Cancels collection and provider calls.
//	req - The analysis window, team, and per-run options.
//
// Outputs:
//
//	*datatypes.AnalysisResult - Merged insights plus provenance metadata.
//	error - A classified *errclass.InsightError on fatal failure.
func (m *Manager) Generate(ctx context.Context, req GenerateRequest) (*datatypes.AnalysisResult, error) {
	ctx, span := tracer.Start(ctx, "Manager.Generate")
	defer span.End()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errclass.Classify(ErrManagerClosed, errclass.ClassifyContext{Operation: "generate"})
	}
	collectors := make([]Collector, len(m.collectors))
	copy(collectors, m.collectors)
	m.mu.Unlock()

	if err := m.validateRequest(req, collectors); err != nil {
		return nil, err
	}

	session, err := m.store.Create(req.SessionID, sessionSteps())
	if err != nil {
		return nil, errclass.Classify(err, errclass.ClassifyContext{Operation: "create-session"})
	}
	span.SetAttributes(attribute.String("session.id", session.ID()))

	if m.observer != nil {
		session.Emitter().Subscribe(m.observer)
	}

	if m.metrics != nil {
		m.metrics.ActiveSessions.Inc()
		defer m.metrics.ActiveSessions.Dec()
	}

	actx := datatypes.AnalysisContext{
		DateRange:   req.DateRange,
		TeamMembers: req.TeamMembers,
		SessionID:   session.ID(),
		Options:     req.Options,
	}

	run := &runState{
		session:   session,
		durations: make(map[string]time.Duration),
	}

	records, err := m.collectStage(ctx, run, collectors, actx)
	if err != nil {
		return nil, m.failSession(run, err)
	}

	ruleSet, genRes, genErr := m.analyzeStage(ctx, run, records, actx)

	merged := m.mergeStage(run, ruleSet, genRes.Set, genErr == nil && req.Options.Provider != "")

	result := m.finalizeStage(run, merged, req, genRes, genErr)
	return result, nil
}

// runState carries per-run bookkeeping across stages.
type runState struct {
	session      *progress.Session
	durations    map[string]time.Duration
	degradations []datatypes.Degradation
}

func (m *Manager) validateRequest(req GenerateRequest, collectors []Collector) error {
	if len(collectors) == 0 {
		return errclass.Classify(ErrNoCollectors, errclass.ClassifyContext{Operation: "generate"})
	}
	if !req.DateRange.Valid() {
		return errclass.Classify(
			fmt.Errorf("invalid date range: start %s, end %s", req.DateRange.Start, req.DateRange.End),
			errclass.ClassifyContext{Operation: "validate"})
	}
	if err := m.validate.Struct(req); err != nil {
		return errclass.Classify(fmt.Errorf("invalid date range: %w", err),
			errclass.ClassifyContext{Operation: "validate"})
	}
	if req.Options.Provider != "" {
		if _, ok := m.cfg.Providers[req.Options.Provider]; !ok {
			return errclass.Classify(
				fmt.Errorf("%w: %q not configured", llm.ErrUnknownProvider, req.Options.Provider),
				errclass.ClassifyContext{Provider: req.Options.Provider, Operation: "validate"})
		}
	}
	return nil
}

// collectStage fans out to every collector and settles all results.
// Per-source failures become degradations; only total loss is fatal.
func (m *Manager) collectStage(ctx context.Context, run *runState, collectors []Collector, actx datatypes.AnalysisContext) (map[string][]datatypes.ActivityRecord, error) {
	run.session.StartStep(stepCollect)
	start := time.Now()

	type slot struct {
		name string
		recs []datatypes.ActivityRecord
		err  error
	}
	slots := make([]slot, len(collectors))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range collectors {
		g.Go(func() error {
			recs, err := c.Collect(gctx, actx)
			slots[i] = slot{name: c.Name(), recs: recs, err: err}
			return nil
		})
	}
	g.Wait()

	available := make([]string, 0, len(collectors))
	failures := make(map[string]error)
	records := make(map[string][]datatypes.ActivityRecord)
	total := 0
	for _, s := range slots {
		available = append(available, s.name)
		if s.err != nil {
			failures[s.name] = s.err
			m.logger.Warn("source collection failed",
				slog.String("source", s.name), slog.Any("error", s.err))
			continue
		}
		records[s.name] = s.recs
		total += len(s.recs)
	}

	decision := errclass.HandleSourceFailures(failures, available)
	elapsed := time.Since(start)
	run.durations[StageCollect] = elapsed
	m.observeStage(run, StageCollect, elapsed, decision.FatalError)

	if !decision.CanContinue {
		run.session.FailStep(stepCollect, decision.FatalError)
		return nil, decision.FatalError
	}
	if decision.Degradation != nil {
		run.session.RecordDegradation("sources", decision.Degradation.Impact)
		run.degradations = append(run.degradations, datatypes.Degradation{
			Scope:  "sources",
			Impact: decision.Degradation.Impact,
			At:     time.Now(),
		})
		m.countDegradation("sources")
	}
	if total == 0 {
		err := errclass.Classify(fmt.Errorf("no records found in the requested period"),
			errclass.ClassifyContext{Operation: StageCollect})
		run.session.FailStep(stepCollect, err)
		return nil, err
	}

	run.session.CompleteStep(stepCollect, fmt.Sprintf("collected %d records from %d sources", total, len(records)))
	return records, nil
}

// analyzeStage runs both analyzers concurrently and settles their
// results. The rule analyzer cannot fail; a generative failure is
// classified and degrades the run.
func (m *Manager) analyzeStage(ctx context.Context, run *runState, records map[string][]datatypes.ActivityRecord, actx datatypes.AnalysisContext) (datatypes.InsightSet, generative.Result, error) {
	var (
		ruleSet datatypes.InsightSet
		genRes  generative.Result
		genErr  error
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		run.session.StartStep(stepRule)
		start := time.Now()
		ruleSet = analyzer.Analyze(records, actx)
		elapsed := time.Since(start)
		run.durations[StageRule] = elapsed
		m.observeStage(run, StageRule, elapsed, nil)
		run.session.CompleteStep(stepRule, fmt.Sprintf("%d rule insights", ruleSet.Len()))
	}()

	run.session.StartStep(stepGenerative)
	genStart := time.Now()
	if actx.Options.Provider == "" {
		run.session.CompleteStep(stepGenerative, "generative analysis disabled")
	} else {
		gen, err := m.analyzerFor(actx.Options.Provider)
		if err == nil {
			genRes, err = gen.Analyze(ctx, records, actx, actx.Options)
		}
		genErr = err
		elapsed := time.Since(genStart)
		run.durations[StageGenerative] = elapsed
		m.observeStage(run, StageGenerative, elapsed, genErr)

		if genErr != nil {
			typed := errclass.Classify(genErr, errclass.ClassifyContext{
				Provider:  actx.Options.Provider,
				Operation: StageGenerative,
			})
			genErr = typed
			impact := "insights are based on rule analysis only"
			run.session.FailStep(stepGenerative, typed)
			run.session.RecordDegradation(StageGenerative, impact)
			run.degradations = append(run.degradations, datatypes.Degradation{
				Scope:  StageGenerative,
				Impact: impact,
				At:     time.Now(),
			})
			m.countDegradation(StageGenerative)
			m.logger.Warn("generative analysis failed, continuing rule-only",
				slog.String("provider", actx.Options.Provider),
				slog.Any("error", typed))
		} else {
			msg := fmt.Sprintf("%d generative insights", genRes.Set.Len())
			if genRes.CacheHit {
				msg += " (cached)"
			}
			run.session.CompleteStep(stepGenerative, msg)
		}
	}

	wg.Wait()
	return ruleSet, genRes, genErr
}

func (m *Manager) mergeStage(run *runState, ruleSet, genSet datatypes.InsightSet, genUsed bool) datatypes.InsightSet {
	run.session.StartStep(stepMerge)
	start := time.Now()

	var merged datatypes.InsightSet
	if genUsed {
		merged = m.merger.Merge(ruleSet, genSet)
	} else {
		merged = m.merger.Merge(ruleSet, datatypes.InsightSet{})
	}

	elapsed := time.Since(start)
	run.durations[StageMerge] = elapsed
	m.observeStage(run, StageMerge, elapsed, nil)
	run.session.CompleteStep(stepMerge, fmt.Sprintf("%d merged insights", merged.Len()))
	return merged
}

func (m *Manager) finalizeStage(run *runState, merged datatypes.InsightSet, req GenerateRequest, genRes generative.Result, genErr error) *datatypes.AnalysisResult {
	run.session.StartStep(stepFinalize)
	start := time.Now()

	if req.Options.MinConfidence > 0 {
		merged = merger.Filter(merged, merger.FilterOptions{MinConfidence: req.Options.MinConfidence})
	}

	genUsed := req.Options.Provider != "" && genErr == nil
	meta := datatypes.AnalysisMetadata{
		GeneratedAt:            time.Now(),
		DateRange:              req.DateRange,
		TeamMembers:            req.TeamMembers,
		RuleAnalysisUsed:       true,
		GenerativeAnalysisUsed: genUsed,
		Degradations:           run.degradations,
		StageDurations:         run.durations,
	}
	if genUsed {
		provider := genRes.Provider
		meta.Provider = &provider
	}

	if m.metrics != nil {
		for _, b := range datatypes.Buckets {
			for _, in := range merged.Bucket(b) {
				m.metrics.InsightsProduced.WithLabelValues(string(b), string(in.Source)).Inc()
			}
		}
		m.metrics.AnalysesTotal.WithLabelValues("ok").Inc()
	}

	elapsed := time.Since(start)
	run.durations[StageFinalize] = elapsed
	m.observeStage(run, StageFinalize, elapsed, nil)
	run.session.CompleteStep(stepFinalize, "analysis complete")
	run.session.Complete()

	var totalElapsed time.Duration
	for _, d := range run.durations {
		totalElapsed += d
	}
	m.influx.RecordAnalysis(context.Background(), run.session.ID(), merged.Len(), totalElapsed, len(run.degradations) > 0)

	return &datatypes.AnalysisResult{Insights: merged, Metadata: meta}
}

// analyzerFor returns the lazily built generative analyzer for a
// configured provider name.
func (m *Manager) analyzerFor(name string) (*generative.Analyzer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.analyzers[name]; ok {
		return a, nil
	}
	cfg, ok := m.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q not configured", llm.ErrUnknownProvider, name)
	}
	provider, err := m.registry.New(cfg)
	if err != nil {
		return nil, err
	}
	genCfg := m.cfg.Generative
	if cfg.CostPer1KTokens > 0 {
		genCfg.CostPer1KTokens = cfg.CostPer1KTokens
	}
	a := generative.New(provider, m.cache,
		generative.WithConfig(genCfg),
		generative.WithLogger(m.logger),
		generative.WithMetrics(m.metrics))
	m.analyzers[name] = a
	return a, nil
}

func (m *Manager) failSession(run *runState, err error) error {
	run.session.Fail(err)
	if m.metrics != nil {
		m.metrics.AnalysesTotal.WithLabelValues("error").Inc()
	}
	return err
}

func (m *Manager) observeStage(run *runState, stage string, d time.Duration, err error) {
	if m.metrics != nil {
		m.metrics.ObserveStage(stage, d, err)
	}
	m.influx.RecordStage(context.Background(), run.session.ID(), stage, d, err != nil)
}

func (m *Manager) countDegradation(scope string) {
	if m.metrics != nil {
		m.metrics.DegradationsTotal.WithLabelValues(scope).Inc()
	}
}
