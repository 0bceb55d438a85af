// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pariosur/retronet-sub001/services/insights/cache"
	"github.com/pariosur/retronet-sub001/services/insights/datatypes"
	"github.com/pariosur/retronet-sub001/services/insights/errclass"
	"github.com/pariosur/retronet-sub001/services/insights/events"
	"github.com/pariosur/retronet-sub001/services/insights/llm"
	"github.com/pariosur/retronet-sub001/services/insights/progress"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(Config{
		Cache: cache.Config{SweepInterval: -1},
		Store: progress.StoreConfig{ReapInterval: -1},
		Providers: map[string]llm.Config{
			"mock": {Name: "mock", Model: `{"wentWell": [{"title": "Completed 5 issues this sprint", "confidence": 0.85}], "didntGoWell": [], "actionItems": []}`},
		},
	}, nil)
	t.Cleanup(m.Close)
	return m
}

func testRange() datatypes.DateRange {
	start := time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC)
	return datatypes.DateRange{Start: start, End: start.AddDate(0, 0, 7)}
}

func githubRecords() []datatypes.ActivityRecord {
	return []datatypes.ActivityRecord{
		{ID: "1", Title: "Ship exporter", State: "merged", Source: "github"},
		{ID: "2", Title: "Fix flaky test", State: "closed", Source: "github"},
		{ID: "3", Title: "Upgrade runtime", State: "done", Source: "github"},
		{ID: "4", Title: "Refactor cache", State: "completed", Source: "github"},
		{ID: "5", Title: "Tune CI", State: "closed", Source: "github"},
	}
}

func TestGenerate_HappyPath(t *testing.T) {
	m := testManager(t)
	m.RegisterCollector(&StaticCollector{SourceName: "github", Records: githubRecords()})

	res, err := m.Generate(context.Background(), GenerateRequest{
		DateRange: testRange(),
		SessionID: "sess-happy",
		Options:   datatypes.AnalysisOptions{Provider: "mock"},
	})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Greater(t, res.Insights.Len(), 0)
	assert.True(t, res.Metadata.RuleAnalysisUsed)
	assert.True(t, res.Metadata.GenerativeAnalysisUsed)
	require.NotNil(t, res.Metadata.Provider)
	assert.Equal(t, "mock", res.Metadata.Provider.Name)
	assert.Empty(t, res.Metadata.Degradations)

	for _, stage := range []string{StageCollect, StageRule, StageGenerative, StageMerge, StageFinalize} {
		assert.Contains(t, res.Metadata.StageDurations, stage)
	}
	for _, in := range res.Insights.All() {
		assert.GreaterOrEqual(t, in.Confidence, 0.0)
		assert.LessOrEqual(t, in.Confidence, 1.0)
	}

	snap, err := m.Status(context.Background(), "sess-happy")
	require.NoError(t, err)
	assert.True(t, snap.Completed)
	assert.Empty(t, snap.Error)
	assert.Equal(t, 1.0, snap.Progress.Percentage)
}

func TestGenerate_RuleOnlyWhenNoProvider(t *testing.T) {
	m := testManager(t)
	m.RegisterCollector(&StaticCollector{SourceName: "github", Records: githubRecords()})

	res, err := m.Generate(context.Background(), GenerateRequest{DateRange: testRange()})
	require.NoError(t, err)
	assert.False(t, res.Metadata.GenerativeAnalysisUsed)
	assert.Nil(t, res.Metadata.Provider)
	assert.Greater(t, res.Insights.Len(), 0, "rule analyzer should still produce insights")
}

func TestGenerate_PartialSourceFailureDegrades(t *testing.T) {
	m := testManager(t)
	m.RegisterCollector(&StaticCollector{SourceName: "github", Records: githubRecords()})
	m.RegisterCollector(&StaticCollector{SourceName: "slack", Err: errors.New("rate limited")})

	res, err := m.Generate(context.Background(), GenerateRequest{
		DateRange: testRange(),
		Options:   datatypes.AnalysisOptions{Provider: "mock"},
	})
	require.NoError(t, err, "one working source must be enough")
	require.Len(t, res.Metadata.Degradations, 1)
	assert.Equal(t, "sources", res.Metadata.Degradations[0].Scope)
	assert.Contains(t, res.Metadata.Degradations[0].Impact, "1 of 2")
}

func TestGenerate_AllSourcesFailedIsFatal(t *testing.T) {
	m := testManager(t)
	m.RegisterCollector(&StaticCollector{SourceName: "github", Err: errors.New("down")})
	m.RegisterCollector(&StaticCollector{SourceName: "slack", Err: errors.New("down too")})

	_, err := m.Generate(context.Background(), GenerateRequest{DateRange: testRange()})
	require.Error(t, err)

	var typed *errclass.InsightError
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, errclass.TypeAllSourcesFailed, typed.Type)
}

func TestGenerate_GenerativeFailureDegradesToRuleOnly(t *testing.T) {
	m := testManager(t)
	m.RegisterCollector(&StaticCollector{SourceName: "github", Records: githubRecords()})

	m.Registry().Register("failing", func(cfg llm.Config) (llm.Provider, error) {
		p, _ := llm.NewMock(cfg)
		p.(*llm.MockProvider).Err = errors.New("503 overloaded")
		return p, nil
	})
	m.cfg.Providers["failing"] = llm.Config{Name: "failing"}

	res, err := m.Generate(context.Background(), GenerateRequest{
		DateRange: testRange(),
		Options:   datatypes.AnalysisOptions{Provider: "failing"},
	})
	require.NoError(t, err, "generative failure must not fail the run")
	assert.False(t, res.Metadata.GenerativeAnalysisUsed)
	require.NotEmpty(t, res.Metadata.Degradations)
	assert.Equal(t, StageGenerative, res.Metadata.Degradations[0].Scope)
	assert.Greater(t, res.Insights.Len(), 0, "rule insights must survive")
}

func TestGenerate_InvalidDateRange(t *testing.T) {
	m := testManager(t)
	m.RegisterCollector(&StaticCollector{SourceName: "github", Records: githubRecords()})

	_, err := m.Generate(context.Background(), GenerateRequest{
		DateRange: datatypes.DateRange{
			Start: time.Date(2025, 11, 10, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC),
		},
	})
	require.Error(t, err)

	var typed *errclass.InsightError
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, errclass.TypeInvalidDateRange, typed.Type)
}

func TestGenerate_NoRecordsFound(t *testing.T) {
	m := testManager(t)
	m.RegisterCollector(&StaticCollector{SourceName: "github"})

	_, err := m.Generate(context.Background(), GenerateRequest{DateRange: testRange()})
	require.Error(t, err)

	var typed *errclass.InsightError
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, errclass.TypeNoDataFound, typed.Type)
}

func TestGenerate_NoCollectors(t *testing.T) {
	m := testManager(t)
	_, err := m.Generate(context.Background(), GenerateRequest{DateRange: testRange()})
	require.Error(t, err)
}

func TestGenerate_UnknownProvider(t *testing.T) {
	m := testManager(t)
	m.RegisterCollector(&StaticCollector{SourceName: "github", Records: githubRecords()})

	_, err := m.Generate(context.Background(), GenerateRequest{
		DateRange: testRange(),
		Options:   datatypes.AnalysisOptions{Provider: "carrier-pigeon"},
	})
	require.Error(t, err)
}

func TestManager_ClosedRejectsGenerate(t *testing.T) {
	m := NewManager(Config{
		Cache: cache.Config{SweepInterval: -1},
		Store: progress.StoreConfig{ReapInterval: -1},
	}, nil)
	m.Close()

	_, err := m.Generate(context.Background(), GenerateRequest{DateRange: testRange()})
	require.Error(t, err)
}

func TestGenerate_SessionObserverSeesEvents(t *testing.T) {
	rec := events.NewRecorder()
	m := NewManager(Config{
		Cache: cache.Config{SweepInterval: -1},
		Store: progress.StoreConfig{ReapInterval: -1},
	}, nil, WithSessionObserver(rec.Handler()))
	t.Cleanup(m.Close)
	m.RegisterCollector(&StaticCollector{SourceName: "github", Records: githubRecords()})

	_, err := m.Generate(context.Background(), GenerateRequest{DateRange: testRange()})
	require.NoError(t, err)

	types := rec.Types()
	require.NotEmpty(t, types)
	assert.Equal(t, events.TypeStepStarted, types[0])
	assert.Equal(t, events.TypeSessionCompleted, types[len(types)-1])
}

func TestStaticCollector_WindowFilter(t *testing.T) {
	window := testRange()
	inside := window.Start.Add(24 * time.Hour)
	outside := window.Start.AddDate(0, -1, 0)

	c := &StaticCollector{SourceName: "export", Records: []datatypes.ActivityRecord{
		{ID: "in", Title: "inside", CreatedAt: inside},
		{ID: "out", Title: "outside", CreatedAt: outside},
		{ID: "untimed", Title: "no timestamp"},
	}}

	recs, err := c.Collect(context.Background(), datatypes.AnalysisContext{DateRange: window})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "in", recs[0].ID)
	assert.Equal(t, "export", recs[0].Source, "source tag must be applied")
}
