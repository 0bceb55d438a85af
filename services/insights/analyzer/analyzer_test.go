// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analyzer

import (
	"reflect"
	"testing"
	"time"

	"github.com/pariosur/retronet-sub001/services/insights/datatypes"
)

func weekRange() datatypes.DateRange {
	start := time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC)
	return datatypes.DateRange{Start: start, End: start.AddDate(0, 0, 7)}
}

func rec(title, state string) datatypes.ActivityRecord {
	return datatypes.ActivityRecord{ID: title, Title: title, State: state, Source: "github"}
}

func TestAnalyze_CompletionRatio(t *testing.T) {
	records := map[string][]datatypes.ActivityRecord{
		"github": {
			rec("a", "completed"), rec("b", "done"), rec("c", "merged"),
			rec("d", "closed"), rec("e", "completed"),
		},
	}
	actx := datatypes.AnalysisContext{DateRange: weekRange(), TeamMembers: []string{"ana", "bo"}}

	set := Analyze(records, actx)

	if len(set.WentWell) == 0 {
		t.Fatal("expected a completion insight")
	}
	got := set.WentWell[0]
	if got.Title != "Completed 5 github items" {
		t.Errorf("title = %q", got.Title)
	}
	if got.Source != datatypes.SourceRule {
		t.Errorf("source = %s, want rule", got.Source)
	}
	if got.Confidence < 0 || got.Confidence > 1 {
		t.Errorf("confidence out of range: %f", got.Confidence)
	}
}

func TestAnalyze_BlockedRatio(t *testing.T) {
	records := map[string][]datatypes.ActivityRecord{
		"linear": {
			{ID: "1", Title: "a", State: "blocked", Source: "linear"},
			{ID: "2", Title: "b", State: "blocked", Source: "linear"},
			{ID: "3", Title: "c", State: "completed", Source: "linear"},
		},
	}

	set := Analyze(records, datatypes.AnalysisContext{DateRange: weekRange()})

	if len(set.DidntGoWell) == 0 {
		t.Fatal("expected a blocked-ratio insight")
	}
	if len(set.ActionItems) == 0 {
		t.Error("a high blocked ratio should also produce an action item")
	}
}

func TestAnalyze_KeywordDensity(t *testing.T) {
	records := map[string][]datatypes.ActivityRecord{
		"slack": {
			{ID: "1", Title: "deploy", Body: "we shipped the new billing page", Source: "slack"},
			{ID: "2", Title: "status", Body: "still blocked on the vendor API", Source: "slack"},
			{ID: "3", Title: "update", Body: "kudos to ana, great work on the migration", Source: "slack"},
			{ID: "4", Title: "note", Body: "blocked again waiting on security review", Source: "slack"},
		},
	}

	set := Analyze(records, datatypes.AnalysisContext{DateRange: weekRange()})

	var sawBlockers, sawPraise bool
	for _, in := range set.DidntGoWell {
		if in.Metadata["rule"] == "keyword-density" {
			sawBlockers = true
		}
	}
	for _, in := range set.WentWell {
		if in.Metadata["rule"] == "keyword-density" {
			sawPraise = true
		}
	}
	if !sawBlockers {
		t.Error("expected a blocker-density insight")
	}
	if !sawPraise {
		t.Error("expected a praise-density insight")
	}
}

func TestAnalyze_Velocity(t *testing.T) {
	many := make([]datatypes.ActivityRecord, 30)
	for i := range many {
		many[i] = datatypes.ActivityRecord{ID: string(rune('a' + i)), Title: "x", Source: "github"}
	}
	actx := datatypes.AnalysisContext{DateRange: weekRange(), TeamMembers: []string{"solo"}}

	set := Analyze(map[string][]datatypes.ActivityRecord{"github": many}, actx)

	found := false
	for _, in := range set.WentWell {
		if in.Title == "High team throughput" {
			found = true
		}
	}
	if !found {
		t.Error("expected a high-velocity insight for 30 records / 1 member / 7 days")
	}
}

func TestAnalyze_NoSignalYieldsEmptyBuckets(t *testing.T) {
	records := map[string][]datatypes.ActivityRecord{
		"github": {
			{ID: "1", Title: "routine change", State: "open", Source: "github"},
			{ID: "2", Title: "another change", State: "open", Source: "github"},
		},
	}

	set := Analyze(records, datatypes.AnalysisContext{DateRange: weekRange(), TeamMembers: []string{"a"}})

	if set.Len() != 0 {
		t.Errorf("expected no insights for signal-free input, got %d", set.Len())
	}
}

func TestAnalyze_EmptyInputIsTotal(t *testing.T) {
	if set := Analyze(nil, datatypes.AnalysisContext{}); set.Len() != 0 {
		t.Errorf("nil input must yield an empty set, got %d insights", set.Len())
	}
	if set := Analyze(map[string][]datatypes.ActivityRecord{}, datatypes.AnalysisContext{DateRange: weekRange()}); set.Len() != 0 {
		t.Errorf("empty input must yield an empty set, got %d insights", set.Len())
	}
}

func TestAnalyze_Deterministic(t *testing.T) {
	records := map[string][]datatypes.ActivityRecord{
		"github": {rec("a", "completed"), rec("b", "done"), rec("c", "blocked"), rec("d", "closed")},
		"slack": {
			{ID: "1", Title: "x", Body: "blocked on infra", Source: "slack"},
			{ID: "2", Title: "y", Body: "shipped the exporter", Source: "slack"},
		},
	}
	actx := datatypes.AnalysisContext{DateRange: weekRange(), TeamMembers: []string{"a"}}

	first := Analyze(records, actx)
	for i := 0; i < 20; i++ {
		if again := Analyze(records, actx); !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d diverged", i)
		}
	}
}
