// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pariosur/retronet-sub001/services/insights/categorizer"
)

const velocityRules = `
name: velocity
default_category: process
categories:
  - name: velocity
    keywords: [completed, shipped, merged]
  - name: process
    keywords: [meeting, standup]
`

const qualityRules = `
name: quality
default_category: other
categories:
  - name: quality
    keywords: [bug, regression]
    patterns: ["flak(y|iness)"]
`

func TestLoadRuleSets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "velocity.yaml", velocityRules)
	writeFile(t, dir, "quality.yml", qualityRules)
	writeFile(t, dir, "README.md", "not a rule set")

	sets, err := LoadRuleSets(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(sets) != 2 {
		t.Fatalf("loaded %d sets, want 2", len(sets))
	}
	// Sorted by name.
	if sets[0].Name() != "quality" || sets[1].Name() != "velocity" {
		t.Errorf("order = %s, %s", sets[0].Name(), sets[1].Name())
	}
}

func TestLoadRuleSets_OmittedWeightsGetDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "quality.yml", qualityRules)

	sets, err := LoadRuleSets(dir)
	if err != nil {
		t.Fatalf("rule set without weights must load: %v", err)
	}
	if got := sets[0].Config().Weights; got != categorizer.DefaultWeights() {
		t.Errorf("weights = %+v, want shipped defaults", got)
	}
}

func TestLoadRuleSets_ExplicitWeightsValidated(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.yaml", `
name: bad
default_category: other
categories:
  - name: x
    keywords: [bug]
weights:
  per_match: 0
  keyword_cap: 0.4
`)
	if _, err := LoadRuleSets(dir); err == nil {
		t.Error("zero per_match weight must fail validation")
	}
}

func TestLoadRuleSets_Failures(t *testing.T) {
	t.Run("bad pattern fails compile", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "bad.yaml", `
name: bad
default_category: other
categories:
  - name: x
    patterns: ["("]
`)
		if _, err := LoadRuleSets(dir); err == nil {
			t.Error("invalid regex must fail the load")
		}
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "typo.yaml", `
name: typo
default_category: other
categoriez:
  - name: x
`)
		if _, err := LoadRuleSets(dir); err == nil {
			t.Error("unknown field must fail the load")
		}
	})

	t.Run("missing dir", func(t *testing.T) {
		if _, err := LoadRuleSets(filepath.Join(t.TempDir(), "nope")); err == nil {
			t.Error("missing directory must error")
		}
	})
}

func TestRuleSetWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "velocity.yaml", velocityRules)

	reloaded := make(chan []*categorizer.RuleSet, 4)
	w, err := NewRuleSetWatcher(dir, 20*time.Millisecond, func(sets []*categorizer.RuleSet) {
		reloaded <- sets
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	// Burst of writes should coalesce into (at least) one reload that
	// sees both files.
	writeFile(t, dir, "quality.yaml", qualityRules)
	writeFile(t, dir, "quality.yaml", qualityRules)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case sets := <-reloaded:
			if len(sets) == 2 {
				return
			}
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}

func TestRuleSetWatcher_BadReloadKeepsRunning(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "velocity.yaml", velocityRules)

	reloaded := make(chan struct{}, 4)
	w, err := NewRuleSetWatcher(dir, 20*time.Millisecond, func([]*categorizer.RuleSet) {
		reloaded <- struct{}{}
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	// Broken file: reload fails, callback never fires.
	writeFile(t, dir, "broken.yaml", "categories: [")
	select {
	case <-reloaded:
		t.Fatal("broken rules must not reach the callback")
	case <-time.After(300 * time.Millisecond):
	}

	// Fixing the file recovers without restarting the watcher.
	if err := os.Remove(filepath.Join(dir, "broken.yaml")); err != nil {
		t.Fatal(err)
	}
	writeFile(t, dir, "quality.yaml", qualityRules)

	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not recover after a bad reload")
	}
}
