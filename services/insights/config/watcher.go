// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pariosur/retronet-sub001/services/insights/categorizer"
)

// RuleSetWatcher hot-reloads the categorizer rule-set directory.
//
// Description:
//
//	Editors and config-management tools emit bursts of write/rename
//	events per save, so reloads are debounced: the timer resets on each
//	event and fires only after the directory has been quiet for the
//	debounce window. A reload that fails to parse or compile keeps the
//	previously delivered rule sets and logs the failure.
//
// Thread Safety: Safe for concurrent use. Start should only be called once.
type RuleSetWatcher struct {
	dir      string
	debounce time.Duration
	onReload func([]*categorizer.RuleSet)
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// NewRuleSetWatcher creates a watcher for the rule-set directory.
//
// Inputs:
//
//	dir - Directory holding *.yaml rule sets.
//	debounce - Quiet window before a reload fires. Zero uses 500ms.
//	onReload - Called with the freshly compiled rule sets after each
//	           successful reload. Must not be nil.
//	logger - Structured logger. Nil uses slog.Default().
//
// Outputs:
//
//	*RuleSetWatcher - Ready-to-start watcher.
//	error - Non-nil if the fsnotify watcher cannot be created or the
//	        directory cannot be watched.
func NewRuleSetWatcher(dir string, debounce time.Duration, onReload func([]*categorizer.RuleSet), logger *slog.Logger) (*RuleSetWatcher, error) {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	return &RuleSetWatcher{
		dir:      dir,
		debounce: debounce,
		onReload: onReload,
		watcher:  watcher,
		logger:   logger.With(slog.String("component", "ruleset_watcher")),
	}, nil
}

// Start consumes file events until the context is cancelled. Blocks;
// run it in a goroutine.
func (w *RuleSetWatcher) Start(ctx context.Context) {
	w.logger.Debug("watching rule-set directory", slog.String("dir", w.dir))

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("rule-set watcher error", slog.Any("error", err))

		case <-ctx.Done():
			w.logger.Debug("rule-set watcher stopping")
			w.cancelPending()
			return
		}
	}
}

func (w *RuleSetWatcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}
	if !isYAML(event.Name) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *RuleSetWatcher) reload() {
	sets, err := LoadRuleSets(w.dir)
	if err != nil {
		w.logger.Warn("rule-set reload failed, keeping previous rules",
			slog.Any("error", err))
		return
	}

	w.logger.Info("rule sets reloaded", slog.Int("count", len(sets)))
	w.onReload(sets)
}

func (w *RuleSetWatcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

// Stop stops the watcher. Safe to call multiple times.
func (w *RuleSetWatcher) Stop() error {
	w.cancelPending()
	return w.watcher.Close()
}
