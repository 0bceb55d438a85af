// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package progress

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pariosur/retronet-sub001/services/insights/events"
)

// ErrSessionNotFound is returned for unknown or already-reaped sessions.
var ErrSessionNotFound = errors.New("progress session not found")

// StoreConfig tunes session retention.
type StoreConfig struct {
	// GracePeriod is how long a terminal session stays queryable.
	GracePeriod time.Duration

	// ReapInterval is how often the reaper scans. Zero disables the
	// background reaper (Reap can still be called directly).
	ReapInterval time.Duration
}

// DefaultStoreConfig returns the shipped retention tuning.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		GracePeriod:  10 * time.Minute,
		ReapInterval: time.Minute,
	}
}

// Store owns the session table for the process-lifetime Manager.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	cfg    StoreConfig
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewStore creates a session store and starts its reaper when configured.
func NewStore(cfg StoreConfig, logger *slog.Logger) *Store {
	def := DefaultStoreConfig()
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = def.GracePeriod
	}
	if logger == nil {
		logger = slog.Default()
	}
	st := &Store{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "progress_store")),
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if cfg.ReapInterval > 0 {
		go st.reapLoop()
	} else {
		close(st.done)
	}
	return st
}

// Close stops the background reaper. Idempotent.
func (st *Store) Close() {
	st.stopOnce.Do(func() { close(st.stop) })
	<-st.done
}

// Create initializes a session and registers it in the store.
//
// Inputs:
//
//	id - Session id. Empty generates a fresh uuid.
//	specs - The fixed step sequence.
//
// Outputs:
//
//	*Session - The registered session.
//	error - Non-nil when specs is empty or the id is already live.
func (st *Store) Create(id string, specs []StepSpec) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	emitter := events.NewEmitter(id, st.logger)
	session, err := NewSession(id, specs, emitter)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if existing, ok := st.sessions[id]; ok && !existing.IsSessionComplete() {
		return nil, errors.New("progress session already active: " + id)
	}
	st.sessions[id] = session
	return session, nil
}

// Get returns the live session with the given id.
func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	session, ok := st.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Status returns a snapshot for the session, honoring poll cancellation.
func (st *Store) Status(ctx context.Context, id string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	session, err := st.Get(id)
	if err != nil {
		return Snapshot{}, err
	}
	return session.Status(), nil
}

// Reap removes terminal sessions whose grace period has elapsed and
// returns how many were removed.
func (st *Store) Reap() int {
	cutoff := time.Now().Add(-st.cfg.GracePeriod)
	st.mu.Lock()
	defer st.mu.Unlock()

	removed := 0
	for id, session := range st.sessions {
		terminal := session.terminalSince()
		if !terminal.IsZero() && terminal.Before(cutoff) {
			delete(st.sessions, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of retained sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

func (st *Store) reapLoop() {
	defer close(st.done)
	ticker := time.NewTicker(st.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-st.stop:
			return
		case <-ticker.C:
			if removed := st.Reap(); removed > 0 {
				st.logger.Debug("reaped terminal progress sessions",
					slog.Int("removed", removed))
			}
		}
	}
}
