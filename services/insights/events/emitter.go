// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package events delivers ordered progress notifications for one pipeline
// session.
//
// Each Emitter is scoped to a single session instance; there is no
// process-wide bus. Subscribers register handler callbacks and receive
// every matching event in emission order. Handler panics are recovered so
// one failing subscriber cannot take down the pipeline.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies an event kind.
type Type string

const (
	// TypeStepStarted fires when a step enters in_progress.
	TypeStepStarted Type = "step_started"

	// TypeStepProgress fires on fractional progress updates.
	TypeStepProgress Type = "step_progress"

	// TypeStepCompleted fires when a step completes.
	TypeStepCompleted Type = "step_completed"

	// TypeStepFailed fires when a step fails.
	TypeStepFailed Type = "step_failed"

	// TypeDegradation fires when a step completes with reduced scope.
	TypeDegradation Type = "degradation"

	// TypeSessionCompleted fires once when the session reaches its
	// terminal completed state.
	TypeSessionCompleted Type = "session_completed"

	// TypeSessionFailed fires once on a whole-pipeline fatal failure.
	TypeSessionFailed Type = "session_failed"
)

// Event is one ordered notification.
type Event struct {
	// ID uniquely identifies the event.
	ID string `json:"id"`

	// Seq is the emission sequence number within the session, starting
	// at 1. Subscribers can rely on Seq to detect ordering.
	Seq int64 `json:"seq"`

	Type      Type      `json:"type"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`

	// StepIndex is the step the event refers to (-1 for session-level).
	StepIndex int `json:"step_index"`

	// Message is a human-readable summary.
	Message string `json:"message,omitempty"`

	// Data carries event-specific payload (fraction, error, impact...).
	Data map[string]any `json:"data,omitempty"`
}

// Handler processes one event. Handlers run synchronously on the
// emitting goroutine; keep them short.
type Handler func(event Event)

type subscription struct {
	id      string
	handler Handler
	types   map[Type]struct{} // nil = all types
}

// Emitter broadcasts session events to subscribers in emission order.
//
// Thread Safety: Safe for concurrent use.
type Emitter struct {
	mu        sync.Mutex
	sessionID string
	subs      map[string]*subscription
	seq       int64
	logger    *slog.Logger
}

// NewEmitter creates an emitter scoped to one session.
func NewEmitter(sessionID string, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		sessionID: sessionID,
		subs:      make(map[string]*subscription),
		logger:    logger.With(slog.String("component", "events"), slog.String("session_id", sessionID)),
	}
}

// Subscribe registers a handler for the given event types (none = all).
//
// Outputs:
//
//	string - Subscription ID for Unsubscribe.
func (e *Emitter) Subscribe(handler Handler, types ...Type) string {
	sub := &subscription{id: uuid.NewString(), handler: handler}
	if len(types) > 0 {
		sub.types = make(map[Type]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}

	e.mu.Lock()
	e.subs[sub.id] = sub
	e.mu.Unlock()
	return sub.id
}

// Unsubscribe removes a subscription. Returns false for unknown ids.
func (e *Emitter) Unsubscribe(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.subs[id]; !ok {
		return false
	}
	delete(e.subs, id)
	return true
}

// Emit broadcasts an event to every matching subscriber.
//
// Description:
//
//	Assigns the event its sequence number, ID, session ID, and timestamp,
//	then invokes matching handlers synchronously in subscription order.
//	The lock is held for the whole broadcast so concurrent Emit calls
//	cannot interleave their handler invocations: subscribers observe a
//	strict total order. A panicking handler is recovered and logged.
func (e *Emitter) Emit(eventType Type, stepIndex int, message string, data map[string]any) Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.seq++
	event := Event{
		ID:        uuid.NewString(),
		Seq:       e.seq,
		Type:      eventType,
		SessionID: e.sessionID,
		Timestamp: time.Now(),
		StepIndex: stepIndex,
		Message:   message,
		Data:      data,
	}

	for _, sub := range e.subs {
		if sub.types != nil {
			if _, ok := sub.types[eventType]; !ok {
				continue
			}
		}
		e.invoke(sub, event)
	}
	return event
}

func (e *Emitter) invoke(sub *subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event handler panicked",
				slog.String("subscription_id", sub.id),
				slog.String("event_type", string(event.Type)),
				slog.Any("panic", r))
		}
	}()
	sub.handler(event)
}

// =============================================================================
// Test Support
// =============================================================================

// Recorder collects emitted events for assertions in tests.
//
// Thread Safety: Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty event recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Handler returns a Handler that appends every event to the recorder.
func (r *Recorder) Handler() Handler {
	return func(event Event) {
		r.mu.Lock()
		r.events = append(r.events, event)
		r.mu.Unlock()
	}
}

// Events returns a copy of the recorded events in arrival order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns just the recorded event types, in order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}
