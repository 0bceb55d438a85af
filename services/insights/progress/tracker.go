// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package progress tracks per-session pipeline progress as a step state
// machine with ETA estimation.
//
// Each session owns a fixed, ordered step sequence set at initialization.
// The session is single-writer (the one pipeline invocation driving it)
// and multi-reader (status polling), guarded by an RWMutex. Every state
// transition emits an ordered notification through the session's emitter.
package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/pariosur/retronet-sub001/services/insights/events"
)

// StepStatus is the state of one step.
type StepStatus string

const (
	StatusPending    StepStatus = "pending"
	StatusInProgress StepStatus = "in_progress"
	StatusCompleted  StepStatus = "completed"
	StatusFailed     StepStatus = "failed"
)

// Step is one unit of pipeline work. The step sequence is fixed at
// session initialization and never reordered.
type Step struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Status      StepStatus `json:"status"`

	StartedAt time.Time `json:"started_at,omitzero"`
	EndedAt   time.Time `json:"ended_at,omitzero"`

	// EstimatedDuration is the declared duration used for ETA until an
	// observed duration exists.
	EstimatedDuration time.Duration `json:"estimated_duration"`

	// Fraction is progress within the step, in [0,1]. Monotonically
	// non-decreasing while the step is in progress.
	Fraction float64 `json:"fraction"`

	// Message is the latest progress message.
	Message string `json:"message,omitempty"`

	// Error holds the failure message for failed steps.
	Error string `json:"error,omitempty"`
}

// StepSpec declares one step at initialization time.
type StepSpec struct {
	Name              string
	Description       string
	EstimatedDuration time.Duration
}

// Session is the progress state machine for one pipeline invocation.
//
// Thread Safety: Single-writer, multi-reader. All exported methods are
// safe for concurrent use.
type Session struct {
	mu      sync.RWMutex
	id      string
	steps   []Step
	emitter *events.Emitter

	createdAt   time.Time
	terminalAt  time.Time
	currentStep int
	sessionErr  error
	maxPercent  float64
}

// NewSession initializes a session with its fixed step sequence.
//
// Inputs:
//
//	id - The session identifier.
//	specs - The ordered steps. Must not be empty.
//	emitter - Session-scoped notification emitter. Must not be nil.
//
// Outputs:
//
//	*Session - The initialized session, all steps pending.
//	error - Non-nil when specs is empty.
func NewSession(id string, specs []StepSpec, emitter *events.Emitter) (*Session, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("session %s: no steps declared", id)
	}
	steps := make([]Step, len(specs))
	for i, spec := range specs {
		steps[i] = Step{
			Name:              spec.Name,
			Description:       spec.Description,
			Status:            StatusPending,
			EstimatedDuration: spec.EstimatedDuration,
		}
	}
	return &Session{
		id:          id,
		steps:       steps,
		emitter:     emitter,
		createdAt:   time.Now(),
		currentStep: -1,
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Emitter returns the session's notification emitter, for subscribing.
func (s *Session) Emitter() *events.Emitter { return s.emitter }

// StartStep transitions step i from pending to in_progress.
func (s *Session) StartStep(i int) error {
	s.mu.Lock()
	if err := s.checkIndex(i); err != nil {
		s.mu.Unlock()
		return err
	}
	step := &s.steps[i]
	if step.Status != StatusPending {
		s.mu.Unlock()
		return fmt.Errorf("step %d (%s) is %s, not pending", i, step.Name, step.Status)
	}
	step.Status = StatusInProgress
	step.StartedAt = time.Now()
	s.currentStep = i
	name := step.Name
	s.mu.Unlock()

	s.emitter.Emit(events.TypeStepStarted, i, name, nil)
	return nil
}

// UpdateStepProgress records fractional progress for an in-progress step.
// The fraction is clamped to [0,1]; regressions are ignored so the
// session percentage stays monotonic.
func (s *Session) UpdateStepProgress(i int, fraction float64, message string) error {
	s.mu.Lock()
	if err := s.checkIndex(i); err != nil {
		s.mu.Unlock()
		return err
	}
	step := &s.steps[i]
	if step.Status != StatusInProgress {
		s.mu.Unlock()
		return fmt.Errorf("step %d (%s) is %s, not in progress", i, step.Name, step.Status)
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	if fraction > step.Fraction {
		step.Fraction = fraction
	}
	if message != "" {
		step.Message = message
	}
	fraction = step.Fraction
	s.mu.Unlock()

	s.emitter.Emit(events.TypeStepProgress, i, message, map[string]any{"fraction": fraction})
	return nil
}

// CompleteStep transitions step i to completed.
func (s *Session) CompleteStep(i int, message string) error {
	s.mu.Lock()
	if err := s.checkIndex(i); err != nil {
		s.mu.Unlock()
		return err
	}
	step := &s.steps[i]
	if step.Status == StatusCompleted || step.Status == StatusFailed {
		s.mu.Unlock()
		return fmt.Errorf("step %d (%s) already %s", i, step.Name, step.Status)
	}
	step.Status = StatusCompleted
	step.Fraction = 1
	step.EndedAt = time.Now()
	if step.StartedAt.IsZero() {
		step.StartedAt = step.EndedAt
	}
	if message != "" {
		step.Message = message
	}
	s.markTerminalLocked()
	s.mu.Unlock()

	s.emitter.Emit(events.TypeStepCompleted, i, message, nil)
	return nil
}

// FailStep transitions step i to failed. A failed step does not fail the
// session: only an explicit Fail sets the session error.
func (s *Session) FailStep(i int, stepErr error) error {
	s.mu.Lock()
	if err := s.checkIndex(i); err != nil {
		s.mu.Unlock()
		return err
	}
	step := &s.steps[i]
	if step.Status == StatusCompleted || step.Status == StatusFailed {
		s.mu.Unlock()
		return fmt.Errorf("step %d (%s) already %s", i, step.Name, step.Status)
	}
	step.Status = StatusFailed
	step.EndedAt = time.Now()
	if step.StartedAt.IsZero() {
		step.StartedAt = step.EndedAt
	}
	msg := ""
	if stepErr != nil {
		msg = stepErr.Error()
	}
	step.Error = msg
	s.markTerminalLocked()
	s.mu.Unlock()

	s.emitter.Emit(events.TypeStepFailed, i, msg, nil)
	return nil
}

// RecordDegradation emits a degradation notification: the pipeline
// continued, but with reduced scope.
func (s *Session) RecordDegradation(scope, impact string) {
	s.emitter.Emit(events.TypeDegradation, s.CurrentStepIndex(), scope,
		map[string]any{"scope": scope, "impact": impact})
}

// Fail marks the whole session fatally failed. Any in-flight or pending
// steps are marked failed.
func (s *Session) Fail(sessionErr error) {
	s.mu.Lock()
	s.sessionErr = sessionErr
	now := time.Now()
	for i := range s.steps {
		step := &s.steps[i]
		if step.Status == StatusPending || step.Status == StatusInProgress {
			step.Status = StatusFailed
			step.EndedAt = now
			if step.StartedAt.IsZero() {
				step.StartedAt = now
			}
		}
	}
	s.markTerminalLocked()
	s.mu.Unlock()

	msg := ""
	if sessionErr != nil {
		msg = sessionErr.Error()
	}
	s.emitter.Emit(events.TypeSessionFailed, -1, msg, nil)
}

// Complete emits the session-completed notification. It is a no-op
// error when steps are still pending or in flight.
func (s *Session) Complete() error {
	s.mu.Lock()
	if !s.isCompleteLocked() {
		s.mu.Unlock()
		return fmt.Errorf("session %s has unfinished steps", s.id)
	}
	s.mu.Unlock()

	s.emitter.Emit(events.TypeSessionCompleted, -1, "", nil)
	return nil
}

// IsSessionComplete reports whether every step reached a terminal state.
func (s *Session) IsSessionComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isCompleteLocked()
}

// Err returns the session-level error set by Fail, or nil.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionErr
}

// CurrentStepIndex returns the most recently started step index, or -1.
func (s *Session) CurrentStepIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentStep
}

func (s *Session) checkIndex(i int) error {
	if i < 0 || i >= len(s.steps) {
		return fmt.Errorf("step index %d out of range [0,%d)", i, len(s.steps))
	}
	return nil
}

func (s *Session) isCompleteLocked() bool {
	for _, step := range s.steps {
		if step.Status != StatusCompleted && step.Status != StatusFailed {
			return false
		}
	}
	return true
}

func (s *Session) markTerminalLocked() {
	if s.terminalAt.IsZero() && s.isCompleteLocked() {
		s.terminalAt = time.Now()
	}
}

// terminalSince returns when the session reached its terminal state,
// or zero when still active.
func (s *Session) terminalSince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.terminalAt
}

// =============================================================================
// Status Snapshots
// =============================================================================

// ProgressInfo is the numeric progress summary.
type ProgressInfo struct {
	Percentage       float64       `json:"percentage"`
	CompletedSteps   int           `json:"completed_steps"`
	TotalSteps       int           `json:"total_steps"`
	FailedSteps      int           `json:"failed_steps"`
	CurrentStepIndex int           `json:"current_step_index"`
	Elapsed          time.Duration `json:"elapsed_ms"`
	ETA              time.Duration `json:"eta_ms"`
}

// Snapshot is a point-in-time view of a session for status polling.
type Snapshot struct {
	SessionID   string       `json:"session_id"`
	Completed   bool         `json:"completed"`
	Error       string       `json:"error,omitempty"`
	Progress    ProgressInfo `json:"progress"`
	CurrentStep *Step        `json:"current_step,omitempty"`
	Steps       []Step       `json:"steps"`
}

// Status returns a consistent snapshot of the session.
//
// Description:
//
//	Percentage counts terminal steps plus the in-flight step's fraction,
//	each scaled by 1/totalSteps, and never decreases within a session
//	(a max guard absorbs clock jitter). ETA sums the declared-or-observed
//	average duration of the remaining pending steps plus the in-flight
//	step's shortfall, extrapolated from its elapsed time and measured
//	fraction.
//
// Thread Safety: Safe to call concurrently with writer operations.
func (s *Session) Status() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	total := len(s.steps)
	completed, failed, terminal := 0, 0, 0
	var observedSum time.Duration
	observedN := 0
	for _, step := range s.steps {
		switch step.Status {
		case StatusCompleted:
			completed++
			terminal++
			observedSum += step.EndedAt.Sub(step.StartedAt)
			observedN++
		case StatusFailed:
			failed++
			terminal++
		}
	}

	pct := float64(terminal) / float64(total)
	var current *Step
	var eta time.Duration
	if s.currentStep >= 0 && s.currentStep < total {
		step := s.steps[s.currentStep]
		current = &step
		if step.Status == StatusInProgress {
			pct += step.Fraction / float64(total)
			eta += inFlightShortfall(step, now)
		}
	}

	// Remaining pending steps cost the observed average duration when we
	// have one, otherwise their declared estimate.
	var avg time.Duration
	if observedN > 0 {
		avg = observedSum / time.Duration(observedN)
	}
	for _, step := range s.steps {
		if step.Status != StatusPending {
			continue
		}
		if avg > 0 {
			eta += avg
		} else {
			eta += step.EstimatedDuration
		}
	}

	if pct > 1 {
		pct = 1
	}
	if pct < s.maxPercent {
		pct = s.maxPercent
	} else {
		s.maxPercent = pct
	}

	snap := Snapshot{
		SessionID: s.id,
		Completed: s.isCompleteLocked(),
		Progress: ProgressInfo{
			Percentage:       pct,
			CompletedSteps:   completed,
			TotalSteps:       total,
			FailedSteps:      failed,
			CurrentStepIndex: s.currentStep,
			Elapsed:          now.Sub(s.createdAt),
			ETA:              eta,
		},
		CurrentStep: current,
		Steps:       append([]Step(nil), s.steps...),
	}
	if s.sessionErr != nil {
		snap.Error = s.sessionErr.Error()
	}
	return snap
}

// inFlightShortfall extrapolates the remaining time of an in-progress
// step from its elapsed time and measured fraction. With no measured
// fraction yet, the declared estimate minus elapsed is used.
func inFlightShortfall(step Step, now time.Time) time.Duration {
	elapsed := now.Sub(step.StartedAt)
	if step.Fraction > 0 {
		projected := time.Duration(float64(elapsed) / step.Fraction)
		if projected > elapsed {
			return projected - elapsed
		}
		return 0
	}
	if step.EstimatedDuration > elapsed {
		return step.EstimatedDuration - elapsed
	}
	return 0
}
