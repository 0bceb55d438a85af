// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package errclass converts raw pipeline failures into a closed taxonomy
// of typed errors with retry policies and user-facing remediation.
//
// A TypedError is created once at the failure boundary and never mutated
// afterward. Provider-specific failures are first classified by a model
// sub-classifier and then wrapped without re-categorizing.
package errclass

import (
	"fmt"
	"time"
)

// ErrorType is one label in the closed failure taxonomy.
type ErrorType string

const (
	TypeSourceUnavailable ErrorType = "source_unavailable"
	TypeTimeout           ErrorType = "timeout"
	TypeNetwork           ErrorType = "network"
	TypeInvalidDateRange  ErrorType = "invalid_date_range"
	TypeNoDataFound       ErrorType = "no_data_found"
	TypeAllSourcesFailed  ErrorType = "all_sources_failed"
	TypeGenerativeModel   ErrorType = "generative_model_error"
	TypeInternal          ErrorType = "internal"
)

// Backoff is the retry delay growth strategy.
type Backoff string

const (
	BackoffFixed       Backoff = "fixed"
	BackoffExponential Backoff = "exponential"
)

// RetryPolicy is the default retry behavior for an error type.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts"`
	Delay       time.Duration `json:"delay_ms"`
	Backoff     Backoff       `json:"backoff"`
}

// InsightError is the pipeline's typed error. Created once at a failure
// boundary; treat as immutable afterward.
type InsightError struct {
	Type        ErrorType      `json:"type"`
	Code        string         `json:"code"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	Recoverable bool           `json:"recoverable"`
	Timestamp   time.Time      `json:"timestamp"`

	// Cause is the wrapped upstream error, which may itself be an
	// InsightError (provider sub-classification is preserved, not
	// re-categorized).
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *InsightError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Type, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Type, e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *InsightError) Unwrap() error { return e.Cause }

// RetryInfo returns the default retry policy for the error's type, or
// false when the type should not be retried.
func (e *InsightError) RetryInfo() (RetryPolicy, bool) {
	p, ok := retryPolicies[e.Type]
	return p, ok && e.Recoverable
}

// retryPolicies maps each retryable type to its default policy.
// Non-recoverable types (invalid_date_range, no_data_found,
// all_sources_failed, internal) have no entry.
var retryPolicies = map[ErrorType]RetryPolicy{
	TypeSourceUnavailable: {MaxAttempts: 3, Delay: 2 * time.Second, Backoff: BackoffExponential},
	TypeTimeout:           {MaxAttempts: 2, Delay: 5 * time.Second, Backoff: BackoffFixed},
	TypeNetwork:           {MaxAttempts: 3, Delay: time.Second, Backoff: BackoffExponential},
	TypeGenerativeModel:   {MaxAttempts: 2, Delay: 3 * time.Second, Backoff: BackoffExponential},
}

// UserFacingError is the remediation-oriented form shown to users.
type UserFacingError struct {
	Title               string   `json:"title"`
	Actions             []string `json:"actions"`
	FallbackDescription string   `json:"fallback_description,omitempty"`
	Impact              string   `json:"impact,omitempty"`
}

// newError stamps a typed error. All construction funnels through here so
// the timestamp and immutability contract hold everywhere.
func newError(t ErrorType, code, message string, recoverable bool, cause error, details map[string]any) *InsightError {
	return &InsightError{
		Type:        t,
		Code:        code,
		Message:     message,
		Details:     details,
		Recoverable: recoverable,
		Timestamp:   time.Now(),
		Cause:       cause,
	}
}
