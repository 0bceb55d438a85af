// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package errclass

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestClassify_Taxonomy(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		cctx        ClassifyContext
		wantType    ErrorType
		recoverable bool
	}{
		{
			name:        "deadline exceeded",
			err:         context.DeadlineExceeded,
			wantType:    TypeTimeout,
			recoverable: true,
		},
		{
			name:        "connection refused",
			err:         errors.New("dial tcp 10.0.0.1:443: connection refused"),
			wantType:    TypeNetwork,
			recoverable: true,
		},
		{
			name:     "invalid date range",
			err:      errors.New("invalid date range: start after end"),
			wantType: TypeInvalidDateRange,
		},
		{
			name:     "no data",
			err:      errors.New("no records in period"),
			wantType: TypeNoDataFound,
		},
		{
			name:        "source context tags origin",
			err:         errors.New("GET /issues returned 500"),
			cctx:        ClassifyContext{Source: "github"},
			wantType:    TypeSourceUnavailable,
			recoverable: true,
		},
		{
			name:     "unknown is internal",
			err:      errors.New("slice index out of range"),
			wantType: TypeInternal,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			typed := Classify(tc.err, tc.cctx)
			if typed.Type != tc.wantType {
				t.Errorf("type = %s, want %s", typed.Type, tc.wantType)
			}
			if typed.Recoverable != tc.recoverable {
				t.Errorf("recoverable = %v, want %v", typed.Recoverable, tc.recoverable)
			}
			if typed.Timestamp.IsZero() {
				t.Error("timestamp not stamped")
			}
			if !errors.Is(typed, tc.err) {
				t.Error("typed error must wrap the raw error")
			}
		})
	}
}

func TestClassify_NilAndAlreadyTyped(t *testing.T) {
	if Classify(nil, ClassifyContext{}) != nil {
		t.Error("nil input must classify to nil")
	}

	original := Classify(errors.New("quota exceeded 429"), ClassifyContext{Provider: "openai"})
	again := Classify(fmt.Errorf("wrapped: %w", original), ClassifyContext{Source: "github"})
	if again != original {
		t.Error("already-typed errors must not be re-categorized")
	}
}

func TestClassify_ProviderSubClassifier(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		wantCode    string
		recoverable bool
	}{
		{"auth", errors.New("401 unauthorized: invalid api key"), "GEN_AUTH", false},
		{"quota", errors.New("429 too many requests"), "GEN_QUOTA", true},
		{"safety", errors.New("response blocked by content policy"), "GEN_SAFETY", false},
		{"overloaded", errors.New("overloaded_error: 529"), "GEN_OVERLOADED", true},
		{"unknown", errors.New("mysterious provider hiccup"), "GEN_UNKNOWN", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			typed := Classify(tc.err, ClassifyContext{Provider: "anthropic"})
			if typed.Type != TypeGenerativeModel {
				t.Fatalf("type = %s, want generative_model_error", typed.Type)
			}
			var sub *InsightError
			if !errors.As(typed.Cause, &sub) {
				t.Fatal("expected a typed sub-classification as cause")
			}
			if sub.Code != tc.wantCode {
				t.Errorf("sub code = %s, want %s", sub.Code, tc.wantCode)
			}
			if typed.Recoverable != tc.recoverable {
				t.Errorf("recoverable = %v, want %v", typed.Recoverable, tc.recoverable)
			}
		})
	}
}

func TestHandleSourceFailures(t *testing.T) {
	available := []string{"github", "slack", "linear"}

	t.Run("no failures", func(t *testing.T) {
		d := HandleSourceFailures(nil, available)
		if !d.CanContinue || d.Degradation != nil || d.FatalError != nil {
			t.Errorf("unexpected decision: %+v", d)
		}
	})

	t.Run("partial failure degrades", func(t *testing.T) {
		d := HandleSourceFailures(map[string]error{"slack": errors.New("boom")}, available)
		if !d.CanContinue {
			t.Fatal("partial failure must continue")
		}
		if d.Degradation == nil {
			t.Fatal("expected degradation info")
		}
		if len(d.Degradation.WorkingSources) != 2 || len(d.Degradation.FailedSources) != 1 {
			t.Errorf("bookkeeping wrong: %+v", d.Degradation)
		}
	})

	t.Run("total failure is fatal", func(t *testing.T) {
		failures := map[string]error{
			"github": errors.New("a"), "slack": errors.New("b"), "linear": errors.New("c"),
		}
		d := HandleSourceFailures(failures, available)
		if d.CanContinue {
			t.Fatal("total failure must be fatal")
		}
		if d.FatalError == nil || d.FatalError.Type != TypeAllSourcesFailed {
			t.Errorf("expected all_sources_failed, got %+v", d.FatalError)
		}
		if d.FatalError.Recoverable {
			t.Error("total source loss is not recoverable")
		}
	})

	t.Run("single source failing is total", func(t *testing.T) {
		d := HandleSourceFailures(map[string]error{"github": errors.New("x")}, []string{"github"})
		if d.CanContinue {
			t.Error("only source failing must be fatal")
		}
	})
}

func TestRetryInfo(t *testing.T) {
	recoverable := Classify(errors.New("connection reset by peer"), ClassifyContext{})
	policy, ok := recoverable.RetryInfo()
	if !ok {
		t.Fatal("network errors should carry a retry policy")
	}
	if policy.MaxAttempts < 1 || policy.Delay <= 0 {
		t.Errorf("implausible policy: %+v", policy)
	}

	fatal := Classify(errors.New("invalid date range"), ClassifyContext{})
	if _, ok := fatal.RetryInfo(); ok {
		t.Error("non-recoverable errors must not advertise retries")
	}
}

func TestUserFacing(t *testing.T) {
	for _, ty := range []ErrorType{
		TypeSourceUnavailable, TypeTimeout, TypeNetwork, TypeInvalidDateRange,
		TypeNoDataFound, TypeAllSourcesFailed, TypeGenerativeModel, TypeInternal,
	} {
		uf := UserFacing(&InsightError{Type: ty})
		if uf.Title == "" {
			t.Errorf("%s: missing title", ty)
		}
		if len(uf.Actions) == 0 {
			t.Errorf("%s: missing remediation actions", ty)
		}
	}
}

func TestRetry(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(),
			RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond, Backoff: BackoffFixed},
			func(context.Context) error {
				calls++
				if calls < 3 {
					return errors.New("transient")
				}
				return nil
			})
		if err != nil {
			t.Fatalf("expected success, got %v", err)
		}
		if calls != 3 {
			t.Errorf("expected 3 attempts, got %d", calls)
		}
	})

	t.Run("returns last error when exhausted", func(t *testing.T) {
		want := errors.New("still broken")
		err := Retry(context.Background(),
			RetryPolicy{MaxAttempts: 2, Delay: time.Millisecond},
			func(context.Context) error { return want })
		if !errors.Is(err, want) {
			t.Errorf("expected final error, got %v", err)
		}
	})

	t.Run("cancellation aborts the backoff sleep", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		err := Retry(ctx,
			RetryPolicy{MaxAttempts: 5, Delay: time.Minute},
			func(context.Context) error {
				calls++
				return errors.New("fail")
			})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if calls != 1 {
			t.Errorf("expected 1 attempt before cancellation, got %d", calls)
		}
	})
}
