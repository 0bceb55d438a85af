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
	"strings"
)

// ClassifyContext tells the classifier where a raw error surfaced.
type ClassifyContext struct {
	// Source is the origin collector name, when the failure came from
	// source collection ("github", "slack"...).
	Source string

	// Provider is the model provider name, when the failure came from
	// the generative path.
	Provider string

	// Operation is a short label of what was being attempted.
	Operation string
}

// Classify converts a raw error into a typed error.
//
// Description:
//
//	Pattern-matches the raw error's message and context against the
//	closed taxonomy. An error that is already an *InsightError is
//	returned unchanged: classification happens once, at the boundary.
//	Failures on the generative path are delegated to the provider
//	sub-classifier and wrapped without re-categorizing.
//
// Inputs:
//
//	err - The raw error. Nil returns nil.
//	cctx - Where the error surfaced. The zero value is allowed.
//
// Outputs:
//
//	*InsightError - The typed error, never nil for non-nil input.
func Classify(err error, cctx ClassifyContext) *InsightError {
	if err == nil {
		return nil
	}
	var typed *InsightError
	if errors.As(err, &typed) {
		return typed
	}

	if cctx.Provider != "" {
		sub := classifyProviderError(err, cctx.Provider)
		return newError(TypeGenerativeModel, "GEN_"+strings.ToUpper(cctx.Provider),
			fmt.Sprintf("%s analysis failed", cctx.Provider), sub.Recoverable, sub,
			map[string]any{"provider": cctx.Provider, "operation": cctx.Operation})
	}

	msg := strings.ToLower(err.Error())
	details := map[string]any{}
	if cctx.Source != "" {
		details["source"] = cctx.Source
	}
	if cctx.Operation != "" {
		details["operation"] = cctx.Operation
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded) || containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return newError(TypeTimeout, "TIMEOUT",
			"the operation took too long and was aborted", true, err, details)

	case containsAny(msg, "connection refused", "no such host", "network", "dns", "tls", "broken pipe", "connection reset"):
		return newError(TypeNetwork, "NETWORK",
			"a network problem interrupted the operation", true, err, details)

	case containsAny(msg, "invalid date range", "start after end", "date range"):
		return newError(TypeInvalidDateRange, "BAD_DATE_RANGE",
			"the requested date range is invalid", false, err, details)

	case containsAny(msg, "no data", "no records", "empty result", "nothing to analyze"):
		return newError(TypeNoDataFound, "NO_DATA",
			"no activity was found in the requested period", false, err, details)

	case cctx.Source != "":
		return newError(TypeSourceUnavailable, "SOURCE_"+strings.ToUpper(cctx.Source),
			fmt.Sprintf("the %s source is unavailable", cctx.Source), true, err, details)

	case containsAny(msg, "unavailable", "service down", "not reachable", "502", "503"):
		return newError(TypeSourceUnavailable, "SOURCE_UNKNOWN",
			"a data source is unavailable", true, err, details)
	}

	return newError(TypeInternal, "INTERNAL",
		"an unexpected internal error occurred", false, err, details)
}

// classifyProviderError is the model-specific sub-classifier. Its result
// is wrapped (not replaced) by the generative_model_error the caller sees.
func classifyProviderError(err error, provider string) *InsightError {
	msg := strings.ToLower(err.Error())
	details := map[string]any{"provider": provider}

	switch {
	case containsAny(msg, "401", "403", "unauthorized", "invalid api key", "authentication", "forbidden"):
		return newError(TypeGenerativeModel, "GEN_AUTH",
			"the provider rejected the configured credentials", false, err, details)

	case containsAny(msg, "429", "rate limit", "quota", "too many requests", "billing"):
		return newError(TypeGenerativeModel, "GEN_QUOTA",
			"the provider rate limit or quota was exhausted", true, err, details)

	case containsAny(msg, "safety", "content policy", "refused", "filtered"):
		return newError(TypeGenerativeModel, "GEN_SAFETY",
			"the provider declined to analyze this content", false, err, details)

	case containsAny(msg, "overloaded", "529", "capacity", "500", "502", "503"):
		return newError(TypeGenerativeModel, "GEN_OVERLOADED",
			"the provider is temporarily overloaded", true, err, details)

	case errors.Is(err, context.DeadlineExceeded) || containsAny(msg, "timeout", "deadline"):
		return newError(TypeGenerativeModel, "GEN_TIMEOUT",
			"the provider call timed out", true, err, details)
	}

	return newError(TypeGenerativeModel, "GEN_UNKNOWN",
		"the provider call failed", true, err, details)
}

// =============================================================================
// Source Failure Handling
// =============================================================================

// DegradationInfo describes a degraded-but-usable collection outcome.
type DegradationInfo struct {
	WorkingSources []string `json:"working_sources"`
	FailedSources  []string `json:"failed_sources"`
	Impact         string   `json:"impact"`
}

// SourceFailureDecision is the degrade-vs-fail verdict for a collection
// round.
type SourceFailureDecision struct {
	// CanContinue is false only when every source failed.
	CanContinue bool

	// FatalError is set when CanContinue is false.
	FatalError *InsightError

	// Degradation is set when the pipeline continues with fewer sources.
	// Nil when nothing failed.
	Degradation *DegradationInfo
}

// HandleSourceFailures decides whether collection failures are fatal.
//
// Description:
//
//	The pipeline degrades rather than fails: losing some sources yields a
//	usable result with explicit bookkeeping of what was lost. Only total
//	source loss is fatal.
//
// Inputs:
//
//	failures - Raw error per failed source name. May be empty.
//	available - Every configured source name.
//
// Outputs:
//
//	SourceFailureDecision - CanContinue == false iff every available
//	source appears in failures.
func HandleSourceFailures(failures map[string]error, available []string) SourceFailureDecision {
	if len(failures) == 0 {
		return SourceFailureDecision{CanContinue: true}
	}

	var working, failed []string
	for _, src := range available {
		if _, ok := failures[src]; ok {
			failed = append(failed, src)
		} else {
			working = append(working, src)
		}
	}

	if len(failed) == len(available) {
		details := map[string]any{"failed_sources": failed}
		return SourceFailureDecision{
			CanContinue: false,
			FatalError: newError(TypeAllSourcesFailed, "ALL_SOURCES_FAILED",
				"every configured data source failed", false, nil, details),
		}
	}

	return SourceFailureDecision{
		CanContinue: true,
		Degradation: &DegradationInfo{
			WorkingSources: working,
			FailedSources:  failed,
			Impact: fmt.Sprintf("insights are based on %d of %d sources",
				len(working), len(available)),
		},
	}
}

// =============================================================================
// User-Facing Form
// =============================================================================

// UserFacing derives the remediation-oriented error shown at the boundary.
func UserFacing(e *InsightError) UserFacingError {
	if e == nil {
		return UserFacingError{}
	}
	switch e.Type {
	case TypeSourceUnavailable:
		return UserFacingError{
			Title: "A data source is unavailable",
			Actions: []string{
				"Check the source's credentials in settings",
				"Verify the source service is up",
				"Retry in a few minutes",
			},
			FallbackDescription: "Insights will be generated from the remaining sources.",
			Impact:              "Some activity will be missing from the analysis.",
		}
	case TypeTimeout:
		return UserFacingError{
			Title: "The operation timed out",
			Actions: []string{
				"Narrow the date range",
				"Retry the analysis",
			},
			FallbackDescription: "A shorter period usually completes in time.",
		}
	case TypeNetwork:
		return UserFacingError{
			Title: "Network problem",
			Actions: []string{
				"Check your connection",
				"Retry the analysis",
			},
		}
	case TypeInvalidDateRange:
		return UserFacingError{
			Title: "Invalid date range",
			Actions: []string{
				"Make sure the start date is before the end date",
				"Pick a period that is not in the future",
			},
		}
	case TypeNoDataFound:
		return UserFacingError{
			Title: "No activity found",
			Actions: []string{
				"Widen the date range",
				"Check that the team members are correct",
			},
			Impact: "There is nothing to analyze for this period.",
		}
	case TypeAllSourcesFailed:
		return UserFacingError{
			Title: "All data sources failed",
			Actions: []string{
				"Check credentials for every configured source",
				"Verify your network connection",
				"Retry once at least one source is reachable",
			},
			Impact: "No insights can be generated until a source succeeds.",
		}
	case TypeGenerativeModel:
		return UserFacingError{
			Title: "AI analysis unavailable",
			Actions: []string{
				"Check the provider API key",
				"Verify provider quota and billing",
				"Retry, or continue with rule-based insights only",
			},
			FallbackDescription: "Rule-based insights are still generated.",
			Impact:              "Insights will be less nuanced without the AI analysis.",
		}
	}
	return UserFacingError{
		Title: "Something went wrong",
		Actions: []string{
			"Retry the analysis",
			"Check the logs for details",
		},
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
