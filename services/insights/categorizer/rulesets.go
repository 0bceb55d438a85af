// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package categorizer

// Shipped rule sets. Both can be overridden at runtime through the config
// package's hot-reload watcher; these are the defaults compiled at init.

// RetroCategories are the taxonomy labels for retrospective insights.
var RetroCategories = []string{"technical", "process", "teamDynamics", "general"}

// ChangeCategories are the taxonomy labels for categorized changes.
var ChangeCategories = []string{"newFeatures", "improvements", "fixes"}

// RetroRuleSetConfig returns the default retro-category rule set.
func RetroRuleSetConfig() RuleSetConfig {
	return RuleSetConfig{
		Name: "retro",
		Categories: []CategoryRule{
			{
				Name: "technical",
				Keywords: []string{
					"bug", "deploy", "deployment", "architecture", "refactor",
					"database", "api", "performance", "outage", "incident",
					"build", "pipeline", "test", "infrastructure", "migration",
					"latency", "crash", "regression",
				},
				Labels:   []string{"bug", "tech-debt", "infrastructure", "ci"},
				Patterns: []string{`(?i)\b(stack ?trace|null pointer|timeout|5\d\d error)\b`},
				ContextKeywords: []string{
					"server", "code", "branch", "merge", "release",
				},
				Exclusions: []string{"standup", "meeting", "retro"},
			},
			{
				Name: "process",
				Keywords: []string{
					"standup", "meeting", "sprint", "planning", "estimate",
					"backlog", "workflow", "review", "ceremony", "retro",
					"deadline", "scope", "handoff", "documentation",
				},
				Labels:   []string{"process", "planning"},
				Patterns: []string{`(?i)\b(story point|sprint (goal|review)|code review)\b`},
				ContextKeywords: []string{
					"agile", "kanban", "ticket", "board",
				},
			},
			{
				Name: "teamDynamics",
				Keywords: []string{
					"collaboration", "communication", "pairing", "onboarding",
					"morale", "burnout", "conflict", "mentoring", "feedback",
					"celebrate", "recognition", "blocked by team",
				},
				Labels:   []string{"team", "people"},
				Patterns: []string{`(?i)\b(pair(ed|ing)? with|helped (out|each other))\b`},
				ContextKeywords: []string{
					"team", "together", "support",
				},
			},
			{
				Name:     "general",
				Keywords: []string{"overall", "misc", "other"},
			},
		},
		Priority:         []string{"technical", "process", "teamDynamics", "general"},
		DefaultCategory:  "general",
		MediumConfidence: 0.4,
		Weights:          DefaultWeights(),
	}
}

// ChangeRuleSetConfig returns the default change-category rule set.
func ChangeRuleSetConfig() RuleSetConfig {
	return RuleSetConfig{
		Name: "change",
		Categories: []CategoryRule{
			{
				Name: "newFeatures",
				Keywords: []string{
					"feature", "add", "added", "new", "implement", "implemented",
					"introduce", "launch", "ship", "shipped", "create", "support",
				},
				Labels:     []string{"feature", "enhancement-new", "epic"},
				Patterns:   []string{`(?i)\b(add(s|ed)?|introduc(e|es|ed)|launch(ed)?) (a |the )?new\b`},
				Exclusions: []string{"fix", "bug"},
			},
			{
				Name: "improvements",
				Keywords: []string{
					"improve", "improved", "optimize", "optimized", "refactor",
					"cleanup", "upgrade", "enhance", "enhanced", "faster",
					"simplify", "polish", "tune",
				},
				Labels:   []string{"enhancement", "performance", "refactor"},
				Patterns: []string{`(?i)\b(speed(s|ed)? up|reduc(e|es|ed) (time|memory|size))\b`},
			},
			{
				Name: "fixes",
				Keywords: []string{
					"fix", "fixed", "fixes", "bug", "bugfix", "patch", "resolve",
					"resolved", "hotfix", "repair", "correct", "regression",
				},
				Labels:   []string{"bug", "hotfix", "defect"},
				Patterns: []string{`(?i)\bfix(ed|es)?\b`, `(?i)\bbroken\b`},
			},
		},
		Priority:         []string{"fixes", "newFeatures", "improvements"},
		DefaultCategory:  "improvements",
		MediumConfidence: 0.4,
		Weights:          DefaultWeights(),
	}
}

// Compiled defaults, ready for scoring.
var (
	// RetroRuleSet is the compiled default retro rule set.
	RetroRuleSet = MustCompile(RetroRuleSetConfig())

	// ChangeRuleSet is the compiled default change rule set.
	ChangeRuleSet = MustCompile(ChangeRuleSetConfig())
)
