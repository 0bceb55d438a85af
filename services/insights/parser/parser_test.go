// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package parser

import (
	"strings"
	"testing"

	"github.com/pariosur/retronet-sub001/services/insights/datatypes"
)

func TestParse_StructuredJSON(t *testing.T) {
	raw := `{
		"wentWell": [
			{"title": "Shipped the export feature", "details": "landed two days early", "confidence": 0.9},
			"Good sprint velocity"
		],
		"didntGoWell": [{"title": "CI was flaky", "description": "five spurious failures"}],
		"actionItems": [{"title": "Stabilize CI", "category": "technical"}]
	}`

	out := Parse(raw, "anthropic")

	if out.Stage != StageStructured {
		t.Fatalf("expected structured stage, got %s", out.Stage)
	}
	if out.Fallback {
		t.Error("structured parse must not be marked fallback")
	}
	if len(out.Set.WentWell) != 2 || len(out.Set.DidntGoWell) != 1 || len(out.Set.ActionItems) != 1 {
		t.Fatalf("unexpected bucket sizes: %d/%d/%d",
			len(out.Set.WentWell), len(out.Set.DidntGoWell), len(out.Set.ActionItems))
	}
	if out.Set.WentWell[0].Confidence != 0.9 {
		t.Errorf("explicit confidence not honored: %f", out.Set.WentWell[0].Confidence)
	}
	if out.Set.WentWell[1].Confidence != StructuredDefaultConfidence {
		t.Errorf("expected default confidence %f for bare string, got %f",
			StructuredDefaultConfidence, out.Set.WentWell[1].Confidence)
	}
	if out.Set.DidntGoWell[0].Details != "five spurious failures" {
		t.Error("description alias not normalized into details")
	}
	for _, in := range out.Set.All() {
		if in.Source != datatypes.SourceGenerative {
			t.Errorf("insight source = %s, want generative", in.Source)
		}
		if in.ID == "" {
			t.Error("insight missing ID")
		}
		if in.Provider == nil || in.Provider.Name != "anthropic" {
			t.Error("provider metadata missing")
		}
	}
}

func TestParse_NestedInsightsShape(t *testing.T) {
	raw := `{"insights": {"wentWell": ["Releases went smoothly"], "didntGoWell": [], "actionItems": []}}`

	out := Parse(raw, "openai")

	if out.Stage != StageStructured {
		t.Fatalf("expected structured stage, got %s", out.Stage)
	}
	if len(out.Set.WentWell) != 1 {
		t.Fatalf("nested shape not recognized: %+v", out.Set)
	}
}

func TestParse_ExtractsJSONFromProse(t *testing.T) {
	raw := "Here is my analysis of the sprint:\n\n```json\n" +
		`{"wentWell": ["Deploy cadence held at daily"], "didntGoWell": ["Two incidents"], "actionItems": []}` +
		"\n```\nLet me know if you need more detail."

	out := Parse(raw, "anthropic")

	if out.Stage != StageExtracted {
		t.Fatalf("expected extracted stage, got %s", out.Stage)
	}
	if !out.Fallback {
		t.Error("extracted stage must be marked fallback")
	}
	if out.ParseError == "" {
		t.Error("expected the structured-parse failure to be recorded")
	}
	if len(out.Set.WentWell) != 1 || len(out.Set.DidntGoWell) != 1 {
		t.Fatalf("unexpected buckets: %+v", out.Set)
	}
}

func TestParse_BalancedExtractionIsStringAware(t *testing.T) {
	// The closing brace inside the string must not terminate the scan early.
	raw := `noise {"wentWell": ["used the \"}\" character in a title"], "didntGoWell": [], "actionItems": []} noise`

	out := Parse(raw, "p")

	if out.Stage != StageExtracted {
		t.Fatalf("expected extracted stage, got %s (err %s)", out.Stage, out.ParseError)
	}
	if len(out.Set.WentWell) != 1 {
		t.Fatalf("expected one insight, got %+v", out.Set)
	}
}

func TestParse_MarkdownSections(t *testing.T) {
	raw := `# What Went Well
- Shipped the billing migration
- Pairing sessions worked great

## Challenges
1. Review queue backed up
2. Two production incidents

Next steps:
- Add a second on-call rotation
`

	out := Parse(raw, "ollama")

	if out.Stage != StageSectioned {
		t.Fatalf("expected sectioned stage, got %s", out.Stage)
	}
	if len(out.Set.WentWell) != 2 {
		t.Errorf("wentWell: got %d items", len(out.Set.WentWell))
	}
	if len(out.Set.DidntGoWell) != 2 {
		t.Errorf("didntGoWell: got %d items", len(out.Set.DidntGoWell))
	}
	if len(out.Set.ActionItems) != 1 {
		t.Errorf("actionItems: got %d items", len(out.Set.ActionItems))
	}
	for _, in := range out.Set.All() {
		if in.Confidence != SectionedConfidence {
			t.Errorf("expected sectioned confidence %f, got %f", SectionedConfidence, in.Confidence)
		}
	}
}

func TestParse_UnrecognizedHeaderFallsToDidntGoWell(t *testing.T) {
	raw := `# Miscellaneous Observations
- The office coffee machine broke
`

	out := Parse(raw, "p")

	if out.Stage != StageSectioned {
		t.Fatalf("expected sectioned stage, got %s", out.Stage)
	}
	if len(out.Set.DidntGoWell) != 1 {
		t.Fatalf("unrecognized header should land in didntGoWell: %+v", out.Set)
	}
}

func TestParse_SentenceHeuristic(t *testing.T) {
	raw := "The team accomplished a lot and had wins across the board. " +
		"Deployments were blocked for two days. " +
		"We need to automate the release checklist going forward."

	out := Parse(raw, "p")

	if out.Stage != StageSentence {
		t.Fatalf("expected sentence stage, got %s", out.Stage)
	}
	if len(out.Set.WentWell) != 1 {
		t.Errorf("positive sentence misbucketed: %+v", out.Set.WentWell)
	}
	if len(out.Set.DidntGoWell) != 1 {
		t.Errorf("negative sentence misbucketed: %+v", out.Set.DidntGoWell)
	}
	if len(out.Set.ActionItems) != 1 {
		t.Errorf("action sentence misbucketed: %+v", out.Set.ActionItems)
	}
	for _, in := range out.Set.All() {
		if in.Confidence != SentenceConfidence {
			t.Errorf("expected sentence confidence %f, got %f", SentenceConfidence, in.Confidence)
		}
	}
}

func TestParse_TotalOnGarbage(t *testing.T) {
	inputs := []string{
		"",
		"   \n\t  ",
		"{{{{[[[",
		`{"wentWell": }`,
		strings.Repeat("x", 10000),
	}
	for _, raw := range inputs {
		out := Parse(raw, "p") // must not panic
		for _, in := range out.Set.All() {
			if in.Confidence < 0 || in.Confidence > 1 {
				t.Errorf("confidence out of range: %f", in.Confidence)
			}
			if in.IsEmpty() {
				t.Error("empty insight survived normalization")
			}
		}
	}
}

func TestParse_ConfidenceAlwaysClamped(t *testing.T) {
	raw := `{"wentWell": [{"title": "over", "confidence": 3.5}, {"title": "under", "confidence": -1}], "didntGoWell": [], "actionItems": []}`

	out := Parse(raw, "p")

	if got := out.Set.WentWell[0].Confidence; got != 1 {
		t.Errorf("expected clamp to 1, got %f", got)
	}
	if got := out.Set.WentWell[1].Confidence; got != 0 {
		t.Errorf("expected clamp to 0, got %f", got)
	}
}
