// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package report renders analysis results and live pipeline progress for
// the CLI.
//
// Rendering is pure string construction; callers decide where the output
// goes. A Renderer created with styled=false produces plain text that is
// stable for piping and tests.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/pariosur/retronet-sub001/pkg/ux"
	"github.com/pariosur/retronet-sub001/services/insights/datatypes"
	"github.com/pariosur/retronet-sub001/services/insights/events"
)

// bucketHeadings maps buckets to their presentation titles, in order.
var bucketHeadings = []struct {
	bucket datatypes.Bucket
	title  string
	icon   ux.Icon
}{
	{datatypes.BucketWentWell, "What went well", ux.IconSuccess},
	{datatypes.BucketDidntGoWell, "What didn't go well", ux.IconWarning},
	{datatypes.BucketActionItems, "Action items", ux.IconArrow},
}

// Renderer turns an AnalysisResult into terminal output.
//
// Thread Safety: Safe for concurrent use; Renderer is immutable.
type Renderer struct {
	styled bool
}

// NewRenderer creates a renderer. styled enables lipgloss colors and
// icons; plain output is bare text.
func NewRenderer(styled bool) *Renderer {
	return &Renderer{styled: styled}
}

// Render produces the full retrospective report.
//
// Description:
//
//	The report opens with a title and the analysis window, then one
//	section per bucket in presentation order, then any degradations,
//	then a metadata footer (provider, stage timings, insight count).
//	Empty buckets render a muted placeholder so the reader can tell
//	"nothing found" from "section missing".
func (r *Renderer) Render(res *datatypes.AnalysisResult) string {
	var b strings.Builder

	b.WriteString(r.style(ux.Styles.Title, "Retrospective Insights"))
	b.WriteString("\n")
	b.WriteString(r.style(ux.Styles.Muted, r.periodLine(res.Metadata)))
	b.WriteString("\n")

	for _, h := range bucketHeadings {
		b.WriteString("\n")
		b.WriteString(r.heading(h.icon, h.title))
		b.WriteString("\n")

		insights := res.Insights.Bucket(h.bucket)
		if len(insights) == 0 {
			b.WriteString("  ")
			b.WriteString(r.style(ux.Styles.Muted, "nothing surfaced for this period"))
			b.WriteString("\n")
			continue
		}
		for _, in := range insights {
			r.writeInsight(&b, in)
		}
	}

	if len(res.Metadata.Degradations) > 0 {
		b.WriteString("\n")
		b.WriteString(r.heading(ux.IconWarning, "Reduced scope"))
		b.WriteString("\n")
		for _, d := range res.Metadata.Degradations {
			fmt.Fprintf(&b, "  %s %s: %s\n",
				r.icon(ux.IconBullet),
				r.style(ux.Styles.Warning, d.Scope),
				d.Impact)
		}
	}

	b.WriteString("\n")
	b.WriteString(r.style(ux.Styles.Muted, r.footerLine(res)))
	b.WriteString("\n")
	return b.String()
}

func (r *Renderer) writeInsight(b *strings.Builder, in datatypes.Insight) {
	fmt.Fprintf(b, "  %s %s %s%s\n",
		r.icon(ux.IconBullet),
		r.style(ux.Styles.Bold, in.Title),
		r.style(ux.Styles.Muted, fmt.Sprintf("(%d%%)", int(in.Confidence*100+0.5))),
		r.sourceTag(in))

	if in.Details != "" && in.Details != in.Title {
		fmt.Fprintf(b, "    %s\n", r.style(ux.Styles.Muted, in.Details))
	}
}

// sourceTag marks insights that came from (or through) a model provider.
func (r *Renderer) sourceTag(in datatypes.Insight) string {
	switch in.Source {
	case datatypes.SourceGenerative:
		return " " + r.style(ux.Styles.Subtitle, "[model]")
	case datatypes.SourceHybrid:
		return " " + r.style(ux.Styles.Subtitle, "[merged]")
	default:
		return ""
	}
}

func (r *Renderer) periodLine(meta datatypes.AnalysisMetadata) string {
	dr := meta.DateRange
	if !dr.Valid() {
		return "period unknown"
	}
	return fmt.Sprintf("%s to %s (%d days, %d team members)",
		dr.Start.Format("Jan 2, 2006"),
		dr.End.Format("Jan 2, 2006"),
		dr.Days(),
		max(len(meta.TeamMembers), 1))
}

func (r *Renderer) footerLine(res *datatypes.AnalysisResult) string {
	parts := []string{fmt.Sprintf("%d insights", res.Insights.Len())}

	switch {
	case res.Metadata.GenerativeAnalysisUsed && res.Metadata.Provider != nil:
		parts = append(parts, "provider "+res.Metadata.Provider.Name)
	case res.Metadata.RuleAnalysisUsed:
		parts = append(parts, "rule analysis only")
	}

	if total := totalDuration(res.Metadata.StageDurations); total > 0 {
		parts = append(parts, "generated in "+total.Round(time.Millisecond).String())
	}
	return strings.Join(parts, " · ")
}

func totalDuration(stages map[string]time.Duration) time.Duration {
	var total time.Duration
	for _, d := range stages {
		total += d
	}
	return total
}

func (r *Renderer) heading(icon ux.Icon, title string) string {
	return fmt.Sprintf("%s %s", r.icon(icon), r.style(ux.Styles.Highlight, title))
}

func (r *Renderer) style(s lipgloss.Style, text string) string {
	if !r.styled {
		return text
	}
	return s.Render(text)
}

func (r *Renderer) icon(i ux.Icon) string {
	if !r.styled {
		return string(i)
	}
	return i.Render()
}

// =============================================================================
// Stage Timings
// =============================================================================

// RenderTimings produces a per-stage duration table, slowest first.
func (r *Renderer) RenderTimings(stages map[string]time.Duration) string {
	if len(stages) == 0 {
		return ""
	}

	names := make([]string, 0, len(stages))
	for name := range stages {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return stages[names[i]] > stages[names[j]] })

	var b strings.Builder
	b.WriteString(r.style(ux.Styles.Subtitle, "Stage timings"))
	b.WriteString("\n")
	for _, name := range names {
		fmt.Fprintf(&b, "  %-22s %s\n", name, stages[name].Round(time.Millisecond))
	}
	return b.String()
}

// =============================================================================
// Live Progress
// =============================================================================

// NewEventPrinter returns an events.Handler that writes one line per
// pipeline event to w.
//
// Description:
//
//	Step starts print an arrow line, completions a check, failures a
//	cross, degradations a warning. Session-level events close out the
//	stream. Handlers run on the emitting goroutine, so the printer only
//	formats and writes.
func NewEventPrinter(w io.Writer, styled bool) events.Handler {
	r := NewRenderer(styled)
	return func(ev events.Event) {
		switch ev.Type {
		case events.TypeStepStarted:
			fmt.Fprintf(w, "%s %s\n", r.icon(ux.IconArrow), ev.Message)
		case events.TypeStepCompleted:
			fmt.Fprintf(w, "%s %s\n", r.icon(ux.IconSuccess), ev.Message)
		case events.TypeStepFailed:
			fmt.Fprintf(w, "%s %s\n", r.icon(ux.IconError), ev.Message)
		case events.TypeDegradation:
			fmt.Fprintf(w, "%s %s\n", r.icon(ux.IconWarning), ev.Message)
		case events.TypeSessionCompleted:
			fmt.Fprintf(w, "%s analysis complete\n", r.icon(ux.IconSuccess))
		case events.TypeSessionFailed:
			fmt.Fprintf(w, "%s analysis failed: %s\n", r.icon(ux.IconError), ev.Message)
		}
	}
}
