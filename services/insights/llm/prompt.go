// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"fmt"
	"strings"

	"github.com/pariosur/retronet-sub001/services/insights/datatypes"
)

// systemPrompt builds the shared system instruction every provider sends.
// The schema mirrors what the response parser's structured stage expects,
// so a cooperative model short-circuits the fallback chain.
func systemPrompt(actx datatypes.AnalysisContext) string {
	var b strings.Builder
	b.WriteString("You are an engineering retrospective analyst. ")
	b.WriteString("Given a digest of team activity, produce retrospective insights.\n\n")
	b.WriteString("Respond with a single JSON object and nothing else:\n")
	b.WriteString(`{"wentWell": [{"title": "...", "details": "...", "confidence": 0.0}],` + "\n")
	b.WriteString(` "didntGoWell": [...], "actionItems": [...]}` + "\n\n")
	b.WriteString("Confidence is your certainty in [0,1]. Keep titles under ten words.\n")

	if actx.DateRange.Valid() {
		fmt.Fprintf(&b, "The period under review spans %d days (%s to %s).\n",
			actx.DateRange.Days(),
			actx.DateRange.Start.Format("2006-01-02"),
			actx.DateRange.End.Format("2006-01-02"))
	}
	if n := actx.TeamSize(); n > 1 {
		fmt.Fprintf(&b, "The team has %d members.\n", n)
	}
	return b.String()
}
