// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package generative

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/pariosur/retronet-sub001/services/insights/datatypes"
)

// BuildDigest renders activity records into the textual digest sent to
// the model.
//
// Description:
//
//	Sources are emitted in sorted-name order and records in input order,
//	so identical input always produces an identical digest. The digest
//	doubles as the cache similarity text, which is why it must be
//	deterministic.
func BuildDigest(records map[string][]datatypes.ActivityRecord) string {
	sources := make([]string, 0, len(records))
	for src := range records {
		sources = append(sources, src)
	}
	sort.Strings(sources)

	var b strings.Builder
	for _, src := range sources {
		recs := records[src]
		if len(recs) == 0 {
			continue
		}
		fmt.Fprintf(&b, "## %s (%d records)\n", src, len(recs))
		for _, r := range recs {
			b.WriteString("- ")
			b.WriteString(strings.TrimSpace(r.Title))
			if r.State != "" {
				fmt.Fprintf(&b, " [%s]", r.State)
			}
			if r.Author != "" {
				fmt.Fprintf(&b, " (%s)", r.Author)
			}
			if body := strings.TrimSpace(r.Body); body != "" {
				b.WriteString(": ")
				b.WriteString(body)
			}
			if len(r.Labels) > 0 {
				fmt.Fprintf(&b, " {%s}", strings.Join(r.Labels, ", "))
			}
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// GenerateCacheKey derives the analysis cache key.
//
// The key covers the digest text, the provider identity, and the
// analysis window, so a provider switch or a different period never
// aliases into a stale entry.
func GenerateCacheKey(digest, provider string, actx datatypes.AnalysisContext) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%d",
		provider,
		actx.DateRange.Start.UTC().Format("2006-01-02"),
		actx.DateRange.End.UTC().Format("2006-01-02"),
		digest,
		actx.TeamSize(),
	)
	return hex.EncodeToString(h.Sum(nil))
}

// truncateDigest bounds the digest to roughly maxChars using the
// recursive character splitter, preferring to cut at record and
// paragraph boundaries over mid-sentence.
func truncateDigest(digest string, maxChars int) (string, bool) {
	if maxChars <= 0 || len(digest) <= maxChars {
		return digest, false
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(maxChars),
		textsplitter.WithChunkOverlap(0),
		textsplitter.WithSeparators([]string{"\n\n", "\n", ". ", " "}),
	)
	chunks, err := splitter.SplitText(digest)
	if err != nil || len(chunks) == 0 {
		return digest[:maxChars], true
	}
	return chunks[0], true
}
