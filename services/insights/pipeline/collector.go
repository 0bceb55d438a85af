// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"

	"github.com/pariosur/retronet-sub001/services/insights/datatypes"
)

// Collector produces activity records from one source (github, slack,
// linear, a JSON export...).
type Collector interface {
	// Name is the source tag applied to every record.
	Name() string

	// Collect fetches the records for the analysis window. Implementations
	// must honor ctx cancellation; errors are captured per-source by the
	// orchestrator, never fatal on their own.
	Collect(ctx context.Context, actx datatypes.AnalysisContext) ([]datatypes.ActivityRecord, error)
}

// StaticCollector serves preloaded records, filtered to the analysis
// window. The CLI uses it for JSON exports; tests use it as a fake.
type StaticCollector struct {
	// SourceName is the tag reported by Name.
	SourceName string

	// Records is the full record pool.
	Records []datatypes.ActivityRecord

	// Err, when set, is returned instead of records.
	Err error
}

func (s *StaticCollector) Name() string { return s.SourceName }

// Collect returns the records whose CreatedAt falls inside the window.
// Records without a timestamp pass through unfiltered.
func (s *StaticCollector) Collect(ctx context.Context, actx datatypes.AnalysisContext) ([]datatypes.ActivityRecord, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]datatypes.ActivityRecord, 0, len(s.Records))
	for _, r := range s.Records {
		if !r.CreatedAt.IsZero() && actx.DateRange.Valid() {
			if r.CreatedAt.Before(actx.DateRange.Start) || r.CreatedAt.After(actx.DateRange.End) {
				continue
			}
		}
		if r.Source == "" {
			r.Source = s.SourceName
		}
		out = append(out, r)
	}
	return out, nil
}
