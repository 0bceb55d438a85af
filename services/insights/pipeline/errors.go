// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import "errors"

var (
	// ErrManagerClosed is returned by operations on a closed Manager.
	ErrManagerClosed = errors.New("pipeline manager is closed")

	// ErrNoCollectors is returned when Generate runs with no registered
	// sources.
	ErrNoCollectors = errors.New("no source collectors registered")
)
