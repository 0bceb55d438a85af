// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// OutputMode controls how much styling CLI output carries.
type OutputMode string

const (
	// ModeStyled enables colors, icons, and boxes.
	ModeStyled OutputMode = "styled"

	// ModePlain outputs unstyled text suitable for scripting and piping.
	ModePlain OutputMode = "plain"
)

var (
	currentMode = ModeStyled
	modeMu      sync.RWMutex
)

// GetMode returns the active output mode.
func GetMode() OutputMode {
	modeMu.RLock()
	defer modeMu.RUnlock()
	return currentMode
}

// SetMode overrides the active output mode.
func SetMode(m OutputMode) {
	modeMu.Lock()
	defer modeMu.Unlock()
	currentMode = m
}

// ParseMode converts a string to an OutputMode. Unknown values default
// to styled.
func ParseMode(s string) OutputMode {
	switch strings.ToLower(s) {
	case "plain", "machine", "quiet", "q":
		return ModePlain
	default:
		return ModeStyled
	}
}

// InitMode picks the output mode from the environment.
//
// Description:
//
//	RETRONET_OUTPUT wins when set. NO_COLOR (any value) forces plain
//	output per the informal convention. Otherwise output is styled only
//	when stdout is a terminal.
func InitMode() {
	if env := os.Getenv("RETRONET_OUTPUT"); env != "" {
		SetMode(ParseMode(env))
		return
	}
	if os.Getenv("NO_COLOR") != "" {
		SetMode(ModePlain)
		return
	}
	if !isTerminal() {
		SetMode(ModePlain)
		return
	}
	SetMode(ModeStyled)
}

func isTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// IsInteractive reports whether prompts and progress animations make sense.
func IsInteractive() bool {
	return GetMode() == ModeStyled && isTerminal()
}
