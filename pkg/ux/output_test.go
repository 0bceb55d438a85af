// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"strings"
	"testing"
)

func withMode(t *testing.T, m OutputMode) {
	t.Helper()
	prev := GetMode()
	SetMode(m)
	t.Cleanup(func() { SetMode(prev) })
}

func TestParseMode(t *testing.T) {
	cases := []struct {
		in   string
		want OutputMode
	}{
		{"plain", ModePlain},
		{"machine", ModePlain},
		{"quiet", ModePlain},
		{"Q", ModePlain},
		{"styled", ModeStyled},
		{"", ModeStyled},
		{"garbage", ModeStyled},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			if got := ParseMode(tc.in); got != tc.want {
				t.Errorf("ParseMode(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestInitMode_EnvOverride(t *testing.T) {
	prev := GetMode()
	t.Cleanup(func() { SetMode(prev) })

	t.Setenv("RETRONET_OUTPUT", "plain")
	InitMode()
	if GetMode() != ModePlain {
		t.Errorf("RETRONET_OUTPUT=plain should force plain mode, got %q", GetMode())
	}
}

func TestInitMode_NoColor(t *testing.T) {
	prev := GetMode()
	t.Cleanup(func() { SetMode(prev) })

	t.Setenv("RETRONET_OUTPUT", "")
	t.Setenv("NO_COLOR", "1")
	InitMode()
	if GetMode() != ModePlain {
		t.Errorf("NO_COLOR should force plain mode, got %q", GetMode())
	}
}

func TestIconRender_Plain(t *testing.T) {
	withMode(t, ModePlain)

	for _, icon := range []Icon{IconSuccess, IconWarning, IconError, IconPending, IconBullet} {
		if got := icon.Render(); got != string(icon) {
			t.Errorf("plain render of %q = %q, want unstyled", icon, got)
		}
	}
}

func TestProgressBar_Plain(t *testing.T) {
	withMode(t, ModePlain)

	if got := ProgressBar(3, 5, 20); got != "3/5" {
		t.Errorf("plain progress bar = %q, want 3/5", got)
	}
}

func TestProgressBar_Styled(t *testing.T) {
	withMode(t, ModeStyled)

	got := ProgressBar(5, 5, 10)
	if !strings.Contains(got, "100%") {
		t.Errorf("full bar should report 100%%, got %q", got)
	}
}

func TestRepeatChar(t *testing.T) {
	if got := repeatChar('x', 3); got != "xxx" {
		t.Errorf("repeatChar('x', 3) = %q", got)
	}
	if got := repeatChar('x', 0); got != "" {
		t.Errorf("repeatChar('x', 0) = %q, want empty", got)
	}
	if got := repeatChar('x', -1); got != "" {
		t.Errorf("repeatChar('x', -1) = %q, want empty", got)
	}
}

func TestSpinner_PlainModeDoesNotAnimate(t *testing.T) {
	withMode(t, ModePlain)

	s := NewSpinner("working")
	s.Start()
	s.Stop() // must not block waiting for a goroutine that never started
	s.Stop() // idempotent
}

func TestWithSpinner_PropagatesError(t *testing.T) {
	withMode(t, ModePlain)

	want := "boom"
	err := WithSpinner("task", func() error { return errString(want) })
	if err == nil || err.Error() != want {
		t.Errorf("WithSpinner error = %v, want %q", err, want)
	}

	if err := WithSpinner("task", func() error { return nil }); err != nil {
		t.Errorf("WithSpinner success = %v, want nil", err)
	}
}

type errString string

func (e errString) Error() string { return string(e) }
