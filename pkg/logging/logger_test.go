// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// readLogFile returns the parsed JSON lines of the dated log file New
// creates for the service in dir.
func readLogFile(t *testing.T, dir, service string) []map[string]any {
	t.Helper()
	name := service + "_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}

	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("log line is not JSON: %q", line)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestNew_FileLogging(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Config{Level: LevelInfo, LogDir: dir, Service: "retronet", Quiet: true})
	if err != nil {
		t.Fatal(err)
	}

	l.Info("analysis started", "session_id", "s-1")
	l.Debug("should be filtered")
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	entries := readLogFile(t, dir, "retronet")
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1 (debug filtered)", len(entries))
	}
	e := entries[0]
	if e["msg"] != "analysis started" {
		t.Errorf("msg = %v", e["msg"])
	}
	if e["service"] != "retronet" {
		t.Errorf("service attr = %v", e["service"])
	}
	if e["session_id"] != "s-1" {
		t.Errorf("session_id = %v", e["session_id"])
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Config{Level: LevelWarn, LogDir: dir, Service: "retronet", Quiet: true})
	if err != nil {
		t.Fatal(err)
	}

	l.Info("routine")
	l.Warn("provider degraded")
	l.Error("source lost")
	l.Close()

	entries := readLogFile(t, dir, "retronet")
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want warn+error only", len(entries))
	}
	if entries[0]["level"] != "WARN" || entries[1]["level"] != "ERROR" {
		t.Errorf("levels = %v, %v", entries[0]["level"], entries[1]["level"])
	}
}

func TestNew_BadLogDir(t *testing.T) {
	// A regular file where the directory should be.
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := New(Config{LogDir: filepath.Join(blocker, "logs")}); err == nil {
		t.Error("unusable log dir must surface an error")
	}
}

func TestNew_QuietWithoutFileDiscards(t *testing.T) {
	l, err := New(Config{Quiet: true})
	if err != nil {
		t.Fatal(err)
	}
	// No destination; calls must still be safe.
	l.Info("dropped")
	l.With("k", "v").Warn("also dropped")
	if err := l.Close(); err != nil {
		t.Errorf("close without a file must be a no-op, got %v", err)
	}
}

func TestWith_ChildCarriesAttrs(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Config{LogDir: dir, Service: "retronet", Quiet: true})
	if err != nil {
		t.Fatal(err)
	}

	l.With("component", "pipeline_manager").Info("step complete")
	l.Close()

	entries := readLogFile(t, dir, "retronet")
	if len(entries) != 1 || entries[0]["component"] != "pipeline_manager" {
		t.Errorf("child attrs missing: %+v", entries)
	}
}

func TestClose_Idempotent(t *testing.T) {
	l, err := New(Config{LogDir: t.TempDir(), Quiet: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second close must be a no-op, got %v", err)
	}
}

func TestDefault(t *testing.T) {
	l := Default()
	if l == nil || l.Slog() == nil {
		t.Fatal("Default must return a usable logger")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir in this environment")
	}
	if got := expandPath("~/logs"); got != filepath.Join(home, "logs") {
		t.Errorf("expandPath(~/logs) = %q", got)
	}
	if got := expandPath("/var/log/retronet"); got != "/var/log/retronet" {
		t.Errorf("absolute path must pass through, got %q", got)
	}
}
