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

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %s, want %s", tt.level, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"bogus", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestNew_FileLogging(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		Level:   LevelDebug,
		LogDir:  dir,
		Service: "flowtest",
		Quiet:   true,
	})

	logger.Info("run admitted", "run_id", "r-1")
	logger.Debug("node dispatched", "task_id", "a")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	want := filepath.Join(dir, "flowtest_"+time.Now().Format("2006-01-02")+".log")
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("log file has %d lines, want 2", len(lines))
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["msg"] != "run admitted" || entry["run_id"] != "r-1" {
		t.Errorf("unexpected entry: %v", entry)
	}
	if entry["service"] != "flowtest" {
		t.Errorf("service attribute = %v", entry["service"])
	}
}

func TestNew_LevelFilters(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		Level:   LevelWarn,
		LogDir:  dir,
		Service: "flowtest",
		Quiet:   true,
	})

	logger.Info("filtered out")
	logger.Warn("kept")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	path := filepath.Join(dir, "flowtest_"+time.Now().Format("2006-01-02")+".log")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if strings.Contains(string(data), "filtered out") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(string(data), "kept") {
		t.Error("warn message missing")
	}
}

func TestWith_AddsAttributes(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		LogDir:  dir,
		Service: "flowtest",
		Quiet:   true,
	})

	child := logger.With("run_id", "r-9")
	child.Info("scoped message")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	path := filepath.Join(dir, "flowtest_"+time.Now().Format("2006-01-02")+".log")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), `"run_id":"r-9"`) {
		t.Errorf("child attribute missing: %s", data)
	}
}

func TestClose_NoFileIsNoop(t *testing.T) {
	logger := New(Config{Quiet: true})
	if err := logger.Close(); err != nil {
		t.Errorf("Close without a file: %v", err)
	}
	// Close is idempotent.
	if err := logger.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestDefault(t *testing.T) {
	logger := Default()
	if logger.Slog() == nil {
		t.Fatal("default logger has no slog")
	}
	if logger.config.Service != "aleutian" {
		t.Errorf("service = %s", logger.config.Service)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandPath("~/logs"); got != filepath.Join(home, "logs") {
		t.Errorf("expandPath(~/logs) = %s", got)
	}
	if got := expandPath("/var/log"); got != "/var/log" {
		t.Errorf("absolute path changed: %s", got)
	}
}
