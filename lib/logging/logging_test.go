// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"trace", 0, true},
	}
	for _, test := range tests {
		got, err := ParseLevel(test.name)
		if (err != nil) != test.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", test.name, err, test.wantErr)
			continue
		}
		if !test.wantErr && got != test.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", test.name, got, test.want)
		}
	}
}

func TestJSONHandlerWhenNotTerminal(t *testing.T) {
	var output bytes.Buffer
	logger := NewWithWriter(&output, false, slog.LevelInfo)

	logger.Info("frame received", "method", "to-plugin", "seq", 4)

	var record map[string]any
	if err := json.Unmarshal(output.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, output.String())
	}
	if record["method"] != "to-plugin" {
		t.Errorf("method = %v", record["method"])
	}
}

func TestTextHandlerAndLevelFilter(t *testing.T) {
	var output bytes.Buffer
	logger := NewWithWriter(&output, true, slog.LevelWarn)

	logger.Info("suppressed")
	logger.Warn("child exited", "code", 2)

	text := output.String()
	if strings.Contains(text, "suppressed") {
		t.Errorf("info record passed a warn-level logger: %q", text)
	}
	if !strings.Contains(text, "msg=\"child exited\"") || !strings.Contains(text, "code=2") {
		t.Errorf("unexpected text output %q", text)
	}
}
