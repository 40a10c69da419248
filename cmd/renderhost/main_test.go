// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/bureau-foundation/renderhost/lib/config"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		command string
		output  string
		rest    []string
	}{
		{"print", []string{"print", "a.pdf", "b.pdf"}, "print", ".", []string{"a.pdf", "b.pdf"}},
		{"print output", []string{"--log-level", "debug", "print", "-o", "/tmp/out", "a.pdf"}, "print", "/tmp/out", []string{"a.pdf"}},
		{"message", []string{"--config", "c.yaml", "message", `{"x":1}`}, "message", "", []string{`{"x":1}`}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			parsed, err := parseArgs(test.args)
			if err != nil {
				t.Fatalf("parseArgs: %v", err)
			}
			if parsed.command != test.command || parsed.output != test.output || !slices.Equal(parsed.args, test.rest) {
				t.Errorf("parsed = %+v", parsed)
			}
		})
	}
}

func TestParseArgsErrors(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{nil, "usage"},
		{[]string{"print"}, "no documents"},
		{[]string{"message"}, "exactly one"},
		{[]string{"message", "a", "b"}, "exactly one"},
		{[]string{"scan"}, "unknown command"},
	}
	for _, test := range tests {
		_, err := parseArgs(test.args)
		if err == nil || !strings.Contains(err.Error(), test.want) {
			t.Errorf("parseArgs(%q) = %v, want error containing %q", test.args, err, test.want)
		}
	}
}

func TestVersion(t *testing.T) {
	var stdout bytes.Buffer
	if err := run([]string{"--version"}, &stdout); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.HasPrefix(stdout.String(), "renderhost ") {
		t.Errorf("version output = %q", stdout.String())
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv(config.EnvironmentVariable, "")
	cfg, err := loadConfig(&invocation{logLevel: "debug"})
	if err != nil {
		t.Fatalf("loadConfig with defaults: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level override ignored: %q", cfg.LogLevel)
	}

	path := filepath.Join(t.TempDir(), "renderhost.yaml")
	if err := os.WriteFile(path, []byte("print:\n  device_width: -1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(&invocation{configPath: path}); err == nil {
		t.Error("loadConfig accepted a negative device width")
	}
}
