// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestDefaultValidates(t *testing.T) {
	cfg := DefaultExpanded()
	if strings.Contains(cfg.Spool.Directory, "${") {
		t.Errorf("spool directory not expanded: %q", cfg.Spool.Directory)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Child.RPCLibrary != "builtin:jsonrpc" {
		t.Errorf("rpc_library = %q", cfg.Child.RPCLibrary)
	}
	if cfg.Spool.Compression != "zstd" {
		t.Errorf("compression = %q", cfg.Spool.Compression)
	}
}

func TestLoad_RequiresEnvironmentVariable(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when RENDERHOST_CONFIG not set")
	}
	if !strings.HasPrefix(err.Error(), "RENDERHOST_CONFIG environment variable not set") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "renderhost.yaml", `
child:
  binary: /opt/renderhost/bin/renderhost-child
  plugin_library: /opt/renderhost/lib/engine.so
spool:
  directory: ${HOME}/spool
  compression: lz4
bridge:
  call_timeout: 5s
log_level: debug
`)
	t.Setenv(EnvironmentVariable, path)
	t.Setenv("HOME", "/home/printer")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Child.Binary != "/opt/renderhost/bin/renderhost-child" {
		t.Errorf("binary = %q", cfg.Child.Binary)
	}
	if cfg.Child.PluginLibrary != "/opt/renderhost/lib/engine.so" {
		t.Errorf("plugin_library = %q", cfg.Child.PluginLibrary)
	}
	// Unset fields keep their defaults.
	if cfg.Child.RPCLibrary != "builtin:jsonrpc" {
		t.Errorf("rpc_library = %q, want default", cfg.Child.RPCLibrary)
	}
	if cfg.Spool.Directory != "/home/printer/spool" {
		t.Errorf("spool directory = %q", cfg.Spool.Directory)
	}
	timeout, err := cfg.CallTimeout()
	if err != nil || timeout != 5*time.Second {
		t.Errorf("CallTimeout = %v, %v", timeout, err)
	}
}

func TestLoad_JSONC(t *testing.T) {
	path := writeConfig(t, "renderhost.jsonc", `{
  // Device matches the label printer.
  "print": {"device_width": 800, "device_height": 600,},
  "spool": {"compression": "none"},
}`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Print.DeviceWidth != 800 || cfg.Print.DeviceHeight != 600 {
		t.Errorf("device = %dx%d", cfg.Print.DeviceWidth, cfg.Print.DeviceHeight)
	}
	if cfg.Spool.Compression != "none" {
		t.Errorf("compression = %q", cfg.Spool.Compression)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("LoadFile should fail for a missing file")
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Child.PluginLibrary = ""
	cfg.Child.BinaryDigest = "xyz"
	cfg.Spool.Compression = "gzip"
	cfg.Bridge.CallTimeout = "soon"
	cfg.Print.DeviceWidth = 0
	cfg.LogLevel = "verbose"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate should fail")
	}
	for _, fragment := range []string{
		"child.plugin_library",
		"child.binary_digest",
		"spool.compression",
		"bridge.call_timeout",
		"print.device_width",
		"log_level",
	} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("error %q does not mention %s", err, fragment)
		}
	}
}

func TestExpandVars(t *testing.T) {
	t.Setenv("RENDERHOST_TEST_UNSET", "")
	tests := []struct {
		input string
		want  string
	}{
		{"${HOME}/spool", "/home/test/spool"},
		{"${RENDERHOST_TEST_UNSET:-/tmp}/spool", "/tmp/spool"},
		{"/plain/path", "/plain/path"},
	}
	vars := map[string]string{"HOME": "/home/test"}
	for _, test := range tests {
		if got := expandVars(test.input, vars); got != test.want {
			t.Errorf("expandVars(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}

func TestChildBinaryPath(t *testing.T) {
	directory := t.TempDir()
	binary := filepath.Join(directory, "renderhost-child")
	if err := os.WriteFile(binary, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	cfg.Child.Binary = binary
	if path, err := cfg.ChildBinaryPath(); err != nil || path != binary {
		t.Errorf("ChildBinaryPath = %q, %v", path, err)
	}

	cfg.Child.Binary = filepath.Join(directory, "absent")
	if _, err := cfg.ChildBinaryPath(); err == nil {
		t.Error("ChildBinaryPath should fail for a missing explicit path")
	}

	t.Setenv("PATH", directory)
	cfg.Child.Binary = "renderhost-child"
	if path, err := cfg.ChildBinaryPath(); err != nil || path != binary {
		t.Errorf("ChildBinaryPath via PATH = %q, %v", path, err)
	}
}
