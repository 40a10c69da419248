// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"bytes"
	"errors"
	"testing"
)

func captureExit(t *testing.T) (*bytes.Buffer, *int) {
	t.Helper()
	var output bytes.Buffer
	code := -1
	savedExit, savedStderr := exit, stderr
	exit = func(c int) { code = c }
	stderr = &output
	t.Cleanup(func() { exit, stderr = savedExit, savedStderr })
	return &output, &code
}

func TestFatal(t *testing.T) {
	output, code := captureExit(t)

	Fatal(errors.New("child binary not found"))

	if *code != 1 {
		t.Errorf("exit code = %d, want 1", *code)
	}
	if got := output.String(); got != "error: child binary not found\n" {
		t.Errorf("stderr = %q", got)
	}
}

func TestQuickExit(t *testing.T) {
	output, code := captureExit(t)

	QuickExit(3, "peer closed without goodbye")

	if *code != 3 {
		t.Errorf("exit code = %d, want 3", *code)
	}
	if got := output.String(); got != "exit: peer closed without goodbye\n" {
		t.Errorf("stderr = %q", got)
	}
}
