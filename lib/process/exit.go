// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"io"
	"os"
)

// exit and stderr are swapped out by tests.
var (
	exit             = os.Exit
	stderr io.Writer = os.Stderr
)

// Fatal writes "error: err" to stderr and exits with code 1. This is
// the standard renderhost binary entrypoint error handler. Use it in
// main() for errors from run() where the structured logger may not be
// initialized.
func Fatal(err error) {
	fmt.Fprintf(stderr, "error: %v\n", err)
	exit(1)
}

// QuickExit terminates the process immediately with code, after one
// line naming reason on stderr. No deferred functions run and no
// further channel traffic is attempted. The bridge's abnormal-close
// hook calls this when the peer process disappears without saying
// goodbye: engine and buffer state may be half-updated, so unwinding
// it is worse than dropping it.
func QuickExit(code int, reason string) {
	fmt.Fprintf(stderr, "exit: %s\n", reason)
	exit(code)
}
