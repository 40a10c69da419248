// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for renderhost
// packages.
//
// [SocketDir] creates a short-named temporary directory in /tmp. Spool
// files and fake document files live there in tests that also bind
// Unix sockets, whose paths are limited to 108 bytes (sun_path in
// sockaddr_un).
//
// [RequireReceive], [RequireSend], [RequireClosed], and
// [RequireNoReceive] encapsulate the timeout safety valve pattern
// (select with a time.After fallback) so that individual tests do not
// need direct time.After calls. Bridge tests in particular run the
// coordinating executor on a separate goroutine and must never hang
// when a frame is lost.
//
// [UniqueID] generates monotonically increasing identifiers for test
// disambiguation, such as distinct method names or API strings.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no renderhost-internal dependencies, so any
// package's internal tests may import it.
package testutil
