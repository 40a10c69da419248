// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for the
// renderhost binaries.
//
// Three package-level variables are injected at build time via
// -ldflags -X:
//
//   - [GitCommit] -- short git SHA of the build
//   - [BuildTime] -- UTC timestamp of the build
//   - [Version] -- semantic version string (set manually for releases)
//
// When GitCommit is not injected (go install, go run, tests), the VCS
// stamp recorded by the Go toolchain in the binary's build info is
// used instead.
//
// [Info] formats the --version line. Both binaries print it, and the
// host logs the child's line at startup so mismatched installs show up
// in the log.
package version
