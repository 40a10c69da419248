// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package binhash computes content digests of the renderer child
// binary and its native libraries.
//
// The supervisor logs the digest of everything it is about to execute
// or have the child dlopen, so a crash report names the exact bytes
// that ran. When the configuration pins a digest, a mismatching binary
// is refused before it is started.
//
// Digests are unkeyed BLAKE3-256, hex-encoded in logs and
// configuration.
package binhash
