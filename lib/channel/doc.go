// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package channel carries [ipc.Frame] values between the host and the
// renderer child over a SOCK_SEQPACKET Unix socketpair.
//
// SEQPACKET preserves message boundaries, so one datagram is exactly
// one CBOR-encoded frame and no length prefix is needed. File
// descriptors (documents opened on behalf of the plugin, memfd-backed
// shared-memory segments) travel in the same datagram as SCM_RIGHTS
// ancillary data, and the frame's Files field records how many the
// sender attached so the receiver can detect truncation.
//
// A [Conn] is safe for one reader and any number of writers. Close
// unblocks a pending ReadFrame.
package channel
