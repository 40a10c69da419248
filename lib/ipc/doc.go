// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc defines the CBOR-encoded frame and payload types for the
// host↔renderer channel. Both cmd/renderhost and cmd/renderhost-child
// import this package so the wire types are defined once rather than
// mirrored.
//
// Every datagram on the channel carries exactly one [Frame]. The frame
// envelope is interpreted by the bridge; the Body is decoded by the
// handler registered for the frame's Method, using the payload types
// declared here.
package ipc
