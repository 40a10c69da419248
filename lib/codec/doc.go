// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR configuration shared by every renderhost
// component that puts bytes on the wire or on disk.
//
// Two consumers exist today: the host↔renderer channel (one CBOR value
// per datagram, see lib/channel) and the spool file format (a CBOR
// array of recorded pages, see spool). Both must agree on encoding so
// that a frame logged on one side can be decoded verbatim on the
// other. The encoder uses Core Deterministic Encoding (RFC 8949 §4.2):
// the same frame always produces the same bytes, which keeps spool
// digests stable across runs.
//
// Buffer-oriented use:
//
//	data, err := codec.Marshal(frame)
//	err = codec.Unmarshal(data, &frame)
//
// Stream-oriented use:
//
//	encoder := codec.NewEncoder(file)
//	decoder := codec.NewDecoder(file)
//
// Wire types carry `cbor` struct tags only. Types that are also
// rendered as JSON (the opaque plugin API strings) never pass through
// this package.
package codec
