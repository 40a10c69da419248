// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package spool records rendered pages as a device-independent command
// stream and replays them onto an output device.
//
// The renderer child records into an [Image] through a [Recorder]
// surface, writes it with [Image.Save], and tells the host the path.
// The host loads the file with [Load], replays it onto a [Device], and
// removes the file. The child never touches the device.
//
// A spool file is:
//
//	magic            8 bytes  "RHSPOOL1"
//	compression      1 byte   CompressionTag
//	uncompressed     8 bytes  big-endian payload length
//	digest          32 bytes  keyed BLAKE3 of the uncompressed payload
//	payload          rest     CBOR page list, compressed per tag
//
// A file whose digest does not match is rejected before any command
// is decoded.
package spool
