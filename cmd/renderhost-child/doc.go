// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Renderhost-child is the renderer process. The host starts it with
// one end of a SEQPACKET socketpair on --channel-fd and the two
// libraries to load:
//
//	renderhost-child --rpc-lib builtin:jsonrpc --plugin-lib builtin:pdf --channel-fd=3
//
// A library argument is either a Go plugin (.so) path or a builtin
// name. The child serves the host until it says goodbye. If the host
// disappears without one, the child exits at once without unwinding.
// It is not intended for direct use.
package main
