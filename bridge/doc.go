// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge implements the RPC channel between the privileged
// host process and the renderer child that hosts the untrusted
// document engine.
//
// [Bridge] is the protocol core, one per process. It speaks four frame
// kinds over a [channel.Conn]: calls (exactly one reply each), sends
// (fire-and-forget), replies, and a goodbye that announces graceful
// closure. Every inbound call and send is dispatched on the process's
// coordinating context, an [executor.Executor], so handlers touch the
// document engine and the buffer tables without locks.
//
// Synchronous calls may only be issued from the coordinating context.
// While a call waits for its reply the coordinator keeps serving
// inbound frames, so when the peer answers a call by calling back
// (the plugin asking the host a question in the middle of a request)
// both sides make progress. Sends may come from any goroutine; off the
// coordinator they are queued and written in order.
//
// On top of the core sit the two process-specific surfaces:
//
//   - [Host] is the API the privileged process uses: forwarding API
//     strings into the plugin, passing files, and managing the shared
//     buffers in a [BufferCache].
//   - [Child] answers the host inside the renderer: it delivers API
//     strings to the loaded transport library, maps shared-memory
//     segments into its [BufferTable], and gives the plugin a
//     FromPlugin entry point back to the host.
//
// A peer that vanishes without saying goodbye is reported through
// [Options.OnAbnormalClose]; the binaries exit immediately from there.
// A goodbye runs [Options.OnClose] on the coordinator so open
// documents and buffers are released before the process exits.
package bridge
