// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package executor implements the coordinating context: a single
// goroutine that owns the document engine and is the only place
// synchronous cross-process calls may be issued from.
//
// An [Executor] is a FIFO task queue with exactly one consumer, the
// goroutine running [Executor.Run]. Any goroutine may [Executor.Post]
// work to it; tasks from one poster run in submission order. Each task
// receives a context carrying a turn token, and [Executor.IsCoordinating]
// recognises that token. Operations that must stay on the coordinator
// call [Executor.AssertCoordinating], which panics with an
// [*AffinityError] when handed any other context.
//
// Entries posted with [Executor.PostInbound] represent frames that
// arrived from the peer process. While a task is blocked in
// [Executor.Await] (waiting for the reply to a synchronous call), the
// coordinator keeps running inbound entries in arrival order. A peer
// that answers a call by calling back therefore gets served instead of
// deadlocking against the blocked coordinator. Locally posted entries
// wait until the blocked task returns.
package executor
