// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package printing runs print jobs across the bridge.
//
// The host side is a [Queue]. Submit assigns the job the lowest free
// 16-bit id and sends start-print. The child's [Spooler] opens the
// document and answers with page-count; the queue then sends one
// render-page per page. For each page the spooler renders into a spool
// file and answers with page-spooled. The queue loads the file,
// replays it onto the job's device, and removes it. After the last
// page it sends finish-print, which closes the document in the child,
// and completes the job.
//
// Every message is a send; neither side blocks on the other. Messages
// for one job are handled in order because both sides dispatch on a
// single coordinating context.
package printing
