// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package shm provides memfd-backed shared-memory segments that can
// cross the host↔renderer boundary.
//
// A [Segment] is created on the host with memfd_create, sized with
// ftruncate, and mapped MAP_SHARED. Its descriptor travels to the
// child as SCM_RIGHTS data on the channel; the child maps the same
// memory with [Map]. Writes on either side are immediately visible on
// the other, so bulk payloads never pass through frames.
//
// The mapping lives outside the Go heap. Slices returned by
// [Segment.Bytes] are valid only until [Segment.Close].
package shm
