// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"errors"
	"fmt"
)

var (
	// ErrChannelClosed is returned by calls whose peer is gone, and by
	// every call outstanding when the bridge is closed. Calls are never
	// retried.
	ErrChannelClosed = errors.New("bridge: channel closed")

	// ErrCallTimeout is returned by CallTimeout when the deadline
	// expired. The bridge has been torn down by then.
	ErrCallTimeout = errors.New("bridge: call timed out")

	// ErrAllocationFailed is returned when a shared-memory segment
	// could not be created.
	ErrAllocationFailed = errors.New("bridge: allocation failed")

	// ErrUnknownSegment is returned for an address that names no live
	// buffer.
	ErrUnknownSegment = errors.New("bridge: unknown segment")

	// ErrDetached is returned by a View whose buffer was released.
	ErrDetached = errors.New("bridge: buffer view detached")
)

// RemoteError is returned by Call when the peer's handler failed. It
// carries the method and the peer's error message.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error on %q: %s", e.Method, e.Message)
}
