// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/bureau-foundation/renderhost/lib/ipc"
	"github.com/bureau-foundation/renderhost/lib/shm"
)

// View is the host's long-lived window onto a cached buffer. It stays
// valid until the buffer is released, after which every access fails
// with ErrDetached instead of touching unmapped memory.
type View struct {
	mu       sync.Mutex
	segment  *shm.Segment
	detached bool
}

// Bytes returns the shared memory behind the view. Writes are visible
// to the child immediately.
func (v *View) Bytes() ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.detached {
		return nil, ErrDetached
	}
	return v.segment.Bytes(), nil
}

// Len returns the buffer length, or 0 once detached.
func (v *View) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.detached {
		return 0
	}
	return v.segment.Size()
}

// Detach cuts the view off from its segment. Idempotent.
func (v *View) Detach() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.detached = true
	v.segment = nil
}

// Detached reports whether Detach has run.
func (v *View) Detached() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.detached
}

type cacheEntry struct {
	segment *shm.Segment
	view    *View
}

// BufferCache owns the host's shared-memory segments, keyed by the
// address the child assigned when the segment was bound.
type BufferCache struct {
	bridge *Bridge

	mu      sync.Mutex
	entries map[ipc.Address]*cacheEntry
}

// NewBufferCache returns an empty cache that binds segments over b.
func NewBufferCache(b *Bridge) *BufferCache {
	return &BufferCache{
		bridge:  b,
		entries: make(map[ipc.Address]*cacheEntry),
	}
}

// Allocate creates an unbound segment of size bytes. Failures wrap
// ErrAllocationFailed.
func (c *BufferCache) Allocate(size int) (*shm.Segment, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size must be positive, got %d", ErrAllocationFailed, size)
	}
	segment, err := shm.Create("renderhost-buffer", size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAllocationFailed, err)
	}
	return segment, nil
}

// Bind hands segment to the child. A non-zero copyTo makes the child
// copy the segment's contents into its buffer at that address; a
// non-zero copyFrom makes it copy its buffer into the segment. With
// both zero the child registers the mapping and returns its address.
// Setting both panics. Runs on the coordinating context.
func (c *BufferCache) Bind(ctx context.Context, segment *shm.Segment, copyTo, copyFrom ipc.Address) (ipc.Address, error) {
	if !copyTo.IsZero() && !copyFrom.IsZero() {
		panic(fmt.Sprintf("bridge: Bind with both copyTo=%s and copyFrom=%s", copyTo, copyFrom))
	}

	segment.BeginTransfer()
	defer segment.EndTransfer()

	transfer := ipc.SegmentTransfer{
		Size:     int64(segment.Size()),
		CopyTo:   copyTo,
		CopyFrom: copyFrom,
	}
	var binding ipc.SegmentBinding
	if err := c.bridge.Call(ctx, ipc.MethodSendSegment, transfer, &binding, segment.File()); err != nil {
		return 0, err
	}
	return binding.Address, nil
}

// Cache records segment under address and returns its view. The cache
// takes ownership of segment. Caching a second segment under a live
// address fails.
func (c *BufferCache) Cache(address ipc.Address, segment *shm.Segment) (*View, error) {
	if address.IsZero() {
		return nil, fmt.Errorf("bridge: cannot cache a segment under the zero address")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[address]; exists {
		return nil, fmt.Errorf("bridge: address %s already cached", address)
	}
	segment.Bind(shm.OwnerHost)
	view := &View{segment: segment}
	c.entries[address] = &cacheEntry{segment: segment, view: view}
	return view, nil
}

// Lookup returns the segment cached under address.
func (c *BufferCache) Lookup(address ipc.Address) (*shm.Segment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSegment, address)
	}
	return entry.segment, nil
}

// View returns the view over the buffer cached under address.
func (c *BufferCache) View(address ipc.Address) (*View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSegment, address)
	}
	return entry.view, nil
}

// Release detaches the buffer's view, unmaps the segment, and removes
// it. Later lookups of address fail with ErrUnknownSegment.
func (c *BufferCache) Release(address ipc.Address) error {
	c.mu.Lock()
	entry, ok := c.entries[address]
	delete(c.entries, address)
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSegment, address)
	}
	entry.view.Detach()
	return entry.segment.Close()
}

// Len returns the number of cached buffers.
func (c *BufferCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close releases every cached buffer and returns the first error.
func (c *BufferCache) Close() error {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[ipc.Address]*cacheEntry)
	c.mu.Unlock()

	var firstError error
	for _, entry := range entries {
		entry.view.Detach()
		if err := entry.segment.Close(); err != nil && firstError == nil {
			firstError = err
		}
	}
	return firstError
}
