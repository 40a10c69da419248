// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"fmt"
	"sync"

	"github.com/bureau-foundation/renderhost/lib/ipc"
	"github.com/bureau-foundation/renderhost/lib/shm"
)

type tableSlot struct {
	generation uint32
	used       bool

	// Exactly one of segment and private is set on a used slot.
	segment *shm.Segment
	private []byte
}

// BufferTable is the child's address space for buffers the plugin can
// name across the channel: shared segments the host registered, and
// private buffers the plugin allocated as copy targets and sources.
//
// Addresses carry a per-slot generation. Releasing a buffer bumps its
// slot's generation, so an address kept past its release fails lookup
// instead of resolving to whatever reuses the slot.
type BufferTable struct {
	mu    sync.Mutex
	slots []tableSlot
	live  int
}

// NewBufferTable returns an empty table.
func NewBufferTable() *BufferTable {
	return &BufferTable{}
}

// claim takes the lowest free slot.
func (t *BufferTable) claim() uint32 {
	for index := range t.slots {
		if !t.slots[index].used {
			t.slots[index].used = true
			t.live++
			return uint32(index)
		}
	}
	t.slots = append(t.slots, tableSlot{used: true})
	t.live++
	return uint32(len(t.slots) - 1)
}

// Register adds a mapped segment and returns its address. The table
// takes ownership of segment.
func (t *BufferTable) Register(segment *shm.Segment) ipc.Address {
	segment.Bind(shm.OwnerChild)

	t.mu.Lock()
	defer t.mu.Unlock()
	index := t.claim()
	t.slots[index].segment = segment
	return ipc.MakeAddress(index, t.slots[index].generation)
}

// Allocate adds a private, zeroed buffer of size bytes.
func (t *BufferTable) Allocate(size int) (ipc.Address, error) {
	if size <= 0 {
		return 0, fmt.Errorf("%w: size must be positive, got %d", ErrAllocationFailed, size)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	index := t.claim()
	t.slots[index].private = make([]byte, size)
	return ipc.MakeAddress(index, t.slots[index].generation), nil
}

// resolve returns the live slot for address. Callers hold t.mu.
func (t *BufferTable) resolve(address ipc.Address) (*tableSlot, error) {
	index, ok := address.Slot()
	if !ok || int(index) >= len(t.slots) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSegment, address)
	}
	slot := &t.slots[index]
	if !slot.used || slot.generation != address.Generation() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSegment, address)
	}
	return slot, nil
}

// Bytes returns the memory behind address.
func (t *BufferTable) Bytes(address ipc.Address) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot, err := t.resolve(address)
	if err != nil {
		return nil, err
	}
	if slot.segment != nil {
		return slot.segment.Bytes(), nil
	}
	return slot.private, nil
}

// Release frees address, unmapping it if it is a shared segment.
func (t *BufferTable) Release(address ipc.Address) error {
	t.mu.Lock()
	slot, err := t.resolve(address)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	segment := slot.segment
	*slot = tableSlot{generation: slot.generation + 1}
	t.live--
	t.mu.Unlock()

	if segment != nil {
		return segment.Close()
	}
	return nil
}

// Len returns the number of live buffers.
func (t *BufferTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

// Close releases every buffer and returns the first unmap error.
func (t *BufferTable) Close() error {
	t.mu.Lock()
	var segments []*shm.Segment
	for index := range t.slots {
		slot := &t.slots[index]
		if !slot.used {
			continue
		}
		if slot.segment != nil {
			segments = append(segments, slot.segment)
		}
		*slot = tableSlot{generation: slot.generation + 1}
	}
	t.live = 0
	t.mu.Unlock()

	var firstError error
	for _, segment := range segments {
		if err := segment.Close(); err != nil && firstError == nil {
			firstError = err
		}
	}
	return firstError
}
