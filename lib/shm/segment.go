// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package shm

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// ErrClosed is returned by operations on a closed segment.
var ErrClosed = errors.New("shm: segment closed")

// Owner records which side registered a segment under an address.
type Owner uint8

const (
	// Unbound segments are mapped but not yet registered.
	Unbound Owner = iota

	// OwnerHost marks a segment held by the host's buffer cache.
	OwnerHost

	// OwnerChild marks a mapping held by the child's buffer table.
	OwnerChild
)

func (o Owner) String() string {
	switch o {
	case Unbound:
		return "unbound"
	case OwnerHost:
		return "host"
	case OwnerChild:
		return "child"
	default:
		return fmt.Sprintf("owner(%d)", uint8(o))
	}
}

// Segment is one shared-memory mapping and the descriptor backing it.
type Segment struct {
	mu     sync.Mutex
	file   *os.File
	data   []byte
	owner  Owner
	closed bool

	// transferring is set while a copy through this segment is in
	// flight. Transfers are strictly request/response, so a second
	// one starting is a caller bug, not contention.
	transferring atomic.Bool
}

// Create allocates size bytes of shared memory. name appears in
// /proc/<pid>/fd and /proc/<pid>/maps only.
func Create(name string, size int) (*Segment, error) {
	if size <= 0 {
		return nil, fmt.Errorf("shm: segment size must be positive, got %d", size)
	}

	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("shm: memfd_create: %w", err)
	}
	file := os.NewFile(uintptr(fd), name)

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		file.Close()
		return nil, fmt.Errorf("shm: ftruncate to %d bytes: %w", size, err)
	}

	segment, err := mapFile(file, size)
	if err != nil {
		file.Close()
		return nil, err
	}
	return segment, nil
}

// Map maps a segment descriptor received from the peer. size must not
// exceed the descriptor's length. Map takes ownership of file: it is
// closed on failure and by Segment.Close on success.
func Map(file *os.File, size int) (*Segment, error) {
	if size <= 0 {
		file.Close()
		return nil, fmt.Errorf("shm: segment size must be positive, got %d", size)
	}

	var stat unix.Stat_t
	if err := unix.Fstat(int(file.Fd()), &stat); err != nil {
		file.Close()
		return nil, fmt.Errorf("shm: fstat %s: %w", file.Name(), err)
	}
	if stat.Size < int64(size) {
		file.Close()
		return nil, fmt.Errorf("shm: %s is %d bytes, mapping needs %d", file.Name(), stat.Size, size)
	}

	segment, err := mapFile(file, size)
	if err != nil {
		file.Close()
		return nil, err
	}
	return segment, nil
}

func mapFile(file *os.File, size int) (*Segment, error) {
	data, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap %d bytes: %w", size, err)
	}
	return &Segment{file: file, data: data}, nil
}

// File returns the descriptor backing the segment, for attaching to a
// frame. The segment keeps ownership; do not close it.
func (s *Segment) File() *os.File {
	return s.file
}

// Size returns the mapped length in bytes.
func (s *Segment) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// Bytes returns the mapping. Panics if the segment has been closed:
// touching an unmapped region would fault instead.
func (s *Segment) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		panic("shm: access to closed segment")
	}
	return s.data
}

// Owner returns the side the segment is registered with.
func (s *Segment) Owner() Owner {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

// Bind records owner as the registering side. Binding an already
// bound segment to a different owner panics.
func (s *Segment) Bind(owner Owner) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.owner != Unbound && s.owner != owner {
		panic(fmt.Sprintf("shm: segment bound to %s, rebinding to %s", s.owner, owner))
	}
	s.owner = owner
}

// BeginTransfer marks a copy through the segment as in flight. Panics
// if one already is.
func (s *Segment) BeginTransfer() {
	if !s.transferring.CompareAndSwap(false, true) {
		panic("shm: concurrent transfer on one segment")
	}
}

// EndTransfer clears the in-flight mark set by BeginTransfer.
func (s *Segment) EndTransfer() {
	s.transferring.Store(false)
}

// CopyIn copies source into the start of the segment. Returns the
// number of bytes copied.
func (s *Segment) CopyIn(source []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	if len(source) > len(s.data) {
		return 0, fmt.Errorf("shm: %d bytes do not fit a %d-byte segment", len(source), len(s.data))
	}
	return copy(s.data, source), nil
}

// CopyOut returns a heap copy of the first size bytes.
func (s *Segment) CopyOut(size int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if size < 0 || size > len(s.data) {
		return nil, fmt.Errorf("shm: cannot read %d bytes from a %d-byte segment", size, len(s.data))
	}
	out := make([]byte, size)
	copy(out, s.data)
	return out, nil
}

// Close unmaps the memory and closes the descriptor. Idempotent.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var firstError error
	if err := unix.Munmap(s.data); err != nil {
		firstError = fmt.Errorf("shm: munmap: %w", err)
	}
	if err := s.file.Close(); err != nil && firstError == nil {
		firstError = fmt.Errorf("shm: closing descriptor: %w", err)
	}
	s.data = nil
	return firstError
}
