// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package shm

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"golang.org/x/sys/unix"
)

func TestCreateSizes(t *testing.T) {
	for _, size := range []int{1, 4095, 4096, 1 << 20} {
		segment, err := Create("test-segment", size)
		if err != nil {
			t.Fatalf("Create(%d): %v", size, err)
		}
		if segment.Size() != size {
			t.Errorf("Size() = %d, want %d", segment.Size(), size)
		}
		if len(segment.Bytes()) != size {
			t.Errorf("len(Bytes()) = %d, want %d", len(segment.Bytes()), size)
		}
		if err := segment.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	}
}

func TestCreateRejectsNonPositive(t *testing.T) {
	for _, size := range []int{0, -1} {
		if _, err := Create("test-segment", size); err == nil {
			t.Errorf("Create(%d) should fail", size)
		}
	}
}

func TestMapSharesMemory(t *testing.T) {
	host, err := Create("test-segment", 64)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer host.Close()

	// Simulate the descriptor crossing the channel: the receiver gets
	// its own descriptor for the same memfd.
	duplicate, err := dupFile(host.File())
	if err != nil {
		t.Fatalf("dup: %v", err)
	}
	child, err := Map(duplicate, 64)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	defer child.Close()

	copy(host.Bytes(), "written by host")
	if !bytes.HasPrefix(child.Bytes(), []byte("written by host")) {
		t.Errorf("child does not see host write: %q", child.Bytes()[:15])
	}

	copy(child.Bytes()[32:], "written by child")
	if !bytes.HasPrefix(host.Bytes()[32:], []byte("written by child")) {
		t.Errorf("host does not see child write")
	}
}

func TestMapRejectsOversize(t *testing.T) {
	host, err := Create("test-segment", 16)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer host.Close()

	duplicate, err := dupFile(host.File())
	if err != nil {
		t.Fatalf("dup: %v", err)
	}
	if _, err := Map(duplicate, 4096); err == nil {
		t.Fatal("Map should refuse a size larger than the memfd")
	}
}

func TestCopyInOut(t *testing.T) {
	segment, err := Create("test-segment", 8)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer segment.Close()

	if _, err := segment.CopyIn([]byte("123456789")); err == nil {
		t.Error("CopyIn of 9 bytes into 8 should fail")
	}
	if n, err := segment.CopyIn([]byte("abcd")); err != nil || n != 4 {
		t.Fatalf("CopyIn = %d, %v", n, err)
	}
	out, err := segment.CopyOut(4)
	if err != nil {
		t.Fatalf("CopyOut: %v", err)
	}
	if string(out) != "abcd" {
		t.Errorf("CopyOut = %q", out)
	}
}

func TestCloseIdempotentAndFailsAccess(t *testing.T) {
	segment, err := Create("test-segment", 8)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := segment.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := segment.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := segment.CopyOut(1); !errors.Is(err, ErrClosed) {
		t.Errorf("CopyOut after Close = %v, want ErrClosed", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("Bytes after Close should panic")
		}
	}()
	segment.Bytes()
}

func TestConcurrentTransferPanics(t *testing.T) {
	segment, err := Create("test-segment", 8)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer segment.Close()

	segment.BeginTransfer()
	defer func() {
		if recover() == nil {
			t.Error("second BeginTransfer should panic")
		}
		segment.EndTransfer()
		// A completed transfer allows the next one.
		segment.BeginTransfer()
		segment.EndTransfer()
	}()
	segment.BeginTransfer()
}

func TestBindOwner(t *testing.T) {
	segment, err := Create("test-segment", 8)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer segment.Close()

	if segment.Owner() != Unbound {
		t.Fatalf("new segment owner = %s", segment.Owner())
	}
	segment.Bind(OwnerHost)
	segment.Bind(OwnerHost)
	if segment.Owner() != OwnerHost {
		t.Fatalf("owner = %s, want host", segment.Owner())
	}

	defer func() {
		if recover() == nil {
			t.Error("rebinding to another owner should panic")
		}
	}()
	segment.Bind(OwnerChild)
}

func dupFile(file *os.File) (*os.File, error) {
	fd, err := unix.FcntlInt(file.Fd(), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(fd), file.Name()+"-dup"), nil
}
