// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import "fmt"

// Address is an opaque key for a buffer in the child's address space.
// The high 32 bits hold a slot index plus one, the low 32 bits the
// slot's generation at the time the address was issued. Reusing a
// slot bumps its generation, so an address held across a release never
// resolves to the slot's next occupant.
//
// The zero Address means "no address".
type Address uint64

// MakeAddress composes an address from a zero-based slot index and a
// generation.
func MakeAddress(slot uint32, generation uint32) Address {
	return Address(uint64(slot+1)<<32 | uint64(generation))
}

// Slot returns the zero-based slot index. ok is false for the zero
// Address.
func (a Address) Slot() (slot uint32, ok bool) {
	high := uint32(a >> 32)
	if high == 0 {
		return 0, false
	}
	return high - 1, true
}

// Generation returns the generation half of the address.
func (a Address) Generation() uint32 {
	return uint32(a)
}

// IsZero reports whether a is the zero Address.
func (a Address) IsZero() bool {
	return a == 0
}

func (a Address) String() string {
	slot, ok := a.Slot()
	if !ok {
		return "addr(none)"
	}
	return fmt.Sprintf("addr(%d/%d)", slot, a.Generation())
}
