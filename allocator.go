// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package circalloc

import (
	"unsafe"

	"code.hybscloud.com/atomix"
)

// Allocator is a bounded, lock-free, malloc/free-style allocator over a
// caller-owned byte arena and a caller-owned descriptor array. The zero
// value is not usable; construct with New.
//
// Allocator is safe for concurrent use by any number of goroutines calling
// Alloc and Free. It holds no lock: every operation is a bounded loop of
// compare-and-swap retries.
type Allocator struct {
	_ noCopy

	buf  *buffer
	list *list
}

// New constructs an Allocator over arena and descriptors. arena's length
// must be a positive multiple of 16 and at most MaxArenaSize; descriptors
// must have at least one element and must be pre-zeroed (the zero value of
// atomix.Uint64 already satisfies this). Both slices are retained and
// mutated in place for the Allocator's lifetime; the caller must not touch
// them directly and must guarantee no concurrent Alloc/Free calls are in
// flight when the Allocator is discarded.
func New(arena []byte, descriptors []atomix.Uint64) (*Allocator, error) {
	if len(arena) == 0 || len(arena)%align != 0 || len(arena) > MaxArenaSize {
		return nil, ErrInvalidArena
	}
	if len(descriptors) < 1 || len(descriptors) > MaxArenaSize {
		return nil, ErrInvalidArena
	}
	if len(arena) <= align {
		return nil, ErrInvalidArena
	}
	return &Allocator{buf: newBuffer(arena), list: newList(descriptors)}, nil
}

// Alloc reserves a 16-byte aligned region of at least size usable bytes
// and returns a pointer to its first payload byte. It returns
// ErrOutOfSpace if the descriptor array or the arena has no room; the
// Allocator is left in a consistent state either way (spec §7).
func (a *Allocator) Alloc(size uint32) (unsafe.Pointer, error) {
	if size == 0 || size > uint32(len(a.buf.arena))-align {
		return nil, ErrOutOfSpace
	}
	nsize := align16(size) + align

	idx, afterSnapshot, err := a.list.reserveSlot()
	if err != nil {
		return nil, err
	}

	r, err := a.buf.reserve(nsize)
	if err != nil {
		if !a.list.rollbackSlot(afterSnapshot) {
			a.list.markGhost(idx)
		}
		return nil, err
	}

	if r.hasGap {
		gh := blockHeaderAt(a.buf.arena, r.gapOffset)
		gh.listEntryOffset = gapBlockOwner
		gh.blockLength = r.gapLength
	}
	h := blockHeaderAt(a.buf.arena, r.realOffset)
	h.listEntryOffset = int32(idx)
	h.blockLength = r.realLength

	a.list.publish(idx, listEntry{
		free:   false,
		offset: r.realOffset / align,
		length: r.realLength / align,
	})

	return payloadAt(a.buf.arena, r.realOffset), nil
}

// Free releases a pointer previously returned by Alloc. Calling Free twice
// on the same pointer, or on a pointer Alloc did not return, is undefined
// behaviour unless Debug is set, in which case it returns ErrDoubleFree or
// ErrForeignPointer.
func (a *Allocator) Free(ptr unsafe.Pointer) error {
	base := unsafe.Pointer(unsafe.SliceData(a.buf.arena))
	blockOffset := uint32(uintptr(ptr) - uintptr(base) - align)

	h := blockHeaderAt(a.buf.arena, blockOffset)
	if Debug && h.listEntryOffset < 0 {
		return ErrForeignPointer
	}
	idx := uint32(h.listEntryOffset)

	if _, err := a.list.markFree(idx); err != nil {
		return err
	}

	a.retireWalk()
	return nil
}

// retireWalk is the free protocol's retirement loop (spec §4.4.2): starting
// from the List tail, retire consecutively-freed entries, releasing each
// real entry's Buffer bytes and cascading past any gap blocks, until the
// walk reaches an entry that is not retirable or loses a retirement race to
// another Free call.
func (a *Allocator) retireWalk() {
	for {
		raw, idx, ok := a.list.peekTail()
		if !ok {
			return
		}
		e := unpackListEntry(raw)
		if raw == 0 || !e.free {
			return
		}
		if !a.list.retireSlot(idx, raw) {
			return // another Free call is retiring this slot; abandon.
		}
		if e.length != 0 {
			a.buf.releaseFront(e.length * align)
		}
		a.list.advanceTail()
	}
}

// Stats is a point-in-time, best-effort snapshot of allocator occupancy.
// It is racy by construction under concurrent Alloc/Free — it takes no
// lock and blocks nothing — and is meant for diagnostics and tests, not
// for control flow.
type Stats struct {
	ArenaBytes     uint32
	ArenaUsedBytes uint32
	ListCapacity   uint32
	ListInUse      uint32
}

// Stats returns a snapshot as described on the Stats type.
func (a *Allocator) Stats() Stats {
	bq := a.buf.snapshot()
	lq := a.list.snapshot()
	return Stats{
		ArenaBytes:     a.buf.sizeUnits * align,
		ArenaUsedBytes: bq.length * align,
		ListCapacity:   a.list.capacity,
		ListInUse:      lq.length,
	}
}
