// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package circalloc

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// list is the fixed-length array of descriptor slots plus the ListQueue
// descriptor (spec §4.2). It provides a stable identity for each live
// allocation and a lock-free FIFO free queue. Capacity is whatever the
// embedder passed to New — it is not rounded to a power of two, since the
// descriptor array is caller-owned, fixed-size storage, not a pool this
// type is free to resize.
//
// queue is padded to its own cache line for the same reason buffer's is:
// it is CASed on every reserveSlot/rollbackSlot/advanceTail and must not
// false-share with entries/capacity or with buffer's queue word.
type list struct {
	_ noCopy

	entries  []atomix.Uint64
	capacity uint32

	_     [CacheLineSize]byte
	queue atomix.Uint64 // packed queueState{tail, length}
	_     [CacheLineSize]byte
}

func newList(descriptors []atomix.Uint64) *list {
	return &list{entries: descriptors, capacity: uint32(len(descriptors))}
}

// reserveSlot claims the head slot of the list, returning its index and the
// queue word observed immediately after the winning CAS (so a failed Buffer
// reservation can attempt the optimistic rollback of spec §4.3 step 3).
func (l *list) reserveSlot() (idx uint32, afterSnapshot uint64, err error) {
	sw := spin.Wait{}
	for {
		before := l.queue.LoadAcquire()
		q := unpackQueueState(before)
		if q.length == l.capacity {
			return 0, 0, ErrOutOfSpace
		}
		idx = (q.tail + q.length) % l.capacity
		after := queueState{tail: q.tail, length: q.length + 1}.pack()
		if l.queue.CompareAndSwapAcqRel(before, after) {
			return idx, after, nil
		}
		sw.Once()
	}
}

// rollbackSlot undoes a reservation made with the given afterSnapshot,
// provided no other List reservation has happened since. It reports
// whether the rollback succeeded; on failure the caller must fall back to
// marking the slot a ghost instead (spec §4.3 step 3).
func (l *list) rollbackSlot(afterSnapshot uint64) bool {
	after := unpackQueueState(afterSnapshot)
	before := queueState{tail: after.tail, length: after.length - 1}
	return l.queue.CompareAndSwapAcqRel(afterSnapshot, before.pack())
}

// markGhost transitions a reserved (all-zero) slot into the failed-alloc
// ghost state. The CAS cannot legitimately lose — no other thread touches
// a slot still in the Reserved state — so a loss means corruption.
func (l *list) markGhost(idx uint32) {
	ghost := listEntry{free: true}
	if !l.entries[idx].CompareAndSwapAcqRel(0, ghost.pack()) {
		panic("circalloc: corrupt list slot on ghost transition")
	}
}

// publish transitions a reserved (all-zero) slot to Live, making the
// allocation visible to other threads. Like markGhost, the CAS cannot
// legitimately lose.
func (l *list) publish(idx uint32, e listEntry) {
	if !l.entries[idx].CompareAndSwapAcqRel(0, e.pack()) {
		panic("circalloc: corrupt list slot on publish")
	}
}

// markFree flips the free bit of the slot owning a live block. Checked
// double-free/foreign-pointer detection only runs when Debug is set —
// spec §7 treats both as undefined behaviour otherwise.
func (l *list) markFree(idx uint32) (listEntry, error) {
	if Debug {
		raw := l.entries[idx].LoadAcquire()
		if raw == 0 {
			return listEntry{}, ErrForeignPointer
		}
		if unpackListEntry(raw).free {
			return listEntry{}, ErrDoubleFree
		}
	}
	sw := spin.Wait{}
	for {
		raw := l.entries[idx].LoadAcquire()
		e := unpackListEntry(raw)
		e.free = true
		if l.entries[idx].CompareAndSwapAcqRel(raw, e.pack()) {
			return e, nil
		}
		sw.Once()
	}
}

// peekTail reads the current tail slot without mutating anything. ok is
// false when the List is empty (nothing to retire).
func (l *list) peekTail() (raw uint64, idx uint32, ok bool) {
	q := unpackQueueState(l.queue.LoadAcquire())
	if q.length == 0 {
		return 0, 0, false
	}
	idx = q.tail % l.capacity
	return l.entries[idx].LoadAcquire(), idx, true
}

// retireSlot attempts to transition the tail slot from raw to the VOID
// state. Success grants the caller exclusive rights to retire this slot
// (including, for a real entry, releasing its Buffer bytes) and to advance
// the queue's tail. Failure means another Free call's walk is concurrently
// retiring the same slot; the caller must abandon its own walk.
func (l *list) retireSlot(idx uint32, raw uint64) bool {
	return l.entries[idx].CompareAndSwapAcqRel(raw, 0)
}

// advanceTail moves the queue tail forward by one slot and decrements its
// length. Only the thread that won retireSlot for the current tail may call
// this; it still loops because a concurrent reserveSlot may have changed
// length underneath it.
func (l *list) advanceTail() {
	sw := spin.Wait{}
	for {
		before := l.queue.LoadAcquire()
		q := unpackQueueState(before)
		after := queueState{tail: (q.tail + 1) % l.capacity, length: q.length - 1}.pack()
		if l.queue.CompareAndSwapAcqRel(before, after) {
			return
		}
		sw.Once()
	}
}

// snapshot returns the current {tail, length} pair for diagnostics (Stats).
func (l *list) snapshot() queueState {
	return unpackQueueState(l.queue.LoadAcquire())
}
