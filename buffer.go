// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package circalloc

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// buffer is the circular byte arena plus the BufferQueue descriptor
// (spec §4.1). tail and length in the queue word are kept in 16-byte
// units, matching the packing spec.md §3 describes for BufferQueue;
// block headers in the arena itself stay in bytes (spec.md §9's
// resolution of that open question).
//
// queue is the single word every Alloc/Free call CASes; padding it to its
// own cache line keeps that traffic from false-sharing with arena/sizeUnits
// or with list's queue word in *Allocator.
type buffer struct {
	_ noCopy

	arena     []byte
	sizeUnits uint32 // len(arena) / 16

	_     [CacheLineSize]byte
	queue atomix.Uint64
	_     [CacheLineSize]byte
}

func newBuffer(arena []byte) *buffer {
	return &buffer{arena: arena, sizeUnits: uint32(len(arena)) / align}
}

// reservation describes one Buffer.reserve outcome: the real block's byte
// offset and length, and, when the request required wrap-around padding,
// the gap block's byte offset and length.
type reservation struct {
	realOffset uint32
	realLength uint32
	gapOffset  uint32
	gapLength  uint32
	hasGap     bool
}

// reserve claims nsize contiguous bytes at the Buffer head, inserting a
// wrap gap first if the request does not fit before the physical end of
// the arena (spec §4.1 "Wrap handling", §4.3 step 2). nsize must already
// be a positive multiple of 16.
func (b *buffer) reserve(nsize uint32) (reservation, error) {
	nsizeUnits := nsize / align
	sw := spin.Wait{}
	for {
		before := b.queue.LoadAcquire()
		q := unpackQueueState(before)

		var realUnits, gapUnits, rsizeUnits uint32
		var hasGap bool

		if q.tail+q.length < b.sizeUnits {
			headUnits := q.tail + q.length
			freeToEnd := b.sizeUnits - headUnits
			if nsizeUnits <= freeToEnd {
				realUnits = headUnits
				rsizeUnits = nsizeUnits
			} else {
				gapUnits = headUnits
				hasGap = true
				realUnits = 0
				rsizeUnits = freeToEnd + nsizeUnits
			}
		} else {
			headUnits := (q.tail + q.length) - b.sizeUnits
			realUnits = headUnits
			rsizeUnits = nsizeUnits
		}

		// Invariant 5: length must never reach sizeUnits, or head==tail
		// would be ambiguous between "full" and "empty".
		if q.length+rsizeUnits >= b.sizeUnits {
			return reservation{}, ErrOutOfSpace
		}

		after := queueState{tail: q.tail, length: q.length + rsizeUnits}.pack()
		if b.queue.CompareAndSwapAcqRel(before, after) {
			r := reservation{
				realOffset: realUnits * align,
				realLength: nsize,
				hasGap:     hasGap,
			}
			if hasGap {
				r.gapOffset = gapUnits * align
				r.gapLength = (rsizeUnits - nsizeUnits) * align
			}
			return r, nil
		}
		sw.Once()
	}
}

// releaseFront advances the Buffer tail past a retired block of the given
// byte length (spec §4.4.2.d). A wrap gap always sits immediately at the
// tail for the very first real block reserved after it — the allocation
// that needed the gap placed the gap at what was then the head, which is
// also the tail whenever the Buffer was empty at wrap time — so any gap
// currently at the tail is cascaded past before the real block is
// released, and again afterwards in case another gap is now exposed. The
// caller must hold exclusive retirement rights for the block being
// released (won via list.retireSlot).
func (b *buffer) releaseFront(blockLength uint32) {
	b.cascadeGaps()

	lengthUnits := blockLength / align
	sw := spin.Wait{}
	for {
		before := b.queue.LoadAcquire()
		q := unpackQueueState(before)
		after := queueState{
			tail:   (q.tail + lengthUnits) % b.sizeUnits,
			length: q.length - lengthUnits,
		}.pack()
		if b.queue.CompareAndSwapAcqRel(before, after) {
			break
		}
		sw.Once()
	}
	b.cascadeGaps()
}

// cascadeGaps advances the tail past consecutive gap blocks (Buffer blocks
// whose header owner is gapBlockOwner) sitting at the current tail. Gap blocks have no List
// entry, so this is purely a Buffer-side operation.
func (b *buffer) cascadeGaps() {
	sw := spin.Wait{}
	for {
		before := b.queue.LoadAcquire()
		q := unpackQueueState(before)
		if q.length == 0 {
			return
		}
		h := blockHeaderAt(b.arena, q.tail*align)
		if h.listEntryOffset != gapBlockOwner {
			return
		}
		gapUnits := h.blockLength / align
		after := queueState{
			tail:   (q.tail + gapUnits) % b.sizeUnits,
			length: q.length - gapUnits,
		}.pack()
		if b.queue.CompareAndSwapAcqRel(before, after) {
			sw = spin.Wait{}
			continue
		}
		sw.Once()
	}
}

// snapshot returns the current {tail, length} pair, in 16-byte units, for
// diagnostics (Stats).
func (b *buffer) snapshot() queueState {
	return unpackQueueState(b.queue.LoadAcquire())
}
