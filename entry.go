// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package circalloc

import "unsafe"

// align is the fixed block and header alignment required by this
// allocator (spec Non-goals: no alignment other than 16).
const align = 16

// MaxArenaSize is the largest arena this allocator can address. A List
// entry encodes offset and length in 16-byte units within 28 bits each,
// so the largest representable offset is (1<<28 - 1) * 16, just under 4 GiB.
const MaxArenaSize = (1<<28 - 1) * align

// listEntry is the unpacked form of one List descriptor slot.
//
// Four states, matching spec §3/§4.5:
//
//	free=false length=0  Reserved   (all-zero slot)
//	free=true  length=0  Ghost      (failed-alloc)
//	free=false length!=0 Live
//	free=true  length!=0 Dead
type listEntry struct {
	free   bool
	offset uint32 // byte offset into Buffer, in 16-byte units
	length uint32 // total block length, in 16-byte units
}

const (
	listEntryFreeBit     = uint64(1) << 63
	listEntryOffsetMask  = uint64(1)<<28 - 1
	listEntryOffsetShift = 35
	listEntryLengthMask  = uint64(1)<<28 - 1
	listEntryLengthShift = 7
)

// pack encodes a listEntry into the single 64-bit word CAS operates on.
func (e listEntry) pack() uint64 {
	w := uint64(e.offset&uint32(listEntryOffsetMask)) << listEntryOffsetShift
	w |= uint64(e.length&uint32(listEntryLengthMask)) << listEntryLengthShift
	if e.free {
		w |= listEntryFreeBit
	}
	return w
}

// unpackListEntry decodes a 64-bit word read from a List slot.
func unpackListEntry(w uint64) listEntry {
	return listEntry{
		free:   w&listEntryFreeBit != 0,
		offset: uint32((w >> listEntryOffsetShift) & listEntryOffsetMask),
		length: uint32((w >> listEntryLengthShift) & listEntryLengthMask),
	}
}

// isVoid reports whether the slot is in the pre-reservation / post-retirement
// all-zero state. Reserved slots (in-queue, not yet published) are also
// all-zero; the distinction is positional, not bit-level — see list.reserveSlot.
func (e listEntry) isVoid() bool { return e.pack() == 0 }

// queueState is the unpacked form of a ListQueue/BufferQueue descriptor:
// an explicit {tail, length} pair CAS-updated as a single word so that
// head position (tail+length) and length are never observed torn.
type queueState struct {
	tail   uint32
	length uint32
}

func (q queueState) pack() uint64 {
	return uint64(q.tail)<<32 | uint64(q.length)
}

func unpackQueueState(w uint64) queueState {
	return queueState{tail: uint32(w >> 32), length: uint32(w)}
}

// bufferBlockHeader is the 8-byte header placed at the start of every
// Buffer block: a 32-bit signed List index (or -1 for a gap block) and a
// 32-bit unsigned total block length in bytes.
type bufferBlockHeader struct {
	listEntryOffset int32
	blockLength     uint32
}

const gapBlockOwner int32 = -1

// blockHeaderAt returns a pointer to the header at the given byte offset
// into arena. The write/read through this pointer is an ordinary,
// non-atomic memory access: spec §4.3 step 4 requires the header to be
// written before the publishing CAS, and visible only after it, which the
// release/acquire pair on the List slot itself (not on the header)
// provides.
func blockHeaderAt(arena []byte, offset uint32) *bufferBlockHeader {
	return (*bufferBlockHeader)(unsafe.Add(unsafe.Pointer(unsafe.SliceData(arena)), offset))
}

// payloadAt returns a pointer to the first payload byte of the block at
// offset, i.e. 16 bytes past the block's header.
func payloadAt(arena []byte, offset uint32) unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(unsafe.SliceData(arena)), offset+align)
}
