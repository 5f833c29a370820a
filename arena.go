// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package circalloc

import (
	"unsafe"

	"code.hybscloud.com/atomix"

	"github.com/jcurl/circalloc/internal"
)

// PageSize defines the standard memory page size (4 KiB) used for alignment.
var PageSize uintptr = 4096

// SetPageSize updates the package-level page size used by NewArena.
func SetPageSize(size int) {
	PageSize = uintptr(size)
}

// CacheLineSize is the CPU L1 cache line size for the current architecture,
// used to keep the allocator's two queue words on separate cache lines.
const CacheLineSize = internal.CacheLineSize

// NewArena returns a page-aligned byte slice of size bytes, suitable for use
// as the arena argument to New. size is rounded up to a multiple of 16.
//
// Page alignment is not required by the allocator itself — only 16-byte
// block alignment is — but a page-aligned arena is friendlier to embedders
// that also want to mmap, register, or DMA into the same memory.
//
// The returned slice points into a larger, over-allocated backing array;
// its length and capacity are both the rounded size.
func NewArena(size int) []byte {
	size = int(align16(uint32(size)))
	p := make([]byte, uintptr(size)+PageSize-1)
	base := unsafe.Pointer(unsafe.SliceData(p))
	offset := ((uintptr(base)+PageSize-1)/PageSize)*PageSize - uintptr(base)
	return unsafe.Slice((*byte)(unsafe.Add(base, offset)), size)
}

// NewDescriptors returns a pre-zeroed descriptor array of n slots, suitable
// for use as the descriptors argument to New.
func NewDescriptors(n int) []atomix.Uint64 {
	return make([]atomix.Uint64, n)
}

func align16(n uint32) uint32 {
	return (n + 15) &^ 15
}
