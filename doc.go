// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package circalloc implements a bounded, deterministic, lock-free
// allocator for embedded and latency-sensitive systems that need
// malloc/free-like semantics without calling into the operating system,
// without spinlocks that park the scheduler, and without context
// switches.
//
// The target use case is inter-process-communication tracing: many
// producers allocate small, short-lived blocks from one shared
// fixed-size arena; blocks are released in approximately FIFO order
// (strict FIFO per producer, interleaved across producers); the arena
// never fragments indefinitely as long as older blocks eventually get
// freed.
//
// # Two structures
//
// The allocator keeps two cooperating structures:
//
//   - Buffer: a circular arena of variable-length blocks. Each block
//     starts with an 8-byte header (listEntryOffset, blockLength) and
//     is aligned to 16 bytes.
//   - List: a circular array of fixed-size descriptors, one per live
//     allocation, providing a stable identity for each block and a
//     lock-free FIFO free queue.
//
// Alloc reserves one List slot and one Buffer region (possibly preceded
// by a wrap gap), links them, and returns a pointer just past the
// Buffer block's header. Free flips the owning descriptor's free bit,
// then walks the List from its tail, retiring consecutively-freed
// entries and advancing both structures' tails.
//
// # Non-goals
//
// No coalescing of freed middle blocks, no best-fit search, no
// alignment other than 16 bytes, and no reclaiming of freed holes that
// are not at the Buffer tail — freed middle blocks stay unavailable
// until every older block is also freed. This keeps Alloc O(1) and Free
// O(k), k being the number of consecutively-free blocks uncovered at
// the tail.
//
// # Construction
//
// Construction takes a caller-owned byte arena and a caller-owned,
// pre-zeroed descriptor array; the allocator never allocates, frees, or
// resizes either. Destruction requires the caller to guarantee no
// concurrent Alloc/Free calls are in flight.
//
//	descriptors := make([]atomix.Uint64, 256)
//	a, err := circalloc.New(make([]byte, 1<<20), descriptors)
//	ptr, err := a.Alloc(64)
//	err = a.Free(ptr)
//
// # Thread safety
//
// Alloc and Free are safe for concurrent use from any number of
// goroutines. All synchronization is compare-and-swap on 8-byte words;
// there are no locks, no condition variables, and no suspension points.
//
// # Dependencies
//
// circalloc depends on:
//   - atomix: explicit acquire/release/relaxed atomics on packed 64-bit
//     descriptor words.
//   - iox: semantic error values (ErrWouldBlock-shaped capacity errors).
//   - spin: adaptive backoff for CAS retry loops.
package circalloc
