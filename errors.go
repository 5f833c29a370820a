// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package circalloc

import (
	"errors"

	"code.hybscloud.com/iox"
)

// Debug enables the extra double-free/foreign-pointer checks Free performs
// before it would otherwise corrupt allocator state. It costs a handful of
// extra loads on every Free call, so it defaults to off — the hot path
// matches the teacher stack's "no cost unless asked for" stance.
var Debug = false

var (
	// ErrOutOfSpace is returned by Alloc when either the List's descriptor
	// array or the Buffer's arena has no room for the request: "try again
	// once something else is freed," not a failure. Alloc also returns it
	// for a size of 0 or a size greater than the arena length minus 16;
	// such a request never succeeds on retry.
	ErrOutOfSpace = iox.ErrWouldBlock

	// ErrForeignPointer is returned by Free, only when Debug is true, for
	// a pointer that was not returned by this allocator's Alloc. Without
	// Debug this condition is undefined behaviour per the allocator's
	// contract.
	ErrForeignPointer = errors.New("circalloc: foreign pointer")

	// ErrDoubleFree is returned by Free, only when Debug is true, for a
	// pointer that has already been freed. Without Debug this condition
	// is undefined behaviour per the allocator's contract.
	ErrDoubleFree = errors.New("circalloc: double free")

	// ErrInvalidArena is returned by New when the arena or descriptor
	// array does not satisfy the allocator's construction contract.
	ErrInvalidArena = errors.New("circalloc: invalid arena or descriptor array")
)
