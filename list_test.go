// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package circalloc

import (
	"sync"
	"testing"

	"code.hybscloud.com/atomix"
)

func newTestList(capacity int) *list {
	return newList(make([]atomix.Uint64, capacity))
}

func TestListReserveFillsInOrder(t *testing.T) {
	l := newTestList(4)
	for i := uint32(0); i < 4; i++ {
		idx, _, err := l.reserveSlot()
		if err != nil {
			t.Fatalf("reserveSlot %d: %v", i, err)
		}
		if idx != i {
			t.Fatalf("reserveSlot %d: got index %d, want %d", i, idx, i)
		}
	}
}

func TestListReserveOutOfSpace(t *testing.T) {
	l := newTestList(2)
	if _, _, err := l.reserveSlot(); err != nil {
		t.Fatal(err)
	}
	if _, _, err := l.reserveSlot(); err != nil {
		t.Fatal(err)
	}
	if _, _, err := l.reserveSlot(); err != ErrOutOfSpace {
		t.Fatalf("got %v, want ErrOutOfSpace", err)
	}
}

func TestListRollbackSlot(t *testing.T) {
	l := newTestList(2)
	_, after, err := l.reserveSlot()
	if err != nil {
		t.Fatal(err)
	}
	if !l.rollbackSlot(after) {
		t.Fatal("rollbackSlot should succeed when no other reservation happened")
	}
	q := unpackQueueState(l.queue.LoadAcquire())
	if q.length != 0 {
		t.Fatalf("length after rollback = %d, want 0", q.length)
	}
}

func TestListRollbackFailsAfterAnotherReserve(t *testing.T) {
	l := newTestList(2)
	_, after, err := l.reserveSlot()
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := l.reserveSlot(); err != nil {
		t.Fatal(err)
	}
	if l.rollbackSlot(after) {
		t.Fatal("rollbackSlot should fail once another reservation changed the queue")
	}
}

func TestListPublishAndMarkFree(t *testing.T) {
	l := newTestList(2)
	idx, _, err := l.reserveSlot()
	if err != nil {
		t.Fatal(err)
	}
	l.publish(idx, listEntry{offset: 3, length: 5})

	e, err := l.markFree(idx)
	if err != nil {
		t.Fatal(err)
	}
	if !e.free || e.offset != 3 || e.length != 5 {
		t.Fatalf("markFree returned %+v", e)
	}
}

func TestListMarkGhost(t *testing.T) {
	l := newTestList(2)
	idx, _, err := l.reserveSlot()
	if err != nil {
		t.Fatal(err)
	}
	l.markGhost(idx)

	raw, tailIdx, ok := l.peekTail()
	if !ok {
		t.Fatal("peekTail: list should not be empty")
	}
	if tailIdx != idx {
		t.Fatalf("tail index = %d, want %d", tailIdx, idx)
	}
	e := unpackListEntry(raw)
	if !e.free || e.length != 0 {
		t.Fatalf("ghost entry = %+v, want free with length 0", e)
	}
}

func TestListRetireAndAdvanceWalksFIFO(t *testing.T) {
	l := newTestList(4)
	var indices []uint32
	for i := 0; i < 3; i++ {
		idx, _, err := l.reserveSlot()
		if err != nil {
			t.Fatal(err)
		}
		l.publish(idx, listEntry{offset: uint32(i), length: 1})
		indices = append(indices, idx)
	}

	for _, want := range indices {
		if _, err := l.markFree(want); err != nil {
			t.Fatal(err)
		}
		raw, idx, ok := l.peekTail()
		if !ok {
			t.Fatal("peekTail: expected an entry")
		}
		if idx != want {
			t.Fatalf("retire order: got %d, want %d", idx, want)
		}
		if !l.retireSlot(idx, raw) {
			t.Fatal("retireSlot should succeed uncontended")
		}
		l.advanceTail()
	}

	q := l.snapshot()
	if q.length != 0 {
		t.Fatalf("length after retiring all entries = %d, want 0", q.length)
	}
}

func TestListRetireSlotLosesRaceReturnsFalse(t *testing.T) {
	l := newTestList(2)
	idx, _, err := l.reserveSlot()
	if err != nil {
		t.Fatal(err)
	}
	l.publish(idx, listEntry{offset: 0, length: 1})
	if _, err := l.markFree(idx); err != nil {
		t.Fatal(err)
	}

	raw, _, ok := l.peekTail()
	if !ok {
		t.Fatal("peekTail: expected an entry")
	}
	if !l.retireSlot(idx, raw) {
		t.Fatal("first retireSlot should succeed")
	}
	if l.retireSlot(idx, raw) {
		t.Fatal("second retireSlot with a stale expectation must fail")
	}
}

func TestListConcurrentReserveNeverDoubleAssignsIndex(t *testing.T) {
	const capacity = 64
	const goroutines = 16
	l := newTestList(capacity)

	seen := make([]int32, capacity)
	var seenMu sync.Mutex
	var wg sync.WaitGroup
	errs := make(chan error, goroutines*capacity/goroutines)

	reservationsPer := capacity / goroutines
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < reservationsPer; i++ {
				idx, _, err := l.reserveSlot()
				if err != nil {
					errs <- err
					return
				}
				seenMu.Lock()
				seen[idx]++
				seenMu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	for i, n := range seen {
		if n != 1 {
			t.Fatalf("slot %d reserved %d times, want exactly 1", i, n)
		}
	}
}
