package taskpool

import "sync/atomic"

// readyDeque is a Chase-Lev single-owner, multi-stealer deque of task
// ids, keyed by two 64-bit positions: bottom (ReadyPrivatePos, only the
// owner writes it) and top (ReadyPublicPos, stealers CAS it). Go's
// sync/atomic operations are already sequentially consistent, a safe
// superset of the release-on-push/acquire-on-steal/seq-cst-on-the-
// emptiness-race ordering the algorithm requires; the comments below
// name which guarantee each operation is standing in for.
type readyDeque struct {
	buf    []TaskID
	mask   int64
	top    atomic.Int64 // ReadyPublicPos
	bottom atomic.Int64 // ReadyPrivatePos
}

func newReadyDeque(capacity int) *readyDeque {
	return &readyDeque{buf: make([]TaskID, capacity), mask: int64(capacity - 1)}
}

// PushBottom is the owner-only push: ReadyTaskIds[pos & mask] = id;
// release-store ReadyPrivatePos = pos+1.
func (d *readyDeque) PushBottom(id TaskID) {
	b := d.bottom.Load()
	d.buf[b&d.mask] = id
	d.bottom.Store(b + 1) // release: item must be visible before bottom advances
}

// TakeBottom is the owner-only pop. It races a concurrent Steal only
// when exactly one item remains.
func (d *readyDeque) TakeBottom() (TaskID, bool) {
	b := d.bottom.Load() - 1
	d.bottom.Store(b)
	t := d.top.Load() // acquire: must observe stealers' progress
	if t > b {
		// Already empty; restore bottom to its pre-decrement value.
		d.bottom.Store(b + 1)
		return 0, false
	}
	item := d.buf[b&d.mask]
	if t == b {
		// Last item: race a stealer for it via seq-cst CAS.
		if !d.top.CompareAndSwap(t, t+1) {
			d.bottom.Store(b + 1)
			return 0, false
		}
		d.bottom.Store(b + 1)
	}
	return item, true
}

// Steal attempts to take the oldest item from the public end.
func (d *readyDeque) Steal() (TaskID, bool) {
	t := d.top.Load()
	b := d.bottom.Load() // acquire, ordered after top per algorithm
	if t >= b {
		return 0, false
	}
	item := d.buf[t&d.mask]
	if !d.top.CompareAndSwap(t, t+1) {
		return 0, false // lost the race to another stealer or the owner
	}
	return item, true
}

// Len estimates the number of ready items; may be stale under
// concurrent push/steal, which is acceptable for the scheduler's ERTR
// heuristic.
func (d *readyDeque) Len() int64 {
	n := d.bottom.Load() - d.top.Load()
	if n < 0 {
		return 0
	}
	return n
}
