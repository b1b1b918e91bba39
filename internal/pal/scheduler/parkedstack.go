package scheduler

import "sync/atomic"

// parkedStack is the concurrent LIFO of pool indices whose owner
// thread is blocked on its park semaphore. Push writes the value at
// the new top slot before the CAS that publishes it; Pop reads the
// slot at ToS-1 before the CAS that retires it, so the wake-mailbox
// target is stable for the duration of the race (spec §5: "popper
// reads the index at stack[ToS-1] before CAS so the wake-mailbox
// target is stable").
type parkedStack struct {
	slots []int32
	top   atomic.Int32 // ToS
}

func newParkedStack(capacity int) *parkedStack {
	if capacity < 1 {
		capacity = 1
	}
	return &parkedStack{slots: make([]int32, capacity)}
}

// Push adds poolIdx to the stack.
func (s *parkedStack) Push(poolIdx int32) {
	for {
		t := s.top.Load()
		s.slots[t] = poolIdx
		if s.top.CompareAndSwap(t, t+1) {
			return
		}
	}
}

// Len returns the current stack depth. Racy under concurrent
// Push/Pop; intended for diagnostics only (metrics gauges), never for
// correctness decisions.
func (s *parkedStack) Len() int {
	return int(s.top.Load())
}

// Pop removes and returns the most-recently-parked pool index, or
// (0, false) if the stack is empty.
func (s *parkedStack) Pop() (int32, bool) {
	for {
		t := s.top.Load()
		if t == 0 {
			return 0, false
		}
		idx := s.slots[t-1]
		if s.top.CompareAndSwap(t, t-1) {
			return idx, true
		}
	}
}
