package hostmem

import (
	"fmt"
	"unsafe"

	"github.com/oriys/pal/internal/pal/palerrors"
)

// Allocation is a reserved, partially-committed process address range.
// Its lifetime is create-by-Pool.Allocate, mutate-by-IncreaseCommitment,
// destroy-by-Pool.Release; the zero value is not meaningful outside the
// Pool that owns its storage.
type Allocation struct {
	pool      *Pool
	base      uintptr
	reserved  uintptr
	committed uintptr
	access    AccessFlags
	guardPage bool
	inUse     bool
}

// Base returns the reservation's base address.
func (a *Allocation) Base() uintptr { return a.base }

// Reserved returns the reserved byte count.
func (a *Allocation) Reserved() uintptr { return a.reserved }

// Committed returns the currently committed byte count.
func (a *Allocation) Committed() uintptr { return a.committed }

// Access returns the access flags the allocation was created with.
func (a *Allocation) Access() AccessFlags { return a.access }

// HostAddress returns a pointer to the base of the committed range, or
// nil if nothing is committed yet.
func (a *Allocation) HostAddress() unsafe.Pointer {
	if a.committed == 0 {
		return nil
	}
	return addrToPointer(a.base, 0)
}

// IncreaseCommitment grows the committed range to newTotal bytes,
// which must not exceed Reserved(); a no-op if already sufficient.
func (a *Allocation) IncreaseCommitment(newTotal uintptr) error {
	if newTotal <= a.committed {
		return nil
	}
	if newTotal > a.reserved {
		return fmt.Errorf("%w: requested commitment %d exceeds reservation %d", palerrors.ErrInvalidArgument, newTotal, a.reserved)
	}
	delta := newTotal - a.committed
	if a.pool.maxTotalCommitment != 0 && a.pool.TotalCommitted()+uint64(delta) > a.pool.maxTotalCommitment {
		return a.pool.exhaustedErr(delta)
	}
	if err := a.pool.vm.Commit(a.base+a.committed, delta, a.access); err != nil {
		return err
	}
	a.pool.addCommitted(int64(delta))
	a.committed = newTotal
	return nil
}

// DecreaseCommitment shrinks the committed range to newTotal bytes,
// decommitting the trimmed tail; a no-op if newTotal >= Committed().
func (a *Allocation) DecreaseCommitment(newTotal uintptr) error {
	if newTotal >= a.committed {
		return nil
	}
	delta := a.committed - newTotal
	if err := a.pool.vm.Decommit(a.base+newTotal, delta); err != nil {
		return err
	}
	a.pool.addCommitted(-int64(delta))
	a.committed = newTotal
	return nil
}

// Flush issues an instruction-cache-coherence barrier over the
// committed range. Meaningful only for executable allocations.
func (a *Allocation) Flush() {
	a.pool.vm.FlushInstructionCache(a.base, a.committed)
}
