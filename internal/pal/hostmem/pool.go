package hostmem

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/oriys/pal/internal/pal/logging"
	"github.com/oriys/pal/internal/pal/palerrors"
)

// Pool is a fixed-capacity freelist of Allocation records sharing a cap
// on total committed bytes.
//
// # Design rationale
//
// Allocation records are held in a pre-sized slice rather than
// allocated one at a time, so a *Allocation handed to a caller never
// moves for the lifetime of the pool (callers may safely retain the
// pointer). Free records are tracked by an index-based freelist, a
// stack of int32 slot indices, instead of intrusive next-pointers
// inside Allocation itself, which keeps Allocation free of
// pool-internal bookkeeping and avoids aliasing concerns when a record
// is handed out and back in.
//
// # Concurrency
//
// All bookkeeping (freelist, active-record tracking) is guarded by mu.
// totalCommitted is additionally tracked as an atomic so
// TotalCommitted() can be read without the lock on hot diagnostic
// paths (metrics export).
//
// # Invariants
//
//   - totalCommitted == sum of Committed() across allocations with
//     inUse == true.
//   - totalCommitted <= MaxTotalCommitment.
type Pool struct {
	vm                 VirtualMemory
	mu                 sync.Mutex
	records            []Allocation
	freeIdx            []int32
	maxTotalCommitment uint64
	minCommitSize      uint64
	totalCommitted      atomic.Int64
}

// Create builds a Pool with capacity allocation records, each subject
// to the shared maxTotalCommitment cap and minCommitSize floor.
func Create(vm VirtualMemory, capacity int, maxTotalCommitment, minCommitSize uint64) (*Pool, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity must be > 0", palerrors.ErrInvalidArgument)
	}
	p := &Pool{
		vm:                 vm,
		records:            make([]Allocation, capacity),
		freeIdx:            make([]int32, capacity),
		maxTotalCommitment: maxTotalCommitment,
		minCommitSize:      minCommitSize,
	}
	for i := range p.freeIdx {
		// Push in descending order so index 0 is popped first, giving
		// deterministic record reuse order (useful in tests).
		p.freeIdx[i] = int32(capacity - 1 - i)
	}
	return p, nil
}

// Delete releases every active allocation and discards the pool's
// backing storage. The pool must not be used afterwards.
func Delete(p *Pool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.records {
		if p.records[i].inUse {
			if err := p.releaseLocked(&p.records[i]); err != nil {
				return err
			}
		}
	}
	p.records = nil
	p.freeIdx = nil
	return nil
}

// Reset walks all active allocations, releases each, and rewinds the
// freelist to its fully-free state.
func (p *Pool) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.records {
		if p.records[i].inUse {
			if err := p.releaseLocked(&p.records[i]); err != nil {
				return err
			}
		}
	}
	p.freeIdx = p.freeIdx[:0]
	for i := range p.records {
		p.freeIdx = append(p.freeIdx, int32(len(p.records)-1-i))
	}
	return nil
}

// Move transfers ownership of src's freelist and record array to dst.
// After Move, src is invalid and must not be used.
func Move(dst, src *Pool) {
	src.mu.Lock()
	defer src.mu.Unlock()
	dst.mu.Lock()
	defer dst.mu.Unlock()
	dst.vm = src.vm
	dst.records = src.records
	dst.freeIdx = src.freeIdx
	dst.maxTotalCommitment = src.maxTotalCommitment
	dst.minCommitSize = src.minCommitSize
	dst.totalCommitted.Store(src.totalCommitted.Load())
	src.records = nil
	src.freeIdx = nil
	src.totalCommitted.Store(0)
}

// TotalCommitted returns the sum of committed bytes across active
// allocations.
func (p *Pool) TotalCommitted() uint64 { return uint64(p.totalCommitted.Load()) }

func (p *Pool) addCommitted(delta int64) { p.totalCommitted.Add(delta) }

func (p *Pool) exhaustedErr(requested uintptr) error {
	return fmt.Errorf("%w: commit of %d bytes would exceed cap of %d bytes",
		palerrors.ErrPoolExhausted, requested, p.maxTotalCommitment)
}

// Allocate takes a free allocation record, reserves reserveSize bytes
// and commits at least commitSize bytes (floored to minCommitSize) of
// it with access, and returns the record.
func (p *Pool) Allocate(reserveSize, commitSize uint64, access AccessFlags) (*Allocation, error) {
	if reserveSize == 0 {
		return nil, fmt.Errorf("%w: reserveSize must be > 0", palerrors.ErrInvalidArgument)
	}
	if commitSize > reserveSize {
		return nil, fmt.Errorf("%w: commitSize %d exceeds reserveSize %d", palerrors.ErrInvalidArgument, commitSize, reserveSize)
	}
	if commitSize < p.minCommitSize {
		commitSize = p.minCommitSize
	}
	if commitSize > reserveSize {
		commitSize = reserveSize
	}

	p.mu.Lock()
	if len(p.freeIdx) == 0 {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: no free allocation records", palerrors.ErrPoolExhausted)
	}
	if p.maxTotalCommitment != 0 && uint64(p.totalCommitted.Load())+commitSize > p.maxTotalCommitment {
		p.mu.Unlock()
		return nil, p.exhaustedErr(uintptr(commitSize))
	}
	idx := p.freeIdx[len(p.freeIdx)-1]
	p.freeIdx = p.freeIdx[:len(p.freeIdx)-1]
	p.mu.Unlock()

	base, reserved, err := p.vm.Reserve(uintptr(reserveSize))
	if err != nil {
		p.mu.Lock()
		p.freeIdx = append(p.freeIdx, idx)
		p.mu.Unlock()
		return nil, err
	}
	if commitSize > 0 {
		if err := p.vm.Commit(base, uintptr(commitSize), access); err != nil {
			_ = p.vm.Release(base, reserved)
			p.mu.Lock()
			p.freeIdx = append(p.freeIdx, idx)
			p.mu.Unlock()
			return nil, err
		}
	}

	rec := &p.records[idx]
	*rec = Allocation{
		pool:      p,
		base:      base,
		reserved:  reserved,
		committed: uintptr(commitSize),
		access:    access,
		guardPage: access&AccessGuardPage != 0,
		inUse:     true,
	}
	p.addCommitted(int64(commitSize))
	logging.Op().Debug("hostmem: allocation created", "reserved", reserved, "committed", commitSize)
	return rec, nil
}

// Release returns a allocation to the pool's freelist, decommitting
// and releasing all of its address space. After Release, a must not be
// used.
func (p *Pool) Release(a *Allocation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.releaseLocked(a)
}

func (p *Pool) releaseLocked(a *Allocation) error {
	if !a.inUse {
		return nil
	}
	if err := p.vm.Release(a.base, a.reserved); err != nil {
		return err
	}
	p.addCommitted(-int64(a.committed))
	idx := p.indexOf(a)
	a.base, a.reserved, a.committed, a.inUse = 0, 0, 0, false
	p.freeIdx = append(p.freeIdx, idx)
	return nil
}

func (p *Pool) indexOf(a *Allocation) int32 {
	for i := range p.records {
		if &p.records[i] == a {
			return int32(i)
		}
	}
	return -1
}
