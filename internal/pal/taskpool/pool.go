package taskpool

import (
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/oriys/pal/internal/pal/metrics"
	"github.com/oriys/pal/internal/pal/palerrors"
)

// PoolType names the role a Pool's bound worker thread plays.
type PoolType uint8

const (
	PoolMain PoolType = iota
	PoolCPUWorker
	PoolAIOWorker
	PoolUser
)

const (
	// MaxSlots is the architectural slot ceiling per pool; dynamic
	// growth beyond it is out of scope.
	MaxSlots          = 65536
	chunkSlots        = 1024
	maxChunks         = MaxSlots / chunkSlots
	permitsRegionSize = 1024
)

// Pool is bound to at most one OS thread (here: one goroutine with
// runtime.LockOSThread) at a time. It owns a fixed-size task slot
// arena (committed in 1024-slot chunks on demand), a permits-list
// region, a free ring, a ready-to-run deque, a wake mailbox, and a
// park semaphore.
//
// Task slots hold closures and a mutex, so unlike the host-memory and
// handle-table layers they are not raw-memory reserve/commit
// candidates; this is a deliberate Go-native simplification (see
// design notes) of a VM-backed slot array that keeps the
// commit-on-demand *protocol*, CommitCount gating how much of the
// slot array is in play, without laying slots out over a
// hostmem.Allocation.
type Pool struct {
	Index int
	Type  PoolType

	maxSlots   int
	slots      []Task
	commitCount int // number of activated 1024-slot chunks

	freeRing []uint32 // packed (slot<<16 | generation) entries, length maxSlots
	freeCount atomic.Uint32
	allocCount uint32 // owner-local: last value synced from freeCount
	allocNext  uint32 // owner-local: next ring index to take

	ready *readyDeque

	permits     []PermitsList
	permitsFree []int // FIFO freelist: freed records queue ahead of never-allocated ones; pop-from-front on alloc

	wakeupTaskID atomic.Uint32
	parkCh       chan struct{}

	boundThreadID atomic.Int64
	manualBind    bool

	// ERTR: estimated ready-to-run count, an approximate hint the
	// scheduler uses to decide whether to steal from this pool rather
	// than park. It may be off by a bounded amount under races; its
	// only correctness role is preventing permanent parking when work
	// exists.
	ERTR atomic.Int32
}

// Create builds a Pool with room for maxSlots task slots (a power of
// two, <= MaxSlots) and pre-commits precommitSlots of them.
func Create(index int, poolType PoolType, maxSlots, precommitSlots int) (*Pool, error) {
	if maxSlots <= 0 || maxSlots > MaxSlots || maxSlots&(maxSlots-1) != 0 {
		return nil, fmt.Errorf("%w: maxSlots must be a power of two in (0, %d]", palerrors.ErrInvalidArgument, MaxSlots)
	}
	p := &Pool{
		Index:       index,
		Type:        poolType,
		maxSlots:    maxSlots,
		slots:       make([]Task, maxSlots),
		freeRing:    make([]uint32, maxSlots),
		ready:       newReadyDeque(maxSlots),
		permits:     make([]PermitsList, permitsRegionSize),
		permitsFree: make([]int, 0, permitsRegionSize),
		parkCh:      make(chan struct{}, 1),
	}
	for i := range p.permits {
		p.permitsFree = append(p.permitsFree, i)
	}
	for p.commitCount*chunkSlots < precommitSlots {
		if err := p.commitNextChunk(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Pool) chunkSize() int {
	if chunkSlots < p.maxSlots {
		return chunkSlots
	}
	return p.maxSlots
}

func (p *Pool) commitNextChunk() error {
	if p.commitCount*p.chunkSize() >= p.maxSlots {
		metrics.RecordPoolExhausted("task_pool")
		return fmt.Errorf("%w: pool %d has no more committable task-slot chunks", palerrors.ErrPoolExhausted, p.Index)
	}
	size := p.chunkSize()
	start := p.commitCount * size
	for i := start; i < start+size; i++ {
		packed := uint32(i)<<16 | 0
		idx := p.freeCount.Add(1) - 1
		p.freeRing[idx&uint32(p.maxSlots-1)] = packed
	}
	p.commitCount++
	metrics.RecordChunkCommit("task_pool")
	return nil
}

// AllocateTask is owner-only: it claims a slot from the free ring,
// committing a new 1024-slot chunk on demand when the ring is
// observed empty and capacity remains.
func (p *Pool) AllocateTask() (*Task, error) {
	mask := uint32(p.maxSlots - 1)
	for {
		if p.allocNext == p.allocCount {
			p.allocCount = p.freeCount.Load()
			if p.allocNext == p.allocCount {
				if p.commitCount*p.chunkSize() < p.maxSlots {
					if err := p.commitNextChunk(); err != nil {
						return nil, err
					}
					continue
				}
				return nil, fmt.Errorf("%w: pool %d has no free task slots", palerrors.ErrPoolExhausted, p.Index)
			}
		}
		entry := p.freeRing[p.allocNext&mask]
		p.allocNext++
		slot := entry >> 16
		gen := entry & 0xF
		id := packTaskID(true, gen, slot, uint32(p.Index))
		t := &p.slots[slot]
		t.reset(p, slot, id)
		return t, nil
	}
}

// FreeTask returns a task's slot to the free ring, bumping its
// generation modulo 16. Any completing worker may call this (the ring
// is MPSC); the reservation-via-fetch-add below stands in for the
// spec's CAS-advance of FreeCount, which is equivalent for a monotonic
// counter feeding disjoint ring slots.
func (p *Pool) FreeTask(t *Task) {
	newGen := (t.ID.Generation() + 1) & genMask
	packed := t.slot<<16 | newGen
	t.ID = 0 // the freed id no longer resolves through TaskAt
	idx := p.freeCount.Add(1) - 1
	p.freeRing[idx&uint32(p.maxSlots-1)] = packed
}

// PushReady pushes a ready task id onto the owner's end of the ready
// deque and bumps ERTR.
func (p *Pool) PushReady(id TaskID) {
	p.ready.PushBottom(id)
	v := p.ERTR.Add(1)
	metrics.SetERTR(strconv.Itoa(p.Index), v)
}

// TakeReady is the owner-only take from the ready deque.
func (p *Pool) TakeReady() (TaskID, bool) {
	id, ok := p.ready.TakeBottom()
	if ok {
		v := p.ERTR.Add(-1)
		metrics.SetERTR(strconv.Itoa(p.Index), v)
	}
	return id, ok
}

// StealReady attempts to steal one ready task id from this pool.
func (p *Pool) StealReady() (TaskID, bool) {
	id, ok := p.ready.Steal()
	if ok {
		v := p.ERTR.Add(-1)
		metrics.SetERTR(strconv.Itoa(p.Index), v)
	}
	return id, ok
}

// AllocatePermitsList takes a free permits-list record.
func (p *Pool) AllocatePermitsList() (*PermitsList, int, error) {
	if len(p.permitsFree) == 0 {
		return nil, 0, fmt.Errorf("%w: pool %d has no free permits-list records", palerrors.ErrPoolExhausted, p.Index)
	}
	idx := p.permitsFree[0]
	p.permitsFree = p.permitsFree[1:]
	pl := &p.permits[idx]
	pl.count = 0
	pl.waitCount.Store(0)
	pl.inUse = true
	pl.owner = p
	pl.selfIndex = idx
	return pl, idx, nil
}

// FreePermitsList returns a permits-list record, in FIFO order: freed
// records are queued ahead of records never allocated yet, so the next
// AllocatePermitsList call after a run of frees reuses the
// earliest-freed record first.
func (p *Pool) FreePermitsList(idx int) {
	p.permits[idx].inUse = false
	pos := len(p.permitsFree)
	for i, j := range p.permitsFree {
		if p.permits[j].owner == nil { // never allocated
			pos = i
			break
		}
	}
	p.permitsFree = append(p.permitsFree, 0)
	copy(p.permitsFree[pos+1:], p.permitsFree[pos:])
	p.permitsFree[pos] = idx
}

// TaskAt resolves a task id to its live *Task, validating that the
// slot's current generation still matches. Returns false if the id is
// stale (already freed and possibly reallocated).
func (p *Pool) TaskAt(id TaskID) (*Task, bool) {
	slot := id.Slot()
	if int(slot) >= len(p.slots) {
		return nil, false
	}
	t := &p.slots[slot]
	if t.ID != id {
		return nil, false
	}
	return t, true
}

// Bind records the OS/goroutine thread id that now owns this pool, for
// diagnostics; it does not enforce exclusivity (spec §4.G).
func (p *Pool) Bind(threadID int64, manual bool) {
	p.boundThreadID.Store(threadID)
	p.manualBind = manual
}

// Unbind clears the diagnostic thread-id record.
func (p *Pool) Unbind() { p.boundThreadID.Store(0) }

// BoundThreadID returns the last thread id recorded by Bind.
func (p *Pool) BoundThreadID() int64 { return p.boundThreadID.Load() }

// SetWakeupTask stores the task id a park/wake handoff should resume
// with and releases the park semaphore.
func (p *Pool) SetWakeupTask(id TaskID) {
	p.wakeupTaskID.Store(uint32(id))
	select {
	case p.parkCh <- struct{}{}:
	default:
	}
}

// TakeWakeupTask reads and clears the wakeup mailbox.
func (p *Pool) TakeWakeupTask() TaskID {
	return TaskID(p.wakeupTaskID.Swap(0))
}

// Park blocks until SetWakeupTask (or Unpark) posts to the semaphore.
func (p *Pool) Park() { <-p.parkCh }

// Unpark releases the park semaphore without setting a wakeup task
// (used for shutdown notification).
func (p *Pool) Unpark() {
	select {
	case p.parkCh <- struct{}{}:
	default:
	}
}
