// Package taskpool implements Component G: a per-thread slot arena,
// ready-to-run deque, free ring, and wake mailbox, the unit a task
// scheduler binds to a single worker thread at a time.
package taskpool

import (
	"sync"
	"sync/atomic"
)

const (
	genBits  = 4
	genShift = 0
	slotBits = 16
	slotShift = genShift + genBits // 4
	poolBits  = 11
	poolShift = slotShift + slotBits // 20
	validShift = poolShift + poolBits // 31

	genMask  = (1 << genBits) - 1
	slotMask = (1 << slotBits) - 1
	poolMask = (1 << poolBits) - 1
)

// TaskID is a 32-bit packed value analogous to handle.Handle:
// valid(1) | pool(11) | slot(16) | generation(4), most significant bit
// first.
type TaskID uint32

func packTaskID(valid bool, generation, slot, pool uint32) TaskID {
	var v uint32
	if valid {
		v = 1
	}
	return TaskID(v<<validShift |
		(generation&genMask)<<genShift |
		(slot&slotMask)<<slotShift |
		(pool&poolMask)<<poolShift)
}

// Valid reports whether the task id's valid bit is set.
func (id TaskID) Valid() bool { return (uint32(id)>>validShift)&1 != 0 }

// Generation returns the id's 4-bit slot generation.
func (id TaskID) Generation() uint32 { return (uint32(id) >> genShift) & genMask }

// Slot returns the id's 16-bit slot index within its pool.
func (id TaskID) Slot() uint32 { return (uint32(id) >> slotShift) & slotMask }

// Pool returns the id's 11-bit owning-pool index.
func (id TaskID) Pool() uint32 { return (uint32(id) >> poolShift) & poolMask }

// CompletionType selects whether a task's main function completing is
// sufficient to finish it (AUTOMATIC) or whether the task itself must
// call Complete (INTERNAL/EXTERNAL in the source terminology; modeled
// here as the single MANUAL kind since this port has no async-I/O
// completion port distinguishing the two).
type CompletionType uint8

const (
	CompletionAutomatic CompletionType = iota
	CompletionManual
)

// PermitsList is a 30-entry array of task IDs sharing a wait set, plus
// the remaining count of unfinished dependencies. When WaitCount
// reaches zero every listed task becomes ready-to-run.
const PermitListCapacity = 30

type PermitsList struct {
	tasks     [PermitListCapacity]TaskID
	count     int
	waitCount atomic.Int32
	inUse     bool

	owner      *Pool // pool this record was allocated from, so Complete can free it regardless of which task/pool is completing
	selfIndex  int
}

// Tasks returns the listed task ids awaiting this permits list.
func (p *PermitsList) Tasks() []TaskID { return p.tasks[:p.count] }

// AddTask appends id to the permits list's wait set.
func (p *PermitsList) AddTask(id TaskID) {
	p.tasks[p.count] = id
	p.count++
}

// SetWaitCount stores the number of outstanding units this list is
// waiting on before its tasks become ready.
func (p *PermitsList) SetWaitCount(n int32) { p.waitCount.Store(n) }

// WaitCount exposes the atomic counter so the scheduler can decrement
// it as each awaited dependency completes.
func (p *PermitsList) WaitCount() *atomic.Int32 { return &p.waitCount }

// Owner returns the pool this permits-list record was allocated from.
func (p *PermitsList) Owner() *Pool { return p.owner }

// SelfIndex returns this record's index within its owner pool's
// permits-list region, for freeing it back.
func (p *PermitsList) SelfIndex() int { return p.selfIndex }

// Task is one scheduler work item. The exported fields are the
// "public part": written exclusively by the creating thread between
// allocation and publish, read by any worker thereafter, and must not
// be mutated after publish. Completion bookkeeping is private.
type Task struct {
	MainFn         func(*Task)
	CompleteFn     func(*Task)
	ID             TaskID
	ParentID       TaskID
	CompletionType CompletionType
	Flags          uint32

	pool *Pool
	slot uint32

	workCount atomic.Int32 // 1 initially, +1 per child, decremented on each child/self completion

	// mu guards completed and permits: publishing a dependent task must
	// atomically check "already completed?" before registering a
	// permits-list pointer, and Complete must atomically flip completed
	// and drain permits. A mutex is a deliberate Go-native
	// simplification (see design notes) in place of lock-free atomics,
	// since the critical section is check-then-append, not a hot
	// fetch-add/decrement like WorkCount.
	mu        sync.Mutex
	completed bool
	permits   []*PermitsList // lists waiting on this task's completion; no fixed cap is enforced
}

// Generation returns the task slot's current generation, matching the
// value packed into ID.
func (t *Task) Generation() uint32 { return t.ID.Generation() }

// WorkCount exposes the atomic fork-join counter: 1 for the task's own
// work plus 1 per published child, decremented as each completes.
func (t *Task) WorkCount() *atomic.Int32 { return &t.workCount }

// Pool returns the pool this task's slot belongs to.
func (t *Task) Pool() *Pool { return t.pool }

// MarkCompletedAndDrain is the exported form of markCompletedAndDrain,
// for the scheduler to call once a task's WorkCount reaches zero.
func (t *Task) MarkCompletedAndDrain() []*PermitsList { return t.markCompletedAndDrain() }

func (t *Task) reset(pool *Pool, slot uint32, id TaskID) {
	t.MainFn = nil
	t.CompleteFn = nil
	t.ID = id
	t.ParentID = 0
	t.CompletionType = CompletionAutomatic
	t.Flags = 0
	t.pool = pool
	t.slot = slot
	t.workCount.Store(1)
	t.completed = false
	t.permits = t.permits[:0]
}

// addPermit registers a permits list as waiting on t's completion.
// Returns false (without registering) if t has already completed, so
// the caller must treat the dependency as already satisfied.
func (t *Task) addPermit(p *PermitsList) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.completed {
		return false
	}
	t.permits = append(t.permits, p)
	return true
}

// markCompletedAndDrain flips completed and returns the permits lists
// registered against t, atomically with the flip so no late addPermit
// can race past it unnoticed.
func (t *Task) markCompletedAndDrain() []*PermitsList {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed = true
	drained := t.permits
	t.permits = nil
	return drained
}
