// Package scheduler implements Component H: the pool directory, worker
// loops, park/wake coordination, and publish/complete semantics that
// turn a set of task pools into a work-stealing fork-join scheduler.
package scheduler

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oriys/pal/internal/pal/audit"
	"github.com/oriys/pal/internal/pal/diag/redisstats"
	"github.com/oriys/pal/internal/pal/logging"
	"github.com/oriys/pal/internal/pal/palerrors"
	"github.com/oriys/pal/internal/pal/taskpool"
)

// maxStealList bounds how many candidate pools ParkOrWork returns in
// one TrySteal outcome.
const maxStealList = 4

// ertrThreshold is the estimated-ready-to-run count a pool must exceed
// before it is considered worth stealing from.
const ertrThreshold = 1

// PoolTypeDescriptor describes one group of pools to create.
type PoolTypeDescriptor struct {
	Type           taskpool.PoolType
	Count          int
	MaxSlots       int // power of two, <= taskpool.MaxSlots; 0 defaults to taskpool.MaxSlots
	PreCommitTasks int
}

// WorkerInit is called once by each spawned worker goroutine after it
// acquires a pool and before it signals ready.
type WorkerInit func(*taskpool.Pool) error

// Scheduler owns the pool directory, the per-type free lists, the
// parked-worker stack, and the shutdown flag.
type Scheduler struct {
	pools []*taskpool.Pool

	// workerPools lists the CPU/AIO pools that actually run a worker
	// loop and drain a ready deque. WakeWorker's no-one-parked fallback
	// round-robins onto these rather than onto the publishing caller's
	// own pool, which may be a MAIN/USER pool no loop ever drains.
	workerPools   []*taskpool.Pool
	nextWorkerIdx atomic.Uint32

	freeListMu [4]sync.Mutex
	freeLists  [4][]*taskpool.Pool

	readyEventCount atomic.Uint64
	parked          *parkedStack
	shutdown        atomic.Bool

	// audit, if set via SetAuditSink, receives a Record for every task
	// completion. Optional and diagnostic only.
	audit *audit.Sink

	// stats, if set via SetStatsPublisher, periodically publishes a
	// snapshot of this scheduler's state to Redis. Optional and
	// diagnostic only.
	stats *redisstats.Publisher

	wg sync.WaitGroup
}

// SetAuditSink attaches an optional completion-audit sink. Nil clears
// it. Safe to call before Create's worker goroutines observe any
// completions; not safe to call concurrently with Complete.
func (s *Scheduler) SetAuditSink(a *audit.Sink) {
	s.audit = a
}

// SetStatsPublisher attaches an optional Redis snapshot publisher,
// started with a SnapshotFunc built from Snapshot. Safe to call once,
// any time after Create returns.
func (s *Scheduler) SetStatsPublisher(p *redisstats.Publisher) {
	s.stats = p
}

// Snapshot reports the scheduler's current ready-event count,
// per-pool ERTR, and parked-worker count for an external stats
// publisher. Every field is read with its own independent atomic load and the
// whole struct is therefore only an approximation of a single instant,
// matching parkedStack.Len's own "diagnostics only" caveat.
func (s *Scheduler) Snapshot() redisstats.Snapshot {
	ertr := make([]int32, len(s.pools))
	for i, p := range s.pools {
		ertr[i] = p.ERTR.Load()
	}
	return redisstats.Snapshot{
		Timestamp:       time.Now(),
		ReadyEventCount: s.readyEventCount.Load(),
		ParkedWorkers:   s.parked.Len(),
		PerPoolERTR:     ertr,
	}
}

// Create reserves and initializes every pool named by descs, spawns a
// worker goroutine per CPU/AIO-worker pool, and waits for every worker
// to either signal ready or fail initialization.
func Create(descs []PoolTypeDescriptor, init WorkerInit) (*Scheduler, error) {
	s := &Scheduler{}
	total := 0
	for _, d := range descs {
		total += d.Count
	}
	s.parked = newParkedStack(total)

	type spawn struct {
		pool *taskpool.Pool
	}
	var toSpawn []spawn

	for _, d := range descs {
		maxSlots := d.MaxSlots
		if maxSlots == 0 {
			maxSlots = taskpool.MaxSlots
		}
		for i := 0; i < d.Count; i++ {
			idx := len(s.pools)
			p, err := taskpool.Create(idx, d.Type, maxSlots, d.PreCommitTasks)
			if err != nil {
				return nil, err
			}
			s.pools = append(s.pools, p)
			s.freeLists[d.Type] = append(s.freeLists[d.Type], p)
			if d.Type == taskpool.PoolCPUWorker || d.Type == taskpool.PoolAIOWorker {
				toSpawn = append(toSpawn, spawn{pool: p})
				s.workerPools = append(s.workerPools, p)
			}
		}
	}

	readyCh := make(chan error, len(toSpawn))
	for _, sp := range toSpawn {
		p := sp.pool
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.acquireAndRun(p, init, readyCh)
		}()
	}
	for range toSpawn {
		if err := <-readyCh; err != nil {
			s.shutdown.Store(true)
			for _, p := range s.pools {
				p.Unpark()
			}
			s.wg.Wait()
			return nil, fmt.Errorf("%w: %v", palerrors.ErrWorkerInitFailed, err)
		}
	}
	return s, nil
}

// acquireAndRun performs the per-worker acquire/init/ready/loop
// sequence. Readiness is signaled on ready immediately after init
// succeeds or fails, not after the worker loop returns, since the loop
// only returns at shutdown and Create must be able to observe
// readiness while the loop is still running.
func (s *Scheduler) acquireAndRun(p *taskpool.Pool, init WorkerInit, ready chan<- error) {
	runtime.LockOSThread()
	s.freeListMu[p.Type].Lock()
	list := s.freeLists[p.Type]
	for i, q := range list {
		if q == p {
			s.freeLists[p.Type] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	s.freeListMu[p.Type].Unlock()
	p.Bind(int64(p.Index), false)
	if init != nil {
		if err := init(p); err != nil {
			ready <- err
			return
		}
	}
	logging.Op().Debug("scheduler: worker ready", "pool", p.Index, "type", p.Type)
	ready <- nil
	switch p.Type {
	case taskpool.PoolAIOWorker:
		s.aioWorkerLoop(p)
	default:
		s.cpuWorkerLoop(p)
	}
}

// AcquirePool pops a pool off the free list for typ, for callers (e.g.
// MAIN/USER pool types) that bind to a pool outside the spawned
// CPU/AIO worker goroutines.
func (s *Scheduler) AcquirePool(typ taskpool.PoolType) (*taskpool.Pool, error) {
	s.freeListMu[typ].Lock()
	defer s.freeListMu[typ].Unlock()
	list := s.freeLists[typ]
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: no free pool of type %v", palerrors.ErrPoolExhausted, typ)
	}
	p := list[len(list)-1]
	s.freeLists[typ] = list[:len(list)-1]
	return p, nil
}

// Shutdown sets the shutdown flag, wakes every worker, and waits for
// all worker goroutines to exit.
func (s *Scheduler) Shutdown() {
	s.shutdown.Store(true)
	for _, p := range s.pools {
		p.Unpark()
	}
	s.wg.Wait()
	if s.stats != nil {
		s.stats.Close()
	}
}

func (s *Scheduler) lookupTask(id taskpool.TaskID) (*taskpool.Task, bool) {
	poolIdx := int(id.Pool())
	if poolIdx >= len(s.pools) {
		return nil, false
	}
	return s.pools[poolIdx].TaskAt(id)
}
