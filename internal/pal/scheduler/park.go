package scheduler

import (
	"github.com/oriys/pal/internal/pal/metrics"
	"github.com/oriys/pal/internal/pal/taskpool"
)

// OutcomeKind tags the result of ParkOrWork.
type OutcomeKind int

const (
	OutcomeShutdown OutcomeKind = iota
	OutcomeWakeTask
	OutcomeTrySteal
)

// Outcome is the tagged result ParkOrWork returns, so its caller never
// touches the park semaphore directly.
type Outcome struct {
	Kind      OutcomeKind
	TaskID    taskpool.TaskID // valid when Kind == OutcomeWakeTask
	StealList []*taskpool.Pool
}

// scanERTR collects up to maxStealList pools (other than self) whose
// estimated ready-to-run count exceeds ertrThreshold.
func (s *Scheduler) scanERTR(self *taskpool.Pool) []*taskpool.Pool {
	var list []*taskpool.Pool
	for _, p := range s.pools {
		if p == self {
			continue
		}
		if p.ERTR.Load() > ertrThreshold {
			list = append(list, p)
			if len(list) >= maxStealList {
				break
			}
		}
	}
	return list
}

// ParkOrWork implements the two-phase park protocol: scan for
// stealable work; if none is found, re-check the global ready-event
// counter for changes since the scan started. A snapshot/re-read
// around the scan closes the same race a CAS-compare-with-itself
// would under Go's memory model: if the counter is unchanged, park; if
// it changed, retry the scan rather than risk a lost wakeup.
func (s *Scheduler) ParkOrWork(pool *taskpool.Pool) Outcome {
	for {
		if s.shutdown.Load() {
			return Outcome{Kind: OutcomeShutdown}
		}
		before := s.readyEventCount.Load()
		stealList := s.scanERTR(pool)
		if len(stealList) > 0 {
			return Outcome{Kind: OutcomeTrySteal, StealList: stealList}
		}
		after := s.readyEventCount.Load()
		if after != before {
			continue
		}
		s.parked.Push(int32(pool.Index))
		metrics.RecordParkEvent()
		metrics.SetParkedWorkers(s.parked.Len())
		pool.Park()
		if s.shutdown.Load() {
			return Outcome{Kind: OutcomeShutdown}
		}
		return Outcome{Kind: OutcomeWakeTask, TaskID: pool.TakeWakeupTask()}
	}
}

// Steal walks stealList starting at startIndex, attempting
// PoolStealReadyTask on each candidate; returns the stolen task id and
// the index of the pool it was stolen from, or ok == false once the
// whole list has been tried with no success.
func (s *Scheduler) Steal(stealList []*taskpool.Pool, startIndex int) (taskpool.TaskID, int, bool) {
	n := len(stealList)
	for i := 0; i < n; i++ {
		idx := (startIndex + i) % n
		if id, ok := stealList[idx].StealReady(); ok {
			metrics.RecordStealAttempt(true)
			return id, idx, true
		}
	}
	metrics.RecordStealAttempt(false)
	return 0, 0, false
}

// WakeWorker implements the publish/completion-triggered wake path:
// pop a parked pool and hand it the task directly; if none is parked,
// every worker is presumed busy running something of its own, so the
// task is pushed onto a worker pool's ready deque round-robin (never
// onto callerPool directly, since callerPool may be a MAIN/USER pool
// with no loop ever draining it) and the ready-event counter is bumped so a
// subsequent park scan observes the change.
func (s *Scheduler) WakeWorker(callerPool *taskpool.Pool, give taskpool.TaskID) {
	if idx, ok := s.parked.Pop(); ok {
		metrics.RecordWakeEvent()
		metrics.SetParkedWorkers(s.parked.Len())
		s.pools[idx].SetWakeupTask(give)
		return
	}
	if len(s.workerPools) == 0 {
		callerPool.PushReady(give)
		s.readyEventCount.Add(1)
		return
	}
	i := s.nextWorkerIdx.Add(1) - 1
	s.workerPools[int(i)%len(s.workerPools)].PushReady(give)
	s.readyEventCount.Add(1)
}
