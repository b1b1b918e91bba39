package scheduler

import (
	"time"

	"github.com/oriys/pal/internal/pal/logging"
	"github.com/oriys/pal/internal/pal/metrics"
	"github.com/oriys/pal/internal/pal/taskpool"
)

// runOne executes one task's main function and, for automatically
// completing tasks, folds that into the fork-join completion count.
func (s *Scheduler) runOne(t *taskpool.Task) {
	start := time.Now()
	t.MainFn(t)
	metrics.ObserveTaskDuration(float64(time.Since(start).Microseconds()))
	if t.CompletionType == taskpool.CompletionAutomatic {
		if err := s.Complete(t.ID); err != nil {
			logging.Op().Error("scheduler: complete failed", "task", uint32(t.ID), "err", err)
		}
	}
}

// drainLocal runs every task already queued on p's own ready deque
// before the worker goes looking for more (park, steal, or wake). A
// queued id may name a task allocated from a different pool (any
// published task can be woken onto whichever worker happens to be
// parked), so tasks are always resolved through the scheduler's
// id-addressed lookup, never through the local pool's own slot array.
func (s *Scheduler) drainLocal(p *taskpool.Pool) {
	for {
		id, ok := p.TakeReady()
		if !ok {
			return
		}
		t, ok := s.lookupTask(id)
		if !ok {
			continue
		}
		s.runOne(t)
	}
}

// cpuWorkerLoop is the steady-state loop a CPU-worker pool's goroutine
// runs for its lifetime: drain locally queued work, then park or steal
// per ParkOrWork's verdict, until shutdown.
func (s *Scheduler) cpuWorkerLoop(p *taskpool.Pool) {
	stealIdx := 0
	for {
		s.drainLocal(p)

		outcome := s.ParkOrWork(p)
		switch outcome.Kind {
		case OutcomeShutdown:
			return
		case OutcomeWakeTask:
			if t, ok := s.lookupTask(outcome.TaskID); ok {
				s.runOne(t)
			}
		case OutcomeTrySteal:
			id, next, ok := s.Steal(outcome.StealList, stealIdx)
			if !ok {
				continue
			}
			stealIdx = next + 1
			if t, ok := s.lookupTask(id); ok {
				s.runOne(t)
			}
		}
	}
}

// aioWorkerLoop mirrors cpuWorkerLoop exactly. The source distinguishes
// CPU and I/O-completion-port worker threads because the latter blocks
// on an OS completion port instead of a park semaphore; Go has no
// completion-port equivalent; every AIO-typed pool here parks on the
// same channel-based semaphore as a CPU pool, so the two loops have
// nothing left to differ on.
func (s *Scheduler) aioWorkerLoop(p *taskpool.Pool) {
	s.cpuWorkerLoop(p)
}
