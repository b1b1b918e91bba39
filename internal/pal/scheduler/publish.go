package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/oriys/pal/internal/pal/audit"
	"github.com/oriys/pal/internal/pal/metrics"
	"github.com/oriys/pal/internal/pal/palerrors"
	"github.com/oriys/pal/internal/pal/taskpool"
	"github.com/oriys/pal/internal/pal/telemetry"
)

// Publish makes a freshly-built task visible to the scheduler. If deps
// is empty, or every dependency has already completed, the task is
// woken immediately; otherwise a permits list is allocated from pool
// and registered against each dependency that is still unfinished at
// registration time. During registration WaitCount holds one unit per
// dependency plus a guard unit; afterwards the guard and the unit of
// every dependency that had already finished are released, so a
// dependency completing at any point during registration is counted
// exactly once and whichever side brings WaitCount to zero wakes the
// task.
func (s *Scheduler) Publish(pool *taskpool.Pool, task *taskpool.Task, deps []taskpool.TaskID) error {
	_, span := telemetry.StartSpan(context.Background(), "scheduler.Publish")
	defer span.End()

	if s.shutdown.Load() {
		return palerrors.ErrSchedulerShutdown
	}
	if len(deps) == 0 {
		s.WakeWorker(pool, task.ID)
		return nil
	}
	if len(deps) > taskpool.PermitListCapacity {
		return fmt.Errorf("%w: task has %d dependencies, capacity is %d", palerrors.ErrInvalidArgument, len(deps), taskpool.PermitListCapacity)
	}

	pl, idx, err := pool.AllocatePermitsList()
	if err != nil {
		return err
	}
	pl.AddTask(task.ID)
	pl.SetWaitCount(int32(len(deps)) + 1)

	registered := 0
	for _, depID := range deps {
		dep, ok := s.lookupTask(depID)
		if !ok {
			continue // already freed: treat as long completed
		}
		if dep.addPermit(pl) {
			registered++
		}
	}
	if pl.WaitCount().Add(-int32(len(deps)-registered+1)) == 0 {
		pool.FreePermitsList(idx)
		s.WakeWorker(pool, task.ID)
	}
	return nil
}

// Complete finishes one unit of work against id: a task's own main
// function finishing, or (for CompletionManual tasks) an explicit call
// from within the task. WorkCount starts at 1 and gains one per
// published child (fork-join accounting); it reaches zero only once
// both the task's own work and every child's work have completed, at
// which point CompleteFn runs, every permits list waiting on this task
// is drained and possibly woken, and, since a parent's WorkCount
// includes its children, the parent is itself completed one step, so a
// parent always finishes strictly after every child.
func (s *Scheduler) Complete(id taskpool.TaskID) error {
	_, span := telemetry.StartSpan(context.Background(), "scheduler.Complete")
	defer span.End()

	t, ok := s.lookupTask(id)
	if !ok {
		return fmt.Errorf("%w: task id %#x is stale", palerrors.ErrHandleInvalid, uint32(id))
	}
	if t.WorkCount().Add(-1) != 0 {
		return nil
	}
	if t.CompleteFn != nil {
		t.CompleteFn(t)
	}
	metrics.IncTasksCompleted()

	ownerPool := t.Pool()
	for _, pl := range t.MarkCompletedAndDrain() {
		if pl.WaitCount().Add(-1) != 0 {
			continue
		}
		for _, waiter := range pl.Tasks() {
			s.WakeWorker(ownerPool, waiter)
		}
		pl.Owner().FreePermitsList(pl.SelfIndex())
	}

	parent := t.ParentID
	poolIndex := int(id.Pool())
	ownerPool.FreeTask(t)

	if s.audit != nil {
		s.audit.Record(audit.Record{
			TaskID:      uint32(id),
			ParentID:    uint32(parent),
			PoolIndex:   poolIndex,
			CompletedAt: time.Now(),
		})
	}

	if parent.Valid() {
		return s.Complete(parent)
	}
	return nil
}
