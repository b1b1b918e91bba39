package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/oriys/pal/internal/pal/taskpool"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := Create([]PoolTypeDescriptor{
		{Type: taskpool.PoolMain, Count: 1, MaxSlots: 1024},
		{Type: taskpool.PoolCPUWorker, Count: 1, MaxSlots: 1024},
	}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(s.Shutdown)
	return s
}

// TestSingleTaskAutocomplete checks that a task with no children and
// no unmet dependencies runs and completes entirely on its own.
func TestSingleTaskAutocomplete(t *testing.T) {
	s := newTestScheduler(t)
	main, err := s.AcquirePool(taskpool.PoolMain)
	if err != nil {
		t.Fatalf("AcquirePool: %v", err)
	}

	task, err := main.AllocateTask()
	if err != nil {
		t.Fatalf("AllocateTask: %v", err)
	}
	done := make(chan struct{})
	task.MainFn = func(*taskpool.Task) {}
	task.CompleteFn = func(*taskpool.Task) { close(done) }

	if err := s.Publish(main, task, nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("task never completed")
	}
}

// TestTaskOrderingDependency checks that a task published with an
// unfinished dependency does not run until that dependency completes.
func TestTaskOrderingDependency(t *testing.T) {
	s := newTestScheduler(t)
	main, err := s.AcquirePool(taskpool.PoolMain)
	if err != nil {
		t.Fatalf("AcquirePool: %v", err)
	}

	var mu sync.Mutex
	var order []string
	aDone := make(chan struct{})
	bDone := make(chan struct{})

	taskA, err := main.AllocateTask()
	if err != nil {
		t.Fatalf("AllocateTask A: %v", err)
	}
	taskB, err := main.AllocateTask()
	if err != nil {
		t.Fatalf("AllocateTask B: %v", err)
	}

	taskA.MainFn = func(*taskpool.Task) {
		mu.Lock()
		order = append(order, "A")
		mu.Unlock()
	}
	taskA.CompleteFn = func(*taskpool.Task) { close(aDone) }

	taskB.MainFn = func(*taskpool.Task) {
		mu.Lock()
		order = append(order, "B")
		mu.Unlock()
	}
	taskB.CompleteFn = func(*taskpool.Task) { close(bDone) }

	// Publish the dependent task first, while its dependency is still
	// unfinished, so registration cannot race a too-early completion.
	if err := s.Publish(main, taskB, []taskpool.TaskID{taskA.ID}); err != nil {
		t.Fatalf("Publish B: %v", err)
	}
	if err := s.Publish(main, taskA, nil); err != nil {
		t.Fatalf("Publish A: %v", err)
	}

	select {
	case <-aDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("A never completed")
	}
	select {
	case <-bDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("B never completed (lost wakeup on dependency satisfaction?)")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "A" || order[1] != "B" {
		t.Fatalf("order=%v want [A B]", order)
	}
}

// TestParentFinishesAfterChild checks that a parent task that forks a
// child does not itself complete (run CompleteFn, free its slot) until
// the child has completed, even though the parent's own MainFn returns
// first.
func TestParentFinishesAfterChild(t *testing.T) {
	s := newTestScheduler(t)
	main, err := s.AcquirePool(taskpool.PoolMain)
	if err != nil {
		t.Fatalf("AcquirePool: %v", err)
	}

	var mu sync.Mutex
	var order []string
	parentDone := make(chan struct{})
	childDone := make(chan struct{})

	parent, err := main.AllocateTask()
	if err != nil {
		t.Fatalf("AllocateTask parent: %v", err)
	}

	parent.MainFn = func(pt *taskpool.Task) {
		// Forking: bump the parent's own work count before the child is
		// visible to anyone, then publish the child against the pool the
		// parent's own slot came from (pt.Pool(), main here).
		pt.WorkCount().Add(1)
		workerPool := pt.Pool()
		child, err := workerPool.AllocateTask()
		if err != nil {
			t.Errorf("AllocateTask child: %v", err)
			return
		}
		child.ParentID = pt.ID
		child.MainFn = func(*taskpool.Task) {
			mu.Lock()
			order = append(order, "child")
			mu.Unlock()
		}
		child.CompleteFn = func(*taskpool.Task) {
			mu.Lock()
			order = append(order, "child-complete")
			mu.Unlock()
			close(childDone)
		}
		if err := s.Publish(workerPool, child, nil); err != nil {
			t.Errorf("Publish child: %v", err)
		}
	}
	parent.CompleteFn = func(*taskpool.Task) {
		mu.Lock()
		order = append(order, "parent-complete")
		mu.Unlock()
		close(parentDone)
	}

	if err := s.Publish(main, parent, nil); err != nil {
		t.Fatalf("Publish parent: %v", err)
	}

	select {
	case <-childDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("child never completed")
	}
	select {
	case <-parentDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("parent never completed")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != "child" || order[1] != "child-complete" || order[2] != "parent-complete" {
		t.Fatalf("completion order=%v want [child child-complete parent-complete]", order)
	}
}

// TestNoLostWakeup checks that publishing many independent tasks
// back-to-back from outside any worker loop (so races the park/wake
// protocol must survive, like a wake arriving between a worker's ERTR
// scan and its park call, actually occur) eventually runs every one of
// them exactly once.
func TestNoLostWakeup(t *testing.T) {
	s := newTestScheduler(t)
	main, err := s.AcquirePool(taskpool.PoolMain)
	if err != nil {
		t.Fatalf("AcquirePool: %v", err)
	}

	const n = 200
	var wg sync.WaitGroup
	wg.Add(n)

	var mu sync.Mutex
	count := 0

	for i := 0; i < n; i++ {
		task, err := main.AllocateTask()
		if err != nil {
			t.Fatalf("AllocateTask #%d: %v", i, err)
		}
		task.MainFn = func(*taskpool.Task) {
			mu.Lock()
			count++
			mu.Unlock()
		}
		task.CompleteFn = func(*taskpool.Task) { wg.Done() }
		if err := s.Publish(main, task, nil); err != nil {
			t.Fatalf("Publish #%d: %v", i, err)
		}
	}

	waited := make(chan struct{})
	go func() {
		wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out: only some of %d tasks completed (lost wakeup)", n)
	}

	mu.Lock()
	defer mu.Unlock()
	if count != n {
		t.Fatalf("count=%d want %d", count, n)
	}
}
