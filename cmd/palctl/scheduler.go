package main

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/pal/internal/pal/scheduler"
	"github.com/oriys/pal/internal/pal/taskpool"
)

func poolTypeFromString(s string) (taskpool.PoolType, error) {
	switch s {
	case "main":
		return taskpool.PoolMain, nil
	case "cpu_worker":
		return taskpool.PoolCPUWorker, nil
	case "aio_worker":
		return taskpool.PoolAIOWorker, nil
	case "user":
		return taskpool.PoolUser, nil
	default:
		return 0, fmt.Errorf("unknown pool type %q", s)
	}
}

func schedulerCmd() *cobra.Command {
	var fanout int

	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Publish a fan-out/fan-in batch of tasks through the work-stealing scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			var descs []scheduler.PoolTypeDescriptor
			for _, pc := range cfg.Scheduler.Pools {
				typ, err := poolTypeFromString(pc.Type)
				if err != nil {
					return err
				}
				descs = append(descs, scheduler.PoolTypeDescriptor{
					Type:           typ,
					Count:          pc.Count,
					MaxSlots:       pc.MaxSlots,
					PreCommitTasks: pc.PreCommitTasks,
				})
			}

			s, err := scheduler.Create(descs, nil)
			if err != nil {
				return fmt.Errorf("create scheduler: %w", err)
			}
			defer s.Shutdown()

			mainPool, err := s.AcquirePool(taskpool.PoolMain)
			if err != nil {
				return fmt.Errorf("acquire main pool: %w", err)
			}

			var wg sync.WaitGroup
			var completed atomic.Int32
			wg.Add(fanout)

			parent, err := mainPool.AllocateTask()
			if err != nil {
				return fmt.Errorf("allocate parent task: %w", err)
			}
			parent.CompletionType = taskpool.CompletionManual
			parent.MainFn = func(*taskpool.Task) {}
			parent.CompleteFn = func(*taskpool.Task) {
				fmt.Println("parent task finished: every child completed first")
			}

			if err := s.Publish(mainPool, parent, nil); err != nil {
				return fmt.Errorf("publish parent: %w", err)
			}

			for i := 0; i < fanout; i++ {
				child, err := mainPool.AllocateTask()
				if err != nil {
					return fmt.Errorf("allocate child %d: %w", i, err)
				}
				child.ParentID = parent.ID
				n := i
				child.MainFn = func(*taskpool.Task) {
					completed.Add(1)
					wg.Done()
					_ = n
				}
				parent.WorkCount().Add(1)
				if err := s.Publish(mainPool, child, nil); err != nil {
					return fmt.Errorf("publish child %d: %w", i, err)
				}
			}

			if err := s.Complete(parent.ID); err != nil {
				return fmt.Errorf("complete parent's own unit of work: %w", err)
			}

			done := make(chan struct{})
			go func() { wg.Wait(); close(done) }()
			select {
			case <-done:
				fmt.Printf("all %d child tasks completed\n", completed.Load())
			case <-time.After(5 * time.Second):
				return fmt.Errorf("timed out waiting for %d children (completed %d)", fanout, completed.Load())
			}

			snap := s.Snapshot()
			fmt.Printf("snapshot: ready_events=%d parked_workers=%d per_pool_ertr=%v\n",
				snap.ReadyEventCount, snap.ParkedWorkers, snap.PerPoolERTR)
			return nil
		},
	}
	cmd.Flags().IntVar(&fanout, "fanout", 50, "number of child tasks to fork from the parent")
	return cmd
}
