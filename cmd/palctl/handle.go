package main

import (
	"fmt"
	"unsafe"

	"github.com/spf13/cobra"

	"github.com/oriys/pal/internal/pal/handle"
	"github.com/oriys/pal/internal/pal/hostmem"
	"github.com/oriys/pal/internal/pal/layout"
)

func handleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "handle",
		Short: "Create, validate, and delete handles in a generation-tagged table",
		RunE: func(cmd *cobra.Command, args []string) error {
			vm := hostmem.NewUnixVirtualMemory()
			pool, err := hostmem.Create(vm, 1, cfg.Allocator.HostMemory.MaxTotalCommitmentBytes, 0)
			if err != nil {
				return fmt.Errorf("create pool: %w", err)
			}
			defer hostmem.Delete(pool)

			var l layout.Layout
			if _, err := l.AddStream(unsafe.Sizeof(uint64(0)), 8); err != nil {
				return fmt.Errorf("add stream: %w", err)
			}

			t, err := handle.Create(pool, 1, &l, handle.FlagIdentity, 1)
			if err != nil {
				return fmt.Errorf("create table: %w", err)
			}

			ids, err := t.CreateIds(8)
			if err != nil {
				return fmt.Errorf("create ids: %w", err)
			}
			fmt.Printf("created %d handles: %v\n", len(ids), ids)
			fmt.Printf("all valid: %v\n", !t.ValidateIds(ids))

			toDelete := ids[:4]
			if err := t.DeleteIds(toDelete); err != nil {
				return fmt.Errorf("delete ids: %w", err)
			}
			fmt.Printf("deleted %d handles; stale check: %v\n", len(toDelete), t.ValidateIds(toDelete))

			more, err := t.CreateIds(4)
			if err != nil {
				return fmt.Errorf("create ids after delete: %w", err)
			}
			fmt.Printf("recreated %d handles with bumped generations: %v\n", len(more), more)
			return nil
		},
	}
	return cmd
}
