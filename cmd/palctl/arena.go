package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oriys/pal/internal/pal/arena"
	"github.com/oriys/pal/internal/pal/hostmem"
)

func arenaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "arena",
		Short: "Bump-allocate from an arena, mark, allocate more, then roll back",
		RunE: func(cmd *cobra.Command, args []string) error {
			vm := hostmem.NewUnixVirtualMemory()
			pool, err := hostmem.Create(vm, 1, cfg.Allocator.HostMemory.MaxTotalCommitmentBytes, 0)
			if err != nil {
				return fmt.Errorf("create pool: %w", err)
			}
			defer hostmem.Delete(pool)

			const size = 1 << 20
			alloc, err := pool.Allocate(size, size, hostmem.AccessRead|hostmem.AccessWrite)
			if err != nil {
				return fmt.Errorf("allocate backing: %w", err)
			}
			defer pool.Release(alloc)

			a := arena.NewHostArena(alloc.Base(), size)

			off1, err := a.Allocate(256, 16)
			if err != nil {
				return err
			}
			fmt.Printf("allocated 256 bytes at offset %d\n", off1)

			mark := a.Mark()
			off2, err := a.Allocate(1024, 64)
			if err != nil {
				return err
			}
			fmt.Printf("allocated 1024 bytes at offset %d (arena cursor now %d)\n", off2, a.NextOffset())

			if err := a.ResetToMarker(mark); err != nil {
				return err
			}
			fmt.Printf("rolled back to marker, arena cursor now %d\n", a.NextOffset())
			return nil
		},
	}
	return cmd
}
