package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oriys/pal/internal/pal/hostmem"
)

func hostmemCmd() *cobra.Command {
	var reserveMiB, commitMiB int

	cmd := &cobra.Command{
		Use:   "hostmem",
		Short: "Reserve, commit, flush and release a host-memory allocation",
		RunE: func(cmd *cobra.Command, args []string) error {
			vm := hostmem.NewUnixVirtualMemory()
			pool, err := hostmem.Create(vm, 16, cfg.Allocator.HostMemory.MaxTotalCommitmentBytes, 0)
			if err != nil {
				return fmt.Errorf("create pool: %w", err)
			}
			defer hostmem.Delete(pool)

			reserveSize := uint64(reserveMiB) << 20
			commitSize := uint64(commitMiB) << 20
			alloc, err := pool.Allocate(reserveSize, commitSize, hostmem.AccessRead|hostmem.AccessWrite)
			if err != nil {
				return fmt.Errorf("allocate: %w", err)
			}
			fmt.Printf("reserved %d bytes at base %#x, committed %d bytes\n", alloc.Reserved(), alloc.Base(), alloc.Committed())

			if err := alloc.IncreaseCommitment(reserveSize); err != nil {
				return fmt.Errorf("increase commitment: %w", err)
			}
			fmt.Printf("committed %d bytes total, pool total committed %d\n", alloc.Committed(), pool.TotalCommitted())

			alloc.Flush()
			return pool.Release(alloc)
		},
	}
	cmd.Flags().IntVar(&reserveMiB, "reserve-mib", 4, "MiB to reserve")
	cmd.Flags().IntVar(&commitMiB, "commit-mib", 1, "MiB to commit up front")
	return cmd
}
