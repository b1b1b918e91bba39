package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oriys/pal/internal/pal/block"
	"github.com/oriys/pal/internal/pal/buddy"
	"github.com/oriys/pal/internal/pal/hostmem"
)

func buddyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buddy",
		Short: "Allocate, realloc and free blocks from a buddy allocator, checking conservation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cls := cfg.Allocator.BuddyClasses[0]
			minSize := uintptr(1) << uint(cls.MinLevel)
			maxSize := minSize << uint(cls.TotalLevels-1)

			vm := hostmem.NewUnixVirtualMemory()
			pool, err := hostmem.Create(vm, 1, cfg.Allocator.HostMemory.MaxTotalCommitmentBytes, 0)
			if err != nil {
				return fmt.Errorf("create pool: %w", err)
			}
			defer hostmem.Delete(pool)

			backing, err := pool.Allocate(uint64(maxSize), uint64(maxSize), hostmem.AccessRead|hostmem.AccessWrite)
			if err != nil {
				return fmt.Errorf("allocate backing: %w", err)
			}
			defer pool.Release(backing)

			a, err := buddy.New(hostmem.TagHost, backing.Base(), maxSize, minSize, maxSize)
			if err != nil {
				return fmt.Errorf("new buddy allocator: %w", err)
			}

			var live []block.Descriptor
			for _, size := range []uintptr{64, 4096, 65536} {
				b, err := a.Allocate(size, minSize)
				if err != nil {
					return fmt.Errorf("allocate %d: %w", size, err)
				}
				fmt.Printf("allocated %d bytes at offset %d\n", b.Size, b.Offset)
				live = append(live, b)
			}

			grown, err := a.Realloc(live[0], 8192, minSize)
			if err != nil {
				return fmt.Errorf("realloc: %w", err)
			}
			live[0] = grown
			fmt.Printf("reallocated first block to %d bytes at offset %d\n", grown.Size, grown.Offset)

			for _, b := range live {
				if err := a.Free(b); err != nil {
					return fmt.Errorf("free: %w", err)
				}
			}

			if got, want := a.FreeBytes(), a.MemorySize(); got != want {
				return fmt.Errorf("conservation check failed: FreeBytes=%d MemorySize=%d", got, want)
			}
			fmt.Println("conservation check passed: all blocks freed, FreeBytes == MemorySize")
			return nil
		},
	}
	return cmd
}
