package main

import (
	"fmt"
	"unsafe"

	"github.com/spf13/cobra"

	"github.com/oriys/pal/internal/pal/buffer"
	"github.com/oriys/pal/internal/pal/hostmem"
)

func bufferCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buffer",
		Short: "Ensure, append to, and truncate a dynamic typed buffer",
		RunE: func(cmd *cobra.Command, args []string) error {
			vm := hostmem.NewUnixVirtualMemory()
			pool, err := hostmem.Create(vm, 1, cfg.Allocator.HostMemory.MaxTotalCommitmentBytes, 0)
			if err != nil {
				return fmt.Errorf("create pool: %w", err)
			}
			defer hostmem.Delete(pool)

			const elemSize = unsafe.Sizeof(uint64(0))
			b, err := buffer.Create(pool, elemSize, elemSize, 1024, 64, hostmem.AccessRead|hostmem.AccessWrite)
			if err != nil {
				return fmt.Errorf("create buffer: %w", err)
			}

			if err := b.Ensure(200); err != nil {
				return fmt.Errorf("ensure: %w", err)
			}
			fmt.Printf("ensured capacity %d elements\n", b.Capacity())

			values := make([]uint64, 100)
			for i := range values {
				values[i] = uint64(i)
			}
			raw := unsafe.Slice((*byte)(unsafe.Pointer(&values[0])), len(values)*int(elemSize))
			if err := b.Append(raw, uintptr(len(values)), elemSize); err != nil {
				return fmt.Errorf("append: %w", err)
			}
			fmt.Printf("appended %d elements, count now %d\n", len(values), b.Count())

			if err := b.Truncate(10); err != nil {
				return fmt.Errorf("truncate: %w", err)
			}
			fmt.Printf("truncated to count %d\n", b.Count())
			return nil
		},
	}
	return cmd
}
