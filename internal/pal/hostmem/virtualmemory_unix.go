//go:build unix

package hostmem

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/oriys/pal/internal/pal/palerrors"
)

// unixVirtualMemory implements VirtualMemory using mmap/mprotect/munmap.
// Reserve maps PROT_NONE so no physical page is backed until Commit
// mprotects the sub-range to the requested access.
type unixVirtualMemory struct {
	pageSize    uintptr
	granularity uintptr
}

// NewUnixVirtualMemory constructs the unix VirtualMemory implementation.
func NewUnixVirtualMemory() VirtualMemory {
	ps := uintptr(os.Getpagesize())
	return &unixVirtualMemory{
		pageSize:    ps,
		// mmap has no separate allocation granularity on unix; it is
		// the page size, unlike Windows where it commonly exceeds it.
		granularity: ps,
	}
}

func roundUp(n, multiple uintptr) uintptr {
	if multiple == 0 {
		return n
	}
	return (n + multiple - 1) &^ (multiple - 1)
}

func (v *unixVirtualMemory) PageSize() uintptr             { return v.pageSize }
func (v *unixVirtualMemory) AllocationGranularity() uintptr { return v.granularity }

func (v *unixVirtualMemory) Reserve(size uintptr) (uintptr, uintptr, error) {
	if size == 0 {
		return 0, 0, fmt.Errorf("%w: reserve size must be > 0", palerrors.ErrInvalidArgument)
	}
	reserved := roundUp(size, v.granularity)
	mem, err := unix.Mmap(-1, 0, int(reserved), unix.PROT_NONE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: mmap reserve %d bytes: %v", palerrors.ErrHostAllocFailed, reserved, err)
	}
	base := uintptr(unsafe.Pointer(unsafe.SliceData(mem)))
	return base, reserved, nil
}

func (v *unixVirtualMemory) sliceAt(base, size uintptr) []byte {
	return unsafe.Slice((*byte)(addrToPointer(base, 0)), int(size))
}

func (v *unixVirtualMemory) Commit(base, size uintptr, access AccessFlags) error {
	if size == 0 {
		return nil
	}
	start := base &^ (v.pageSize - 1)
	size = roundUp(base+size-start, v.pageSize)
	base = start
	prot := unix.PROT_NONE
	if access&AccessRead != 0 {
		prot |= unix.PROT_READ
	}
	if access&AccessWrite != 0 {
		prot |= unix.PROT_WRITE
	}
	if access&AccessExecute != 0 {
		prot |= unix.PROT_EXEC
	}
	commitSize := size
	if access&AccessGuardPage != 0 {
		commitSize += v.pageSize
	}
	if err := unix.Mprotect(v.sliceAt(base, commitSize), prot); err != nil {
		return fmt.Errorf("%w: mprotect commit %d bytes: %v", palerrors.ErrHostAllocFailed, commitSize, err)
	}
	if access&AccessGuardPage != 0 {
		// The trailing page stays PROT_NONE: any access past the
		// committed range faults rather than corrupting silently.
		if err := unix.Mprotect(v.sliceAt(base+size, v.pageSize), unix.PROT_NONE); err != nil {
			return fmt.Errorf("%w: mprotect guard page: %v", palerrors.ErrHostAllocFailed, err)
		}
	}
	return nil
}

func (v *unixVirtualMemory) Decommit(base, size uintptr) error {
	if size == 0 {
		return nil
	}
	start := roundUp(base, v.pageSize)
	end := roundUp(base+size, v.pageSize)
	if start >= end {
		return nil
	}
	base, size = start, end-start
	// MADV_DONTNEED drops the physical pages while leaving the
	// reservation (and its PROT_NONE protection) intact; re-committing
	// mprotects it back to the requested access and the kernel
	// supplies fresh zero pages on first touch.
	if err := unix.Madvise(v.sliceAt(base, size), unix.MADV_DONTNEED); err != nil {
		return fmt.Errorf("%w: madvise decommit %d bytes: %v", palerrors.ErrHostAllocFailed, size, err)
	}
	if err := unix.Mprotect(v.sliceAt(base, size), unix.PROT_NONE); err != nil {
		return fmt.Errorf("%w: mprotect decommit %d bytes: %v", palerrors.ErrHostAllocFailed, size, err)
	}
	return nil
}

func (v *unixVirtualMemory) Release(base, reserved uintptr) error {
	if reserved == 0 {
		return nil
	}
	if err := unix.Munmap(v.sliceAt(base, reserved)); err != nil {
		return fmt.Errorf("%w: munmap release %d bytes: %v", palerrors.ErrHostAllocFailed, reserved, err)
	}
	return nil
}

// FlushInstructionCache is a documented no-op on amd64/arm64 Linux: the
// kernel guarantees instruction-cache coherence for pages that
// transition to PROT_EXEC via mprotect. The call is retained so
// targets without that guarantee (and the contract itself) have a
// single place to hook a real barrier.
func (v *unixVirtualMemory) FlushInstructionCache(base, size uintptr) {
	_, _ = base, size
}
