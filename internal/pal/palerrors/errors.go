// Package palerrors holds the sentinel errors shared across every PAL
// subsystem. They are error *kinds*, not error types: callers compare
// with errors.Is and subsystems wrap with fmt.Errorf("%w: ...", ...) to
// add call-site context.
package palerrors

import "errors"

var (
	// ErrInvalidArgument is returned for a nil required pointer, a
	// non-power-of-two alignment, or a size exceeding a configured limit.
	ErrInvalidArgument = errors.New("pal: invalid argument")

	// ErrHostAllocFailed is returned when the OS refuses a reserve or
	// commit request.
	ErrHostAllocFailed = errors.New("pal: host allocation failed")

	// ErrPoolExhausted is returned when no free pool of the requested
	// type exists, or a host-allocation pool is at MaxTotalCommitment.
	ErrPoolExhausted = errors.New("pal: pool exhausted")

	// ErrArenaExhausted is returned when an arena allocation would
	// advance NextOffset past MaxOffset.
	ErrArenaExhausted = errors.New("pal: arena exhausted")

	// ErrAllocatorExhausted is returned when the buddy allocator has no
	// free block of the required level.
	ErrAllocatorExhausted = errors.New("pal: allocator exhausted")

	// ErrBufferExhausted is returned when a dynamic buffer is asked to
	// grow past ElementCountMax.
	ErrBufferExhausted = errors.New("pal: buffer exhausted")

	// ErrHandleSpaceExhausted is returned when a namespace's 2^20 slot
	// space is full.
	ErrHandleSpaceExhausted = errors.New("pal: handle space exhausted")

	// ErrHandleInvalid is returned for an expired generation, a bad
	// state index, or a namespace mismatch.
	ErrHandleInvalid = errors.New("pal: handle invalid")

	// ErrWorkerInitFailed is returned when a worker's init callback
	// returns an error during SchedulerCreate.
	ErrWorkerInitFailed = errors.New("pal: worker init failed")

	// ErrSchedulerShutdown is returned by any scheduler operation
	// attempted after Shutdown has been called.
	ErrSchedulerShutdown = errors.New("pal: scheduler shutdown")
)
