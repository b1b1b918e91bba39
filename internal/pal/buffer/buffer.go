// Package buffer implements Component D: a typed growable array laid
// out over a reserve/commit region.
package buffer

import (
	"fmt"
	"unsafe"

	"github.com/oriys/pal/internal/pal/hostmem"
	"github.com/oriys/pal/internal/pal/palerrors"
)

// Buffer is a dynamic array of fixed-size elements backed by a single
// Allocation. Growth only ever commits more of the already-reserved
// range, so Begin()/ElementAddress() pointers are stable for the
// Buffer's lifetime as long as the caller does not race a concurrent
// Ensure/Resize/Append/Shrink.
type Buffer struct {
	alloc            *hostmem.Allocation
	elementSize      uintptr
	elementAlignment uintptr
	growthQuantum    uintptr // minimum growth, in elements
	maxElements      uintptr
	capacityElements uintptr // elements that fit the current commitment
	count            uintptr
}

// Create reserves room for maxElements elements of elementSize bytes
// (aligned to elementAlignment) from pool and returns an empty Buffer.
// Nothing is committed until the first Ensure/Resize/Append.
func Create(pool *hostmem.Pool, elementSize, elementAlignment, maxElements, growthQuantumElements uintptr, access hostmem.AccessFlags) (*Buffer, error) {
	if elementSize == 0 || maxElements == 0 {
		return nil, fmt.Errorf("%w: elementSize and maxElements must be > 0", palerrors.ErrInvalidArgument)
	}
	if growthQuantumElements == 0 {
		growthQuantumElements = 1
	}
	reserveSize := maxElements * elementSize
	alloc, err := pool.Allocate(uint64(reserveSize), 0, access)
	if err != nil {
		return nil, err
	}
	return &Buffer{
		alloc:            alloc,
		elementSize:      elementSize,
		elementAlignment: elementAlignment,
		growthQuantum:    growthQuantumElements,
		maxElements:      maxElements,
	}, nil
}

// ElementSize returns the buffer's configured element size.
func (b *Buffer) ElementSize() uintptr { return b.elementSize }

// Count returns the number of live elements. O(1).
func (b *Buffer) Count() uintptr { return b.count }

// Capacity returns the number of elements the current commitment fits.
func (b *Buffer) Capacity() uintptr { return b.capacityElements }

// Max returns the number of elements the reservation could ever fit.
func (b *Buffer) Max() uintptr { return b.maxElements }

// Begin returns a pointer to element 0. O(1).
func (b *Buffer) Begin() unsafe.Pointer { return b.alloc.HostAddress() }

// End returns a pointer one past the last live element. O(1).
func (b *Buffer) End() unsafe.Pointer {
	return b.ElementAddress(b.count)
}

// ElementAddress returns a pointer to element i, which may be up to
// Capacity() for pointer-arithmetic purposes. O(1).
func (b *Buffer) ElementAddress(i uintptr) unsafe.Pointer {
	base := b.alloc.Base()
	return unsafe.Pointer(base + i*b.elementSize) //nolint:govet // reserved region, offset bound by caller
}

func roundUpElements(n, quantum uintptr) uintptr {
	if quantum == 0 {
		return n
	}
	return (n + quantum - 1) / quantum * quantum
}

// Ensure grows commitment, in units of the configured growth quantum,
// until Capacity() >= capacityElements. Fails BufferExhausted if
// capacityElements exceeds Max().
func (b *Buffer) Ensure(capacityElements uintptr) error {
	if capacityElements > b.maxElements {
		return fmt.Errorf("%w: requested capacity %d exceeds max %d", palerrors.ErrBufferExhausted, capacityElements, b.maxElements)
	}
	if capacityElements <= b.capacityElements {
		return nil
	}
	newCapacity := roundUpElements(capacityElements, b.growthQuantum)
	if newCapacity > b.maxElements {
		newCapacity = b.maxElements
	}
	if err := b.alloc.IncreaseCommitment(newCapacity * b.elementSize); err != nil {
		return err
	}
	b.capacityElements = newCapacity
	return nil
}

// Shrink decommits any pages beyond the currently used range (Count
// elements), rounded up to a whole growth quantum so Count() still
// fits.
func (b *Buffer) Shrink() error {
	keep := roundUpElements(b.count, b.growthQuantum)
	if keep >= b.capacityElements {
		return nil
	}
	if err := b.alloc.DecreaseCommitment(keep * b.elementSize); err != nil {
		return err
	}
	b.capacityElements = keep
	return nil
}

// Resize ensures capacity for n elements and sets the live count to n.
func (b *Buffer) Resize(n uintptr) error {
	if err := b.Ensure(n); err != nil {
		return err
	}
	b.count = n
	return nil
}

// Append copies elementCount elements of elementSize bytes from src
// (which must hold at least elementCount*elementSize bytes) onto the
// end of the buffer, growing as needed. elementSize must equal the
// buffer's configured element size.
func (b *Buffer) Append(src []byte, elementCount, elementSize uintptr) error {
	if elementSize != b.elementSize {
		return fmt.Errorf("%w: append element size %d does not match buffer element size %d", palerrors.ErrInvalidArgument, elementSize, b.elementSize)
	}
	need := elementCount * elementSize
	if uintptr(len(src)) < need {
		return fmt.Errorf("%w: src has %d bytes, need %d", palerrors.ErrInvalidArgument, len(src), need)
	}
	if err := b.Ensure(b.count + elementCount); err != nil {
		return err
	}
	dst := unsafe.Slice((*byte)(b.ElementAddress(b.count)), need)
	copy(dst, src[:need])
	b.count += elementCount
	return nil
}

// Truncate drops the live count to n (<= Count()) without decommitting
// anything; use Shrink afterwards to reclaim pages.
func (b *Buffer) Truncate(n uintptr) error {
	if n > b.count {
		return fmt.Errorf("%w: truncate target %d exceeds count %d", palerrors.ErrInvalidArgument, n, b.count)
	}
	b.count = n
	return nil
}
