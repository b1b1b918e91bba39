// Package arena implements Component B: a bump allocator over a
// caller-supplied range with marker-based rollback.
package arena

import (
	"fmt"

	"github.com/oriys/pal/internal/pal/hostmem"
	"github.com/oriys/pal/internal/pal/palerrors"
)

// Arena is a bump allocator. It does not own the memory it carves up:
// the caller supplies the range (a raw host base address and size for
// host arenas, only a size for device arenas), so an Arena can be
// layered over any host-memory
// reservation, including one already sub-allocated by a higher layer.
type Arena struct {
	tag        hostmem.MemoryTag
	hostBase   uintptr // valid only when tag == TagHost
	size       uintptr
	nextOffset uintptr
}

// Marker captures an Arena's NextOffset at a point in time. Resetting
// to a Marker drops NextOffset back to that value, invalidating every
// allocation made after the marker was taken.
type Marker struct {
	arena  *Arena
	offset uintptr
}

// NewHostArena creates an Arena over a host-addressed range of size
// bytes starting at hostBase.
func NewHostArena(hostBase uintptr, size uintptr) *Arena {
	return &Arena{tag: hostmem.TagHost, hostBase: hostBase, size: size}
}

// NewDeviceArena creates an Arena over a device-addressed range of
// size bytes. Device memory allocation itself is out of scope (see
// spec Non-goals); the arena only tracks offsets for such a range, it
// never dereferences hostBase.
func NewDeviceArena(size uintptr) *Arena {
	return &Arena{tag: hostmem.TagDevice, size: size}
}

// Size returns the arena's total size.
func (a *Arena) Size() uintptr { return a.size }

// NextOffset returns the current bump-allocation cursor.
func (a *Arena) NextOffset() uintptr { return a.nextOffset }

func alignUp(offset, alignment uintptr) uintptr {
	return (offset + alignment - 1) &^ (alignment - 1)
}

func isPowerOfTwo(n uintptr) bool { return n != 0 && n&(n-1) == 0 }

// Allocate advances NextOffset to the next multiple of alignment, then
// by size, and returns the pre-advance (aligned) offset. alignment
// must be a non-zero power of two.
func (a *Arena) Allocate(size, alignment uintptr) (uintptr, error) {
	if alignment == 0 || !isPowerOfTwo(alignment) {
		return 0, fmt.Errorf("%w: alignment %d is not a non-zero power of two", palerrors.ErrInvalidArgument, alignment)
	}
	aligned := alignUp(a.nextOffset, alignment)
	newOffset := aligned + size
	if newOffset > a.size || newOffset < aligned /* overflow */ {
		return 0, fmt.Errorf("%w: requested %d bytes at offset %d exceeds arena size %d",
			palerrors.ErrArenaExhausted, size, aligned, a.size)
	}
	a.nextOffset = newOffset
	return aligned, nil
}

// HostAddress resolves an offset within the arena to a host pointer.
// Valid only for host-typed arenas.
func (a *Arena) HostAddress(offset uintptr) (uintptr, error) {
	if a.tag != hostmem.TagHost {
		return 0, fmt.Errorf("%w: HostAddress is only valid for host-typed arenas", palerrors.ErrInvalidArgument)
	}
	return a.hostBase + offset, nil
}

// Mark captures the arena's current allocation cursor.
func (a *Arena) Mark() Marker {
	return Marker{arena: a, offset: a.nextOffset}
}

// ResetToMarker clamps NextOffset back to the marker's offset,
// invalidating any allocation made after the marker was captured.
func (a *Arena) ResetToMarker(m Marker) error {
	if m.arena != a {
		return fmt.Errorf("%w: marker belongs to a different arena", palerrors.ErrInvalidArgument)
	}
	a.nextOffset = m.offset
	return nil
}

// Offset returns the marker's captured offset.
func (m Marker) Offset() uintptr { return m.offset }

// HostAddress resolves the marker's offset to a host pointer. Valid
// only for host-typed arenas.
func (m Marker) HostAddress() (uintptr, error) {
	return m.arena.HostAddress(m.offset)
}

// Diff returns |m1.offset - m2.offset|. Both markers must be from the
// same arena.
func Diff(m1, m2 Marker) (uintptr, error) {
	if m1.arena != m2.arena {
		return 0, fmt.Errorf("%w: markers belong to different arenas", palerrors.ErrInvalidArgument)
	}
	if m1.offset > m2.offset {
		return m1.offset - m2.offset, nil
	}
	return m2.offset - m1.offset, nil
}
