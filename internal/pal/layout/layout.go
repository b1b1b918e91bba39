// Package layout implements Component E: a structure-of-arrays stream
// description and typed stride access into a block of memory.
package layout

import (
	"fmt"
	"unsafe"

	"github.com/oriys/pal/internal/pal/palerrors"
)

// MaxStreams bounds the number of SoA streams a Layout can describe.
const MaxStreams = 8

// stream describes one SoA column.
type stream struct {
	size  uintptr
	align uintptr
}

// Layout is an append-only description of up to MaxStreams SoA
// streams, each declared by (size, align). Building a Layout never
// touches memory; it only records the shape later used by View.
type Layout struct {
	streams [MaxStreams]stream
	count   int
}

func isPow2(n uintptr) bool { return n != 0 && n&(n-1) == 0 }

func alignUp(offset, alignment uintptr) uintptr {
	return (offset + alignment - 1) &^ (alignment - 1)
}

// AddStream appends a stream of the given per-item size and alignment,
// returning its stream index.
func (l *Layout) AddStream(itemSize, alignment uintptr) (int, error) {
	if l.count >= MaxStreams {
		return 0, fmt.Errorf("%w: layout already has the maximum %d streams", palerrors.ErrInvalidArgument, MaxStreams)
	}
	if itemSize == 0 || alignment == 0 || !isPow2(alignment) {
		return 0, fmt.Errorf("%w: itemSize must be > 0 and alignment a non-zero power of two", palerrors.ErrInvalidArgument)
	}
	idx := l.count
	l.streams[idx] = stream{size: itemSize, align: alignment}
	l.count++
	return idx, nil
}

// StreamCount returns the number of streams declared so far.
func (l *Layout) StreamCount() int { return l.count }

// ComputeSize returns the total bytes needed to hold itemCount elements
// of every declared stream, each stream padded to its alignment and
// packed head-to-tail in declaration order.
func (l *Layout) ComputeSize(itemCount uintptr) uintptr {
	var offset uintptr
	for i := 0; i < l.count; i++ {
		s := l.streams[i]
		offset = alignUp(offset, s.align)
		offset += s.size * itemCount
	}
	return offset
}

// View binds a Layout to a base address and an item capacity, exposing
// each stream's base pointer and per-element stride.
type View struct {
	layout   *Layout
	base     uintptr
	capacity uintptr
	starts   [MaxStreams]uintptr // byte offset of each stream from base
}

// ViewInit computes each stream's contiguous start offset (the start of
// stream i+1 follows stream i's itemCount*size bytes, aligned up to
// stream i+1's alignment) and binds them to base.
func ViewInit(l *Layout, base, capacity uintptr) *View {
	v := &View{layout: l, base: base, capacity: capacity}
	var offset uintptr
	for i := 0; i < l.count; i++ {
		s := l.streams[i]
		offset = alignUp(offset, s.align)
		v.starts[i] = offset
		offset += s.size * capacity
	}
	return v
}

// StreamBase returns the base pointer of stream s.
func (v *View) StreamBase(s int) unsafe.Pointer {
	return unsafe.Pointer(v.base + v.starts[s]) //nolint:govet // caller-owned block, offset within capacity
}

// StreamStride returns the per-element stride (== declared item size)
// of stream s.
func (v *View) StreamStride(s int) uintptr {
	return v.layout.streams[s].size
}

// StreamAt returns a pointer to element i of stream s:
// v.stream[s] + i*v.stride[s].
func (v *View) StreamAt(s int, i uintptr) unsafe.Pointer {
	return unsafe.Pointer(v.base + v.starts[s] + i*v.layout.streams[s].size) //nolint:govet // bounded by capacity, caller-checked
}

// Capacity returns the item capacity the view was initialized with.
func (v *View) Capacity() uintptr { return v.capacity }
