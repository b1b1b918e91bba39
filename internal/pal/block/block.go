// Package block defines the BlockDescriptor value. The buddy
// allocator's Allocate and Realloc return one; the arena allocator
// returns a bare offset and the dynamic buffer returns no descriptor.
package block

import "github.com/oriys/pal/internal/pal/hostmem"

// AllocatorType identifies which allocator produced a Descriptor.
type AllocatorType uint32

const (
	AllocatorArena AllocatorType = iota
	AllocatorBuddy
	AllocatorBuffer
)

// Descriptor describes one allocated block; only the buddy allocator
// emits it.
// HostAddress is the zero uintptr for device allocations.
type Descriptor struct {
	Size        uintptr
	Offset      uintptr
	HostAddress uintptr
	Allocator   AllocatorType
	Tag         hostmem.MemoryTag
}

// IsDevice reports whether the descriptor names a device allocation
// (no host pointer is valid for it).
func (d Descriptor) IsDevice() bool { return d.Tag == hostmem.TagDevice }
