// Package buddy implements Component C: a power-of-two buddy allocator
// over a caller-supplied [MemoryStart, MemoryStart+MemorySize) range,
// tracked by two bit-indices (split, status) with per-level
// precomputed metadata.
package buddy

import (
	"fmt"
	"math/bits"

	"github.com/oriys/pal/internal/pal/block"
	"github.com/oriys/pal/internal/pal/hostmem"
	"github.com/oriys/pal/internal/pal/palerrors"
)

const wordBits = 64

// level holds precomputed metadata for one power-of-two size class.
type level struct {
	blockSize    uintptr
	blockCount   uint32
	firstBit     uint32 // first bit index within this level's word slice
	lastBit      uint32 // last valid bit index (inclusive)
	wordIndex    uint32 // starting word offset into the shared index array
	wordCount    uint32 // number of uint64 words this level occupies
	lastWordMask uint64 // mask of valid bits in the final word
}

// Allocator is a power-of-two buddy allocator. The zero value is not
// usable; construct with New.
type Allocator struct {
	memoryStart uintptr
	memorySize  uintptr
	minSize     uintptr
	maxSize     uintptr
	tag         hostmem.MemoryTag
	levels      []level // index 0 = smallest (minSize), last = largest (maxSize)

	split  []uint64 // bit set ⇒ block at that node has been split into two buddies
	status []uint64 // bit set ⇒ block is free
}

func isPow2(n uintptr) bool { return n != 0 && n&(n-1) == 0 }

func log2(n uintptr) uint32 { return uint32(bits.Len64(uint64(n)) - 1) }

// New creates an Allocator managing [memoryStart, memoryStart+memorySize)
// in power-of-two blocks between minSize and maxSize (both powers of
// two, maxSize evenly dividing memorySize).
func New(tag hostmem.MemoryTag, memoryStart, memorySize, minSize, maxSize uintptr) (*Allocator, error) {
	if !isPow2(minSize) || !isPow2(maxSize) || minSize == 0 || maxSize < minSize {
		return nil, fmt.Errorf("%w: AllocationSizeMin/Max must be non-zero powers of two with min <= max", palerrors.ErrInvalidArgument)
	}
	if memorySize%maxSize != 0 {
		return nil, fmt.Errorf("%w: MemorySize %d must be a multiple of AllocationSizeMax %d", palerrors.ErrInvalidArgument, memorySize, maxSize)
	}
	levelCount := log2(maxSize/minSize) + 1

	a := &Allocator{
		memoryStart: memoryStart,
		memorySize:  memorySize,
		minSize:     minSize,
		maxSize:     maxSize,
		tag:         tag,
		levels:      make([]level, levelCount),
	}

	var splitWords, statusWords uint32
	for i := uint32(0); i < levelCount; i++ {
		blockSize := minSize << i
		blockCount := uint32(memorySize / blockSize)
		words := (blockCount + wordBits - 1) / wordBits
		var mask uint64
		if blockCount%wordBits == 0 {
			mask = ^uint64(0)
		} else {
			mask = (uint64(1) << (blockCount % wordBits)) - 1
		}
		a.levels[i] = level{
			blockSize:    blockSize,
			blockCount:   blockCount,
			firstBit:     0,
			lastBit:      blockCount - 1,
			wordIndex:    statusWords, // split and status share the same per-level word layout
			wordCount:    words,
			lastWordMask: mask,
		}
		statusWords += words
		splitWords += words
	}
	a.split = make([]uint64, splitWords)
	a.status = make([]uint64, statusWords)
	a.Reset()
	return a, nil
}

// RequiredStateBytes returns the byte count the caller must provide for
// state (two bit-indices, each rounded up to a word boundary) for the
// given sizing parameters, without constructing an Allocator.
func RequiredStateBytes(memorySize, minSize, maxSize uintptr) (uintptr, error) {
	if !isPow2(minSize) || !isPow2(maxSize) || minSize == 0 || maxSize < minSize || memorySize%maxSize != 0 {
		return 0, fmt.Errorf("%w: invalid sizing parameters", palerrors.ErrInvalidArgument)
	}
	levelCount := log2(maxSize/minSize) + 1
	var words uint32
	for i := uint32(0); i < levelCount; i++ {
		blockSize := minSize << i
		blockCount := uint32(memorySize / blockSize)
		words += (blockCount + wordBits - 1) / wordBits
	}
	return uintptr(words) * 8 * 2, nil // split + status, 8 bytes/word
}

func levelBit(idx []uint64, lv level, i uint32) bool {
	w := lv.wordIndex + i/wordBits
	return idx[w]&(uint64(1)<<(i%wordBits)) != 0
}

func setLevelBit(idx []uint64, lv level, i uint32) {
	w := lv.wordIndex + i/wordBits
	idx[w] |= uint64(1) << (i % wordBits)
}

func clearLevelBit(idx []uint64, lv level, i uint32) {
	w := lv.wordIndex + i/wordBits
	idx[w] &^= uint64(1) << (i % wordBits)
}

// firstSetBit scans the level's slice of idx for the first set bit,
// returning its index and true, or (0, false) if none is set.
func firstSetBit(idx []uint64, lv level) (uint32, bool) {
	for w := uint32(0); w < lv.wordCount; w++ {
		word := idx[lv.wordIndex+w]
		if w == lv.wordCount-1 {
			word &= lv.lastWordMask
		}
		if word == 0 {
			continue
		}
		return w*wordBits + uint32(bits.TrailingZeros64(word)), true
	}
	return 0, false
}

func (a *Allocator) levelForSize(size uintptr) (uint32, error) {
	if size > a.maxSize {
		return 0, fmt.Errorf("%w: size %d exceeds AllocationSizeMax %d", palerrors.ErrAllocatorExhausted, size, a.maxSize)
	}
	if size < a.minSize {
		size = a.minSize
	}
	rounded := uintptr(1) << uint(bits.Len64(uint64(size-1)))
	return log2(rounded / a.minSize), nil
}

// Allocate rounds size up to a power of two >= AllocationSizeMin and
// >= alignment, and returns a block of that size.
func (a *Allocator) Allocate(size, alignment uintptr) (block.Descriptor, error) {
	if alignment == 0 || !isPow2(alignment) {
		return block.Descriptor{}, fmt.Errorf("%w: alignment must be a non-zero power of two", palerrors.ErrInvalidArgument)
	}
	need := size
	if alignment > need {
		need = alignment
	}
	lv, err := a.levelForSize(need)
	if err != nil {
		return block.Descriptor{}, err
	}
	idx, err := a.allocateAtLevel(lv)
	if err != nil {
		return block.Descriptor{}, err
	}
	return a.describe(lv, idx), nil
}

func (a *Allocator) describe(lv uint32, idx uint32) block.Descriptor {
	l := a.levels[lv]
	offset := uintptr(idx) * l.blockSize
	d := block.Descriptor{
		Size:      l.blockSize,
		Offset:    offset,
		Allocator: block.AllocatorBuddy,
		Tag:       a.tag,
	}
	if a.tag == hostmem.TagHost {
		d.HostAddress = a.memoryStart + offset
	}
	return d
}

// allocateAtLevel returns the block index of a claimed (status-bit
// cleared) block at level lv, splitting a higher level if necessary.
func (a *Allocator) allocateAtLevel(lv uint32) (uint32, error) {
	if bit, ok := firstSetBit(a.status, a.levels[lv]); ok {
		clearLevelBit(a.status, a.levels[lv], bit)
		return bit, nil
	}
	if int(lv)+1 >= len(a.levels) {
		return 0, fmt.Errorf("%w: no free block at or above level %d", palerrors.ErrAllocatorExhausted, lv)
	}
	parentIdx, err := a.allocateAtLevel(lv + 1)
	if err != nil {
		return 0, err
	}
	setLevelBit(a.split, a.levels[lv+1], parentIdx)
	left := parentIdx * 2
	right := left + 1
	setLevelBit(a.status, a.levels[lv], right)
	return left, nil
}

// Free returns a previously-allocated block to the allocator, merging
// with its buddy (and the buddy's buddy, recursively) wherever both
// halves of a split parent are free.
func (a *Allocator) Free(b block.Descriptor) error {
	lv, err := a.levelForSize(b.Size)
	if err != nil {
		return err
	}
	if a.levels[lv].blockSize != b.Size {
		return fmt.Errorf("%w: descriptor size %d is not a valid block size", palerrors.ErrInvalidArgument, b.Size)
	}
	idx := uint32(b.Offset / a.levels[lv].blockSize)
	a.freeAtLevel(lv, idx)
	return nil
}

func (a *Allocator) freeAtLevel(lv uint32, idx uint32) {
	setLevelBit(a.status, a.levels[lv], idx)
	if int(lv)+1 >= len(a.levels) {
		return // top level has no parent to coalesce into
	}
	buddy := idx ^ 1
	parentLevel := a.levels[lv+1]
	parentIdx := idx / 2
	if !levelBit(a.status, a.levels[lv], buddy) {
		return // buddy still allocated/split: nothing to merge
	}
	if !levelBit(a.split, parentLevel, parentIdx) {
		return // parent was never split (shouldn't happen if buddy is free, but stay defensive)
	}
	clearLevelBit(a.status, a.levels[lv], idx)
	clearLevelBit(a.status, a.levels[lv], buddy)
	clearLevelBit(a.split, parentLevel, parentIdx)
	a.freeAtLevel(lv+1, parentIdx)
}

// Realloc is equivalent to Allocate(newSize, alignment) followed by
// Free(existing). The caller is responsible for copying data from the
// old block to the new one; the old block remains readable (Free only
// toggles bitset state, it never touches memory contents) until the
// caller's next call into the allocator.
func (a *Allocator) Realloc(existing block.Descriptor, newSize, alignment uintptr) (block.Descriptor, error) {
	nb, err := a.Allocate(newSize, alignment)
	if err != nil {
		return block.Descriptor{}, err
	}
	if err := a.Free(existing); err != nil {
		return block.Descriptor{}, err
	}
	return nb, nil
}

// Reset clears both indices and marks every top-level block free.
func (a *Allocator) Reset() {
	for i := range a.split {
		a.split[i] = 0
	}
	for i := range a.status {
		a.status[i] = 0
	}
	top := a.levels[len(a.levels)-1]
	for i := uint32(0); i < top.blockCount; i++ {
		setLevelBit(a.status, top, i)
	}
}

// FreeBytes sums the size of every block currently marked free
// according to the status index, across all levels. Used by property
// 5 (buddy conservation): FreeBytes() + live-block bytes == MemorySize.
func (a *Allocator) FreeBytes() uintptr {
	var total uintptr
	for _, lv := range a.levels {
		for i := uint32(0); i < lv.blockCount; i++ {
			if levelBit(a.status, lv, i) {
				total += lv.blockSize
			}
		}
	}
	return total
}

// MemorySize returns the total managed range size.
func (a *Allocator) MemorySize() uintptr { return a.memorySize }
