package buddy

import (
	"testing"

	"github.com/oriys/pal/internal/pal/block"
	"github.com/oriys/pal/internal/pal/hostmem"
)

func TestAllocateSplitsAndReturnsExpectedLevel(t *testing.T) {
	a, err := New(hostmem.TagDevice, 0, 1024, 16, 1024)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := a.Allocate(20, 8)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if b.Size != 32 {
		t.Fatalf("Size=%d want 32 (next power of two >= 20)", b.Size)
	}
	if b.Allocator != block.AllocatorBuddy {
		t.Fatalf("Allocator=%v want AllocatorBuddy", b.Allocator)
	}
}

func TestAllocateExhaustsAtFullCapacity(t *testing.T) {
	a, err := New(hostmem.TagDevice, 0, 64, 16, 64)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := a.Allocate(64, 16); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if _, err := a.Allocate(16, 16); err == nil {
		t.Fatalf("expected AllocatorExhausted once the single top block is taken")
	}
}

// TestFreeMergesBuddiesAllTheWayUp checks conservation: after a
// sequence of allocate/free, free bytes plus live-block bytes equals
// MemorySize.
func TestFreeMergesBuddiesAllTheWayUp(t *testing.T) {
	a, err := New(hostmem.TagDevice, 0, 256, 16, 256)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var live []block.Descriptor
	for i := 0; i < 16; i++ {
		b, err := a.Allocate(16, 16)
		if err != nil {
			t.Fatalf("Allocate #%d: %v", i, err)
		}
		live = append(live, b)
	}
	if _, err := a.Allocate(16, 16); err == nil {
		t.Fatalf("expected exhaustion once all 16 minimum blocks are taken")
	}
	for _, b := range live {
		if err := a.Free(b); err != nil {
			t.Fatalf("Free: %v", err)
		}
	}
	if got := a.FreeBytes(); got != a.MemorySize() {
		t.Fatalf("after freeing everything FreeBytes=%d want %d (full coalescing back to the top block)", got, a.MemorySize())
	}
	// The allocator must have fully coalesced: a single top-level
	// allocation should now succeed.
	top, err := a.Allocate(256, 16)
	if err != nil {
		t.Fatalf("Allocate top-level after full coalesce: %v", err)
	}
	if top.Size != 256 {
		t.Fatalf("top.Size=%d want 256", top.Size)
	}
}

func TestBuddyConservationUnderMixedLoad(t *testing.T) {
	a, err := New(hostmem.TagDevice, 0, 512, 32, 512)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var live []block.Descriptor
	sizes := []uintptr{32, 64, 32, 128, 32, 64}
	var liveBytes uintptr
	for _, s := range sizes {
		b, err := a.Allocate(s, 32)
		if err != nil {
			t.Fatalf("Allocate(%d): %v", s, err)
		}
		live = append(live, b)
		liveBytes += b.Size
	}
	if got, want := a.FreeBytes()+liveBytes, a.MemorySize(); got != want {
		t.Fatalf("FreeBytes+live=%d want %d", got, want)
	}
	// Free every other block, then verify conservation still holds.
	var remaining uintptr
	for i, b := range live {
		if i%2 == 0 {
			if err := a.Free(b); err != nil {
				t.Fatalf("Free: %v", err)
			}
			continue
		}
		remaining += b.Size
	}
	if got, want := a.FreeBytes()+remaining, a.MemorySize(); got != want {
		t.Fatalf("after partial free FreeBytes+remaining=%d want %d", got, want)
	}
}

func TestReallocPreservesConservationAndValidity(t *testing.T) {
	a, err := New(hostmem.TagDevice, 0, 256, 16, 256)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := a.Allocate(16, 16)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	nb, err := a.Realloc(b, 64, 16)
	if err != nil {
		t.Fatalf("Realloc: %v", err)
	}
	if nb.Size != 64 {
		t.Fatalf("Size=%d want 64", nb.Size)
	}
	if got, want := a.FreeBytes()+nb.Size, a.MemorySize(); got != want {
		t.Fatalf("FreeBytes+live=%d want %d", got, want)
	}
}

func TestResetRestoresFullCapacity(t *testing.T) {
	a, err := New(hostmem.TagDevice, 0, 128, 32, 128)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := a.Allocate(32, 32); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	a.Reset()
	if got := a.FreeBytes(); got != a.MemorySize() {
		t.Fatalf("FreeBytes after Reset=%d want %d", got, a.MemorySize())
	}
}

func TestNewRejectsNonPowerOfTwoSizes(t *testing.T) {
	if _, err := New(hostmem.TagDevice, 0, 100, 10, 100); err == nil {
		t.Fatalf("expected error for non-power-of-two min/max")
	}
}

func TestNewRejectsMemorySizeNotMultipleOfMax(t *testing.T) {
	if _, err := New(hostmem.TagDevice, 0, 100, 16, 64); err == nil {
		t.Fatalf("expected error when MemorySize is not a multiple of AllocationSizeMax")
	}
}
