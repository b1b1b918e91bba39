package buffer

import (
	"testing"
	"unsafe"

	"github.com/oriys/pal/internal/pal/hostmem"
)

func newPool(t *testing.T, capacity int) *hostmem.Pool {
	t.Helper()
	vm := hostmem.NewUnixVirtualMemory()
	p, err := hostmem.Create(vm, capacity, 0, 0)
	if err != nil {
		t.Fatalf("hostmem.Create: %v", err)
	}
	return p
}

func TestEnsureGrowsCapacityInQuanta(t *testing.T) {
	p := newPool(t, 4)
	b, err := Create(p, 8, 8, 1024, 16, hostmem.AccessRead|hostmem.AccessWrite)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := b.Ensure(5); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if b.Capacity() != 16 {
		t.Fatalf("Capacity=%d want 16 (rounded up to growth quantum)", b.Capacity())
	}
}

func TestEnsureFailsBeyondMax(t *testing.T) {
	p := newPool(t, 4)
	b, err := Create(p, 8, 8, 32, 16, hostmem.AccessRead|hostmem.AccessWrite)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := b.Ensure(33); err == nil {
		t.Fatalf("expected BufferExhausted past Max()")
	}
}

func TestAppendCopiesAndAdvancesCount(t *testing.T) {
	p := newPool(t, 4)
	b, err := Create(p, 8, 8, 1024, 16, hostmem.AccessRead|hostmem.AccessWrite)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	src := make([]byte, 8*3)
	for i := range src {
		src[i] = byte(i + 1)
	}
	if err := b.Append(src, 3, 8); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if b.Count() != 3 {
		t.Fatalf("Count=%d want 3", b.Count())
	}
	got := unsafe.Slice((*byte)(b.ElementAddress(0)), 24)
	for i := range src {
		if got[i] != src[i] {
			t.Fatalf("byte %d = %d want %d", i, got[i], src[i])
		}
	}
}

func TestAppendRejectsWrongElementSize(t *testing.T) {
	p := newPool(t, 4)
	b, err := Create(p, 8, 8, 1024, 16, hostmem.AccessRead|hostmem.AccessWrite)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := b.Append(make([]byte, 4), 1, 4); err == nil {
		t.Fatalf("expected error for mismatched element size")
	}
}

func TestTruncateAndResize(t *testing.T) {
	p := newPool(t, 4)
	b, err := Create(p, 8, 8, 1024, 16, hostmem.AccessRead|hostmem.AccessWrite)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := b.Resize(10); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if b.Count() != 10 {
		t.Fatalf("Count=%d want 10", b.Count())
	}
	if err := b.Truncate(4); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if b.Count() != 4 {
		t.Fatalf("Count=%d want 4", b.Count())
	}
	if err := b.Truncate(5); err == nil {
		t.Fatalf("expected error truncating above current count")
	}
}

func TestShrinkDecommitsPastUsedRange(t *testing.T) {
	p := newPool(t, 4)
	b, err := Create(p, 8, 8, 1024, 16, hostmem.AccessRead|hostmem.AccessWrite)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := b.Ensure(100); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := b.Resize(5); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if err := b.Shrink(); err != nil {
		t.Fatalf("Shrink: %v", err)
	}
	if b.Capacity() < 5 {
		t.Fatalf("Capacity=%d shrunk below live count 5", b.Capacity())
	}
	if b.Capacity() >= 100 {
		t.Fatalf("Capacity=%d did not shrink from 100", b.Capacity())
	}
}
