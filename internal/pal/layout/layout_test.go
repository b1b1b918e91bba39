package layout

import (
	"testing"
	"unsafe"
)

func TestComputeSizePacksStreamsHeadToTail(t *testing.T) {
	var l Layout
	if _, err := l.AddStream(4, 4); err != nil { // e.g. int32
		t.Fatalf("AddStream: %v", err)
	}
	if _, err := l.AddStream(8, 8); err != nil { // e.g. float64
		t.Fatalf("AddStream: %v", err)
	}
	size := l.ComputeSize(10)
	// stream0: 10*4 = 40 bytes, already 8-aligned; stream1: 10*8 = 80.
	want := uintptr(40 + 80)
	if size != want {
		t.Fatalf("ComputeSize=%d want %d", size, want)
	}
}

func TestComputeSizePadsForAlignment(t *testing.T) {
	var l Layout
	if _, err := l.AddStream(1, 1); err != nil { // 1 byte, e.g. a flag
		t.Fatalf("AddStream: %v", err)
	}
	if _, err := l.AddStream(8, 8); err != nil { // needs 8-byte alignment
		t.Fatalf("AddStream: %v", err)
	}
	size := l.ComputeSize(3)
	// stream0: 3 bytes, then pad to 8 before stream1 starts -> offset 8.
	// stream1: 3*8 = 24 bytes -> total 32.
	want := uintptr(8 + 24)
	if size != want {
		t.Fatalf("ComputeSize=%d want %d", size, want)
	}
}

func TestAddStreamRejectsOverMaxOrBadArgs(t *testing.T) {
	var l Layout
	for i := 0; i < MaxStreams; i++ {
		if _, err := l.AddStream(4, 4); err != nil {
			t.Fatalf("AddStream #%d: %v", i, err)
		}
	}
	if _, err := l.AddStream(4, 4); err == nil {
		t.Fatalf("expected error exceeding MaxStreams")
	}
	var l2 Layout
	if _, err := l2.AddStream(4, 3); err == nil {
		t.Fatalf("expected error for non-power-of-two alignment")
	}
}

func TestViewStreamAtMatchesBaseStridePlusIndex(t *testing.T) {
	var l Layout
	if _, err := l.AddStream(4, 4); err != nil {
		t.Fatalf("AddStream: %v", err)
	}
	if _, err := l.AddStream(8, 8); err != nil {
		t.Fatalf("AddStream: %v", err)
	}
	buf := make([]byte, l.ComputeSize(16))
	base := uintptr(unsafe.Pointer(&buf[0]))
	v := ViewInit(&l, base, 16)

	for s := 0; s < 2; s++ {
		for i := uintptr(0); i < 16; i++ {
			got := uintptr(v.StreamAt(s, i))
			want := uintptr(v.StreamBase(s)) + i*v.StreamStride(s)
			if got != want {
				t.Fatalf("stream %d index %d: StreamAt=%#x want %#x", s, i, got, want)
			}
		}
	}
}
