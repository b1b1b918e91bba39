package handle

import "testing"

func TestPackHandleFieldWidths(t *testing.T) {
	h := packHandle(true, 0x7F, 0x3FF, 0x3FF, 0xF)
	if !h.Valid() {
		t.Fatalf("expected valid bit set")
	}
	if h.Namespace() != 0x7F {
		t.Fatalf("Namespace()=%#x want %#x", h.Namespace(), 0x7F)
	}
	if h.Chunk() != 0x3FF {
		t.Fatalf("Chunk()=%#x want %#x", h.Chunk(), 0x3FF)
	}
	if h.StateIndex() != 0x3FF {
		t.Fatalf("StateIndex()=%#x want %#x", h.StateIndex(), 0x3FF)
	}
	if h.Generation() != 0xF {
		t.Fatalf("Generation()=%#x want %#x", h.Generation(), 0xF)
	}
	if uint32(h) != 0xFFFFFFFF {
		t.Fatalf("packed value=%#x want 0xFFFFFFFF (all fields at max width)", uint32(h))
	}
}

func TestPackHandleFieldsDoNotOverlap(t *testing.T) {
	cases := []struct {
		name string
		h    Handle
		want func(Handle) uint32
		val  uint32
	}{
		{"namespace", packHandle(false, 5, 0, 0, 0), Handle.Namespace, 5},
		{"chunk", packHandle(false, 0, 777, 0, 0), Handle.Chunk, 777},
		{"stateIndex", packHandle(false, 0, 0, 513, 0), Handle.StateIndex, 513},
		{"generation", packHandle(false, 0, 0, 0, 9), Handle.Generation, 9},
	}
	for _, c := range cases {
		if got := c.want(c.h); got != c.val {
			t.Fatalf("%s: got %d want %d", c.name, got, c.val)
		}
		if c.h.Valid() {
			t.Fatalf("%s: valid bit leaked into unrelated field pack", c.name)
		}
	}
}

func TestPackStateFieldWidths(t *testing.T) {
	s := packState(true, 0x3FF, 0xF)
	if !s.valid() {
		t.Fatalf("expected valid bit set")
	}
	if s.denseIndex() != 0x3FF {
		t.Fatalf("denseIndex()=%#x want 0x3FF", s.denseIndex())
	}
	if s.generation() != 0xF {
		t.Fatalf("generation()=%#x want 0xF", s.generation())
	}
}

func TestPackStateZeroValueIsInvalid(t *testing.T) {
	var s stateWord
	if s.valid() {
		t.Fatalf("zero stateWord must not be valid")
	}
	if s.denseIndex() != 0 || s.generation() != 0 {
		t.Fatalf("zero stateWord must decode to zero fields")
	}
}
