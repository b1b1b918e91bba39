package handle

import (
	"testing"

	"github.com/oriys/pal/internal/pal/hostmem"
)

func newIdentityTable(t *testing.T, namespace uint32) *Table {
	t.Helper()
	vm := hostmem.NewUnixVirtualMemory()
	pool, err := hostmem.Create(vm, 1, 0, 0)
	if err != nil {
		t.Fatalf("hostmem.Create: %v", err)
	}
	tbl, err := Create(pool, namespace, nil, FlagIdentity, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return tbl
}

// TestSingleChunkFill checks CreateIds(1024) on a fresh table: the
// whole first chunk fills with distinct, valid handles and reports
// itself full.
func TestSingleChunkFill(t *testing.T) {
	tbl := newIdentityTable(t, 3)
	ids, err := tbl.CreateIds(1024)
	if err != nil {
		t.Fatalf("CreateIds: %v", err)
	}
	if len(ids) != 1024 {
		t.Fatalf("len(ids)=%d want 1024", len(ids))
	}
	seen := make(map[uint32]bool, 1024)
	for _, h := range ids {
		if !h.Valid() {
			t.Fatalf("handle %#x not valid", uint32(h))
		}
		if h.Namespace() != 3 {
			t.Fatalf("handle %#x namespace=%d want 3", uint32(h), h.Namespace())
		}
		if h.Chunk() != 0 {
			t.Fatalf("handle %#x chunk=%d want 0", uint32(h), h.Chunk())
		}
		if seen[h.StateIndex()] {
			t.Fatalf("duplicate state_index %d", h.StateIndex())
		}
		seen[h.StateIndex()] = true
	}
	if tbl.Counts()[0] != 1024 {
		t.Fatalf("counts[0]=%d want 1024", tbl.Counts()[0])
	}
	if tbl.ChunkHasRoom(0) {
		t.Fatalf("chunk 0 should report no room once full")
	}
}

// TestGenerationWrap checks that 16 consecutive Create/Delete cycles
// on a table kept at size 0 rotate the slot's generation 0..15 and
// back to 0, with no repeated 32-bit value among the 16 handles of one
// cycle and the 17th handle equal to the 1st.
func TestGenerationWrap(t *testing.T) {
	tbl := newIdentityTable(t, 0)
	var seen []uint32
	for k := 0; k < 17; k++ {
		ids, err := tbl.CreateIds(1)
		if err != nil {
			t.Fatalf("CreateIds #%d: %v", k, err)
		}
		h := ids[0]
		wantGen := uint32(k % 16)
		if h.Generation() != wantGen {
			t.Fatalf("iteration %d: generation=%d want %d", k, h.Generation(), wantGen)
		}
		if k < 16 {
			for _, prev := range seen {
				if prev == uint32(h) {
					t.Fatalf("iteration %d: handle value %#x repeated", k, uint32(h))
				}
			}
		}
		seen = append(seen, uint32(h))
		if err := tbl.DeleteIds(ids); err != nil {
			t.Fatalf("DeleteIds #%d: %v", k, err)
		}
	}
	if seen[16] != seen[0] {
		t.Fatalf("17th handle %#x should equal 1st handle %#x (generation wrapped)", seen[16], seen[0])
	}
}

// TestDeleteExpiredDetection checks that a handle whose slot was
// deleted and reused fails validation against the stale value.
func TestDeleteExpiredDetection(t *testing.T) {
	tbl := newIdentityTable(t, 1)
	ids, err := tbl.CreateIds(1)
	if err != nil {
		t.Fatalf("CreateIds: %v", err)
	}
	h := ids[0]
	if err := tbl.DeleteIds([]Handle{h}); err != nil {
		t.Fatalf("DeleteIds: %v", err)
	}
	if _, err := tbl.CreateIds(1); err != nil {
		t.Fatalf("CreateIds (reuse slot): %v", err)
	}
	if !tbl.ValidateIds([]Handle{h}) {
		t.Fatalf("expected stale handle to fail validation")
	}
}

// TestHandleRoundTrip checks that dense/sparse indirection stays
// consistent across a mixed sequence of creates and deletes.
func TestHandleRoundTrip(t *testing.T) {
	tbl := newIdentityTable(t, 2)
	ids, err := tbl.CreateIds(10)
	if err != nil {
		t.Fatalf("CreateIds: %v", err)
	}
	if err := tbl.DeleteIds(ids[2:5]); err != nil {
		t.Fatalf("DeleteIds: %v", err)
	}
	more, err := tbl.CreateIds(3)
	if err != nil {
		t.Fatalf("CreateIds: %v", err)
	}
	live := append(append([]Handle{}, ids[:2]...), ids[5:]...)
	live = append(live, more...)

	info, err := tbl.GetChunkForIndex(0)
	if err != nil {
		t.Fatalf("GetChunkForIndex: %v", err)
	}
	for i, h := range info.Dense {
		chInfo, err := tbl.GetChunkForHandle(Handle(h))
		if err != nil {
			t.Fatalf("GetChunkForHandle(%#x): %v", uint32(h), err)
		}
		if int(chInfo.DenseIndex) != i {
			t.Fatalf("dense[%d]=%#x but its state points back at dense index %d", i, uint32(h), chInfo.DenseIndex)
		}
	}
	if tbl.ValidateIds(live) {
		t.Fatalf("all live handles should validate")
	}
}

// TestChunkStatusCorrectness checks that a chunk's has-room status bit
// stays in sync with whether it actually has a free slot.
func TestChunkStatusCorrectness(t *testing.T) {
	tbl := newIdentityTable(t, 4)
	if !tbl.ChunkHasRoom(0) {
		t.Fatalf("fresh chunk should report room")
	}
	ids, err := tbl.CreateIds(1024)
	if err != nil {
		t.Fatalf("CreateIds: %v", err)
	}
	if tbl.ChunkHasRoom(0) {
		t.Fatalf("full chunk should report no room")
	}
	if err := tbl.DeleteIds(ids[:1]); err != nil {
		t.Fatalf("DeleteIds: %v", err)
	}
	if !tbl.ChunkHasRoom(0) {
		t.Fatalf("chunk with count < 1024 should report room")
	}
	if tbl.ChunkCommitted(1) {
		t.Fatalf("chunk 1 should not be committed yet")
	}
}

func TestVisitAndChunkIteratorAgree(t *testing.T) {
	tbl := newIdentityTable(t, 5)
	if _, err := tbl.CreateIds(5); err != nil {
		t.Fatalf("CreateIds: %v", err)
	}
	var visited int
	aborted := tbl.Visit(func(info ChunkInfo) bool {
		visited++
		if info.Count != 5 {
			t.Fatalf("visited chunk count=%d want 5", info.Count)
		}
		return true
	})
	if aborted {
		t.Fatalf("Visit should not report aborted when callback always continues")
	}
	if visited != 1 {
		t.Fatalf("visited %d chunks want 1", visited)
	}

	it := NewChunkIterator(tbl)
	info, ok := it.Next()
	if !ok || info.Count != 5 {
		t.Fatalf("iterator did not find the populated chunk")
	}
	if _, ok := it.Next(); ok {
		t.Fatalf("iterator should have no more committed, non-empty chunks")
	}
}

func TestStorageTableInsertRemoveDoesNotBurnGeneration(t *testing.T) {
	vm := hostmem.NewUnixVirtualMemory()
	pool, err := hostmem.Create(vm, 2, 0, 0)
	if err != nil {
		t.Fatalf("hostmem.Create: %v", err)
	}
	identity, err := Create(pool, 6, nil, FlagIdentity, 1)
	if err != nil {
		t.Fatalf("Create identity: %v", err)
	}
	storage, err := Create(pool, 6, nil, FlagStorage, 0)
	if err != nil {
		t.Fatalf("Create storage: %v", err)
	}
	ids, err := identity.CreateIds(3)
	if err != nil {
		t.Fatalf("CreateIds: %v", err)
	}
	if err := storage.InsertIds(ids); err != nil {
		t.Fatalf("InsertIds: %v", err)
	}
	if storage.ValidateIds(ids) {
		t.Fatalf("inserted ids should validate in the storage table")
	}
	if err := storage.RemoveIds(ids[:1]); err != nil {
		t.Fatalf("RemoveIds: %v", err)
	}
	if identity.ValidateIds(ids[:1]) {
		t.Fatalf("removing from the storage table must not invalidate the id in its issuing table")
	}
}
