package taskpool

import "testing"

func TestPackTaskIDFieldWidths(t *testing.T) {
	id := packTaskID(true, 0xF, 0xFFFF, 0x7FF)
	if !id.Valid() {
		t.Fatalf("expected valid bit set")
	}
	if id.Generation() != 0xF {
		t.Fatalf("Generation()=%#x want 0xF", id.Generation())
	}
	if id.Slot() != 0xFFFF {
		t.Fatalf("Slot()=%#x want 0xFFFF", id.Slot())
	}
	if id.Pool() != 0x7FF {
		t.Fatalf("Pool()=%#x want 0x7FF", id.Pool())
	}
	if uint32(id) != 0xFFFFFFFF {
		t.Fatalf("packed value=%#x want 0xFFFFFFFF", uint32(id))
	}
}

func TestAllocateTaskCommitsChunksOnDemand(t *testing.T) {
	p, err := Create(0, PoolCPUWorker, 4096, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.commitCount != 0 {
		t.Fatalf("commitCount=%d want 0 before first allocate", p.commitCount)
	}
	task, err := p.AllocateTask()
	if err != nil {
		t.Fatalf("AllocateTask: %v", err)
	}
	if p.commitCount != 1 {
		t.Fatalf("commitCount=%d want 1 after first allocate", p.commitCount)
	}
	if !task.ID.Valid() {
		t.Fatalf("allocated task id not valid")
	}
}

func TestFreeTaskCyclesGenerationAndIsReusable(t *testing.T) {
	// maxSlots=1 so there is exactly one ring slot: a freed task id must
	// come straight back around on the next allocate.
	p, err := Create(0, PoolCPUWorker, 1, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	task, err := p.AllocateTask()
	if err != nil {
		t.Fatalf("AllocateTask: %v", err)
	}
	firstGen := task.ID.Generation()
	p.FreeTask(task)
	task2, err := p.AllocateTask()
	if err != nil {
		t.Fatalf("AllocateTask #2: %v", err)
	}
	if task2.slot != task.slot {
		// Not guaranteed by FIFO ring reuse order in general, but with a
		// single outstanding slot it must come back around.
		t.Fatalf("expected the same slot to be reused with only one slot in flight")
	}
	if task2.ID.Generation() != (firstGen+1)&0xF {
		t.Fatalf("Generation()=%d want %d", task2.ID.Generation(), (firstGen+1)&0xF)
	}
}

// TestPermitsListRecycleFIFO checks that alloc 16, free all 16, alloc
// 16 again returns the same underlying records in the order they were
// freed.
func TestPermitsListRecycleFIFO(t *testing.T) {
	p, err := Create(0, PoolCPUWorker, 1024, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	var idxs []int
	for i := 0; i < 16; i++ {
		_, idx, err := p.AllocatePermitsList()
		if err != nil {
			t.Fatalf("AllocatePermitsList #%d: %v", i, err)
		}
		idxs = append(idxs, idx)
	}
	for _, idx := range idxs {
		p.FreePermitsList(idx)
	}
	for i, want := range idxs {
		_, idx, err := p.AllocatePermitsList()
		if err != nil {
			t.Fatalf("AllocatePermitsList reuse #%d: %v", i, err)
		}
		if idx != want {
			t.Fatalf("reuse #%d: index=%d want %d (order freed)", i, idx, want)
		}
	}
}

func TestReadyDequePushTakeSteal(t *testing.T) {
	p, err := Create(0, PoolCPUWorker, 64, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	p.PushReady(packTaskID(true, 0, 1, 0))
	p.PushReady(packTaskID(true, 0, 2, 0))
	if id, ok := p.StealReady(); !ok || id.Slot() != 1 {
		t.Fatalf("Steal should take the oldest item first: id=%v ok=%v", id, ok)
	}
	if id, ok := p.TakeReady(); !ok || id.Slot() != 2 {
		t.Fatalf("TakeReady should find the remaining item: id=%v ok=%v", id, ok)
	}
	if _, ok := p.TakeReady(); ok {
		t.Fatalf("deque should now be empty")
	}
}
