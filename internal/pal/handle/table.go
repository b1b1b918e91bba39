package handle

import (
	"context"
	"fmt"
	"math/bits"
	"strconv"
	"unsafe"

	"github.com/oriys/pal/internal/pal/hostmem"
	"github.com/oriys/pal/internal/pal/layout"
	"github.com/oriys/pal/internal/pal/metrics"
	"github.com/oriys/pal/internal/pal/palerrors"
	"github.com/oriys/pal/internal/pal/telemetry"
)

// ChunksPerTable and SlotsPerChunk give a fixed 2^20 ID space per
// namespace: 1024 chunks of 1024 slots each.
const (
	ChunksPerTable = 1024
	SlotsPerChunk  = 1024
	bitsetWords    = ChunksPerTable / 64
)

// Flags selects a table's role.
type Flags uint32

const (
	// FlagIdentity marks a table that mints its own IDs (CreateIds /
	// DeleteIds).
	FlagIdentity Flags = 1 << iota
	// FlagStorage marks a table that stores auxiliary data keyed by IDs
	// generated by some other identity table (InsertIds / RemoveIds).
	FlagStorage
)

func alignUp4(n uintptr) uintptr { return (n + 3) &^ 3 }

// chunkData is the live, committed representation of one chunk:
// [data-streams][pad][state[1024]][dense[1024]], viewed in place over
// the chunk's slice of the table's reservation.
type chunkData struct {
	dataBase uintptr
	state    []uint32 // len SlotsPerChunk, packed stateWord values
	dense    []uint32 // len SlotsPerChunk
	count    uint32   // live slots in this chunk, mirrors t.counts[c]
}

// Table is a chunked sparse→dense handle table bound to one namespace.
type Table struct {
	namespace uint32
	flags     Flags
	layout    *layout.Layout
	dataBytes uintptr
	chunkSize uintptr

	alloc *hostmem.Allocation

	commitBits [bitsetWords]uint64 // bit set ⇒ chunk is committed
	statusBits [bitsetWords]uint64 // bit set ⇒ chunk has >= 1 free slot
	counts     [ChunksPerTable]uint32
	chunks     [ChunksPerTable]*chunkData
}

// Create reserves virtual address space for 1024 chunks of this
// table's layout, and optionally pre-commits the first initialCommit
// chunks.
func Create(pool *hostmem.Pool, namespace uint32, l *layout.Layout, flags Flags, initialCommit int) (*Table, error) {
	if namespace > nsMask {
		return nil, fmt.Errorf("%w: namespace %d exceeds 7-bit field", palerrors.ErrInvalidArgument, namespace)
	}
	if initialCommit < 0 || initialCommit > ChunksPerTable {
		return nil, fmt.Errorf("%w: initialCommit %d out of range [0, %d]", palerrors.ErrInvalidArgument, initialCommit, ChunksPerTable)
	}
	var dataBytes uintptr
	if l != nil {
		dataBytes = l.ComputeSize(SlotsPerChunk)
	}
	chunkSize := alignUp4(dataBytes) + SlotsPerChunk*4 + SlotsPerChunk*4

	alloc, err := pool.Allocate(uint64(ChunksPerTable)*uint64(chunkSize), 0, hostmem.AccessRead|hostmem.AccessWrite)
	if err != nil {
		return nil, err
	}

	t := &Table{
		namespace: namespace,
		flags:     flags,
		layout:    l,
		dataBytes: dataBytes,
		chunkSize: chunkSize,
		alloc:     alloc,
	}
	for c := 0; c < initialCommit; c++ {
		if err := t.commitChunk(c); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func bitSet(bitset []uint64, i uint32) bool {
	return bitset[i/64]&(uint64(1)<<(i%64)) != 0
}
func setBit(bitset []uint64, i uint32)   { bitset[i/64] |= uint64(1) << (i % 64) }
func clearBit(bitset []uint64, i uint32) { bitset[i/64] &^= uint64(1) << (i % 64) }

// firstSetBit scans bitset (length bitsetWords, covering up to
// ChunksPerTable bits) for the first set bit.
func firstSetBit(bitset []uint64) (uint32, bool) {
	for w := 0; w < len(bitset); w++ {
		if bitset[w] == 0 {
			continue
		}
		return uint32(w*64 + bits.TrailingZeros64(bitset[w])), true
	}
	return 0, false
}

// firstClearBit scans the first ChunksPerTable bits of bitset for the
// first clear bit.
func firstClearBit(bitset []uint64) (uint32, bool) {
	for w := 0; w < len(bitset); w++ {
		inv := ^bitset[w]
		if inv == 0 {
			continue
		}
		bit := uint32(w*64 + bits.TrailingZeros64(inv))
		if bit >= ChunksPerTable {
			return 0, false
		}
		return bit, true
	}
	return 0, false
}

func (t *Table) commitChunk(c int) error {
	newTotal := uintptr(c+1) * t.chunkSize
	if err := t.alloc.IncreaseCommitment(newTotal); err != nil {
		return err
	}
	base := t.alloc.Base() + uintptr(c)*t.chunkSize
	stateOff := alignUp4(t.dataBytes)
	denseOff := stateOff + SlotsPerChunk*4

	state := unsafe.Slice((*uint32)(unsafe.Pointer(base+stateOff)), SlotsPerChunk) //nolint:govet // committed chunk region
	dense := unsafe.Slice((*uint32)(unsafe.Pointer(base+denseOff)), SlotsPerChunk) //nolint:govet // committed chunk region
	for i := range dense {
		dense[i] = uint32(i)
		state[i] = 0
	}
	t.chunks[c] = &chunkData{dataBase: base, state: state, dense: dense, count: 0}
	setBit(t.commitBits[:], uint32(c))
	setBit(t.statusBits[:], uint32(c))
	metrics.RecordChunkCommit("handle_table")
	return nil
}

// CreateIds allocates n new handles, committing additional chunks as
// needed. Fails HandleSpaceExhausted if the namespace's 2^20 slots are
// full.
func (t *Table) CreateIds(n int) ([]Handle, error) {
	_, span := telemetry.StartSpan(context.Background(), "handle.CreateIds")
	defer span.End()

	if t.flags&FlagIdentity == 0 {
		return nil, fmt.Errorf("%w: CreateIds requires the IDENTITY flag", palerrors.ErrInvalidArgument)
	}
	ids := make([]Handle, 0, n)
	for len(ids) < n {
		c, ok := firstSetBit(t.statusBits[:])
		if !ok {
			if cc, ok := firstClearBit(t.commitBits[:]); ok {
				if err := t.commitChunk(int(cc)); err != nil {
					return nil, err
				}
				continue
			}
			return nil, fmt.Errorf("%w: namespace %d has no free slots", palerrors.ErrHandleSpaceExhausted, t.namespace)
		}
		cd := t.chunks[c]
		for cd.count < SlotsPerChunk && len(ids) < n {
			j := cd.count
			s := cd.dense[j]
			g := stateWord(cd.state[s]).generation()
			h := packHandle(true, t.namespace, c, s, g)
			cd.state[s] = uint32(packState(true, j, g))
			cd.dense[j] = uint32(h)
			cd.count++
			ids = append(ids, h)
		}
		t.counts[c] = cd.count
		if cd.count == SlotsPerChunk {
			clearBit(t.statusBits[:], c)
		}
	}
	metrics.RecordHandleCreated(strconv.FormatUint(uint64(t.namespace), 10))
	return ids, nil
}

func (t *Table) validateOwnership(h Handle) (*chunkData, error) {
	if h.Namespace() != t.namespace {
		return nil, fmt.Errorf("%w: namespace %d does not belong to this table (%d)", palerrors.ErrHandleInvalid, h.Namespace(), t.namespace)
	}
	c := h.Chunk()
	if c >= ChunksPerTable || !bitSet(t.commitBits[:], c) {
		return nil, fmt.Errorf("%w: chunk %d is not committed", palerrors.ErrHandleInvalid, c)
	}
	return t.chunks[c], nil
}

// DeleteIds returns every handle in ids to the free list, cycling each
// slot's generation modulo 16.
func (t *Table) DeleteIds(ids []Handle) error {
	_, span := telemetry.StartSpan(context.Background(), "handle.DeleteIds")
	defer span.End()

	if t.flags&FlagIdentity == 0 {
		return fmt.Errorf("%w: DeleteIds requires the IDENTITY flag", palerrors.ErrInvalidArgument)
	}
	for _, h := range ids {
		cd, err := t.validateOwnership(h)
		if err != nil {
			return err
		}
		s := h.StateIndex()
		sw := stateWord(cd.state[s])
		if !sw.valid() || sw.generation() != h.Generation() {
			return fmt.Errorf("%w: handle %#x is expired or already deleted", palerrors.ErrHandleInvalid, uint32(h))
		}
		c := h.Chunk()
		j := sw.denseIndex()
		last := cd.count - 1
		if j != last {
			moved := Handle(cd.dense[last])
			cd.dense[j] = uint32(moved)
			ms := moved.StateIndex()
			cd.state[ms] = uint32(packState(true, j, stateWord(cd.state[ms]).generation()))
		}
		newGen := (sw.generation() + 1) & genMask
		cd.dense[last] = s
		cd.state[s] = uint32(packState(false, 0, newGen))
		cd.count--
		t.counts[c] = cd.count
		setBit(t.statusBits[:], c)
	}
	metrics.RecordHandleFreed(strconv.FormatUint(uint64(t.namespace), 10))
	return nil
}

// InsertIds mirrors externally-minted ids into a STORAGE table, using
// each id's own chunk/state-index/generation rather than allocating
// new ones.
func (t *Table) InsertIds(ids []Handle) error {
	if t.flags&FlagStorage == 0 {
		return fmt.Errorf("%w: InsertIds requires the STORAGE flag", palerrors.ErrInvalidArgument)
	}
	for _, id := range ids {
		c := id.Chunk()
		if c >= ChunksPerTable {
			return fmt.Errorf("%w: chunk %d out of range", palerrors.ErrInvalidArgument, c)
		}
		if !bitSet(t.commitBits[:], c) {
			if err := t.commitChunk(int(c)); err != nil {
				return err
			}
		}
		cd := t.chunks[c]
		s := id.StateIndex()
		j := cd.count
		cd.dense[j] = uint32(id)
		cd.state[s] = uint32(packState(true, j, id.Generation()))
		cd.count++
		t.counts[c] = cd.count
		if cd.count == SlotsPerChunk {
			clearBit(t.statusBits[:], c)
		}
	}
	return nil
}

// RemoveIds removes ids from a STORAGE table without burning a
// generation: the id remains valid in the table that issued it.
func (t *Table) RemoveIds(ids []Handle) error {
	if t.flags&FlagStorage == 0 {
		return fmt.Errorf("%w: RemoveIds requires the STORAGE flag", palerrors.ErrInvalidArgument)
	}
	for _, id := range ids {
		c := id.Chunk()
		if c >= ChunksPerTable || !bitSet(t.commitBits[:], c) {
			return fmt.Errorf("%w: chunk %d is not committed", palerrors.ErrHandleInvalid, c)
		}
		cd := t.chunks[c]
		s := id.StateIndex()
		sw := stateWord(cd.state[s])
		if !sw.valid() || sw.generation() != id.Generation() {
			return fmt.Errorf("%w: id %#x is not present in this storage table", palerrors.ErrHandleInvalid, uint32(id))
		}
		j := sw.denseIndex()
		last := cd.count - 1
		if j != last {
			moved := Handle(cd.dense[last])
			cd.dense[j] = uint32(moved)
			ms := moved.StateIndex()
			cd.state[ms] = uint32(packState(true, j, stateWord(cd.state[ms]).generation()))
		}
		cd.dense[last] = s
		cd.state[s] = uint32(packState(false, 0, sw.generation())) // generation untouched
		cd.count--
		t.counts[c] = cd.count
		setBit(t.statusBits[:], c)
	}
	return nil
}

// ValidateIds reports true if any id in ids is expired (generation
// mismatch) or has its valid bit clear.
func (t *Table) ValidateIds(ids []Handle) bool {
	for _, h := range ids {
		cd, err := t.validateOwnership(h)
		if err != nil {
			return true
		}
		sw := stateWord(cd.state[h.StateIndex()])
		if !sw.valid() || sw.generation() != h.Generation() {
			return true
		}
	}
	return false
}

// ChunkInfo describes one committed chunk for Visit/iterator consumers.
type ChunkInfo struct {
	Index      uint32
	Count      uint32
	Dense      []uint32
	DataView   *layout.View
	DenseIndex uint32 // only meaningful when returned from GetChunkForHandle
}

func (t *Table) chunkInfo(c uint32) ChunkInfo {
	cd := t.chunks[c]
	info := ChunkInfo{Index: c, Count: cd.count, Dense: cd.dense[:cd.count]}
	if t.layout != nil && t.layout.StreamCount() > 0 {
		info.DataView = layout.ViewInit(t.layout, cd.dataBase, SlotsPerChunk)
	}
	return info
}

// GetChunkForIndex returns chunk metadata for chunk index c.
func (t *Table) GetChunkForIndex(c uint32) (ChunkInfo, error) {
	if c >= ChunksPerTable || !bitSet(t.commitBits[:], c) {
		return ChunkInfo{}, fmt.Errorf("%w: chunk %d is not committed", palerrors.ErrHandleInvalid, c)
	}
	return t.chunkInfo(c), nil
}

// GetChunkForHandle returns chunk metadata for h's chunk, plus its
// dense index within that chunk.
func (t *Table) GetChunkForHandle(h Handle) (ChunkInfo, error) {
	cd, err := t.validateOwnership(h)
	if err != nil {
		return ChunkInfo{}, err
	}
	sw := stateWord(cd.state[h.StateIndex()])
	info := t.chunkInfo(h.Chunk())
	info.DenseIndex = sw.denseIndex()
	return info, nil
}

// ChunkIterator walks every committed, non-empty chunk in index order.
// Preferred over Visit for internal code (spec Design Notes: provide
// both a closure-accepting visit and an explicit iterator).
type ChunkIterator struct {
	t   *Table
	pos uint32
}

// NewChunkIterator returns an iterator over t's committed chunks.
func NewChunkIterator(t *Table) *ChunkIterator { return &ChunkIterator{t: t} }

// Next returns the next committed, non-empty chunk, or ok == false
// once exhausted.
func (it *ChunkIterator) Next() (ChunkInfo, bool) {
	for it.pos < ChunksPerTable {
		c := it.pos
		it.pos++
		if !bitSet(it.t.commitBits[:], c) {
			continue
		}
		if it.t.chunks[c].count == 0 {
			continue
		}
		return it.t.chunkInfo(c), true
	}
	return ChunkInfo{}, false
}

// Visit invokes callback with every committed, non-empty chunk's info
// in index order; callback returns false to stop early. Visit reports
// true if the enumeration was aborted early.
func (t *Table) Visit(callback func(ChunkInfo) bool) bool {
	it := NewChunkIterator(t)
	for {
		info, ok := it.Next()
		if !ok {
			return false
		}
		if !callback(info) {
			return true
		}
	}
}

// Counts returns a snapshot of per-chunk live counts, for diagnostics
// and invariant checks.
func (t *Table) Counts() [ChunksPerTable]uint32 { return t.counts }

// ChunkCommitted reports whether chunk c has been committed.
func (t *Table) ChunkCommitted(c uint32) bool { return bitSet(t.commitBits[:], c) }

// ChunkHasRoom reports whether chunk c's status bit is set (count <
// SlotsPerChunk).
func (t *Table) ChunkHasRoom(c uint32) bool { return bitSet(t.statusBits[:], c) }
