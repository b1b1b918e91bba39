// Package handle implements Component F: a 32-bit packed,
// generation-tagged handle value type and the chunked sparse→dense
// table that issues and validates it.
package handle

// Handle is a 32-bit packed value: valid(1) | namespace(7) | chunk(10)
// | state-index(10) | generation(4). The raw integer sort order groups
// handles by namespace, then chunk, then slot. Never expose the
// integer except across an external boundary; use the accessors.
type Handle uint32

const (
	genBits   = 4
	genShift  = 0
	stateBits = 10
	stateShift = genShift + genBits // 4
	chunkBits = 10
	chunkShift = stateShift + stateBits // 14
	nsBits    = 7
	nsShift   = chunkShift + chunkBits // 24
	validShift = nsShift + nsBits      // 31

	genMask   = (1 << genBits) - 1
	stateMask = (1 << stateBits) - 1
	chunkMask = (1 << chunkBits) - 1
	nsMask    = (1 << nsBits) - 1
)

// packHandle builds a Handle from its fields. Callers outside this
// package never construct a Handle directly.
func packHandle(valid bool, namespace, chunk, stateIndex, generation uint32) Handle {
	var v uint32
	if valid {
		v = 1
	}
	return Handle(v<<validShift |
		(namespace&nsMask)<<nsShift |
		(chunk&chunkMask)<<chunkShift |
		(stateIndex&stateMask)<<stateShift |
		(generation & genMask))
}

// Valid reports whether the handle's valid bit is set.
func (h Handle) Valid() bool { return (uint32(h)>>validShift)&1 != 0 }

// Namespace returns the handle's 7-bit namespace field.
func (h Handle) Namespace() uint32 { return (uint32(h) >> nsShift) & nsMask }

// Chunk returns the handle's 10-bit chunk index.
func (h Handle) Chunk() uint32 { return (uint32(h) >> chunkShift) & chunkMask }

// StateIndex returns the handle's 10-bit state-array index.
func (h Handle) StateIndex() uint32 { return (uint32(h) >> stateShift) & stateMask }

// Generation returns the handle's 4-bit generation counter.
func (h Handle) Generation() uint32 { return uint32(h) & genMask }

// stateWord is the sparse-array entry a live Handle's StateIndex()
// points at: valid(1) | unused(17) | dense-index(10) | generation(4).
type stateWord uint32

const (
	swGenShift   = 0
	swGenBits    = 4
	swDenseShift = swGenShift + swGenBits // 4
	swDenseBits  = 10
	swValidShift = swDenseShift + swDenseBits + 17 // 31

	swGenMask   = (1 << swGenBits) - 1
	swDenseMask = (1 << swDenseBits) - 1
)

func packState(valid bool, denseIndex, generation uint32) stateWord {
	var v uint32
	if valid {
		v = 1
	}
	return stateWord(v<<swValidShift | (denseIndex&swDenseMask)<<swDenseShift | (generation & swGenMask))
}

func (s stateWord) valid() bool         { return (uint32(s)>>swValidShift)&1 != 0 }
func (s stateWord) denseIndex() uint32  { return (uint32(s) >> swDenseShift) & swDenseMask }
func (s stateWord) generation() uint32  { return uint32(s) & swGenMask }
