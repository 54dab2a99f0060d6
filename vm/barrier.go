package vm

// ---------------------------------------------------------------------------
// Write barrier
// ---------------------------------------------------------------------------

// Modify stores v into the field at addr. Every store of a Value into an
// existing block must go through Modify (or Initialize for a block's first
// write): if the field lies outside the young arena and v is a young
// pointer, addr is added to the remembered set so the next minor
// collection finds the reference and updates it.
//
// A field that already holds a young pointer is in the remembered set
// since the last minor collection, so it is not recorded again.
func (h *Heap) Modify(addr uint64, v Value) {
	h.stats.Barrier.Writes++
	if !h.isYoungAddr(addr) && h.isYoungPointer(Value(h.load(addr))) && h.isYoungPointer(v) {
		h.store(addr, uint64(v))
		h.stats.Barrier.Rewrites++
		return
	}
	h.record(addr, v)
}

// ModifyField stores v into field i of block b through the write barrier.
func (h *Heap) ModifyField(b Value, i int, v Value) {
	h.Modify(b.FieldAddr(i), v)
}

// Initialize performs the first store into a field of a freshly allocated
// block. The previous contents of the field are not looked at, so a young
// v is always recorded.
func (h *Heap) Initialize(addr uint64, v Value) {
	h.stats.Barrier.Initializes++
	h.record(addr, v)
}

// InitializeField initializes field i of block b.
func (h *Heap) InitializeField(b Value, i int, v Value) {
	h.Initialize(b.FieldAddr(i), v)
}

func (h *Heap) record(addr uint64, v Value) {
	if h.isYoungAddr(addr) {
		h.young.SetWord(addr, uint64(v))
		h.stats.Barrier.YoungTarget++
		return
	}
	h.store(addr, uint64(v))
	if v.IsImmediate() {
		h.stats.Barrier.Immediate++
		return
	}
	if !h.isYoungPointer(v) {
		h.stats.Barrier.OldToOld++
		return
	}
	h.remembered = append(h.remembered, addr)
	h.stats.Barrier.OldToYoung++
	if n := uint64(len(h.remembered)); n > h.stats.RememberedPeak {
		h.stats.RememberedPeak = n
	}
}

// Remembered returns the number of entries in the remembered set.
func (h *Heap) Remembered() int {
	return len(h.remembered)
}

func (h *Heap) isYoungPointer(v Value) bool {
	return v.IsPointer() && h.isYoungAddr(uint64(v))
}
