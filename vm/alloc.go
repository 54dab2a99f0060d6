package vm

import (
	"fmt"
	"sort"
)

// ---------------------------------------------------------------------------
// Allocation entry points
// ---------------------------------------------------------------------------

// Alloc allocates a block of n fields. Zero-size requests return the
// shared atom, small requests go to the young arena and the rest to the old
// generation. Fields of scannable blocks are initialized to Unit.
func (h *Heap) Alloc(n uint64, tag Tag) Value {
	switch {
	case n == 0:
		return h.Atom(tag)
	case n <= MaxYoungWosize:
		return h.AllocSmall(n, tag)
	default:
		return h.AllocLarge(n, tag)
	}
}

// AllocSmall bump-allocates a block of n fields in the young arena. If the
// arena is exhausted a minor collection runs and the allocation is retried
// once; failing again is fatal.
//
// The collection moves every young block: Values held by the caller must be
// registered with PushRoots beforehand.
func (h *Heap) AllocSmall(n uint64, tag Tag) Value {
	if n == 0 || n > MaxYoungWosize {
		panic(fmt.Sprintf("AllocSmall: size %d out of range", n))
	}
	if v, ok := h.tryAllocYoung(n, tag); ok {
		return v
	}
	h.MinorCollection()
	if v, ok := h.tryAllocYoung(n, tag); ok {
		return v
	}
	fatal(ErrOutOfMemory, "young arena cannot hold %d words", n)
	return Unit
}

// AllocLarge allocates a block of n fields directly in the old generation,
// then runs an urgent major slice if enough old memory has been allocated
// since the last one. The returned block does not move; other unrooted
// young Values held by the caller do not survive the slice.
func (h *Heap) AllocLarge(n uint64, tag Tag) Value {
	if n == 0 || n > MaxWosize {
		panic(fmt.Sprintf("AllocLarge: size %d out of range", n))
	}
	v := h.allocShr(n, tag)
	return h.CheckUrgentGC(v)
}

// CheckUrgentGC performs a pending major slice, keeping v alive across it.
func (h *Heap) CheckUrgentGC(v Value) Value {
	if h.inGC || h.allocatedSinceMajor < h.cfg.MajorSliceWords {
		return v
	}
	frame := h.PushRoots(&v)
	h.MajorSlice()
	frame.Release()
	return v
}

func (h *Heap) tryAllocYoung(n uint64, tag Tag) (Value, bool) {
	need := (n + 1) * WordSize
	if h.youngPtr+need > h.young.End() {
		return Unit, false
	}
	hp := h.youngPtr
	h.youngPtr += need
	h.young.SetWord(hp, Header{Wosize: n, Color: White, Tag: tag}.Word())
	v := FromAddr(hp + WordSize)
	h.clearFields(v, n, tag)
	h.stats.YoungAllocatedWords += n + 1
	return v, true
}

func (h *Heap) clearFields(v Value, n uint64, tag Tag) {
	fill := uint64(0)
	if tag.Scannable() {
		fill = uint64(Unit)
	}
	r := h.regionOf(v.Addr())
	for i := uint64(0); i < n; i++ {
		r.SetWord(v.Addr()+i*WordSize, fill)
	}
}

// ---------------------------------------------------------------------------
// Old generation
// ---------------------------------------------------------------------------

// allocShr allocates n fields in the old generation. It never triggers a
// minor collection, so it is safe to call while promoting. Outside a
// collection, reaching the heap ceiling forces a major collection first.
func (h *Heap) allocShr(n uint64, tag Tag) Value {
	hp, ok := h.freeListAlloc(n)
	if !ok {
		if h.cfg.MaxHeapWords != 0 && h.heapWords+h.growth(n) > h.cfg.MaxHeapWords && !h.inGC {
			h.MajorCollection()
			hp, ok = h.freeListAlloc(n)
		}
		if !ok {
			if h.cfg.MaxHeapWords != 0 && h.heapWords+h.growth(n) > h.cfg.MaxHeapWords {
				fatal(ErrOutOfMemory, "old generation limit %d words reached allocating %d",
					h.cfg.MaxHeapWords, n)
			}
			if err := h.expand(n + 1); err != nil {
				fatal(ErrOutOfMemory, "cannot grow old generation: %v", err)
			}
			if hp, ok = h.freeListAlloc(n); !ok {
				fatal(ErrOutOfMemory, "fresh chunk cannot hold %d words", n)
			}
		}
	}
	h.store(hp, Header{Wosize: n, Color: White, Tag: tag}.Word())
	v := FromAddr(hp + WordSize)
	h.clearFields(v, n, tag)
	h.allocatedSinceMajor += n + 1
	h.stats.OldAllocatedWords += n + 1
	return v
}

// freeListAlloc takes n+1 words from the first free block large enough.
// Blocks are split from the tail so the free block keeps its address.
func (h *Heap) freeListAlloc(n uint64) (uint64, bool) {
	for i, hp := range h.free {
		hd := DecodeHeader(h.load(hp))
		switch {
		case hd.Wosize == n:
			h.free = append(h.free[:i], h.free[i+1:]...)
			return hp, true
		case hd.Wosize > n:
			rest := hd.Wosize - (n + 1)
			h.store(hp, Header{Wosize: rest, Color: Blue}.Word())
			if rest == 0 {
				// Header-only fragment; the sweeper will merge it.
				h.free = append(h.free[:i], h.free[i+1:]...)
			}
			return hp + (rest+1)*WordSize, true
		}
	}
	return 0, false
}

func (h *Heap) growth(whsize uint64) uint64 {
	if whsize > h.cfg.ChunkWords {
		return whsize
	}
	return h.cfg.ChunkWords
}

// expand maps a new chunk able to hold whsize words as one free block.
func (h *Heap) expand(whsize uint64) error {
	words := h.growth(whsize)
	c, err := h.space.MapAnywhere(fmt.Sprintf("old#%d", len(h.chunks)), words*WordSize)
	if err != nil {
		return err
	}
	c.SetWord(c.Base, Header{Wosize: words - 1, Color: Blue}.Word())
	i := sort.Search(len(h.chunks), func(i int) bool { return h.chunks[i].Base > c.Base })
	h.chunks = append(h.chunks, nil)
	copy(h.chunks[i+1:], h.chunks[i:])
	h.chunks[i] = c
	h.free = append(h.free, c.Base)
	h.heapWords += words
	gcLog.Debugf("old generation grown by %d words to %d", words, h.heapWords)
	return nil
}
