package vm

import (
	"time"
)

// ---------------------------------------------------------------------------
// Minor collection
// ---------------------------------------------------------------------------

// MinorCollection promotes every live young block to the old generation
// and empties the young arena.
//
// Roots are the local root frames, the global roots, the fields of the
// static blocks registered by the loader and the remembered set. A promoted
// block's young header is overwritten with forwardedHeader and its field 0
// with the new address, so later references to it are redirected.
func (h *Heap) MinorCollection() {
	if h.inGC {
		panic("MinorCollection: collection already in progress")
	}
	start := time.Now()
	h.inGC = true
	promotedBefore := h.stats.PromotedWords
	remembered := len(h.remembered)

	for _, p := range h.localRoots {
		*p = h.oldify(*p)
	}
	for _, p := range h.globalRoots {
		*p = h.oldify(*p)
	}
	for _, g := range h.dynGlobals {
		h.oldifyFields(FromAddr(g))
	}
	for _, fa := range h.remembered {
		h.oldifyField(fa)
	}
	for len(h.todo) > 0 {
		v := h.todo[len(h.todo)-1]
		h.todo = h.todo[:len(h.todo)-1]
		h.oldifyFields(v)
	}

	h.remembered = h.remembered[:0]
	if h.cfg.DebugFill {
		for a := h.young.Base; a < h.youngPtr; a += WordSize {
			h.young.SetWord(a, debugFreeMinor)
		}
	}
	h.youngPtr = h.young.Base
	h.epoch++
	h.inGC = false

	h.stats.MinorCollections++
	h.stats.LastMinorDuration = time.Since(start)
	h.stats.LastCollection = start
	gcLog.Debugf("minor collection #%d: promoted %d words, %d remembered fields, %s",
		h.stats.MinorCollections, h.stats.PromotedWords-promotedBefore, remembered,
		h.stats.LastMinorDuration)
}

// oldify returns the old-generation address of v, promoting it if needed.
func (h *Heap) oldify(v Value) Value {
	if !v.IsPointer() || !h.isYoungAddr(uint64(v)) {
		return v
	}
	hw := h.young.Word(v.HeaderAddr())
	if hw == forwardedHeader {
		return Value(h.young.Word(v.Addr()))
	}
	hd := DecodeHeader(hw)
	nv := h.allocShr(hd.Wosize, hd.Tag)
	copy(h.payload(nv, hd.Wosize), h.payload(v, hd.Wosize))
	h.young.SetWord(v.HeaderAddr(), forwardedHeader)
	h.young.SetWord(v.Addr(), uint64(nv))
	if hd.Tag.Scannable() {
		h.todo = append(h.todo, nv)
	}
	h.stats.PromotedWords += hd.Whsize()
	return nv
}

func (h *Heap) oldifyField(addr uint64) {
	v := Value(h.load(addr))
	if nv := h.oldify(v); nv != v {
		h.store(addr, uint64(nv))
	}
}

func (h *Heap) oldifyFields(v Value) {
	hd := h.Header(v)
	if !hd.Tag.Scannable() {
		return
	}
	for i := 0; i < int(hd.Wosize); i++ {
		h.oldifyField(v.FieldAddr(i))
	}
}
