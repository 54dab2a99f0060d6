package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Root registration
// ---------------------------------------------------------------------------

// RootFrame is a scope of local roots. Collections update the registered
// variables in place when the blocks they point to move.
//
//	frame := h.PushRoots(&a, &b)
//	defer frame.Release()
type RootFrame struct {
	h    *Heap
	mark int
}

// PushRoots registers local variables as roots until the returned frame is
// released. Frames must be released in LIFO order.
func (h *Heap) PushRoots(ptrs ...*Value) RootFrame {
	f := RootFrame{h: h, mark: len(h.localRoots)}
	h.localRoots = append(h.localRoots, ptrs...)
	return f
}

// Release drops the roots pushed by this frame and every later frame.
func (f RootFrame) Release() {
	roots := f.h.localRoots
	for i := f.mark; i < len(roots); i++ {
		roots[i] = nil
	}
	f.h.localRoots = roots[:f.mark]
}

// LocalRoots returns the number of registered local roots.
func (h *Heap) LocalRoots() int {
	return len(h.localRoots)
}

// RegisterGlobalRoot registers p as a root for the lifetime of the heap or
// until RemoveGlobalRoot.
func (h *Heap) RegisterGlobalRoot(p *Value) {
	h.globalRoots = append(h.globalRoots, p)
}

// RemoveGlobalRoot unregisters p. It is a no-op if p is not registered.
func (h *Heap) RemoveGlobalRoot(p *Value) {
	for i, q := range h.globalRoots {
		if q == p {
			h.globalRoots = append(h.globalRoots[:i], h.globalRoots[i+1:]...)
			return
		}
	}
}

// RegisterDynGlobal registers the static block whose field 0 is at addr as
// a root. Its fields are scanned at every collection; the block itself is
// never moved or freed.
func (h *Heap) RegisterDynGlobal(addr uint64) error {
	if err := h.CheckDynGlobal(addr); err != nil {
		return err
	}
	h.dynGlobals = append(h.dynGlobals, addr)
	return nil
}

// CheckDynGlobal reports whether RegisterDynGlobal would accept addr,
// without registering it.
func (h *Heap) CheckDynGlobal(addr uint64) error {
	if addr%WordSize != 0 {
		return fmt.Errorf("dyn global %#x: unaligned", addr)
	}
	if !h.space.Mapped(addr-WordSize, WordSize) {
		return fmt.Errorf("dyn global %#x: header not mapped", addr)
	}
	hd := DecodeHeader(h.load(addr - WordSize))
	if hd.Wosize > 0 && !h.space.Mapped(addr, hd.Bytes()) {
		return fmt.Errorf("dyn global %#x: %d fields extend past mapping", addr, hd.Wosize)
	}
	return nil
}

// DynGlobals returns the registered static root blocks.
func (h *Heap) DynGlobals() []Value {
	out := make([]Value, len(h.dynGlobals))
	for i, g := range h.dynGlobals {
		out[i] = FromAddr(g)
	}
	return out
}
