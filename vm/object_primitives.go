package vm

// ---------------------------------------------------------------------------
// Object Primitives
// ---------------------------------------------------------------------------

// Results of ObjTag for values that are not heap blocks.
const (
	IntTag       = 1000
	OutOfHeapTag = 1001
)

// IsBlock reports whether v is a pointer.
func (h *Heap) IsBlock(v Value) bool {
	return v.IsPointer()
}

// ObjTag returns the tag of v: IntTag for immediates, the block tag for
// young, old or static blocks, and OutOfHeapTag for pointers outside any
// known region.
func (h *Heap) ObjTag(v Value) int {
	switch {
	case v.IsImmediate():
		return IntTag
	case h.IsYoung(v) || h.IsInHeap(v) || h.IsStatic(v):
		return int(h.Tag(v))
	default:
		return OutOfHeapTag
	}
}

// SetTag overwrites the tag of block v.
func (h *Heap) SetTag(v Value, tag Tag) {
	hd := h.Header(v)
	hd.Tag = tag
	h.setHeader(v, hd)
}

// NewBlock allocates a block of size fields, each initialized to the
// immediate 0. A zero size returns the atom for tag.
func (h *Heap) NewBlock(tag Tag, size int64) (Value, error) {
	if size < 0 || uint64(size) > MaxWosize {
		return Unit, invalidArgument("Obj.new_block")
	}
	return h.Alloc(uint64(size), tag), nil
}

// Duplicate returns a fresh copy of block v with the same tag and size.
// Immediates and zero-size blocks are returned as is.
//
// Raw blocks are copied as bytes. Blocks holding Values are copied field by
// field: small copies are young and written directly, large copies are old
// and written through Initialize so young fields are remembered.
func (h *Heap) Duplicate(v Value) Value {
	if v.IsImmediate() {
		return v
	}
	hd := h.Header(v)
	if hd.Wosize == 0 {
		return v
	}
	frame := h.PushRoots(&v)
	defer frame.Release()

	switch {
	case !hd.Tag.Scannable():
		res := h.Alloc(hd.Wosize, hd.Tag)
		copy(h.payload(res, hd.Wosize), h.payload(v, hd.Wosize))
		return res
	case hd.Wosize <= MaxYoungWosize:
		res := h.AllocSmall(hd.Wosize, hd.Tag)
		for i := 0; i < int(hd.Wosize); i++ {
			h.young.SetWord(res.FieldAddr(i), uint64(h.Field(v, i)))
		}
		return res
	default:
		res := h.allocShr(hd.Wosize, hd.Tag)
		for i := 0; i < int(hd.Wosize); i++ {
			h.Initialize(res.FieldAddr(i), h.Field(v, i))
		}
		return h.CheckUrgentGC(res)
	}
}

// Truncate shrinks block v to n elements (doubles for float arrays).
//
// The dropped fields are first overwritten with Unit through the barrier,
// then a white filler block with an odd tag is written over the tail so the
// orphaned words form a self-contained block the collector can reclaim.
func (h *Heap) Truncate(v Value, n int64) error {
	hd := h.Header(v)
	newWosize := n
	if hd.Tag == DoubleArrayTag {
		newWosize *= DoubleWosize
	}
	if newWosize <= 0 || uint64(newWosize) > hd.Wosize {
		return invalidArgument("Obj.truncate")
	}
	nw := uint64(newWosize)
	if nw == hd.Wosize {
		return nil
	}
	if hd.Tag.Scannable() {
		for i := nw; i < hd.Wosize; i++ {
			h.Modify(v.FieldAddr(int(i)), Unit)
		}
	}
	h.store(v.FieldAddr(int(nw)), Header{Wosize: hd.Wosize - nw - 1, Color: White, Tag: fillerTag}.Word())
	h.setHeader(v, Header{Wosize: nw, Color: hd.Color, Tag: hd.Tag})
	return nil
}

// LazyFollowForward returns the target of a forward block, or v itself.
func (h *Heap) LazyFollowForward(v Value) Value {
	if v.IsPointer() && (h.IsYoung(v) || h.IsInHeap(v)) && h.Tag(v) == ForwardTag {
		return h.Field(v, 0)
	}
	return v
}

// LazyMakeForward wraps v in a forward block.
func (h *Heap) LazyMakeForward(v Value) Value {
	frame := h.PushRoots(&v)
	defer frame.Release()
	res := h.AllocSmall(1, ForwardTag)
	h.Modify(res.FieldAddr(0), v)
	return res
}
