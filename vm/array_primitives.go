package vm

// ---------------------------------------------------------------------------
// Array Primitives
// ---------------------------------------------------------------------------

// ArrayLength returns the number of elements of array a. Float arrays
// count doubles, not words.
func (h *Heap) ArrayLength(a Value) int64 {
	hd := h.Header(a)
	if hd.Tag == DoubleArrayTag {
		return int64(hd.Wosize / DoubleWosize)
	}
	return int64(hd.Wosize)
}

// ArrayGet returns element i of a. Elements of float arrays are returned
// boxed, which allocates.
func (h *Heap) ArrayGet(a Value, i int64) (Value, error) {
	if i < 0 || i >= h.ArrayLength(a) {
		return Unit, indexError("Array.get")
	}
	return h.ArrayUnsafeGet(a, i), nil
}

// ArraySet stores v at index i of a. For float arrays v must be a boxed
// float.
func (h *Heap) ArraySet(a Value, i int64, v Value) error {
	if i < 0 || i >= h.ArrayLength(a) {
		return indexError("Array.set")
	}
	if h.Tag(a) == DoubleArrayTag && !h.IsDouble(v) {
		return invalidArgument("Array.set")
	}
	h.ArrayUnsafeSet(a, i, v)
	return nil
}

// ArrayUnsafeGet is ArrayGet without the bounds check. The caller must
// guarantee 0 <= i < ArrayLength(a).
func (h *Heap) ArrayUnsafeGet(a Value, i int64) Value {
	if h.Tag(a) == DoubleArrayTag {
		return h.CopyDouble(h.DoubleField(a, int(i)))
	}
	return h.Field(a, int(i))
}

// ArrayUnsafeSet is ArraySet without the bounds or element checks.
func (h *Heap) ArrayUnsafeSet(a Value, i int64, v Value) {
	if h.Tag(a) == DoubleArrayTag {
		h.SetDoubleField(a, int(i), h.DoubleVal(v))
		return
	}
	h.Modify(a.FieldAddr(int(i)), v)
}

// MakeVector builds an array of n copies of init.
//
// A boxed float init produces a flat float array. Otherwise small arrays
// are allocated young and filled directly; large arrays go to the old
// generation. If init is itself young a minor collection runs first, so
// the old array only ever refers to old data and needs no remembered-set
// entries.
func (h *Heap) MakeVector(n int64, init Value) (Value, error) {
	const op = "Array.make"
	switch {
	case n < 0:
		return Unit, invalidArgument(op)
	case n == 0:
		return h.Atom(0), nil
	}

	frame := h.PushRoots(&init)
	defer frame.Release()

	if h.IsDouble(init) {
		wsize := uint64(n) * DoubleWosize
		if uint64(n) > MaxWosize/DoubleWosize || wsize > MaxWosize {
			return Unit, invalidArgument(op)
		}
		d := h.DoubleVal(init)
		res := h.Alloc(wsize, DoubleArrayTag)
		for i := 0; i < int(n); i++ {
			h.SetDoubleField(res, i, d)
		}
		return res, nil
	}

	size := uint64(n)
	if size > MaxWosize {
		return Unit, invalidArgument(op)
	}
	if size <= MaxYoungWosize {
		res := h.AllocSmall(size, 0)
		for i := 0; i < int(size); i++ {
			h.young.SetWord(res.FieldAddr(i), uint64(init))
		}
		return res, nil
	}
	if h.IsYoung(init) {
		h.MinorCollection()
		res := h.allocShr(size, 0)
		for i := 0; i < int(size); i++ {
			h.store(res.FieldAddr(i), uint64(init))
		}
		return h.CheckUrgentGC(res), nil
	}
	res := h.allocShr(size, 0)
	for i := 0; i < int(size); i++ {
		h.Initialize(res.FieldAddr(i), init)
	}
	return h.CheckUrgentGC(res), nil
}

// MakeArray converts an array of boxed floats into a flat float array.
// Any other array is returned unchanged.
func (h *Heap) MakeArray(init Value) Value {
	size := h.Wosize(init)
	if size == 0 {
		return init
	}
	first := h.Field(init, 0)
	if !h.IsDouble(first) {
		return init
	}
	frame := h.PushRoots(&init)
	defer frame.Release()
	res := h.Alloc(size*DoubleWosize, DoubleArrayTag)
	for i := 0; i < int(size); i++ {
		h.SetDoubleField(res, i, h.DoubleVal(h.Field(init, i)))
	}
	return res
}
