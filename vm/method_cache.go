package vm

import (
	"sort"
)

// Method dispatch for objects
//
// An object is an ObjectTag block whose field 0 is its method table and
// field 1 its object id. A method table is a block laid out as
//
//	[Val_int(n), Val_int(mask), m0, t0, m1, t1, ..., m(n-1), t(n-1)]
//
// with the tags t sorted ascending. Because field 0 holds the tagged
// integer 2n+1, it doubles as the index of the last tag, which lets the
// binary search start directly from it.
//
// A MethodCache is attached to a call site. Method tables are heap blocks
// that may move, so a cached entry is only valid within the collection
// epoch it was filled in.

// MethodEntry pairs a public method tag with its implementation.
type MethodEntry struct {
	Tag    int64
	Method Value
}

// NewMethodTable allocates a method table for entries. The entries do not
// need to be sorted. The mask field is the smallest 2^k-1 covering the
// table size.
func (h *Heap) NewMethodTable(entries []MethodEntry) Value {
	if len(entries) == 0 {
		panic("NewMethodTable: empty table")
	}
	sorted := make([]MethodEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Tag < sorted[j].Tag })

	ptrs := make([]*Value, len(sorted))
	for i := range sorted {
		ptrs[i] = &sorted[i].Method
	}
	frame := h.PushRoots(ptrs...)
	defer frame.Release()

	n := len(sorted)
	mask := int64(1)
	for mask < int64(n) {
		mask <<= 1
	}
	t := h.Alloc(uint64(2+2*n), 0)
	h.Initialize(t.FieldAddr(0), FromInt(int64(n)))
	h.Initialize(t.FieldAddr(1), FromInt(mask-1))
	for i, e := range sorted {
		h.Initialize(t.FieldAddr(2+2*i), e.Method)
		h.Initialize(t.FieldAddr(3+2*i), FromInt(e.Tag))
	}
	return t
}

// NewObject allocates an object with method table table and nfields
// instance variables, initialized to Unit.
func (h *Heap) NewObject(table Value, nfields int) Value {
	frame := h.PushRoots(&table)
	defer frame.Release()
	obj := h.Alloc(uint64(2+nfields), ObjectTag)
	h.lastOid++
	h.Initialize(obj.FieldAddr(0), table)
	h.Initialize(obj.FieldAddr(1), FromInt(h.lastOid))
	return obj
}

// ObjectID returns the id assigned to obj by NewObject.
func (h *Heap) ObjectID(obj Value) int64 {
	return h.Field(obj, 1).Int()
}

// LookupMethod returns the field index of the last tag in table that is
// less than or equal to tag. The table is assumed sorted and tag present;
// no exact match is required.
func (h *Heap) LookupMethod(table Value, tag int64) int {
	li, hi := 3, int(h.Field(table, 0))
	for li < hi {
		mi := ((li + hi) >> 1) | 1
		if tag < h.Field(table, mi).Int() {
			hi = mi - 2
		} else {
			li = mi
		}
	}
	return li
}

// GetPublicMethod returns the method of obj registered under tag.
func (h *Heap) GetPublicMethod(obj Value, tag int64) (Value, bool) {
	table := h.Field(obj, 0)
	li := h.LookupMethod(table, tag)
	if h.Field(table, li).Int() != tag {
		return Unit, false
	}
	return h.Field(table, li-1), true
}

// MethodCache remembers the last resolution at one call site.
type MethodCache struct {
	table Value
	epoch uint64
	index int
	valid bool

	// Statistics for profiling
	Hits   uint64
	Misses uint64
}

// LookupCached returns the index of tag in obj's method table, as
// LookupMethod would. The cached index is reused when obj has the same
// table, no collection ran since it was filled, and the index still holds
// tag.
func (h *Heap) LookupCached(obj Value, tag int64, c *MethodCache) int {
	table := h.Field(obj, 0)
	if c.valid && c.table == table && c.epoch == h.epoch &&
		h.Field(table, c.index).Int() == tag {
		c.Hits++
		return c.index
	}
	c.Misses++
	c.table = table
	c.epoch = h.epoch
	c.index = h.LookupMethod(table, tag)
	c.valid = true
	return c.index
}

// MethodAt returns the method stored before the tag at index.
func (h *Heap) MethodAt(obj Value, index int) Value {
	return h.Field(h.Field(obj, 0), index-1)
}

// HitRate returns the cache hit rate as a percentage.
func (c *MethodCache) HitRate() float64 {
	total := c.Hits + c.Misses
	if total == 0 {
		return 0
	}
	return float64(c.Hits) / float64(total) * 100
}

// Reset empties the cache and clears its statistics.
func (c *MethodCache) Reset() {
	*c = MethodCache{}
}
