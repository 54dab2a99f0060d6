package vm

// Value represents a runtime value as a single machine word.
//
// The low bit is the tag bit and alone decides the interpretation:
//   - Immediate: low bit 1, the remaining 63 bits hold a signed integer
//   - Pointer:   low bit 0, the word is the byte address of field 0 of a
//     block; the block's header is the word just before it
//
// Pointers are word aligned, so the tag bit of a pointer is always clear.
// A header word with an odd tag therefore reads as an immediate, which the
// truncate primitive relies on for the filler block it leaves behind.
type Value uint64

// Immediate range (63-bit signed)
const (
	MaxInt int64 = (1 << 62) - 1
	MinInt int64 = -(1 << 62)
)

// Pre-defined immediates
const (
	Unit  Value = 1 // FromInt(0)
	False Value = 1 // FromInt(0)
	True  Value = 3 // FromInt(1)
)

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// IsImmediate returns true if v is a tagged integer.
func (v Value) IsImmediate() bool {
	return v&1 == 1
}

// IsPointer returns true if v points into the address space.
func (v Value) IsPointer() bool {
	return v&1 == 0
}

// IsBlock is an alias for IsPointer.
func (v Value) IsBlock() bool {
	return v&1 == 0
}

// ---------------------------------------------------------------------------
// Immediate operations
// ---------------------------------------------------------------------------

// Int returns v as an int64.
// Panics if v is not an immediate.
func (v Value) Int() int64 {
	if !v.IsImmediate() {
		panic("Value.Int: not an immediate")
	}
	return int64(v) >> 1
}

// FromInt creates an immediate Value from an int64.
// Panics if n is outside the immediate range.
func FromInt(n int64) Value {
	if n > MaxInt || n < MinInt {
		panic("FromInt: value out of range")
	}
	return Value(uint64(n)<<1 | 1)
}

// TryFromInt creates an immediate Value, returning false if out of range.
func TryFromInt(n int64) (Value, bool) {
	if n > MaxInt || n < MinInt {
		return Unit, false
	}
	return Value(uint64(n)<<1 | 1), true
}

// FromBool creates an immediate Value from a bool.
func FromBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// Bool returns true for any immediate other than False.
func (v Value) Bool() bool {
	return v != False
}

// ---------------------------------------------------------------------------
// Pointer operations
// ---------------------------------------------------------------------------

// Addr returns the byte address of field 0.
// Panics if v is not a pointer.
func (v Value) Addr() uint64 {
	if !v.IsPointer() {
		panic("Value.Addr: not a pointer")
	}
	return uint64(v)
}

// FromAddr creates a pointer Value from the address of field 0.
// Panics if addr is not word aligned.
func FromAddr(addr uint64) Value {
	if addr%WordSize != 0 {
		panic("FromAddr: unaligned address")
	}
	return Value(addr)
}

// HeaderAddr returns the address of the block header of pointer v.
func (v Value) HeaderAddr() uint64 {
	return v.Addr() - WordSize
}

// FieldAddr returns the address of field i of pointer v.
func (v Value) FieldAddr(i int) uint64 {
	return v.Addr() + uint64(i)*WordSize
}
