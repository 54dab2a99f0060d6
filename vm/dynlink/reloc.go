package dynlink

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/chazu/mlrt/vm/mem"
)

// ---------------------------------------------------------------------------
// Relocation tables
// ---------------------------------------------------------------------------
//
// Wire format, with words of Arch.WordSize bytes in little-endian order:
//
//	byte guard
//	( cstring symbol ( word site  byte absolute )* word 0 )*
//	cstring ""
//
// The guard byte is 0 until the table has been applied, then 1.

// RelocSite is one reference to a symbol.
type RelocSite struct {
	Site     uint64
	Absolute bool
}

// RelocEntry lists the references to one symbol.
type RelocEntry struct {
	Symbol string
	Sites  []RelocSite
}

// RelocTable is a decoded relocation table.
type RelocTable struct {
	Relocated bool
	Entries   []RelocEntry
}

// EncodeRelocTable serializes t. Symbol names must be non-empty and free of
// NUL bytes, and no site may be 0.
func EncodeRelocTable(t RelocTable, wordSize int) ([]byte, error) {
	var buf bytes.Buffer
	if t.Relocated {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	word := make([]byte, wordSize)
	for _, e := range t.Entries {
		if e.Symbol == "" || bytes.IndexByte([]byte(e.Symbol), 0) >= 0 {
			return nil, fmt.Errorf("%w: bad symbol name %q", ErrBadRelocTable, e.Symbol)
		}
		buf.WriteString(e.Symbol)
		buf.WriteByte(0)
		for _, s := range e.Sites {
			if s.Site == 0 {
				return nil, fmt.Errorf("%w: %s: site 0", ErrBadRelocTable, e.Symbol)
			}
			if err := putWord(word, s.Site); err != nil {
				return nil, err
			}
			buf.Write(word)
			if s.Absolute {
				buf.WriteByte(1)
			} else {
				buf.WriteByte(0)
			}
		}
		_ = putWord(word, 0)
		buf.Write(word)
	}
	buf.WriteByte(0)
	return buf.Bytes(), nil
}

// DecodeRelocTable parses a table from the start of b and returns it with
// the number of bytes it occupies. Trailing bytes are ignored.
func DecodeRelocTable(b []byte, wordSize int) (RelocTable, int, error) {
	var t RelocTable
	if wordSize != 4 && wordSize != 8 {
		return t, 0, fmt.Errorf("%w: word size %d", ErrBadRelocTable, wordSize)
	}
	if len(b) == 0 {
		return t, 0, fmt.Errorf("%w: missing guard byte", ErrBadRelocTable)
	}
	t.Relocated = b[0] != 0
	off := 1
	for {
		name, n, err := cstring(b[off:])
		if err != nil {
			return t, 0, fmt.Errorf("%w: at offset %d: %v", ErrBadRelocTable, off, err)
		}
		off += n
		if name == "" {
			return t, off, nil
		}
		e := RelocEntry{Symbol: name}
		for {
			if off+wordSize > len(b) {
				return t, 0, fmt.Errorf("%w: %s: truncated site list", ErrBadRelocTable, name)
			}
			site := getWord(b[off : off+wordSize])
			off += wordSize
			if site == 0 {
				break
			}
			if off >= len(b) {
				return t, 0, fmt.Errorf("%w: %s: truncated site", ErrBadRelocTable, name)
			}
			e.Sites = append(e.Sites, RelocSite{Site: site, Absolute: b[off] != 0})
			off++
		}
		t.Entries = append(t.Entries, e)
	}
}

func cstring(b []byte) (string, int, error) {
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return "", 0, fmt.Errorf("unterminated string")
	}
	return string(b[:i]), i + 1, nil
}

func putWord(b []byte, w uint64) error {
	switch len(b) {
	case 4:
		if w > 0xffff_ffff {
			return fmt.Errorf("%w: %#x does not fit 4 bytes", ErrBadRelocTable, w)
		}
		binary.LittleEndian.PutUint32(b, uint32(w))
	case 8:
		binary.LittleEndian.PutUint64(b, w)
	}
	return nil
}

func getWord(b []byte) uint64 {
	if len(b) == 4 {
		return uint64(binary.LittleEndian.Uint32(b))
	}
	return binary.LittleEndian.Uint64(b)
}

// ---------------------------------------------------------------------------
// Planning and applying
// ---------------------------------------------------------------------------

// Resolver returns the address of a relocation target.
type Resolver func(name string) (uint64, bool)

// WordReader reads width bytes at addr.
type WordReader func(addr uint64, width int) (uint64, error)

// Patch is a single store computed by PlanRelocations.
type Patch struct {
	Symbol string
	Site   uint64
	Width  int
	Value  uint64
}

// PlanRelocations computes the stores that relocate t without performing
// them. Absolute sites get target added to their current word; relative
// sites get target - site - DisplacementWidth as a signed displacement.
// Every site is read through read, so a plan only holds mapped sites.
// An absolute site named by several entries receives the sum of their
// targets; a site used both absolutely and relatively is rejected.
// An unresolved target yields a *LinkError wrapping ErrUnresolvedSymbol.
func PlanRelocations(t RelocTable, arch Arch, resolve Resolver, read WordReader) ([]Patch, error) {
	var patches []Patch
	type plannedSite struct {
		index    int
		absolute bool
	}
	planned := make(map[uint64]plannedSite)
	for _, e := range t.Entries {
		target, ok := resolve(e.Symbol)
		if !ok {
			return nil, &LinkError{Symbol: e.Symbol, Err: ErrUnresolvedSymbol}
		}
		for _, s := range e.Sites {
			width := arch.DisplacementWidth
			if s.Absolute {
				width = arch.WordSize
			}
			prev, dup := planned[s.Site]
			if dup && prev.absolute != s.Absolute {
				return nil, fmt.Errorf("%w: site %#x relocated as both absolute and relative", ErrBadRelocTable, s.Site)
			}
			old, err := read(s.Site, width)
			if err != nil {
				return nil, fmt.Errorf("relocate %s at %#x: %w", e.Symbol, s.Site, err)
			}

			p := Patch{Symbol: e.Symbol, Site: s.Site, Width: width}
			if s.Absolute {
				if dup {
					old = patches[prev.index].Value
				}
				p.Value = truncate(old+target, width)
			} else {
				disp := int64(target) - int64(s.Site) - int64(width)
				if !fitsSigned(disp, width) {
					return nil, fmt.Errorf("relocate %s at %#x: %w: %d", e.Symbol, s.Site, ErrDisplacementOverflow, disp)
				}
				p.Value = truncate(uint64(disp), width)
			}

			if dup {
				patches[prev.index] = p
				continue
			}
			planned[s.Site] = plannedSite{index: len(patches), absolute: s.Absolute}
			patches = append(patches, p)
		}
	}
	return patches, nil
}

func fitsSigned(v int64, width int) bool {
	if width >= 8 {
		return true
	}
	bits := uint(width * 8)
	lo, hi := -(int64(1) << (bits - 1)), int64(1)<<(bits-1)-1
	return v >= lo && v <= hi
}

func truncate(v uint64, width int) uint64 {
	if width >= 8 {
		return v
	}
	return v & (1<<(uint(width)*8) - 1)
}

// ApplyPatches performs the stores. It stops at the first unmapped site.
func ApplyPatches(space *mem.Space, patches []Patch) error {
	for _, p := range patches {
		if err := space.WriteWord(p.Site, p.Width, p.Value); err != nil {
			return fmt.Errorf("relocate %s: %w", p.Symbol, err)
		}
	}
	return nil
}

// Relocate applies the relocation table stored at addr once. If the guard
// byte is already set it returns false and leaves memory untouched;
// otherwise all targets are resolved before any site is written.
func Relocate(space *mem.Space, addr uint64, arch Arch, resolve Resolver) (bool, error) {
	patches, done, err := planAt(space, addr, arch, resolve)
	if err != nil || done {
		return false, err
	}
	if err := commitAt(space, addr, patches); err != nil {
		return false, err
	}
	return true, nil
}

func planAt(space *mem.Space, addr uint64, arch Arch, resolve Resolver) (patches []Patch, done bool, err error) {
	b, err := space.Tail(addr)
	if err != nil {
		return nil, false, err
	}
	t, _, err := DecodeRelocTable(b, arch.WordSize)
	if err != nil {
		return nil, false, err
	}
	if t.Relocated {
		return nil, true, nil
	}
	patches, err = PlanRelocations(t, arch, resolve, space.ReadWord)
	return patches, false, err
}

func commitAt(space *mem.Space, addr uint64, patches []Patch) error {
	if err := ApplyPatches(space, patches); err != nil {
		return err
	}
	return space.StoreByte(addr, 1)
}
