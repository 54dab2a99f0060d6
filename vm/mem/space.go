// Package mem provides the byte-addressed address space shared by the heap
// and the unit loader.
//
// A Space is a sparse set of non-overlapping Regions. Heap arenas, old
// generation chunks and the sections of loaded units are all mapped into the
// same Space, so a Value pointer, a relocation site and a static data
// segment bound are all plain addresses in one numbering.
package mem

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// WordSize is the size in bytes of a heap word.
const WordSize = 8

// PageSize is the alignment used when the space chooses a base address.
const PageSize = 4096

// firstBase is the lowest address handed out by MapAnywhere. Address 0 and
// the page after it stay unmapped so that a zero pointer never resolves.
const firstBase = 0x10000

// MaxRegionSize is the largest region a Space maps. Larger requests fail
// with ErrBadSize instead of reaching the Go allocator.
const MaxRegionSize = 1 << 40

var (
	ErrOverlap  = errors.New("region overlaps an existing mapping")
	ErrUnmapped = errors.New("address is not mapped")
	ErrBadSize  = errors.New("invalid region size")
)

// Region is a contiguous mapped range [Base, Base+len(Data)).
type Region struct {
	Name string
	Base uint64
	Data []byte
}

// End returns the first address past the region.
func (r *Region) End() uint64 {
	return r.Base + uint64(len(r.Data))
}

// Contains reports whether addr lies inside the region.
func (r *Region) Contains(addr uint64) bool {
	return addr >= r.Base && addr < r.End()
}

// Word reads the little-endian word at addr. addr must be inside r.
func (r *Region) Word(addr uint64) uint64 {
	off := addr - r.Base
	return binary.LittleEndian.Uint64(r.Data[off : off+WordSize])
}

// SetWord writes the little-endian word at addr. addr must be inside r.
func (r *Region) SetWord(addr, w uint64) {
	off := addr - r.Base
	binary.LittleEndian.PutUint64(r.Data[off:off+WordSize], w)
}

// Space is a sorted collection of mapped regions.
type Space struct {
	regions []*Region // sorted by Base
}

// NewSpace creates an empty address space.
func NewSpace() *Space {
	return &Space{}
}

// MapAt maps a zero-filled region of size bytes at base.
func (s *Space) MapAt(name string, base, size uint64) (*Region, error) {
	if size == 0 || size > MaxRegionSize {
		return nil, fmt.Errorf("mem: map %s: %d bytes: %w", name, size, ErrBadSize)
	}
	if base+size < base {
		return nil, fmt.Errorf("mem: map %s at %#x: %w", name, base, ErrBadSize)
	}
	i := s.insertIndex(base)
	if i > 0 && s.regions[i-1].End() > base {
		return nil, fmt.Errorf("mem: map %s at %#x (%s): %w", name, base, s.regions[i-1].Name, ErrOverlap)
	}
	if i < len(s.regions) && s.regions[i].Base < base+size {
		return nil, fmt.Errorf("mem: map %s at %#x (%s): %w", name, base, s.regions[i].Name, ErrOverlap)
	}
	r := &Region{Name: name, Base: base, Data: make([]byte, size)}
	s.regions = append(s.regions, nil)
	copy(s.regions[i+1:], s.regions[i:])
	s.regions[i] = r
	return r, nil
}

// MapAnywhere maps a zero-filled region of size bytes at the lowest
// page-aligned gap that fits it, leaving a guard page between regions.
func (s *Space) MapAnywhere(name string, size uint64) (*Region, error) {
	if size == 0 || size > MaxRegionSize {
		return nil, fmt.Errorf("mem: map %s: %w", name, ErrBadSize)
	}
	base := uint64(firstBase)
	for _, r := range s.regions {
		if r.End() <= base {
			continue
		}
		if base+size+PageSize <= r.Base {
			break
		}
		base = alignUp(r.End()+PageSize, PageSize)
	}
	return s.MapAt(name, base, size)
}

// Unmap removes the region starting at base.
func (s *Space) Unmap(base uint64) error {
	i := s.insertIndex(base)
	if i >= len(s.regions) || s.regions[i].Base != base {
		return fmt.Errorf("mem: unmap %#x: %w", base, ErrUnmapped)
	}
	s.regions = append(s.regions[:i], s.regions[i+1:]...)
	return nil
}

// Find returns the region containing addr, or nil.
func (s *Space) Find(addr uint64) *Region {
	i := sort.Search(len(s.regions), func(i int) bool {
		return s.regions[i].End() > addr
	})
	if i < len(s.regions) && s.regions[i].Contains(addr) {
		return s.regions[i]
	}
	return nil
}

// Mapped reports whether the whole range [addr, addr+n) is mapped by a
// single region.
func (s *Space) Mapped(addr, n uint64) bool {
	r := s.Find(addr)
	return r != nil && addr+n <= r.End() && addr+n >= addr
}

// Regions returns the mapped regions in address order.
func (s *Space) Regions() []*Region {
	out := make([]*Region, len(s.regions))
	copy(out, s.regions)
	return out
}

// ---------------------------------------------------------------------------
// Checked access (loader, tooling)
// ---------------------------------------------------------------------------

// ReadWord reads a word of width bytes (4 or 8) at addr.
func (s *Space) ReadWord(addr uint64, width int) (uint64, error) {
	b, err := s.bytes(addr, uint64(width))
	if err != nil {
		return 0, err
	}
	switch width {
	case 4:
		return uint64(binary.LittleEndian.Uint32(b)), nil
	case 8:
		return binary.LittleEndian.Uint64(b), nil
	}
	return 0, fmt.Errorf("mem: read %#x: %w: width %d", addr, ErrBadSize, width)
}

// WriteWord writes the low width bytes (4 or 8) of w at addr.
func (s *Space) WriteWord(addr uint64, width int, w uint64) error {
	b, err := s.bytes(addr, uint64(width))
	if err != nil {
		return err
	}
	switch width {
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(w))
	case 8:
		binary.LittleEndian.PutUint64(b, w)
	default:
		return fmt.Errorf("mem: write %#x: %w: width %d", addr, ErrBadSize, width)
	}
	return nil
}

// LoadByte reads the byte at addr.
func (s *Space) LoadByte(addr uint64) (byte, error) {
	b, err := s.bytes(addr, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// StoreByte writes the byte at addr.
func (s *Space) StoreByte(addr uint64, c byte) error {
	b, err := s.bytes(addr, 1)
	if err != nil {
		return err
	}
	b[0] = c
	return nil
}

// Tail returns the bytes from addr to the end of its region. The slice
// aliases the mapping.
func (s *Space) Tail(addr uint64) ([]byte, error) {
	r := s.Find(addr)
	if r == nil {
		return nil, fmt.Errorf("mem: %#x: %w", addr, ErrUnmapped)
	}
	return r.Data[addr-r.Base:], nil
}

// Write copies data into the space at addr.
func (s *Space) Write(addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	b, err := s.bytes(addr, uint64(len(data)))
	if err != nil {
		return err
	}
	copy(b, data)
	return nil
}

func (s *Space) bytes(addr, n uint64) ([]byte, error) {
	r := s.Find(addr)
	if r == nil || addr+n > r.End() || addr+n < addr {
		return nil, fmt.Errorf("mem: %#x+%d: %w", addr, n, ErrUnmapped)
	}
	off := addr - r.Base
	return r.Data[off : off+n], nil
}

func (s *Space) insertIndex(base uint64) int {
	return sort.Search(len(s.regions), func(i int) bool {
		return s.regions[i].Base >= base
	})
}

func alignUp(n, a uint64) uint64 {
	return (n + a - 1) &^ (a - 1)
}
