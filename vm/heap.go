package vm

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/chazu/mlrt/vm/mem"
)

// ---------------------------------------------------------------------------
// Heap configuration
// ---------------------------------------------------------------------------

// HeapConfig sizes the generations. All sizes are in words.
type HeapConfig struct {
	MinorHeapWords  uint64 // young arena size
	ChunkWords      uint64 // old generation growth increment
	MaxHeapWords    uint64 // old generation ceiling, 0 for unlimited
	MajorSliceWords uint64 // old allocation between urgent major slices
	DebugFill       bool   // poison the young arena after each minor collection
}

// Default heap sizes
const (
	DefaultMinorHeapWords  = 256 * 1024
	DefaultChunkWords      = 128 * 1024
	DefaultMajorSliceWords = 1024 * 1024
)

// DefaultHeapConfig returns the default heap configuration.
func DefaultHeapConfig() HeapConfig {
	return HeapConfig{
		MinorHeapWords:  DefaultMinorHeapWords,
		ChunkWords:      DefaultChunkWords,
		MajorSliceWords: DefaultMajorSliceWords,
	}
}

// ErrBadHeapConfig is returned by NewHeap for unusable sizes.
var ErrBadHeapConfig = errors.New("bad heap configuration")

// Validate checks that the configuration can host any small block.
func (c HeapConfig) Validate() error {
	if c.MinorHeapWords < MaxYoungWosize+1 {
		return fmt.Errorf("%w: minor heap must hold at least %d words, got %d",
			ErrBadHeapConfig, MaxYoungWosize+1, c.MinorHeapWords)
	}
	if c.ChunkWords < 2 {
		return fmt.Errorf("%w: chunk size %d too small", ErrBadHeapConfig, c.ChunkWords)
	}
	if c.MaxHeapWords != 0 && c.MaxHeapWords < c.ChunkWords {
		return fmt.Errorf("%w: max heap %d below chunk size %d", ErrBadHeapConfig, c.MaxHeapWords, c.ChunkWords)
	}
	return nil
}

// debugFreeMinor poisons the young arena in DebugFill mode. It is odd, so a
// stale pointer into the arena reads a header that looks like an immediate.
const debugFreeMinor uint64 = 0x00d1_5ea5_ed00_0001

// ---------------------------------------------------------------------------
// Heap
// ---------------------------------------------------------------------------

// Heap is a generational, precise, moving heap.
//
// Small blocks are bump-allocated in the young arena. A minor collection
// copies the live young blocks into the old generation, whose chunks are
// managed with a first-fit free list and reclaimed by a mark-sweep major
// collection. Generation membership is derived from addresses only.
//
// A Heap is used by a single mutator; it has no internal locking.
type Heap struct {
	space *mem.Space
	cfg   HeapConfig

	atoms    *mem.Region // 256 zero-size static blocks, one spare word
	young    *mem.Region
	youngPtr uint64 // next free byte in the young arena

	chunks    []*mem.Region // old generation, sorted by Base
	free      []uint64      // header addresses of free old blocks
	heapWords uint64

	allocatedSinceMajor uint64
	remembered          []uint64 // old field addresses that may point to young blocks
	todo                []Value  // promoted blocks whose fields are pending
	gray                []Value  // mark stack

	localRoots  []*Value
	globalRoots []*Value
	dynGlobals  []uint64 // static blocks registered by the loader

	static  *SegmentRegistry
	epoch   uint64
	inGC    bool
	lastOid int64

	stats GCStats
}

// NewHeap maps the atom table and the young arena into space. static may
// be nil if no dynamic data segments will be registered.
func NewHeap(space *mem.Space, cfg HeapConfig, static *SegmentRegistry) (*Heap, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := &Heap{space: space, cfg: cfg, static: static}

	atoms, err := space.MapAnywhere("atoms", 257*WordSize)
	if err != nil {
		return nil, fmt.Errorf("heap: %w", err)
	}
	h.atoms = atoms
	for tag := 0; tag < 256; tag++ {
		atoms.SetWord(atoms.Base+uint64(tag)*WordSize, Header{Tag: Tag(tag), Color: Black}.Word())
	}

	young, err := space.MapAnywhere("young", cfg.MinorHeapWords*WordSize)
	if err != nil {
		return nil, fmt.Errorf("heap: %w", err)
	}
	h.young = young
	h.youngPtr = young.Base

	if err := h.expand(cfg.ChunkWords); err != nil {
		return nil, fmt.Errorf("heap: %w", err)
	}

	gcLog.Debugf("heap created: young=%#x-%#x (%d words), chunk=%d words",
		young.Base, young.End(), cfg.MinorHeapWords, cfg.ChunkWords)
	return h, nil
}

// Space returns the address space backing the heap.
func (h *Heap) Space() *mem.Space {
	return h.space
}

// Config returns the heap configuration.
func (h *Heap) Config() HeapConfig {
	return h.cfg
}

// Epoch increases every time a collection may have moved or freed blocks.
func (h *Heap) Epoch() uint64 {
	return h.epoch
}

// Atom returns the shared zero-size block for tag.
func (h *Heap) Atom(tag Tag) Value {
	return FromAddr(h.atoms.Base + uint64(tag)*WordSize + WordSize)
}

// ---------------------------------------------------------------------------
// Address classification
// ---------------------------------------------------------------------------

// IsYoung reports whether v points into the young arena.
func (h *Heap) IsYoung(v Value) bool {
	return v.IsPointer() && h.isYoungAddr(uint64(v))
}

// IsInHeap reports whether v points into the old generation.
func (h *Heap) IsInHeap(v Value) bool {
	return v.IsPointer() && h.chunkOf(uint64(v)) != nil
}

// IsStatic reports whether v points to statically allocated data: the
// atom table or a registered dynamic data segment.
func (h *Heap) IsStatic(v Value) bool {
	if !v.IsPointer() {
		return false
	}
	addr := uint64(v)
	if h.atoms.Contains(addr) {
		return true
	}
	return h.static != nil && h.static.Contains(addr)
}

func (h *Heap) isYoungAddr(addr uint64) bool {
	return addr >= h.young.Base && addr < h.young.End()
}

func (h *Heap) chunkOf(addr uint64) *mem.Region {
	i := sort.Search(len(h.chunks), func(i int) bool {
		return h.chunks[i].End() > addr
	})
	if i < len(h.chunks) && h.chunks[i].Contains(addr) {
		return h.chunks[i]
	}
	return nil
}

// ---------------------------------------------------------------------------
// Raw word access
// ---------------------------------------------------------------------------

func (h *Heap) regionOf(addr uint64) *mem.Region {
	if h.young.Contains(addr) {
		return h.young
	}
	if c := h.chunkOf(addr); c != nil {
		return c
	}
	if r := h.space.Find(addr); r != nil {
		return r
	}
	panic(fmt.Sprintf("heap: access to unmapped address %#x", addr))
}

func (h *Heap) load(addr uint64) uint64 {
	return h.regionOf(addr).Word(addr)
}

func (h *Heap) store(addr, w uint64) {
	h.regionOf(addr).SetWord(addr, w)
}

// payload returns the bytes of v's fields. The slice aliases the heap.
func (h *Heap) payload(v Value, wosize uint64) []byte {
	addr := v.Addr()
	r := h.regionOf(addr)
	off := addr - r.Base
	return r.Data[off : off+wosize*WordSize]
}

// ---------------------------------------------------------------------------
// Block accessors (unchecked)
// ---------------------------------------------------------------------------

// Header returns the decoded header of block v.
func (h *Heap) Header(v Value) Header {
	return DecodeHeader(h.load(v.HeaderAddr()))
}

// Tag returns the tag of block v.
func (h *Heap) Tag(v Value) Tag {
	return h.Header(v).Tag
}

// Wosize returns the number of fields of block v.
func (h *Heap) Wosize(v Value) uint64 {
	return h.Header(v).Wosize
}

// Field returns field i of block v. i is not checked against the block size.
func (h *Heap) Field(v Value, i int) Value {
	return Value(h.load(v.FieldAddr(i)))
}

// DoubleField returns element i of float array v.
func (h *Heap) DoubleField(v Value, i int) float64 {
	return math.Float64frombits(h.load(v.FieldAddr(i * DoubleWosize)))
}

// SetDoubleField stores element i of float array v. Float arrays hold no
// pointers, so no barrier is involved.
func (h *Heap) SetDoubleField(v Value, i int, d float64) {
	h.store(v.FieldAddr(i*DoubleWosize), math.Float64bits(d))
}

func (h *Heap) setHeader(v Value, hd Header) {
	h.store(v.HeaderAddr(), hd.Word())
}

// ---------------------------------------------------------------------------
// Boxed floats and strings
// ---------------------------------------------------------------------------

// CopyDouble allocates a boxed float.
func (h *Heap) CopyDouble(d float64) Value {
	v := h.AllocSmall(DoubleWosize, DoubleTag)
	h.store(v.Addr(), math.Float64bits(d))
	return v
}

// DoubleVal returns the float held by boxed float v.
func (h *Heap) DoubleVal(v Value) float64 {
	return math.Float64frombits(h.load(v.Addr()))
}

// IsDouble reports whether v is a boxed float.
func (h *Heap) IsDouble(v Value) bool {
	return v.IsPointer() && h.Tag(v) == DoubleTag
}

// CopyString allocates a string block. The payload is padded to a whole
// word; the last byte holds the padding length so the exact byte length is
// recoverable.
func (h *Heap) CopyString(s string) Value {
	wosize := uint64(len(s)+WordSize) / WordSize
	v := h.Alloc(wosize, StringTag)
	b := h.payload(v, wosize)
	n := copy(b, s)
	for i := n; i < len(b)-1; i++ {
		b[i] = 0
	}
	b[len(b)-1] = byte(len(b) - 1 - len(s))
	return v
}

// StringVal returns the contents of string block v.
func (h *Heap) StringVal(v Value) string {
	wosize := h.Wosize(v)
	b := h.payload(v, wosize)
	n := len(b) - 1 - int(b[len(b)-1])
	return string(b[:n])
}
