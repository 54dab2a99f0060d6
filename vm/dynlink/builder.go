package dynlink

import (
	"encoding/binary"
	"fmt"

	"github.com/chazu/mlrt/vm"
)

// UnitBuilder assembles a unit image with a single data section starting
// at a fixed base. Units are laid out one after the other:
//
//	b := NewUnitBuilder(0x7000_0000, DefaultArch())
//	b.BeginUnit("Foo", 2)
//	site := b.Word(0)
//	b.RelocTable(RelocTable{Entries: ...})
//	b.EndUnit()
//	img, err := b.Build()
//
// Errors are sticky and reported by Build.
type UnitBuilder struct {
	arch     Arch
	base     uint64
	data     []byte
	symbols  map[string]uint64
	units    []string
	sections []Section
	current  string
	err      error
}

// NewUnitBuilder creates a builder whose data section starts at base.
func NewUnitBuilder(base uint64, arch Arch) *UnitBuilder {
	return &UnitBuilder{
		arch:    arch,
		base:    base,
		symbols: make(map[string]uint64),
	}
}

// Addr returns the address of the next byte to be emitted.
func (b *UnitBuilder) Addr() uint64 {
	return b.base + uint64(len(b.data))
}

func (b *UnitBuilder) align() {
	for len(b.data)%vm.WordSize != 0 {
		b.data = append(b.data, 0)
	}
}

func (b *UnitBuilder) fail(format string, args ...any) {
	if b.err == nil {
		b.err = fmt.Errorf(format, args...)
	}
}

// Word emits a heap word and returns its address.
func (b *UnitBuilder) Word(w uint64) uint64 {
	b.align()
	addr := b.Addr()
	b.data = binary.LittleEndian.AppendUint64(b.data, w)
	return addr
}

// Bytes emits raw bytes, then pads to a word boundary. It returns the
// address of the first byte.
func (b *UnitBuilder) Bytes(p []byte) uint64 {
	b.align()
	addr := b.Addr()
	b.data = append(b.data, p...)
	b.align()
	return addr
}

// Block emits a static block and returns the address of its field 0.
// Static blocks are black so the collector never claims them.
func (b *UnitBuilder) Block(tag vm.Tag, fields ...vm.Value) uint64 {
	b.Word(vm.Header{Wosize: uint64(len(fields)), Color: vm.Black, Tag: tag}.Word())
	addr := b.Addr()
	for _, f := range fields {
		b.Word(uint64(f))
	}
	return addr
}

// Define binds name to addr in the image.
func (b *UnitBuilder) Define(name string, addr uint64) {
	if _, dup := b.symbols[name]; dup {
		b.fail("symbol %s defined twice", name)
		return
	}
	b.symbols[name] = addr
}

// BeginUnit opens unit name: its data segment starts here and its global
// block of globalFields fields, all Unit, is emitted first. It returns the
// address of the global block.
func (b *UnitBuilder) BeginUnit(name string, globalFields int) uint64 {
	if b.current != "" {
		b.fail("unit %s begun inside unit %s", name, b.current)
		return 0
	}
	b.current = name
	b.units = append(b.units, name)
	b.align()
	b.Define(SymbolName(name, SuffixDataBegin), b.Addr())
	fields := make([]vm.Value, globalFields)
	for i := range fields {
		fields[i] = vm.Unit
	}
	global := b.Block(0, fields...)
	b.Define(SymbolName(name, SuffixGlobal), global)
	return global
}

// RelocTable emits the relocation table of the current unit.
func (b *UnitBuilder) RelocTable(t RelocTable) uint64 {
	data, err := EncodeRelocTable(t, b.arch.WordSize)
	if err != nil {
		b.fail("unit %s: %w", b.current, err)
		return 0
	}
	addr := b.Bytes(data)
	b.Define(SymbolName(b.current, SuffixRelocTable), addr)
	return addr
}

// SymTable emits the symbol table of the current unit.
func (b *UnitBuilder) SymTable(entries []SymTabEntry) uint64 {
	data, err := EncodeSymTable(entries, b.arch.WordSize)
	if err != nil {
		b.fail("unit %s: %w", b.current, err)
		return 0
	}
	addr := b.Bytes(data)
	b.Define(SymbolName(b.current, SuffixSymTable), addr)
	return addr
}

// EndUnit closes the current unit: it emits the data end marker, an empty
// frame table and the entry point word.
func (b *UnitBuilder) EndUnit() {
	name := b.current
	if name == "" {
		b.fail("EndUnit without BeginUnit")
		return
	}
	b.Define(SymbolName(name, SuffixDataEnd), b.Word(0))
	b.Define(SymbolName(name, SuffixFrameTable), b.Word(0))
	b.Define(SymbolName(name, SuffixEntry), b.Word(0))
	b.current = ""
}

// Section adds an extra section mapped at its own base.
func (b *UnitBuilder) Section(s Section) {
	b.sections = append(b.sections, s)
}

// Build returns the image.
func (b *UnitBuilder) Build() (*UnitImage, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.current != "" {
		return nil, fmt.Errorf("unit %s not ended", b.current)
	}
	img := &UnitImage{
		Format:  FormatVersion,
		Arch:    b.arch,
		Symbols: make(map[string]uint64, len(b.symbols)),
		Units:   append([]string(nil), b.units...),
	}
	if len(b.data) > 0 {
		data := append([]byte(nil), b.data...)
		img.Sections = append(img.Sections, Section{Name: "data", Base: b.base, Data: data})
	}
	img.Sections = append(img.Sections, b.sections...)
	for k, v := range b.symbols {
		img.Symbols[k] = v
	}
	if err := img.Validate(); err != nil {
		return nil, err
	}
	return img, nil
}
