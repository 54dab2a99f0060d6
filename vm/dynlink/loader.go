package dynlink

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/chazu/mlrt/vm"
)

// ---------------------------------------------------------------------------
// Loader
// ---------------------------------------------------------------------------

// Unit describes a loaded unit. Addresses are those of its symbols.
type Unit struct {
	Name       string
	Handle     *Handle
	FrameTable uint64
	Global     uint64 // field 0 of the unit's global block
	DataBegin  uint64
	DataEnd    uint64
	Entry      uint64
	Relocated  bool
	Symbols    int // symtable entries registered
}

// EntryFunc initializes a unit after it has been linked. It runs through
// VM.Callback, so a panic is reported as an error.
type EntryFunc func(v *vm.VM, u *Unit) error

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	// Arch every opened image must match.
	Arch Arch
	// SearchPath is consulted for relative unit paths that do not exist
	// relative to the working directory.
	SearchPath []string
}

// Loader opens unit images into a VM and links them.
//
// For each unit the loader resolves every symbol it needs and plans the
// relocations before registering anything, so a unit that fails to link
// leaves no frame table, root, data segment or patched site behind.
type Loader struct {
	vm  *vm.VM
	cfg LoaderConfig

	mu      sync.Mutex
	handles []*Handle
	global  map[string]uint64 // exports of non-private handles
	entries map[string]EntryFunc
	units   []*Unit
}

// NewLoader creates a loader for v.
func NewLoader(v *vm.VM, cfg LoaderConfig) *Loader {
	if cfg.Arch == (Arch{}) {
		cfg.Arch = DefaultArch()
	}
	return &Loader{
		vm:      v,
		cfg:     cfg,
		global:  make(map[string]uint64),
		entries: make(map[string]EntryFunc),
	}
}

// RegisterEntry binds the initialization function of unit name.
func (l *Loader) RegisterEntry(name string, fn EntryFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[name] = fn
}

// Units returns the units loaded so far, in load order.
func (l *Loader) Units() []*Unit {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Unit, len(l.units))
	copy(out, l.units)
	return out
}

// Handles returns the opened images, in open order.
func (l *Loader) Handles() []*Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Handle, len(l.handles))
	copy(out, l.handles)
	return out
}

// Resolve looks name up in the runtime symbol table, then in the exports
// of images opened as non-private.
func (l *Loader) Resolve(name string) (uint64, bool) {
	if addr, ok := l.vm.Symbols.Lookup(name); ok {
		return addr, true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	addr, ok := l.global[name]
	return addr, ok
}

// OpenUnit opens the image at path and links the named units in order.
// Linking stops at the first unit that fails; units before it stay loaded.
// A private image does not export its symbols to later images.
func (l *Loader) OpenUnit(private bool, path string, units []string) error {
	resolved, err := l.findImage(path)
	if err != nil {
		return &LoadError{Path: path, Err: err}
	}
	h, err := Open(l.vm.Space, resolved, private)
	if err != nil {
		return err
	}
	if h.Arch != l.cfg.Arch {
		h.unmap(l.vm.Space)
		return &LoadError{Path: resolved, Err: fmt.Errorf("%w: arch %+v, want %+v", ErrBadImage, h.Arch, l.cfg.Arch)}
	}
	log.Infof("opened %s (%d sections, %d symbols, private=%t)", resolved, len(h.regions), len(h.symbols), private)

	l.mu.Lock()
	l.handles = append(l.handles, h)
	if !private {
		for name, addr := range h.symbols {
			if _, dup := l.global[name]; !dup {
				l.global[name] = addr
			}
		}
	}
	l.mu.Unlock()

	if addr, ok := h.Lookup(StartupFrameTable); ok {
		if err := l.vm.RegisterFrameTable(StartupFrameTable, addr); err != nil {
			return err
		}
	}

	for _, name := range units {
		if err := l.loadUnit(h, name); err != nil {
			log.Errorf("unit %s: %s", name, err.Error())
			return err
		}
	}
	return nil
}

func (l *Loader) findImage(path string) (string, error) {
	if _, err := os.Stat(path); err == nil || filepath.IsAbs(path) {
		return path, nil
	}
	for _, dir := range l.cfg.SearchPath {
		p := filepath.Join(dir, path)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%s: %w", path, os.ErrNotExist)
}

// linkPlan is everything needed to commit a unit.
type linkPlan struct {
	unit     *Unit
	reloc    uint64
	patches  []Patch
	symtable []SymTabEntry
	entry    EntryFunc
}

func (l *Loader) loadUnit(h *Handle, name string) error {
	p, err := l.plan(h, name)
	if err != nil {
		return err
	}
	return l.commit(p)
}

func (l *Loader) plan(h *Handle, name string) (*linkPlan, error) {
	u := &Unit{Name: name, Handle: h}
	required := func(suffix string, dst *uint64) error {
		sym := SymbolName(name, suffix)
		addr, ok := h.Lookup(sym)
		if !ok {
			return &LinkError{Unit: name, Symbol: sym, Err: ErrUnresolvedSymbol}
		}
		*dst = addr
		return nil
	}
	for _, r := range []struct {
		suffix string
		dst    *uint64
	}{
		{SuffixFrameTable, &u.FrameTable},
		{SuffixGlobal, &u.Global},
		{SuffixDataBegin, &u.DataBegin},
		{SuffixDataEnd, &u.DataEnd},
		{SuffixEntry, &u.Entry},
	} {
		if err := required(r.suffix, r.dst); err != nil {
			return nil, err
		}
	}

	if err := l.vm.CheckFrameTable(name, u.FrameTable); err != nil {
		return nil, &LinkError{Unit: name, Symbol: SymbolName(name, SuffixFrameTable), Err: err}
	}
	if err := l.vm.CheckDynGlobal(u.Global); err != nil {
		return nil, &LinkError{Unit: name, Symbol: SymbolName(name, SuffixGlobal), Err: err}
	}
	if err := vm.CheckSegment(u.DataBegin, u.DataEnd); err != nil {
		return nil, &LinkError{Unit: name, Symbol: SymbolName(name, SuffixDataEnd), Err: err}
	}

	p := &linkPlan{unit: u}
	space := l.vm.Space

	if addr, ok := h.Lookup(SymbolName(name, SuffixRelocTable)); ok {
		patches, done, err := planAt(space, addr, l.cfg.Arch, l.resolverFor(h))
		if err != nil {
			var le *LinkError
			if errors.As(err, &le) {
				le.Unit = name
				return nil, le
			}
			return nil, &LinkError{Unit: name, Symbol: SymbolName(name, SuffixRelocTable), Err: err}
		}
		if !done {
			p.reloc = addr
			p.patches = patches
		}
	}

	if addr, ok := h.Lookup(SymbolName(name, SuffixSymTable)); ok {
		b, err := space.Tail(addr)
		if err == nil {
			p.symtable, err = DecodeSymTable(b, l.cfg.Arch.WordSize)
		}
		if err != nil {
			return nil, &LinkError{Unit: name, Symbol: SymbolName(name, SuffixSymTable), Err: err}
		}
		seen := make(map[string]uint64, len(p.symtable))
		for _, e := range p.symtable {
			bound, ok := l.vm.Symbols.Lookup(e.Name)
			if !ok {
				bound, ok = seen[e.Name]
			}
			if ok && bound != e.Addr {
				return nil, &LinkError{Unit: name, Symbol: e.Name, Err: fmt.Errorf("%w: %s already bound to %#x", ErrBadSymTable, e.Name, bound)}
			}
			seen[e.Name] = e.Addr
		}
	}

	l.mu.Lock()
	p.entry = l.entries[name]
	l.mu.Unlock()
	return p, nil
}

// resolverFor resolves relocation targets for units of h: the runtime
// symbol table, h's own symbols, then the global exports.
func (l *Loader) resolverFor(h *Handle) Resolver {
	return func(name string) (uint64, bool) {
		if addr, ok := l.vm.Symbols.Lookup(name); ok {
			return addr, true
		}
		if addr, ok := h.Lookup(name); ok {
			return addr, true
		}
		return l.Resolve(name)
	}
}

// commit registers a planned unit. plan has checked every registration, so
// a failing one panics. Only the entry function returns an error.
func (l *Loader) commit(p *linkPlan) error {
	u := p.unit
	must := func(what string, err error) {
		if err != nil {
			panic(fmt.Sprintf("unit %s: planned %s failed: %v", u.Name, what, err))
		}
	}
	must("frame table", l.vm.RegisterFrameTable(u.Name, u.FrameTable))
	must("global root", l.vm.RegisterDynGlobal(u.Global))
	must("data segment", l.vm.RegisterDataSegment(u.DataBegin, u.DataEnd))
	if p.reloc != 0 {
		must("relocation", commitAt(l.vm.Space, p.reloc, p.patches))
		u.Relocated = true
		log.Debugf("unit %s: %d sites relocated", u.Name, len(p.patches))
	}
	for _, s := range p.symtable {
		must("symbol "+s.Name, l.vm.Symbols.Define(s.Name, s.Addr))
	}
	u.Symbols = len(p.symtable)

	l.mu.Lock()
	l.units = append(l.units, u)
	l.mu.Unlock()

	if p.entry == nil {
		log.Debugf("unit %s: no entry function registered", u.Name)
	} else if err := l.vm.Callback(func() error { return p.entry(l.vm, u) }); err != nil {
		return fmt.Errorf("unit %s: entry: %w", u.Name, err)
	}
	log.Infof("unit %s loaded (global %#x, data [%#x, %#x])", u.Name, u.Global, u.DataBegin, u.DataEnd)
	return nil
}
