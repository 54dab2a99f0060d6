package dynlink

import (
	"fmt"

	"github.com/chazu/mlrt/vm/mem"
)

// Handle is an opened unit image whose sections are mapped.
type Handle struct {
	Path    string
	Private bool
	Arch    Arch

	symbols map[string]uint64
	units   []string
	regions []*mem.Region
}

// Open reads the unit image at path and maps its sections into space at
// their fixed bases. Any failure is reported as a *LoadError and leaves
// space unchanged.
func Open(space *mem.Space, path string, private bool) (*Handle, error) {
	img, err := ReadImage(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	h, err := Map(space, img, private)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	h.Path = path
	return h, nil
}

// Map maps an already decoded image.
func Map(space *mem.Space, img *UnitImage, private bool) (*Handle, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	h := &Handle{
		Private: private,
		Arch:    img.Arch,
		symbols: img.Symbols,
		units:   img.Units,
	}
	for _, s := range img.Sections {
		r, err := space.MapAt(s.Name, s.Base, s.MappedSize())
		if err != nil {
			h.unmap(space)
			return nil, fmt.Errorf("section %s: %w", s.Name, err)
		}
		copy(r.Data, s.Data)
		h.regions = append(h.regions, r)
	}
	return h, nil
}

func (h *Handle) unmap(space *mem.Space) {
	for _, r := range h.regions {
		_ = space.Unmap(r.Base)
	}
	h.regions = nil
}

// Lookup returns the address of a symbol defined by the image.
func (h *Handle) Lookup(name string) (uint64, bool) {
	addr, ok := h.symbols[name]
	return addr, ok
}

// Symbols returns the number of symbols the image defines.
func (h *Handle) Symbols() int {
	return len(h.symbols)
}

// Units returns the unit names recorded in the image.
func (h *Handle) Units() []string {
	return h.units
}

// Regions returns the mapped sections.
func (h *Handle) Regions() []*mem.Region {
	return h.regions
}
