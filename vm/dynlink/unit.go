package dynlink

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"github.com/gofrs/flock"
)

// FormatVersion is the unit image format produced by this package.
const FormatVersion = 1

// Symbol name suffixes. A unit U exports "caml" + U + suffix.
const (
	SuffixGlobal     = ""
	SuffixFrameTable = "__frametable"
	SuffixDataBegin  = "__data_begin"
	SuffixDataEnd    = "__data_end"
	SuffixRelocTable = "__reloctable"
	SuffixSymTable   = "__symtable"
	SuffixEntry      = "__entry"
)

// StartupFrameTable is the optional image-wide frame table symbol.
const StartupFrameTable = "caml_startup__frametable"

// SymbolName returns the mangled name of a unit symbol.
func SymbolName(unit, suffix string) string {
	return "caml" + unit + suffix
}

// Arch describes the word layout a unit was compiled for.
type Arch struct {
	WordSize          int `cbor:"1,keyasint"` // size of absolute relocation sites and table words
	DisplacementWidth int `cbor:"2,keyasint"` // size of relative displacements
}

// DefaultArch is the layout of 64-bit units with 32-bit displacements.
func DefaultArch() Arch {
	return Arch{WordSize: 8, DisplacementWidth: 4}
}

// Validate checks that both widths are 4 or 8.
func (a Arch) Validate() error {
	if a.WordSize != 4 && a.WordSize != 8 {
		return fmt.Errorf("%w: word size %d", ErrBadImage, a.WordSize)
	}
	if a.DisplacementWidth != 4 && a.DisplacementWidth != 8 {
		return fmt.Errorf("%w: displacement width %d", ErrBadImage, a.DisplacementWidth)
	}
	return nil
}

// Section is a range of the image mapped at a fixed address. Size may
// exceed len(Data); the rest is zero-filled.
type Section struct {
	Name string `cbor:"1,keyasint"`
	Base uint64 `cbor:"2,keyasint"`
	Data []byte `cbor:"3,keyasint,omitempty"`
	Size uint64 `cbor:"4,keyasint,omitempty"`
}

// MappedSize returns the number of bytes the section occupies.
func (s Section) MappedSize() uint64 {
	if n := uint64(len(s.Data)); n > s.Size {
		return n
	}
	return s.Size
}

// UnitImage is the on-disk form of a loadable unit.
type UnitImage struct {
	Format   uint              `cbor:"1,keyasint"`
	Arch     Arch              `cbor:"2,keyasint"`
	Sections []Section         `cbor:"3,keyasint"`
	Symbols  map[string]uint64 `cbor:"4,keyasint"`
	Units    []string          `cbor:"5,keyasint,omitempty"` // informational
}

// Validate checks the format version, the arch, that sections do not
// overlap each other, and that every symbol lies in a section.
func (img *UnitImage) Validate() error {
	if img.Format != FormatVersion {
		return fmt.Errorf("%w: format %d, want %d", ErrBadImage, img.Format, FormatVersion)
	}
	if err := img.Arch.Validate(); err != nil {
		return err
	}
	for i, s := range img.Sections {
		if s.MappedSize() == 0 {
			return fmt.Errorf("%w: section %s is empty", ErrBadImage, s.Name)
		}
		for _, o := range img.Sections[i+1:] {
			if s.Base < o.Base+o.MappedSize() && o.Base < s.Base+s.MappedSize() {
				return fmt.Errorf("%w: sections %s and %s overlap", ErrBadImage, s.Name, o.Name)
			}
		}
	}
	for name, addr := range img.Symbols {
		if img.sectionOf(addr) < 0 {
			return fmt.Errorf("%w: symbol %s at %#x outside every section", ErrBadImage, name, addr)
		}
	}
	return nil
}

func (img *UnitImage) sectionOf(addr uint64) int {
	for i, s := range img.Sections {
		if addr >= s.Base && addr < s.Base+s.MappedSize() {
			return i
		}
	}
	return -1
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("dynlink: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalImage serializes a unit image to CBOR bytes.
func MarshalImage(img *UnitImage) ([]byte, error) {
	return cborEncMode.Marshal(img)
}

// UnmarshalImage deserializes a unit image from CBOR bytes.
func UnmarshalImage(data []byte) (*UnitImage, error) {
	var img UnitImage
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("dynlink: unmarshal image: %w", err)
	}
	return &img, nil
}

// lockPath returns the advisory lock file guarding the image at path.
func lockPath(path string) string {
	return path + ".lock"
}

// WriteImage writes img to path. The image is written to a temporary file
// and renamed into place while holding the image's exclusive lock, so
// readers never observe a partial image.
func WriteImage(path string, img *UnitImage) error {
	data, err := MarshalImage(img)
	if err != nil {
		return fmt.Errorf("dynlink: marshal image: %w", err)
	}

	lk := flock.New(lockPath(path))
	if err := lk.Lock(); err != nil {
		return fmt.Errorf("dynlink: lock %s: %w", path, err)
	}
	defer lk.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadImage reads and validates the unit image at path. It holds the
// image's shared lock while reading when the lock file can be created;
// images in read-only directories are read unlocked.
func ReadImage(path string) (*UnitImage, error) {
	lk := flock.New(lockPath(path))
	if err := lk.RLock(); err != nil {
		log.Debugf("reading %s unlocked: %s", path, err.Error())
	} else {
		defer lk.Unlock()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := UnmarshalImage(data)
	if err != nil {
		return nil, err
	}
	if err := img.Validate(); err != nil {
		return nil, err
	}
	return img, nil
}
