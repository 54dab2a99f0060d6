// Package manifest handles mlrt.toml runtime configuration.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/inhies/go-bytesize"

	"github.com/chazu/mlrt/vm"
	"github.com/chazu/mlrt/vm/dynlink"
)

// FileName is the name of the configuration file.
const FileName = "mlrt.toml"

// Manifest represents an mlrt.toml runtime configuration.
type Manifest struct {
	Runtime Runtime     `toml:"runtime"`
	Heap    HeapSection `toml:"heap"`
	Dynlink Dynlink     `toml:"dynlink"`
	Units   []UnitSpec  `toml:"units"`
	Log     Log         `toml:"log"`

	// Dir is the directory containing the mlrt.toml file (set at load time).
	Dir string `toml:"-"`
}

// Runtime contains descriptive metadata.
type Runtime struct {
	Name string `toml:"name"`
}

// HeapSection sizes the heap. Sizes accept units, e.g. "256KB".
type HeapSection struct {
	MinorHeap  bytesize.ByteSize `toml:"minor-heap"`
	Chunk      bytesize.ByteSize `toml:"chunk"`
	MaxHeap    bytesize.ByteSize `toml:"max-heap"` // 0 for unlimited
	MajorSlice bytesize.ByteSize `toml:"major-slice"`
	DebugFill  bool              `toml:"debug-fill"`
}

// Dynlink configures the unit loader.
type Dynlink struct {
	WordSize          int      `toml:"word-size"`
	DisplacementWidth int      `toml:"displacement-width"`
	SearchPath        []string `toml:"search-path"`
}

// UnitSpec is a unit image to open at startup.
type UnitSpec struct {
	Path    string   `toml:"path"`
	Private bool     `toml:"private"`
	Units   []string `toml:"units"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	Path      string `toml:"path"`
}

// ErrInvalid is wrapped by Validate errors.
var ErrInvalid = errors.New("invalid configuration")

// Default returns the configuration used when no mlrt.toml exists.
func Default() *Manifest {
	m := &Manifest{}
	m.applyDefaults()
	return m
}

// Load parses the mlrt.toml file in the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find an mlrt.toml file, then loads
// and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

func (m *Manifest) applyDefaults() {
	if m.Heap.MinorHeap == 0 {
		m.Heap.MinorHeap = bytesize.ByteSize(vm.DefaultMinorHeapWords * vm.WordSize)
	}
	if m.Heap.Chunk == 0 {
		m.Heap.Chunk = bytesize.ByteSize(vm.DefaultChunkWords * vm.WordSize)
	}
	if m.Heap.MajorSlice == 0 {
		m.Heap.MajorSlice = bytesize.ByteSize(vm.DefaultMajorSliceWords * vm.WordSize)
	}
	arch := dynlink.DefaultArch()
	if m.Dynlink.WordSize == 0 {
		m.Dynlink.WordSize = arch.WordSize
	}
	if m.Dynlink.DisplacementWidth == 0 {
		m.Dynlink.DisplacementWidth = arch.DisplacementWidth
	}
}

// Validate checks the heap sizes and the loader arch.
func (m *Manifest) Validate() error {
	for name, size := range map[string]bytesize.ByteSize{
		"minor-heap":  m.Heap.MinorHeap,
		"chunk":       m.Heap.Chunk,
		"max-heap":    m.Heap.MaxHeap,
		"major-slice": m.Heap.MajorSlice,
	} {
		if uint64(size)%vm.WordSize != 0 {
			return fmt.Errorf("%w: heap.%s %s is not a multiple of %d bytes", ErrInvalid, name, size, vm.WordSize)
		}
	}
	if err := m.HeapConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := m.Arch().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	for i, u := range m.Units {
		if u.Path == "" {
			return fmt.Errorf("%w: units[%d] has no path", ErrInvalid, i)
		}
	}
	return nil
}

// HeapConfig converts the heap section to word sizes.
func (m *Manifest) HeapConfig() vm.HeapConfig {
	return vm.HeapConfig{
		MinorHeapWords:  uint64(m.Heap.MinorHeap) / vm.WordSize,
		ChunkWords:      uint64(m.Heap.Chunk) / vm.WordSize,
		MaxHeapWords:    uint64(m.Heap.MaxHeap) / vm.WordSize,
		MajorSliceWords: uint64(m.Heap.MajorSlice) / vm.WordSize,
		DebugFill:       m.Heap.DebugFill,
	}
}

// Arch returns the unit layout the loader accepts.
func (m *Manifest) Arch() dynlink.Arch {
	return dynlink.Arch{WordSize: m.Dynlink.WordSize, DisplacementWidth: m.Dynlink.DisplacementWidth}
}

// LoaderConfig returns the loader configuration with search paths made
// absolute relative to the manifest directory.
func (m *Manifest) LoaderConfig() dynlink.LoaderConfig {
	return dynlink.LoaderConfig{Arch: m.Arch(), SearchPath: m.SearchPaths()}
}

// SearchPaths returns absolute paths for the configured unit search path.
func (m *Manifest) SearchPaths() []string {
	var paths []string
	for _, d := range m.Dynlink.SearchPath {
		if filepath.IsAbs(d) || m.Dir == "" {
			paths = append(paths, d)
			continue
		}
		paths = append(paths, filepath.Join(m.Dir, d))
	}
	return paths
}

// UnitPath resolves a unit path relative to the manifest directory. A path
// that does not exist there is returned unchanged for the loader to look up
// on its search path.
func (m *Manifest) UnitPath(u UnitSpec) string {
	if filepath.IsAbs(u.Path) || m.Dir == "" {
		return u.Path
	}
	p := filepath.Join(m.Dir, u.Path)
	if _, err := os.Stat(p); err != nil {
		return u.Path
	}
	return p
}
