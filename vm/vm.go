package vm

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/chazu/mlrt/vm/mem"
)

// ---------------------------------------------------------------------------
// VM: the runtime instance
// ---------------------------------------------------------------------------

// VM ties together the address space, the heap and the registries the
// loader populates.
type VM struct {
	Space       *mem.Space
	Heap        *Heap
	Segments    *SegmentRegistry    // static data of loaded units
	FrameTables *FrameTableRegistry // frame tables for the unwinder
	Symbols     *SymbolTable        // runtime symbols for relocation

	runtimeLock   sync.Mutex
	blockingDepth atomic.Int32

	signalMu       sync.Mutex
	pendingSignals []os.Signal
}

// NewVM creates a runtime with a fresh address space and heap. The runtime
// lock is held on return.
func NewVM(cfg HeapConfig) (*VM, error) {
	space := mem.NewSpace()
	segments := NewSegmentRegistry()
	heap, err := NewHeap(space, cfg, segments)
	if err != nil {
		return nil, err
	}
	vm := &VM{
		Space:       space,
		Heap:        heap,
		Segments:    segments,
		FrameTables: NewFrameTableRegistry(),
		Symbols:     NewSymbolTable(),
	}
	vm.runtimeLock.Lock()
	return vm, nil
}

// IsStaticData reports whether addr lies in the data segment of a loaded
// unit.
func (vm *VM) IsStaticData(addr uint64) bool {
	return vm.Segments.Contains(addr)
}

// RegisterDataSegment records [begin, end] as static data.
func (vm *VM) RegisterDataSegment(begin, end uint64) error {
	if err := vm.Segments.Add(begin, end); err != nil {
		return err
	}
	vmLog.Debugf("data segment [%#x, %#x] registered", begin, end)
	return nil
}

// CheckFrameTable reports whether RegisterFrameTable would accept the
// table at addr, without registering it.
func (vm *VM) CheckFrameTable(unit string, addr uint64) error {
	_, err := vm.frameTableDescriptors(unit, addr)
	return err
}

func (vm *VM) frameTableDescriptors(unit string, addr uint64) (uint64, error) {
	n, err := vm.Space.ReadWord(addr, WordSize)
	if err != nil {
		return 0, fmt.Errorf("frame table of %s: %w", unit, err)
	}
	return n, nil
}

// RegisterFrameTable registers the frame table at addr on behalf of unit.
// The descriptor count is read from the table's first word.
func (vm *VM) RegisterFrameTable(unit string, addr uint64) error {
	n, err := vm.frameTableDescriptors(unit, addr)
	if err != nil {
		return err
	}
	if vm.FrameTables.Add(FrameTable{Unit: unit, Addr: addr, Descriptors: n}) {
		vmLog.Debugf("frame table %s at %#x: %d descriptors", unit, addr, n)
	}
	return nil
}

// RegisterDynGlobal registers the static block at addr as a GC root.
func (vm *VM) RegisterDynGlobal(addr uint64) error {
	return vm.Heap.RegisterDynGlobal(addr)
}

// CheckDynGlobal reports whether RegisterDynGlobal would accept addr.
func (vm *VM) CheckDynGlobal(addr uint64) error {
	return vm.Heap.CheckDynGlobal(addr)
}

// Callback runs mutator code invoked from the runtime, such as a unit's
// entry function. A panic in fn is returned as an error, except a
// *FatalError, which keeps unwinding. Signals recorded during fn are
// reported after it returns.
func (vm *VM) Callback(fn func() error) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if fe, ok := r.(*FatalError); ok {
			panic(fe)
		}
		if e, ok := r.(error); ok {
			err = fmt.Errorf("callback panicked: %w", e)
			return
		}
		err = fmt.Errorf("callback panicked: %v", r)
	}()
	if err := fn(); err != nil {
		return err
	}
	return vm.takeSignal()
}
