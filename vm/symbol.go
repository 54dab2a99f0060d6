package vm

import (
	"fmt"
	"sort"
	"sync"
)

// ---------------------------------------------------------------------------
// SymbolTable: runtime symbols
// ---------------------------------------------------------------------------

// SymbolTable maps the names of runtime symbols to addresses. It is the
// first place the loader looks when resolving relocation targets, and
// units that carry a symtable add their own entries to it.
type SymbolTable struct {
	mu     sync.RWMutex
	byName map[string]uint64 // name -> address
	order  []string          // definition order
}

// NewSymbolTable creates a new empty symbol table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		byName: make(map[string]uint64),
		order:  make([]string, 0, 256),
	}
}

// Define binds name to addr. Rebinding a name to the same address is a
// no-op; rebinding it to another address is an error.
func (st *SymbolTable) Define(name string, addr uint64) error {
	if name == "" {
		return fmt.Errorf("define symbol: empty name")
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if old, ok := st.byName[name]; ok {
		if old == addr {
			return nil
		}
		return fmt.Errorf("define symbol %s: already bound to %#x", name, old)
	}
	st.byName[name] = addr
	st.order = append(st.order, name)
	return nil
}

// Lookup returns the address bound to name.
func (st *SymbolTable) Lookup(name string) (uint64, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	addr, ok := st.byName[name]
	return addr, ok
}

// Len returns the number of defined symbols.
func (st *SymbolTable) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.order)
}

// All returns all symbol names in definition order.
func (st *SymbolTable) All() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()

	result := make([]string, len(st.order))
	copy(result, st.order)
	return result
}

// Sorted returns all symbol names in lexical order.
func (st *SymbolTable) Sorted() []string {
	names := st.All()
	sort.Strings(names)
	return names
}
