package vm

import (
	"sync"
)

// FrameTable describes a frame table registered for stack unwinding. The
// first word of a frame table holds its descriptor count.
type FrameTable struct {
	Unit        string
	Addr        uint64
	Descriptors uint64
}

// FrameTableRegistry collects the frame tables of the startup code and of
// every loaded unit.
type FrameTableRegistry struct {
	mu     sync.RWMutex
	tables []FrameTable
	total  uint64
}

// NewFrameTableRegistry creates an empty registry.
func NewFrameTableRegistry() *FrameTableRegistry {
	return &FrameTableRegistry{}
}

// Add registers a table. Registering the same address twice is a no-op.
func (r *FrameTableRegistry) Add(ft FrameTable) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tables {
		if t.Addr == ft.Addr {
			return false
		}
	}
	r.tables = append(r.tables, ft)
	r.total += ft.Descriptors
	return true
}

// Len returns the number of registered tables.
func (r *FrameTableRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tables)
}

// Descriptors returns the total descriptor count over all tables.
func (r *FrameTableRegistry) Descriptors() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// Tables returns a snapshot of the registered tables in registration order.
func (r *FrameTableRegistry) Tables() []FrameTable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]FrameTable, len(r.tables))
	copy(out, r.tables)
	return out
}
