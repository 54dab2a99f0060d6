package vm

import (
	"fmt"
	"sort"
	"sync"
)

// ---------------------------------------------------------------------------
// SegmentRegistry: dynamically loaded static data
// ---------------------------------------------------------------------------

// Segment is an address range [Begin, End]. End is inclusive: a unit's
// data_end symbol labels the last word of its data.
type Segment struct {
	Begin uint64
	End   uint64
}

// Contains reports whether addr lies in the segment.
func (s Segment) Contains(addr uint64) bool {
	return addr >= s.Begin && addr <= s.End
}

func (s Segment) String() string {
	return fmt.Sprintf("[%#x, %#x]", s.Begin, s.End)
}

// SegmentRegistry records the data segments of loaded units. Segments are
// only ever added. Lookups are safe for concurrent use.
type SegmentRegistry struct {
	mu       sync.RWMutex
	segments []Segment // sorted by Begin
}

// NewSegmentRegistry creates an empty registry.
func NewSegmentRegistry() *SegmentRegistry {
	return &SegmentRegistry{}
}

// CheckSegment reports whether [begin, end] is a valid segment.
func CheckSegment(begin, end uint64) error {
	if end < begin {
		return fmt.Errorf("data segment: end %#x before begin %#x", end, begin)
	}
	return nil
}

// Add registers [begin, end].
func (r *SegmentRegistry) Add(begin, end uint64) error {
	if err := CheckSegment(begin, end); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	i := sort.Search(len(r.segments), func(i int) bool {
		return r.segments[i].Begin >= begin
	})
	r.segments = append(r.segments, Segment{})
	copy(r.segments[i+1:], r.segments[i:])
	r.segments[i] = Segment{Begin: begin, End: end}
	return nil
}

// Contains reports whether addr lies in a registered segment.
func (r *SegmentRegistry) Contains(addr uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	// Last segment starting at or before addr. Segments may overlap, so
	// earlier ones are checked too.
	i := sort.Search(len(r.segments), func(i int) bool {
		return r.segments[i].Begin > addr
	})
	for j := i - 1; j >= 0; j-- {
		if r.segments[j].Contains(addr) {
			return true
		}
	}
	return false
}

// Len returns the number of registered segments.
func (r *SegmentRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.segments)
}

// Segments returns a snapshot of the registered segments in address order.
func (r *SegmentRegistry) Segments() []Segment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Segment, len(r.segments))
	copy(out, r.segments)
	return out
}
