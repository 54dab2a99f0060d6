package vm

import (
	"time"
)

// ---------------------------------------------------------------------------
// GCStats: collection and barrier statistics
// ---------------------------------------------------------------------------

// BarrierStats classifies stores seen by the write barrier.
type BarrierStats struct {
	Writes      uint64 // Modify calls
	Initializes uint64 // Initialize calls
	YoungTarget uint64 // field in the young arena
	Immediate   uint64 // old field, immediate value
	OldToOld    uint64 // old field, non-young pointer
	OldToYoung  uint64 // old field, young pointer (recorded)
	Rewrites    uint64 // old field already holding a young pointer
}

// GCStats holds cumulative heap statistics.
type GCStats struct {
	MinorCollections    uint64
	MajorCollections    uint64
	YoungAllocatedWords uint64
	OldAllocatedWords   uint64
	PromotedWords       uint64
	FreedWords          uint64
	LiveWords           uint64 // after the last major collection
	HeapWords           uint64
	FreeWords           uint64
	Chunks              int
	RememberedPeak      uint64
	Barrier             BarrierStats
	LastMinorDuration   time.Duration
	LastMajorDuration   time.Duration
	LastCollection      time.Time
}

// Stats returns a snapshot of the heap statistics.
func (h *Heap) Stats() GCStats {
	s := h.stats
	s.HeapWords = h.heapWords
	s.Chunks = len(h.chunks)
	for _, hp := range h.free {
		s.FreeWords += DecodeHeader(h.load(hp)).Whsize()
	}
	return s
}

// YoungUsedWords returns the number of words allocated in the young arena
// since the last minor collection.
func (h *Heap) YoungUsedWords() uint64 {
	return (h.youngPtr - h.young.Base) / WordSize
}
