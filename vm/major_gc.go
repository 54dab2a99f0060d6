package vm

import (
	"time"
)

// ---------------------------------------------------------------------------
// Major collection
// ---------------------------------------------------------------------------

// MajorSlice runs one major collection slice. Slices are not incremental:
// a slice is a complete stop-the-world major cycle.
func (h *Heap) MajorSlice() {
	h.MajorCollection()
}

// MajorCollection empties the young generation, marks every old block
// reachable from the roots and sweeps the old generation. Old blocks are
// never moved. Unreachable blocks (including truncation fillers) become
// free and adjacent free blocks are merged.
func (h *Heap) MajorCollection() {
	h.MinorCollection()

	start := time.Now()
	h.inGC = true

	for _, p := range h.localRoots {
		h.mark(*p)
	}
	for _, p := range h.globalRoots {
		h.mark(*p)
	}
	for _, g := range h.dynGlobals {
		h.markFields(FromAddr(g))
	}
	for len(h.gray) > 0 {
		v := h.gray[len(h.gray)-1]
		h.gray = h.gray[:len(h.gray)-1]
		h.markFields(v)
	}

	live, freed := h.sweep()

	h.allocatedSinceMajor = 0
	h.epoch++
	h.inGC = false

	h.stats.MajorCollections++
	h.stats.LiveWords = live
	h.stats.FreedWords += freed
	h.stats.LastMajorDuration = time.Since(start)
	h.stats.LastCollection = start
	gcLog.Debugf("major collection #%d: %d live words, %d freed, heap %d words, %s",
		h.stats.MajorCollections, live, freed, h.heapWords, h.stats.LastMajorDuration)
}

// mark blackens v if it is an unmarked old block and queues its fields.
// Static blocks are never marked.
func (h *Heap) mark(v Value) {
	if !v.IsPointer() {
		return
	}
	c := h.chunkOf(uint64(v))
	if c == nil {
		return
	}
	hd := DecodeHeader(c.Word(v.HeaderAddr()))
	if hd.Color != White {
		return
	}
	hd.Color = Black
	c.SetWord(v.HeaderAddr(), hd.Word())
	if hd.Tag.Scannable() {
		h.gray = append(h.gray, v)
	}
}

func (h *Heap) markFields(v Value) {
	hd := h.Header(v)
	if !hd.Tag.Scannable() {
		return
	}
	for i := 0; i < int(hd.Wosize); i++ {
		h.mark(h.Field(v, i))
	}
}

// sweep walks every chunk block by block. White blocks are freed, black
// blocks are whitened for the next cycle, and runs of free blocks are
// merged into one. The free list is rebuilt from scratch.
func (h *Heap) sweep() (live, freed uint64) {
	h.free = h.free[:0]
	for _, c := range h.chunks {
		var run uint64 // header address of the current free run
		inRun := false
		flush := func() {
			if inRun && DecodeHeader(c.Word(run)).Wosize > 0 {
				h.free = append(h.free, run)
			}
			inRun = false
		}
		for hp := c.Base; hp < c.End(); {
			hd := DecodeHeader(c.Word(hp))
			next := hp + hd.Whsize()*WordSize
			switch hd.Color {
			case White, Blue:
				if hd.Color == White {
					freed += hd.Whsize()
				}
				if inRun {
					rh := DecodeHeader(c.Word(run))
					rh.Wosize += hd.Whsize()
					c.SetWord(run, rh.Word())
				} else {
					c.SetWord(hp, Header{Wosize: hd.Wosize, Color: Blue}.Word())
					run, inRun = hp, true
				}
			default:
				hd.Color = White
				c.SetWord(hp, hd.Word())
				live += hd.Whsize()
				flush()
			}
			hp = next
		}
		flush()
	}
	return live, freed
}
