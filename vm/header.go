package vm

import (
	"fmt"

	"github.com/chazu/mlrt/vm/mem"
)

// WordSize is the size in bytes of a heap word.
const WordSize = mem.WordSize

// DoubleWosize is the number of words holding one IEEE-754 double.
const DoubleWosize = 8 / WordSize

// Size limits (in words)
const (
	MaxWosize      = (1 << 54) - 1
	MaxYoungWosize = 256
)

// Tag classifies how a block's payload is interpreted.
type Tag uint8

// Reserved tags. Tags below NoScanTag hold Values that the collector scans;
// tags at or above it hold raw words that are copied but never scanned.
const (
	LazyTag        Tag = 246
	ClosureTag     Tag = 247
	ObjectTag      Tag = 248
	InfixTag       Tag = 249
	ForwardTag     Tag = 250
	NoScanTag      Tag = 251
	AbstractTag    Tag = 251
	StringTag      Tag = 252
	DoubleTag      Tag = 253
	DoubleArrayTag Tag = 254
	CustomTag      Tag = 255
)

// fillerTag marks the leftover tail of a truncated block. It is odd so the
// header word reads as an immediate if a stale remembered-set entry points
// at it.
const fillerTag Tag = 1

// Scannable reports whether blocks with this tag hold Values.
func (t Tag) Scannable() bool {
	return t < NoScanTag
}

// Color is the collector state of a block.
type Color uint8

const (
	White Color = iota // not yet scanned
	Gray               // reachable, fields pending
	Black              // reachable, fields scanned
	Blue               // free
)

func (c Color) String() string {
	switch c {
	case White:
		return "white"
	case Gray:
		return "gray"
	case Black:
		return "black"
	case Blue:
		return "blue"
	default:
		return "!err"
	}
}

// Header describes a block: its size in words, collector color and tag.
type Header struct {
	Wosize uint64
	Color  Color
	Tag    Tag
}

// Header word layout: wosize<<10 | color<<8 | tag
const (
	headerTagBits   = 8
	headerColorBits = 2
	headerSizeShift = headerTagBits + headerColorBits
)

// Word packs h into a header word.
func (h Header) Word() uint64 {
	return h.Wosize<<headerSizeShift | uint64(h.Color)<<headerTagBits | uint64(h.Tag)
}

// Whsize returns the block size including the header word.
func (h Header) Whsize() uint64 {
	return h.Wosize + 1
}

// Bytes returns the size of the payload in bytes.
func (h Header) Bytes() uint64 {
	return h.Wosize * WordSize
}

func (h Header) String() string {
	return fmt.Sprintf("{size=%d color=%s tag=%d}", h.Wosize, h.Color, h.Tag)
}

// DecodeHeader unpacks a header word.
func DecodeHeader(w uint64) Header {
	return Header{
		Wosize: w >> headerSizeShift,
		Color:  Color((w >> headerTagBits) & (1<<headerColorBits - 1)),
		Tag:    Tag(w & (1<<headerTagBits - 1)),
	}
}

// forwardedHeader is the header word of a young block that has been
// promoted; field 0 then holds the new pointer.
const forwardedHeader uint64 = 0
