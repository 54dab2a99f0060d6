package dynlink

import (
	"bytes"
	"fmt"
)

// A unit symbol table lists runtime symbols the unit defines, so units
// loaded later can relocate against them:
//
//	( cstring name  word address )*
//	cstring ""

// SymTabEntry is one entry of a unit symbol table.
type SymTabEntry struct {
	Name string
	Addr uint64
}

// EncodeSymTable serializes entries.
func EncodeSymTable(entries []SymTabEntry, wordSize int) ([]byte, error) {
	var buf bytes.Buffer
	word := make([]byte, wordSize)
	for _, e := range entries {
		if e.Name == "" || bytes.IndexByte([]byte(e.Name), 0) >= 0 {
			return nil, fmt.Errorf("%w: bad symbol name %q", ErrBadSymTable, e.Name)
		}
		buf.WriteString(e.Name)
		buf.WriteByte(0)
		if err := putWord(word, e.Addr); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrBadSymTable, e.Name, err)
		}
		buf.Write(word)
	}
	buf.WriteByte(0)
	return buf.Bytes(), nil
}

// DecodeSymTable parses a symbol table from the start of b.
func DecodeSymTable(b []byte, wordSize int) ([]SymTabEntry, error) {
	if wordSize != 4 && wordSize != 8 {
		return nil, fmt.Errorf("%w: word size %d", ErrBadSymTable, wordSize)
	}
	var entries []SymTabEntry
	off := 0
	for {
		name, n, err := cstring(b[off:])
		if err != nil {
			return nil, fmt.Errorf("%w: at offset %d: %v", ErrBadSymTable, off, err)
		}
		off += n
		if name == "" {
			return entries, nil
		}
		if off+wordSize > len(b) {
			return nil, fmt.Errorf("%w: %s: truncated address", ErrBadSymTable, name)
		}
		entries = append(entries, SymTabEntry{Name: name, Addr: getWord(b[off : off+wordSize])})
		off += wordSize
	}
}
