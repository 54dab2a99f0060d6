package dynlink

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("mlrt.dynlink")

var (
	// ErrUnresolvedSymbol is wrapped by the LinkError returned when a
	// required unit symbol or a relocation target cannot be found.
	ErrUnresolvedSymbol = errors.New("unresolved symbol")

	// ErrBadRelocTable is returned for malformed relocation tables.
	ErrBadRelocTable = errors.New("malformed relocation table")

	// ErrBadSymTable is returned for malformed symbol tables.
	ErrBadSymTable = errors.New("malformed symbol table")

	// ErrDisplacementOverflow is returned when a relative relocation does
	// not fit the displacement width.
	ErrDisplacementOverflow = errors.New("displacement out of range")

	// ErrBadImage is returned for unit images that fail validation.
	ErrBadImage = errors.New("invalid unit image")
)

// LoadError reports a unit that could not be opened: unreadable file,
// undecodable image, or sections that cannot be mapped.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// LinkError reports a unit whose symbols or relocations could not be
// resolved. Nothing of the failing unit has been registered when it is
// returned.
type LinkError struct {
	Unit   string
	Symbol string
	Err    error
}

func (e *LinkError) Error() string {
	if e.Unit == "" {
		return fmt.Sprintf("link %s: %v", e.Symbol, e.Err)
	}
	return fmt.Sprintf("link unit %s: %s: %v", e.Unit, e.Symbol, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}
