package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Runtime Error Types
// ---------------------------------------------------------------------------

var (
	// ErrIndexOutOfBounds is returned by checked array accessors.
	ErrIndexOutOfBounds = errors.New("index out of bounds")

	// ErrInvalidArgument is returned for malformed primitive parameters.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrOutOfMemory is carried by the FatalError raised when the
	// allocator cannot satisfy a request even after collecting.
	ErrOutOfMemory = errors.New("out of memory")
)

// PrimitiveError is a recoverable error raised by a mutator-facing
// primitive. Op names the primitive, e.g. "Array.get".
type PrimitiveError struct {
	Op  string
	Err error
}

func (e *PrimitiveError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PrimitiveError) Unwrap() error {
	return e.Err
}

func indexError(op string) error {
	return &PrimitiveError{Op: op, Err: ErrIndexOutOfBounds}
}

func invalidArgument(op string) error {
	return &PrimitiveError{Op: op, Err: ErrInvalidArgument}
}

// FatalError is the panic value used for unrecoverable runtime conditions.
// There is no recovery path: embedders may recover it only to report and
// exit.
type FatalError struct {
	Err    error
	Detail string
}

func (e *FatalError) Error() string {
	if e.Detail == "" {
		return "fatal error: " + e.Err.Error()
	}
	return fmt.Sprintf("fatal error: %v: %s", e.Err, e.Detail)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func fatal(err error, format string, args ...any) {
	fe := &FatalError{Err: err, Detail: fmt.Sprintf(format, args...)}
	gcLog.Critical(fe.Error())
	panic(fe)
}
