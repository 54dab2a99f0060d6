// Package unixprim provides Unix system call primitives for mutator code.
//
// Every call that may block runs inside a blocking section, so the runtime
// lock is released for its duration and signals recorded meanwhile are
// reported on return. Results that mutator code consumes are returned as
// heap values.
package unixprim
