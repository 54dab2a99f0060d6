// Package vm implements the mlrt runtime core.
//
// This package contains:
//   - Tagged value representation and block headers
//   - A generational heap: young arena, old generation, minor and major
//     collection
//   - The write barrier and root registration
//   - Array and object primitives
//   - Method tables and per-call-site method caches
//   - Registries for static data segments, frame tables and runtime symbols
//   - Blocking sections around system calls
package vm
