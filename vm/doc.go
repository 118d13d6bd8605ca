// Package vm implements the Atlas virtual machine.
//
// This package contains:
//   - the runtime value model and persistent lists, tuples, and records
//   - segments, the instruction catalog, and the Program registry
//   - the register-based dispatch loop and curried calling convention
//   - thunks, with memoized forcing that is safe under concurrent access
package vm
