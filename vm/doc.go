// Package vm implements the Magma virtual machine core: the register
// file, the memory and allocator subsystem, interrupt dispatch to host
// behavior, the bytecode container, and the shared-memory debug segment
// an external debugger attaches to.
//
// The package deliberately has no internal locking: a Machine is a
// single-owner structure mutated only by its execution path. The only
// concurrency is at the process boundary, mediated by the DebugSegment,
// which is lock-free and polled at fixed intervals by both sides.
package vm
