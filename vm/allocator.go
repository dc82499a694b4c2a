package vm

// ---------------------------------------------------------------------------
// Allocator: the heap management contract
// ---------------------------------------------------------------------------

// Allocator manages the heap region of a Memory instance. Addresses are
// absolute offsets into the owning Memory's buffer; every address
// returned by Allocate lies in [HeapStart, HeapEnd) and is aligned to
// the allocator's granularity.
//
// Allocators are single-owner: they are mutated only by allocate/free
// calls issued from the executing thread, so implementations need no
// locking.
type Allocator interface {
	// Allocate reserves a block able to hold size bytes and returns
	// its base address.
	Allocate(size uint64) (uint64, ErrorCode)

	// Free releases the block at addr. Freeing an address outside the
	// heap yields OutOfBounds, a misaligned address UnalignedAddress,
	// and an already-free block DoubleFree.
	Free(addr uint64) ErrorCode
}

// ---------------------------------------------------------------------------
// BlankAllocator: uninitialized-configuration placeholder
// ---------------------------------------------------------------------------

// BlankAllocator is the placeholder installed before a strategy is
// configured. Any use is a configuration bug, so it panics rather than
// returning a machine-level error.
type BlankAllocator struct{}

// Allocate panics: the allocator was never configured.
func (BlankAllocator) Allocate(size uint64) (uint64, ErrorCode) {
	panic("vm: allocate on unconfigured allocator")
}

// Free panics: the allocator was never configured.
func (BlankAllocator) Free(addr uint64) ErrorCode {
	panic("vm: free on unconfigured allocator")
}
