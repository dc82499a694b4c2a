package vm

import "fmt"

// ---------------------------------------------------------------------------
// FixedBlockAllocator: uniform-slot bitmap heap manager
// ---------------------------------------------------------------------------

// BlockSize is the uniform slot size of the fixed-block strategy.
const BlockSize = 64

// FixedBlockAllocator divides the heap into heapSize/BlockSize uniform
// slots tracked by a bitmap, allocating first-fit left to right.
type FixedBlockAllocator struct {
	heapStart uint64
	heapSize  uint64
	slots     *Bitmap
}

// NewFixedBlockAllocator creates a fixed-block allocator over
// [heapStart, heapStart+heapSize). The heap size must hold at least one
// block and divide evenly into blocks.
func NewFixedBlockAllocator(heapStart, heapSize uint64) (*FixedBlockAllocator, error) {
	if heapSize < BlockSize || heapSize%BlockSize != 0 {
		return nil, fmt.Errorf("vm: fixed-block heap size must be a positive multiple of %d, got %d", BlockSize, heapSize)
	}
	return &FixedBlockAllocator{
		heapStart: heapStart,
		heapSize:  heapSize,
		slots:     NewBitmap(int(heapSize / BlockSize)),
	}, nil
}

// HeapStart returns the first heap address.
func (f *FixedBlockAllocator) HeapStart() uint64 { return f.heapStart }

// HeapEnd returns one past the last heap address.
func (f *FixedBlockAllocator) HeapEnd() uint64 { return f.heapStart + f.heapSize }

// Allocate reserves the lowest-indexed free slot. Requests of zero bytes
// or larger than one block are rejected.
func (f *FixedBlockAllocator) Allocate(size uint64) (uint64, ErrorCode) {
	if size == 0 || size > BlockSize {
		return 0, AllocationTooLarge
	}
	slot := f.slots.FirstClear()
	if slot < 0 {
		return 0, HeapOverflow
	}
	f.slots.Set(slot)
	return f.heapStart + uint64(slot)*BlockSize, NoError
}

// Free releases the slot at addr.
func (f *FixedBlockAllocator) Free(addr uint64) ErrorCode {
	if addr < f.heapStart || addr >= f.HeapEnd() {
		return OutOfBounds
	}
	offset := addr - f.heapStart
	if offset%BlockSize != 0 {
		return UnalignedAddress
	}
	slot := int(offset / BlockSize)
	if !f.slots.IsSet(slot) {
		return DoubleFree
	}
	f.slots.Clear(slot)
	return NoError
}

// InUse returns the number of allocated slots.
func (f *FixedBlockAllocator) InUse() int {
	return f.slots.PopCount()
}
