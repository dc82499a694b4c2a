package vm

import "fmt"

// ---------------------------------------------------------------------------
// BuddyAllocator: power-of-two split/merge heap manager
// ---------------------------------------------------------------------------

// MinBlockSize is the smallest block either allocator strategy hands out.
// Requests below it are rounded up; heap addresses are aligned to it.
const MinBlockSize = 64

// buddyBlock is one node of the buddy tree. Blocks live in an arena and
// reference each other by index, so splitting and coalescing are index
// rewrites rather than pointer surgery. A block with children is never
// itself allocatable; only leaves can be marked allocated.
type buddyBlock struct {
	addr      uint64
	size      uint64
	parent    int32
	left      int32 // -1 when the block is a leaf
	right     int32
	allocated bool
}

// BuddyAllocator manages the heap by recursively halving a power-of-two
// region and merging free sibling leaves back together on free.
type BuddyAllocator struct {
	heapStart uint64
	heapSize  uint64
	blocks    []buddyBlock // arena; index 0 is the root
	freeSlots []int32      // recycled arena slots from coalesced children
}

// NewBuddyAllocator creates a buddy allocator over [heapStart,
// heapStart+heapSize). The heap size must be a power of two and at least
// MinBlockSize; anything else is a configuration error.
func NewBuddyAllocator(heapStart, heapSize uint64) (*BuddyAllocator, error) {
	if heapSize < MinBlockSize || heapSize&(heapSize-1) != 0 {
		return nil, fmt.Errorf("vm: buddy heap size must be a power of two >= %d, got %d", MinBlockSize, heapSize)
	}
	b := &BuddyAllocator{heapStart: heapStart, heapSize: heapSize}
	b.blocks = []buddyBlock{{addr: heapStart, size: heapSize, parent: -1, left: -1, right: -1}}
	return b, nil
}

// HeapStart returns the first heap address.
func (b *BuddyAllocator) HeapStart() uint64 { return b.heapStart }

// HeapEnd returns one past the last heap address.
func (b *BuddyAllocator) HeapEnd() uint64 { return b.heapStart + b.heapSize }

// roundBlockSize rounds a request up to the next power of two, with a
// floor of MinBlockSize. The caller has already bounded size by the heap
// size, so the loop terminates.
func roundBlockSize(size uint64) uint64 {
	target := uint64(MinBlockSize)
	for target < size {
		target <<= 1
	}
	return target
}

// Allocate reserves the smallest power-of-two block satisfying size.
func (b *BuddyAllocator) Allocate(size uint64) (uint64, ErrorCode) {
	if size > b.heapSize {
		return 0, HeapOverflow
	}
	idx := b.findFit(0, roundBlockSize(size))
	if idx < 0 {
		return 0, HeapOverflow
	}
	b.blocks[idx].allocated = true
	return b.blocks[idx].addr, NoError
}

// findFit walks the block tree looking for a free leaf of exactly the
// target size, splitting larger free leaves on the way down. Returns -1
// when no path reaches a fitting block.
func (b *BuddyAllocator) findFit(idx int32, target uint64) int32 {
	blk := b.blocks[idx]
	if blk.allocated || blk.size < target {
		return -1
	}
	if blk.size == target {
		if blk.left >= 0 {
			return -1 // already split; its capacity lives in the children
		}
		return idx
	}
	if blk.left < 0 {
		b.split(idx)
	}
	// Reload indices: split may have grown the arena.
	left, right := b.blocks[idx].left, b.blocks[idx].right
	if found := b.findFit(left, target); found >= 0 {
		return found
	}
	return b.findFit(right, target)
}

// split divides a free leaf into two equal children.
func (b *BuddyAllocator) split(idx int32) {
	blk := b.blocks[idx]
	half := blk.size / 2
	left := b.newBlock(buddyBlock{addr: blk.addr, size: half, parent: idx, left: -1, right: -1})
	right := b.newBlock(buddyBlock{addr: blk.addr + half, size: half, parent: idx, left: -1, right: -1})
	b.blocks[idx].left = left
	b.blocks[idx].right = right
}

// newBlock places a block into the arena, reusing a recycled slot when
// one is available.
func (b *BuddyAllocator) newBlock(blk buddyBlock) int32 {
	if n := len(b.freeSlots); n > 0 {
		idx := b.freeSlots[n-1]
		b.freeSlots = b.freeSlots[:n-1]
		b.blocks[idx] = blk
		return idx
	}
	b.blocks = append(b.blocks, blk)
	return int32(len(b.blocks) - 1)
}

// Free releases the allocated leaf whose base address is addr, then
// coalesces free sibling leaves back into their parent. Coalescing runs
// after every free; long-run fragmentation behavior depends on it.
func (b *BuddyAllocator) Free(addr uint64) ErrorCode {
	if addr < b.heapStart || addr >= b.HeapEnd() {
		return OutOfBounds
	}
	if (addr-b.heapStart)%MinBlockSize != 0 {
		return UnalignedAddress
	}

	// Descend to the leaf covering addr.
	idx := int32(0)
	for b.blocks[idx].left >= 0 {
		right := b.blocks[idx].right
		if addr >= b.blocks[right].addr {
			idx = right
		} else {
			idx = b.blocks[idx].left
		}
	}

	blk := &b.blocks[idx]
	if blk.addr != addr {
		return UnalignedAddress // inside an allocated block, not its base
	}
	if !blk.allocated {
		return DoubleFree
	}
	blk.allocated = false
	b.coalesce(blk.parent)
	return NoError
}

// coalesce collapses pairs of free sibling leaves into their parent,
// walking upward until a pair cannot merge.
func (b *BuddyAllocator) coalesce(idx int32) {
	for idx >= 0 {
		left, right := b.blocks[idx].left, b.blocks[idx].right
		if left < 0 {
			return
		}
		l, r := b.blocks[left], b.blocks[right]
		if l.left >= 0 || r.left >= 0 || l.allocated || r.allocated {
			return
		}
		b.blocks[idx].left = -1
		b.blocks[idx].right = -1
		b.freeSlots = append(b.freeSlots, left, right)
		idx = b.blocks[idx].parent
	}
}
