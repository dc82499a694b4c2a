package vm

import "math/bits"

// ---------------------------------------------------------------------------
// Bitmap: slot occupancy tracking for the fixed-block allocator
// ---------------------------------------------------------------------------

// Bitmap is a bit vector. Bit = 1 means the slot is taken.
type Bitmap struct {
	words  []uint64
	length int
}

// NewBitmap creates a bitmap of the given length with all bits clear.
func NewBitmap(length int) *Bitmap {
	numWords := (length + 63) / 64
	return &Bitmap{
		words:  make([]uint64, numWords),
		length: length,
	}
}

// Len returns the number of bits in the bitmap.
func (b *Bitmap) Len() int {
	return b.length
}

// Set sets the bit at index i to 1.
func (b *Bitmap) Set(i int) {
	if i < 0 || i >= b.length {
		return
	}
	b.words[i/64] |= uint64(1) << (i % 64)
}

// Clear sets the bit at index i to 0.
func (b *Bitmap) Clear(i int) {
	if i < 0 || i >= b.length {
		return
	}
	b.words[i/64] &^= uint64(1) << (i % 64)
}

// IsSet returns true if the bit at index i is 1.
func (b *Bitmap) IsSet(i int) bool {
	if i < 0 || i >= b.length {
		return false
	}
	return b.words[i/64]&(uint64(1)<<(i%64)) != 0
}

// FirstClear returns the index of the lowest clear bit, or -1 if every
// bit is set. The scan is deterministic left-to-right.
func (b *Bitmap) FirstClear() int {
	for w, word := range b.words {
		if word == ^uint64(0) {
			continue
		}
		i := w*64 + bits.TrailingZeros64(^word)
		if i >= b.length {
			return -1
		}
		return i
	}
	return -1
}

// PopCount returns the number of set bits.
func (b *Bitmap) PopCount() int {
	count := 0
	for w, word := range b.words {
		if w == len(b.words)-1 && b.length%64 != 0 {
			word &= (uint64(1) << (b.length % 64)) - 1
		}
		count += bits.OnesCount64(word)
	}
	return count
}
