package vm

// ---------------------------------------------------------------------------
// Binary encoding primitives
// ---------------------------------------------------------------------------
//
// Shared by everything that reads or writes the bytecode format: the
// machine's operand decode, the builder, and the debug tooling all agree
// on these little-endian field encodings.

// MinimalWidth returns the smallest byte count able to represent n.
// Zero still requires one byte.
func MinimalWidth(n uint64) int {
	width := 1
	for n > 0xFF {
		n >>= 8
		width++
	}
	return width
}

// EncodeLittleEndian serializes n into exactly width bytes, least
// significant first. It fails with InvalidInput when n does not fit.
func EncodeLittleEndian(n uint64, width int) ([]byte, ErrorCode) {
	if width < 1 || MinimalWidth(n) > width {
		return nil, InvalidInput
	}
	out := make([]byte, width)
	for i := 0; i < width; i++ {
		out[i] = byte(n)
		n >>= 8
	}
	return out, NoError
}

// DecodeLittleEndian is the inverse of EncodeLittleEndian for fields of
// up to eight bytes. Wider input has its high bytes ignored.
func DecodeLittleEndian(b []byte) uint64 {
	var n uint64
	if len(b) > 8 {
		b = b[:8]
	}
	for i := len(b) - 1; i >= 0; i-- {
		n = n<<8 | uint64(b[i])
	}
	return n
}
