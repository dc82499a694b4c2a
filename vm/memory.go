package vm

import "fmt"

// ---------------------------------------------------------------------------
// Memory: the machine's addressable byte buffer
// ---------------------------------------------------------------------------

// Allocator strategy names accepted by NewMemory and the configuration
// layer.
const (
	StrategyBuddy      = "buddy"
	StrategyFixedBlock = "fixed"
)

// Memory owns the machine's single contiguous byte buffer for the
// lifetime of one Machine. All addresses are offsets into this buffer.
// The buffer is divided into three regions:
//
//	[0, codeSize)                     loaded bytecode
//	[codeSize, codeSize+stackSize)    machine stack, grows downward
//	[heapStart, heapEnd)              heap, governed by the Allocator
type Memory struct {
	buf       []byte
	codeSize  uint64
	stackSize uint64
	alloc     Allocator
}

// NewMemory builds a Memory with the given region sizes and installs the
// named allocator strategy over the heap region. An empty strategy
// installs the BlankAllocator placeholder.
func NewMemory(codeSize, stackSize, heapSize uint64, strategy string) (*Memory, error) {
	m := &Memory{
		buf:       make([]byte, codeSize+stackSize+heapSize),
		codeSize:  codeSize,
		stackSize: stackSize,
	}
	switch strategy {
	case StrategyBuddy:
		alloc, err := NewBuddyAllocator(m.HeapStart(), heapSize)
		if err != nil {
			return nil, err
		}
		m.alloc = alloc
	case StrategyFixedBlock:
		alloc, err := NewFixedBlockAllocator(m.HeapStart(), heapSize)
		if err != nil {
			return nil, err
		}
		m.alloc = alloc
	case "":
		m.alloc = BlankAllocator{}
	default:
		return nil, fmt.Errorf("vm: unknown allocator strategy %q", strategy)
	}
	return m, nil
}

// Len returns the total size of the buffer.
func (m *Memory) Len() uint64 {
	return uint64(len(m.buf))
}

// CodeSize returns the size of the code region.
func (m *Memory) CodeSize() uint64 { return m.codeSize }

// StackBase returns the lowest stack address. The stack pointer starts
// at StackLimit and moves toward StackBase.
func (m *Memory) StackBase() uint64 { return m.codeSize }

// StackLimit returns one past the highest stack address.
func (m *Memory) StackLimit() uint64 { return m.codeSize + m.stackSize }

// HeapStart returns the first heap address.
func (m *Memory) HeapStart() uint64 { return m.codeSize + m.stackSize }

// HeapEnd returns one past the last heap address.
func (m *Memory) HeapEnd() uint64 { return uint64(len(m.buf)) }

// Allocator returns the heap manager.
func (m *Memory) Allocator() Allocator {
	return m.alloc
}

// ReadByte reads one byte.
func (m *Memory) ReadByte(addr uint64) (byte, ErrorCode) {
	if addr >= uint64(len(m.buf)) {
		return 0, OutOfBounds
	}
	return m.buf[addr], NoError
}

// WriteByte writes one byte.
func (m *Memory) WriteByte(addr uint64, v byte) ErrorCode {
	if addr >= uint64(len(m.buf)) {
		return OutOfBounds
	}
	m.buf[addr] = v
	return NoError
}

// ReadRange returns a view of n bytes starting at addr. The slice
// aliases the buffer; callers that hold it across writes must copy.
func (m *Memory) ReadRange(addr, n uint64) ([]byte, ErrorCode) {
	if addr > uint64(len(m.buf)) || n > uint64(len(m.buf))-addr {
		return nil, OutOfBounds
	}
	return m.buf[addr : addr+n], NoError
}

// WriteRange copies data into the buffer at addr.
func (m *Memory) WriteRange(addr uint64, data []byte) ErrorCode {
	if addr > uint64(len(m.buf)) || uint64(len(data)) > uint64(len(m.buf))-addr {
		return OutOfBounds
	}
	copy(m.buf[addr:], data)
	return NoError
}

// ReadWord reads a width-byte little-endian field.
func (m *Memory) ReadWord(addr uint64, width int) (uint64, ErrorCode) {
	b, code := m.ReadRange(addr, uint64(width))
	if code != NoError {
		return 0, code
	}
	return DecodeLittleEndian(b), NoError
}

// WriteWord writes a width-byte little-endian field. Values wider than
// the field are an encoding error.
func (m *Memory) WriteWord(addr uint64, v uint64, width int) ErrorCode {
	b, code := EncodeLittleEndian(v, width)
	if code != NoError {
		return code
	}
	return m.WriteRange(addr, b)
}

// ReadCString scans forward from addr for a NUL terminator and returns
// the bytes before it. A missing terminator is InvalidInput.
func (m *Memory) ReadCString(addr uint64) ([]byte, ErrorCode) {
	if addr >= uint64(len(m.buf)) {
		return nil, OutOfBounds
	}
	for i := addr; i < uint64(len(m.buf)); i++ {
		if m.buf[i] == 0 {
			return m.buf[addr:i], NoError
		}
	}
	return nil, InvalidInput
}

// Snapshot returns a copy of the full buffer, for core dumps and the
// debug segment mirror.
func (m *Memory) Snapshot() []byte {
	out := make([]byte, len(m.buf))
	copy(out, m.buf)
	return out
}

// CopyTo copies the full buffer into dst without allocating. dst must be
// exactly Len() bytes.
func (m *Memory) CopyTo(dst []byte) {
	copy(dst, m.buf)
}
