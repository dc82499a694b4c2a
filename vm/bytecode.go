package vm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction.
type Opcode byte

// Control
const (
	OpHalt Opcode = 0x00 // stop execution
	OpNop  Opcode = 0x01 // no operation
)

// Data movement
const (
	OpLoadImm Opcode = 0x10 // reg(1) width(1) imm(width, LE): load immediate
	OpMov     Opcode = 0x11 // dst(1) src(1): copy register
)

// Arithmetic. Results set ZERO_FLAG and SIGN_FLAG; DIV additionally
// writes the remainder into REMAINDER and reports ZeroDivision through
// the ERROR register.
const (
	OpAdd Opcode = 0x20 // dst(1) a(1) b(1)
	OpSub Opcode = 0x21 // dst(1) a(1) b(1)
	OpMul Opcode = 0x22 // dst(1) a(1) b(1)
	OpDiv Opcode = 0x23 // dst(1) a(1) b(1)
)

// Control flow
const (
	OpJump        Opcode = 0x30 // addr(8): unconditional jump
	OpJumpZero    Opcode = 0x31 // addr(8): jump when ZERO_FLAG set
	OpJumpNotZero Opcode = 0x32 // addr(8): jump when ZERO_FLAG clear
)

// Stack
const (
	OpPush Opcode = 0x40 // reg(1): push register
	OpPop  Opcode = 0x41 // reg(1): pop into register
)

// Memory
const (
	OpLoad  Opcode = 0x50 // dst(1) addrReg(1) width(1): load LE field
	OpStore Opcode = 0x51 // addrReg(1) src(1) width(1): store LE field
)

// Heap management
const (
	OpAlloc Opcode = 0x60 // dst(1) sizeReg(1): allocate, address into dst
	OpFree  Opcode = 0x61 // addrReg(1): free the block at the address
)

// Host interaction
const (
	OpInt Opcode = 0x70 // reg(1): issue the interrupt numbered in reg
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name         string // human-readable name
	OperandBytes int    // number of operand bytes (-1 = variable)
}

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpHalt:        {"HALT", 0},
	OpNop:         {"NOP", 0},
	OpLoadImm:     {"LOAD_IMM", -1},
	OpMov:         {"MOV", 2},
	OpAdd:         {"ADD", 3},
	OpSub:         {"SUB", 3},
	OpMul:         {"MUL", 3},
	OpDiv:         {"DIV", 3},
	OpJump:        {"JUMP", 8},
	OpJumpZero:    {"JUMP_ZERO", 8},
	OpJumpNotZero: {"JUMP_NOT_ZERO", 8},
	OpPush:        {"PUSH", 1},
	OpPop:         {"POP", 1},
	OpLoad:        {"LOAD", 3},
	OpStore:       {"STORE", 3},
	OpAlloc:       {"ALLOC", 2},
	OpFree:        {"FREE", 1},
	OpInt:         {"INT", 1},
}

// Info returns the metadata for an opcode. Unknown opcodes get a
// placeholder name so disassembly of corrupt streams stays readable.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op)), OperandBytes: 0}
}

// String returns the opcode's mnemonic.
func (op Opcode) String() string {
	return op.Info().Name
}

// ---------------------------------------------------------------------------
// BytecodeBuilder: emit helper for tools and tests
// ---------------------------------------------------------------------------

// BytecodeBuilder accumulates an instruction stream.
type BytecodeBuilder struct {
	buf bytes.Buffer
}

// NewBytecodeBuilder creates an empty builder.
func NewBytecodeBuilder() *BytecodeBuilder {
	return &BytecodeBuilder{}
}

// Emit appends an opcode and raw operand bytes.
func (b *BytecodeBuilder) Emit(op Opcode, operands ...byte) {
	b.buf.WriteByte(byte(op))
	b.buf.Write(operands)
}

// EmitLoadImm appends a LOAD_IMM of v into reg, using the minimal
// immediate width.
func (b *BytecodeBuilder) EmitLoadImm(reg Register, v uint64) {
	width := MinimalWidth(v)
	imm, _ := EncodeLittleEndian(v, width)
	b.buf.WriteByte(byte(OpLoadImm))
	b.buf.WriteByte(byte(reg))
	b.buf.WriteByte(byte(width))
	b.buf.Write(imm)
}

// EmitJump appends a jump-family opcode with an 8-byte LE target.
func (b *BytecodeBuilder) EmitJump(op Opcode, target uint64) {
	addr, _ := EncodeLittleEndian(target, 8)
	b.buf.WriteByte(byte(op))
	b.buf.Write(addr)
}

// Len returns the number of bytes emitted so far; useful for computing
// jump targets.
func (b *BytecodeBuilder) Len() int {
	return b.buf.Len()
}

// Bytes returns the accumulated instruction stream.
func (b *BytecodeBuilder) Bytes() []byte {
	return b.buf.Bytes()
}

// ---------------------------------------------------------------------------
// ByteCode container and debug-sections trailer
// ---------------------------------------------------------------------------

// DebugSectionsMagic identifies a debug-sections trailer appended to a
// bytecode image.
var DebugSectionsMagic = [4]byte{'M', 'D', 'B', 'G'}

// Trailer errors.
var (
	ErrCorruptTrailer = errors.New("corrupt debug sections trailer")
)

// DebugSection describes one piece of auxiliary debug metadata carried
// in a bytecode image's trailer.
type DebugSection struct {
	Name   string `cbor:"name"`
	Offset uint64 `cbor:"offset"`
	Length uint64 `cbor:"length"`
}

// DebugSectionsTable is the trailer payload: the locations of auxiliary
// debug metadata.
type DebugSectionsTable struct {
	Sections []DebugSection `cbor:"sections"`
}

// ByteCode is a loaded bytecode image: the executable instruction
// stream, immutable once loaded, plus any debug sections its file
// carried.
type ByteCode struct {
	Code     []byte
	Sections *DebugSectionsTable // nil when the image has no trailer
}

// ParseDebugSections splits a raw image into executable code and an
// optional trailer. The trailer layout is DebugSectionsMagic, a 4-byte
// LE payload length, and a CBOR-encoded DebugSectionsTable filling the
// rest of the file. Instruction streams and string data may legitimately
// contain the magic bytes, so an occurrence is treated as the trailer
// only when its length field is consistent with the bytes remaining;
// occurrences are scanned from the end of the image, and an image with
// no consistent occurrence is plain code. A consistent occurrence whose
// payload fails to decode is ErrCorruptTrailer.
func ParseDebugSections(image []byte) ([]byte, *DebugSectionsTable, error) {
	searchEnd := len(image)
	for {
		at := bytes.LastIndex(image[:searchEnd], DebugSectionsMagic[:])
		if at < 0 {
			return image, nil, nil
		}
		rest := image[at+len(DebugSectionsMagic):]
		if len(rest) >= 4 {
			payload := rest[4:]
			if binary.LittleEndian.Uint32(rest[:4]) == uint32(len(payload)) {
				var table DebugSectionsTable
				if err := cbor.Unmarshal(payload, &table); err != nil {
					return nil, nil, fmt.Errorf("%w: %s", ErrCorruptTrailer, err)
				}
				return image[:at], &table, nil
			}
		}
		searchEnd = at
	}
}

// AppendDebugSections appends a trailer carrying the table to a code
// image, producing a file suitable for LoadByteCode.
func AppendDebugSections(code []byte, table *DebugSectionsTable) ([]byte, error) {
	payload, err := cborEncMode.Marshal(table)
	if err != nil {
		return nil, fmt.Errorf("vm: encoding debug sections: %w", err)
	}
	out := make([]byte, 0, len(code)+len(DebugSectionsMagic)+4+len(payload))
	out = append(out, code...)
	out = append(out, DebugSectionsMagic[:]...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(payload)))
	out = append(out, payload...)
	return out, nil
}

// LoadByteCode reads a bytecode image from disk and parses any debug
// sections trailer off its end.
func LoadByteCode(path string) (*ByteCode, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vm: cannot read bytecode %s: %w", path, err)
	}
	code, table, err := ParseDebugSections(raw)
	if err != nil {
		return nil, fmt.Errorf("vm: malformed bytecode %s: %w", path, err)
	}
	return &ByteCode{Code: code, Sections: table}, nil
}
