package vm

import "fmt"

// ---------------------------------------------------------------------------
// Register: the closed register set
// ---------------------------------------------------------------------------

// Register identifies one machine register. The numeric values are part
// of the bytecode encoding and must not be reordered.
type Register byte

const (
	RegR1 Register = iota // general purpose
	RegR2
	RegR3
	RegR4
	RegR5
	RegR6
	RegR7
	RegR8
	RegExit           // exit code reported to the host
	RegInput          // input interrupts write here
	RegError          // most recent ErrorCode
	RegPrint          // print interrupts read from here
	RegStackPointer   // top of the machine stack
	RegProgramCounter // next instruction address
	RegZeroFlag       // last arithmetic result was zero
	RegSignFlag       // last arithmetic result was negative
	RegRemainder      // remainder of the last division
)

// RegisterCount is the number of machine registers. The debug segment's
// register snapshot is RegisterCount words wide.
const RegisterCount = int(RegRemainder) + 1

// RegisterWidth is the width of one register in bytes.
const RegisterWidth = 8

var registerNames = [RegisterCount]string{
	RegR1:             "R1",
	RegR2:             "R2",
	RegR3:             "R3",
	RegR4:             "R4",
	RegR5:             "R5",
	RegR6:             "R6",
	RegR7:             "R7",
	RegR8:             "R8",
	RegExit:           "EXIT",
	RegInput:          "INPUT",
	RegError:          "ERROR",
	RegPrint:          "PRINT",
	RegStackPointer:   "STACK_POINTER",
	RegProgramCounter: "PROGRAM_COUNTER",
	RegZeroFlag:       "ZERO_FLAG",
	RegSignFlag:       "SIGN_FLAG",
	RegRemainder:      "REMAINDER",
}

// RegisterFromByte converts a raw bytecode operand into a Register.
// Out-of-range codes are a decode error, never an aliased register.
func RegisterFromByte(b byte) (Register, bool) {
	if int(b) >= RegisterCount {
		return 0, false
	}
	return Register(b), true
}

// String returns the register's assembly mnemonic.
func (r Register) String() string {
	if int(r) < RegisterCount {
		return registerNames[r]
	}
	return fmt.Sprintf("INVALID_%02X", byte(r))
}

// ---------------------------------------------------------------------------
// CPURegisters: the register file
// ---------------------------------------------------------------------------

// CPURegisters is the machine's register file: one fixed slot per
// Register for the lifetime of one Machine. All operations are O(1) and
// infallible given a valid Register; validity is enforced at decode time
// by RegisterFromByte, not here.
type CPURegisters struct {
	regs [RegisterCount]uint64
}

// NewCPURegisters returns a zeroed register file. The zero state is the
// machine-start state: ERROR holds NoError.
func NewCPURegisters() *CPURegisters {
	return &CPURegisters{}
}

// Get returns the full-width value of a register.
func (c *CPURegisters) Get(r Register) uint64 {
	return c.regs[r]
}

// GetMasked returns only the low nBytes of a register, with all higher
// bits cleared. Used when an instruction operand has a sub-word width.
// nBytes outside [1, RegisterWidth] is clamped to the full word.
func (c *CPURegisters) GetMasked(r Register, nBytes int) uint64 {
	v := c.regs[r]
	if nBytes < 1 || nBytes >= RegisterWidth {
		return v
	}
	return v & (1<<(8*uint(nBytes)) - 1)
}

// Set stores a full-width value into a register.
func (c *CPURegisters) Set(r Register, v uint64) {
	c.regs[r] = v
}

// SetError records an operation's outcome in the ERROR register.
func (c *CPURegisters) SetError(code ErrorCode) {
	c.regs[RegError] = uint64(code)
}

// LastError returns the ERROR register as an ErrorCode.
func (c *CPURegisters) LastError() ErrorCode {
	code, _ := ErrorCodeFromByte(byte(c.regs[RegError]))
	return code
}

// IncrementProgramCounter advances the program counter by offset bytes.
func (c *CPURegisters) IncrementProgramCounter(offset uint64) {
	c.regs[RegProgramCounter] += offset
}

// ProgramCounter returns the current program counter.
func (c *CPURegisters) ProgramCounter() uint64 {
	return c.regs[RegProgramCounter]
}

// StackTop returns the current stack pointer.
func (c *CPURegisters) StackTop() uint64 {
	return c.regs[RegStackPointer]
}

// Snapshot copies the full register file, in Register order. This is the
// layout published into the debug segment.
func (c *CPURegisters) Snapshot() [RegisterCount]uint64 {
	return c.regs
}

// Restore overwrites the full register file from a snapshot.
func (c *CPURegisters) Restore(snapshot [RegisterCount]uint64) {
	c.regs = snapshot
}
