package vm

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Machine: the execution engine
// ---------------------------------------------------------------------------

// Default region sizes for machines built without explicit options.
const (
	DefaultStackSize = 4096
	DefaultHeapSize  = 65536
)

// Options configures a Machine. Zero fields take defaults: stdio
// streams, DefaultStackSize/DefaultHeapSize, and the buddy strategy.
type Options struct {
	StackSize uint64
	HeapSize  uint64
	Allocator string // StrategyBuddy or StrategyFixedBlock

	Stdin  io.Reader
	Stdout io.Writer
	Disk   *DiskStore

	// Debug, when set, makes the machine publish snapshots into the
	// segment after every step and honor its command flags at
	// instruction boundaries.
	Debug *DebugSegment
}

// Machine executes one bytecode image. It is a single-owner structure:
// registers, memory, and allocator are mutated only by the execution
// path, so none of them lock.
type Machine struct {
	Registers *CPURegisters
	Memory    *Memory

	host    *Host
	debug   *DebugSegment
	codeLen uint64
	log     commonlog.Logger
}

// NewMachine builds a machine around a loaded instruction stream. The
// code is copied to address 0; the stack pointer starts at the stack
// limit; ERROR starts at NoError.
func NewMachine(code []byte, opts Options) (*Machine, error) {
	if opts.StackSize == 0 {
		opts.StackSize = DefaultStackSize
	}
	if opts.HeapSize == 0 {
		opts.HeapSize = DefaultHeapSize
	}
	if opts.Allocator == "" {
		opts.Allocator = StrategyBuddy
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}

	mem, err := NewMemory(uint64(len(code)), opts.StackSize, opts.HeapSize, opts.Allocator)
	if err != nil {
		return nil, err
	}
	if code := mem.WriteRange(0, code); code != NoError {
		return nil, fmt.Errorf("vm: loading bytecode into memory: %s", code)
	}

	if opts.Debug != nil && opts.Debug.MemoryLen() != int(mem.Len()) {
		return nil, fmt.Errorf("vm: debug segment mirror is %d bytes, machine memory is %d",
			opts.Debug.MemoryLen(), mem.Len())
	}

	regs := NewCPURegisters()
	regs.Set(RegStackPointer, mem.StackLimit())

	return &Machine{
		Registers: regs,
		Memory:    mem,
		host:      NewHost(opts.Stdin, opts.Stdout, opts.Disk),
		debug:     opts.Debug,
		codeLen:   uint64(len(code)),
		log:       commonlog.GetLogger("magma.machine"),
	}, nil
}

// ExitCode returns the EXIT register, the exit status the running
// program chose.
func (m *Machine) ExitCode() int {
	return int(m.Registers.GetMasked(RegExit, 1))
}

// ---------------------------------------------------------------------------
// Instruction fetch and decode
// ---------------------------------------------------------------------------

// fetchOperands reads n operand bytes following the opcode at pc. The
// instruction stream running past the code region is a decode error, not
// a machine-level one: the image itself is malformed.
func (m *Machine) fetchOperands(pc uint64, n uint64) ([]byte, error) {
	if pc+1+n > m.codeLen {
		return nil, fmt.Errorf("vm: truncated instruction at 0x%X", pc)
	}
	operands, _ := m.Memory.ReadRange(pc+1, n)
	return operands, nil
}

// fetchRegister decodes a register operand with a checked conversion.
func fetchRegister(b byte, pc uint64) (Register, error) {
	r, ok := RegisterFromByte(b)
	if !ok {
		return 0, fmt.Errorf("vm: invalid register code 0x%02X at 0x%X", b, pc)
	}
	return r, nil
}

// ---------------------------------------------------------------------------
// Step: execute one instruction
// ---------------------------------------------------------------------------

// Step decodes and executes the instruction at the program counter.
// It returns false when the machine has halted. Machine-level failures
// (allocation errors, zero division, host I/O) are written to the ERROR
// register and execution continues; only a malformed instruction stream
// returns a Go error.
func (m *Machine) Step() (bool, error) {
	pc := m.Registers.ProgramCounter()
	if pc >= m.codeLen {
		return false, fmt.Errorf("vm: program counter 0x%X outside code region", pc)
	}
	opByte, _ := m.Memory.ReadByte(pc)
	op := Opcode(opByte)

	switch op {
	case OpHalt:
		return false, nil

	case OpNop:
		m.Registers.IncrementProgramCounter(1)

	case OpLoadImm:
		header, err := m.fetchOperands(pc, 2)
		if err != nil {
			return false, err
		}
		reg, err := fetchRegister(header[0], pc)
		if err != nil {
			return false, err
		}
		width := uint64(header[1])
		if width < 1 || width > RegisterWidth {
			return false, fmt.Errorf("vm: invalid immediate width %d at 0x%X", width, pc)
		}
		if pc+3+width > m.codeLen {
			return false, fmt.Errorf("vm: truncated instruction at 0x%X", pc)
		}
		imm, _ := m.Memory.ReadRange(pc+3, width)
		m.Registers.Set(reg, DecodeLittleEndian(imm))
		m.Registers.IncrementProgramCounter(3 + width)

	case OpMov:
		operands, err := m.fetchOperands(pc, 2)
		if err != nil {
			return false, err
		}
		dst, err := fetchRegister(operands[0], pc)
		if err != nil {
			return false, err
		}
		src, err := fetchRegister(operands[1], pc)
		if err != nil {
			return false, err
		}
		m.Registers.Set(dst, m.Registers.Get(src))
		m.Registers.IncrementProgramCounter(3)

	case OpAdd, OpSub, OpMul, OpDiv:
		if err := m.stepArithmetic(op, pc); err != nil {
			return false, err
		}

	case OpJump, OpJumpZero, OpJumpNotZero:
		operands, err := m.fetchOperands(pc, 8)
		if err != nil {
			return false, err
		}
		target := DecodeLittleEndian(operands)
		taken := true
		switch op {
		case OpJumpZero:
			taken = m.Registers.Get(RegZeroFlag) != 0
		case OpJumpNotZero:
			taken = m.Registers.Get(RegZeroFlag) == 0
		}
		if taken {
			m.Registers.Set(RegProgramCounter, target)
		} else {
			m.Registers.IncrementProgramCounter(9)
		}

	case OpPush:
		operands, err := m.fetchOperands(pc, 1)
		if err != nil {
			return false, err
		}
		reg, err := fetchRegister(operands[0], pc)
		if err != nil {
			return false, err
		}
		m.Registers.SetError(m.push(m.Registers.Get(reg)))
		m.Registers.IncrementProgramCounter(2)

	case OpPop:
		operands, err := m.fetchOperands(pc, 1)
		if err != nil {
			return false, err
		}
		reg, err := fetchRegister(operands[0], pc)
		if err != nil {
			return false, err
		}
		v, code := m.pop()
		m.Registers.SetError(code)
		if code == NoError {
			m.Registers.Set(reg, v)
		}
		m.Registers.IncrementProgramCounter(2)

	case OpLoad, OpStore:
		if err := m.stepMemoryAccess(op, pc); err != nil {
			return false, err
		}

	case OpAlloc:
		operands, err := m.fetchOperands(pc, 2)
		if err != nil {
			return false, err
		}
		dst, err := fetchRegister(operands[0], pc)
		if err != nil {
			return false, err
		}
		sizeReg, err := fetchRegister(operands[1], pc)
		if err != nil {
			return false, err
		}
		addr, code := m.Memory.Allocator().Allocate(m.Registers.Get(sizeReg))
		m.Registers.SetError(code)
		if code == NoError {
			m.Registers.Set(dst, addr)
		}
		m.Registers.IncrementProgramCounter(3)

	case OpFree:
		operands, err := m.fetchOperands(pc, 1)
		if err != nil {
			return false, err
		}
		addrReg, err := fetchRegister(operands[0], pc)
		if err != nil {
			return false, err
		}
		m.Registers.SetError(m.Memory.Allocator().Free(m.Registers.Get(addrReg)))
		m.Registers.IncrementProgramCounter(2)

	case OpInt:
		operands, err := m.fetchOperands(pc, 1)
		if err != nil {
			return false, err
		}
		reg, err := fetchRegister(operands[0], pc)
		if err != nil {
			return false, err
		}
		intr, ok := InterruptFromByte(byte(m.Registers.GetMasked(reg, 1)))
		if !ok {
			m.Registers.SetError(InvalidInput)
		} else {
			m.Registers.SetError(m.host.Dispatch(intr, m.Registers, m.Memory))
		}
		m.Registers.IncrementProgramCounter(2)

	default:
		return false, fmt.Errorf("vm: unknown opcode 0x%02X at 0x%X", opByte, pc)
	}

	return true, nil
}

// stepArithmetic executes the three-register arithmetic forms.
func (m *Machine) stepArithmetic(op Opcode, pc uint64) error {
	operands, err := m.fetchOperands(pc, 3)
	if err != nil {
		return err
	}
	dst, err := fetchRegister(operands[0], pc)
	if err != nil {
		return err
	}
	ra, err := fetchRegister(operands[1], pc)
	if err != nil {
		return err
	}
	rb, err := fetchRegister(operands[2], pc)
	if err != nil {
		return err
	}
	a, b := m.Registers.Get(ra), m.Registers.Get(rb)

	var result uint64
	switch op {
	case OpAdd:
		result = a + b
	case OpSub:
		result = a - b
	case OpMul:
		result = a * b
	case OpDiv:
		if b == 0 {
			m.Registers.SetError(ZeroDivision)
			m.Registers.IncrementProgramCounter(4)
			return nil
		}
		result = a / b
		m.Registers.Set(RegRemainder, a%b)
		m.Registers.SetError(NoError)
	}

	m.Registers.Set(dst, result)
	m.setArithmeticFlags(result)
	m.Registers.IncrementProgramCounter(4)
	return nil
}

// stepMemoryAccess executes LOAD and STORE.
func (m *Machine) stepMemoryAccess(op Opcode, pc uint64) error {
	operands, err := m.fetchOperands(pc, 3)
	if err != nil {
		return err
	}
	width := int(operands[2])
	if width < 1 || width > RegisterWidth {
		return fmt.Errorf("vm: invalid access width %d at 0x%X", width, pc)
	}

	if op == OpLoad {
		dst, err := fetchRegister(operands[0], pc)
		if err != nil {
			return err
		}
		addrReg, err := fetchRegister(operands[1], pc)
		if err != nil {
			return err
		}
		v, code := m.Memory.ReadWord(m.Registers.Get(addrReg), width)
		m.Registers.SetError(code)
		if code == NoError {
			m.Registers.Set(dst, v)
		}
	} else {
		addrReg, err := fetchRegister(operands[0], pc)
		if err != nil {
			return err
		}
		src, err := fetchRegister(operands[1], pc)
		if err != nil {
			return err
		}
		v := m.Registers.GetMasked(src, width)
		m.Registers.SetError(m.Memory.WriteWord(m.Registers.Get(addrReg), v, width))
	}

	m.Registers.IncrementProgramCounter(4)
	return nil
}

// setArithmeticFlags updates ZERO_FLAG and SIGN_FLAG from a result.
func (m *Machine) setArithmeticFlags(result uint64) {
	var zero, sign uint64
	if result == 0 {
		zero = 1
	}
	if int64(result) < 0 {
		sign = 1
	}
	m.Registers.Set(RegZeroFlag, zero)
	m.Registers.Set(RegSignFlag, sign)
}

// ---------------------------------------------------------------------------
// Stack helpers
// ---------------------------------------------------------------------------

// push writes a word below the stack pointer. The stack grows downward
// from StackLimit toward StackBase.
func (m *Machine) push(v uint64) ErrorCode {
	sp := m.Registers.StackTop()
	if sp < m.Memory.StackBase()+RegisterWidth {
		return StackOverflow
	}
	sp -= RegisterWidth
	if code := m.Memory.WriteWord(sp, v, RegisterWidth); code != NoError {
		return code
	}
	m.Registers.Set(RegStackPointer, sp)
	return NoError
}

// pop reads the word at the stack pointer.
func (m *Machine) pop() (uint64, ErrorCode) {
	sp := m.Registers.StackTop()
	if sp+RegisterWidth > m.Memory.StackLimit() {
		return 0, StackOverflow
	}
	v, code := m.Memory.ReadWord(sp, RegisterWidth)
	if code != NoError {
		return 0, code
	}
	m.Registers.Set(RegStackPointer, sp+RegisterWidth)
	return v, NoError
}

// ---------------------------------------------------------------------------
// Run: the execution loop
// ---------------------------------------------------------------------------

// Run executes until the program halts, the instruction stream proves
// malformed, or an attached debugger requests termination. Command flags
// are checked at instruction boundaries only; control is cooperative,
// never preemptive. When a debugger is attached the machine publishes a
// full snapshot after every step, so the debugger never observes a
// partial mirror newer than the counter it read.
func (m *Machine) Run() error {
	defer m.host.Flush()

	if m.debug != nil {
		m.debug.Publish(m.Registers, m.Memory)
		m.debug.SetRunning(true)
		defer func() {
			m.debug.Publish(m.Registers, m.Memory)
			m.debug.SetRunning(false)
		}()
	}

	for {
		if m.debug != nil {
			if m.debug.TerminateRequested() {
				m.log.Info("terminate requested by debugger")
				return nil
			}
			for m.debug.PauseRequested() {
				if m.debug.TerminateRequested() {
					m.log.Info("terminate requested by debugger while paused")
					return nil
				}
				time.Sleep(CommandPollInterval)
			}
		}

		running, err := m.Step()
		if err != nil {
			return err
		}
		if m.debug != nil {
			m.debug.Publish(m.Registers, m.Memory)
		}
		if !running {
			return nil
		}
	}
}
