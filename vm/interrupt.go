package vm

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Interrupt: the closed interrupt code set
// ---------------------------------------------------------------------------

// Interrupt identifies one host-provided behavior. The numeric values
// are the contract with running bytecode and must not be reordered.
type Interrupt byte

const (
	IntPrintSigned Interrupt = iota
	IntPrintUnsigned
	IntPrintFloat
	IntPrintChar
	IntPrintString
	IntPrintByte
	IntInputSigned
	IntInputUnsigned
	IntInputByte
	IntInputString
	IntRandom
	IntHostTime
	IntElapsedTime
	IntDiskRead
	IntDiskWrite
	IntTerminalControl
	IntTimerSet
	IntFlushStdout
	IntHostFS
)

// InterruptCount is the number of interrupt codes; the handler table is
// exactly this long.
const InterruptCount = int(IntHostFS) + 1

var interruptNames = [InterruptCount]string{
	IntPrintSigned:     "PRINT_SIGNED",
	IntPrintUnsigned:   "PRINT_UNSIGNED",
	IntPrintFloat:      "PRINT_FLOAT",
	IntPrintChar:       "PRINT_CHAR",
	IntPrintString:     "PRINT_STRING",
	IntPrintByte:       "PRINT_BYTE",
	IntInputSigned:     "INPUT_SIGNED",
	IntInputUnsigned:   "INPUT_UNSIGNED",
	IntInputByte:       "INPUT_BYTE",
	IntInputString:     "INPUT_STRING",
	IntRandom:          "RANDOM",
	IntHostTime:        "HOST_TIME",
	IntElapsedTime:     "ELAPSED_TIME",
	IntDiskRead:        "DISK_READ",
	IntDiskWrite:       "DISK_WRITE",
	IntTerminalControl: "TERMINAL_CONTROL",
	IntTimerSet:        "TIMER_SET",
	IntFlushStdout:     "FLUSH_STDOUT",
	IntHostFS:          "HOST_FS",
}

// InterruptFromByte converts a raw byte into an Interrupt. Out-of-range
// bytes fail explicitly rather than indexing past the handler table.
func InterruptFromByte(b byte) (Interrupt, bool) {
	if int(b) >= InterruptCount {
		return 0, false
	}
	return Interrupt(b), true
}

// String returns the interrupt's mnemonic.
func (i Interrupt) String() string {
	if int(i) < InterruptCount {
		return interruptNames[i]
	}
	return fmt.Sprintf("UNKNOWN_%02X", byte(i))
}

// ---------------------------------------------------------------------------
// Host: the machine's window onto the hosting process
// ---------------------------------------------------------------------------

// Host carries the process-level resources interrupt handlers need:
// console streams, a clock, and the optional disk store. Streams are
// injected at construction so tests can run machines against buffers.
type Host struct {
	in  *bufio.Reader
	out *bufio.Writer

	disk *DiskStore

	start time.Time
	timer time.Time // zero when no timer armed

	log commonlog.Logger
}

// NewHost wraps the given streams and disk store. disk may be nil, in
// which case the disk interrupts report GenericError.
func NewHost(in io.Reader, out io.Writer, disk *DiskStore) *Host {
	return &Host{
		in:    bufio.NewReader(in),
		out:   bufio.NewWriter(out),
		disk:  disk,
		start: time.Now(),
		log:   commonlog.GetLogger("magma.host"),
	}
}

// Flush drains the buffered output stream. The Machine calls this when
// execution ends; bytecode can request it through IntFlushStdout.
func (h *Host) Flush() {
	h.out.Flush()
}

// Dispatch routes an interrupt code to its handler. Dispatch is an O(1)
// indexed lookup; the code has already been validated by
// InterruptFromByte.
func (h *Host) Dispatch(code Interrupt, regs *CPURegisters, mem *Memory) ErrorCode {
	return interruptHandlers[code](h, regs, mem)
}

// InterruptHandler is one entry of the dispatch table.
type InterruptHandler func(h *Host, regs *CPURegisters, mem *Memory) ErrorCode

// interruptHandlers is the fixed dispatch table, indexed by Interrupt.
var interruptHandlers = [InterruptCount]InterruptHandler{
	IntPrintSigned:     handlePrintSigned,
	IntPrintUnsigned:   handlePrintUnsigned,
	IntPrintFloat:      handlePrintFloat,
	IntPrintChar:       handlePrintChar,
	IntPrintString:     handlePrintString,
	IntPrintByte:       handlePrintByte,
	IntInputSigned:     handleInputSigned,
	IntInputUnsigned:   handleInputUnsigned,
	IntInputByte:       handleInputByte,
	IntInputString:     handleInputString,
	IntRandom:          handleRandom,
	IntHostTime:        handleHostTime,
	IntElapsedTime:     handleElapsedTime,
	IntDiskRead:        handleDiskRead,
	IntDiskWrite:       handleDiskWrite,
	IntTerminalControl: handleTerminalControl,
	IntTimerSet:        handleTimerSet,
	IntFlushStdout:     handleFlushStdout,
	IntHostFS:          handleHostFS,
}

// ---------------------------------------------------------------------------
// Console output handlers
// ---------------------------------------------------------------------------

func handlePrintSigned(h *Host, regs *CPURegisters, mem *Memory) ErrorCode {
	fmt.Fprintf(h.out, "%d", int64(regs.Get(RegPrint)))
	return NoError
}

func handlePrintUnsigned(h *Host, regs *CPURegisters, mem *Memory) ErrorCode {
	fmt.Fprintf(h.out, "%d", regs.Get(RegPrint))
	return NoError
}

func handlePrintFloat(h *Host, regs *CPURegisters, mem *Memory) ErrorCode {
	fmt.Fprintf(h.out, "%g", math.Float64frombits(regs.Get(RegPrint)))
	return NoError
}

func handlePrintChar(h *Host, regs *CPURegisters, mem *Memory) ErrorCode {
	h.out.WriteRune(rune(regs.GetMasked(RegPrint, 4)))
	return NoError
}

// handlePrintString prints the NUL-terminated string at the address in
// PRINT.
func handlePrintString(h *Host, regs *CPURegisters, mem *Memory) ErrorCode {
	s, code := mem.ReadCString(regs.Get(RegPrint))
	if code != NoError {
		return code
	}
	h.out.Write(s)
	return NoError
}

func handlePrintByte(h *Host, regs *CPURegisters, mem *Memory) ErrorCode {
	h.out.WriteByte(byte(regs.GetMasked(RegPrint, 1)))
	return NoError
}

// ---------------------------------------------------------------------------
// Console input handlers
// ---------------------------------------------------------------------------

// readLine reads one newline-terminated line from the host input.
func (h *Host) readLine() (string, ErrorCode) {
	line, err := h.in.ReadString('\n')
	if err == io.EOF && line == "" {
		return "", EndOfFile
	}
	if err != nil && err != io.EOF {
		return "", GenericError
	}
	return strings.TrimRight(line, "\r\n"), NoError
}

func handleInputSigned(h *Host, regs *CPURegisters, mem *Memory) ErrorCode {
	line, code := h.readLine()
	if code != NoError {
		return code
	}
	n, err := strconv.ParseInt(strings.TrimSpace(line), 10, 64)
	if err != nil {
		return InvalidInput
	}
	regs.Set(RegInput, uint64(n))
	return NoError
}

func handleInputUnsigned(h *Host, regs *CPURegisters, mem *Memory) ErrorCode {
	line, code := h.readLine()
	if code != NoError {
		return code
	}
	n, err := strconv.ParseUint(strings.TrimSpace(line), 10, 64)
	if err != nil {
		return InvalidInput
	}
	regs.Set(RegInput, n)
	return NoError
}

func handleInputByte(h *Host, regs *CPURegisters, mem *Memory) ErrorCode {
	b, err := h.in.ReadByte()
	if err != nil {
		return EndOfFile
	}
	regs.Set(RegInput, uint64(b))
	return NoError
}

// handleInputString reads a line into memory at the address in INPUT,
// NUL-terminated.
func handleInputString(h *Host, regs *CPURegisters, mem *Memory) ErrorCode {
	line, code := h.readLine()
	if code != NoError {
		return code
	}
	addr := regs.Get(RegInput)
	buf := append([]byte(line), 0)
	return mem.WriteRange(addr, buf)
}

// ---------------------------------------------------------------------------
// Randomness and timing handlers
// ---------------------------------------------------------------------------

func handleRandom(h *Host, regs *CPURegisters, mem *Memory) ErrorCode {
	regs.Set(RegInput, rand.Uint64())
	return NoError
}

func handleHostTime(h *Host, regs *CPURegisters, mem *Memory) ErrorCode {
	regs.Set(RegInput, uint64(time.Now().UnixNano()))
	return NoError
}

func handleElapsedTime(h *Host, regs *CPURegisters, mem *Memory) ErrorCode {
	regs.Set(RegInput, uint64(time.Since(h.start)))
	return NoError
}

// handleTimerSet arms a one-shot timer for INPUT nanoseconds from now.
// With INPUT zero it instead queries the armed timer, writing 1 into
// INPUT if the deadline has passed and 0 otherwise.
func handleTimerSet(h *Host, regs *CPURegisters, mem *Memory) ErrorCode {
	ns := regs.Get(RegInput)
	if ns == 0 {
		if !h.timer.IsZero() && time.Now().After(h.timer) {
			regs.Set(RegInput, 1)
		} else {
			regs.Set(RegInput, 0)
		}
		return NoError
	}
	h.timer = time.Now().Add(time.Duration(ns))
	return NoError
}

// ---------------------------------------------------------------------------
// Disk handlers
// ---------------------------------------------------------------------------

// handleDiskRead copies the sector numbered in R1 into memory at the
// address in R2.
func handleDiskRead(h *Host, regs *CPURegisters, mem *Memory) ErrorCode {
	if h.disk == nil {
		h.log.Error("disk read with no disk store attached")
		return GenericError
	}
	data, err := h.disk.ReadSector(regs.Get(RegR1))
	if err != nil {
		h.log.Errorf("disk read: %s", err.Error())
		return GenericError
	}
	return mem.WriteRange(regs.Get(RegR2), data)
}

// handleDiskWrite stores one sector of memory at the address in R2 into
// the sector numbered in R1.
func handleDiskWrite(h *Host, regs *CPURegisters, mem *Memory) ErrorCode {
	if h.disk == nil {
		h.log.Error("disk write with no disk store attached")
		return GenericError
	}
	data, code := mem.ReadRange(regs.Get(RegR2), SectorSize)
	if code != NoError {
		return code
	}
	if err := h.disk.WriteSector(regs.Get(RegR1), data); err != nil {
		h.log.Errorf("disk write: %s", err.Error())
		return GenericError
	}
	return NoError
}

// ---------------------------------------------------------------------------
// Terminal control
// ---------------------------------------------------------------------------

// Terminal control sub-codes, read from the PRINT register.
const (
	TermClearScreen = iota
	TermCursorHome
	TermHideCursor
	TermShowCursor
)

var terminalSequences = [...]string{
	TermClearScreen: "\x1b[2J",
	TermCursorHome:  "\x1b[H",
	TermHideCursor:  "\x1b[?25l",
	TermShowCursor:  "\x1b[?25h",
}

func handleTerminalControl(h *Host, regs *CPURegisters, mem *Memory) ErrorCode {
	sub := regs.Get(RegPrint)
	if sub >= uint64(len(terminalSequences)) {
		return InvalidInput
	}
	h.out.WriteString(terminalSequences[sub])
	return NoError
}

func handleFlushStdout(h *Host, regs *CPURegisters, mem *Memory) ErrorCode {
	if h.out.Flush() != nil {
		return GenericError
	}
	return NoError
}
