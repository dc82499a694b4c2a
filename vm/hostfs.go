package vm

import (
	"os"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Host filesystem bridge
// ---------------------------------------------------------------------------

// HostFS sub-codes, read from R1.
const (
	HostFSPathExists = iota
)

// handleHostFS translates an in-memory path string into a host
// filesystem query. R1 selects the sub-operation; R2 holds the address
// of a NUL-terminated path in machine memory. The boolean result is
// written back into R2.
func handleHostFS(h *Host, regs *CPURegisters, mem *Memory) ErrorCode {
	switch regs.Get(RegR1) {
	case HostFSPathExists:
		return handlePathExists(regs, mem)
	default:
		return InvalidInput
	}
}

func handlePathExists(regs *CPURegisters, mem *Memory) ErrorCode {
	raw, code := mem.ReadCString(regs.Get(RegR2))
	if code != NoError {
		return code
	}
	if !utf8.Valid(raw) {
		return InvalidInput
	}

	var result uint64
	if _, err := os.Stat(string(raw)); err == nil {
		result = 1
	}
	regs.Set(RegR2, result)
	return NoError
}
