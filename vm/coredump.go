package vm

import (
	"fmt"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Core dumps
// ---------------------------------------------------------------------------

// cborEncMode encodes with canonical options so a dump of the same state
// is byte-identical regardless of which process wrote it.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// CoreDump is a full snapshot of machine state: every register, the
// entire memory buffer, and the debug segment's update counter at
// capture time. Dumps are written by the debugger from its attached
// mirror, or by the VM itself on request.
type CoreDump struct {
	Registers  []uint64 `cbor:"registers"`
	Memory     []byte   `cbor:"memory"`
	Counter    uint8    `cbor:"counter"`
	CapturedAt int64    `cbor:"captured_at"` // unix nanoseconds
}

// NewCoreDump captures a dump from a register snapshot and memory
// mirror.
func NewCoreDump(regs [RegisterCount]uint64, memory []byte, counter uint8) *CoreDump {
	return &CoreDump{
		Registers:  regs[:],
		Memory:     memory,
		Counter:    counter,
		CapturedAt: time.Now().UnixNano(),
	}
}

// MarshalCoreDump serializes a CoreDump to canonical CBOR bytes.
func MarshalCoreDump(d *CoreDump) ([]byte, error) {
	return cborEncMode.Marshal(d)
}

// UnmarshalCoreDump deserializes a CoreDump from CBOR bytes.
func UnmarshalCoreDump(data []byte) (*CoreDump, error) {
	var d CoreDump
	if err := cbor.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("vm: unmarshal core dump: %w", err)
	}
	if len(d.Registers) != RegisterCount {
		return nil, fmt.Errorf("vm: core dump has %d registers, want %d", len(d.Registers), RegisterCount)
	}
	return &d, nil
}

// WriteCoreDumpFile writes a dump to the operator-chosen path.
func WriteCoreDumpFile(path string, d *CoreDump) error {
	data, err := MarshalCoreDump(d)
	if err != nil {
		return fmt.Errorf("vm: marshal core dump: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("vm: write core dump %s: %w", path, err)
	}
	return nil
}

// ReadCoreDumpFile reads a dump back from disk.
func ReadCoreDumpFile(path string) (*CoreDump, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vm: read core dump %s: %w", path, err)
	}
	return UnmarshalCoreDump(data)
}
