package vm

import (
	"os"
	"path/filepath"
	"testing"
)

// writePath stores a NUL-terminated path at the heap start and points R2
// at it.
func writePath(t *testing.T, regs *CPURegisters, mem *Memory, path string) {
	t.Helper()
	addr := mem.HeapStart()
	if code := mem.WriteRange(addr, append([]byte(path), 0)); code != NoError {
		t.Fatalf("writing path: %s", code)
	}
	regs.Set(RegR2, addr)
}

func TestPathExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "present")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	h, _ := newTestHost("")
	regs := NewCPURegisters()
	mem := newTestMemory(t)
	regs.Set(RegR1, HostFSPathExists)
	writePath(t, regs, mem, path)

	if code := h.Dispatch(IntHostFS, regs, mem); code != NoError {
		t.Fatalf("error %s", code)
	}
	if got := regs.Get(RegR2); got != 1 {
		t.Errorf("result = %d, want 1 for an existing path", got)
	}
}

func TestPathExistsMissing(t *testing.T) {
	h, _ := newTestHost("")
	regs := NewCPURegisters()
	mem := newTestMemory(t)
	regs.Set(RegR1, HostFSPathExists)
	writePath(t, regs, mem, filepath.Join(t.TempDir(), "absent"))

	if code := h.Dispatch(IntHostFS, regs, mem); code != NoError {
		t.Fatalf("error %s", code)
	}
	if got := regs.Get(RegR2); got != 0 {
		t.Errorf("result = %d, want 0 for a missing path", got)
	}
}

func TestPathExistsInvalidUTF8(t *testing.T) {
	h, _ := newTestHost("")
	regs := NewCPURegisters()
	mem := newTestMemory(t)

	addr := mem.HeapStart()
	mem.WriteRange(addr, []byte{0xFF, 0xFE, 0x00})
	regs.Set(RegR1, HostFSPathExists)
	regs.Set(RegR2, addr)

	if code := h.Dispatch(IntHostFS, regs, mem); code != InvalidInput {
		t.Errorf("error %s, want INVALID_INPUT", code)
	}
}

func TestPathExistsUnterminated(t *testing.T) {
	h, _ := newTestHost("")
	regs := NewCPURegisters()
	mem := newTestMemory(t)

	// Point R2 at memory with no NUL before the end of the region.
	regs.Set(RegR1, HostFSPathExists)
	regs.Set(RegR2, mem.Len()-4)
	for addr := mem.Len() - 4; addr < mem.Len(); addr++ {
		mem.WriteByte(addr, 'a')
	}

	if code := h.Dispatch(IntHostFS, regs, mem); code != InvalidInput {
		t.Errorf("error %s, want INVALID_INPUT", code)
	}
}

func TestHostFSUnknownSubCode(t *testing.T) {
	h, _ := newTestHost("")
	regs := NewCPURegisters()
	mem := newTestMemory(t)
	regs.Set(RegR1, 999)

	if code := h.Dispatch(IntHostFS, regs, mem); code != InvalidInput {
		t.Errorf("error %s, want INVALID_INPUT", code)
	}
}
