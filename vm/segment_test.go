package vm

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSegmentLayout(t *testing.T) {
	if SegmentRegistersSize != RegisterCount*RegisterWidth {
		t.Errorf("register block is %d bytes", SegmentRegistersSize)
	}
	if SegmentMemoryOffset != SegmentPauseOffset+1 {
		t.Error("memory mirror does not follow the pause flag")
	}
	if SegmentSize(100) != SegmentMemoryOffset+100 {
		t.Errorf("SegmentSize(100) = %d", SegmentSize(100))
	}
}

func TestSegmentPath(t *testing.T) {
	if got := SegmentPath("debug"); got != "/dev/shm/magma-debug" {
		t.Errorf("bare name resolved to %q", got)
	}
	if got := SegmentPath("/tmp/seg"); got != "/tmp/seg" {
		t.Errorf("absolute path resolved to %q", got)
	}
}

func createTestSegment(t *testing.T, memLen int) *DebugSegment {
	t.Helper()
	seg, err := CreateDebugSegment(filepath.Join(t.TempDir(), "seg"), memLen)
	if err != nil {
		t.Fatalf("CreateDebugSegment: %v", err)
	}
	t.Cleanup(func() { seg.Close() })
	return seg
}

func TestSegmentPublishRead(t *testing.T) {
	mem, err := NewMemory(0, 64, 256, StrategyBuddy)
	if err != nil {
		t.Fatal(err)
	}
	seg := createTestSegment(t, int(mem.Len()))

	regs := NewCPURegisters()
	regs.Set(RegR1, 0xDEADBEEF)
	regs.Set(RegProgramCounter, 42)
	mem.WriteByte(10, 0x5A)

	if seg.Counter() != 0 {
		t.Fatalf("fresh counter = %d", seg.Counter())
	}
	seg.Publish(regs, mem)

	if seg.Counter() != 1 {
		t.Errorf("counter after publish = %d, want 1", seg.Counter())
	}
	got := seg.ReadRegisters()
	if got[RegR1] != 0xDEADBEEF {
		t.Errorf("published R1 = %#x", got[RegR1])
	}
	if got[RegProgramCounter] != 42 {
		t.Errorf("published PC = %d", got[RegProgramCounter])
	}
	mirror := seg.ReadMemory()
	if len(mirror) != int(mem.Len()) {
		t.Fatalf("mirror length = %d, want %d", len(mirror), mem.Len())
	}
	if mirror[10] != 0x5A {
		t.Errorf("mirror[10] = %#x, want 0x5A", mirror[10])
	}
}

func TestSegmentFlags(t *testing.T) {
	seg := createTestSegment(t, 16)

	if seg.Running() || seg.TerminateRequested() || seg.PauseRequested() {
		t.Fatal("fresh segment has flags set")
	}
	seg.SetRunning(true)
	seg.SetTerminate()
	seg.SetPause(true)
	if !seg.Running() || !seg.TerminateRequested() || !seg.PauseRequested() {
		t.Error("set flags not observed")
	}
	seg.SetRunning(false)
	seg.SetPause(false)
	if seg.Running() || seg.PauseRequested() {
		t.Error("cleared flags still observed")
	}
}

// Segment state written through one mapping must be visible through an
// independent mapping of the same file.
func TestSegmentSharedAcrossMappings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg")
	owner, err := CreateDebugSegment(path, 32)
	if err != nil {
		t.Fatal(err)
	}
	defer owner.Close()

	peer, err := OpenDebugSegment(path)
	if err != nil {
		t.Fatal(err)
	}
	defer peer.Close()
	if peer.MemoryLen() != 32 {
		t.Fatalf("peer mirror length = %d, want 32", peer.MemoryLen())
	}

	owner.SetRunning(true)
	if !peer.Running() {
		t.Error("running flag not visible through the peer mapping")
	}
	peer.SetTerminate()
	if !owner.TerminateRequested() {
		t.Error("terminate flag not visible through the owner mapping")
	}
}

func TestOpenDebugSegmentTooSmall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg")
	if err := os.WriteFile(path, make([]byte, 4), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenDebugSegment(path); err == nil {
		t.Error("opening an undersized segment succeeded")
	}
}

func TestSegmentUnlink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg")
	seg, err := CreateDebugSegment(path, 8)
	if err != nil {
		t.Fatal(err)
	}
	if err := seg.Unlink(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("backing file still present after Unlink")
	}
	seg.Close()
}

// ---------------------------------------------------------------------------
// Machine integration: command flags at instruction boundaries
// ---------------------------------------------------------------------------

func TestMachineHonorsTerminate(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitJump(OpJump, 0) // spin forever

	memLen := len(b.Bytes()) + 64 + 256
	seg := createTestSegment(t, memLen)

	m, err := NewMachine(b.Bytes(), Options{StackSize: 64, HeapSize: 256, Debug: seg})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- m.Run() }()

	deadline := time.After(5 * time.Second)
	for !seg.Running() {
		select {
		case <-deadline:
			t.Fatal("machine never marked itself running")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	seg.SetTerminate()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-deadline:
		t.Fatal("machine did not stop after terminate")
	}
	if seg.Running() {
		t.Error("running flag still set after the machine stopped")
	}
	if !bytes.Equal(seg.ReadMemory(), m.Memory.Snapshot()) {
		t.Error("final mirror does not match machine memory")
	}
}

func TestMachineFinalPublishOnHalt(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitLoadImm(RegR1, 77)
	b.Emit(OpHalt)

	memLen := len(b.Bytes()) + 64 + 256
	seg := createTestSegment(t, memLen)

	m, err := NewMachine(b.Bytes(), Options{StackSize: 64, HeapSize: 256, Debug: seg})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Run(); err != nil {
		t.Fatal(err)
	}

	if seg.Running() {
		t.Error("running flag set after halt")
	}
	regs := seg.ReadRegisters()
	if regs[RegR1] != 77 {
		t.Errorf("published R1 = %d, want 77", regs[RegR1])
	}
}
