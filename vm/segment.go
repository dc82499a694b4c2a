package vm

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// ---------------------------------------------------------------------------
// Debug segment layout
// ---------------------------------------------------------------------------
//
// The shared segment is a fixed sequence of non-overlapping byte ranges
// at offsets computed additively from the sizes below. The VM and the
// debugger are built separately; both sides derive every offset from
// these constants, so the two builds agree byte for byte.
//
//	[registers][running][terminate][counter][pause][memory mirror]

const (
	SegmentRegistersOffset = 0
	SegmentRegistersSize   = RegisterCount * RegisterWidth

	SegmentRunningOffset   = SegmentRegistersOffset + SegmentRegistersSize
	SegmentTerminateOffset = SegmentRunningOffset + 1
	SegmentCounterOffset   = SegmentTerminateOffset + 1
	SegmentPauseOffset     = SegmentCounterOffset + 1

	SegmentMemoryOffset = SegmentPauseOffset + 1
)

// Poll intervals. These are fixed constants: a slower interval trades
// responsiveness for lower CPU overhead, and the worst-case command
// latency equals the relevant interval.
const (
	AttachPollInterval  = 50 * time.Millisecond
	CommandPollInterval = 10 * time.Millisecond
	UpdatePollInterval  = 10 * time.Millisecond
)

// SegmentSize returns the total segment size for a machine with memLen
// bytes of memory.
func SegmentSize(memLen int) int {
	return SegmentMemoryOffset + memLen
}

// ---------------------------------------------------------------------------
// DebugSegment: a mapped shared-memory region
// ---------------------------------------------------------------------------

// DebugSegment is the shared-memory region synchronizing a running VM
// with an attached debugger. The VM creates it and publishes snapshots;
// the debugger opens it and leaves command flags. Neither side ever
// blocks on the other: all access is plain loads and stores, observed by
// the peer at its next poll.
type DebugSegment struct {
	file *os.File
	data []byte
}

// SegmentPath resolves a segment name to its backing file. Bare names
// live under /dev/shm so the mapping is memory-backed; absolute paths
// are used as given (tests map ordinary temp files).
func SegmentPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join("/dev/shm", "magma-"+name)
}

// CreateDebugSegment creates (or truncates) and maps the segment for a
// machine with memLen bytes of memory. The VM side calls this before
// execution starts; the running flag is initially clear.
func CreateDebugSegment(name string, memLen int) (*DebugSegment, error) {
	path := SegmentPath(name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("vm: creating debug segment %s: %w", path, err)
	}
	size := SegmentSize(memLen)
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("vm: sizing debug segment %s: %w", path, err)
	}
	return mapSegment(f, size)
}

// OpenDebugSegment maps an existing segment. The debugger side calls
// this; the memory mirror length is inferred from the file size.
func OpenDebugSegment(name string) (*DebugSegment, error) {
	path := SegmentPath(name)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("vm: opening debug segment %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("vm: stat debug segment %s: %w", path, err)
	}
	if info.Size() < int64(SegmentMemoryOffset) {
		f.Close()
		return nil, fmt.Errorf("vm: debug segment %s too small (%d bytes)", path, info.Size())
	}
	return mapSegment(f, int(info.Size()))
}

func mapSegment(f *os.File, size int) (*DebugSegment, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("vm: mapping debug segment: %w", err)
	}
	return &DebugSegment{file: f, data: data}, nil
}

// Close unmaps the segment and closes its backing file. It does not
// remove the file; Unlink does that on the owning side.
func (s *DebugSegment) Close() error {
	if s.data != nil {
		if err := unix.Munmap(s.data); err != nil {
			return fmt.Errorf("vm: unmapping debug segment: %w", err)
		}
		s.data = nil
	}
	return s.file.Close()
}

// Unlink removes the segment's backing file. The VM calls this after a
// clean shutdown.
func (s *DebugSegment) Unlink() error {
	return os.Remove(s.file.Name())
}

// MemoryLen returns the size of the memory mirror.
func (s *DebugSegment) MemoryLen() int {
	return len(s.data) - SegmentMemoryOffset
}

// ---------------------------------------------------------------------------
// Snapshot publishing (VM side)
// ---------------------------------------------------------------------------

// Publish writes the register snapshot and memory mirror, then bumps the
// update counter. The counter is bumped last: a debugger that sees a
// changed counter is guaranteed the rest of the publish is complete.
func (s *DebugSegment) Publish(regs *CPURegisters, mem *Memory) {
	snapshot := regs.Snapshot()
	for i, v := range snapshot {
		binary.LittleEndian.PutUint64(s.data[SegmentRegistersOffset+i*RegisterWidth:], v)
	}
	mem.CopyTo(s.data[SegmentMemoryOffset:])
	s.data[SegmentCounterOffset]++
}

// SetRunning publishes the VM's running state.
func (s *DebugSegment) SetRunning(running bool) {
	if running {
		s.data[SegmentRunningOffset] = 1
	} else {
		s.data[SegmentRunningOffset] = 0
	}
}

// ---------------------------------------------------------------------------
// Observation and commands (debugger side)
// ---------------------------------------------------------------------------

// ReadRegisters returns the most recently published register snapshot.
func (s *DebugSegment) ReadRegisters() [RegisterCount]uint64 {
	var out [RegisterCount]uint64
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(s.data[SegmentRegistersOffset+i*RegisterWidth:])
	}
	return out
}

// ReadMemory copies the most recently published memory mirror.
func (s *DebugSegment) ReadMemory() []byte {
	out := make([]byte, s.MemoryLen())
	copy(out, s.data[SegmentMemoryOffset:])
	return out
}

// Counter returns the update counter. It wraps at 255; staleness checks
// compare for inequality, not ordering.
func (s *DebugSegment) Counter() byte {
	return s.data[SegmentCounterOffset]
}

// Running reports whether the VM has marked itself running.
func (s *DebugSegment) Running() bool {
	return s.data[SegmentRunningOffset] != 0
}

// SetTerminate leaves a terminate command for the VM to notice at its
// next instruction boundary.
func (s *DebugSegment) SetTerminate() {
	s.data[SegmentTerminateOffset] = 1
}

// TerminateRequested reports whether a terminate command is pending.
func (s *DebugSegment) TerminateRequested() bool {
	return s.data[SegmentTerminateOffset] != 0
}

// SetPause leaves or clears a pause command.
func (s *DebugSegment) SetPause(paused bool) {
	if paused {
		s.data[SegmentPauseOffset] = 1
	} else {
		s.data[SegmentPauseOffset] = 0
	}
}

// PauseRequested reports whether a pause command is pending.
func (s *DebugSegment) PauseRequested() bool {
	return s.data[SegmentPauseOffset] != 0
}
