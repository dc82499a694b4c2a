package vm

import "testing"

// ---------------------------------------------------------------------------
// Construction tests
// ---------------------------------------------------------------------------

func TestNewBuddyAllocatorValidation(t *testing.T) {
	if _, err := NewBuddyAllocator(0, 1024); err != nil {
		t.Fatalf("valid heap rejected: %v", err)
	}
	for _, size := range []uint64{0, 32, 100, 1000, 1025} {
		if _, err := NewBuddyAllocator(0, size); err == nil {
			t.Errorf("heap size %d accepted, want configuration error", size)
		}
	}
}

// ---------------------------------------------------------------------------
// Allocation tests
// ---------------------------------------------------------------------------

// The 1024-byte scenario: allocate(100) rounds up to a 128-byte block at
// offset 0; a second allocate(100) gets the buddy at offset 128.
func TestBuddyAllocateSplits(t *testing.T) {
	const heapStart = 0x2000
	b, err := NewBuddyAllocator(heapStart, 1024)
	if err != nil {
		t.Fatal(err)
	}

	addr1, code := b.Allocate(100)
	if code != NoError {
		t.Fatalf("first allocate: %s", code)
	}
	if addr1 != heapStart {
		t.Errorf("first allocation at %#x, want heap start %#x", addr1, heapStart)
	}

	addr2, code := b.Allocate(100)
	if code != NoError {
		t.Fatalf("second allocate: %s", code)
	}
	if addr2 != heapStart+128 {
		t.Errorf("second allocation at %#x, want %#x", addr2, heapStart+128)
	}
}

func TestBuddyAlignment(t *testing.T) {
	b, _ := NewBuddyAllocator(0, 4096)
	for _, size := range []uint64{1, 63, 64, 65, 100, 200, 500, 1000} {
		addr, code := b.Allocate(size)
		if code != NoError {
			t.Fatalf("allocate(%d): %s", size, code)
		}
		block := roundBlockSize(size)
		if addr%block != 0 {
			t.Errorf("allocate(%d) = %#x, not aligned to block size %d", size, addr, block)
		}
		if addr >= b.HeapEnd() {
			t.Errorf("allocate(%d) = %#x outside heap", size, addr)
		}
	}
}

func TestBuddyExhaustion(t *testing.T) {
	b, _ := NewBuddyAllocator(0, 256)
	if _, code := b.Allocate(256); code != NoError {
		t.Fatalf("full-heap allocate failed: %s", code)
	}
	if _, code := b.Allocate(1); code != HeapOverflow {
		t.Errorf("allocate on full heap = %s, want HEAP_OVERFLOW", code)
	}
	b2, _ := NewBuddyAllocator(0, 256)
	if _, code := b2.Allocate(512); code != HeapOverflow {
		t.Errorf("allocate larger than heap = %s, want HEAP_OVERFLOW", code)
	}
}

// ---------------------------------------------------------------------------
// Free and coalescing tests
// ---------------------------------------------------------------------------

func TestBuddyFreeErrors(t *testing.T) {
	const heapStart = 0x1000
	b, _ := NewBuddyAllocator(heapStart, 1024)
	addr, _ := b.Allocate(128)

	tests := []struct {
		name string
		addr uint64
		want ErrorCode
	}{
		{"below heap", heapStart - 64, OutOfBounds},
		{"past heap", heapStart + 1024, OutOfBounds},
		{"misaligned", addr + 1, UnalignedAddress},
		{"interior of block", heapStart + 64, UnalignedAddress},
	}
	for _, tt := range tests {
		if code := b.Free(tt.addr); code != tt.want {
			t.Errorf("%s: Free(%#x) = %s, want %s", tt.name, tt.addr, code, tt.want)
		}
	}

	if code := b.Free(addr); code != NoError {
		t.Fatalf("valid free: %s", code)
	}
	if code := b.Free(addr); code != DoubleFree {
		t.Errorf("second free = %s, want DOUBLE_FREE", code)
	}
}

// Freeing both halves of a split block recreates a single free parent;
// after coalescing, a full-size allocation succeeds again.
func TestBuddyCoalescing(t *testing.T) {
	b, _ := NewBuddyAllocator(0, 256)
	a1, _ := b.Allocate(128)
	a2, _ := b.Allocate(128)

	if code := b.Free(a1); code != NoError {
		t.Fatalf("free a1: %s", code)
	}
	if code := b.Free(a2); code != NoError {
		t.Fatalf("free a2: %s", code)
	}

	addr, code := b.Allocate(256)
	if code != NoError {
		t.Fatalf("allocate(256) after coalescing = %s, want success", code)
	}
	if addr != 0 {
		t.Errorf("coalesced allocation at %#x, want 0", addr)
	}
}

func TestBuddyDeepCoalescing(t *testing.T) {
	b, _ := NewBuddyAllocator(0, 1024)

	// Fragment the heap down to minimum blocks.
	var addrs []uint64
	for i := 0; i < 16; i++ {
		addr, code := b.Allocate(64)
		if code != NoError {
			t.Fatalf("allocate %d: %s", i, code)
		}
		addrs = append(addrs, addr)
	}
	// Free everything; coalescing must rebuild the full extent.
	for _, addr := range addrs {
		if code := b.Free(addr); code != NoError {
			t.Fatalf("free %#x: %s", addr, code)
		}
	}
	if _, code := b.Allocate(1024); code != NoError {
		t.Errorf("full-extent allocate after deep coalescing = %s", code)
	}
}

// Allocate then free must leave the allocator indistinguishable from its
// prior state, observed through subsequent allocation behavior.
func TestBuddyRoundTrip(t *testing.T) {
	b, _ := NewBuddyAllocator(0, 1024)
	before, code := b.Allocate(300)
	if code != NoError {
		t.Fatal(code)
	}
	if code := b.Free(before); code != NoError {
		t.Fatal(code)
	}

	after, code := b.Allocate(300)
	if code != NoError {
		t.Fatal(code)
	}
	if after != before {
		t.Errorf("allocation after round trip at %#x, want %#x", after, before)
	}
}
