package vm

import (
	"os"
	"sync"
	"testing"
)

// allocEnv wires a real pool, swap file and process registry around a
// frame allocator for testing
type allocEnv struct {
	alloc *FrameAllocator
	pool  *BitmapPool
	swap  *FileSwap
	procs *ProcessRegistry
}

const testPageSize = 512

func newAllocEnv(t *testing.T, frames uint32, pids ...Pid) (*allocEnv, func()) {
	t.Helper()

	swapFile := t.TempDir() + "/swapfile.bin"
	swap, err := NewFileSwap(swapFile, 16, testPageSize, CompressionNone)
	if err != nil {
		t.Fatalf("Failed to create swap file: %v", err)
	}

	procs := NewProcessRegistry()
	for _, pid := range pids {
		if _, err := procs.Register(pid); err != nil {
			t.Fatalf("Failed to register pid %d: %v", pid, err)
		}
	}

	pool := NewBitmapPool(frames, testPageSize)
	env := &allocEnv{
		alloc: NewFrameAllocator(pool, swap, procs),
		pool:  pool,
		swap:  swap,
		procs: procs,
	}

	cleanup := func() {
		swap.Close()
		os.Remove(swapFile)
	}
	return env, cleanup
}

// TestAllocateDirect tests allocation from a non-exhausted pool
func TestAllocateDirect(t *testing.T) {
	env, cleanup := newAllocEnv(t, 4, 1)
	defer cleanup()

	seen := make(map[FrameID]bool)
	for i := 0; i < 4; i++ {
		frame, err := env.alloc.Allocate(1, VirtPage(0x1000*uint64(i+1)))
		if err != nil {
			t.Fatalf("Allocate failed: %v", err)
		}
		if seen[frame] {
			t.Fatalf("Frame %d handed out twice", frame)
		}
		seen[frame] = true
	}

	if env.alloc.LiveFrames() != 4 {
		t.Errorf("Expected 4 live frames, got %d", env.alloc.LiveFrames())
	}
	if got := env.alloc.GetMetrics().GetDirectGrants(); got != 4 {
		t.Errorf("Expected 4 direct grants, got %d", got)
	}
}

// TestAllocateUnknownProcess tests the recoverable failure path
func TestAllocateUnknownProcess(t *testing.T) {
	env, cleanup := newAllocEnv(t, 2, 1)
	defer cleanup()

	_, err := env.alloc.Allocate(99, 0x1000)
	if err == nil {
		t.Fatal("Expected error for unregistered pid")
	}
	if !IsErrorCode(err, ErrCodeProcessNotFound) {
		t.Errorf("Expected ErrCodeProcessNotFound, got %v", err)
	}
	if env.pool.FreeFrames() != 2 {
		t.Errorf("Failed allocation must not leak frames: %d free", env.pool.FreeFrames())
	}
}

// TestEvictionRoundTrip walks the canonical scenario: a 2-frame pool, three
// pages, and verifies the first frame is evicted, its contents land in
// swap, and its physical frame is reused
func TestEvictionRoundTrip(t *testing.T) {
	env, cleanup := newAllocEnv(t, 2, 1)
	defer cleanup()
	proc, _ := env.procs.Lookup(1)

	const pageA, pageB, pageC = VirtPage(0xA000), VirtPage(0xB000), VirtPage(0xC000)

	f1, err := env.alloc.Allocate(1, pageA)
	if err != nil {
		t.Fatalf("Allocate A failed: %v", err)
	}
	f2, err := env.alloc.Allocate(1, pageB)
	if err != nil {
		t.Fatalf("Allocate B failed: %v", err)
	}
	proc.PageTable().Map(pageA, f1)
	proc.PageTable().Map(pageB, f2)

	// Put recognizable content in A's frame
	pattern := env.pool.FrameData(f1)
	for i := range pattern {
		pattern[i] = byte(i % 251)
	}

	// Pool exhausted; this must evict exactly one frame, and with both
	// candidates cold the victim is the first in eviction order
	f3, err := env.alloc.Allocate(1, pageC)
	if err != nil {
		t.Fatalf("Allocate C failed: %v", err)
	}

	if f3 != f1 {
		t.Errorf("Expected C to reuse evicted frame %d, got %d", f1, f3)
	}
	if got := env.alloc.GetMetrics().GetEvictions(); got != 1 {
		t.Errorf("Expected exactly 1 eviction, got %d", got)
	}

	// A must be unmapped and recorded as swapped out
	if _, resident := proc.PageTable().Translate(pageA); resident {
		t.Error("Victim page A still mapped after eviction")
	}
	loc, known := proc.Supt().Lookup(pageA)
	if !known || loc.State != PageSwapped {
		t.Fatalf("Expected page A recorded as swapped, got %+v known=%v", loc, known)
	}

	// A's table entry must be gone
	if _, exists := env.alloc.Entry(f1); !exists {
		// f1 was reused for C, so an entry exists but must belong to C
		t.Fatal("Expected frame entry for reused frame")
	}
	entry, _ := env.alloc.Entry(f1)
	if entry.Page() != pageC {
		t.Errorf("Reused frame should belong to page C, got %#x", uint64(entry.Page()))
	}

	// The evicted contents must be recoverable from swap
	restored := make([]byte, testPageSize)
	if err := env.swap.ReadIn(loc.Slot, restored); err != nil {
		t.Fatalf("ReadIn failed: %v", err)
	}
	for i := range restored {
		if restored[i] != byte(i%251) {
			t.Fatalf("Swap round trip corrupted byte %d: got %d", i, restored[i])
		}
	}
}

// TestEvictionSkipsPinned tests the pinned variant of the scenario: with
// the first frame pinned the second is evicted instead
func TestEvictionSkipsPinned(t *testing.T) {
	env, cleanup := newAllocEnv(t, 2, 1)
	defer cleanup()
	proc, _ := env.procs.Lookup(1)

	f1, _ := env.alloc.Allocate(1, 0xA000)
	f2, _ := env.alloc.Allocate(1, 0xB000)
	env.alloc.Pin(f1)

	f3, err := env.alloc.Allocate(1, 0xC000)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if f3 != f2 {
		t.Errorf("Expected pinned frame %d to survive, victim should be %d, got %d", f1, f2, f3)
	}

	loc, known := proc.Supt().Lookup(0xB000)
	if !known || loc.State != PageSwapped {
		t.Error("Expected page B recorded as swapped")
	}
}

// TestEvictionAllPinnedPanics tests that exhaustion with every frame
// pinned is fatal
func TestEvictionAllPinnedPanics(t *testing.T) {
	env, cleanup := newAllocEnv(t, 2, 1)
	defer cleanup()

	f1, _ := env.alloc.Allocate(1, 0xA000)
	f2, _ := env.alloc.Allocate(1, 0xB000)
	env.alloc.Pin(f1)
	env.alloc.Pin(f2)

	defer func() {
		if recover() == nil {
			t.Error("Expected panic when allocating with all frames pinned")
		}
	}()
	env.alloc.Allocate(1, 0xC000)
}

// TestFreeIdempotent tests that double free is a silent no-op
func TestFreeIdempotent(t *testing.T) {
	env, cleanup := newAllocEnv(t, 2, 1)
	defer cleanup()

	frame, _ := env.alloc.Allocate(1, 0xA000)

	env.alloc.Free(frame)
	if env.alloc.LiveFrames() != 0 {
		t.Errorf("Expected 0 live frames, got %d", env.alloc.LiveFrames())
	}
	if env.pool.FreeFrames() != 2 {
		t.Errorf("Expected frame returned to pool, %d free", env.pool.FreeFrames())
	}

	// Second free: concurrent eviction can legitimately race with an
	// explicit free, so this must not panic or double-release
	env.alloc.Free(frame)
	if env.pool.FreeFrames() != 2 {
		t.Errorf("Double free corrupted the pool: %d free", env.pool.FreeFrames())
	}
}

// TestFreeEntryOnly tests the unmap-only variant
func TestFreeEntryOnly(t *testing.T) {
	env, cleanup := newAllocEnv(t, 2, 1)
	defer cleanup()

	frame, _ := env.alloc.Allocate(1, 0xA000)
	env.alloc.FreeEntryOnly(frame)

	if env.alloc.LiveFrames() != 0 {
		t.Errorf("Expected entry removed, %d live", env.alloc.LiveFrames())
	}
	// The physical frame was repurposed elsewhere, it must stay reserved
	if env.pool.FreeFrames() != 1 {
		t.Errorf("FreeEntryOnly must not release the frame: %d free", env.pool.FreeFrames())
	}
}

// TestPinUntrackedPanics tests that pin/unpin on an untracked frame is a
// fatal bookkeeping error
func TestPinUntrackedPanics(t *testing.T) {
	env, cleanup := newAllocEnv(t, 2, 1)
	defer cleanup()

	defer func() {
		if recover() == nil {
			t.Error("Expected panic pinning an untracked frame")
		}
	}()
	env.alloc.Pin(7)
}

// TestFreeProcess tests teardown of all frames owned by one process
func TestFreeProcess(t *testing.T) {
	env, cleanup := newAllocEnv(t, 4, 1, 2)
	defer cleanup()

	env.alloc.Allocate(1, 0xA000)
	env.alloc.Allocate(1, 0xB000)
	keep, _ := env.alloc.Allocate(2, 0xA000)

	if freed := env.alloc.FreeProcess(1); freed != 2 {
		t.Errorf("Expected 2 frames freed, got %d", freed)
	}
	if env.alloc.LiveFrames() != 1 {
		t.Errorf("Expected 1 live frame, got %d", env.alloc.LiveFrames())
	}
	if _, exists := env.alloc.Entry(keep); !exists {
		t.Error("Other process's frame must survive teardown")
	}
}

// TestConcurrentAllocateFree hammers the allocator from several
// goroutines to exercise the global lock discipline
func TestConcurrentAllocateFree(t *testing.T) {
	env, cleanup := newAllocEnv(t, 8, 1, 2, 3, 4)
	defer cleanup()

	var wg sync.WaitGroup
	for pid := Pid(1); pid <= 4; pid++ {
		wg.Add(1)
		go func(pid Pid) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				page := VirtPage(uint64(pid)<<32 | uint64(i)*0x1000)
				frame, err := env.alloc.Allocate(pid, page)
				if err != nil {
					t.Errorf("Allocate failed: %v", err)
					return
				}
				env.alloc.Free(frame)
			}
		}(pid)
	}
	wg.Wait()

	if env.alloc.LiveFrames() != 0 {
		t.Errorf("Expected all frames freed, %d live", env.alloc.LiveFrames())
	}
	if env.pool.FreeFrames() != 8 {
		t.Errorf("Expected full pool after churn, %d free", env.pool.FreeFrames())
	}
}
