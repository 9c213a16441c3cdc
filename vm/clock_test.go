package vm

import (
	"testing"
)

// scanEnv builds a frame table, scanner and per-pid page tables for
// scanner tests
type scanEnv struct {
	table  *FrameTable
	scan   *ClockScanner
	tables map[Pid]*SoftPageTable
}

func newScanEnv() *scanEnv {
	return &scanEnv{
		table:  NewFrameTable(),
		scan:   NewClockScanner(),
		tables: make(map[Pid]*SoftPageTable),
	}
}

func (e *scanEnv) pageTableOf(pid Pid) PageTable {
	return e.tables[pid]
}

// addFrame registers a frame for pid with its page mapped and returns
// the entry
func (e *scanEnv) addFrame(frame FrameID, pid Pid, page VirtPage) *FrameTableEntry {
	pt, ok := e.tables[pid]
	if !ok {
		pt = NewSoftPageTable()
		e.tables[pid] = pt
	}
	pt.Map(page, frame)

	entry := &FrameTableEntry{frame: frame, page: page, pid: pid}
	e.table.Insert(entry)
	e.scan.Add(frame)
	return entry
}

// evict removes a picked victim from both structures, as the allocator
// does
func (e *scanEnv) evict(entry *FrameTableEntry) {
	e.table.Remove(entry.frame)
	e.scan.Remove(entry.frame)
}

// TestClockInsertionOrder tests that cold unpinned frames are evicted in
// insertion order with the cursor persisting across calls
func TestClockInsertionOrder(t *testing.T) {
	env := newScanEnv()
	for i := FrameID(0); i < 3; i++ {
		env.addFrame(i, 1, VirtPage(0x1000*uint64(i+1)))
	}

	for want := FrameID(0); want < 3; want++ {
		victim := env.scan.PickVictim(env.table, env.pageTableOf)
		if victim.frame != want {
			t.Fatalf("Expected victim %d, got %d", want, victim.frame)
		}
		env.evict(victim)
	}
}

// TestClockSecondChance tests that accessed frames get their bit cleared
// and are passed over once before becoming victims
func TestClockSecondChance(t *testing.T) {
	env := newScanEnv()
	const n = 4
	pages := make([]VirtPage, n)
	for i := 0; i < n; i++ {
		pages[i] = VirtPage(0x1000 * uint64(i+1))
		env.addFrame(FrameID(i), 1, pages[i])
		env.tables[1].Access(pages[i], false)
	}

	victim := env.scan.PickVictim(env.table, env.pageTableOf)

	// Every accessed bit must have been cleared on the first lap before
	// anything was evicted
	for i := 0; i < n; i++ {
		if env.tables[1].Accessed(pages[i]) {
			t.Errorf("Page %#x still has accessed bit set after scan", uint64(pages[i]))
		}
	}

	// Second lap starts back at the first frame
	if victim.frame != 0 {
		t.Errorf("Expected victim 0 after all second chances, got %d", victim.frame)
	}
}

// TestClockPinExclusion tests that pinned frames are never selected
func TestClockPinExclusion(t *testing.T) {
	env := newScanEnv()
	e0 := env.addFrame(0, 1, 0x1000)
	env.addFrame(1, 1, 0x2000)
	e2 := env.addFrame(2, 1, 0x3000)

	e0.pinned = true
	e2.pinned = true

	for i := 0; i < 3; i++ {
		victim := env.scan.PickVictim(env.table, env.pageTableOf)
		if victim.frame != 1 {
			t.Fatalf("Expected pinned frames to be skipped, got victim %d", victim.frame)
		}
		// Not evicting: the accessed bit is clear, so the same frame
		// must be picked again on the next call
	}
}

// TestClockAllPinnedPanics tests that a scan with nothing evictable is
// treated as fatal exhaustion
func TestClockAllPinnedPanics(t *testing.T) {
	env := newScanEnv()
	env.addFrame(0, 1, 0x1000).pinned = true
	env.addFrame(1, 1, 0x2000).pinned = true

	defer func() {
		if recover() == nil {
			t.Error("Expected panic when every frame is pinned")
		}
	}()
	env.scan.PickVictim(env.table, env.pageTableOf)
}

// TestClockEmptyPanics tests that eviction with no live frames is a
// fatal internal-consistency failure
func TestClockEmptyPanics(t *testing.T) {
	env := newScanEnv()

	defer func() {
		if recover() == nil {
			t.Error("Expected panic when the eviction order is empty")
		}
	}()
	env.scan.PickVictim(env.table, env.pageTableOf)
}

// TestClockRemoveKeepsCursorValid tests cursor adjustment when frames
// are removed from the middle of the order
func TestClockRemoveKeepsCursorValid(t *testing.T) {
	env := newScanEnv()
	for i := FrameID(0); i < 4; i++ {
		env.addFrame(i, 1, VirtPage(0x1000*uint64(i+1)))
	}

	// Advance the cursor to frame 1
	victim := env.scan.PickVictim(env.table, env.pageTableOf)
	if victim.frame != 0 {
		t.Fatalf("Expected victim 0, got %d", victim.frame)
	}
	env.evict(victim)

	victim = env.scan.PickVictim(env.table, env.pageTableOf)
	if victim.frame != 1 {
		t.Fatalf("Expected victim 1, got %d", victim.frame)
	}

	// Evict the picked frame, then remove frame 3 ahead of the cursor
	env.evict(victim)
	env.table.Remove(3)
	env.scan.Remove(3)

	// Only frame 2 remains; the cursor must still land on it
	victim = env.scan.PickVictim(env.table, env.pageTableOf)
	if victim.frame != 2 {
		t.Fatalf("Expected victim 2, got %d", victim.frame)
	}
}

// TestClockScannerReset tests Reset clears the order and cursor
func TestClockScannerReset(t *testing.T) {
	env := newScanEnv()
	env.addFrame(0, 1, 0x1000)
	env.addFrame(1, 1, 0x2000)

	env.scan.Reset()
	if env.scan.Len() != 0 {
		t.Errorf("Expected empty order after reset, got %d", env.scan.Len())
	}
}
