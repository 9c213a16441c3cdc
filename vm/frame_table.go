package vm

// FrameID identifies a physical frame. It is the frame's index in the
// physical pool and the unique key of the frame table.
type FrameID uint32

// VirtPage is a page-aligned virtual address within one process's
// address space.
type VirtPage uint64

// FrameTableEntry tracks one live (allocated) physical frame
type FrameTableEntry struct {
	frame  FrameID  // Physical frame identity, unique key
	page   VirtPage // Virtual page currently backed by this frame
	pid    Pid      // Owning process (weak reference, resolved via ProcessRegistry)
	pinned bool     // Excluded from eviction while true
}

// Frame returns the physical frame identity
func (e *FrameTableEntry) Frame() FrameID {
	return e.frame
}

// Page returns the virtual page mapped to this frame
func (e *FrameTableEntry) Page() VirtPage {
	return e.page
}

// Pid returns the owning process id
func (e *FrameTableEntry) Pid() Pid {
	return e.pid
}

// Pinned reports whether the frame is excluded from eviction
func (e *FrameTableEntry) Pinned() bool {
	return e.pinned
}

// FrameTable maps frame identities to their entries. It carries no lock
// of its own: every access is serialized by the FrameAllocator's global
// mutex, so per-table locking would only add overhead.
type FrameTable struct {
	entries map[FrameID]*FrameTableEntry
}

// NewFrameTable creates an empty frame table
func NewFrameTable() *FrameTable {
	return &FrameTable{
		entries: make(map[FrameID]*FrameTableEntry),
	}
}

// Insert adds a new entry. A duplicate frame id means two allocations
// were handed the same physical frame, which the pool must never do.
func (ft *FrameTable) Insert(entry *FrameTableEntry) {
	if _, exists := ft.entries[entry.frame]; exists {
		kernelPanic("FrameTable.Insert", "frame %d already tracked", entry.frame)
	}
	ft.entries[entry.frame] = entry
}

// Find returns the entry for a frame, or false if the frame is untracked
func (ft *FrameTable) Find(frame FrameID) (*FrameTableEntry, bool) {
	entry, exists := ft.entries[frame]
	return entry, exists
}

// Remove deletes the entry for a frame. Returns false if the frame was
// not tracked; callers treat that as "already freed", not an error.
func (ft *FrameTable) Remove(frame FrameID) bool {
	if _, exists := ft.entries[frame]; !exists {
		return false
	}
	delete(ft.entries, frame)
	return true
}

// Size returns the number of live entries
func (ft *FrameTable) Size() int {
	return len(ft.entries)
}
