package vm

import (
	"log/slog"
	"sync"
	"time"
)

// PhysicalPool is the physical page allocator the frame manager draws
// from. Acquire is wait-free: it either hands out a free frame or
// reports exhaustion, and the caller falls back to eviction.
type PhysicalPool interface {
	Acquire() (FrameID, bool)
	Release(frame FrameID)
	FrameData(frame FrameID) []byte
}

// PageTable is the per-process page table surface the frame manager
// needs: unmapping on eviction and the hardware accessed bit for the
// second-chance scan.
type PageTable interface {
	ClearMapping(page VirtPage)
	Accessed(page VirtPage) bool
	ClearAccessed(page VirtPage)
}

// SwapStore is the backing store the frame manager writes victims to
type SwapStore interface {
	WriteOut(data []byte) (SwapSlot, error)
}

// SupplementalPageTable records where an evicted page's content went so
// a later fault can fetch it back
type SupplementalPageTable interface {
	RecordSwap(page VirtPage, slot SwapSlot)
}

// ProcessResolver resolves a frame's weak owner reference to the owning
// process's paging state
type ProcessResolver interface {
	PagingState(pid Pid) (PageTable, SupplementalPageTable, bool)
}

// FrameAllocator is the physical-memory frame manager: it hands out
// frames for virtual pages, tracks ownership in the frame table, and
// evicts a second-chance victim to swap when the pool is exhausted.
//
// One global mutex serializes every operation, held across the full
// eviction sequence (victim pick, unmap, swap-out, record, reclaim) so
// the frame table, eviction order and cursor stay mutually consistent
// from the perspective of every other thread. Simplicity over
// throughput; this is a kernel teaching subsystem, not a server.
type FrameAllocator struct {
	mu      sync.Mutex
	table   *FrameTable
	scanner *ClockScanner
	pool    PhysicalPool
	swap    SwapStore
	procs   ProcessResolver
	metrics *Metrics
	logger  *slog.Logger
}

// NewFrameAllocator creates a frame allocator with an empty frame table
// and a reset eviction cursor
func NewFrameAllocator(pool PhysicalPool, swap SwapStore, procs ProcessResolver) *FrameAllocator {
	metrics := NewMetrics()
	scanner := NewClockScanner()
	scanner.metrics = metrics

	return &FrameAllocator{
		table:   NewFrameTable(),
		scanner: scanner,
		pool:    pool,
		swap:    swap,
		procs:   procs,
		metrics: metrics,
		logger:  slog.Default(),
	}
}

// SetLogger overrides the default logger
func (fa *FrameAllocator) SetLogger(logger *slog.Logger) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	fa.logger = logger
}

// GetMetrics returns the allocator metrics
func (fa *FrameAllocator) GetMetrics() *Metrics {
	return fa.metrics
}

// Allocate obtains a physical frame for a process's virtual page. It
// first tries the free pool; on exhaustion it evicts a second-chance
// victim (unmap, write to swap, record the slot, reclaim) and retries.
// The returned frame is registered unpinned in the frame table.
func (fa *FrameAllocator) Allocate(pid Pid, page VirtPage) (FrameID, error) {
	fa.mu.Lock()
	defer fa.mu.Unlock()

	// Resolve the owner up front so a bad pid fails before a frame is
	// taken from the pool
	if _, _, ok := fa.procs.PagingState(pid); !ok {
		return 0, ErrProcessNotFound("FrameAllocator.Allocate", pid)
	}

	frame, ok := fa.pool.Acquire()
	if !ok {
		fa.evictLocked()

		// The eviction just returned a frame to the pool and the lock
		// has been held throughout, so this acquisition cannot fail
		frame, ok = fa.pool.Acquire()
		if !ok {
			kernelPanic("FrameAllocator.Allocate", "pool empty immediately after eviction")
		}
		fa.metrics.RecordEvictionGrant()
	} else {
		fa.metrics.RecordDirectGrant()
	}

	entry := &FrameTableEntry{
		frame:  frame,
		page:   page,
		pid:    pid,
		pinned: false,
	}
	fa.table.Insert(entry)
	fa.scanner.Add(frame)

	fa.logger.Debug("frame granted",
		slog.Uint64("frame", uint64(frame)),
		slog.Uint64("page", uint64(page)),
		slog.Uint64("pid", uint64(pid)))

	return frame, nil
}

// evictLocked runs the full eviction sequence for one victim and returns
// its physical frame to the pool. Caller holds fa.mu.
func (fa *FrameAllocator) evictLocked() {
	victim := fa.scanner.PickVictim(fa.table, func(pid Pid) PageTable {
		pt, _, ok := fa.procs.PagingState(pid)
		if !ok {
			kernelPanic("FrameAllocator.evictLocked", "frame owner pid %d vanished from registry", pid)
		}
		return pt
	})

	pt, supt, ok := fa.procs.PagingState(victim.pid)
	if !ok {
		kernelPanic("FrameAllocator.evictLocked", "victim owner pid %d vanished from registry", victim.pid)
	}

	// Unmap first so no further access reaches the stale translation,
	// then persist the contents, then record where they went
	pt.ClearMapping(victim.page)

	start := time.Now()
	slot, err := fa.swap.WriteOut(fa.pool.FrameData(victim.frame))
	if err != nil {
		// The backing store is load-bearing for eviction: with the
		// victim already unmapped there is no way back, so a write
		// failure (including swap exhaustion) is unrecoverable here
		kernelPanic("FrameAllocator.evictLocked", "swap write for victim frame %d failed: %v", victim.frame, err)
	}
	fa.metrics.RecordSwapOut(time.Since(start))

	supt.RecordSwap(victim.page, slot)

	if !fa.freeLocked(victim.frame, true) {
		kernelPanic("FrameAllocator.evictLocked", "victim frame %d disappeared mid-eviction", victim.frame)
	}
	fa.metrics.RecordEviction()

	fa.logger.Info("frame evicted",
		slog.Uint64("frame", uint64(victim.frame)),
		slog.Uint64("page", uint64(victim.page)),
		slog.Uint64("pid", uint64(victim.pid)),
		slog.Uint64("swap_slot", uint64(slot)))
}

// Free removes a frame's table entry and returns the physical frame to
// the pool. Freeing an untracked frame is a silent no-op: a concurrent
// eviction may legitimately have reclaimed it already.
func (fa *FrameAllocator) Free(frame FrameID) {
	fa.mu.Lock()
	defer fa.mu.Unlock()

	if fa.freeLocked(frame, true) {
		fa.metrics.RecordFree()
	}
}

// FreeEntryOnly removes a frame's table entry without returning the
// physical frame to the pool, for callers that have already repurposed
// the frame itself. Idempotent like Free.
func (fa *FrameAllocator) FreeEntryOnly(frame FrameID) {
	fa.mu.Lock()
	defer fa.mu.Unlock()

	if fa.freeLocked(frame, false) {
		fa.metrics.RecordFree()
	}
}

// freeLocked removes a frame from the table and the eviction order,
// optionally releasing the physical frame. Returns false when the frame
// was not tracked. Caller holds fa.mu.
func (fa *FrameAllocator) freeLocked(frame FrameID, releaseFrame bool) bool {
	if !fa.table.Remove(frame) {
		return false
	}
	if !fa.scanner.Remove(frame) {
		kernelPanic("FrameAllocator.freeLocked", "frame %d tracked in table but missing from eviction order", frame)
	}
	if releaseFrame {
		fa.pool.Release(frame)
	}
	return true
}

// Pin excludes a frame from eviction while another in-flight operation
// depends on its contents. Pinning an untracked frame means the caller
// holds a frame reference the table has never seen, which is a
// bookkeeping bug, not a race.
func (fa *FrameAllocator) Pin(frame FrameID) {
	fa.setPinned(frame, true)
}

// Unpin makes a frame evictable again
func (fa *FrameAllocator) Unpin(frame FrameID) {
	fa.setPinned(frame, false)
}

func (fa *FrameAllocator) setPinned(frame FrameID, pinned bool) {
	fa.mu.Lock()
	defer fa.mu.Unlock()

	entry, exists := fa.table.Find(frame)
	if !exists {
		kernelPanic("FrameAllocator.setPinned", "frame %d is not tracked", frame)
	}
	entry.pinned = pinned
}

// Entry returns a copy of a frame's table entry
func (fa *FrameAllocator) Entry(frame FrameID) (FrameTableEntry, bool) {
	fa.mu.Lock()
	defer fa.mu.Unlock()

	entry, exists := fa.table.Find(frame)
	if !exists {
		return FrameTableEntry{}, false
	}
	return *entry, true
}

// LiveFrames returns the number of tracked frames
func (fa *FrameAllocator) LiveFrames() int {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return fa.table.Size()
}

// FreeProcess frees every frame owned by a process, returning the
// physical frames to the pool. Used on process teardown.
func (fa *FrameAllocator) FreeProcess(pid Pid) int {
	fa.mu.Lock()
	defer fa.mu.Unlock()

	owned := make([]FrameID, 0)
	for frame, entry := range fa.table.entries {
		if entry.pid == pid {
			owned = append(owned, frame)
		}
	}

	for _, frame := range owned {
		if fa.freeLocked(frame, true) {
			fa.metrics.RecordFree()
		}
	}
	return len(owned)
}
