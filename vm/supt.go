package vm

import (
	"sync"
)

// PageState describes where a virtual page's content currently lives
type PageState int

const (
	// PageZero means the page has no content yet and is zero-filled on
	// first fault
	PageZero PageState = iota
	// PageResident means the content is in a physical frame
	PageResident
	// PageSwapped means the content was evicted to a swap slot
	PageSwapped
	// PageFiled means the content is backed by a file region (mmap)
	PageFiled
)

func (s PageState) String() string {
	switch s {
	case PageZero:
		return "zero"
	case PageResident:
		return "resident"
	case PageSwapped:
		return "swapped"
	case PageFiled:
		return "filed"
	default:
		return "unknown"
	}
}

// PageLocation records the backing location for one virtual page
type PageLocation struct {
	State  PageState
	Slot   SwapSlot // Valid when State == PageSwapped
	Path   string   // Valid when State == PageFiled
	Offset int64    // Valid when State == PageFiled
}

// SuppPageTable is the supplemental page table for one process: for each
// known virtual page it tracks whether the content is zero-fill,
// resident, in a swap slot, or file-backed. The allocator records swap
// locations here during eviction so a later fault knows where to fetch
// the content from.
type SuppPageTable struct {
	mu    sync.RWMutex
	pages map[VirtPage]PageLocation
}

// NewSuppPageTable creates an empty supplemental page table
func NewSuppPageTable() *SuppPageTable {
	return &SuppPageTable{
		pages: make(map[VirtPage]PageLocation),
	}
}

// RecordZero marks a page as zero-fill-on-demand
func (st *SuppPageTable) RecordZero(page VirtPage) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.pages[page] = PageLocation{State: PageZero}
}

// RecordResident marks a page's content as held in a physical frame
func (st *SuppPageTable) RecordResident(page VirtPage) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.pages[page] = PageLocation{State: PageResident}
}

// RecordSwap marks a page's content as evicted to a swap slot
func (st *SuppPageTable) RecordSwap(page VirtPage, slot SwapSlot) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.pages[page] = PageLocation{State: PageSwapped, Slot: slot}
}

// RecordFile marks a page as backed by a file region
func (st *SuppPageTable) RecordFile(page VirtPage, path string, offset int64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.pages[page] = PageLocation{State: PageFiled, Path: path, Offset: offset}
}

// Lookup returns the recorded location for a page, or false if the page
// was never recorded
func (st *SuppPageTable) Lookup(page VirtPage) (PageLocation, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	loc, exists := st.pages[page]
	return loc, exists
}

// Drop forgets a page
func (st *SuppPageTable) Drop(page VirtPage) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.pages, page)
}

// SwappedSlots returns the swap slots held by this table's pages
func (st *SuppPageTable) SwappedSlots() []SwapSlot {
	st.mu.RLock()
	defer st.mu.RUnlock()
	slots := make([]SwapSlot, 0)
	for _, loc := range st.pages {
		if loc.State == PageSwapped {
			slots = append(slots, loc.Slot)
		}
	}
	return slots
}

// Len returns the number of tracked pages
func (st *SuppPageTable) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.pages)
}
