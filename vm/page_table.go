package vm

import (
	"sync"
)

// pageEntry packs a frame id and the hardware-style status bits into one
// word, frame in the high half and flags in the low bits.
type pageEntry uint64

const (
	ptePresent  pageEntry = 1 << 0
	pteAccessed pageEntry = 1 << 1
	pteDirty    pageEntry = 1 << 2

	pteFrameShift = 32
)

func (e pageEntry) frame() FrameID {
	return FrameID(e >> pteFrameShift)
}

func (e pageEntry) has(flag pageEntry) bool {
	return e&flag != 0
}

// SoftPageTable is a software page table for one process: a map from
// virtual page to frame plus present/accessed/dirty bits. It stands in
// for the hardware page table of a real kernel, so the accessed and
// dirty bits are set explicitly through Access rather than by the MMU.
type SoftPageTable struct {
	mu      sync.RWMutex
	entries map[VirtPage]pageEntry
}

// NewSoftPageTable creates an empty page table
func NewSoftPageTable() *SoftPageTable {
	return &SoftPageTable{
		entries: make(map[VirtPage]pageEntry),
	}
}

// Map installs a page → frame translation with clear status bits
func (pt *SoftPageTable) Map(page VirtPage, frame FrameID) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.entries[page] = pageEntry(frame)<<pteFrameShift | ptePresent
}

// ClearMapping removes a translation. Clearing an unmapped page is a
// no-op, matching hardware page-table semantics.
func (pt *SoftPageTable) ClearMapping(page VirtPage) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	delete(pt.entries, page)
}

// Translate returns the frame backing a page, or false if not resident
func (pt *SoftPageTable) Translate(page VirtPage) (FrameID, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	entry, exists := pt.entries[page]
	if !exists || !entry.has(ptePresent) {
		return 0, false
	}
	return entry.frame(), true
}

// Access simulates a memory access to a resident page, setting the
// accessed bit and, for writes, the dirty bit. Returns false if the page
// is not resident (a real MMU would fault here).
func (pt *SoftPageTable) Access(page VirtPage, write bool) bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	entry, exists := pt.entries[page]
	if !exists || !entry.has(ptePresent) {
		return false
	}
	entry |= pteAccessed
	if write {
		entry |= pteDirty
	}
	pt.entries[page] = entry
	return true
}

// Accessed reports the accessed bit for a page. Unmapped pages report
// false.
func (pt *SoftPageTable) Accessed(page VirtPage) bool {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return pt.entries[page].has(pteAccessed)
}

// ClearAccessed clears the accessed bit, giving the page a second chance
func (pt *SoftPageTable) ClearAccessed(page VirtPage) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	entry, exists := pt.entries[page]
	if !exists {
		return
	}
	pt.entries[page] = entry &^ pteAccessed
}

// Dirty reports the dirty bit for a page
func (pt *SoftPageTable) Dirty(page VirtPage) bool {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return pt.entries[page].has(pteDirty)
}

// Mapped returns the number of resident pages
func (pt *SoftPageTable) Mapped() int {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return len(pt.entries)
}

// Pages returns the virtual pages currently mapped, in no particular
// order
func (pt *SoftPageTable) Pages() []VirtPage {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	pages := make([]VirtPage, 0, len(pt.entries))
	for page := range pt.entries {
		pages = append(pages, page)
	}
	return pages
}
