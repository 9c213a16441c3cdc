package vm

// ClockScanner implements second-chance (clock) victim selection over the
// live frames. Frames are scanned in insertion order through a circular
// sequence; the cursor survives across calls so successive evictions
// continue where the previous scan stopped instead of restarting.
//
// Like the frame table, the scanner carries no lock: the allocator's
// global mutex serializes all access.
type ClockScanner struct {
	order   []FrameID // Circular eviction order, insertion-ordered
	cursor  int       // Index of the last inspected slot, -1 when reset
	metrics *Metrics  // Optional, set by the allocator
}

// NewClockScanner creates a scanner with an empty eviction order and a
// reset cursor
func NewClockScanner() *ClockScanner {
	return &ClockScanner{
		order:  make([]FrameID, 0),
		cursor: -1,
	}
}

// Add appends a frame to the end of the eviction order
func (cs *ClockScanner) Add(frame FrameID) {
	cs.order = append(cs.order, frame)
}

// Remove deletes a frame from the eviction order, preserving the order of
// the remaining frames and keeping the cursor valid: a cursor at or past
// the removed slot steps back one, so the next advance lands on the frame
// that followed the removed one.
func (cs *ClockScanner) Remove(frame FrameID) bool {
	idx := -1
	for i, f := range cs.order {
		if f == frame {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false
	}

	cs.order = append(cs.order[:idx], cs.order[idx+1:]...)
	if cs.cursor >= idx {
		cs.cursor--
	}
	return true
}

// Len returns the number of frames in the eviction order
func (cs *ClockScanner) Len() int {
	return len(cs.order)
}

// Reset clears the eviction order and the cursor
func (cs *ClockScanner) Reset() {
	cs.order = cs.order[:0]
	cs.cursor = -1
}

// PickVictim selects the next eviction victim. Each step advances the
// cursor one slot (wrapping), skips pinned frames, and gives
// recently-accessed frames a second chance by clearing their accessed
// bit and moving on. The scan is bounded at 2n+1 steps: in the worst
// case every frame is accessed-but-unpinned on the first lap, and the
// second lap is then guaranteed to find a victim. Exceeding the bound
// means every frame is pinned, which is unrecoverable exhaustion.
func (cs *ClockScanner) PickVictim(table *FrameTable, pageTableOf func(Pid) PageTable) *FrameTableEntry {
	n := len(cs.order)
	if n == 0 || table.Size() == 0 {
		kernelPanic("ClockScanner.PickVictim",
			"eviction requested with no live frames (order=%d registry=%d)", n, table.Size())
	}
	if n != table.Size() {
		kernelPanic("ClockScanner.PickVictim",
			"eviction order and frame table out of sync (order=%d registry=%d)", n, table.Size())
	}

	steps := 0
	for it := 0; it <= n+n; it++ {
		entry := cs.next(table)
		steps++

		if entry.pinned {
			if cs.metrics != nil {
				cs.metrics.RecordPinSkip()
			}
			continue
		}

		pt := pageTableOf(entry.pid)
		if pt.Accessed(entry.page) {
			// Referenced since the last lap: clear the bit and move on
			pt.ClearAccessed(entry.page)
			if cs.metrics != nil {
				cs.metrics.RecordSecondChance()
			}
			continue
		}

		if cs.metrics != nil {
			cs.metrics.RecordScanLength(steps)
		}
		return entry
	}

	kernelPanic("ClockScanner.PickVictim",
		"no evictable frame within %d steps: all %d frames pinned, out of memory", n+n+1, n)
	return nil
}

// next advances the cursor one slot, wrapping past the end, and returns
// the entry at the new position
func (cs *ClockScanner) next(table *FrameTable) *FrameTableEntry {
	cs.cursor++
	if cs.cursor >= len(cs.order) {
		cs.cursor = 0
	}

	frame := cs.order[cs.cursor]
	entry, exists := table.Find(frame)
	if !exists {
		kernelPanic("ClockScanner.next", "cursor at frame %d which is not in the frame table", frame)
	}
	return entry
}
