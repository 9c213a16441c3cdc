package vm

import (
	"fmt"
	"log/slog"
	"os"
	"time"
)

// Pager is the top of the paging subsystem: it owns the physical pool,
// the swap store, the process registry, the TLB and the frame allocator,
// and serves page faults against them. The surrounding kernel calls
// HandleFault from its page-fault trap path; an error return means the
// fault could not be served and the faulting process should be killed.
type Pager struct {
	config  *Config
	pool    *BitmapPool
	swap    SwapBackend
	procs   *ProcessRegistry
	alloc   *FrameAllocator
	tlb     *TLB
	metrics *Metrics
	logger  *slog.Logger
}

// NewPager builds the paging subsystem from a configuration
func NewPager(config *Config) (*Pager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	compression, err := ParseCompression(config.SwapCompression)
	if err != nil {
		return nil, err
	}

	var swap SwapBackend
	if config.SwapMmap {
		swap, err = NewMmapSwap(config.SwapPath, config.SwapSlots, config.PageSize, compression)
	} else {
		swap, err = NewFileSwap(config.SwapPath, config.SwapSlots, config.PageSize, compression)
	}
	if err != nil {
		return nil, err
	}

	p := &Pager{
		config: config,
		pool:   NewBitmapPool(config.PoolFrames, config.PageSize),
		swap:   swap,
		procs:  NewProcessRegistry(),
		logger: newLogger(config.LogLevel),
	}

	// The allocator resolves owners through the pager, not the registry
	// directly, so evictions shoot down TLB entries when they unmap
	p.alloc = NewFrameAllocator(p.pool, swap, p)
	p.alloc.SetLogger(p.logger)
	p.metrics = p.alloc.GetMetrics()

	if config.TLBEntries > 0 {
		p.tlb, err = NewTLB(config.TLBEntries, p.metrics)
		if err != nil {
			swap.Close()
			return nil, err
		}
	}

	return p, nil
}

// newLogger builds a text slog logger at the configured level
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// shootdownPageTable wraps a process page table so that clearing a
// mapping also invalidates the cached translation
type shootdownPageTable struct {
	*SoftPageTable
	tlb *TLB
	pid Pid
}

func (s *shootdownPageTable) ClearMapping(page VirtPage) {
	s.SoftPageTable.ClearMapping(page)
	if s.tlb != nil {
		s.tlb.Shootdown(s.pid, page)
	}
}

// PagingState implements ProcessResolver for the allocator
func (p *Pager) PagingState(pid Pid) (PageTable, SupplementalPageTable, bool) {
	proc, exists := p.procs.Lookup(pid)
	if !exists {
		return nil, nil, false
	}
	return &shootdownPageTable{SoftPageTable: proc.pageTable, tlb: p.tlb, pid: pid}, proc.supt, true
}

// Register creates the paging state for a new process
func (p *Pager) Register(pid Pid) (*Process, error) {
	return p.procs.Register(pid)
}

// ReserveZero declares zero-fill-on-demand pages for a process. No frame
// is allocated until the first fault.
func (p *Pager) ReserveZero(pid Pid, pages ...VirtPage) error {
	proc, exists := p.procs.Lookup(pid)
	if !exists {
		return ErrProcessNotFound("Pager.ReserveZero", pid)
	}
	for _, page := range pages {
		proc.supt.RecordZero(page)
	}
	return nil
}

// HandleFault resolves a page fault: it finds where the page's content
// lives, obtains a frame (evicting if physical memory is exhausted),
// fills it, and installs the mapping. The frame stays pinned during the
// fill so a concurrent allocation cannot evict it mid page-in.
func (p *Pager) HandleFault(pid Pid, page VirtPage, write bool) (FrameID, error) {
	start := time.Now()

	proc, exists := p.procs.Lookup(pid)
	if !exists {
		return 0, ErrProcessNotFound("Pager.HandleFault", pid)
	}
	pt := proc.pageTable

	// Fast path: translation already cached. Access doubles as the
	// residency check: a cached entry can outlive an eviction's
	// shootdown when the insert lands after it, and the page table is
	// the authority on whether the frame still backs this page.
	if p.tlb != nil {
		if frame, ok := p.tlb.Lookup(pid, page); ok {
			if pt.Access(page, write) {
				return frame, nil
			}
			p.tlb.Shootdown(pid, page)
		}
	}

	// Resident but not cached: just refresh the TLB. A failed Access
	// means an eviction unmapped the page between the two calls; fall
	// through and serve the fault from the backing store.
	if frame, ok := pt.Translate(page); ok && pt.Access(page, write) {
		if p.tlb != nil {
			p.tlb.Insert(pid, page, frame)
		}
		return frame, nil
	}

	loc, known := proc.supt.Lookup(page)
	if !known {
		return 0, ErrPageNotMapped("Pager.HandleFault", pid, page)
	}

	frame, err := p.alloc.Allocate(pid, page)
	if err != nil {
		return 0, err
	}

	// Pin before the fill: the fill may block on swap I/O and must not
	// have the frame evicted out from under it
	p.alloc.Pin(frame)

	if err := p.fillFrame(frame, proc, page, loc); err != nil {
		p.alloc.Free(frame)
		return 0, err
	}

	pt.Map(page, frame)
	pt.Access(page, write)
	proc.supt.RecordResident(page)
	p.alloc.Unpin(frame)

	if p.tlb != nil {
		p.tlb.Insert(pid, page, frame)
	}

	p.metrics.RecordFault(time.Since(start))
	return frame, nil
}

// fillFrame loads a page's content into a freshly allocated frame
func (p *Pager) fillFrame(frame FrameID, proc *Process, page VirtPage, loc PageLocation) error {
	data := p.pool.FrameData(frame)

	switch loc.State {
	case PageZero:
		// The frame may hold a previous owner's data
		clear(data)

	case PageSwapped:
		if err := p.swap.ReadIn(loc.Slot, data); err != nil {
			return err
		}
		if err := p.swap.Discard(loc.Slot); err != nil {
			return err
		}
		p.metrics.RecordSwapIn()

	case PageFiled:
		file, err := os.Open(loc.Path)
		if err != nil {
			return NewVMError(ErrCodeInternal, "Pager.fillFrame", "failed to open backing file", err)
		}
		defer file.Close()

		clear(data)
		n, err := file.ReadAt(data, loc.Offset)
		if err != nil && n == 0 {
			return NewVMError(ErrCodeInternal, "Pager.fillFrame", "failed to read backing file", err)
		}

	case PageResident:
		kernelPanic("Pager.fillFrame",
			"page %#x of pid %d recorded resident but not mapped", uint64(page), proc.pid)
	}

	return nil
}

// Touch simulates a user memory access: it serves a fault if the page is
// not resident and sets the accessed (and for writes, dirty) bits
func (p *Pager) Touch(pid Pid, page VirtPage, write bool) (FrameID, error) {
	return p.HandleFault(pid, page, write)
}

// Mmap records a file-backed mapping: length bytes of the file starting
// at offset 0 become file-backed pages at addr
func (p *Pager) Mmap(pid Pid, path string, addr VirtPage) (MmapID, error) {
	proc, exists := p.procs.Lookup(pid)
	if !exists {
		return 0, ErrProcessNotFound("Pager.Mmap", pid)
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat mmap file: %w", err)
	}

	pageSize := int64(p.config.PageSize)
	length := info.Size()
	for offset := int64(0); offset < length; offset += pageSize {
		page := addr + VirtPage(offset)
		proc.supt.RecordFile(page, path, offset)
	}

	return proc.AddMmap(path, addr, length), nil
}

// Munmap tears down a file-backed mapping, freeing any resident frames
func (p *Pager) Munmap(pid Pid, id MmapID) error {
	proc, exists := p.procs.Lookup(pid)
	if !exists {
		return ErrProcessNotFound("Pager.Munmap", pid)
	}

	desc, ok := proc.Mmap(id)
	if !ok {
		return ErrMmapNotFound("Pager.Munmap", id)
	}

	pageSize := int64(p.config.PageSize)
	for offset := int64(0); offset < desc.Length; offset += pageSize {
		page := desc.Addr + VirtPage(offset)
		p.dropPage(proc, page)
	}

	return proc.RemoveMmap(id)
}

// ExitProcess tears down a process's paging state: TLB entries, resident
// frames, swap slots, and the registry entry
func (p *Pager) ExitProcess(pid Pid) error {
	proc, exists := p.procs.Lookup(pid)
	if !exists {
		return ErrProcessNotFound("Pager.ExitProcess", pid)
	}

	if p.tlb != nil {
		p.tlb.ShootdownPid(pid)
	}

	freed := p.alloc.FreeProcess(pid)

	for _, slot := range proc.supt.SwappedSlots() {
		if err := p.swap.Discard(slot); err != nil {
			return err
		}
	}

	p.procs.Unregister(pid)

	p.logger.Info("process paging state torn down",
		slog.Uint64("pid", uint64(pid)),
		slog.Int("frames_freed", freed))
	return nil
}

// dropPage releases whatever backs one page: a resident frame, a swap
// slot, or nothing
func (p *Pager) dropPage(proc *Process, page VirtPage) {
	if frame, ok := proc.pageTable.Translate(page); ok {
		proc.pageTable.ClearMapping(page)
		if p.tlb != nil {
			p.tlb.Shootdown(proc.pid, page)
		}
		p.alloc.Free(frame)
	} else if loc, known := proc.supt.Lookup(page); known && loc.State == PageSwapped {
		if err := p.swap.Discard(loc.Slot); err != nil {
			p.logger.Warn("failed to discard swap slot",
				slog.Uint64("pid", uint64(proc.pid)),
				slog.Uint64("page", uint64(page)),
				slog.Uint64("swap_slot", uint64(loc.Slot)),
				slog.String("error", err.Error()))
		}
	}
	proc.supt.Drop(page)
}

// Allocator exposes the frame allocator for callers that manage frames
// directly (page-in helpers, kernel buffers)
func (p *Pager) Allocator() *FrameAllocator {
	return p.alloc
}

// FrameData returns the payload of a physical frame. Callers copying
// user data in or out must hold the frame, pinned or freshly faulted.
func (p *Pager) FrameData(frame FrameID) []byte {
	return p.pool.FrameData(frame)
}

// Metrics returns the subsystem metrics
func (p *Pager) Metrics() *Metrics {
	return p.metrics
}

// LogMetrics logs the subsystem metrics through the pager's logger
func (p *Pager) LogMetrics() {
	p.metrics.LogMetrics(p.logger)
}

// Close releases the swap store. The pager itself has no teardown; a
// kernel does not shut down gracefully, but tests do.
func (p *Pager) Close() error {
	return p.swap.Close()
}
