package vm

import (
	"sync"
)

// Pid identifies a process. Frame table entries store only the Pid, so a
// frame never keeps its owning process alive; the pid is resolved back
// to a Process through the registry.
type Pid uint32

// MmapID identifies one memory-mapped file region within a process
type MmapID int

// MmapDesc records one memory-mapped file region
type MmapDesc struct {
	ID     MmapID
	Path   string   // Mapped file
	Addr   VirtPage // First page of the mapping
	Length int64    // File bytes covered by the mapping
}

// Process holds the per-process paging state: the page table, the
// supplemental page table, and the mmap descriptor records
type Process struct {
	pid       Pid
	pageTable *SoftPageTable
	supt      *SuppPageTable

	mu       sync.Mutex
	mmaps    map[MmapID]*MmapDesc
	nextMmap MmapID
}

// NewProcess creates a process with empty paging state
func NewProcess(pid Pid) *Process {
	return &Process{
		pid:       pid,
		pageTable: NewSoftPageTable(),
		supt:      NewSuppPageTable(),
		mmaps:     make(map[MmapID]*MmapDesc),
	}
}

// Pid returns the process id
func (p *Process) Pid() Pid {
	return p.pid
}

// PageTable returns the process page table
func (p *Process) PageTable() *SoftPageTable {
	return p.pageTable
}

// Supt returns the supplemental page table
func (p *Process) Supt() *SuppPageTable {
	return p.supt
}

// AddMmap records a new memory-mapped file region and returns its id
func (p *Process) AddMmap(path string, addr VirtPage, length int64) MmapID {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextMmap
	p.nextMmap++
	p.mmaps[id] = &MmapDesc{
		ID:     id,
		Path:   path,
		Addr:   addr,
		Length: length,
	}
	return id
}

// Mmap returns the descriptor for a mapping id
func (p *Process) Mmap(id MmapID) (*MmapDesc, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	desc, exists := p.mmaps[id]
	return desc, exists
}

// RemoveMmap drops a mapping record
func (p *Process) RemoveMmap(id MmapID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.mmaps[id]; !exists {
		return ErrMmapNotFound("Process.RemoveMmap", id)
	}
	delete(p.mmaps, id)
	return nil
}

// Mmaps returns all mapping records for the process
func (p *Process) Mmaps() []*MmapDesc {
	p.mu.Lock()
	defer p.mu.Unlock()
	descs := make([]*MmapDesc, 0, len(p.mmaps))
	for _, desc := range p.mmaps {
		descs = append(descs, desc)
	}
	return descs
}

// ProcessRegistry resolves pids to processes
type ProcessRegistry struct {
	mu    sync.RWMutex
	procs map[Pid]*Process
}

// NewProcessRegistry creates an empty registry
func NewProcessRegistry() *ProcessRegistry {
	return &ProcessRegistry{
		procs: make(map[Pid]*Process),
	}
}

// Register creates and registers a process for a pid
func (r *ProcessRegistry) Register(pid Pid) (*Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.procs[pid]; exists {
		return nil, ErrProcessExists("ProcessRegistry.Register", pid)
	}

	proc := NewProcess(pid)
	r.procs[pid] = proc
	return proc, nil
}

// Lookup returns the process for a pid
func (r *ProcessRegistry) Lookup(pid Pid) (*Process, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	proc, exists := r.procs[pid]
	return proc, exists
}

// PagingState resolves a pid to its page table and supplemental table,
// satisfying the allocator's ProcessResolver contract
func (r *ProcessRegistry) PagingState(pid Pid) (PageTable, SupplementalPageTable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	proc, exists := r.procs[pid]
	if !exists {
		return nil, nil, false
	}
	return proc.pageTable, proc.supt, true
}

// Unregister removes a process from the registry. The caller is
// responsible for releasing the process's frames and swap slots first
// (see Pager.ExitProcess).
func (r *ProcessRegistry) Unregister(pid Pid) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.procs[pid]; !exists {
		return false
	}
	delete(r.procs, pid)
	return true
}

// Len returns the number of registered processes
func (r *ProcessRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.procs)
}
