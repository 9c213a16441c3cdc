package vm

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// tlbKey addresses one translation: pages are per-process, so the pid is
// part of the key
type tlbKey struct {
	pid  Pid
	page VirtPage
}

// TLB is a software translation lookaside buffer: a fixed-capacity LRU
// of (pid, page) → frame consulted on the fault fast path. Stale
// translations are removed by explicit shootdown whenever a mapping is
// cleared, mirroring how a kernel invalidates hardware TLB entries.
type TLB struct {
	cache   *lru.Cache[tlbKey, FrameID]
	metrics *Metrics
}

// NewTLB creates a TLB with the given capacity
func NewTLB(entries int, metrics *Metrics) (*TLB, error) {
	cache, err := lru.New[tlbKey, FrameID](entries)
	if err != nil {
		return nil, err
	}
	return &TLB{
		cache:   cache,
		metrics: metrics,
	}, nil
}

// Insert caches a translation
func (t *TLB) Insert(pid Pid, page VirtPage, frame FrameID) {
	t.cache.Add(tlbKey{pid: pid, page: page}, frame)
}

// Lookup returns the cached frame for a page, if present
func (t *TLB) Lookup(pid Pid, page VirtPage) (FrameID, bool) {
	frame, ok := t.cache.Get(tlbKey{pid: pid, page: page})
	if t.metrics != nil {
		if ok {
			t.metrics.RecordTLBHit()
		} else {
			t.metrics.RecordTLBMiss()
		}
	}
	return frame, ok
}

// Shootdown invalidates one translation
func (t *TLB) Shootdown(pid Pid, page VirtPage) {
	t.cache.Remove(tlbKey{pid: pid, page: page})
}

// ShootdownPid invalidates every translation belonging to a process
func (t *TLB) ShootdownPid(pid Pid) {
	for _, key := range t.cache.Keys() {
		if key.pid == pid {
			t.cache.Remove(key)
		}
	}
}

// Flush invalidates every translation
func (t *TLB) Flush() {
	t.cache.Purge()
}

// Len returns the number of cached translations
func (t *TLB) Len() int {
	return t.cache.Len()
}
