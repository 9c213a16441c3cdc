package vm

import (
	"testing"
)

// TestTLBInsertLookup tests the translation fast path
func TestTLBInsertLookup(t *testing.T) {
	metrics := NewMetrics()
	tlb, err := NewTLB(4, metrics)
	if err != nil {
		t.Fatalf("Failed to create TLB: %v", err)
	}

	if _, ok := tlb.Lookup(1, 0x1000); ok {
		t.Error("Lookup hit on empty TLB")
	}

	tlb.Insert(1, 0x1000, 5)
	frame, ok := tlb.Lookup(1, 0x1000)
	if !ok || frame != 5 {
		t.Errorf("Expected frame 5, got %d ok=%v", frame, ok)
	}

	// Same page, different process: distinct translation
	if _, ok := tlb.Lookup(2, 0x1000); ok {
		t.Error("Translation leaked across processes")
	}

	if metrics.GetTLBHits() != 1 || metrics.GetTLBMisses() != 2 {
		t.Errorf("Expected 1 hit / 2 misses, got %d/%d", metrics.GetTLBHits(), metrics.GetTLBMisses())
	}
}

// TestTLBShootdown tests single and per-process invalidation
func TestTLBShootdown(t *testing.T) {
	tlb, _ := NewTLB(8, nil)
	tlb.Insert(1, 0x1000, 1)
	tlb.Insert(1, 0x2000, 2)
	tlb.Insert(2, 0x1000, 3)

	tlb.Shootdown(1, 0x1000)
	if _, ok := tlb.Lookup(1, 0x1000); ok {
		t.Error("Translation survived shootdown")
	}
	if _, ok := tlb.Lookup(1, 0x2000); !ok {
		t.Error("Shootdown invalidated an unrelated page")
	}

	tlb.ShootdownPid(1)
	if _, ok := tlb.Lookup(1, 0x2000); ok {
		t.Error("Translation survived pid shootdown")
	}
	if _, ok := tlb.Lookup(2, 0x1000); !ok {
		t.Error("Pid shootdown invalidated another process")
	}
}

// TestTLBEviction tests LRU behavior at capacity
func TestTLBEviction(t *testing.T) {
	tlb, _ := NewTLB(2, nil)
	tlb.Insert(1, 0x1000, 1)
	tlb.Insert(1, 0x2000, 2)
	tlb.Insert(1, 0x3000, 3) // Evicts the oldest

	if tlb.Len() != 2 {
		t.Errorf("Expected 2 entries, got %d", tlb.Len())
	}
	if _, ok := tlb.Lookup(1, 0x1000); ok {
		t.Error("Oldest translation should have been evicted")
	}
}
