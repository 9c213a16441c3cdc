package vm

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Histogram tracks a value distribution with percentile support
type Histogram struct {
	samples []float64
	mu      sync.Mutex
	maxSize int // Maximum samples to retain
	sorted  bool
}

// NewHistogram creates a new histogram with a max sample size
func NewHistogram(maxSize int) *Histogram {
	if maxSize <= 0 {
		maxSize = 10000 // Default: keep last 10k samples
	}
	return &Histogram{
		samples: make([]float64, 0, maxSize),
		maxSize: maxSize,
		sorted:  true,
	}
}

// Record adds a sample
func (h *Histogram) Record(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// At capacity, drop the oldest sample (FIFO)
	if len(h.samples) >= h.maxSize {
		copy(h.samples, h.samples[1:])
		h.samples = h.samples[:len(h.samples)-1]
	}

	h.samples = append(h.samples, v)
	h.sorted = false
}

// Percentile calculates the given percentile (0-100)
func (h *Histogram) Percentile(p float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) == 0 {
		return 0
	}

	if !h.sorted {
		sort.Float64s(h.samples)
		h.sorted = true
	}

	rank := (p / 100.0) * float64(len(h.samples)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))

	if lower == upper {
		return h.samples[lower]
	}

	// Linear interpolation between lower and upper
	weight := rank - float64(lower)
	return h.samples[lower]*(1-weight) + h.samples[upper]*weight
}

// Mean calculates the average sample
func (h *Histogram) Mean() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) == 0 {
		return 0
	}

	sum := 0.0
	for _, v := range h.samples {
		sum += v
	}
	return sum / float64(len(h.samples))
}

// Max returns the maximum sample
func (h *Histogram) Max() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) == 0 {
		return 0
	}

	max := h.samples[0]
	for _, v := range h.samples {
		if v > max {
			max = v
		}
	}
	return max
}

// Count returns the number of samples
func (h *Histogram) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.samples)
}

// Reset clears all samples
func (h *Histogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples = h.samples[:0]
	h.sorted = true
}

// HistogramSnapshot holds current percentile statistics
type HistogramSnapshot struct {
	Count int
	Max   float64
	Mean  float64
	P50   float64
	P95   float64
	P99   float64
}

// Snapshot captures current histogram statistics
func (h *Histogram) Snapshot() HistogramSnapshot {
	return HistogramSnapshot{
		Count: h.Count(),
		Max:   h.Max(),
		Mean:  h.Mean(),
		P50:   h.Percentile(50),
		P95:   h.Percentile(95),
		P99:   h.Percentile(99),
	}
}

// Metrics tracks paging subsystem performance metrics
type Metrics struct {
	// Allocator metrics
	framesGranted  atomic.Uint64
	directGrants   atomic.Uint64 // Satisfied from the free pool
	evictionGrants atomic.Uint64 // Satisfied by evicting a victim
	framesFreed    atomic.Uint64

	// Eviction metrics
	evictions     atomic.Uint64
	secondChances atomic.Uint64 // Accessed bits cleared during scans
	pinSkips      atomic.Uint64 // Pinned frames passed over during scans

	// Swap metrics
	swapOuts atomic.Uint64
	swapIns  atomic.Uint64

	// TLB metrics
	tlbHits   atomic.Uint64
	tlbMisses atomic.Uint64

	// Fault handler metrics
	faultsServed atomic.Uint64

	// Distributions
	scanLength     *Histogram // Steps per eviction scan
	swapOutLatency *Histogram // WriteOut latency, microseconds
	faultLatency   *Histogram // HandleFault latency, microseconds

	startTime time.Time
	mu        sync.RWMutex
}

// NewMetrics creates a new metrics tracker
func NewMetrics() *Metrics {
	return &Metrics{
		startTime:      time.Now(),
		scanLength:     NewHistogram(10000),
		swapOutLatency: NewHistogram(10000),
		faultLatency:   NewHistogram(10000),
	}
}

// Allocator metrics

func (m *Metrics) RecordDirectGrant() {
	m.framesGranted.Add(1)
	m.directGrants.Add(1)
}

func (m *Metrics) RecordEvictionGrant() {
	m.framesGranted.Add(1)
	m.evictionGrants.Add(1)
}

func (m *Metrics) RecordFree() {
	m.framesFreed.Add(1)
}

// Eviction metrics

func (m *Metrics) RecordEviction() {
	m.evictions.Add(1)
}

func (m *Metrics) RecordSecondChance() {
	m.secondChances.Add(1)
}

func (m *Metrics) RecordPinSkip() {
	m.pinSkips.Add(1)
}

func (m *Metrics) RecordScanLength(steps int) {
	m.scanLength.Record(float64(steps))
}

// Swap metrics

func (m *Metrics) RecordSwapOut(duration time.Duration) {
	m.swapOuts.Add(1)
	m.swapOutLatency.Record(float64(duration.Microseconds()))
}

func (m *Metrics) RecordSwapIn() {
	m.swapIns.Add(1)
}

// TLB metrics

func (m *Metrics) RecordTLBHit() {
	m.tlbHits.Add(1)
}

func (m *Metrics) RecordTLBMiss() {
	m.tlbMisses.Add(1)
}

// Fault handler metrics

func (m *Metrics) RecordFault(duration time.Duration) {
	m.faultsServed.Add(1)
	m.faultLatency.Record(float64(duration.Microseconds()))
}

// Getters

func (m *Metrics) GetFramesGranted() uint64 {
	return m.framesGranted.Load()
}

func (m *Metrics) GetDirectGrants() uint64 {
	return m.directGrants.Load()
}

func (m *Metrics) GetEvictionGrants() uint64 {
	return m.evictionGrants.Load()
}

func (m *Metrics) GetFramesFreed() uint64 {
	return m.framesFreed.Load()
}

func (m *Metrics) GetEvictions() uint64 {
	return m.evictions.Load()
}

func (m *Metrics) GetSecondChances() uint64 {
	return m.secondChances.Load()
}

func (m *Metrics) GetPinSkips() uint64 {
	return m.pinSkips.Load()
}

func (m *Metrics) GetSwapOuts() uint64 {
	return m.swapOuts.Load()
}

func (m *Metrics) GetSwapIns() uint64 {
	return m.swapIns.Load()
}

func (m *Metrics) GetTLBHits() uint64 {
	return m.tlbHits.Load()
}

func (m *Metrics) GetTLBMisses() uint64 {
	return m.tlbMisses.Load()
}

func (m *Metrics) GetTLBHitRate() float64 {
	hits := m.tlbHits.Load()
	misses := m.tlbMisses.Load()
	total := hits + misses
	if total == 0 {
		return 0.0
	}
	return float64(hits) / float64(total)
}

func (m *Metrics) GetFaultsServed() uint64 {
	return m.faultsServed.Load()
}

func (m *Metrics) GetScanLength() HistogramSnapshot {
	return m.scanLength.Snapshot()
}

func (m *Metrics) GetSwapOutLatency() HistogramSnapshot {
	return m.swapOutLatency.Snapshot()
}

func (m *Metrics) GetFaultLatency() HistogramSnapshot {
	return m.faultLatency.Snapshot()
}

func (m *Metrics) GetUptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Since(m.startTime)
}

// LogMetrics logs all metrics using structured logging
func (m *Metrics) LogMetrics(logger *slog.Logger) {
	scan := m.GetScanLength()
	swapOut := m.GetSwapOutLatency()
	fault := m.GetFaultLatency()

	logger.Info("Paging Subsystem Metrics",
		slog.Group("allocator",
			slog.Uint64("frames_granted", m.GetFramesGranted()),
			slog.Uint64("direct_grants", m.GetDirectGrants()),
			slog.Uint64("eviction_grants", m.GetEvictionGrants()),
			slog.Uint64("frames_freed", m.GetFramesFreed()),
		),
		slog.Group("eviction",
			slog.Uint64("evictions", m.GetEvictions()),
			slog.Uint64("second_chances", m.GetSecondChances()),
			slog.Uint64("pin_skips", m.GetPinSkips()),
			slog.Group("scan_steps",
				slog.Int("count", scan.Count),
				slog.Float64("mean", scan.Mean),
				slog.Float64("p95", scan.P95),
				slog.Float64("max", scan.Max),
			),
		),
		slog.Group("swap",
			slog.Uint64("swap_outs", m.GetSwapOuts()),
			slog.Uint64("swap_ins", m.GetSwapIns()),
			slog.Group("write_latency_us",
				slog.Int("count", swapOut.Count),
				slog.Float64("mean", swapOut.Mean),
				slog.Float64("p95", swapOut.P95),
				slog.Float64("p99", swapOut.P99),
			),
		),
		slog.Group("tlb",
			slog.Uint64("hits", m.GetTLBHits()),
			slog.Uint64("misses", m.GetTLBMisses()),
			slog.Float64("hit_rate", m.GetTLBHitRate()),
		),
		slog.Group("faults",
			slog.Uint64("served", m.GetFaultsServed()),
			slog.Group("latency_us",
				slog.Int("count", fault.Count),
				slog.Float64("mean", fault.Mean),
				slog.Float64("p95", fault.P95),
				slog.Float64("p99", fault.P99),
			),
		),
		slog.Duration("uptime", m.GetUptime()),
	)
}

// Reset resets all metrics (useful for testing)
func (m *Metrics) Reset() {
	m.framesGranted.Store(0)
	m.directGrants.Store(0)
	m.evictionGrants.Store(0)
	m.framesFreed.Store(0)
	m.evictions.Store(0)
	m.secondChances.Store(0)
	m.pinSkips.Store(0)
	m.swapOuts.Store(0)
	m.swapIns.Store(0)
	m.tlbHits.Store(0)
	m.tlbMisses.Store(0)
	m.faultsServed.Store(0)

	m.scanLength.Reset()
	m.swapOutLatency.Reset()
	m.faultLatency.Reset()

	m.mu.Lock()
	m.startTime = time.Now()
	m.mu.Unlock()
}
