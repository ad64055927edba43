// Package monitor tracks process-level counters and latency for the routing
// and API paths.
package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks overall system activity.
type SystemMetrics struct {
	// Latency histograms
	RoutingLatency *LatencyHistogram
	APILatency     *LatencyHistogram

	signalsReceived uint64
	ordersRouted    uint64
	ordersRejected  uint64
	cancels         uint64
	apiRequests     uint64
	apiErrors       uint64

	startedAt time.Time
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		RoutingLatency: NewLatencyHistogram(1000),
		APILatency:     NewLatencyHistogram(1000),
		startedAt:      time.Now(),
	}
}

// IncrementSignals counts one received trade signal.
func (m *SystemMetrics) IncrementSignals() { atomic.AddUint64(&m.signalsReceived, 1) }

// IncrementRouted counts one order accepted by a venue.
func (m *SystemMetrics) IncrementRouted() { atomic.AddUint64(&m.ordersRouted, 1) }

// IncrementRejected counts one order rejected by every venue.
func (m *SystemMetrics) IncrementRejected() { atomic.AddUint64(&m.ordersRejected, 1) }

// IncrementCancels counts one successful cancellation.
func (m *SystemMetrics) IncrementCancels() { atomic.AddUint64(&m.cancels, 1) }

// IncrementAPI counts one API request.
func (m *SystemMetrics) IncrementAPI() { atomic.AddUint64(&m.apiRequests, 1) }

// IncrementAPIErrors counts one API request that returned an error status.
func (m *SystemMetrics) IncrementAPIErrors() { atomic.AddUint64(&m.apiErrors, 1) }

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	RoutingLatency  LatencyStats `json:"routing_latency"`
	APILatency      LatencyStats `json:"api_latency"`
	SignalsReceived uint64       `json:"signals_received"`
	OrdersRouted    uint64       `json:"orders_routed"`
	OrdersRejected  uint64       `json:"orders_rejected"`
	Cancels         uint64       `json:"cancels"`
	APIRequests     uint64       `json:"api_requests"`
	APIErrors       uint64       `json:"api_errors"`
	GoroutineCount  int          `json:"goroutine_count"`
	HeapAlloc       uint64       `json:"heap_alloc_bytes"`
	UptimeSeconds   float64      `json:"uptime_seconds"`
	Timestamp       time.Time    `json:"timestamp"`
}

// GetSnapshot returns the current metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		RoutingLatency:  m.RoutingLatency.Stats(),
		APILatency:      m.APILatency.Stats(),
		SignalsReceived: atomic.LoadUint64(&m.signalsReceived),
		OrdersRouted:    atomic.LoadUint64(&m.ordersRouted),
		OrdersRejected:  atomic.LoadUint64(&m.ordersRejected),
		Cancels:         atomic.LoadUint64(&m.cancels),
		APIRequests:     atomic.LoadUint64(&m.apiRequests),
		APIErrors:       atomic.LoadUint64(&m.apiErrors),
		GoroutineCount:  runtime.NumGoroutine(),
		HeapAlloc:       memStats.HeapAlloc,
		UptimeSeconds:   time.Since(m.startedAt).Seconds(),
		Timestamp:       time.Now(),
	}
}

// LatencyHistogram tracks latency samples over a sliding window with lazy
// stats computation.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// Stats returns min, max, avg, p50, p95, p99. Recomputes only when samples
// have changed.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	p95 := int(float64(n) * 0.95)
	p99 := int(float64(n) * 0.99)
	if p95 >= n {
		p95 = n - 1
	}
	if p99 >= n {
		p99 = n - 1
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[p95],
		P99:   sorted[p99],
		Count: n,
	}
	h.dirty = false
	return h.cachedStats
}

// Timer measures one operation's duration into a histogram.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer starts a timer recording into h.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{start: time.Now(), histogram: h}
}

// Stop records the elapsed time.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
