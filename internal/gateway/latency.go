package gateway

import (
	"math"
	"sort"
	"sync"
	"time"
)

// LatencySummary is a percentile snapshot in milliseconds.
type LatencySummary struct {
	P50   float64 `json:"p50_ms"`
	P95   float64 `json:"p95_ms"`
	P99   float64 `json:"p99_ms"`
	Count int     `json:"count"`
}

// LatencyWindow keeps the last N duration samples and reports percentiles.
// Safe for concurrent use.
type LatencyWindow struct {
	mu      sync.Mutex
	samples []float64 // ms
	pos     int
	count   int
}

// NewLatencyWindow creates a window over the last capacity samples.
func NewLatencyWindow(capacity int) *LatencyWindow {
	if capacity <= 0 {
		capacity = 1000
	}
	return &LatencyWindow{samples: make([]float64, capacity)}
}

// Observe records one sample. Negative durations (clock skew) are dropped.
func (lw *LatencyWindow) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	ms := float64(d.Microseconds()) / 1000.0
	lw.mu.Lock()
	lw.samples[lw.pos] = ms
	lw.pos = (lw.pos + 1) % len(lw.samples)
	if lw.count < len(lw.samples) {
		lw.count++
	}
	lw.mu.Unlock()
}

// Summary returns p50, p95 and p99 over the window. Zero when empty.
func (lw *LatencyWindow) Summary() LatencySummary {
	lw.mu.Lock()
	n := lw.count
	sorted := make([]float64, n)
	copy(sorted, lw.samples[:n])
	lw.mu.Unlock()

	if n == 0 {
		return LatencySummary{}
	}
	sort.Float64s(sorted)
	return LatencySummary{
		P50:   percentile(sorted, 0.50),
		P95:   percentile(sorted, 0.95),
		P99:   percentile(sorted, 0.99),
		Count: n,
	}
}

// percentile interpolates the p-th quantile (0..1) of a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	rank := p * float64(n-1)
	lower := int(math.Floor(rank))
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}
	frac := rank - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}
