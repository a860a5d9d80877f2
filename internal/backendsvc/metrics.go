// Package backendsvc provides the reference backend-side components: the
// RIF-bucketed latency Metrics accumulator exposed via /probe, and the
// HeartbeatClient that periodically registers with the proxy.
package backendsvc

import (
	"sort"
	"sync"
	"sync/atomic"
)

// histCap bounds each per-bin latency deque (spec.md §3).
const histCap = 1000

// Metrics is a pure accumulator: in-flight request counter plus a
// RIF-bucketed latency histogram. It has no state transitions; every method
// is safe for concurrent use.
type Metrics struct {
	inFlight atomic.Int64

	bins []float64 // strictly-increasing bin upper bounds; nil means "exact RIF is the key"

	mu       sync.Mutex
	byBin    map[float64][]float64 // bounded deque per bin, cap histCap
	sum      float64
	count    int64
}

// NewMetrics constructs a Metrics accumulator. bins, if non-empty, must be
// strictly increasing; an observed latency at RIF r is filed under the
// smallest bin >= r, clamped to the largest bin when r exceeds it. A nil or
// empty bins slice uses the exact observed RIF as the bucket key.
func NewMetrics(bins []float64) *Metrics {
	return &Metrics{bins: bins, byBin: make(map[float64][]float64)}
}

// Enter increments the in-flight counter and returns a func to call on
// request exit, which decrements it and records the observed latency.
func (m *Metrics) Enter() (leave func(latencySeconds float64)) {
	m.inFlight.Add(1)
	rifAtEntry := float64(m.inFlight.Load())
	return func(latencySeconds float64) {
		m.inFlight.Add(-1)
		m.record(rifAtEntry, latencySeconds)
	}
}

func (m *Metrics) record(rif, latency float64) {
	key := m.bucketKey(rif)

	m.mu.Lock()
	defer m.mu.Unlock()

	v := append(m.byBin[key], latency)
	if len(v) > histCap {
		v = v[len(v)-histCap:]
	}
	m.byBin[key] = v

	m.sum += latency
	m.count++
}

func (m *Metrics) bucketKey(rif float64) float64 {
	if len(m.bins) == 0 {
		return rif
	}
	for _, b := range m.bins {
		if b >= rif {
			return b
		}
	}
	return m.bins[len(m.bins)-1]
}

// InFlight reports the current in-flight request count.
func (m *Metrics) InFlight() int64 {
	return m.inFlight.Load()
}

// OverallAvgLatency is the arithmetic mean over every observed latency.
func (m *Metrics) OverallAvgLatency() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.count == 0 {
		return 0
	}
	return m.sum / float64(m.count)
}

// RIFAvgLatency is the median latency of the bin containing the current RIF,
// falling back to linear interpolation across the nearest populated
// neighboring bin keys; if only one side is populated, that side's median is
// returned; if no bins are populated at all, 0 (spec.md §3).
func (m *Metrics) RIFAvgLatency() float64 {
	rif := float64(m.inFlight.Load())
	key := m.bucketKey(rif)

	m.mu.Lock()
	defer m.mu.Unlock()

	if samples, ok := m.byBin[key]; ok && len(samples) > 0 {
		return median(samples)
	}

	keys := make([]float64, 0, len(m.byBin))
	for k, v := range m.byBin {
		if len(v) > 0 {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return 0
	}
	sort.Float64s(keys)

	var lowerKey, upperKey float64
	haveLower, haveUpper := false, false
	for _, k := range keys {
		if k < key {
			lowerKey = k
			haveLower = true
		}
		if k > key && !haveUpper {
			upperKey = k
			haveUpper = true
		}
	}

	switch {
	case haveLower && haveUpper:
		lowerMed := median(m.byBin[lowerKey])
		upperMed := median(m.byBin[upperKey])
		frac := (key - lowerKey) / (upperKey - lowerKey)
		return lowerMed + frac*(upperMed-lowerMed)
	case haveLower:
		return median(m.byBin[lowerKey])
	case haveUpper:
		return median(m.byBin[upperKey])
	default:
		return 0
	}
}

func median(xs []float64) float64 {
	cp := append([]float64(nil), xs...)
	sort.Float64s(cp)
	mid := len(cp) / 2
	if len(cp)%2 == 1 {
		return cp[mid]
	}
	return (cp[mid-1] + cp[mid]) / 2
}
