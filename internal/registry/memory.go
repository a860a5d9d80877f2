package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// record is the internal storage unit: the last reported backend info plus
// the wall-clock time of its last heartbeat.
type record struct {
	info          BackendInfo
	lastHeartbeat time.Time
}

// Memory is the in-process Registry. A single mutex guards both the backend
// map and the heartbeat timestamps — per spec.md §5, registry contention is
// sub-millisecond and coarse-grained locking is the preferred design over
// per-URL fine-grained locks (spec.md §9).
type Memory struct {
	mu      sync.Mutex
	cfg     Config
	records map[string]*record
}

// NewMemory constructs an empty in-memory Registry.
func NewMemory(cfg Config) *Memory {
	return &Memory{
		cfg:     cfg,
		records: make(map[string]*record),
	}
}

func (m *Memory) Register(_ context.Context, info BackendInfo) (BackendInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	rec, ok := m.records[info.URL]
	if ok {
		// Preserve observed metric fields; only the health flag is adopted
		// from the incoming heartbeat (spec.md §4.A, scenario S5).
		info.InFlightRequests = rec.info.InFlightRequests
		info.RIFAvgLatency = rec.info.RIFAvgLatency
		info.OverallAvgLatency = rec.info.OverallAvgLatency
		rec.info = info
		rec.lastHeartbeat = now
		return rec.info, nil
	}

	m.records[info.URL] = &record{info: info, lastHeartbeat: now}
	return info, nil
}

func (m *Memory) Unregister(_ context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, url)
	return nil
}

func (m *Memory) List(_ context.Context) ([]BackendInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	out := make([]BackendInfo, 0, len(m.records))
	for url, rec := range m.records {
		m.expireLocked(url, rec, now)
		out = append(out, rec.info)
	}
	return out, nil
}

func (m *Memory) MarkUnhealthy(_ context.Context, url string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[url]
	if !ok {
		return false, nil
	}
	if rec.info.Healthy {
		slog.Warn("registry: backend marked unhealthy", "url", url)
	}
	rec.info.Healthy = false
	return true, nil
}

func (m *Memory) IsHealthy(_ context.Context, url string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[url]
	if !ok {
		return false, nil
	}
	m.expireLocked(url, rec, time.Now())
	return rec.info.Healthy, nil
}

func (m *Memory) HealthyURLs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	out := make([]string, 0, len(m.records))
	for url, rec := range m.records {
		m.expireLocked(url, rec, now)
		if rec.info.Healthy {
			out = append(out, url)
		}
	}
	return out, nil
}

// expireLocked applies the heartbeat-timeout invariant (spec.md §3): a
// backend whose last heartbeat is older than the configured timeout is
// reported unhealthy. The healthy→unhealthy edge is logged; the
// already-unhealthy case is silent. Must be called with mu held.
func (m *Memory) expireLocked(url string, rec *record, now time.Time) {
	if !rec.info.Healthy {
		return
	}
	if now.Sub(rec.lastHeartbeat) > m.cfg.timeout() {
		slog.Warn("registry: backend heartbeat expired", "url", url, "timeout", m.cfg.timeout())
		rec.info.Healthy = false
	}
}
