package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"prequal/internal/registry"
)

// probeTimeout bounds each out-of-band probe HTTP call (spec.md §4.E).
const probeTimeout = 5 * time.Second

// DefaultMaxConcurrentProbes is MAX_CONCURRENT_PROBES's default (spec.md §6).
const DefaultMaxConcurrentProbes = 20

// DefaultFailureThreshold is CONSECUTIVE_FAILURE_THRESHOLD's default.
const DefaultFailureThreshold = 3

// probeResponse mirrors the JSON body a backend's /probe endpoint returns
// (spec.md §6).
type probeResponse struct {
	Status            string  `json:"status"`
	InFlightRequests  int     `json:"in_flight_requests"`
	RIFAvgLatency     float64 `json:"rif_avg_latency"`
	OverallAvgLatency float64 `json:"overall_avg_latency"`
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	ProbePath                string
	MaxConcurrentProbes      int
	ConsecutiveFailThreshold int
}

func (c ManagerConfig) probePath() string {
	if c.ProbePath == "" {
		return "/probe"
	}
	return c.ProbePath
}

func (c ManagerConfig) maxConcurrent() int {
	if c.MaxConcurrentProbes <= 0 {
		return DefaultMaxConcurrentProbes
	}
	return c.MaxConcurrentProbes
}

func (c ManagerConfig) failThreshold() int {
	if c.ConsecutiveFailThreshold <= 0 {
		return DefaultFailureThreshold
	}
	return c.ConsecutiveFailThreshold
}

// Manager drains the Queue and issues out-of-band probes, feeding results
// into the Pool and sustained failures into the Registry (spec.md §4.E).
type Manager struct {
	cfg      ManagerConfig
	queue    *Queue
	pool     *Pool
	registry registry.Registry
	client   *http.Client

	mu       sync.Mutex
	failures map[string]int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager constructs a Manager. Call Start to begin draining the queue.
func NewManager(queue *Queue, pool *Pool, reg registry.Registry, cfg ManagerConfig) *Manager {
	return &Manager{
		cfg:      cfg,
		queue:    queue,
		pool:     pool,
		registry: reg,
		client:   &http.Client{Timeout: probeTimeout},
		failures: make(map[string]int),
	}
}

// Start launches the dispatcher goroutine. Probes run concurrently, bounded
// by a semaphore of size MaxConcurrentProbes — the Go equivalent of the
// source's asyncio.Semaphore gate around send_probe.
func (m *Manager) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	sem := make(chan struct{}, m.cfg.maxConcurrent())

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			url, err := m.queue.Take()
			if err != nil {
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			m.wg.Add(1)
			go func(url string) {
				defer m.wg.Done()
				defer func() { <-sem }()
				m.probeOne(ctx, url)
			}(url)
		}
	}()
}

// Stop closes the queue (unblocking the dispatcher) and waits for every
// in-flight probe to finish.
func (m *Manager) Stop() {
	m.queue.Close()
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Manager) probeOne(ctx context.Context, url string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+m.cfg.probePath(), nil)
	if err != nil {
		m.recordFailure(ctx, url, err)
		return
	}

	resp, err := m.client.Do(req)
	if err != nil {
		m.recordFailure(ctx, url, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		m.recordFailure(ctx, url, fmt.Errorf("probe: status %d", resp.StatusCode))
		return
	}

	var parsed probeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		m.recordFailure(ctx, url, err)
		return
	}

	m.pool.AddProbe(url, parsed.RIFAvgLatency, float64(parsed.InFlightRequests))
	m.resetFailures(url)
}

func (m *Manager) resetFailures(url string) {
	m.mu.Lock()
	delete(m.failures, url)
	m.mu.Unlock()
}

func (m *Manager) recordFailure(ctx context.Context, url string, cause error) {
	m.mu.Lock()
	m.failures[url]++
	count := m.failures[url]
	m.mu.Unlock()

	slog.Warn("probe: failed", "url", url, "consecutive_failures", count, "error", cause)

	if count >= m.cfg.failThreshold() {
		if _, err := m.registry.MarkUnhealthy(ctx, url); err != nil {
			slog.Error("probe: failed to mark backend unhealthy", "url", url, "error", err)
		}
	}
}
