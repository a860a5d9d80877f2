package probe

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"prequal/internal/registry"
)

// tickInterval is the Scheduler's cooperative tick period (spec.md §4.G).
const tickInterval = 20 * time.Millisecond

// healthyCacheTTL bounds how stale the cached healthy-backend snapshot may
// be before the Scheduler re-reads the registry (spec.md §4.G step 1).
const healthyCacheTTL = 10 * time.Millisecond

// rpsWindow is the sliding window used to estimate request rate.
const rpsWindow = 1 * time.Second

// DefaultProbeRateK is PROBE_PROBE_RATE_K's default (spec.md §6).
const DefaultProbeRateK = 5.0

// DefaultMinProbeInterval is MIN_PROBE_INTERVAL's default (spec.md §6).
const DefaultMinProbeInterval = 20 * time.Second

// SchedulerConfig configures the Scheduler.
type SchedulerConfig struct {
	ProbeRateK       float64
	MinProbeInterval time.Duration
}

func (c SchedulerConfig) probeRateK() float64 {
	if c.ProbeRateK <= 0 {
		return DefaultProbeRateK
	}
	return c.ProbeRateK
}

func (c SchedulerConfig) minProbeInterval() time.Duration {
	if c.MinProbeInterval <= 0 {
		return DefaultMinProbeInterval
	}
	return c.MinProbeInterval
}

// Scheduler is the background task that decides which backends to probe and
// when, per spec.md §4.G. Its start/stop shape (context.CancelFunc +
// sync.WaitGroup around a ticker loop) is grounded on the teacher's
// internal/health.Monitor.
type Scheduler struct {
	cfg      SchedulerConfig
	registry registry.Registry
	queue    *Queue

	reqMu   sync.Mutex
	reqLog  []time.Time // recent request arrival timestamps, pruned to rpsWindow

	cacheMu     sync.Mutex
	cachedAt    time.Time
	cachedURLs  []string

	history      map[string]struct{} // without-replacement set since last reset
	lastProbed   map[string]time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler constructs a Scheduler. Call Start to begin ticking.
func NewScheduler(reg registry.Registry, queue *Queue, cfg SchedulerConfig) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		registry:   reg,
		queue:      queue,
		history:    make(map[string]struct{}),
		lastProbed: make(map[string]time.Time),
	}
}

// RecordRequest notes an ingress request arrival for the RPS estimate. The
// Gateway calls this on every proxied request.
func (s *Scheduler) RecordRequest() {
	now := time.Now()
	s.reqMu.Lock()
	s.reqLog = append(s.reqLog, now)
	s.pruneRequestsLocked(now)
	s.reqMu.Unlock()
}

func (s *Scheduler) pruneRequestsLocked(now time.Time) {
	cutoff := now.Add(-rpsWindow)
	i := 0
	for i < len(s.reqLog) && s.reqLog[i].Before(cutoff) {
		i++
	}
	s.reqLog = s.reqLog[i:]
}

func (s *Scheduler) currentRPS() float64 {
	now := time.Now()
	s.reqMu.Lock()
	s.pruneRequestsLocked(now)
	n := len(s.reqLog)
	s.reqMu.Unlock()
	return float64(n) / rpsWindow.Seconds()
}

// Start begins the background scheduling loop.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.tick(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop shuts down the scheduling loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) healthyURLs(ctx context.Context) []string {
	s.cacheMu.Lock()
	if time.Since(s.cachedAt) < healthyCacheTTL {
		urls := s.cachedURLs
		s.cacheMu.Unlock()
		return urls
	}
	s.cacheMu.Unlock()

	urls, err := s.registry.HealthyURLs(ctx)
	if err != nil {
		return nil
	}

	s.cacheMu.Lock()
	s.cachedURLs = urls
	s.cachedAt = time.Now()
	s.cacheMu.Unlock()
	return urls
}

func (s *Scheduler) tick(ctx context.Context) {
	healthy := s.healthyURLs(ctx)
	if len(healthy) == 0 {
		return
	}

	rps := s.currentRPS()
	r := 1.0
	if rps > 0 {
		r = s.cfg.probeRateK() / rps
		if r > 1.0 {
			r = 1.0
		}
	}

	now := time.Now()
	minInterval := s.cfg.minProbeInterval()

	// Fairness floor: force-enqueue any healthy backend overdue regardless
	// of r (spec.md §4.G step 5).
	for _, url := range healthy {
		last, seen := s.lastProbed[url]
		if !seen || now.Sub(last) > minInterval {
			s.enqueue(url, now)
		}
	}

	// Without-replacement probabilistic selection (spec.md §4.G steps 4, 6).
	candidates := make([]string, 0, len(healthy))
	for _, url := range healthy {
		if _, probed := s.history[url]; !probed {
			candidates = append(candidates, url)
		}
	}
	if len(candidates) == 0 {
		s.history = make(map[string]struct{})
		for _, url := range healthy {
			candidates = append(candidates, url)
		}
	}

	if rand.Float64() < r && len(candidates) > 0 {
		pick := candidates[rand.IntN(len(candidates))]
		s.enqueue(pick, now)
	}
}

func (s *Scheduler) enqueue(url string, now time.Time) {
	s.queue.Add(url)
	s.history[url] = struct{}{}
	s.lastProbed[url] = now
}
