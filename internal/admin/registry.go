// Package admin provides the read-only management dashboard API: a JSON
// view over the backend registry and probe subsystem state. Unlike the
// teacher's static backend list, here the registry is the single source of
// truth (backends register themselves via heartbeat) — this package only
// reads it.
package admin

import (
	"context"

	"prequal/internal/probe"
	"prequal/internal/registry"
)

// View composes read access to the registry and probe subsystem for the
// dashboard API.
type View struct {
	registry registry.Registry
	pool     *probe.Pool
	queue    *probe.Queue
}

// NewView constructs a View over the given components.
func NewView(reg registry.Registry, pool *probe.Pool, queue *probe.Queue) *View {
	return &View{registry: reg, pool: pool, queue: queue}
}

// BackendView is the JSON representation of one backend's registry and
// probe-derived state.
type BackendView struct {
	URL               string  `json:"url"`
	Port              int     `json:"port,omitempty"`
	Healthy           bool    `json:"healthy"`
	InFlightRequests  float64 `json:"in_flight_requests"`
	RIFAvgLatency     float64 `json:"rif_avg_latency"`
	OverallAvgLatency float64 `json:"overall_avg_latency"`
	ProbeLatency      float64 `json:"probe_latency"`
	ProbeRIF          float64 `json:"probe_rif"`
	Temperature       string  `json:"temperature"`
	HasProbeSample    bool    `json:"has_probe_sample"`
}

// ListBackends returns every registered backend merged with its current
// probe-pool signal.
func (v *View) ListBackends(ctx context.Context) ([]BackendView, error) {
	backends, err := v.registry.List(ctx)
	if err != nil {
		return nil, err
	}

	urls := make([]string, len(backends))
	for i, b := range backends {
		urls[i] = b.URL
	}
	snap := v.pool.Snapshot(urls)

	out := make([]BackendView, len(backends))
	for i, b := range backends {
		sig := snap[b.URL]
		out[i] = BackendView{
			URL:               b.URL,
			Port:              b.Port,
			Healthy:           b.Healthy,
			InFlightRequests:  b.InFlightRequests,
			RIFAvgLatency:     b.RIFAvgLatency,
			OverallAvgLatency: b.OverallAvgLatency,
			ProbeLatency:      sig.Latency,
			ProbeRIF:          sig.RIF,
			Temperature:       sig.Temperature.String(),
			HasProbeSample:    sig.HasSample,
		}
	}
	return out, nil
}

// ProbeState is the JSON representation of the probe subsystem served at
// /api/probes: what the pool currently holds a window for, and what is
// presently queued for an out-of-band probe.
type ProbeState struct {
	TrackedBackends int      `json:"tracked_backends"`
	QueueSize       int      `json:"queue_size"`
	Queued          []string `json:"queued"`
}

// Probes returns the current probe pool/queue introspection snapshot.
func (v *View) Probes() ProbeState {
	return ProbeState{
		TrackedBackends: v.pool.Len(),
		QueueSize:       v.queue.Size(),
		Queued:          v.queue.Pending(),
	}
}

// Stats is the aggregate status summary served at /api/stats.
type Stats struct {
	BackendsTotal   int `json:"backends_total"`
	BackendsHealthy int `json:"backends_healthy"`
	ProbePoolSize   int `json:"probe_pool_size"`
	ProbeQueueSize  int `json:"probe_queue_size"`
}

// Stats computes the aggregate summary.
func (v *View) Stats(ctx context.Context) (Stats, error) {
	backends, err := v.registry.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	healthy := 0
	for _, b := range backends {
		if b.Healthy {
			healthy++
		}
	}
	return Stats{
		BackendsTotal:   len(backends),
		BackendsHealthy: healthy,
		ProbePoolSize:   v.pool.Len(),
		ProbeQueueSize:  v.queue.Size(),
	}, nil
}
