package chooser

import (
	"context"

	"prequal/internal/probe"
	"prequal/internal/registry"
)

// LeastLatency picks the healthy backend with the lowest observed latency,
// grounded on original_source's least_latency_load_balancer.py.
type LeastLatency struct {
	registry registry.Registry
	pool     *probe.Pool
}

func NewLeastLatency(reg registry.Registry, pool *probe.Pool) *LeastLatency {
	return &LeastLatency{registry: reg, pool: pool}
}

func (c *LeastLatency) Next(ctx context.Context) (string, error) {
	urls, err := c.registry.HealthyURLs(ctx)
	if err != nil {
		return "", err
	}
	if len(urls) == 0 {
		return "", ErrNoHealthyBackend
	}
	snap := c.pool.Snapshot(urls)
	return minBy(urls, func(u string) float64 { return snap[u].Latency }), nil
}

// LeastRIF picks the healthy backend with the fewest requests in flight,
// grounded on original_source's least_rif_load_balancer.py.
type LeastRIF struct {
	registry registry.Registry
	pool     *probe.Pool
}

func NewLeastRIF(reg registry.Registry, pool *probe.Pool) *LeastRIF {
	return &LeastRIF{registry: reg, pool: pool}
}

func (c *LeastRIF) Next(ctx context.Context) (string, error) {
	urls, err := c.registry.HealthyURLs(ctx)
	if err != nil {
		return "", err
	}
	if len(urls) == 0 {
		return "", ErrNoHealthyBackend
	}
	snap := c.pool.Snapshot(urls)
	return minBy(urls, func(u string) float64 { return snap[u].RIF }), nil
}
