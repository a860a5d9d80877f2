package chooser

import (
	"context"
	"math/rand/v2"

	"prequal/internal/probe"
	"prequal/internal/registry"
)

// P2CLatency samples two healthy backends uniformly at random and picks the
// one with lower observed latency, grounded on original_source's
// least_latency_power_of_two_choices_load_balancer.py.
type P2CLatency struct {
	registry registry.Registry
	pool     *probe.Pool
}

func NewP2CLatency(reg registry.Registry, pool *probe.Pool) *P2CLatency {
	return &P2CLatency{registry: reg, pool: pool}
}

func (c *P2CLatency) Next(ctx context.Context) (string, error) {
	urls, err := c.registry.HealthyURLs(ctx)
	if err != nil {
		return "", err
	}
	if len(urls) == 0 {
		return "", ErrNoHealthyBackend
	}
	if len(urls) == 1 {
		return urls[0], nil
	}
	a, b := sampleTwo(urls)
	snap := c.pool.Snapshot([]string{a, b})
	if snap[a].Latency <= snap[b].Latency {
		return a, nil
	}
	return b, nil
}

// P2CRIF samples two healthy backends uniformly at random and picks the one
// with fewer requests in flight, grounded on original_source's
// least_rif_power_of_two_choices_load_balancer.py.
type P2CRIF struct {
	registry registry.Registry
	pool     *probe.Pool
}

func NewP2CRIF(reg registry.Registry, pool *probe.Pool) *P2CRIF {
	return &P2CRIF{registry: reg, pool: pool}
}

func (c *P2CRIF) Next(ctx context.Context) (string, error) {
	urls, err := c.registry.HealthyURLs(ctx)
	if err != nil {
		return "", err
	}
	if len(urls) == 0 {
		return "", ErrNoHealthyBackend
	}
	if len(urls) == 1 {
		return urls[0], nil
	}
	a, b := sampleTwo(urls)
	snap := c.pool.Snapshot([]string{a, b})
	if snap[a].RIF <= snap[b].RIF {
		return a, nil
	}
	return b, nil
}

// sampleTwo picks two distinct elements of urls uniformly at random, without
// replacement.
func sampleTwo(urls []string) (string, string) {
	i := rand.IntN(len(urls))
	j := rand.IntN(len(urls) - 1)
	if j >= i {
		j++
	}
	return urls[i], urls[j]
}
