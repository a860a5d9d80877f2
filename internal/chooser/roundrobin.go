package chooser

import (
	"context"
	"sync/atomic"

	"prequal/internal/registry"
)

// RoundRobin cycles through the currently healthy backends in registry list
// order, grounded on original_source's round_robin_load_balancer.py.
type RoundRobin struct {
	registry registry.Registry
	next     atomic.Uint64
}

func NewRoundRobin(reg registry.Registry) *RoundRobin {
	return &RoundRobin{registry: reg}
}

func (c *RoundRobin) Next(ctx context.Context) (string, error) {
	urls, err := c.registry.HealthyURLs(ctx)
	if err != nil {
		return "", err
	}
	if len(urls) == 0 {
		return "", ErrNoHealthyBackend
	}
	i := c.next.Add(1) - 1
	return urls[int(i%uint64(len(urls)))], nil
}
