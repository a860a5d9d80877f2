package chooser

import (
	"context"

	"prequal/internal/registry"
)

// Random picks uniformly at random among the currently healthy backends,
// grounded on original_source's random_load_balancer.py.
type Random struct {
	registry registry.Registry
}

func NewRandom(reg registry.Registry) *Random {
	return &Random{registry: reg}
}

func (c *Random) Next(ctx context.Context) (string, error) {
	urls, err := c.registry.HealthyURLs(ctx)
	if err != nil {
		return "", err
	}
	if len(urls) == 0 {
		return "", ErrNoHealthyBackend
	}
	return pickRandom(urls), nil
}
