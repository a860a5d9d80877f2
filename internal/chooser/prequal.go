package chooser

import (
	"context"

	"prequal/internal/probe"
	"prequal/internal/registry"
)

// Prequal implements the hot/cold backend-selection policy: healthy
// backends are partitioned by their probe-derived Temperature, cold
// backends are preferred and chosen by minimum observed latency, and when
// every backend is hot the choice falls back to minimum requests-in-flight.
// Ties are broken uniformly at random (spec.md §4.F).
type Prequal struct {
	registry registry.Registry
	pool     *probe.Pool
}

// NewPrequal constructs a Prequal chooser reading backend health from reg
// and probe signals from pool.
func NewPrequal(reg registry.Registry, pool *probe.Pool) *Prequal {
	return &Prequal{registry: reg, pool: pool}
}

func (c *Prequal) Next(ctx context.Context) (string, error) {
	urls, err := c.registry.HealthyURLs(ctx)
	if err != nil {
		return "", err
	}
	if len(urls) == 0 {
		return "", ErrNoHealthyBackend
	}

	snap := c.pool.Snapshot(urls)

	var cold, hot []string
	for _, u := range urls {
		if snap[u].Temperature == probe.Hot {
			hot = append(hot, u)
		} else {
			cold = append(cold, u)
		}
	}

	if len(cold) > 0 {
		return minBy(cold, func(u string) float64 { return snap[u].Latency }), nil
	}
	return minBy(hot, func(u string) float64 { return snap[u].RIF }), nil
}

// minBy returns the element of urls minimizing key, breaking ties uniformly
// at random among all elements tied for the minimum.
func minBy(urls []string, key func(string) float64) string {
	best := key(urls[0])
	tied := []string{urls[0]}
	for _, u := range urls[1:] {
		v := key(u)
		switch {
		case v < best:
			best = v
			tied = tied[:0]
			tied = append(tied, u)
		case v == best:
			tied = append(tied, u)
		}
	}
	return pickRandom(tied)
}
