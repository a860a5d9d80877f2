// Package chooser implements pluggable backend-selection algorithms over the
// dynamic, heartbeat-registered backend set, including the Prequal
// hot/cold policy.
package chooser

import (
	"context"
	"errors"
	"math/rand/v2"
)

// ErrNoHealthyBackend is returned when every backend is currently unhealthy.
var ErrNoHealthyBackend = errors.New("chooser: no healthy backend available")

// Chooser selects the URL of the backend that should handle the next
// request.
type Chooser interface {
	Next(ctx context.Context) (string, error)
}

// pickRandom returns a uniformly random element of urls. Callers must ensure
// len(urls) > 0.
func pickRandom(urls []string) string {
	if len(urls) == 1 {
		return urls[0]
	}
	return urls[rand.IntN(len(urls))]
}
