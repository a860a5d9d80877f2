package registry

import (
	"context"
	"errors"
)

// ErrUnknownBackend names the condition of a URL the registry has never seen
// (or has since forgotten). The implementations in this package do not return
// it: MarkUnhealthy and IsHealthy report an unknown URL as false with a nil
// error.
var ErrUnknownBackend = errors.New("registry: unknown backend")

// Registry is the authoritative set of backends. Implementations must make
// IsHealthy an O(1), non-allocating read path, since it sits on the
// Forwarder's circuit-breaker gate for every proxied request.
//
// Operations either succeed or return a store-unavailable error; they do not
// retry internally beyond a single reconnect attempt on a stale connection
// (relevant only to store-backed implementations such as Redis).
type Registry interface {
	// Register upserts a backend by URL. If the URL is already known, its
	// observed metric fields (InFlightRequests, RIFAvgLatency,
	// OverallAvgLatency) are preserved and only Healthy is adopted from
	// info; the heartbeat timestamp is always refreshed to now. The backend
	// as stored after the upsert is returned.
	Register(ctx context.Context, info BackendInfo) (BackendInfo, error)

	// Unregister removes url from the registry. It is not an error to
	// unregister a URL that is not present.
	Unregister(ctx context.Context, url string) error

	// List returns every known backend. In Memory, any backend whose last
	// heartbeat is older than the configured timeout is reported with
	// Healthy=false — this transition is observed and applied on read. Redis
	// does not track heartbeat age; see Redis.
	List(ctx context.Context) ([]BackendInfo, error)

	// MarkUnhealthy idempotently clears the healthy flag for url. It reports
	// whether url was known to the registry.
	MarkUnhealthy(ctx context.Context, url string) (bool, error)

	// IsHealthy is the O(1) read path used by the circuit-breaker gate.
	IsHealthy(ctx context.Context, url string) (bool, error)

	// HealthyURLs returns the URLs of every currently healthy backend.
	HealthyURLs(ctx context.Context) ([]string, error)
}
