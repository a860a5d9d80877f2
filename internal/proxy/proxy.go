// Package proxy is the core request-forwarding layer: a circuit-breaker-
// aware http.Handler that picks a backend via a chooser.Chooser, pre-flight
// gates on registry health, and streams the upstream response back to the
// client.
package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"prequal/internal/chooser"
	"prequal/internal/hooks"
	"prequal/internal/registry"
)

// connectTimeout and readTimeout bound the upstream round trip (spec.md §4.B).
const (
	connectTimeout = 10 * time.Second
	readTimeout    = 15 * time.Second
)

// breakerFailureThreshold is how many consecutive upstream failures open a
// backend's circuit breaker, mirroring CONSECUTIVE_FAILURE_THRESHOLD.
const breakerFailureThreshold = 3

// breakerCooldown is how long an open breaker stays open before allowing a
// single trial request through (half-open).
const breakerCooldown = 30 * time.Second

// errUpstreamServerError signals a received 5xx response back through
// gobreaker.Execute so it counts toward ConsecutiveFailures exactly like a
// transport error does (spec.md §4.H step 6 / §7). The response itself is
// still relayed to the client — it is a real answer from the backend, not a
// proxy-level failure.
var errUpstreamServerError = errors.New("proxy: upstream returned 5xx")

// requestRecorder is notified on every ingress request so the adaptive probe
// scheduler can estimate RPS. Implemented by *probe.Scheduler.
type requestRecorder interface {
	RecordRequest()
}

// Gateway is the central http.Handler. It is safe for concurrent use.
type Gateway struct {
	chooserMu sync.RWMutex
	chooser   chooser.Chooser

	registry registry.Registry
	hooks    *hooks.Chain
	recorder requestRecorder

	transport      *http.Transport
	requestTimeout time.Duration

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*http.Response]
}

// Option configures optional Gateway behavior at construction time.
type Option func(*gatewayOpts)

type gatewayOpts struct {
	connectTimeout time.Duration
	readTimeout    time.Duration
}

// WithTimeouts overrides the default connect/response-header timeouts used by
// the upstream transport. Intended for tests that need to exercise the 504
// timeout path without waiting out the production defaults.
func WithTimeouts(connect, read time.Duration) Option {
	return func(o *gatewayOpts) {
		o.connectTimeout = connect
		o.readTimeout = read
	}
}

// New creates a Gateway. chain and recorder may be nil.
func New(c chooser.Chooser, reg registry.Registry, chain *hooks.Chain, recorder requestRecorder, opts ...Option) *Gateway {
	o := gatewayOpts{connectTimeout: connectTimeout, readTimeout: readTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	return &Gateway{
		chooser:  c,
		registry: reg,
		hooks:    chain,
		recorder: recorder,
		transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout: o.connectTimeout,
			}).DialContext,
			ResponseHeaderTimeout: o.readTimeout,
		},
		requestTimeout: o.connectTimeout + o.readTimeout,
		breakers:       make(map[string]*gobreaker.CircuitBreaker[*http.Response]),
	}
}

// UpdateChooser atomically swaps the active Chooser. In-flight requests using
// the old chooser complete normally; new requests use the new chooser
// immediately.
func (gw *Gateway) UpdateChooser(c chooser.Chooser) {
	gw.chooserMu.Lock()
	gw.chooser = c
	gw.chooserMu.Unlock()
}

// ServeHTTP satisfies http.Handler.
func (gw *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if gw.recorder != nil {
		gw.recorder.RecordRequest()
	}

	ctx := r.Context()

	gw.chooserMu.RLock()
	c := gw.chooser
	gw.chooserMu.RUnlock()

	url, err := c.Next(ctx)
	if err != nil {
		slog.Error("no backend available", "error", err)
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	// Pre-flight health gate: never attempt a call against a backend the
	// registry currently considers unhealthy, even if the chooser raced
	// with a heartbeat timeout (spec.md §4.B).
	healthy, err := gw.registry.IsHealthy(ctx, url)
	if err != nil {
		slog.Error("registry health check failed", "backend", url, "error", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	if !healthy {
		http.Error(w, "backend unhealthy", http.StatusServiceUnavailable)
		return
	}

	breaker := gw.breakerFor(url)

	resp, err := breaker.Execute(func() (*http.Response, error) {
		return gw.forward(r, url)
	})
	switch {
	case err == nil:
		// fall through to the relay below
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		http.Error(w, "backend circuit open", http.StatusServiceUnavailable)
		return
	case errors.Is(err, errUpstreamServerError):
		// resp is the backend's real 5xx response; the failure has already
		// been recorded against the breaker above, relay it as-is.
	default:
		slog.Error("upstream request failed", "backend", url, "error", err)
		if isTimeout(err) {
			http.Error(w, "upstream timeout", http.StatusGatewayTimeout)
		} else {
			http.Error(w, "bad gateway", http.StatusBadGateway)
		}
		return
	}
	defer resp.Body.Close()

	gw.hooks.RunResponse(resp)

	copyHeader(w.Header(), resp.Header)
	w.Header().Del("Content-Encoding") // body below is not re-compressed
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func (gw *Gateway) breakerFor(url string) *gobreaker.CircuitBreaker[*http.Response] {
	gw.mu.Lock()
	defer gw.mu.Unlock()

	if b, ok := gw.breakers[url]; ok {
		return b
	}

	target := url
	b := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:    target,
		Timeout: breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change", "backend", name, "from", from, "to", to)
			if to == gobreaker.StateOpen {
				if _, err := gw.registry.MarkUnhealthy(context.Background(), name); err != nil {
					slog.Error("failed to mark backend unhealthy on circuit open", "backend", name, "error", err)
				}
			}
		},
	})
	gw.breakers[url] = b
	return b
}

func (gw *Gateway) forward(r *http.Request, backendURL string) (*http.Response, error) {
	outURL := backendURL + gw.hooks.Path(r)
	if r.URL.RawQuery != "" {
		outURL += "?" + r.URL.RawQuery
	}

	ctx, cancel := context.WithTimeout(r.Context(), gw.requestTimeout)
	defer cancel()

	outReq, err := http.NewRequestWithContext(ctx, r.Method, outURL, r.Body)
	if err != nil {
		return nil, err
	}
	outReq.Header = r.Header.Clone()
	outReq.Header.Del("Te")
	outReq.Header.Del("Trailers")

	if prior := outReq.Header.Get("X-Forwarded-For"); prior != "" {
		outReq.Header.Set("X-Forwarded-For", prior+", "+r.RemoteAddr)
	} else {
		outReq.Header.Set("X-Forwarded-For", r.RemoteAddr)
	}
	outReq.Header.Set("X-Real-IP", r.RemoteAddr)
	outReq.Header.Set("X-Forwarded-Host", r.Host)
	outReq.Header.Set("X-Forwarded-Proto", requestScheme(r))

	gw.hooks.RunRequest(outReq)

	client := &http.Client{Transport: gw.transport}
	resp, err := client.Do(outReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return resp, errUpstreamServerError
	}
	return resp, nil
}

// isTimeout reports whether err represents the upstream round trip exceeding
// its deadline (spec.md §4.H step 5 / §7: timeouts map to 504, distinct from
// other transport failures which map to 502).
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func requestScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return strings.ToLower(proto)
	}
	return "http"
}
