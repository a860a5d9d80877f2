package backendsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// DefaultHeartbeatInterval is BACKEND_HEARTBEAT_SECONDS's default (spec.md §6).
const DefaultHeartbeatInterval = 30 * time.Second

// registerBody mirrors the JSON payload the proxy's POST /register expects.
type registerBody struct {
	URL               string  `json:"url"`
	Port              int     `json:"port,omitempty"`
	Health            bool    `json:"health"`
	InFlightRequests  float64 `json:"in_flight_requests"`
	RIFAvgLatency     float64 `json:"rif_avg_latency"`
	OverallAvgLatency float64 `json:"overall_avg_latency"`
}

// HeartbeatClient periodically pushes this backend's self-view to the
// proxy's /register endpoint. There is no sequence number: the registry is
// last-writer-wins, so a failed push is simply retried on the next tick
// (spec.md §4.J).
type HeartbeatClient struct {
	proxyURL   string
	selfURL    string
	port       int
	interval   time.Duration
	metrics    *Metrics
	client     *http.Client

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHeartbeatClient constructs a client that registers selfURL (optionally
// with port) against proxyURL, reading live metrics from m.
func NewHeartbeatClient(proxyURL, selfURL string, port int, interval time.Duration, m *Metrics) *HeartbeatClient {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &HeartbeatClient{
		proxyURL: proxyURL,
		selfURL:  selfURL,
		port:     port,
		interval: interval,
		metrics:  m,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// Start begins the background heartbeat loop, sending one heartbeat
// immediately so the backend becomes routable without waiting a full tick.
func (h *HeartbeatClient) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()

		h.send(ctx)

		for {
			select {
			case <-ticker.C:
				h.send(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop shuts down the heartbeat loop and waits for it to exit.
func (h *HeartbeatClient) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()
}

func (h *HeartbeatClient) send(ctx context.Context) {
	body := registerBody{
		URL:               h.selfURL,
		Port:              h.port,
		Health:            true,
		InFlightRequests:  float64(h.metrics.InFlight()),
		RIFAvgLatency:     h.metrics.RIFAvgLatency(),
		OverallAvgLatency: h.metrics.OverallAvgLatency(),
	}

	payload, err := json.Marshal(body)
	if err != nil {
		slog.Error("heartbeat: failed to encode payload", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.proxyURL+"/register", bytes.NewReader(payload))
	if err != nil {
		slog.Error("heartbeat: failed to build request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		slog.Warn("heartbeat: send failed", "proxy", h.proxyURL, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("heartbeat: unexpected response", "proxy", h.proxyURL, "status", resp.StatusCode)
		return
	}
}
