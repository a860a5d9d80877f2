package backendsvc

import (
	"encoding/json"
	"net/http"
	"time"
)

// probeResponse mirrors the JSON body expected by the proxy's probe manager
// (spec.md §6).
type probeResponse struct {
	Status            string  `json:"status"`
	InFlightRequests  float64 `json:"in_flight_requests"`
	RIFAvgLatency     float64 `json:"rif_avg_latency"`
	OverallAvgLatency float64 `json:"overall_avg_latency"`
}

// ProbeHandler serves GET {PROBE_PATH} with this backend's current metrics
// snapshot (spec.md §4.I).
func ProbeHandler(m *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := probeResponse{
			Status:            "ok",
			InFlightRequests:  float64(m.InFlight()),
			RIFAvgLatency:     m.RIFAvgLatency(),
			OverallAvgLatency: m.OverallAvgLatency(),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// InstrumentedHandler wraps next so every request is tracked by m (in-flight
// counter, RIF-bucketed latency) and tags the response with X-Backend-Id so
// callers can observe which backend served it (spec.md §6).
func InstrumentedHandler(selfURL string, m *Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		leave := m.Enter()
		start := time.Now()
		w.Header().Set("X-Backend-Id", selfURL)
		defer func() {
			leave(time.Since(start).Seconds())
		}()
		next.ServeHTTP(w, r)
	})
}
