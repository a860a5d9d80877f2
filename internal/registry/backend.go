// Package registry is the authoritative set of backends behind the proxy.
// It tracks heartbeat-driven health and the metric fields each backend last
// reported about itself, and hands out point-in-time snapshots to the
// Prequal chooser and the probe subsystem.
package registry

import "fmt"

// BackendInfo is the wire and snapshot representation of a single backend.
// Equality and identity are by URL; Port is informational only.
type BackendInfo struct {
	URL               string  `json:"url"`
	Port              int     `json:"port,omitempty"`
	Healthy           bool    `json:"health"`
	InFlightRequests  float64 `json:"in_flight_requests"`
	RIFAvgLatency     float64 `json:"rif_avg_latency"`
	OverallAvgLatency float64 `json:"overall_avg_latency"`
}

func (b BackendInfo) String() string {
	return fmt.Sprintf("Backend(url=%s, port=%d, healthy=%t, in_flight=%.2f, rif_latency=%.4f, avg_latency=%.4f)",
		b.URL, b.Port, b.Healthy, b.InFlightRequests, b.RIFAvgLatency, b.OverallAvgLatency)
}
