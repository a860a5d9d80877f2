package proxy

import (
	"encoding/json"
	"net/http"

	"prequal/internal/registry"
)

// registerBody mirrors the JSON body accepted by POST /register and
// POST /unregister (spec.md §6).
type registerBody struct {
	URL               string  `json:"url"`
	Port              int     `json:"port,omitempty"`
	Health            *bool   `json:"health,omitempty"`
	InFlightRequests  float64 `json:"in_flight_requests,omitempty"`
	RIFAvgLatency     float64 `json:"rif_avg_latency,omitempty"`
	OverallAvgLatency float64 `json:"overall_avg_latency,omitempty"`
}

type registerResponse struct {
	Status  string                  `json:"status"`
	Backend registry.BackendInfo    `json:"backend"`
}

// RegisterHandler serves POST /register: both a backend's initial
// registration and its periodic heartbeat (spec.md §6).
func RegisterHandler(reg registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body registerBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			jsonError(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if body.URL == "" {
			jsonError(w, "url is required", http.StatusBadRequest)
			return
		}

		healthy := true
		if body.Health != nil {
			healthy = *body.Health
		}

		info, err := reg.Register(r.Context(), registry.BackendInfo{
			URL:               body.URL,
			Port:              body.Port,
			Healthy:           healthy,
			InFlightRequests:  body.InFlightRequests,
			RIFAvgLatency:     body.RIFAvgLatency,
			OverallAvgLatency: body.OverallAvgLatency,
		})
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}

		jsonOK(w, registerResponse{Status: "registered", Backend: info})
	}
}

// UnregisterHandler serves POST /unregister (spec.md §6).
func UnregisterHandler(reg registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body registerBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			jsonError(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if body.URL == "" {
			jsonError(w, "url is required", http.StatusBadRequest)
			return
		}

		if err := reg.Unregister(r.Context(), body.URL); err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}

		jsonOK(w, map[string]string{"status": "unregistered", "url": body.URL})
	}
}

func jsonOK(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
