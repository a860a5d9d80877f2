package backendsvc_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prequal/internal/backendsvc"
)

func TestProbeHandler_ReturnsOkStatus(t *testing.T) {
	m := backendsvc.NewMetrics(nil)
	srv := httptest.NewServer(backendsvc.ProbeHandler(m))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestInstrumentedHandler_SetsBackendIdHeader(t *testing.T) {
	m := backendsvc.NewMetrics(nil)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := backendsvc.InstrumentedHandler("http://backend-a:9000", m, next)

	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "http://backend-a:9000", resp.Header.Get("X-Backend-Id"))
	assert.Equal(t, int64(0), m.InFlight(), "in-flight counter should return to zero after the request completes")
}
