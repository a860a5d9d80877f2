package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// Wrap is a middleware applied around the admin API's mux — e.g. JWT auth
// and rate limiting. Unlike the data-plane forwarded paths, the admin
// listener carries the credential check (spec.md §6: admin endpoints sit
// behind the same auth the data plane does not).
type Wrap func(http.Handler) http.Handler

func noopWrap(h http.Handler) http.Handler { return h }

// Server is the read-only management dashboard HTTP server.
type Server struct {
	view      *View
	startTime time.Time
	version   string
	mux       http.Handler
	wrap      atomic.Value // Wrap
	srv       *http.Server
}

// New creates a management dashboard Server. Call Start to begin listening.
// No middleware is applied until UpdateWrap is called.
func New(view *View, listenAddr string, startTime time.Time, version string) *Server {
	s := &Server{view: view, startTime: startTime, version: version}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/backends", s.handleListBackends)
	mux.HandleFunc("GET /api/probes", s.handleProbes)
	s.mux = mux
	s.wrap.Store(Wrap(noopWrap))

	dispatch := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrap := s.wrap.Load().(Wrap)
		wrap(s.mux).ServeHTTP(w, r)
	})

	s.srv = &http.Server{
		Addr:         listenAddr,
		Handler:      dispatch,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// UpdateWrap atomically swaps the middleware applied around the admin API,
// for zero-downtime hot-reload of auth/rate-limit settings (mirroring
// Gateway.UpdateChooser). A nil wrap removes all middleware.
func (s *Server) UpdateWrap(wrap Wrap) {
	if wrap == nil {
		wrap = noopWrap
	}
	s.wrap.Store(wrap)
}

// Start begins listening in a background goroutine. It returns immediately.
func (s *Server) Start() {
	go func() {
		slog.Info("admin dashboard listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("admin server error", "error", err)
		}
	}()
}

// Stop gracefully shuts down the admin server within the given context deadline.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the server's dispatching handler (the mux behind the
// current Wrap), for tests that want to drive it through httptest.Server
// without binding a real listen address.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

type statsResponse struct {
	Uptime          string `json:"uptime"`
	Version         string `json:"version"`
	BackendsTotal   int    `json:"backends_total"`
	BackendsHealthy int    `json:"backends_healthy"`
	ProbePoolSize   int    `json:"probe_pool_size"`
	ProbeQueueSize  int    `json:"probe_queue_size"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.view.Stats(r.Context())
	if err != nil {
		jsonErr(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonOK(w, statsResponse{
		Uptime:          time.Since(s.startTime).Round(time.Second).String(),
		Version:         s.version,
		BackendsTotal:   stats.BackendsTotal,
		BackendsHealthy: stats.BackendsHealthy,
		ProbePoolSize:   stats.ProbePoolSize,
		ProbeQueueSize:  stats.ProbeQueueSize,
	})
}

func (s *Server) handleListBackends(w http.ResponseWriter, r *http.Request) {
	backends, err := s.view.ListBackends(r.Context())
	if err != nil {
		jsonErr(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonOK(w, backends)
}

func (s *Server) handleProbes(w http.ResponseWriter, r *http.Request) {
	jsonOK(w, s.view.Probes())
}

func jsonOK(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg}) //nolint:errcheck
}
