// Command backend is a reference backend replica: it heartbeats against a
// proxy's POST /register, serves /probe with live RIF-bucketed latency
// stats, and answers application requests tagged with X-Backend-Id.
//
// Usage:
//
//	backend [-proxy-url http://localhost:8000] [-self-url http://localhost:8001] [-port 8001]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"prequal/internal/backendsvc"
)

func main() {
	proxyURL := flag.String("proxy-url", envOr("PROXY_URL", "http://localhost:8000"), "proxy endpoint to register with")
	selfURL := flag.String("self-url", envOr("BACKEND_URL", "http://localhost:8001"), "this backend's externally reachable URL")
	port := flag.Int("port", 8001, "port to listen on")
	heartbeatSeconds := flag.Int("heartbeat-seconds", 30, "heartbeat cadence in seconds")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	metrics := backendsvc.NewMetrics(nil)

	hb := backendsvc.NewHeartbeatClient(*proxyURL, *selfURL, *port, time.Duration(*heartbeatSeconds)*time.Second, metrics)
	hb.Start()
	defer hb.Stop()

	mux := http.NewServeMux()
	mux.Handle("GET /probe", backendsvc.ProbeHandler(metrics))
	mux.Handle("GET /", backendsvc.InstrumentedHandler(*selfURL, metrics, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"message":"hello from backend at %s"}`, *selfURL)
	})))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		slog.Info("backend listening", "addr", srv.Addr, "self_url", *selfURL, "proxy_url", *proxyURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down backend")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("forced shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("backend stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
