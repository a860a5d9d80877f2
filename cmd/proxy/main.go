// Command proxy is the adaptive reverse-proxy entry point.
//
// Usage:
//
//	proxy [-config path/to/proxy.yaml]
//
// Ambient settings (rate limiting, auth, chooser algorithm) support
// zero-downtime hot-reload: edit proxy.yaml while the process is running and
// changes take effect immediately. The admin listener's enabled flag and
// address are read once at startup. The backend set itself is never static —
// backends register themselves via heartbeat against POST /register.
// Shutdown is graceful: send SIGINT or SIGTERM and in-flight requests are
// given up to 10 seconds to complete.
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
	"sync/atomic"
	"syscall"
	"time"

	"prequal/internal/admin"
	"prequal/internal/chooser"
	"prequal/internal/config"
	"prequal/internal/middleware"
	"prequal/internal/probe"
	"prequal/internal/proxy"
	"prequal/internal/registry"
)

// Version information — set at build time via -ldflags.
//
//	-X main.version=$(git describe --tags --always)
//	-X main.commit=$(git rev-parse --short HEAD)
//	-X main.buildDate=$(date -u +%Y-%m-%dT%H:%M:%SZ)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/proxy.yaml", "path to proxy.yaml")
	flag.Parse()

	startTime := time.Now()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})))

	cfg, v, err := config.Load(*configPath)
	if err != nil {
		slog.Warn("could not load config file, using defaults", "path", *configPath, "error", err)
		cfg = config.Default()
		v = nil
	}

	reg, err := registry.New(cfg.Registry.Type, registry.Config{
		HeartbeatTimeout: cfg.Registry.ParsedHeartbeatTimeout(),
		RedisURL:         cfg.Registry.RedisURL,
		RedisDB:          cfg.Registry.RedisDB,
	})
	if err != nil {
		slog.Error("failed to initialise registry", "error", err)
		os.Exit(1)
	}

	pool := probe.NewPool()
	queue := probe.NewQueue()

	probeManager := probe.NewManager(queue, pool, reg, probe.ManagerConfig{
		ProbePath:                cfg.Probe.Path,
		MaxConcurrentProbes:      cfg.Probe.MaxConcurrentProbes,
		ConsecutiveFailThreshold: cfg.Probe.ConsecutiveFailThreshold,
	})
	probeManager.Start()
	defer probeManager.Stop()

	scheduler := probe.NewScheduler(reg, queue, probe.SchedulerConfig{
		ProbeRateK:       cfg.Scheduler.ProbeRateK,
		MinProbeInterval: cfg.Scheduler.ParsedMinProbeInterval(),
	})
	scheduler.Start()
	defer scheduler.Stop()

	pick, err := chooser.New(cfg.Chooser.Algorithm, reg, pool)
	if err != nil {
		slog.Error("failed to initialise chooser", "error", err)
		os.Exit(1)
	}

	gw := proxy.New(pick, reg, nil, scheduler)

	// ── Build middleware chain ────────────────────────────────────────────────
	// Only Logger wraps the data-plane gateway: the forwarded-traffic catch-all
	// is intentionally unauthenticated and unthrottled by JWTAuth/RateLimiter —
	// those guard the admin listener instead (see buildAdminWrap below). The
	// atomicHandler still lets us swap in a fresh Logger-wrapped gw at runtime
	// to pick up any future data-plane chain changes without a restart.
	var current atomic.Value
	buildChain := func(c config.Config) http.Handler {
		return middleware.Logger(gw)
	}
	current.Store(buildChain(cfg))

	atomicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current.Load().(http.Handler).ServeHTTP(w, r)
	})

	// buildAdminWrap composes the admin dashboard's middleware from the same
	// auth/rate-limit config that, prior to this wiring, was mistakenly applied
	// to the data plane instead.
	buildAdminWrap := func(c config.Config) admin.Wrap {
		return func(h http.Handler) http.Handler {
			if c.Auth.Enabled {
				h = middleware.JWTAuth(c.Auth.Secret, c.Auth.Exclude)(h)
			}
			if c.RateLimit.Enabled {
				h = middleware.RateLimiter(c.RateLimit.RPS, c.RateLimit.Burst)(h)
			}
			return middleware.Logger(h)
		}
	}

	var adminSrv *admin.Server
	if cfg.Admin.Enabled {
		view := admin.NewView(reg, pool, queue)
		adminSrv = admin.New(view, cfg.Admin.ListenAddr, startTime, version)
		adminSrv.UpdateWrap(buildAdminWrap(cfg))
		adminSrv.Start()
	}

	if v != nil {
		config.Watch(v, func(newCfg config.Config) {
			newPick, err := chooser.New(newCfg.Chooser.Algorithm, reg, pool)
			if err != nil {
				slog.Error("hot-reload: failed to rebuild chooser", "error", err)
				return
			}
			gw.UpdateChooser(newPick)
			current.Store(buildChain(newCfg))
			if adminSrv != nil {
				adminSrv.UpdateWrap(buildAdminWrap(newCfg))
			}

			slog.Info("hot-reload applied",
				"chooser", newCfg.Chooser.Algorithm,
				"rate_limit", newCfg.RateLimit.Enabled,
				"auth", newCfg.Auth.Enabled,
			)
		})
	}

	// ── Top-level mux ─────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","version":%q,"commit":%q,"build_date":%q,"uptime":%q}`,
			version, commit, buildDate, time.Since(startTime).Round(time.Second).String())
	})
	mux.Handle("POST /register", proxy.RegisterHandler(reg))
	mux.Handle("POST /unregister", proxy.UnregisterHandler(reg))
	mux.Handle("/", atomicHandler)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("proxy listening",
			"addr", cfg.ListenAddr,
			"registry", cfg.Registry.Type,
			"chooser", cfg.Chooser.Algorithm,
			"rate_limit", cfg.RateLimit.Enabled,
			"auth", cfg.Auth.Enabled,
			"version", version,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down proxy")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if adminSrv != nil {
		_ = adminSrv.Stop(ctx)
	}

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("forced shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("proxy stopped")
}
