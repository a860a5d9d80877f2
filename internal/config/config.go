// Package config handles loading and hot-reloading of the proxy's YAML
// configuration via Viper. Unlike the teacher's static backend list, the
// backend set here is dynamic (backends register themselves via heartbeat),
// so only ambient settings are config-driven and hot-reloadable.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// RegistryCfg controls the backend registry backing store.
type RegistryCfg struct {
	Type             string `mapstructure:"type"` // "memory" | "redis"
	RedisURL         string `mapstructure:"redis_url"`
	RedisDB          int    `mapstructure:"redis_db"`
	HeartbeatTimeout string `mapstructure:"heartbeat_timeout"`
}

// ParsedHeartbeatTimeout returns HeartbeatTimeout as a time.Duration,
// defaulting to 60s.
func (r RegistryCfg) ParsedHeartbeatTimeout() time.Duration {
	d, _ := time.ParseDuration(r.HeartbeatTimeout)
	if d <= 0 {
		return 60 * time.Second
	}
	return d
}

// ProbeCfg controls the out-of-band probe manager.
type ProbeCfg struct {
	Path                     string `mapstructure:"path"`
	MaxConcurrentProbes      int    `mapstructure:"max_concurrent_probes"`
	ConsecutiveFailThreshold int    `mapstructure:"consecutive_fail_threshold"`
}

// SchedulerCfg controls the adaptive probe scheduler.
type SchedulerCfg struct {
	ProbeRateK       float64 `mapstructure:"probe_rate_k"`
	MinProbeInterval string  `mapstructure:"min_probe_interval"`
}

// ParsedMinProbeInterval returns MinProbeInterval as a time.Duration,
// defaulting to 20s.
func (s SchedulerCfg) ParsedMinProbeInterval() time.Duration {
	d, _ := time.ParseDuration(s.MinProbeInterval)
	if d <= 0 {
		return 20 * time.Second
	}
	return d
}

// ChooserCfg selects the backend-selection algorithm.
type ChooserCfg struct {
	Algorithm string `mapstructure:"algorithm"` // "prequal" | "round_robin" | "random" | ...
}

// RateLimitCfg controls per-IP token-bucket rate limiting.
type RateLimitCfg struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// AuthCfg controls JWT Bearer-token authentication on the admin listener.
type AuthCfg struct {
	Enabled bool     `mapstructure:"enabled"`
	Secret  string   `mapstructure:"secret"`
	Exclude []string `mapstructure:"exclude"`
}

// AdminCfg controls the management dashboard HTTP server.
type AdminCfg struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// Config is the top-level proxy configuration.
type Config struct {
	ListenAddr string       `mapstructure:"listen_addr"`
	Registry   RegistryCfg  `mapstructure:"registry"`
	Probe      ProbeCfg     `mapstructure:"probe"`
	Scheduler  SchedulerCfg `mapstructure:"scheduler"`
	Chooser    ChooserCfg   `mapstructure:"chooser"`
	RateLimit  RateLimitCfg `mapstructure:"rate_limit"`
	Auth       AuthCfg      `mapstructure:"auth"`
	Admin      AdminCfg     `mapstructure:"admin"`
}

// Default returns a sensible development configuration.
func Default() Config {
	return Config{
		ListenAddr: ":8000",
		Registry:   RegistryCfg{Type: "memory", HeartbeatTimeout: "60s"},
		Probe: ProbeCfg{
			Path:                     "/probe",
			MaxConcurrentProbes:      20,
			ConsecutiveFailThreshold: 3,
		},
		Scheduler: SchedulerCfg{ProbeRateK: 5.0, MinProbeInterval: "20s"},
		Chooser:   ChooserCfg{Algorithm: "prequal"},
		RateLimit: RateLimitCfg{Enabled: false, RPS: 100, Burst: 200},
		Auth:      AuthCfg{Enabled: false},
		Admin:     AdminCfg{Enabled: true, ListenAddr: ":9091"},
	}
}

// Load reads and parses the YAML file at path using Viper.
// It returns the parsed Config and the Viper instance (needed for Watch).
func Load(path string) (Config, *viper.Viper, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, nil, fmt.Errorf("config: reading %q: %w", path, err)
	}
	cfg, err := unmarshal(v)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, v, nil
}

// Watch registers an onChange callback that fires whenever the config file
// is saved. The callback receives a freshly parsed Config. Invalid reloads
// are logged and silently skipped (the previous config stays active).
func Watch(v *viper.Viper, onChange func(Config)) {
	v.WatchConfig()
	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := unmarshal(v)
		if err != nil {
			slog.Error("config hot-reload failed", "error", err)
			return
		}
		slog.Info("config hot-reloaded", "chooser", cfg.Chooser.Algorithm)
		onChange(cfg)
	})
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("listen_addr", ":8000")
	v.SetDefault("registry.type", "memory")
	v.SetDefault("registry.heartbeat_timeout", "60s")
	v.SetDefault("probe.path", "/probe")
	v.SetDefault("probe.max_concurrent_probes", 20)
	v.SetDefault("probe.consecutive_fail_threshold", 3)
	v.SetDefault("scheduler.probe_rate_k", 5.0)
	v.SetDefault("scheduler.min_probe_interval", "20s")
	v.SetDefault("chooser.algorithm", "prequal")
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.rps", 100.0)
	v.SetDefault("rate_limit.burst", 200)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.listen_addr", ":9091")

	v.SetEnvPrefix("PREQUAL")
	v.AutomaticEnv()

	return v
}

func unmarshal(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing: %w", err)
	}
	if cfg.Registry.Type != "" && cfg.Registry.Type != "memory" && cfg.Registry.Type != "redis" {
		return Config{}, fmt.Errorf("config: unknown registry type %q", cfg.Registry.Type)
	}
	if cfg.Registry.Type == "redis" && cfg.Registry.RedisURL == "" {
		return Config{}, fmt.Errorf("config: registry.redis_url is required when registry.type is redis")
	}
	return cfg, nil
}
