package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces every backend key so a shared Redis instance can also
// be used for other concerns without collision.
const keyPrefix = "prequal:backend:"

// Redis is a Registry backed by an external key-value store, so that a
// fleet of proxy replicas can share one view of the backend set. Heartbeats
// are stored with a TTL (3×HeartbeatTimeout, floor 30s per spec.md §4.A) so
// a crashed backend ages out of the shared registry without an explicit
// Unregister call. Redis does not record heartbeat times: a backend keeps the
// Healthy flag it was last stored with until its key expires, and is then
// absent from List and reported unhealthy by IsHealthy. It is not marked
// unhealthy once HeartbeatTimeout alone has passed.
type Redis struct {
	cfg    Config
	client *redis.Client
}

// NewRedis dials the configured Redis instance. Dialing itself is lazy in
// go-redis (the first command establishes the connection); NewRedis never
// returns an error for connectivity reasons, only for a malformed URL.
func NewRedis(cfg Config) (*Redis, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("registry: invalid redis url: %w", err)
	}
	if cfg.RedisDB != 0 {
		opts.DB = cfg.RedisDB
	}
	return &Redis{cfg: cfg, client: redis.NewClient(opts)}, nil
}

func (r *Redis) key(url string) string { return keyPrefix + url }

// do runs fn against the client, retrying exactly once after a PING if the
// first attempt fails — the "single reconnect on a stale connection" spec.md
// §4.A allows. Any failure after that is surfaced to the caller verbatim.
func (r *Redis) do(ctx context.Context, fn func() error) error {
	if err := fn(); err != nil {
		if errors.Is(err, redis.Nil) {
			return err
		}
		if pingErr := r.client.Ping(ctx).Err(); pingErr != nil {
			slog.Warn("registry: redis connection stale, reconnecting", "error", pingErr)
		}
		return fn()
	}
	return nil
}

func (r *Redis) Register(ctx context.Context, info BackendInfo) (BackendInfo, error) {
	var existing BackendInfo
	err := r.do(ctx, func() error {
		raw, getErr := r.client.Get(ctx, r.key(info.URL)).Bytes()
		if getErr != nil {
			if errors.Is(getErr, redis.Nil) {
				existing = BackendInfo{}
				return nil
			}
			return getErr
		}
		return json.Unmarshal(raw, &existing)
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return BackendInfo{}, fmt.Errorf("registry: redis get: %w", err)
	}
	if existing.URL != "" {
		info.InFlightRequests = existing.InFlightRequests
		info.RIFAvgLatency = existing.RIFAvgLatency
		info.OverallAvgLatency = existing.OverallAvgLatency
	}

	payload, marshalErr := json.Marshal(info)
	if marshalErr != nil {
		return BackendInfo{}, fmt.Errorf("registry: marshal backend: %w", marshalErr)
	}
	err = r.do(ctx, func() error {
		return r.client.Set(ctx, r.key(info.URL), payload, r.cfg.redisTTL()).Err()
	})
	if err != nil {
		return BackendInfo{}, fmt.Errorf("registry: redis set: %w", err)
	}
	return info, nil
}

func (r *Redis) Unregister(ctx context.Context, url string) error {
	err := r.do(ctx, func() error {
		return r.client.Del(ctx, r.key(url)).Err()
	})
	if err != nil {
		return fmt.Errorf("registry: redis del: %w", err)
	}
	return nil
}

func (r *Redis) List(ctx context.Context) ([]BackendInfo, error) {
	var keys []string
	err := r.do(ctx, func() error {
		var scanErr error
		keys, scanErr = r.client.Keys(ctx, keyPrefix+"*").Result()
		return scanErr
	})
	if err != nil {
		return nil, fmt.Errorf("registry: redis keys: %w", err)
	}

	out := make([]BackendInfo, 0, len(keys))
	for _, key := range keys {
		var raw []byte
		getErr := r.do(ctx, func() error {
			var e error
			raw, e = r.client.Get(ctx, key).Bytes()
			return e
		})
		if errors.Is(getErr, redis.Nil) {
			// expired between KEYS and GET — already aged out of the shared
			// registry by its TTL; skip it.
			continue
		}
		if getErr != nil {
			return nil, fmt.Errorf("registry: redis get: %w", getErr)
		}
		var info BackendInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

func (r *Redis) MarkUnhealthy(ctx context.Context, url string) (bool, error) {
	var raw []byte
	err := r.do(ctx, func() error {
		var e error
		raw, e = r.client.Get(ctx, r.key(url)).Bytes()
		return e
	})
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("registry: redis get: %w", err)
	}

	var info BackendInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return false, fmt.Errorf("registry: unmarshal backend: %w", err)
	}
	if info.Healthy {
		slog.Warn("registry: backend marked unhealthy", "url", url)
	}
	info.Healthy = false

	payload, err := json.Marshal(info)
	if err != nil {
		return false, fmt.Errorf("registry: marshal backend: %w", err)
	}
	err = r.do(ctx, func() error {
		ttl := r.client.TTL(ctx, r.key(url)).Val()
		if ttl <= 0 {
			ttl = r.cfg.redisTTL()
		}
		return r.client.Set(ctx, r.key(url), payload, ttl).Err()
	})
	if err != nil {
		return false, fmt.Errorf("registry: redis set: %w", err)
	}
	return true, nil
}

func (r *Redis) IsHealthy(ctx context.Context, url string) (bool, error) {
	var raw []byte
	err := r.do(ctx, func() error {
		var e error
		raw, e = r.client.Get(ctx, r.key(url)).Bytes()
		return e
	})
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("registry: redis get: %w", err)
	}
	var info BackendInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return false, fmt.Errorf("registry: unmarshal backend: %w", err)
	}
	return info.Healthy, nil
}

func (r *Redis) HealthyURLs(ctx context.Context) ([]string, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(all))
	for _, info := range all {
		if info.Healthy {
			out = append(out, info.URL)
		}
	}
	return out, nil
}

// Close releases the underlying Redis client connections.
func (r *Redis) Close() error { return r.client.Close() }
