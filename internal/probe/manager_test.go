package probe_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prequal/internal/probe"
	"prequal/internal/registry"
)

// fakeRegistry is a minimal in-memory stand-in so Manager tests don't take a
// dependency on the registry package's own test assumptions.
type fakeRegistry struct {
	mu          sync.Mutex
	unhealthy   map[string]int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{unhealthy: make(map[string]int)}
}

func (f *fakeRegistry) Register(context.Context, registry.BackendInfo) (registry.BackendInfo, error) {
	return registry.BackendInfo{}, nil
}
func (f *fakeRegistry) Unregister(context.Context, string) error { return nil }
func (f *fakeRegistry) List(context.Context) ([]registry.BackendInfo, error) { return nil, nil }

func (f *fakeRegistry) MarkUnhealthy(_ context.Context, url string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unhealthy[url]++
	return true, nil
}

func (f *fakeRegistry) IsHealthy(context.Context, string) (bool, error) { return true, nil }
func (f *fakeRegistry) HealthyURLs(context.Context) ([]string, error)  { return nil, nil }

func (f *fakeRegistry) markedCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unhealthy[url]
}

func TestManager_SuccessfulProbe_FeedsPool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","in_flight_requests":3,"rif_avg_latency":12.5,"overall_avg_latency":10.0}`))
	}))
	defer srv.Close()

	pool := probe.NewPool()
	queue := probe.NewQueue()
	reg := newFakeRegistry()
	mgr := probe.NewManager(queue, pool, reg, probe.ManagerConfig{})
	mgr.Start()
	defer mgr.Stop()

	queue.Add(srv.URL)

	require.Eventually(t, func() bool {
		return pool.Len() == 1
	}, time.Second, 5*time.Millisecond)

	snap := pool.Snapshot([]string{srv.URL})
	assert.True(t, snap[srv.URL].HasSample)
}

func TestManager_RepeatedFailures_MarksUnhealthyAtThreshold(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	pool := probe.NewPool()
	queue := probe.NewQueue()
	reg := newFakeRegistry()
	mgr := probe.NewManager(queue, pool, reg, probe.ManagerConfig{ConsecutiveFailThreshold: 2})
	mgr.Start()
	defer mgr.Stop()

	queue.Add(srv.URL)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, reg.markedCount(srv.URL), "should not be marked unhealthy below the threshold")

	queue.Add(srv.URL)
	require.Eventually(t, func() bool { return reg.markedCount(srv.URL) >= 1 }, time.Second, 5*time.Millisecond)
}
