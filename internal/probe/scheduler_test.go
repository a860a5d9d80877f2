package probe_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prequal/internal/probe"
	"prequal/internal/registry"
)

type staticHealthyRegistry struct {
	fakeRegistry
	urls []string
}

func (s *staticHealthyRegistry) HealthyURLs(context.Context) ([]string, error) {
	return s.urls, nil
}

func TestScheduler_FairnessFloor_ForcesEnqueueWhenOverdue(t *testing.T) {
	reg := &staticHealthyRegistry{urls: []string{"http://a", "http://b"}}
	queue := probe.NewQueue()

	sched := probe.NewScheduler(reg, queue, probe.SchedulerConfig{
		ProbeRateK:       0, // K/RPS with RPS=0 -> r=1.0 anyway, but MinProbeInterval below dominates first tick
		MinProbeInterval: time.Millisecond,
	})
	sched.Start()
	defer sched.Stop()

	require.Eventually(t, func() bool {
		return queue.Size() >= 1
	}, time.Second, 5*time.Millisecond, "fairness floor should enqueue overdue backends")
}

func TestScheduler_NoHealthyBackends_NeverEnqueues(t *testing.T) {
	reg := &staticHealthyRegistry{urls: nil}
	queue := probe.NewQueue()

	sched := probe.NewScheduler(reg, queue, probe.SchedulerConfig{})
	sched.Start()
	defer sched.Stop()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, queue.Size())
}

func TestScheduler_RecordRequest_FeedsRPSEstimate(t *testing.T) {
	reg := &staticHealthyRegistry{urls: []string{"http://a"}}
	queue := probe.NewQueue()
	sched := probe.NewScheduler(reg, queue, probe.SchedulerConfig{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			sched.RecordRequest()
		}
	}()
	wg.Wait()

	// RecordRequest must not panic or deadlock when called concurrently with
	// ticks; the exact RPS value is not asserted since it is time-sensitive.
	sched.Start()
	time.Sleep(30 * time.Millisecond)
	sched.Stop()
}

func TestScheduler_StopIsIdempotentWithoutStart(t *testing.T) {
	reg := &staticHealthyRegistry{}
	queue := probe.NewQueue()
	sched := probe.NewScheduler(reg, queue, probe.SchedulerConfig{})
	sched.Stop() // must not panic when Start was never called
}

var _ registry.Registry = (*staticHealthyRegistry)(nil)
