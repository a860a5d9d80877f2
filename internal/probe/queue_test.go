package probe_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prequal/internal/probe"
)

func TestQueue_Add_DeduplicatesPendingURL(t *testing.T) {
	q := probe.NewQueue()

	assert.True(t, q.Add("http://a"))
	assert.False(t, q.Add("http://a"), "second add of a still-pending URL must be a no-op")
	assert.Equal(t, 1, q.Size())
}

func TestQueue_Add_AllowsReAddAfterTake(t *testing.T) {
	q := probe.NewQueue()

	q.Add("http://a")
	got, err := q.Take()
	require.NoError(t, err)
	assert.Equal(t, "http://a", got)

	assert.True(t, q.Add("http://a"), "URL should be addable again once no longer pending")
}

func TestQueue_Take_FIFOOrder(t *testing.T) {
	q := probe.NewQueue()
	q.Add("http://a")
	q.Add("http://b")

	first, err := q.Take()
	require.NoError(t, err)
	second, err := q.Take()
	require.NoError(t, err)

	assert.Equal(t, "http://a", first)
	assert.Equal(t, "http://b", second)
}

func TestQueue_Take_BlocksUntilAdd(t *testing.T) {
	q := probe.NewQueue()

	done := make(chan string, 1)
	go func() {
		url, err := q.Take()
		if err == nil {
			done <- url
		}
	}()

	select {
	case <-done:
		t.Fatal("Take returned before any URL was added")
	case <-time.After(20 * time.Millisecond):
	}

	q.Add("http://a")

	select {
	case url := <-done:
		assert.Equal(t, "http://a", url)
	case <-time.After(time.Second):
		t.Fatal("Take did not unblock after Add")
	}
}

func TestQueue_Close_UnblocksTake(t *testing.T) {
	q := probe.NewQueue()

	errs := make(chan error, 1)
	go func() {
		_, err := q.Take()
		errs <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, probe.ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("Take did not unblock after Close")
	}
}

func TestQueue_Add_NoOpAfterClose(t *testing.T) {
	q := probe.NewQueue()
	q.Close()
	assert.False(t, q.Add("http://a"))
	assert.Equal(t, 0, q.Size())
}

func TestQueue_Pending_ReflectsFIFOOrderWithoutConsuming(t *testing.T) {
	q := probe.NewQueue()
	q.Add("http://a")
	q.Add("http://b")

	assert.Equal(t, []string{"http://a", "http://b"}, q.Pending())
	assert.Equal(t, 2, q.Size(), "Pending must not consume entries")
}
