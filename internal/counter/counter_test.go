package counter_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"footfall/internal/counter"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// flakyBackend fails with err while failing is set, and counts calls.
type flakyBackend struct {
	*counter.MemoryBackend
	mu      sync.Mutex
	failing bool
	err     error
	calls   int
}

func (f *flakyBackend) setFailing(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = v
}

func (f *flakyBackend) check() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failing {
		return f.err
	}
	return nil
}

func (f *flakyBackend) Increment(ctx context.Context, key string) (int64, error) {
	if err := f.check(); err != nil {
		return 0, err
	}
	return f.MemoryBackend.Increment(ctx, key)
}

func (f *flakyBackend) Read(ctx context.Context, key string) (int64, error) {
	if err := f.check(); err != nil {
		return 0, err
	}
	return f.MemoryBackend.Read(ctx, key)
}

func newFlaky(err error) *flakyBackend {
	return &flakyBackend{MemoryBackend: counter.NewMemoryBackend(), err: err}
}

func TestClientIncrementAndRead(t *testing.T) {
	ctx := context.Background()
	client := counter.NewClient(counter.NewMemoryBackend(), counter.Options{})

	v, err := client.Read(ctx, "site_total_views_v3")
	require.NoError(t, err)
	assert.Zero(t, v, "missing keys read as zero")

	v, err = client.Increment(ctx, "site_total_views_v3")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = client.Increment(ctx, "site_total_views_v3")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	assert.Equal(t, int64(2), client.ReadOrZero(ctx, "site_total_views_v3"))
}

func TestClientCooldown(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)}
	backend := newFlaky(&counter.TransportError{Op: "read", Err: errors.New("connection refused")})
	metrics := counter.NewMetrics(nil)
	client := counter.NewClient(backend, counter.Options{
		Cooldown: 10 * time.Minute,
		Clock:    clock.Now,
		Metrics:  metrics,
	})

	backend.setFailing(true)
	v, err := client.Read(ctx, "k")
	assert.Zero(t, v)
	assert.ErrorIs(t, err, counter.ErrUnavailable)
	assert.Equal(t, 1, backend.calls)

	t.Run("suppresses calls inside the window", func(t *testing.T) {
		backend.setFailing(false)
		_, err := client.Increment(ctx, "k")
		assert.ErrorIs(t, err, counter.ErrCoolingDown)
		_, err = client.Read(ctx, "k")
		assert.ErrorIs(t, err, counter.ErrCoolingDown)
		assert.Equal(t, 1, backend.calls, "no backend call while cooling down")

		cooling, until := client.CooldownUntil()
		assert.True(t, cooling)
		assert.Equal(t, clock.Now().Add(10*time.Minute), until)
	})

	t.Run("resumes after the window", func(t *testing.T) {
		clock.Advance(10*time.Minute + time.Second)
		v, err := client.Increment(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, int64(1), v)

		cooling, _ := client.CooldownUntil()
		assert.False(t, cooling)
	})

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Cooldowns))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.Requests.WithLabelValues("increment", "suppressed"))+
		testutil.ToFloat64(metrics.Requests.WithLabelValues("read", "suppressed")))
}

func TestClientStatusErrorDoesNotCoolDown(t *testing.T) {
	ctx := context.Background()
	backend := newFlaky(&counter.StatusError{Op: "increment", Endpoint: "x", StatusCode: 503})
	client := counter.NewClient(backend, counter.Options{})

	backend.setFailing(true)
	_, err := client.Increment(ctx, "k")
	assert.ErrorIs(t, err, counter.ErrUnavailable)

	backend.setFailing(false)
	v, err := client.Increment(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestIndependentClientsHaveIndependentCooldowns(t *testing.T) {
	ctx := context.Background()
	failing := newFlaky(&counter.TransportError{Op: "read", Err: errors.New("timeout")})
	failing.setFailing(true)

	a := counter.NewClient(failing, counter.Options{})
	b := counter.NewClient(counter.NewMemoryBackend(), counter.Options{})

	_, err := a.Read(ctx, "k")
	require.Error(t, err)

	_, err = b.Increment(ctx, "k")
	assert.NoError(t, err)
}

type conditionalBackend struct {
	*counter.MemoryBackend
	claimed map[string]bool
}

func (c *conditionalBackend) IncrementIfAbsent(ctx context.Context, marker string, aggregates []string) (bool, error) {
	if c.claimed[marker] {
		return false, nil
	}
	c.claimed[marker] = true
	for _, agg := range aggregates {
		c.Increment(ctx, agg)
	}
	return true, nil
}

func TestConditional(t *testing.T) {
	ctx := context.Background()

	t.Run("nil when the backend has no atomic primitive", func(t *testing.T) {
		client := counter.NewClient(counter.NewMemoryBackend(), counter.Options{})
		assert.Nil(t, client.Conditional())
	})

	t.Run("delegates to the backend", func(t *testing.T) {
		backend := &conditionalBackend{MemoryBackend: counter.NewMemoryBackend(), claimed: map[string]bool{}}
		client := counter.NewClient(backend, counter.Options{})
		ci := client.Conditional()
		require.NotNil(t, ci)

		first, err := ci.IncrementIfAbsent(ctx, "m", []string{"a", "b"})
		require.NoError(t, err)
		assert.True(t, first)

		first, err = ci.IncrementIfAbsent(ctx, "m", []string{"a", "b"})
		require.NoError(t, err)
		assert.False(t, first)

		assert.Equal(t, map[string]int64{"a": 1, "b": 1}, backend.Snapshot())
	})
}
