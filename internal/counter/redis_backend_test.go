package counter

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis implements redisClient over a map.
type fakeRedis struct {
	mu     sync.Mutex
	values map[string]string
	err    error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}}
}

func (f *fakeRedis) Incr(ctx context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	n, _ := strconv.ParseInt(f.values[key], 10, 64)
	n++
	f.values[key] = strconv.FormatInt(n, 10)
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if _, ok := f.values[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = "1"
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Close() error { return nil }

func TestRedisBackendIncrementAndRead(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	backend := newRedisBackend(rdb, "footfall")

	v, err := backend.Read(ctx, "site_total_views_v3")
	require.NoError(t, err)
	assert.Zero(t, v)

	v, err = backend.Increment(ctx, "site_total_views_v3")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = backend.Read(ctx, "site_total_views_v3")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	assert.Contains(t, rdb.values, "footfall:site_total_views_v3")
}

func TestRedisBackendIncrementIfAbsent(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	backend := newRedisBackend(rdb, "ns")
	aggregates := []string{"site_total_uniq_v3", "path_home_uniq_v3"}

	first, err := backend.IncrementIfAbsent(ctx, "seen_abc_site_v3", aggregates)
	require.NoError(t, err)
	assert.True(t, first)

	first, err = backend.IncrementIfAbsent(ctx, "seen_abc_site_v3", aggregates)
	require.NoError(t, err)
	assert.False(t, first)

	for _, agg := range aggregates {
		v, err := backend.Read(ctx, agg)
		require.NoError(t, err)
		assert.Equal(t, int64(1), v, agg)
	}
}

func TestRedisBackendConcurrentClaims(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	backend := newRedisBackend(rdb, "ns")

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		claims int
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			first, err := backend.IncrementIfAbsent(ctx, "marker", []string{"agg"})
			if err == nil && first {
				mu.Lock()
				claims++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, claims)
	v, err := backend.Read(ctx, "agg")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestRedisBackendErrors(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	rdb.err = errors.New("dial tcp: connection refused")
	backend := newRedisBackend(rdb, "ns")

	_, err := backend.Read(ctx, "k")
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.ErrorIs(t, err, ErrUnavailable)

	first, err := backend.IncrementIfAbsent(ctx, "m", []string{"a"})
	assert.False(t, first)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestNewRedisBackendRejectsBadURL(t *testing.T) {
	_, err := NewRedisBackend("not a url", "ns")
	assert.Error(t, err)
}
