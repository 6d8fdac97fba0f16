package counter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sourcegraph/conc"
)

type redisClient interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Close() error
}

// RedisBackend stores counters in Redis under "<namespace>:<key>".
// Unlike the HTTP counter service it can claim a marker atomically (SETNX),
// so it implements ConditionalIncrementer.
type RedisBackend struct {
	rdb       redisClient
	namespace string
}

// NewRedisBackend connects to the Redis instance at rawURL
// (e.g. "redis://localhost:6379/0").
func NewRedisBackend(rawURL, namespace string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("counter: parse redis url: %w", err)
	}
	return newRedisBackend(redis.NewClient(opts), namespace), nil
}

func newRedisBackend(rdb redisClient, namespace string) *RedisBackend {
	return &RedisBackend{rdb: rdb, namespace: namespace}
}

func (b *RedisBackend) key(k string) string {
	return b.namespace + ":" + k
}

// Increment implements Backend.
func (b *RedisBackend) Increment(ctx context.Context, key string) (int64, error) {
	v, err := b.rdb.Incr(ctx, b.key(key)).Result()
	if err != nil {
		return 0, &TransportError{Op: opIncrement, Err: err}
	}
	return v, nil
}

// Read implements Backend.
func (b *RedisBackend) Read(ctx context.Context, key string) (int64, error) {
	v, err := b.rdb.Get(ctx, b.key(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, &TransportError{Op: opRead, Err: err}
	}
	return v, nil
}

// IncrementIfAbsent implements ConditionalIncrementer. The marker never expires.
func (b *RedisBackend) IncrementIfAbsent(ctx context.Context, marker string, aggregates []string) (bool, error) {
	claimed, err := b.rdb.SetNX(ctx, b.key(marker), 1, 0).Result()
	if err != nil {
		return false, &TransportError{Op: opConditional, Err: err}
	}
	if !claimed {
		return false, nil
	}

	var (
		wg   conc.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, agg := range aggregates {
		wg.Go(func() {
			if _, err := b.Increment(ctx, agg); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		})
	}
	wg.Wait()

	// The marker is claimed either way; a failed aggregate is lost, never retried.
	return true, errors.Join(errs...)
}

// Close releases the Redis connection pool.
func (b *RedisBackend) Close() error {
	return b.rdb.Close()
}
