// Package uniqueness counts a logical event into aggregate counters at most
// once per witness, using a marker key in the same counter service.
package uniqueness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sourcegraph/conc"

	"footfall/internal/counter"
)

// Counter is the subset of the remote counter client the gate needs.
type Counter interface {
	Increment(ctx context.Context, key string) (int64, error)
	Read(ctx context.Context, key string) (int64, error)
}

// conditionalSource is implemented by *counter.Client.
type conditionalSource interface {
	Conditional() counter.ConditionalIncrementer
}

// Gate runs the marker check.
//
// Without an atomic backend primitive the check is read-then-write: two
// visits from the same witness arriving together can both read the marker as
// zero and both count. That double count is a known limitation of counter
// services with no compare-and-swap. When the counter exposes an atomic
// increment-if-absent (the Redis backend), the gate uses it and the race is gone.
type Gate struct {
	counter Counter
	atomic  counter.ConditionalIncrementer
	logger  *slog.Logger
}

// New builds a gate over c.
func New(c Counter, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{counter: c, logger: logger}
	if src, ok := c.(conditionalSource); ok {
		g.atomic = src.Conditional()
	}
	return g
}

// Atomic reports whether the gate is backed by an atomic primitive.
func (g *Gate) Atomic() bool {
	return g.atomic != nil
}

// EnsureOnce counts the event into aggregates unless marker is already
// positive. It returns true when this call did the counting.
//
// A failed marker read returns false and touches nothing. Failed aggregate
// increments are reported in the error but the call still returns true: the
// marker was written and the event is not retried.
func (g *Gate) EnsureOnce(ctx context.Context, marker string, aggregates []string) (bool, error) {
	if g.atomic != nil {
		return g.atomic.IncrementIfAbsent(ctx, marker, aggregates)
	}

	seen, err := g.counter.Read(ctx, marker)
	if err != nil {
		return false, fmt.Errorf("uniqueness: read marker: %w", err)
	}
	if seen > 0 {
		return false, nil
	}

	keys := make([]string, 0, len(aggregates)+1)
	keys = append(keys, marker)
	keys = append(keys, aggregates...)

	var (
		wg   conc.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, key := range keys {
		wg.Go(func() {
			if _, err := g.counter.Increment(ctx, key); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("uniqueness: increment %s: %w", key, err))
				mu.Unlock()
			}
		})
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		g.logger.Debug("Uniqueness gate increments partially failed",
			slog.String("marker", marker),
			slog.Any("error", err))
		return true, err
	}
	return true, nil
}
