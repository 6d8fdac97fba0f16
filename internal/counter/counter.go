// Package counter talks to the remote increment/read counter service.
//
// The remote service owns every value. The client never caches counts; it only
// remembers when the service last failed at the transport level so that a dead
// service does not slow every page load down (the cool-down window).
package counter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultCooldown is how long remote calls are suppressed after a transport failure.
const DefaultCooldown = 10 * time.Minute

var (
	// ErrUnavailable marks any failure to get an answer from the remote counter.
	ErrUnavailable = errors.New("counter: remote counter unavailable")

	// ErrCoolingDown is returned without touching the network while the client
	// is inside its cool-down window.
	ErrCoolingDown = fmt.Errorf("%w: cooling down after transport failure", ErrUnavailable)
)

// TransportError reports that no endpoint could be reached at all (timeouts,
// DNS, refused connections). Only transport errors start the cool-down.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("counter: %s: transport failure: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrUnavailable }

// StatusError reports a non-success response from an endpoint.
type StatusError struct {
	Op         string
	Endpoint   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("counter: %s: %s answered status %d", e.Op, e.Endpoint, e.StatusCode)
}

func (e *StatusError) Is(target error) bool { return target == ErrUnavailable }

// Backend is one remote counter implementation.
//
// Read must return (0, nil) for keys that were never incremented: counters are
// created lazily on first increment, so a missing key is routine.
type Backend interface {
	Increment(ctx context.Context, key string) (int64, error)
	Read(ctx context.Context, key string) (int64, error)
}

// ConditionalIncrementer is implemented by backends offering an atomic
// increment-if-absent: the marker is claimed and, only if this call claimed
// it, every aggregate is incremented once.
type ConditionalIncrementer interface {
	IncrementIfAbsent(ctx context.Context, marker string, aggregates []string) (bool, error)
}

// Options configures a Client. Zero values select defaults.
type Options struct {
	Cooldown time.Duration
	Clock    func() time.Time
	Logger   *slog.Logger
	Metrics  *Metrics
}

// Client applies the cool-down policy and instrumentation around a Backend.
// It is safe for concurrent use; each instance owns its own cool-down state.
type Client struct {
	backend  Backend
	cooldown time.Duration
	now      func() time.Time
	logger   *slog.Logger
	metrics  *Metrics

	mu            sync.Mutex
	disabledUntil time.Time
}

// NewClient wraps backend.
func NewClient(backend Backend, opts Options) *Client {
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	return &Client{
		backend:  backend,
		cooldown: opts.Cooldown,
		now:      opts.Clock,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
}

// Increment adds one to key and returns the new value.
func (c *Client) Increment(ctx context.Context, key string) (int64, error) {
	if c.suppressed() {
		c.metrics.observe(opIncrement, outcomeSuppressed)
		return 0, ErrCoolingDown
	}
	v, err := c.backend.Increment(ctx, key)
	if err != nil {
		c.fail(opIncrement, key, err)
		return 0, err
	}
	c.metrics.observe(opIncrement, outcomeOK)
	return v, nil
}

// Read returns the current value of key. On any failure the returned value is
// 0, so callers that only want a best-effort number can ignore the error.
func (c *Client) Read(ctx context.Context, key string) (int64, error) {
	if c.suppressed() {
		c.metrics.observe(opRead, outcomeSuppressed)
		return 0, ErrCoolingDown
	}
	v, err := c.backend.Read(ctx, key)
	if err != nil {
		c.fail(opRead, key, err)
		return 0, err
	}
	if v < 0 {
		v = 0
	}
	c.metrics.observe(opRead, outcomeOK)
	return v, nil
}

// ReadOrZero is Read with the error discarded.
func (c *Client) ReadOrZero(ctx context.Context, key string) int64 {
	v, _ := c.Read(ctx, key)
	return v
}

// Conditional returns the backend's atomic increment-if-absent wrapped in the
// client's cool-down policy, or nil when the backend has none.
func (c *Client) Conditional() ConditionalIncrementer {
	ci, ok := c.backend.(ConditionalIncrementer)
	if !ok {
		return nil
	}
	return &conditionalClient{client: c, inner: ci}
}

// CooldownUntil reports whether the client is suppressing remote calls and until when.
func (c *Client) CooldownUntil() (bool, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Before(c.disabledUntil), c.disabledUntil
}

func (c *Client) suppressed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Before(c.disabledUntil)
}

func (c *Client) fail(op, key string, err error) {
	c.metrics.observe(op, outcomeError)

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		c.logger.Debug("Counter request failed",
			slog.String("op", op),
			slog.String("key", key),
			slog.Any("error", err))
		return
	}

	c.mu.Lock()
	c.disabledUntil = c.now().Add(c.cooldown)
	until := c.disabledUntil
	c.mu.Unlock()

	c.metrics.Cooldowns.Inc()
	c.logger.Warn("Counter unreachable, suppressing remote calls",
		slog.String("op", op),
		slog.String("key", key),
		slog.Time("until", until),
		slog.Any("error", err))
}

type conditionalClient struct {
	client *Client
	inner  ConditionalIncrementer
}

func (cc *conditionalClient) IncrementIfAbsent(ctx context.Context, marker string, aggregates []string) (bool, error) {
	if cc.client.suppressed() {
		cc.client.metrics.observe(opConditional, outcomeSuppressed)
		return false, ErrCoolingDown
	}
	first, err := cc.inner.IncrementIfAbsent(ctx, marker, aggregates)
	if err != nil {
		cc.client.fail(opConditional, marker, err)
		return first, err
	}
	cc.client.metrics.observe(opConditional, outcomeOK)
	return first, nil
}
