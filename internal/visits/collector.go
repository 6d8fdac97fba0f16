// Package visits records page loads: it resolves the dimensions of a visit,
// fans the resulting increments out to the remote counter and keeps a
// bounded local visit log.
package visits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"

	"footfall/internal/geo"
	"footfall/internal/keys"
	"footfall/internal/uniqueness"
)

// collectTimeout bounds one detached collection end to end.
const collectTimeout = 30 * time.Second

// Visit is one page load as reported by the tracker script.
type Visit struct {
	URL       string
	Referrer  string
	UserAgent string
	IP        string
	VisitorID string
	Language  string
	Timezone  string
	Platform  string
	Screen    string
	Time      time.Time
}

// Result describes what Record did with a visit.
type Result struct {
	Tracked  bool
	Path     string
	Referrer string
	Device   string
	Location geo.Location
	// FirstVisit is true when the visit counted as a new unique visitor.
	FirstVisit bool
	Logged     bool
}

// Incrementer is the remote counter write path.
type Incrementer interface {
	Increment(ctx context.Context, key string) (int64, error)
}

// Options wires a Collector.
type Options struct {
	Encoder    keys.Encoder
	Counter    Incrementer
	Gate       *uniqueness.Gate
	Locator    geo.Locator
	GeoTimeout time.Duration
	Filter     *PathFilter
	// Log is optional; without it visits are only counted remotely.
	Log *Log
	// WitnessSecret keys the digest of client addresses in marker keys.
	WitnessSecret string
	// Location is the time zone day keys are computed in.
	Location *time.Location
	Clock    func() time.Time
	Logger   *slog.Logger
	Metrics  *Metrics
	// Concurrency bounds the remote calls of one visit.
	Concurrency int
}

// Collector orchestrates visit recording.
type Collector struct {
	opts Options

	mu      sync.RWMutex
	closed  bool
	pending conc.WaitGroup
}

// NewCollector validates opts and returns a Collector.
func NewCollector(opts Options) (*Collector, error) {
	if opts.Counter == nil {
		return nil, errors.New("visits: counter is required")
	}
	if opts.Gate == nil {
		return nil, errors.New("visits: uniqueness gate is required")
	}
	if opts.Filter == nil {
		opts.Filter = &PathFilter{}
	}
	if opts.Encoder.Version == "" {
		opts.Encoder = keys.Default
	}
	if opts.Location == nil {
		opts.Location = time.Local
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
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	return &Collector{opts: opts}, nil
}

// Collect records v in the background. It returns immediately, reports
// nothing to the caller and never panics past its own boundary. Visits
// arriving after Close are dropped.
func (c *Collector) Collect(v Visit) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		c.opts.Metrics.Visits.WithLabelValues(outcomeDropped).Inc()
		return
	}

	c.pending.Go(func() {
		defer func() {
			if r := recover(); r != nil {
				c.opts.Logger.Error("Panic recovered while collecting visit", slog.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
		defer cancel()

		if _, err := c.Record(ctx, v); err != nil {
			c.opts.Logger.Debug("Visit recorded with failures", slog.Any("error", err))
		}
	})
}

// Close stops accepting visits and waits for pending ones until ctx ends.
func (c *Collector) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("visits: drain pending visits: %w", ctx.Err())
	}
}

// Record runs every step for v synchronously. Remote and storage failures
// are returned joined but never stop the other steps.
func (c *Collector) Record(ctx context.Context, v Visit) (Result, error) {
	path := NormalizePath(v.URL)
	res := Result{Path: path}
	if !c.opts.Filter.Trackable(path) {
		c.opts.Metrics.Visits.WithLabelValues(outcomeExcluded).Inc()
		return res, nil
	}

	res.Tracked = true
	res.Referrer = NormalizeReferrer(v.Referrer)
	res.Device = DetectDevice(v.UserAgent)
	res.Location = geo.Resolve(ctx, c.opts.Locator, v.IP, c.opts.GeoTimeout, c.opts.Logger)

	at := v.Time
	if at.IsZero() {
		at = c.opts.Clock()
	}
	enc := c.opts.Encoder
	loc := res.Location

	views := []string{
		enc.Total(),
		enc.DayKey(at.In(c.opts.Location)),
		enc.Make(keys.Path, path),
		enc.Make(keys.Referrer, res.Referrer),
		enc.Make(keys.Device, res.Device),
		enc.Make(keys.Country, loc.CountryCode),
		enc.Make(keys.State, loc.Region),
		enc.Make(keys.City, loc.City),
	}

	var (
		errs   []error
		errsMu sync.Mutex
		first  bool
	)
	record := func(err error) {
		if err == nil {
			return
		}
		errsMu.Lock()
		errs = append(errs, err)
		errsMu.Unlock()
	}

	p := pool.New().WithMaxGoroutines(c.opts.Concurrency)
	for _, key := range views {
		p.Go(func() {
			_, err := c.opts.Counter.Increment(ctx, key)
			record(err)
		})
	}

	if v.IP != "" {
		witness := keys.WitnessDigest(c.opts.WitnessSecret, v.IP)
		p.Go(func() {
			ok, err := c.opts.Gate.EnsureOnce(ctx, enc.Marker(witness), []string{enc.UniqueVisitors()})
			record(err)
			errsMu.Lock()
			first = ok
			errsMu.Unlock()
		})
		p.Go(func() {
			_, err := c.opts.Gate.EnsureOnce(ctx,
				enc.Marker(witness, string(keys.Path), keys.Value(keys.Path, path)),
				[]string{enc.MakeMetric(keys.Path, path, keys.Unique)})
			record(err)
		})
		p.Go(func() {
			_, err := c.opts.Gate.EnsureOnce(ctx,
				enc.Marker(witness, string(keys.Country), loc.CountryCode),
				[]string{enc.MakeMetric(keys.Country, loc.CountryCode, keys.Unique)})
			record(err)
		})
	}

	if c.opts.Log != nil {
		p.Go(func() {
			logged, err := c.opts.Log.Append(ctx, VisitRecord{
				VisitorID: v.VisitorID,
				Timestamp: at,
				Path:      path,
				Referrer:  res.Referrer,
				Device:    res.Device,
				Language:  v.Language,
				Timezone:  v.Timezone,
				Platform:  v.Platform,
				Screen:    v.Screen,
				Country:   loc.Country,
				Region:    loc.Region,
				City:      loc.City,
			})
			record(err)
			errsMu.Lock()
			res.Logged = logged
			errsMu.Unlock()
		})
	}
	p.Wait()

	res.FirstVisit = first
	err := errors.Join(errs...)
	if err != nil {
		c.opts.Metrics.Visits.WithLabelValues(outcomeDegraded).Inc()
	} else {
		c.opts.Metrics.Visits.WithLabelValues(outcomeTracked).Inc()
	}
	return res, err
}
