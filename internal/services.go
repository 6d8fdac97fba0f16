package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"

	"footfall/internal/catalog"
	"footfall/internal/config"
	"footfall/internal/counter"
	"footfall/internal/geo"
	"footfall/internal/insights"
	"footfall/internal/jobs"
	"footfall/internal/uniqueness"
	"footfall/internal/visits"
)

const collectorDrainTimeout = 10 * time.Second

// Services holds the domain components shared by the HTTP routes, the
// background jobs and the CLI.
type Services struct {
	Config     *config.Config
	Logger     *slog.Logger
	Registry   *prometheus.Registry
	Counter    *counter.Client
	Gate       *uniqueness.Gate
	Catalog    *catalog.Catalog
	Locator    geo.Locator
	GeoLite    *geo.GeoLiteLocator
	Log        *visits.Log
	Collector  *visits.Collector
	Aggregator *insights.Aggregator
	Scheduler  *jobs.Scheduler

	closers   []func() error
	closeOnce sync.Once
	closeErr  error
}

// ServicesOptions overrides parts of the wiring, mostly for tests.
type ServicesOptions struct {
	// Backend replaces the configured counter backend.
	Backend counter.Backend
	// Locator replaces the configured geolocation provider.
	Locator geo.Locator
	Clock   func() time.Time
}

// NewServices wires every component from cfg over db.
func NewServices(cfg *config.Config, db *gorm.DB, logger *slog.Logger, opts ServicesOptions) (*Services, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("services: timezone: %w", err)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	s := &Services{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	}
	s.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	backend := opts.Backend
	if backend == nil {
		if backend, err = s.newBackend(); err != nil {
			return nil, err
		}
	}
	s.Counter = counter.NewClient(backend, counter.Options{
		Cooldown: cfg.CounterCooldown(),
		Clock:    opts.Clock,
		Logger:   logger,
		Metrics:  counter.NewMetrics(s.Registry),
	})
	s.Gate = uniqueness.New(s.Counter, logger)
	if !s.Gate.Atomic() {
		logger.Warn("Counter backend has no atomic increment-if-absent, unique counts may overcount under concurrency",
			slog.String("backend", cfg.CounterBackend))
	}

	if s.Catalog, err = catalog.Load(cfg.CatalogPath); err != nil {
		return nil, err
	}

	s.Locator = opts.Locator
	if s.Locator == nil {
		if s.Locator, err = s.newLocator(db); err != nil {
			return nil, err
		}
	}

	filter, err := visits.NewPathFilter(cfg.DashboardPath, cfg.GetExcludedPaths())
	if err != nil {
		return nil, fmt.Errorf("services: excluded paths: %w", err)
	}

	s.Log = visits.NewLog(db, logger, visits.LogOptions{
		Cap:         cfg.VisitLogCap,
		DedupWindow: cfg.DedupWindow(),
	})

	s.Collector, err = visits.NewCollector(visits.Options{
		Counter:       s.Counter,
		Gate:          s.Gate,
		Locator:       s.Locator,
		GeoTimeout:    cfg.GeoTimeout(),
		Filter:        filter,
		Log:           s.Log,
		WitnessSecret: cfg.PrivateKey,
		Location:      loc,
		Clock:         opts.Clock,
		Logger:        logger,
		Metrics:       visits.NewMetrics(s.Registry),
	})
	if err != nil {
		return nil, err
	}

	s.Aggregator = insights.NewAggregator(insights.Options{
		Counter:  s.Counter,
		Catalog:  s.Catalog,
		Local:    s.Log,
		Cooldown: s.Counter,
		Location: loc,
		Clock:    opts.Clock,
		Logger:   logger,
	})

	s.Scheduler = jobs.NewScheduler(logger, s.jobs(db)...)
	return s, nil
}

func (s *Services) newBackend() (counter.Backend, error) {
	cfg := s.Config
	switch cfg.CounterBackend {
	case config.CounterBackendRedis:
		rb, err := counter.NewRedisBackend(cfg.RedisURL, cfg.CounterNamespace)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, rb.Close)
		return rb, nil
	case config.CounterBackendMemory:
		s.Logger.Warn("Using in-memory counter backend, counts are lost on restart")
		return counter.NewMemoryBackend(), nil
	default:
		return counter.NewHTTPBackend(counter.HTTPConfig{
			Endpoints: cfg.GetCounterEndpoints(),
			Namespace: cfg.CounterNamespace,
			Timeout:   cfg.CounterTimeout(),
			Logger:    s.Logger,
		})
	}
}

func (s *Services) newLocator(db *gorm.DB) (geo.Locator, error) {
	cfg := s.Config
	switch cfg.GeoProvider {
	case config.GeoProviderNone:
		return nil, nil
	case config.GeoProviderGeoLite:
		g, err := geo.OpenGeoLite(cfg.GeoDBPath, s.Logger)
		if err != nil {
			// The updater job can still fetch the file later.
			s.Logger.Warn("GeoLite2 database unavailable, locations stay unknown until it is downloaded",
				slog.Any("error", err))
			g = geo.NewGeoLite(cfg.GeoDBPath, s.Logger)
		}
		s.GeoLite = g
		s.closers = append(s.closers, g.Close)
		return g, nil
	default:
		hl, err := geo.NewHTTPLocator(cfg.GeoURL, &http.Client{Timeout: cfg.GeoTimeout()})
		if err != nil {
			return nil, err
		}
		return geo.NewCachedLocator(hl, db, cfg.GeoCacheTTL(), s.Logger), nil
	}
}

func (s *Services) jobs(db *gorm.DB) []jobs.Job {
	cfg := s.Config
	interval := cfg.JobInterval()

	list := []jobs.Job{
		{Name: "visit_prune", Interval: interval, Run: jobs.NewVisitPruneJob(s.Log, cfg.VisitRetention(), s.Logger).Run},
		{Name: "geo_cache_purge", Interval: interval, Run: jobs.NewGeoCachePurgeJob(db, s.Logger).Run},
	}
	if s.GeoLite != nil {
		updater := jobs.NewGeoLiteUpdaterJob(cfg.GeoLiteLicenseKey, cfg.GeoLiteDownloadURL, s.GeoLite.Path(), s.GeoLite, s.Logger)
		if updater.Configured() {
			list = append(list, jobs.Job{Name: "geolite_update", Interval: interval, Run: updater.Run})
		}
	}
	return list
}

// Close drains pending visits and releases backend connections. Only the
// first call does any work.
func (s *Services) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.Collector != nil {
			if err := s.Collector.Close(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		for _, c := range s.closers {
			if err := c(); err != nil {
				errs = append(errs, err)
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// collectorWorker drains the collector when the application shuts down.
// It implements cartridge.BackgroundWorker.
type collectorWorker struct {
	services *Services
}

func (w collectorWorker) Start() error { return nil }

func (w collectorWorker) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), collectorDrainTimeout)
	defer cancel()
	if err := w.services.Close(ctx); err != nil {
		w.services.Logger.Error("Failed to drain visit collector", slog.Any("error", err))
	}
}
