package visits_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"footfall/internal/catalog"
	"footfall/internal/counter"
	"footfall/internal/geo"
	"footfall/internal/insights"
	"footfall/internal/testsupport"
	"footfall/internal/uniqueness"
	"footfall/internal/visits"
)

type fixedLocator struct {
	loc geo.Location
	err error
}

func (f fixedLocator) Locate(context.Context, string) (geo.Location, error) {
	return f.loc, f.err
}

var saoPaulo = fixedLocator{loc: geo.Location{CountryCode: "BR", Country: "Brazil", Region: "São Paulo", City: "São Paulo"}}

type collectorFixture struct {
	backend   *counter.MemoryBackend
	collector *visits.Collector
	log       *visits.Log
	metrics   *visits.Metrics
}

func newCollector(t *testing.T, backend counter.Backend, locator geo.Locator) *collectorFixture {
	t.Helper()
	logger := testsupport.GetLogger()
	client := counter.NewClient(backend, counter.Options{Logger: logger})
	filter, err := visits.NewPathFilter("/insights/", nil)
	require.NoError(t, err)
	log := visits.NewLog(testsupport.SetupTestDB(t), logger, visits.LogOptions{Cap: 100, DedupWindow: 10 * time.Second})
	metrics := visits.NewMetrics(nil)

	c, err := visits.NewCollector(visits.Options{
		Counter:       client,
		Gate:          uniqueness.New(client, logger),
		Locator:       locator,
		GeoTimeout:    time.Second,
		Filter:        filter,
		Log:           log,
		WitnessSecret: "secret",
		Location:      time.UTC,
		Clock:         func() time.Time { return time.Date(2026, 10, 17, 15, 4, 5, 0, time.UTC) },
		Logger:        logger,
		Metrics:       metrics,
	})
	require.NoError(t, err)

	mem, _ := backend.(*counter.MemoryBackend)
	return &collectorFixture{backend: mem, collector: c, log: log, metrics: metrics}
}

func iphoneVisit() visits.Visit {
	return visits.Visit{
		URL:       "https://example.com/index.html",
		Referrer:  "https://www.google.com/search?q=x",
		UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)",
		IP:        "200.147.35.149",
		VisitorID: "0b3c5e1e-7d4f-4a57-9d0e-2f0f3c1c7a11",
		Language:  "pt-BR",
	}
}

func TestRecordIncrementsEveryDimension(t *testing.T) {
	ctx := context.Background()
	f := newCollector(t, counter.NewMemoryBackend(), saoPaulo)

	res, err := f.collector.Record(ctx, iphoneVisit())
	require.NoError(t, err)
	assert.True(t, res.Tracked)
	assert.True(t, res.FirstVisit)
	assert.True(t, res.Logged)
	assert.Equal(t, "/", res.Path)
	assert.Equal(t, "google.com", res.Referrer)
	assert.Equal(t, visits.DeviceIPhone, res.Device)

	snap := f.backend.Snapshot()
	for _, key := range []string{
		"site_total_views_v3",
		"day_2026_10_17_views_v3",
		"path_home_views_v3",
		"referrer_google_com_views_v3",
		"device_iphone_views_v3",
		"country_br_views_v3",
		"state_s_o_paulo_views_v3",
		"city_s_o_paulo_views_v3",
		"site_total_uniq_v3",
		"path_home_uniq_v3",
		"country_br_uniq_v3",
	} {
		assert.Equal(t, int64(1), snap[key], key)
	}

	for key := range snap {
		assert.NotContains(t, key, "200_147_35", "raw addresses never reach counter keys")
	}

	t.Run("repeat visit counts views but not uniques", func(t *testing.T) {
		res, err := f.collector.Record(ctx, iphoneVisit())
		require.NoError(t, err)
		assert.False(t, res.FirstVisit)
		assert.False(t, res.Logged, "deduplicated locally")

		snap := f.backend.Snapshot()
		assert.Equal(t, int64(2), snap["site_total_views_v3"])
		assert.Equal(t, int64(2), snap["path_home_views_v3"])
		assert.Equal(t, int64(1), snap["site_total_uniq_v3"])
		assert.Equal(t, int64(1), snap["path_home_uniq_v3"])
		assert.Equal(t, int64(1), snap["country_br_uniq_v3"])
	})

	t.Run("same visitor on another path is unique for that path only", func(t *testing.T) {
		v := iphoneVisit()
		v.URL = "/about/"
		_, err := f.collector.Record(ctx, v)
		require.NoError(t, err)

		snap := f.backend.Snapshot()
		assert.Equal(t, int64(1), snap["path__about__uniq_v3"])
		assert.Equal(t, int64(1), snap["site_total_uniq_v3"])
	})
}

func TestRecordSkipsDashboard(t *testing.T) {
	f := newCollector(t, counter.NewMemoryBackend(), saoPaulo)

	v := iphoneVisit()
	v.URL = "https://example.com/insights/"
	res, err := f.collector.Record(context.Background(), v)
	require.NoError(t, err)

	assert.False(t, res.Tracked)
	assert.Empty(t, f.backend.Snapshot())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Visits.WithLabelValues("excluded")))
}

func TestRecordGeoFailureFallsBackToUnknown(t *testing.T) {
	f := newCollector(t, counter.NewMemoryBackend(), fixedLocator{err: errors.New("timeout")})

	res, err := f.collector.Record(context.Background(), iphoneVisit())
	require.NoError(t, err)
	assert.Equal(t, geo.Unknown, res.Location.Country)

	snap := f.backend.Snapshot()
	assert.Equal(t, int64(1), snap["country_unknown_views_v3"])
	assert.Equal(t, int64(1), snap["state_unknown_views_v3"])
	assert.Equal(t, int64(1), snap["city_unknown_views_v3"])
}

func TestRecordedPlacesShowInReport(t *testing.T) {
	ctx := context.Background()
	backend := counter.NewMemoryBackend()
	f := newCollector(t, backend, saoPaulo)

	for i := 0; i < 5; i++ {
		v := iphoneVisit()
		v.IP = fmt.Sprintf("200.147.35.%d", 10+i)
		_, err := f.collector.Record(ctx, v)
		require.NoError(t, err)
	}

	report := insights.NewAggregator(insights.Options{
		Counter:  backend,
		Catalog:  catalog.Default(),
		Location: time.UTC,
		Logger:   testsupport.GetLogger(),
	}).Build(ctx)

	require.Equal(t, insights.StateOK, report.State)
	assert.Equal(t, []insights.Entry{{Value: "BR", Label: "Brazil", Count: 5, Unique: 5}}, report.Countries.Entries)
	assert.Equal(t, []insights.Entry{{Value: "São Paulo", Label: "São Paulo", Count: 5}}, report.States.Entries)
	assert.Equal(t, []insights.Entry{{Value: "São Paulo", Label: "São Paulo", Count: 5}}, report.Cities.Entries)
}

func TestRecordWithoutAddressSkipsUniqueness(t *testing.T) {
	f := newCollector(t, counter.NewMemoryBackend(), saoPaulo)

	v := iphoneVisit()
	v.IP = ""
	res, err := f.collector.Record(context.Background(), v)
	require.NoError(t, err)
	assert.False(t, res.FirstVisit)

	snap := f.backend.Snapshot()
	assert.Equal(t, int64(1), snap["site_total_views_v3"])
	assert.Zero(t, snap["site_total_uniq_v3"])
}

type downBackend struct{}

func (downBackend) Increment(context.Context, string) (int64, error) {
	return 0, &counter.TransportError{Op: "increment", Err: errors.New("connection refused")}
}

func (downBackend) Read(context.Context, string) (int64, error) {
	return 0, &counter.TransportError{Op: "read", Err: errors.New("connection refused")}
}

func TestRecordCounterDown(t *testing.T) {
	f := newCollector(t, downBackend{}, saoPaulo)

	res, err := f.collector.Record(context.Background(), iphoneVisit())
	assert.True(t, res.Tracked)
	assert.ErrorIs(t, err, counter.ErrUnavailable)
	assert.True(t, res.Logged, "the local log does not depend on the counter")
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Visits.WithLabelValues("degraded")))
}

func TestCollectIsDetachedAndDrains(t *testing.T) {
	f := newCollector(t, counter.NewMemoryBackend(), saoPaulo)

	for i := 0; i < 5; i++ {
		v := iphoneVisit()
		v.VisitorID = ""
		f.collector.Collect(v)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.collector.Close(ctx))

	assert.Equal(t, int64(5), f.backend.Snapshot()["site_total_views_v3"])

	f.collector.Collect(iphoneVisit())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Visits.WithLabelValues("dropped")))
	assert.Equal(t, int64(5), f.backend.Snapshot()["site_total_views_v3"])
}

func TestCollectSurvivesCounterFailure(t *testing.T) {
	f := newCollector(t, downBackend{}, saoPaulo)

	assert.NotPanics(t, func() { f.collector.Collect(iphoneVisit()) })
	require.NoError(t, f.collector.Close(context.Background()))
}

func TestNewCollectorRequiresCounterAndGate(t *testing.T) {
	_, err := visits.NewCollector(visits.Options{})
	assert.Error(t, err)
}
