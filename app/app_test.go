package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"footfall/app"
	"footfall/internal/config"
	"footfall/internal/testsupport"
)

func TestEmbeddedServices(t *testing.T) {
	ctx := context.Background()
	cfg := &app.Config{
		AppName:          "footfall",
		Environment:      config.Test,
		PrivateKey:       "embedded",
		Timezone:         "UTC",
		CounterBackend:   config.CounterBackendMemory,
		CounterNamespace: "embedded",
		GeoProvider:      config.GeoProviderNone,
		DashboardPath:    "/insights/",
	}
	now := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

	svc, err := app.NewServices(cfg, testsupport.SetupTestDB(t), testsupport.GetLogger(), app.ServicesOptions{
		Backend: app.NewMemoryBackend(),
		Clock:   func() time.Time { return now },
	})
	require.NoError(t, err)
	defer svc.Close(ctx)

	res, err := svc.Collector.Record(ctx, app.Visit{URL: "https://example.com/about/", VisitorID: "v1"})
	require.NoError(t, err)
	assert.True(t, res.Tracked)

	excluded, err := svc.Collector.Record(ctx, app.Visit{URL: "https://example.com/insights/"})
	require.NoError(t, err)
	assert.False(t, excluded.Tracked)

	var report app.Report = svc.Aggregator.Build(ctx)
	assert.Equal(t, int64(1), report.Total.Value)
	assert.Equal(t, int64(1), report.Today.Value)
	assert.NotNil(t, app.MountRoutes(svc))
	assert.Contains(t, app.ServerConfig().SecFetchSiteAllowedValues, "cross-site")
	assert.Len(t, app.Models(), 2)
}
