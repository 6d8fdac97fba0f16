package geo_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"footfall/internal/geo"
	"footfall/internal/testsupport"
)

const ipapiPayload = `{
	"ip": "200.147.35.149",
	"city": "São Paulo",
	"region": "Sao Paulo",
	"country": "BR",
	"country_name": "Brazil",
	"country_code": "BR"
}`

const ipAPIComPayload = `{
	"status": "success",
	"country": "Germany",
	"countryCode": "DE",
	"regionName": "Hesse",
	"city": "Frankfurt am Main",
	"query": "81.169.145.78"
}`

func geoServer(t *testing.T, body string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPLocator(t *testing.T) {
	ctx := context.Background()

	t.Run("ipapi shape", func(t *testing.T) {
		var path string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path = r.URL.Path
			w.Write([]byte(ipapiPayload))
		}))
		defer srv.Close()

		locator, err := geo.NewHTTPLocator(srv.URL+"/{ip}/json/", nil)
		require.NoError(t, err)

		loc, err := locator.Locate(ctx, "200.147.35.149")
		require.NoError(t, err)
		assert.Equal(t, "/200.147.35.149/json/", path)
		assert.Equal(t, "BR", loc.CountryCode)
		assert.Equal(t, "Brazil", loc.Country)
		assert.Equal(t, "Sao Paulo", loc.Region)
		assert.Equal(t, "São Paulo", loc.City)
	})

	t.Run("ip-api shape", func(t *testing.T) {
		srv := geoServer(t, ipAPIComPayload, nil)
		locator, err := geo.NewHTTPLocator(srv.URL+"/json/{ip}", nil)
		require.NoError(t, err)

		loc, err := locator.Locate(ctx, "81.169.145.78")
		require.NoError(t, err)
		assert.Equal(t, "DE", loc.CountryCode)
		assert.Equal(t, "Germany", loc.Country)
		assert.Equal(t, "Hesse", loc.Region)
	})

	t.Run("service error payload", func(t *testing.T) {
		srv := geoServer(t, `{"error": true, "reason": "Reserved IP Address"}`, nil)
		locator, err := geo.NewHTTPLocator(srv.URL+"/{ip}/json/", nil)
		require.NoError(t, err)

		_, err = locator.Locate(ctx, "10.0.0.1")
		assert.ErrorIs(t, err, geo.ErrNotFound)
	})

	t.Run("template without placeholder", func(t *testing.T) {
		_, err := geo.NewHTTPLocator("https://ipapi.co/json/", nil)
		assert.Error(t, err)
	})
}

type stubLocator struct {
	loc   geo.Location
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (s *stubLocator) Locate(ctx context.Context, ip string) (geo.Location, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return geo.Location{}, ctx.Err()
		}
	}
	return s.loc, s.err
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	logger := testsupport.GetLogger()

	t.Run("fills missing levels", func(t *testing.T) {
		stub := &stubLocator{loc: geo.Location{CountryCode: "br"}}
		loc := geo.Resolve(ctx, stub, "200.147.35.149", time.Second, logger)
		assert.Equal(t, "BR", loc.CountryCode)
		assert.Equal(t, "Brazil", loc.Country)
		assert.Equal(t, geo.Unknown, loc.Region)
		assert.Equal(t, geo.Unknown, loc.City)
		assert.Equal(t, "200.147.35.149", loc.IP)
	})

	t.Run("failure falls back to unknown", func(t *testing.T) {
		stub := &stubLocator{err: errors.New("boom")}
		loc := geo.Resolve(ctx, stub, "8.8.8.8", time.Second, logger)
		assert.Equal(t, geo.UnknownLocation("8.8.8.8"), loc)
	})

	t.Run("timeout falls back to unknown", func(t *testing.T) {
		stub := &stubLocator{delay: time.Second}
		start := time.Now()
		loc := geo.Resolve(ctx, stub, "8.8.8.8", 20*time.Millisecond, logger)
		assert.Equal(t, geo.Unknown, loc.Country)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	})

	t.Run("invalid address skips the lookup", func(t *testing.T) {
		stub := &stubLocator{}
		loc := geo.Resolve(ctx, stub, "not-an-ip", time.Second, logger)
		assert.Equal(t, geo.Unknown, loc.City)
		assert.Zero(t, stub.calls.Load())
	})

	t.Run("nil locator", func(t *testing.T) {
		loc := geo.Resolve(ctx, nil, "8.8.8.8", time.Second, logger)
		assert.Equal(t, geo.Unknown, loc.CountryCode)
	})
}

func TestCountryName(t *testing.T) {
	assert.Equal(t, "Brazil", geo.CountryName("BR"))
	assert.Equal(t, "Germany", geo.CountryName("de"))
	assert.Equal(t, "ZZ", geo.CountryName("zz"))
	assert.Equal(t, geo.Unknown, geo.CountryName(""))
	assert.Equal(t, geo.Unknown, geo.CountryName("unknown"))
}

func TestCachedLocator(t *testing.T) {
	ctx := context.Background()
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()

	stub := &stubLocator{loc: geo.Location{IP: "1.2.3.4", CountryCode: "US", Country: "United States", Region: "Virginia", City: "Ashburn"}}
	cached := geo.NewCachedLocator(stub, db, time.Hour, logger)

	first, err := cached.Locate(ctx, "1.2.3.4")
	require.NoError(t, err)
	second, err := cached.Locate(ctx, "1.2.3.4")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), stub.calls.Load())

	t.Run("expired entries are refreshed", func(t *testing.T) {
		require.NoError(t, db.Create(&geo.CacheEntry{
			IP:        "5.6.7.8",
			Country:   "Stale",
			ExpiresAt: time.Now().UTC().Add(-time.Minute),
		}).Error)

		loc, err := cached.Locate(ctx, "5.6.7.8")
		require.NoError(t, err)
		assert.Equal(t, "United States", loc.Country)
		assert.Equal(t, int32(2), stub.calls.Load())
	})

	t.Run("failures are not cached", func(t *testing.T) {
		failing := &stubLocator{err: errors.New("unreachable")}
		c := geo.NewCachedLocator(failing, db, time.Hour, logger)
		_, err := c.Locate(ctx, "9.9.9.9")
		require.Error(t, err)
		_, err = c.Locate(ctx, "9.9.9.9")
		require.Error(t, err)
		assert.Equal(t, int32(2), failing.calls.Load())
	})

	t.Run("purge removes expired entries", func(t *testing.T) {
		deleted, err := geo.PurgeExpired(db, logger, time.Now().Add(2*time.Hour))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, deleted, int64(2))

		var count int64
		db.Model(&geo.CacheEntry{}).Count(&count)
		assert.Zero(t, count)
	})
}

func TestOpenGeoLiteMissingFile(t *testing.T) {
	_, err := geo.OpenGeoLite(strings.Repeat("x", 8)+".mmdb", testsupport.GetLogger())
	assert.Error(t, err)
}

func TestUnopenedGeoLite(t *testing.T) {
	g := geo.NewGeoLite(filepath.Join(t.TempDir(), "GeoLite2-City.mmdb"), testsupport.GetLogger())

	_, err := g.Locate(context.Background(), "8.8.8.8")
	assert.ErrorIs(t, err, geo.ErrUnavailable)
	assert.Error(t, g.Reload(), "reload keeps failing until the file exists")
	assert.NoError(t, g.Close())
}
