package geo

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

// GeoLiteLocator resolves addresses offline from a MaxMind GeoLite2 City database.
type GeoLiteLocator struct {
	path   string
	logger *slog.Logger

	mu sync.RWMutex
	db *geoip2.Reader
}

// NewGeoLite returns a locator for path without opening it. Lookups fail
// until a Reload succeeds, which lets the updater job fill in a missing file.
func NewGeoLite(path string, logger *slog.Logger) *GeoLiteLocator {
	if logger == nil {
		logger = slog.Default()
	}
	return &GeoLiteLocator{path: path, logger: logger}
}

// OpenGeoLite opens the database at path.
func OpenGeoLite(path string, logger *slog.Logger) (*GeoLiteLocator, error) {
	g := NewGeoLite(path, logger)
	if err := g.Reload(); err != nil {
		return nil, err
	}
	return g, nil
}

func openReader(path string, logger *slog.Logger) (*geoip2.Reader, error) {
	info, err := os.Stat(path)
	if err != nil {
		logger.Info("GeoLite2 database not found",
			slog.String("path", path),
			slog.String("hint", "Download from https://www.maxmind.com/en/geolite2/signup"))
		return nil, fmt.Errorf("geo: stat geolite database: %w", err)
	}

	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geo: open geolite database: %w", err)
	}
	logger.Info("GeoLite2 database opened",
		slog.String("path", path),
		slog.Int64("size_bytes", info.Size()))
	return db, nil
}

// Path returns the database file location.
func (g *GeoLiteLocator) Path() string {
	return g.path
}

// Reload reopens the database file, e.g. after a download replaced it.
// On failure the previous database stays in use.
func (g *GeoLiteLocator) Reload() error {
	db, err := openReader(g.path, g.logger)
	if err != nil {
		return err
	}

	g.mu.Lock()
	old := g.db
	g.db = db
	g.mu.Unlock()

	if old != nil {
		old.Close()
	}
	g.logger.Info("GeoLite2 database reloaded", slog.String("path", g.path))
	return nil
}

// Locate implements Locator.
func (g *GeoLiteLocator) Locate(ctx context.Context, ip string) (Location, error) {
	if err := ctx.Err(); err != nil {
		return Location{}, err
	}
	addr := net.ParseIP(ip)
	if addr == nil {
		return Location{}, ErrNoAddress
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.db == nil {
		return Location{}, ErrUnavailable
	}
	record, err := g.db.City(addr)
	if err != nil {
		return Location{}, fmt.Errorf("geo: geolite lookup: %w", err)
	}
	if record.Country.IsoCode == "" {
		return Location{}, ErrNotFound
	}

	loc := Location{
		IP:          ip,
		CountryCode: record.Country.IsoCode,
		Country:     record.Country.Names["en"],
		City:        record.City.Names["en"],
	}
	if len(record.Subdivisions) > 0 {
		loc.Region = record.Subdivisions[0].Names["en"]
	}
	return loc, nil
}

// Close releases the database.
func (g *GeoLiteLocator) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.db == nil {
		return nil
	}
	err := g.db.Close()
	g.db = nil
	return err
}
