package geo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultCacheTTL is how long a successful lookup is reused.
const DefaultCacheTTL = 24 * time.Hour

// CacheEntry is one cached lookup.
type CacheEntry struct {
	IP          string    `gorm:"primaryKey;size:64"`
	CountryCode string    `gorm:"size:8"`
	Country     string    `gorm:"size:128"`
	Region      string    `gorm:"size:128"`
	City        string    `gorm:"size:128"`
	ExpiresAt   time.Time `gorm:"index;not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (CacheEntry) TableName() string {
	return "geo_cache_entries"
}

// CachedLocator keeps successful lookups of an inner Locator in SQLite.
// Failed lookups are not cached. A failing cache never fails the lookup.
type CachedLocator struct {
	inner  Locator
	db     *gorm.DB
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewCachedLocator wraps inner with a cache of the given TTL.
func NewCachedLocator(inner Locator, db *gorm.DB, ttl time.Duration, logger *slog.Logger) *CachedLocator {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedLocator{inner: inner, db: db, ttl: ttl, now: time.Now, logger: logger}
}

// Locate implements Locator.
func (c *CachedLocator) Locate(ctx context.Context, ip string) (Location, error) {
	now := c.now().UTC()

	var entry CacheEntry
	err := c.db.WithContext(ctx).
		Where("ip = ? AND expires_at > ?", ip, now).
		Take(&entry).Error
	switch {
	case err == nil:
		return entry.location(), nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		c.logger.Warn("Failed to read geolocation cache", slog.Any("error", err))
	}

	loc, err := c.inner.Locate(ctx, ip)
	if err != nil {
		return Location{}, err
	}

	entry = CacheEntry{
		IP:          ip,
		CountryCode: loc.CountryCode,
		Country:     loc.Country,
		Region:      loc.Region,
		City:        loc.City,
		ExpiresAt:   now.Add(c.ttl),
	}
	err = sqlite.PerformWrite(c.logger, c.db, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&entry).Error
	})
	if err != nil {
		c.logger.Warn("Failed to write geolocation cache", slog.Any("error", err))
	}
	return loc, nil
}

func (e CacheEntry) location() Location {
	return Location{
		IP:          e.IP,
		CountryCode: e.CountryCode,
		Country:     e.Country,
		Region:      e.Region,
		City:        e.City,
	}
}

// PurgeExpired deletes cache entries that expired before now.
func PurgeExpired(db *gorm.DB, logger *slog.Logger, now time.Time) (int64, error) {
	var deleted int64
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		result := tx.Where("expires_at <= ?", now.UTC()).Delete(&CacheEntry{})
		deleted = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return 0, fmt.Errorf("geo: purge cache: %w", err)
	}
	return deleted, nil
}
