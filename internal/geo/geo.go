// Package geo resolves a client IP to an approximate country, region and city.
package geo

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pariz/gountries"
)

// Unknown labels a location level that could not be resolved.
const Unknown = "unknown"

// DefaultTimeout bounds one lookup.
const DefaultTimeout = 2500 * time.Millisecond

var (
	ErrNoAddress = errors.New("geo: no client address")
	ErrNotFound  = errors.New("geo: address not found")
	// ErrUnavailable means the locator has no data to answer from yet.
	ErrUnavailable = errors.New("geo: locator unavailable")
)

// Location is the resolved position of one client address.
type Location struct {
	IP          string `json:"ip"`
	CountryCode string `json:"country_code"`
	Country     string `json:"country"`
	Region      string `json:"region"`
	City        string `json:"city"`
}

// UnknownLocation is the fallback for ip when no lookup succeeds.
func UnknownLocation(ip string) Location {
	return Location{IP: ip, CountryCode: Unknown, Country: Unknown, Region: Unknown, City: Unknown}
}

// normalized fills empty levels with Unknown and derives the country name
// from the ISO code when the provider only sent the code.
func (l Location) normalized() Location {
	l.CountryCode = strings.ToUpper(strings.TrimSpace(l.CountryCode))
	if l.Country == "" && l.CountryCode != "" {
		l.Country = CountryName(l.CountryCode)
	}
	if l.CountryCode == "" {
		l.CountryCode = Unknown
	}
	for _, f := range []*string{&l.Country, &l.Region, &l.City} {
		*f = strings.TrimSpace(*f)
		if *f == "" {
			*f = Unknown
		}
	}
	return l
}

// Locator looks an address up.
type Locator interface {
	Locate(ctx context.Context, ip string) (Location, error)
}

// Resolve looks ip up with a fixed timeout. It never fails: any error or a
// nil locator yields UnknownLocation.
func Resolve(ctx context.Context, locator Locator, ip string, timeout time.Duration, logger *slog.Logger) Location {
	if locator == nil {
		return UnknownLocation(ip)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	if net.ParseIP(ip) == nil {
		return UnknownLocation(ip)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	loc, err := locator.Locate(ctx, ip)
	if err != nil {
		logger.Debug("Geolocation lookup failed", slog.Any("error", err))
		return UnknownLocation(ip)
	}
	loc.IP = ip
	return loc.normalized()
}

var countryQuery = sync.OnceValue(gountries.New)

// CountryName returns the common English name for an ISO 3166-1 alpha-2 code,
// or the code itself when it is not recognised.
func CountryName(code string) string {
	if code == "" || strings.EqualFold(code, Unknown) {
		return Unknown
	}
	country, err := countryQuery().FindCountryByAlpha(strings.ToUpper(code))
	if err != nil {
		return strings.ToUpper(code)
	}
	return country.Name.Common
}
