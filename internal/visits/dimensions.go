package visits

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"go.elara.ws/pcre"
)

const (
	// DirectReferrer stands for visits with no usable referrer.
	DirectReferrer = "direct"

	DeviceIPhone  = "iphone"
	DeviceAndroid = "android"
	DeviceDesktop = "desktop"

	defaultDocument = "index.html"
)

// NormalizePath reduces a page URL or path to its path, dropping the default
// document and mapping empty input to the site root.
func NormalizePath(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "/"
	}
	if u, err := url.Parse(raw); err == nil {
		raw = u.Path
	}
	if raw == "" {
		return "/"
	}
	if !strings.HasPrefix(raw, "/") {
		raw = "/" + raw
	}
	if strings.HasSuffix(raw, "/"+defaultDocument) {
		raw = strings.TrimSuffix(raw, defaultDocument)
	}
	return raw
}

// NormalizeReferrer returns the referrer's hostname without a leading "www.",
// or DirectReferrer when it is absent or cannot be parsed.
func NormalizeReferrer(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DirectReferrer
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return DirectReferrer
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// DetectDevice classifies a user agent by substring.
func DetectDevice(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipod"):
		return DeviceIPhone
	case strings.Contains(ua, "android"):
		return DeviceAndroid
	default:
		return DeviceDesktop
	}
}

// PathFilter decides which paths are tracked. The dashboard path is never
// tracked so viewing the dashboard does not inflate its own numbers.
type PathFilter struct {
	dashboard string

	mu       sync.RWMutex
	patterns []*pcre.Regexp
	sources  []string
}

// NewPathFilter compiles the exclusion patterns (PCRE syntax).
func NewPathFilter(dashboardPath string, patterns []string) (*PathFilter, error) {
	f := &PathFilter{dashboard: dashboardPath}
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		re, err := pcre.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("visits: compile exclusion pattern %q: %w", p, err)
		}
		f.patterns = append(f.patterns, re)
		f.sources = append(f.sources, p)
	}
	return f, nil
}

// Trackable reports whether a normalized path should be counted.
func (f *PathFilter) Trackable(path string) bool {
	if f.dashboard != "" {
		dash := strings.TrimSuffix(f.dashboard, "/")
		trimmed := strings.TrimSuffix(path, "/")
		if dash != "" && strings.HasSuffix(trimmed, dash) {
			return false
		}
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, re := range f.patterns {
		if re.MatchString(path) {
			return false
		}
	}
	return true
}

// Patterns returns the configured exclusion patterns.
func (f *PathFilter) Patterns() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]string(nil), f.sources...)
}
