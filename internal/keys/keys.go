// Package keys maps visit dimensions to flat counter keys.
//
// Every key is a pure function of its inputs and embeds a schema version, so
// counters written under an older dimension set or aggregation semantics never
// collide with the current ones.
package keys

import (
	"encoding/hex"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// SchemaVersion is bumped whenever tracked dimensions or aggregation semantics change.
// v1/v2 counted raw views only; v3 adds unique-visitor aggregates.
const SchemaVersion = "v3"

// Unknown replaces empty or missing raw values.
const Unknown = "unknown"

// homeToken replaces the site root path, which would otherwise sanitize to "_".
const homeToken = "home"

// Dimension is a classification axis for a visit.
type Dimension string

const (
	Path     Dimension = "path"
	Referrer Dimension = "referrer"
	Device   Dimension = "device"
	Day      Dimension = "day"
	Country  Dimension = "country"
	State    Dimension = "state"
	City     Dimension = "city"
	Site     Dimension = "site"
)

// Dimensions lists the enumerable dimensions in dashboard order.
var Dimensions = []Dimension{Path, Referrer, Device, Day, Country, State, City}

// Metric selects the aggregation a key counts.
type Metric string

const (
	Views  Metric = "views"
	Unique Metric = "uniq"
)

// Encoder builds counter keys for one schema version.
type Encoder struct {
	Version string
}

// Default is the encoder for the current schema.
var Default = Encoder{Version: SchemaVersion}

// Sanitize folds case and replaces every character outside [a-zA-Z0-9] with '_'.
// It is idempotent; empty input maps to Unknown.
func Sanitize(raw string) string {
	if raw == "" {
		return Unknown
	}
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToLower(raw) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	return b.String()
}

// Value returns the sanitized value segment for a dimension.
func Value(dim Dimension, raw string) string {
	if dim == Path && raw == "/" {
		return homeToken
	}
	return Sanitize(raw)
}

// Make returns the views key for a dimension value.
func (e Encoder) Make(dim Dimension, raw string) string {
	return e.MakeMetric(dim, raw, Views)
}

// MakeMetric returns "<dimension>_<value>_<metric>_<version>".
func (e Encoder) MakeMetric(dim Dimension, raw string, metric Metric) string {
	return string(dim) + "_" + Value(dim, raw) + "_" + string(metric) + "_" + e.version()
}

// Total is the global page view aggregate.
func (e Encoder) Total() string {
	return string(Site) + "_total_" + string(Views) + "_" + e.version()
}

// UniqueVisitors is the global unique visitor aggregate.
func (e Encoder) UniqueVisitors() string {
	return string(Site) + "_total_" + string(Unique) + "_" + e.version()
}

// DayKey returns the views key for the calendar day t falls on, in t's location.
func (e Encoder) DayKey(t time.Time) string {
	return e.Make(Day, DayValue(t))
}

// Marker returns the uniqueness marker for a witness within a scope such as
// "site" or "path_home". The witness is hashed by the caller; see WitnessDigest.
func (e Encoder) Marker(witness string, scope ...string) string {
	parts := make([]string, 0, len(scope))
	for _, s := range scope {
		parts = append(parts, Sanitize(s))
	}
	suffix := "site"
	if len(parts) > 0 {
		suffix = strings.Join(parts, "_")
	}
	return "seen_" + Sanitize(witness) + "_" + suffix + "_" + e.version()
}

func (e Encoder) version() string {
	if e.Version == "" {
		return SchemaVersion
	}
	return e.Version
}

// DayValue formats t as the day segment used by day keys.
func DayValue(t time.Time) string {
	return t.Format("2006_01_02")
}

// TrailingDays returns day keys for the n calendar days ending on now's day,
// newest first. Dates are stepped from local noon so DST shifts never skip or
// repeat a day.
func (e Encoder) TrailingDays(now time.Time, n int) []string {
	noon := time.Date(now.Year(), now.Month(), now.Day(), 12, 0, 0, 0, now.Location())
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, e.DayKey(noon.AddDate(0, 0, -i)))
	}
	return out
}

// WitnessDigest returns a keyed, truncated digest of a witness identity such as
// a client IP so raw addresses never appear in counter keys.
func WitnessDigest(secret, witness string) string {
	key := []byte(secret)
	if len(key) > blake2b.Size {
		key = key[:blake2b.Size]
	}
	h, err := blake2b.New256(key)
	if err != nil {
		sum := blake2b.Sum256([]byte(secret + "|" + witness))
		return hex.EncodeToString(sum[:12])
	}
	h.Write([]byte(witness))
	return hex.EncodeToString(h.Sum(nil)[:12])
}
