package insights

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"footfall/internal/geo"
	"footfall/internal/keys"
	"footfall/internal/pkg/referrers"
)

// TopN drops zero counts, orders by count descending and keeps at most limit
// entries. Ties keep their input order.
func TopN(entries []Entry, limit int) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Count > 0 {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Count > out[j].Count
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

var deviceLabels = map[string]string{
	"iphone":  "iPhone",
	"android": "Android",
	"desktop": "Desktop",
}

// Label returns the display text for a dimension value.
func Label(dim keys.Dimension, value string) string {
	if strings.EqualFold(value, keys.Unknown) {
		return "Unknown"
	}
	switch dim {
	case keys.Path:
		return value
	case keys.Referrer:
		return referrers.FriendlyName(value)
	case keys.Device:
		if label, ok := deviceLabels[strings.ToLower(value)]; ok {
			return label
		}
		return cases.Title(language.AmericanEnglish).String(value)
	case keys.Country:
		return geo.CountryName(value)
	default:
		return cases.Title(language.AmericanEnglish).String(value)
	}
}
