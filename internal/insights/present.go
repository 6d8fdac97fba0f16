package insights

import (
	"strconv"
)

// Placeholders shown instead of numbers or lists.
const (
	TextUnavailable = "unavailable"
	TextFailed      = "failed to load"
	TextEmpty       = "no visits yet"
)

// Mount point names.
const (
	SlotTotal          = "total"
	SlotToday          = "today"
	SlotLast7Days      = "last-7-days"
	SlotLast30Days     = "last-30-days"
	SlotUniqueVisitors = "unique-visitors"
	SlotLocalBrowsers  = "local-browsers"
	SlotPages          = "pages"
	SlotReferrers      = "referrers"
	SlotDevices        = "devices"
	SlotCountries      = "countries"
	SlotStates         = "states"
	SlotCities         = "cities"
)

// MountPoint is one named place on the dashboard.
type MountPoint interface {
	SetText(text string)
	// SetList shows entries, or placeholder when entries is empty.
	SetList(entries []Entry, placeholder string)
}

// Mounts maps slot names to mount points. A slot without a mount point is skipped.
type Mounts map[string]MountPoint

// Render writes r into mounts.
func Render(r Report, mounts Mounts) {
	metrics := []struct {
		slot string
		m    Metric
	}{
		{SlotTotal, r.Total},
		{SlotToday, r.Today},
		{SlotLast7Days, r.Last7Days},
		{SlotLast30Days, r.Last30Days},
		{SlotUniqueVisitors, r.UniqueVisitors},
		{SlotLocalBrowsers, r.LocalBrowsers},
	}
	for _, item := range metrics {
		if mp := mounts[item.slot]; mp != nil {
			mp.SetText(MetricText(item.m))
		}
	}

	sections := []struct {
		slot string
		s    Section
	}{
		{SlotPages, r.Pages},
		{SlotReferrers, r.Referrers},
		{SlotDevices, r.Devices},
		{SlotCountries, r.Countries},
		{SlotStates, r.States},
		{SlotCities, r.Cities},
	}
	for _, item := range sections {
		if mp := mounts[item.slot]; mp != nil {
			mp.SetList(item.s.Entries, SectionPlaceholder(item.s))
		}
	}
}

// MetricText formats a metric or its placeholder.
func MetricText(m Metric) string {
	switch m.State {
	case StateOK:
		return strconv.FormatInt(m.Value, 10)
	case StateFailed:
		return TextFailed
	default:
		return TextUnavailable
	}
}

// SectionPlaceholder is the text shown when a section has no entries.
func SectionPlaceholder(s Section) string {
	switch s.State {
	case StateOK:
		return TextEmpty
	case StateFailed:
		return TextFailed
	default:
		return TextUnavailable
	}
}

// TextMount is a MountPoint that keeps what was written to it.
type TextMount struct {
	Text        string
	Entries     []Entry
	Placeholder string
}

func (m *TextMount) SetText(text string) { m.Text = text }

func (m *TextMount) SetList(entries []Entry, placeholder string) {
	m.Entries = entries
	m.Placeholder = placeholder
}

// AllSlots lists every slot Render writes.
var AllSlots = []string{
	SlotTotal, SlotToday, SlotLast7Days, SlotLast30Days, SlotUniqueVisitors, SlotLocalBrowsers,
	SlotPages, SlotReferrers, SlotDevices, SlotCountries, SlotStates, SlotCities,
}

// NewTextMounts returns a TextMount for each of slots.
func NewTextMounts(slots ...string) (Mounts, map[string]*TextMount) {
	mounts := make(Mounts, len(slots))
	byName := make(map[string]*TextMount, len(slots))
	for _, s := range slots {
		tm := &TextMount{}
		mounts[s] = tm
		byName[s] = tm
	}
	return mounts, byName
}
