// Package insights reads the aggregate counters back and builds the
// dashboard report: totals, rolling day sums and top-N lists per dimension.
package insights

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"footfall/internal/catalog"
	"footfall/internal/keys"
	"footfall/internal/pkg/async"
)

// State is the availability of one metric or section.
type State string

const (
	StateOK          State = "ok"
	StateUnavailable State = "unavailable"
	StateFailed      State = "failed"
)

// Display limits per section.
const (
	PagesLimit     = 10
	ReferrersLimit = 8
	DevicesLimit   = 10
	GeoLimit       = 10
)

// rollingWindow is the number of day keys read for the rolling sums.
const rollingWindow = 30

// Reader is the remote counter read path. Read returns 0 without error for
// keys that were never incremented.
type Reader interface {
	Read(ctx context.Context, key string) (int64, error)
}

// LocalStats exposes counts computed from the local visit log.
type LocalStats interface {
	UniqueVisitors(ctx context.Context, since time.Time) (uint64, error)
}

// CooldownReporter tells whether remote calls are being suppressed.
type CooldownReporter interface {
	CooldownUntil() (bool, time.Time)
}

// Metric is a single number.
type Metric struct {
	State State `json:"state"`
	Value int64 `json:"value"`
}

// Entry is one (label, count) row of a list. Unique is only filled for
// pages and countries, the dimensions with per-value unique counters.
type Entry struct {
	Value  string `json:"value"`
	Label  string `json:"label"`
	Count  int64  `json:"count"`
	Unique int64  `json:"unique,omitempty"`
}

// Section is one top-N list.
type Section struct {
	State   State   `json:"state"`
	Entries []Entry `json:"entries"`
}

// Report is everything the dashboard shows.
type Report struct {
	GeneratedAt time.Time `json:"generated_at"`
	State       State     `json:"state"`

	Total          Metric `json:"total"`
	Today          Metric `json:"today"`
	Last7Days      Metric `json:"last_7_days"`
	Last30Days     Metric `json:"last_30_days"`
	UniqueVisitors Metric `json:"unique_visitors"`
	// LocalBrowsers estimates distinct browsers in the local visit log over 30 days.
	LocalBrowsers Metric `json:"local_browsers"`

	Pages     Section `json:"pages"`
	Referrers Section `json:"referrers"`
	Devices   Section `json:"devices"`
	Countries Section `json:"countries"`
	States    Section `json:"states"`
	Cities    Section `json:"cities"`

	CoolingDown   bool       `json:"cooling_down"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
}

// Options wires an Aggregator.
type Options struct {
	Encoder  keys.Encoder
	Counter  Reader
	Catalog  *catalog.Catalog
	Local    LocalStats
	Cooldown CooldownReporter
	Location *time.Location
	Clock    func() time.Time
	Logger   *slog.Logger
	// Concurrency bounds the reads in flight within one list. Lists and
	// metrics are read in parallel with each other, so a report can have up
	// to Concurrency reads in flight per list.
	Concurrency int
}

// Aggregator builds reports.
type Aggregator struct {
	opts Options
}

// NewAggregator returns an Aggregator; zero options select defaults.
func NewAggregator(opts Options) *Aggregator {
	if opts.Encoder.Version == "" {
		opts.Encoder = keys.Default
	}
	if opts.Catalog == nil {
		opts.Catalog = catalog.Default()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 16
	}
	return &Aggregator{opts: opts}
}

const (
	taskTotal     = "total"
	taskUnique    = "unique"
	taskDays      = "days"
	taskPages     = "pages"
	taskReferrers = "referrers"
	taskDevices   = "devices"
	taskCountries = "countries"
	taskStates    = "states"
	taskCities    = "cities"

	taskPageUniques    = "pages_uniq"
	taskCountryUniques = "countries_uniq"
)

// Build reads every counter the dashboard needs. It never fails: unreadable
// parts are marked in the report instead.
func (a *Aggregator) Build(ctx context.Context) Report {
	now := a.opts.Clock().In(a.opts.Location)
	enc := a.opts.Encoder
	cat := a.opts.Catalog

	lists := map[string]keys.Dimension{
		taskPages:     keys.Path,
		taskReferrers: keys.Referrer,
		taskDevices:   keys.Device,
		taskCountries: keys.Country,
		taskStates:    keys.State,
		taskCities:    keys.City,
	}

	tasks := []async.Task[[]int64]{
		a.readTask(taskTotal, []string{enc.Total()}),
		a.readTask(taskUnique, []string{enc.UniqueVisitors()}),
		a.readTask(taskDays, enc.TrailingDays(now, rollingWindow)),
	}
	for name, dim := range lists {
		values := cat.Values(dim)
		ks := make([]string, len(values))
		for i, v := range values {
			ks[i] = enc.Make(dim, v)
		}
		tasks = append(tasks, a.readTask(name, ks))
	}
	for name, dim := range map[string]keys.Dimension{
		taskPageUniques:    keys.Path,
		taskCountryUniques: keys.Country,
	} {
		values := cat.Values(dim)
		ks := make([]string, len(values))
		for i, v := range values {
			ks[i] = enc.MakeMetric(dim, v, keys.Unique)
		}
		tasks = append(tasks, a.readTask(name, ks))
	}

	var (
		local    uint64
		localErr error
		wg       sync.WaitGroup
	)
	if a.opts.Local != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local, localErr = a.opts.Local.UniqueVisitors(ctx, now.AddDate(0, 0, -rollingWindow))
		}()
	}

	// one worker per task; readTask bounds the reads inside each
	results := async.NewPool[[]int64](len(tasks)).Execute(ctx, tasks)
	wg.Wait()

	report := Report{GeneratedAt: now, State: StateOK}
	if a.opts.Cooldown != nil {
		if cooling, until := a.opts.Cooldown.CooldownUntil(); cooling {
			report.CoolingDown = true
			report.CooldownUntil = &until
		}
	}

	switch {
	case a.opts.Local == nil:
		report.LocalBrowsers = Metric{State: StateUnavailable}
	case localErr != nil:
		a.opts.Logger.Warn("Failed to estimate local unique browsers", slog.Any("error", localErr))
		report.LocalBrowsers = Metric{State: StateFailed}
	default:
		report.LocalBrowsers = Metric{State: StateOK, Value: int64(local)}
	}

	// Without the required reads nothing is shown, not even parts that loaded.
	if failed := a.failedTasks(results, taskTotal, taskPages); len(failed) > 0 {
		a.opts.Logger.Warn("Insights unavailable, required counters could not be read",
			slog.Any("tasks", failed))
		return unavailable(report)
	}

	report.Total = Metric{State: StateOK, Value: results[taskTotal].Data[0]}
	report.UniqueVisitors = a.metric(results[taskUnique], func(v []int64) int64 { return v[0] })
	days := results[taskDays]
	report.Today = a.metric(days, func(v []int64) int64 { return sum(v[:1]) })
	report.Last7Days = a.metric(days, func(v []int64) int64 { return sum(v[:7]) })
	report.Last30Days = a.metric(days, func(v []int64) int64 { return sum(v[:30]) })

	none := async.Result[[]int64]{}
	report.Pages = a.section(results[taskPages], results[taskPageUniques], keys.Path, PagesLimit)
	report.Referrers = a.section(results[taskReferrers], none, keys.Referrer, ReferrersLimit)
	report.Devices = a.section(results[taskDevices], none, keys.Device, DevicesLimit)
	report.Countries = a.section(results[taskCountries], results[taskCountryUniques], keys.Country, GeoLimit)
	report.States = a.section(results[taskStates], none, keys.State, GeoLimit)
	report.Cities = a.section(results[taskCities], none, keys.City, GeoLimit)
	return report
}

// readTask reads keys concurrently; the result keeps the order of keys.
func (a *Aggregator) readTask(name string, ks []string) async.Task[[]int64] {
	return async.Task[[]int64]{
		Name: name,
		Execute: func(ctx context.Context) ([]int64, error) {
			out := make([]int64, len(ks))
			p := pool.New().WithErrors().WithMaxGoroutines(a.opts.Concurrency)
			for i, key := range ks {
				p.Go(func() error {
					v, err := a.opts.Counter.Read(ctx, key)
					out[i] = v
					return err
				})
			}
			if err := p.Wait(); err != nil {
				return nil, err
			}
			return out, nil
		},
	}
}

func (a *Aggregator) failedTasks(results map[string]async.Result[[]int64], names ...string) []string {
	var failed []string
	for _, name := range names {
		r, ok := results[name]
		if !ok || r.Err != nil {
			failed = append(failed, name)
		}
	}
	return failed
}

func (a *Aggregator) metric(r async.Result[[]int64], f func([]int64) int64) Metric {
	if r.Err != nil {
		a.opts.Logger.Debug("Insights metric failed", slog.String("task", r.Name), slog.Any("error", r.Err))
		return Metric{State: StateFailed}
	}
	return Metric{State: StateOK, Value: f(r.Data)}
}

// section builds a top-N list from r. Unique counts come from u when it
// loaded; a failed u leaves them zero without failing the section.
func (a *Aggregator) section(r, u async.Result[[]int64], dim keys.Dimension, limit int) Section {
	if r.Err != nil {
		a.opts.Logger.Debug("Insights section failed", slog.String("task", r.Name), slog.Any("error", r.Err))
		return Section{State: StateFailed, Entries: []Entry{}}
	}
	if u.Err != nil {
		a.opts.Logger.Debug("Insights unique counts failed", slog.String("task", u.Name), slog.Any("error", u.Err))
	}
	values := a.opts.Catalog.Values(dim)
	withUniques := u.Err == nil && len(u.Data) == len(values)
	entries := make([]Entry, len(values))
	for i, v := range values {
		entries[i] = Entry{Value: v, Label: Label(dim, v), Count: r.Data[i]}
		if withUniques {
			entries[i].Unique = u.Data[i]
		}
	}
	return Section{State: StateOK, Entries: TopN(entries, limit)}
}

func unavailable(r Report) Report {
	down := Metric{State: StateUnavailable}
	r.State = StateUnavailable
	r.Total, r.Today, r.Last7Days, r.Last30Days, r.UniqueVisitors = down, down, down, down, down
	empty := Section{State: StateUnavailable, Entries: []Entry{}}
	r.Pages, r.Referrers, r.Devices = empty, empty, empty
	r.Countries, r.States, r.Cities = empty, empty, empty
	return r
}

func sum(vs []int64) int64 {
	var total int64
	for _, v := range vs {
		total += v
	}
	return total
}
