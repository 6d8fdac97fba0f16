package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"footfall/internal"
	"footfall/internal/insights"
	"footfall/internal/seeder"
	"footfall/internal/visitors"
	"footfall/internal/visits"
)

var errNoApp = errors.New("app initialization failed")

// InsightsCommand prints the dashboard report.
type InsightsCommand struct{}

func (c *InsightsCommand) Name() string        { return "insights" }
func (c *InsightsCommand) Description() string { return "Prints the visit report read from the remote counter" }

func (c *InsightsCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return errNoApp
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	report := app.Services.Aggregator.Build(ctx)
	return printReport(os.Stdout, report)
}

func printReport(out io.Writer, r insights.Report) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Generated\t%s\n", r.GeneratedAt.Format(time.RFC3339))
	if r.CooldownUntil != nil {
		fmt.Fprintf(w, "Counter\tcooling down until %s\n", r.CooldownUntil.Format(time.RFC3339))
	}
	fmt.Fprintln(w)

	for _, m := range []struct {
		title string
		m     insights.Metric
	}{
		{"Total views", r.Total},
		{"Today", r.Today},
		{"Last 7 days", r.Last7Days},
		{"Last 30 days", r.Last30Days},
		{"Unique visitors", r.UniqueVisitors},
		{"Browsers (30 days)", r.LocalBrowsers},
	} {
		fmt.Fprintf(w, "%s\t%s\n", m.title, insights.MetricText(m.m))
	}

	for _, s := range []struct {
		title string
		s     insights.Section
	}{
		{"Pages", r.Pages},
		{"Referrers", r.Referrers},
		{"Devices", r.Devices},
		{"Countries", r.Countries},
		{"States", r.States},
		{"Cities", r.Cities},
	} {
		fmt.Fprintf(w, "\n%s\t\n", s.title)
		if len(s.s.Entries) == 0 {
			fmt.Fprintf(w, "  %s\t\n", insights.SectionPlaceholder(s.s))
			continue
		}
		for _, e := range s.s.Entries {
			if e.Unique > 0 {
				fmt.Fprintf(w, "  %s\t%d\t%d unique\n", e.Label, e.Count, e.Unique)
				continue
			}
			fmt.Fprintf(w, "  %s\t%d\n", e.Label, e.Count)
		}
	}
	return w.Flush()
}

// HitCommand records one visit synchronously, useful to check the counter wiring.
type HitCommand struct{}

func (c *HitCommand) Name() string        { return "hit" }
func (c *HitCommand) Description() string { return "Records one visit for a page URL" }

func (c *HitCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("hit", flag.ContinueOnError)
	referrer := fs.String("referrer", "", "referring URL")
	ua := fs.String("ua", "ffctl", "user agent")
	ip := fs.String("ip", "", "client address used for geolocation and uniqueness")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: %s [-referrer URL] [-ua UA] [-ip IP] <url>", c.Name())
	}
	if app == nil {
		return errNoApp
	}

	res, err := app.Services.Collector.Record(ctx, visits.Visit{
		URL:       fs.Arg(0),
		Referrer:  *referrer,
		UserAgent: *ua,
		IP:        *ip,
		VisitorID: visitors.NewID(),
	})
	if !res.Tracked {
		log.Printf("Path %s is excluded from tracking", res.Path)
		return err
	}
	log.Printf("Tracked %s (referrer %q, device %s, country %s, first visit %t)",
		res.Path, res.Referrer, res.Device, res.Location.CountryCode, res.FirstVisit)
	return err
}

// StatusCommand implements a command to check the system status
type StatusCommand struct{}

// Name returns the command name
func (c *StatusCommand) Name() string {
	return "status"
}

// Description returns the command description
func (c *StatusCommand) Description() string {
	return "Shows the current system status"
}

// Execute implements the status command
func (c *StatusCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("cannot check status: %w", errNoApp)
	}
	svc := app.Services

	count, err := svc.Log.Count(ctx)
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}

	log.Println("System Status:")
	log.Println("- Database: Connected")
	log.Printf("- Logged visits: %d", count)
	log.Printf("- Counter backend: %s (atomic uniqueness: %t)", svc.Config.CounterBackend, svc.Gate.Atomic())
	if cooling, until := svc.Counter.CooldownUntil(); cooling {
		log.Printf("- Counter: cooling down until %s", until.Format(time.RFC3339))
	} else {
		log.Println("- Counter: ok")
	}
	log.Printf("- Geolocation: %s", svc.Config.GeoProvider)

	sqlDB, err := app.DBManager.GetConnection().DB()
	if err != nil {
		return fmt.Errorf("failed to get SQL DB: %w", err)
	}

	log.Printf("- Max Open Connections: %d", sqlDB.Stats().MaxOpenConnections)
	log.Printf("- Open Connections: %d", sqlDB.Stats().OpenConnections)
	log.Printf("- In Use: %d", sqlDB.Stats().InUse)
	log.Printf("- Idle: %d", sqlDB.Stats().Idle)

	return nil
}

// HelpCommand implements a command to show usage information
type HelpCommand struct{}

// Name returns the command name
func (c *HelpCommand) Name() string {
	return "help"
}

// Description returns the command description
func (c *HelpCommand) Description() string {
	return "Shows usage information"
}

// Execute implements the help command
func (c *HelpCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	printUsage()
	return nil
}

// MigrateCommand runs database migrations
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string        { return "migrate" }
func (c *MigrateCommand) Description() string { return "Runs database migrations" }

func (c *MigrateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("cannot run migrations: %w", errNoApp)
	}

	log.Println("Running database migrations...")
	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Println("Migrations completed successfully")
	return nil
}

// SeedCommand records synthetic visits through the configured counter.
type SeedCommand struct{}

func (c *SeedCommand) Name() string        { return "seed" }
func (c *SeedCommand) Description() string { return "Records synthetic visits for demos" }

func (c *SeedCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	count := fs.Int("visits", 200, "number of visits to generate")
	days := fs.Int("days", 30, "spread the visits over this many trailing days")
	site := fs.String("site", "https://example.com", "origin of the generated page URLs")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if app == nil {
		return errNoApp
	}

	se := seeder.NewSeeder(app.Services.Collector, slog.Default(), *count)
	se.Days = *days
	se.SiteURL = *site

	_, err := se.Run(ctx)
	return err
}

// JobsCommand runs every background job once, e.g. from cron when the
// server is not running.
type JobsCommand struct{}

func (c *JobsCommand) Name() string        { return "jobs" }
func (c *JobsCommand) Description() string { return "Runs the maintenance jobs once" }

func (c *JobsCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return errNoApp
	}
	return app.Services.Scheduler.RunAll(ctx)
}
