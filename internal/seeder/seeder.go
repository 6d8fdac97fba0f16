// Package seeder generates synthetic visits for demos and local testing.
package seeder

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"footfall/internal/visitors"
	"footfall/internal/visits"
)

// Recorder records one visit synchronously.
type Recorder interface {
	Record(ctx context.Context, v visits.Visit) (visits.Result, error)
}

// Seeder replays random visitor journeys through a Recorder.
type Seeder struct {
	Recorder   Recorder
	Logger     *slog.Logger
	VisitCount int
	// SiteURL is the origin the generated page URLs live on.
	SiteURL string
	// Days spreads the visits over this many trailing days.
	Days int
	Now  func() time.Time
	Rand *rand.Rand
}

// NewSeeder creates a new seeder instance
func NewSeeder(recorder Recorder, logger *slog.Logger, visitCount int) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{
		Recorder:   recorder,
		Logger:     logger,
		VisitCount: visitCount,
		SiteURL:    "https://example.com",
		Days:       30,
		Now:        time.Now,
		Rand:       rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
	}
}

var journeyTemplates = [][]string{
	{"/", "/about", "/contact"},
	{"/", "/features", "/pricing", "/signup"},
	{"/", "/blog/", "/blog/article-1", "/signup"},
	{"/pricing", "/features", "/signup"},
	{"/", "/empresarial.html", "/contact"},
	{"/", "/docs", "/docs/getting-started"},
	{"/blog/article-1", "/about", "/pricing"},
	{"/index.html"},
}

type visitor struct {
	id        string
	ip        string
	userAgent string
	referrer  string
	language  string
}

// Run records VisitCount visits and returns how many were tracked.
func (s *Seeder) Run(ctx context.Context) (int, error) {
	start := time.Now()
	s.Logger.Info("Seeding visits...", slog.Int("visitCount", s.VisitCount))

	ipPool := s.generateIPPool(max(1, s.VisitCount/4))
	userAgents := getUserAgents()
	referrers := getReferrers()
	languages := []string{"pt-BR", "en-US", "es-ES", "de-DE"}

	tracked := 0
	for recorded := 0; recorded < s.VisitCount; {
		if err := ctx.Err(); err != nil {
			return tracked, err
		}

		v := visitor{
			id:        visitors.NewID(),
			ip:        ipPool[s.Rand.IntN(len(ipPool))],
			userAgent: userAgents[s.Rand.IntN(len(userAgents))],
			referrer:  referrers[s.Rand.IntN(len(referrers))],
			language:  languages[s.Rand.IntN(len(languages))],
		}
		day := s.Now().AddDate(0, 0, -s.Rand.IntN(max(1, s.Days)))
		at := time.Date(day.Year(), day.Month(), day.Day(), 8+s.Rand.IntN(12), s.Rand.IntN(60), 0, 0, day.Location())

		journey := journeyTemplates[s.Rand.IntN(len(journeyTemplates))]
		for i, path := range journey {
			if recorded >= s.VisitCount {
				break
			}
			referrer := s.SiteURL + journey[max(0, i-1)]
			if i == 0 {
				referrer = v.referrer
			}
			res, err := s.Recorder.Record(ctx, visits.Visit{
				URL:       s.SiteURL + path,
				Referrer:  referrer,
				UserAgent: v.userAgent,
				IP:        v.ip,
				VisitorID: v.id,
				Language:  v.language,
				Time:      at.Add(time.Duration(i) * time.Minute),
			})
			recorded++
			if err != nil {
				s.Logger.Warn("Seeded visit recorded with failures", slog.Any("error", err))
			}
			if res.Tracked {
				tracked++
			}
		}
	}

	s.Logger.Info("Seeding completed",
		slog.Int("tracked", tracked),
		slog.Duration("elapsed", time.Since(start)))
	return tracked, nil
}

func (s *Seeder) generateIPPool(count int) []string {
	seen := make(map[string]bool)
	var ips []string
	for len(ips) < count {
		ip := fmt.Sprintf("%d.%d.%d.%d", s.Rand.IntN(223)+1, s.Rand.IntN(256), s.Rand.IntN(256), s.Rand.IntN(254)+1)
		if !seen[ip] {
			seen[ip] = true
			ips = append(ips, ip)
		}
	}
	return ips
}

func getUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Safari/605.1.15",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 16_1_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Mobile/15E148 Safari/605.1",
		"Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Mobile Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36",
		"Mozilla/5.0 (iPod touch; CPU iPhone OS 15_7 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.6 Mobile/15E148 Safari/604.1",
	}
}

func getReferrers() []string {
	return []string{
		"", // Direct visit
		"https://www.google.com/",
		"https://www.bing.com/",
		"https://l.instagram.com/",
		"https://www.facebook.com/",
		"https://t.co/abc",
		"https://www.linkedin.com/feed/",
		"https://wa.me/",
		"not a url",
	}
}
