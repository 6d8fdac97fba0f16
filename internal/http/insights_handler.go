// Package http holds the dashboard-side handlers.
package http

import (
	"bytes"
	"context"
	"html/template"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"footfall/internal/insights"
	"footfall/web"
)

const insightsPageTimeout = 20 * time.Second

var insightsPage = template.Must(template.ParseFS(web.Templates(), "insights.html"))

// ReportBuilder produces the dashboard report.
type ReportBuilder interface {
	Build(ctx context.Context) insights.Report
}

type slotView struct {
	Slot  string
	Title string
	Mount *insights.TextMount
}

type insightsPageData struct {
	Report  insights.Report
	Metrics []slotView
	Lists   []slotView
}

var (
	metricSlots = []slotView{
		{Slot: insights.SlotTotal, Title: "Total views"},
		{Slot: insights.SlotToday, Title: "Today"},
		{Slot: insights.SlotLast7Days, Title: "Last 7 days"},
		{Slot: insights.SlotLast30Days, Title: "Last 30 days"},
		{Slot: insights.SlotUniqueVisitors, Title: "Unique visitors"},
		{Slot: insights.SlotLocalBrowsers, Title: "Browsers (30 days)"},
	}
	listSlots = []slotView{
		{Slot: insights.SlotPages, Title: "Pages"},
		{Slot: insights.SlotReferrers, Title: "Referrers"},
		{Slot: insights.SlotDevices, Title: "Devices"},
		{Slot: insights.SlotCountries, Title: "Countries"},
		{Slot: insights.SlotStates, Title: "States"},
		{Slot: insights.SlotCities, Title: "Cities"},
	}
)

// InsightsPageAction renders the dashboard. Each metric and list is a named
// mount point; unreadable parts show their placeholder instead.
func InsightsPageAction(builder ReportBuilder) func(ctx *cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		c, cancel := context.WithTimeout(ctx.UserContext(), insightsPageTimeout)
		defer cancel()
		report := builder.Build(c)

		mounts, byName := insights.NewTextMounts(insights.AllSlots...)
		insights.Render(report, mounts)

		data := insightsPageData{
			Report:  report,
			Metrics: bind(metricSlots, byName),
			Lists:   bind(listSlots, byName),
		}

		var buf bytes.Buffer
		if err := insightsPage.Execute(&buf, data); err != nil {
			ctx.Logger.Error("Failed to render insights page", slog.Any("error", err))
			return ctx.Status(fiber.StatusInternalServerError).SendString("Internal Server Error")
		}

		ctx.Set("Content-Type", fiber.MIMETextHTMLCharsetUTF8)
		ctx.Set("Cache-Control", "no-store")
		return ctx.Send(buf.Bytes())
	}
}

func bind(views []slotView, byName map[string]*insights.TextMount) []slotView {
	out := make([]slotView, 0, len(views))
	for _, v := range views {
		if m, ok := byName[v.Slot]; ok {
			v.Mount = m
			out = append(out, v)
		}
	}
	return out
}
