package v1

import (
	"context"
	"time"

	"github.com/karloscodes/cartridge"

	"footfall/internal/insights"
)

// insightsTimeout bounds one report build; unfinished reads mark their
// sections instead of failing the request.
const insightsTimeout = 20 * time.Second

// ReportBuilder produces the dashboard report.
type ReportBuilder interface {
	Build(ctx context.Context) insights.Report
}

// GetInsightsHandler answers the insights report as JSON. Partial and
// unavailable reports still answer 200; the report carries their state.
func GetInsightsHandler(builder ReportBuilder) func(ctx *cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		c, cancel := context.WithTimeout(ctx.UserContext(), insightsTimeout)
		defer cancel()

		report := builder.Build(c)
		ctx.Set("Cache-Control", "no-store")
		return ctx.JSON(report)
	}
}
