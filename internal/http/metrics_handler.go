package http

import (
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/karloscodes/cartridge"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsAction exposes the collectors registered on gatherer.
func MetricsAction(gatherer prometheus.Gatherer) func(ctx *cartridge.Context) error {
	handler := adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return func(ctx *cartridge.Context) error {
		return handler(ctx.Ctx)
	}
}
