package api

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func RegisterRoutes(app *fiber.App, handler *Handler, gatherer prometheus.Gatherer) {
	app.Get("/healthz", handler.Health)
	if gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	registerAPIRoutes(app, handler)
}

func registerAPIRoutes(app *fiber.App, handler *Handler) {
	api := app.Group("/api", handler.AuthRequired)

	days := api.Group("/days", limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			if user, ok := currentUser(c); ok {
				return "days:" + strconv.FormatUint(uint64(user.ID), 10)
			}
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return apiError(c, fiber.StatusTooManyRequests, "too many requests")
		},
	}))
	days.Put("/:date", handler.MarkDay)

	stats := api.Group("/stats")
	stats.Get("/totals", handler.GetTotals)
	stats.Get("/months/:month", handler.GetMonthTotals)

	api.Get("/health/runs", handler.RunsHealth)

	admin := api.Group("/admin", handler.AdminOnly)
	admin.Post("/runs/backfill", handler.BackfillRuns)
	admin.Post("/runs/users/:id/rebuild", handler.RebuildUserRuns)
	admin.Post("/reconciliation", handler.Reconcile)
	admin.Get("/reconciliation/:correlationID", handler.GetReconciliationLogs)
}
