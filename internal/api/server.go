package api

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// NewServer builds the fiber app with middleware and routes. Access logs go
// through the zap logger. Request contexts derive from ctx, so admin jobs
// still running when ctx ends stop and report partial progress.
func NewServer(ctx context.Context, handler *Handler, gatherer prometheus.Gatherer, zapLogger *zap.Logger) *fiber.App {
	if zapLogger == nil {
		zapLogger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		AppName:               "Soberly",
		DisableStartupMessage: true,
		ErrorHandler:          jsonErrorHandler,
	})

	app.Use(recover.New())
	app.Use(serverContext(ctx))
	app.Use(requestid.New())
	app.Use(logger.New(logger.Config{
		Format:     "${time} ${locals:requestid} ${status} ${method} ${path} ${latency}\n",
		TimeFormat: "2006-01-02T15:04:05Z07:00",
		Output:     zap.NewStdLog(zapLogger.Named("http")).Writer(),
	}))

	RegisterRoutes(app, handler, gatherer)
	app.Use(func(c *fiber.Ctx) error {
		return apiError(c, fiber.StatusNotFound, "not found")
	})
	return app
}

func serverContext(base context.Context) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithCancel(base)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

func jsonErrorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	message := "internal server error"
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		status = fiberErr.Code
		message = fiberErr.Message
	}
	return apiError(c, status, message)
}
