package api

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func (handler *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// RunsHealth reports stored-run invariant violations. An unhealthy result is
// still a 200: the service keeps running in a degraded state.
func (handler *Handler) RunsHealth(c *fiber.Ctx) error {
	health, err := handler.health.RunsHealthCheck(c.UserContext())
	if err != nil {
		handler.logger.Error("runs health check failed", zap.Error(err))
		return apiError(c, fiber.StatusInternalServerError, "health check failed")
	}
	return c.JSON(health)
}
