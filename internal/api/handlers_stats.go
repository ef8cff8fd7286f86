package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/terraincognita07/soberly/internal/services"
)

func (handler *Handler) GetTotals(c *fiber.Ctx) error {
	user, ok := currentUser(c)
	if !ok {
		return apiError(c, fiber.StatusUnauthorized, "unauthorized")
	}

	totals, err := handler.stats.GetTotals(c.UserContext(), user.ID)
	if err != nil {
		return apiError(c, fiber.StatusInternalServerError, "failed to fetch totals")
	}
	return c.JSON(totals)
}

func (handler *Handler) GetMonthTotals(c *fiber.Ctx) error {
	user, ok := currentUser(c)
	if !ok {
		return apiError(c, fiber.StatusUnauthorized, "unauthorized")
	}

	totals, source, err := handler.stats.MonthlyTotals(c.UserContext(), user.ID, c.Params("month"))
	if err != nil {
		if errors.Is(err, services.ErrInvalidYearMonth) {
			return apiError(c, fiber.StatusBadRequest, "invalid month")
		}
		return apiError(c, fiber.StatusInternalServerError, "failed to fetch totals")
	}
	return c.JSON(fiber.Map{"totals": totals, "source": source})
}
