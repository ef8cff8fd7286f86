package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/terraincognita07/soberly/internal/services"
)

type dayMarkPayload struct {
	Marked   *bool  `json:"marked"`
	Timezone string `json:"timezone"`
}

// MarkDay stores the mark for :date. The body may be empty, which marks the
// day in the user's timezone.
func (handler *Handler) MarkDay(c *fiber.Ctx) error {
	user, ok := currentUser(c)
	if !ok {
		return apiError(c, fiber.StatusUnauthorized, "unauthorized")
	}

	payload := dayMarkPayload{}
	if err := parseBody(c, &payload); err != nil {
		return apiError(c, fiber.StatusBadRequest, "invalid payload")
	}
	marked := true
	if payload.Marked != nil {
		marked = *payload.Marked
	}

	result, err := handler.dayMarks.MarkDay(c.UserContext(), services.MarkDayInput{
		UserID:    user.ID,
		Date:      c.Params("date"),
		Marked:    marked,
		Timezone:  payload.Timezone,
		UserAgent: c.Get(fiber.HeaderUserAgent),
		Source:    "api",
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidMarkDate):
			return apiError(c, fiber.StatusBadRequest, "invalid date")
		case errors.Is(err, services.ErrInvalidTimezone):
			return apiError(c, fiber.StatusBadRequest, "invalid timezone")
		case errors.Is(err, services.ErrUserNotFound):
			return apiError(c, fiber.StatusNotFound, "user not found")
		default:
			return apiError(c, fiber.StatusInternalServerError, "failed to save day")
		}
	}
	return c.JSON(result)
}
