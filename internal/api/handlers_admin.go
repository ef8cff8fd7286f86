package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/terraincognita07/soberly/internal/services"
	"go.uber.org/zap"
)

type backfillPayload struct {
	DryRun     bool   `json:"dry_run"`
	BatchSize  int    `json:"batch_size"`
	SkipBackup bool   `json:"skip_backup"`
	UserIDs    []uint `json:"user_ids"`
	Source     string `json:"source"`
}

type rebuildPayload struct {
	DryRun     bool   `json:"dry_run"`
	SkipBackup bool   `json:"skip_backup"`
	Source     string `json:"source"`
}

type reconciliationPayload struct {
	UserIDs     []uint `json:"user_ids"`
	YearMonth   string `json:"year_month"`
	AutoCorrect bool   `json:"auto_correct"`
}

func (handler *Handler) BackfillRuns(c *fiber.Ctx) error {
	payload := backfillPayload{}
	if err := parseBody(c, &payload); err != nil {
		return apiError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if payload.BatchSize < 0 {
		return apiError(c, fiber.StatusBadRequest, "invalid batch size")
	}

	result, err := handler.backfill.BackfillAllUserRuns(c.UserContext(), services.BackfillOptions{
		DryRun:     payload.DryRun,
		BatchSize:  payload.BatchSize,
		SkipBackup: payload.SkipBackup,
		UserIDs:    payload.UserIDs,
		Source:     payload.Source,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidReplaySource):
			return apiError(c, fiber.StatusBadRequest, "invalid source")
		case errors.Is(err, services.ErrJobInterrupted):
			return c.Status(fiber.StatusServiceUnavailable).JSON(result)
		default:
			handler.logger.Error("backfill failed", zap.Error(err))
			return apiError(c, fiber.StatusInternalServerError, "backfill failed")
		}
	}
	return c.JSON(result)
}

func (handler *Handler) RebuildUserRuns(c *fiber.Ctx) error {
	userID, ok := parseIDParam(c.Params("id"))
	if !ok {
		return apiError(c, fiber.StatusBadRequest, "invalid user id")
	}
	payload := rebuildPayload{}
	if err := parseBody(c, &payload); err != nil {
		return apiError(c, fiber.StatusBadRequest, "invalid payload")
	}

	result, err := handler.backfill.RebuildUserRuns(c.UserContext(), userID, services.RebuildOptions{
		DryRun:     payload.DryRun,
		SkipBackup: payload.SkipBackup,
		Source:     payload.Source,
	})
	if err != nil {
		if errors.Is(err, services.ErrInvalidReplaySource) {
			return apiError(c, fiber.StatusBadRequest, "invalid source")
		}
		handler.logger.Error("rebuild runs failed", zap.Uint("user_id", userID), zap.Error(err))
		return apiError(c, fiber.StatusInternalServerError, "rebuild failed")
	}
	return c.JSON(result)
}

func (handler *Handler) Reconcile(c *fiber.Ctx) error {
	payload := reconciliationPayload{}
	if err := parseBody(c, &payload); err != nil {
		return apiError(c, fiber.StatusBadRequest, "invalid payload")
	}

	summary, err := handler.reconciliation.BulkReconciliation(c.UserContext(), services.BulkReconciliationRequest{
		UserIDs:     payload.UserIDs,
		YearMonth:   payload.YearMonth,
		AutoCorrect: payload.AutoCorrect,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidYearMonth):
			return apiError(c, fiber.StatusBadRequest, "invalid month")
		case errors.Is(err, services.ErrJobInterrupted):
			return c.Status(fiber.StatusServiceUnavailable).JSON(summary)
		default:
			handler.logger.Error("reconciliation failed", zap.Error(err))
			return apiError(c, fiber.StatusInternalServerError, "reconciliation failed")
		}
	}
	return c.JSON(summary)
}

func (handler *Handler) GetReconciliationLogs(c *fiber.Ctx) error {
	correlationID := c.Params("correlationID")
	if correlationID == "" {
		return apiError(c, fiber.StatusBadRequest, "invalid correlation id")
	}

	entries, err := handler.reconciliation.ListLogs(c.UserContext(), correlationID)
	if err != nil {
		return apiError(c, fiber.StatusInternalServerError, "failed to fetch reconciliation logs")
	}
	if len(entries) == 0 {
		return apiError(c, fiber.StatusNotFound, "reconciliation not found")
	}
	return c.JSON(fiber.Map{"correlation_id": correlationID, "entries": entries})
}
