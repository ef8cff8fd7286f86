package services

import (
	"context"
	"fmt"
	"time"

	"github.com/terraincognita07/soberly/internal/models"
)

const (
	HealthStatusHealthy   = "healthy"
	HealthStatusUnhealthy = "unhealthy"
)

type RunHealthReader interface {
	HealthCounts(ctx context.Context, userID uint) (models.RunHealthCounts, error)
}

type RunsHealthChecks struct {
	OverlappingRuns    int64 `json:"overlapping_runs"`
	MultipleActiveRuns int64 `json:"multiple_active_runs"`
	DayCountIssues     int64 `json:"day_count_issues"`
}

type RunsHealth struct {
	Status    string           `json:"status"`
	Checks    RunsHealthChecks `json:"checks"`
	CheckedAt time.Time        `json:"checked_at"`
}

type HealthService struct {
	runs RunHealthReader
	now  func() time.Time
}

func NewHealthService(runs RunHealthReader) *HealthService {
	return &HealthService{runs: runs, now: time.Now}
}

// RunsHealthCheck reports invariant violations across all stored runs.
// Violations make the status unhealthy; they are not an error.
func (service *HealthService) RunsHealthCheck(ctx context.Context) (RunsHealth, error) {
	counts, err := service.runs.HealthCounts(ctx, 0)
	if err != nil {
		return RunsHealth{}, fmt.Errorf("runs health check: %w", err)
	}

	health := RunsHealth{
		Status: HealthStatusHealthy,
		Checks: RunsHealthChecks{
			OverlappingRuns:    counts.OverlappingRuns,
			MultipleActiveRuns: counts.MultipleActiveRuns,
			DayCountIssues:     counts.DayCountIssues,
		},
		CheckedAt: service.now().UTC(),
	}
	if counts.Total() > 0 {
		health.Status = HealthStatusUnhealthy
	}
	return health, nil
}
