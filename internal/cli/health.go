package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/terraincognita07/soberly/internal/services"
)

var ErrRunsUnhealthy = errors.New("runs health check reported violations")

type HealthChecker interface {
	RunsHealthCheck(ctx context.Context) (services.RunsHealth, error)
}

func RunHealthCommand(ctx context.Context, checker HealthChecker, out io.Writer) error {
	health, err := checker.RunsHealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health: %w", err)
	}
	if err := writeJSON(out, health); err != nil {
		return err
	}
	if health.Status != services.HealthStatusHealthy {
		return ErrRunsUnhealthy
	}
	return nil
}
