package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/terraincognita07/soberly/internal/metrics"
	"github.com/terraincognita07/soberly/internal/models"
	"go.uber.org/zap"
)

type RunSweepRepository interface {
	ActiveRunTimezones(ctx context.Context) ([]string, error)
	DeactivateEndedBefore(ctx context.Context, day time.Time, timezone string) ([]models.Run, error)
}

// RunSweeper clears the active flag of runs whose last marked day is older
// than the owner's yesterday, so a streak stops counting once a day is
// missed. Owners without a usable timezone are swept in location.
type RunSweeper struct {
	runs      RunSweepRepository
	listeners []RunChangeListener
	interval  time.Duration
	location  *time.Location
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
	wg        sync.WaitGroup
}

func NewRunSweeper(runs RunSweepRepository, interval time.Duration, location *time.Location, logger *zap.Logger, m *metrics.Metrics) *RunSweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunSweeper{
		runs:     runs,
		interval: interval,
		location: location,
		metrics:  m,
		logger:   logger.Named("sweeper"),
		now:      time.Now,
	}
}

func (sweeper *RunSweeper) AddListener(listener RunChangeListener) {
	sweeper.listeners = append(sweeper.listeners, listener)
}

func (sweeper *RunSweeper) Start(ctx context.Context) {
	sweeper.wg.Add(1)
	go func() {
		defer sweeper.wg.Done()
		sweeper.sweepAndLog(ctx)

		ticker := time.NewTicker(sweeper.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweeper.sweepAndLog(ctx)
			}
		}
	}()
}

// Wait blocks until the sweep loop has returned after its context ended.
func (sweeper *RunSweeper) Wait() {
	sweeper.wg.Wait()
}

// SweepOnce deactivates stale runs one owner timezone at a time and returns
// how many it touched.
func (sweeper *RunSweeper) SweepOnce(ctx context.Context) (int, error) {
	timezones, err := sweeper.runs.ActiveRunTimezones(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active run timezones: %w", err)
	}

	now := sweeper.now()
	byUser := make(map[uint][]models.Run)
	currentMonth := make(map[uint]string)
	total := 0
	var sweepErr error
	for _, timezone := range timezones {
		today := CivilDay(now, LocationOrDefault(timezone, sweeper.location))
		swept, err := sweeper.runs.DeactivateEndedBefore(ctx, today, timezone)
		if err != nil {
			sweepErr = fmt.Errorf("deactivate stale runs in %q: %w", timezone, err)
			break
		}
		total += len(swept)
		for _, run := range swept {
			byUser[run.UserID] = append(byUser[run.UserID], run)
			currentMonth[run.UserID] = YearMonthOf(today)
		}
	}

	for userID, runs := range byUser {
		months := appendMonthIfMissing(monthsOfRuns(runs), currentMonth[userID])
		for _, listener := range sweeper.listeners {
			listener.RunsChanged(ctx, userID, months)
		}
	}

	sweeper.metrics.RunsSwept(total)
	return total, sweepErr
}

func (sweeper *RunSweeper) sweepAndLog(ctx context.Context) {
	count, err := sweeper.SweepOnce(ctx)
	if err != nil {
		sweeper.logger.Error("run sweep failed", zap.Error(err))
		return
	}
	if count > 0 {
		sweeper.logger.Info("deactivated stale runs", zap.Int("runs", count))
	}
}

func appendMonthIfMissing(months []string, month string) []string {
	for _, existing := range months {
		if existing == month {
			return months
		}
	}
	return append(months, month)
}
