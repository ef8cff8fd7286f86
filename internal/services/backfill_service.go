package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/terraincognita07/soberly/internal/metrics"
	"github.com/terraincognita07/soberly/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	ReplaySourceDayMarks    = "day_marks"
	ReplaySourceClickEvents = "click_events"
)

var (
	ErrInvalidReplaySource = errors.New("invalid replay source")
	ErrRebuildFailed       = errors.New("rebuild runs failed")
)

type MarkedDateSource interface {
	ListMarkedDates(ctx context.Context, userID uint) ([]time.Time, error)
}

type ClickEventSource interface {
	ListByUser(ctx context.Context, userID uint) ([]models.ClickEvent, error)
}

type RunRebuildRepository interface {
	ListByUser(ctx context.Context, userID uint) ([]models.Run, error)
	DeleteByUser(ctx context.Context, userID uint) error
	CreateBatch(ctx context.Context, runs []models.Run) error
	HealthCounts(ctx context.Context, userID uint) (models.RunHealthCounts, error)
}

type RunBackupWriter interface {
	CreateBatch(ctx context.Context, backups []models.RunBackup) error
}

type RebuildOptions struct {
	DryRun      bool
	SkipBackup  bool
	Source      string
	OperationID string
}

type RebuildResult struct {
	UserID              uint         `json:"user_id"`
	OperationID         string       `json:"operation_id"`
	DryRun              bool         `json:"dry_run"`
	Changed             bool         `json:"changed"`
	RunsBefore          []models.Run `json:"runs_before"`
	RunsAfter           []models.Run `json:"runs_after"`
	InvariantViolations int          `json:"invariant_violations"`
	Violations          []string     `json:"violations"`
	MonthsRefreshed     []string     `json:"months_refreshed"`
}

type BackfillOptions struct {
	DryRun     bool
	BatchSize  int
	SkipBackup bool
	UserIDs    []uint
	Source     string
}

type BackfillResult struct {
	OperationID         string        `json:"operation_id"`
	DryRun              bool          `json:"dry_run"`
	TotalUsers          int           `json:"total_users"`
	CompletedUsers      int           `json:"completed_users"`
	FailedUsers         int           `json:"failed_users"`
	ChangedUsers        int           `json:"changed_users"`
	InvariantViolations int           `json:"invariant_violations"`
	Errors              []UserFailure `json:"errors"`
	ProcessingTimeMs    int64         `json:"processing_time_ms"`
	Interrupted         bool          `json:"interrupted"`
}

type BackfillDependencies struct {
	Transactor Transactor
	Runs       RunRebuildRepository
	Backups    RunBackupWriter
	DayMarks   MarkedDateSource
	Events     ClickEventSource
	Users      UserLister
	Aggregator MonthlyAggregator
	Locks      *UserLocks
	Clock      *UserClock
}

type BackfillService struct {
	tx         Transactor
	runs       RunRebuildRepository
	backups    RunBackupWriter
	dayMarks   MarkedDateSource
	events     ClickEventSource
	users      UserLister
	aggregator MonthlyAggregator
	locks      *UserLocks
	clock      *UserClock
	listeners  []RunChangeListener
	options    BatchOptions
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewBackfillService builds the service. Without deps.Clock every owner's
// today is taken in location.
func NewBackfillService(deps BackfillDependencies, options BatchOptions, location *time.Location, logger *zap.Logger, m *metrics.Metrics) *BackfillService {
	if deps.Locks == nil {
		deps.Locks = NewUserLocks()
	}
	if deps.Clock == nil {
		deps.Clock = NewUserClock(nil, location)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BackfillService{
		tx:         deps.Transactor,
		runs:       deps.Runs,
		backups:    deps.Backups,
		dayMarks:   deps.DayMarks,
		events:     deps.Events,
		users:      deps.Users,
		aggregator: deps.Aggregator,
		locks:      deps.Locks,
		clock:      deps.Clock,
		options:    options.normalized(),
		metrics:    m,
		logger:     logger.Named("backfill"),
		now:        time.Now,
	}
}

func (service *BackfillService) AddListener(listener RunChangeListener) {
	service.listeners = append(service.listeners, listener)
}

// RebuildUserRuns replaces the user's runs with a replay of the raw log.
// Months touched by the old or new runs get their aggregates refreshed.
func (service *BackfillService) RebuildUserRuns(ctx context.Context, userID uint, options RebuildOptions) (RebuildResult, error) {
	if userID == 0 {
		return RebuildResult{}, fmt.Errorf("%w: user id is required", ErrInvalidRunInput)
	}
	source, err := normalizeReplaySource(options.Source)
	if err != nil {
		return RebuildResult{}, err
	}
	if options.OperationID == "" {
		options.OperationID = uuid.NewString()
	}

	unlock := service.locks.Lock(userID)
	defer unlock()

	now := service.now().UTC()
	today, err := service.clock.Today(ctx, userID, now)
	if err != nil {
		return RebuildResult{}, fmt.Errorf("%w: %v", ErrRebuildFailed, err)
	}

	days, err := service.loadMarkedDays(ctx, userID, source)
	if err != nil {
		return RebuildResult{}, fmt.Errorf("%w: load %s: %v", ErrRebuildFailed, source, err)
	}
	rebuilt, err := ReplayRuns(userID, days, today, now)
	if err != nil {
		return RebuildResult{}, fmt.Errorf("%w: replay: %v", ErrRebuildFailed, err)
	}
	before, err := service.runs.ListByUser(ctx, userID)
	if err != nil {
		return RebuildResult{}, fmt.Errorf("%w: load runs: %v", ErrRebuildFailed, err)
	}

	violations := ValidateRuns(rebuilt)
	result := RebuildResult{
		UserID:              userID,
		OperationID:         options.OperationID,
		DryRun:              options.DryRun,
		Changed:             !sameRunIntervals(before, rebuilt),
		RunsBefore:          before,
		RunsAfter:           rebuilt,
		InvariantViolations: len(violations),
		Violations:          violations,
		MonthsRefreshed:     make([]string, 0),
	}
	if options.DryRun || !result.Changed {
		return result, nil
	}

	err = service.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if !options.SkipBackup && len(before) > 0 {
			backups := make([]models.RunBackup, 0, len(before))
			for _, run := range before {
				backups = append(backups, backupOf(run, options.OperationID, now))
			}
			if err := service.backups.CreateBatch(ctx, backups); err != nil {
				return fmt.Errorf("back up runs: %w", err)
			}
		}
		if err := service.runs.DeleteByUser(ctx, userID); err != nil {
			return fmt.Errorf("delete runs: %w", err)
		}
		if err := service.runs.CreateBatch(ctx, rebuilt); err != nil {
			return wrapRunWrite("insert rebuilt runs", err)
		}
		return nil
	})
	if err != nil {
		return RebuildResult{}, fmt.Errorf("%w: %v", ErrRebuildFailed, err)
	}

	counts, err := service.runs.HealthCounts(ctx, userID)
	if err != nil {
		return result, fmt.Errorf("%w: validate rebuilt runs: %v", ErrRebuildFailed, err)
	}
	result.InvariantViolations += int(counts.Total())

	months := monthsOfRuns(append(append([]models.Run(nil), before...), rebuilt...))
	for _, month := range months {
		if _, err := service.aggregator.UpdateMonthlyAggregate(ctx, userID, month); err != nil {
			service.logger.Warn("refresh aggregate after rebuild failed",
				zap.Uint("user_id", userID),
				zap.String("year_month", month),
				zap.Error(err),
			)
			continue
		}
		result.MonthsRefreshed = append(result.MonthsRefreshed, month)
	}
	for _, listener := range service.listeners {
		listener.RunsChanged(ctx, userID, months)
	}
	return result, nil
}

// BackfillAllUserRuns rebuilds every selected user in batches. A failed
// user is reported and does not stop the job.
func (service *BackfillService) BackfillAllUserRuns(ctx context.Context, options BackfillOptions) (BackfillResult, error) {
	started := service.now()
	source, err := normalizeReplaySource(options.Source)
	if err != nil {
		return BackfillResult{}, err
	}

	userIDs := uniqueSortedUserIDs(options.UserIDs)
	if len(options.UserIDs) == 0 {
		listed, err := service.users.ListIDs(ctx)
		if err != nil {
			return BackfillResult{}, fmt.Errorf("%w: list users: %v", ErrRebuildFailed, err)
		}
		userIDs = listed
	}

	batchSize := options.BatchSize
	if batchSize <= 0 {
		batchSize = service.options.BatchSize
	}

	result := BackfillResult{
		OperationID: uuid.NewString(),
		DryRun:      options.DryRun,
		TotalUsers:  len(userIDs),
		Errors:      make([]UserFailure, 0),
	}
	logger := service.logger.With(zap.String("operation_id", result.OperationID))
	logger.Info("backfill started",
		zap.Int("users", len(userIDs)),
		zap.Bool("dry_run", options.DryRun),
		zap.Int("batch_size", batchSize),
		zap.String("source", source),
	)

	limiter := newUserLimiter(service.options.UsersPerSecond)
	var mu sync.Mutex

batches:
	for _, batch := range chunkUserIDs(userIDs, batchSize) {
		group := new(errgroup.Group)
		group.SetLimit(service.options.Concurrency)

		for _, userID := range batch {
			if ctx.Err() != nil {
				result.Interrupted = true
				break
			}
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					result.Interrupted = true
					break
				}
			}

			group.Go(func() error {
				rebuilt, err := service.RebuildUserRuns(context.WithoutCancel(ctx), userID, RebuildOptions{
					DryRun:      options.DryRun,
					SkipBackup:  options.SkipBackup,
					Source:      source,
					OperationID: result.OperationID,
				})

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					result.FailedUsers++
					result.Errors = append(result.Errors, UserFailure{UserID: userID, Error: err.Error()})
					service.metrics.JobUser("backfill", "failed")
					logger.Warn("user backfill failed", zap.Uint("user_id", userID), zap.Error(err))
					return nil
				}
				result.CompletedUsers++
				result.InvariantViolations += rebuilt.InvariantViolations
				if rebuilt.Changed {
					result.ChangedUsers++
				}
				service.metrics.JobUser("backfill", "completed")
				return nil
			})
		}

		_ = group.Wait()
		if result.Interrupted {
			break batches
		}
	}

	elapsed := service.now().Sub(started)
	result.ProcessingTimeMs = elapsed.Milliseconds()
	service.metrics.ObserveJob("backfill", elapsed)
	logger.Info("backfill finished",
		zap.Int("completed_users", result.CompletedUsers),
		zap.Int("failed_users", result.FailedUsers),
		zap.Int("changed_users", result.ChangedUsers),
		zap.Int("invariant_violations", result.InvariantViolations),
		zap.Int64("processing_time_ms", result.ProcessingTimeMs),
		zap.Bool("interrupted", result.Interrupted),
	)

	if result.Interrupted {
		return result, fmt.Errorf("%w: %v", ErrJobInterrupted, context.Cause(ctx))
	}
	return result, nil
}

func (service *BackfillService) loadMarkedDays(ctx context.Context, userID uint, source string) ([]time.Time, error) {
	if source == ReplaySourceDayMarks {
		return service.dayMarks.ListMarkedDates(ctx, userID)
	}

	events, err := service.events.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return MarkedDaysFromEvents(events), nil
}

// MarkedDaysFromEvents keeps the days whose latest event marked them.
// Events must be ordered by recording time within a day.
func MarkedDaysFromEvents(events []models.ClickEvent) []time.Time {
	latest := make(map[string]models.ClickEvent, len(events))
	for _, event := range events {
		latest[FormatDay(event.Date)] = event
	}

	days := make([]time.Time, 0, len(latest))
	for _, event := range latest {
		if event.Marked {
			days = append(days, event.Date)
		}
	}
	return uniqueSortedDays(days)
}

func normalizeReplaySource(source string) (string, error) {
	switch source {
	case "", ReplaySourceDayMarks:
		return ReplaySourceDayMarks, nil
	case ReplaySourceClickEvents:
		return ReplaySourceClickEvents, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidReplaySource, source)
	}
}

func backupOf(run models.Run, operationID string, backedUpAt time.Time) models.RunBackup {
	return models.RunBackup{
		OperationID:    operationID,
		RunID:          run.ID,
		UserID:         run.UserID,
		StartDate:      run.StartDate,
		EndDate:        run.EndDate,
		DayCount:       run.DayCount,
		Active:         run.Active,
		LastExtendedAt: run.LastExtendedAt,
		BackedUpAt:     backedUpAt,
	}
}
