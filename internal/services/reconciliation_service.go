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

var ErrReconciliationFailed = errors.New("reconciliation failed")

type MonthTotalsCalculator interface {
	RealtimeMonthTotals(ctx context.Context, userID uint, yearMonth string) (MonthTotals, error)
	UpdateMonthlyAggregate(ctx context.Context, userID uint, yearMonth string) (models.RunTotals, error)
}

type RunTotalsReader interface {
	FindByUserMonth(ctx context.Context, userID uint, yearMonth string) (models.RunTotals, bool, error)
}

type ReconciliationLogRepository interface {
	CreateBatch(ctx context.Context, entries []models.ReconciliationLogEntry) error
	ListByCorrelationID(ctx context.Context, correlationID string) ([]models.ReconciliationLogEntry, error)
}

type UserLister interface {
	ListIDs(ctx context.Context) ([]uint, error)
}

type UserMonthReconciliation struct {
	CorrelationID string                          `json:"correlation_id"`
	UserID        uint                            `json:"user_id"`
	YearMonth     string                          `json:"year_month"`
	Entries       []models.ReconciliationLogEntry `json:"entries"`
	Matches       int                             `json:"matches"`
	Mismatches    int                             `json:"mismatches"`
	Corrected     int                             `json:"corrected"`
	Errors        int                             `json:"errors"`
}

type BulkReconciliationRequest struct {
	UserIDs     []uint
	YearMonth   string
	AutoCorrect bool
}

type BulkReconciliationSummary struct {
	CorrelationID    string        `json:"correlation_id"`
	YearMonth        string        `json:"year_month"`
	TotalUsers       int           `json:"total_users"`
	ProcessedUsers   int           `json:"processed_users"`
	Matches          int           `json:"matches"`
	Mismatches       int           `json:"mismatches"`
	Corrected        int           `json:"corrected"`
	Errors           int           `json:"errors"`
	FailedUsers      []UserFailure `json:"failed_users"`
	ProcessingTimeMs int64         `json:"processing_time_ms"`
	Interrupted      bool          `json:"interrupted"`
}

type ReconciliationService struct {
	calculator MonthTotalsCalculator
	totals     RunTotalsReader
	logs       ReconciliationLogRepository
	users      UserLister
	locks      *UserLocks
	options    BatchOptions
	location   *time.Location
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

func NewReconciliationService(
	calculator MonthTotalsCalculator,
	totals RunTotalsReader,
	logs ReconciliationLogRepository,
	users UserLister,
	options BatchOptions,
	location *time.Location,
	logger *zap.Logger,
	m *metrics.Metrics,
) *ReconciliationService {
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationService{
		calculator: calculator,
		totals:     totals,
		logs:       logs,
		users:      users,
		locks:      NewUserLocks(),
		options:    options.normalized(),
		location:   location,
		metrics:    m,
		logger:     logger.Named("reconciliation"),
		now:        time.Now,
	}
}

// ReconcileUserMonth compares the stored aggregate with realtime values and
// logs one entry per field. It never writes to run_totals.
func (service *ReconciliationService) ReconcileUserMonth(ctx context.Context, userID uint, yearMonth string) (UserMonthReconciliation, error) {
	if _, _, err := MonthBounds(yearMonth); err != nil {
		return UserMonthReconciliation{}, err
	}
	return service.reconcile(ctx, uuid.NewString(), userID, yearMonth, false)
}

func (service *ReconciliationService) BulkReconciliation(ctx context.Context, request BulkReconciliationRequest) (BulkReconciliationSummary, error) {
	started := service.now()
	yearMonth := request.YearMonth
	if yearMonth == "" {
		yearMonth = YearMonthOf(CivilDay(started, service.location))
	}
	if _, _, err := MonthBounds(yearMonth); err != nil {
		return BulkReconciliationSummary{}, err
	}

	userIDs := uniqueSortedUserIDs(request.UserIDs)
	if len(request.UserIDs) == 0 {
		listed, err := service.users.ListIDs(ctx)
		if err != nil {
			return BulkReconciliationSummary{}, fmt.Errorf("%w: list users: %v", ErrReconciliationFailed, err)
		}
		userIDs = listed
	}

	summary := BulkReconciliationSummary{
		CorrelationID: uuid.NewString(),
		YearMonth:     yearMonth,
		TotalUsers:    len(userIDs),
		FailedUsers:   make([]UserFailure, 0),
	}
	logger := service.logger.With(zap.String("correlation_id", summary.CorrelationID), zap.String("year_month", yearMonth))
	logger.Info("bulk reconciliation started", zap.Int("users", len(userIDs)), zap.Bool("auto_correct", request.AutoCorrect))

	limiter := newUserLimiter(service.options.UsersPerSecond)
	var mu sync.Mutex

batches:
	for _, batch := range chunkUserIDs(userIDs, service.options.BatchSize) {
		group := new(errgroup.Group)
		group.SetLimit(service.options.Concurrency)

		for _, userID := range batch {
			if ctx.Err() != nil {
				summary.Interrupted = true
				break
			}
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					summary.Interrupted = true
					break
				}
			}

			group.Go(func() error {
				// In-flight users finish even when the job is cancelled.
				result, err := service.reconcile(context.WithoutCancel(ctx), summary.CorrelationID, userID, yearMonth, request.AutoCorrect)

				mu.Lock()
				defer mu.Unlock()
				summary.ProcessedUsers++
				if err != nil {
					summary.Errors++
					summary.FailedUsers = append(summary.FailedUsers, UserFailure{UserID: userID, Error: err.Error()})
					service.metrics.JobUser("reconciliation", "failed")
					logger.Warn("user reconciliation failed", zap.Uint("user_id", userID), zap.Error(err))
					return nil
				}
				summary.Matches += result.Matches
				summary.Mismatches += result.Mismatches
				summary.Corrected += result.Corrected
				summary.Errors += result.Errors
				service.metrics.JobUser("reconciliation", "completed")
				return nil
			})
		}

		_ = group.Wait()
		if summary.Interrupted {
			break batches
		}
	}

	elapsed := service.now().Sub(started)
	summary.ProcessingTimeMs = elapsed.Milliseconds()
	service.metrics.ObserveJob("reconciliation", elapsed)
	logger.Info("bulk reconciliation finished",
		zap.Int("processed_users", summary.ProcessedUsers),
		zap.Int("matches", summary.Matches),
		zap.Int("mismatches", summary.Mismatches),
		zap.Int("corrected", summary.Corrected),
		zap.Int("errors", summary.Errors),
		zap.Int64("processing_time_ms", summary.ProcessingTimeMs),
		zap.Bool("interrupted", summary.Interrupted),
	)

	if summary.Interrupted {
		return summary, fmt.Errorf("%w: %v", ErrJobInterrupted, context.Cause(ctx))
	}
	return summary, nil
}

func (service *ReconciliationService) ListLogs(ctx context.Context, correlationID string) ([]models.ReconciliationLogEntry, error) {
	return service.logs.ListByCorrelationID(ctx, correlationID)
}

func (service *ReconciliationService) reconcile(ctx context.Context, correlationID string, userID uint, yearMonth string, autoCorrect bool) (UserMonthReconciliation, error) {
	unlock := service.locks.Lock(userID)
	defer unlock()

	started := service.now()
	expected, err := service.calculator.RealtimeMonthTotals(ctx, userID, yearMonth)
	if err != nil {
		return UserMonthReconciliation{}, fmt.Errorf("%w: realtime totals: %v", ErrReconciliationFailed, err)
	}
	stored, found, err := service.totals.FindByUserMonth(ctx, userID, yearMonth)
	if err != nil {
		return UserMonthReconciliation{}, fmt.Errorf("%w: load stored totals: %v", ErrReconciliationFailed, err)
	}

	entries := compareMonthTotals(expected, stored, found)
	if autoCorrect && hasDrift(entries) {
		if _, err := service.calculator.UpdateMonthlyAggregate(ctx, userID, yearMonth); err != nil {
			for index := range entries {
				if entries[index].Status != models.ReconcileMatch {
					entries[index].Message = fmt.Sprintf("%s; auto-correct failed: %v", entries[index].Message, err)
				}
			}
		} else {
			for index := range entries {
				if entries[index].Status != models.ReconcileMatch {
					entries[index].Status = models.ReconcileCorrected
					entries[index].Message += "; rewritten from runs"
				}
			}
		}
	}

	durationMs := service.now().Sub(started).Milliseconds()
	createdAt := service.now().UTC()
	result := UserMonthReconciliation{
		CorrelationID: correlationID,
		UserID:        userID,
		YearMonth:     yearMonth,
	}
	for index := range entries {
		entries[index].UserID = userID
		entries[index].YearMonth = yearMonth
		entries[index].CorrelationID = correlationID
		entries[index].DurationMs = durationMs
		entries[index].CreatedAt = createdAt

		switch entries[index].Status {
		case models.ReconcileMatch:
			result.Matches++
		case models.ReconcileMismatch:
			result.Mismatches++
		case models.ReconcileCorrected:
			result.Corrected++
		case models.ReconcileError:
			result.Errors++
		}
		service.metrics.ReconciliationCheck(entries[index].CheckType, entries[index].Status)
	}

	if err := service.logs.CreateBatch(ctx, entries); err != nil {
		return UserMonthReconciliation{}, fmt.Errorf("%w: write log entries: %v", ErrReconciliationFailed, err)
	}
	result.Entries = entries
	return result, nil
}

func compareMonthTotals(expected MonthTotals, stored models.RunTotals, found bool) []models.ReconciliationLogEntry {
	type fieldCheck struct {
		checkType string
		expected  *int
		actual    *int
	}

	totalDays := expected.TotalDays
	longestRun := expected.LongestRunDays
	checks := []fieldCheck{
		{checkType: models.CheckTotalDays, expected: &totalDays},
		{checkType: models.CheckLongestRun, expected: &longestRun},
		{checkType: models.CheckActiveRun, expected: copyIntPointer(expected.ActiveRunDays)},
	}
	if found {
		storedTotal := stored.TotalDays
		storedLongest := stored.LongestRunDays
		checks[0].actual = &storedTotal
		checks[1].actual = &storedLongest
		checks[2].actual = copyIntPointer(stored.ActiveRunDays)
	}

	entries := make([]models.ReconciliationLogEntry, 0, len(checks))
	for _, check := range checks {
		entry := models.ReconciliationLogEntry{
			CheckType: check.checkType,
			Expected:  check.expected,
			Actual:    check.actual,
		}
		switch {
		case !found:
			entry.Status = models.ReconcileError
			entry.Message = "no stored aggregate"
		case equalIntPointers(check.expected, check.actual):
			entry.Status = models.ReconcileMatch
		default:
			entry.Status = models.ReconcileMismatch
			entry.Message = fmt.Sprintf("expected %s, stored %s", formatIntPointer(check.expected), formatIntPointer(check.actual))
		}
		entries = append(entries, entry)
	}
	return entries
}

func hasDrift(entries []models.ReconciliationLogEntry) bool {
	for _, entry := range entries {
		if entry.Status != models.ReconcileMatch {
			return true
		}
	}
	return false
}

func equalIntPointers(a *int, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func copyIntPointer(value *int) *int {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func formatIntPointer(value *int) string {
	if value == nil {
		return "null"
	}
	return fmt.Sprintf("%d", *value)
}
