package services

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/terraincognita07/soberly/internal/models"
	"go.uber.org/zap"
)

const (
	TotalsSourceAggregate = "aggregate"
	TotalsSourceRealtime  = "realtime"
)

type RunReader interface {
	ListByUser(ctx context.Context, userID uint) ([]models.Run, error)
	ListOverlapping(ctx context.Context, userID uint, from time.Time, to time.Time) ([]models.Run, error)
}

type RunTotalsRepository interface {
	FindByUserMonth(ctx context.Context, userID uint, yearMonth string) (models.RunTotals, bool, error)
	Upsert(ctx context.Context, totals *models.RunTotals) error
}

// TotalsCache is a best-effort store for GetTotals results. Misses and
// backend failures look the same to callers.
type TotalsCache interface {
	Get(ctx context.Context, userID uint) (UserTotals, bool)
	Set(ctx context.Context, userID uint, totals UserTotals)
	Invalidate(ctx context.Context, userID uint)
}

type RealtimeTotals struct {
	TotalDays  int `json:"total_days"`
	LongestRun int `json:"longest_run"`
	CurrentRun int `json:"current_run"`
}

type UserTotals struct {
	TotalDays      int     `json:"total_days"`
	CurrentRunDays int     `json:"current_run_days"`
	LongestRunDays int     `json:"longest_run_days"`
	TotalRuns      int     `json:"total_runs"`
	AvgRunLength   float64 `json:"avg_run_length"`
}

type MonthTotals struct {
	YearMonth      string `json:"year_month"`
	TotalDays      int    `json:"total_days"`
	LongestRunDays int    `json:"longest_run_days"`
	ActiveRunDays  *int   `json:"active_run_days"`
}

type AggregationService struct {
	runs   RunReader
	totals RunTotalsRepository
	cache  TotalsCache
	logger *zap.Logger
	now    func() time.Time

	// cacheMu orders cache writes against invalidations. versions counts
	// invalidations per user so a load that raced one is not written back.
	cacheMu  sync.Mutex
	versions map[uint]uint64
}

func NewAggregationService(runs RunReader, totals RunTotalsRepository, cache TotalsCache, logger *zap.Logger) *AggregationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AggregationService{
		runs:     runs,
		totals:   totals,
		cache:    cache,
		logger:   logger.Named("aggregation"),
		now:      time.Now,
		versions: make(map[uint]uint64),
	}
}

func (service *AggregationService) RealtimeTotals(ctx context.Context, userID uint) (RealtimeTotals, error) {
	runs, err := service.runs.ListByUser(ctx, userID)
	if err != nil {
		return RealtimeTotals{}, fmt.Errorf("load runs: %w", err)
	}
	return ComputeTotals(runs), nil
}

// GetTotals serves the stats read path, from cache when possible.
func (service *AggregationService) GetTotals(ctx context.Context, userID uint) (UserTotals, error) {
	if service.cache != nil {
		if cached, ok := service.cache.Get(ctx, userID); ok {
			return cached, nil
		}
	}

	version := service.totalsVersion(userID)
	runs, err := service.runs.ListByUser(ctx, userID)
	if err != nil {
		return UserTotals{}, fmt.Errorf("load runs: %w", err)
	}
	totals := ComputeUserTotals(runs)

	service.storeTotals(ctx, userID, version, totals)
	return totals, nil
}

func (service *AggregationService) totalsVersion(userID uint) uint64 {
	service.cacheMu.Lock()
	defer service.cacheMu.Unlock()
	return service.versions[userID]
}

// storeTotals caches totals loaded at version unless the user's runs changed
// since then.
func (service *AggregationService) storeTotals(ctx context.Context, userID uint, version uint64, totals UserTotals) {
	if service.cache == nil {
		return
	}
	service.cacheMu.Lock()
	defer service.cacheMu.Unlock()
	if service.versions[userID] != version {
		service.logger.Debug("skip caching totals loaded before a run change", zap.Uint("user_id", userID))
		return
	}
	service.cache.Set(ctx, userID, totals)
}

func (service *AggregationService) RealtimeMonthTotals(ctx context.Context, userID uint, yearMonth string) (MonthTotals, error) {
	monthStart, monthEnd, err := MonthBounds(yearMonth)
	if err != nil {
		return MonthTotals{}, err
	}
	runs, err := service.runs.ListOverlapping(ctx, userID, monthStart, monthEnd)
	if err != nil {
		return MonthTotals{}, fmt.Errorf("load runs for %s: %w", yearMonth, err)
	}
	return ComputeMonthTotals(runs, yearMonth, monthStart, monthEnd), nil
}

// UpdateMonthlyAggregate recomputes the (user, month) row from runs and
// upserts it.
func (service *AggregationService) UpdateMonthlyAggregate(ctx context.Context, userID uint, yearMonth string) (models.RunTotals, error) {
	month, err := service.RealtimeMonthTotals(ctx, userID, yearMonth)
	if err != nil {
		return models.RunTotals{}, err
	}

	row := models.RunTotals{
		UserID:         userID,
		YearMonth:      month.YearMonth,
		TotalDays:      month.TotalDays,
		LongestRunDays: month.LongestRunDays,
		ActiveRunDays:  month.ActiveRunDays,
		ComputedAt:     service.now().UTC(),
	}
	if err := service.totals.Upsert(ctx, &row); err != nil {
		return models.RunTotals{}, fmt.Errorf("upsert run totals %s: %w", yearMonth, err)
	}
	return row, nil
}

// MonthlyTotals prefers the stored aggregate and falls back to a realtime
// calculation when the row is missing or unreadable.
func (service *AggregationService) MonthlyTotals(ctx context.Context, userID uint, yearMonth string) (MonthTotals, string, error) {
	if _, _, err := MonthBounds(yearMonth); err != nil {
		return MonthTotals{}, "", err
	}

	stored, found, err := service.totals.FindByUserMonth(ctx, userID, yearMonth)
	if err != nil {
		service.logger.Warn("load stored aggregate failed, using realtime totals",
			zap.Uint("user_id", userID),
			zap.String("year_month", yearMonth),
			zap.Error(err),
		)
	}
	if err == nil && found {
		return MonthTotals{
			YearMonth:      stored.YearMonth,
			TotalDays:      stored.TotalDays,
			LongestRunDays: stored.LongestRunDays,
			ActiveRunDays:  stored.ActiveRunDays,
		}, TotalsSourceAggregate, nil
	}

	month, err := service.RealtimeMonthTotals(ctx, userID, yearMonth)
	if err != nil {
		return MonthTotals{}, "", err
	}
	return month, TotalsSourceRealtime, nil
}

// RunsChanged drops the cached totals of the user. Loads already in flight
// for the user will not be cached.
func (service *AggregationService) RunsChanged(ctx context.Context, userID uint, _ []string) {
	service.cacheMu.Lock()
	defer service.cacheMu.Unlock()
	service.versions[userID]++
	if service.cache != nil {
		service.cache.Invalidate(ctx, userID)
	}
}

func ComputeTotals(runs []models.Run) RealtimeTotals {
	totals := RealtimeTotals{}
	for _, run := range runs {
		totals.TotalDays += run.DayCount
		if run.DayCount > totals.LongestRun {
			totals.LongestRun = run.DayCount
		}
		if run.Active {
			totals.CurrentRun = run.DayCount
		}
	}
	return totals
}

func ComputeUserTotals(runs []models.Run) UserTotals {
	realtime := ComputeTotals(runs)
	totals := UserTotals{
		TotalDays:      realtime.TotalDays,
		CurrentRunDays: realtime.CurrentRun,
		LongestRunDays: realtime.LongestRun,
		TotalRuns:      len(runs),
	}
	if totals.TotalRuns > 0 {
		average := float64(totals.TotalDays) / float64(totals.TotalRuns)
		totals.AvgRunLength = math.Round(average*100) / 100
	}
	return totals
}

// ComputeMonthTotals counts only the days of each run inside the month for
// TotalDays, while LongestRunDays and ActiveRunDays use full run lengths.
func ComputeMonthTotals(runs []models.Run, yearMonth string, monthStart time.Time, monthEnd time.Time) MonthTotals {
	month := MonthTotals{YearMonth: yearMonth}
	for _, run := range runs {
		clippedStart := maxDay(run.StartDate, monthStart)
		clippedEnd := minDay(run.EndDate, monthEnd)
		if !clippedStart.Before(clippedEnd) {
			continue
		}

		month.TotalDays += models.DaysBetween(clippedStart, clippedEnd)
		if run.DayCount > month.LongestRunDays {
			month.LongestRunDays = run.DayCount
		}
		if run.Active {
			activeDays := run.DayCount
			month.ActiveRunDays = &activeDays
		}
	}
	return month
}
