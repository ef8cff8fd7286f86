package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/terraincognita07/soberly/internal/models"
)

type totalsCacheStub struct {
	mu          sync.Mutex
	values      map[uint]UserTotals
	gets        int
	invalidated []uint
}

func newTotalsCacheStub() *totalsCacheStub {
	return &totalsCacheStub{values: make(map[uint]UserTotals)}
}

func (stub *totalsCacheStub) Get(_ context.Context, userID uint) (UserTotals, bool) {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	stub.gets++
	value, ok := stub.values[userID]
	return value, ok
}

func (stub *totalsCacheStub) Set(_ context.Context, userID uint, totals UserTotals) {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	stub.values[userID] = totals
}

func (stub *totalsCacheStub) Invalidate(_ context.Context, userID uint) {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	delete(stub.values, userID)
	stub.invalidated = append(stub.invalidated, userID)
}

func TestRealtimeTotals(t *testing.T) {
	runs := newRunRepositoryStub(
		testRun(t, 1, "2025-01-01", "2025-01-04", false),
		testRun(t, 1, "2025-01-10", "2025-01-15", true),
		testRun(t, 1, "2025-01-20", "2025-01-22", false),
	)
	service := NewAggregationService(runs, newRunTotalsRepositoryStub(), nil, nil)

	totals, err := service.RealtimeTotals(context.Background(), 1)
	if err != nil {
		t.Fatalf("realtime totals: %v", err)
	}
	if totals != (RealtimeTotals{TotalDays: 10, LongestRun: 5, CurrentRun: 5}) {
		t.Fatalf("unexpected totals %#v", totals)
	}

	empty, err := service.RealtimeTotals(context.Background(), 2)
	if err != nil {
		t.Fatalf("realtime totals for empty user: %v", err)
	}
	if empty != (RealtimeTotals{}) {
		t.Fatalf("expected zero totals, got %#v", empty)
	}
}

func TestGetTotalsUsesCache(t *testing.T) {
	runs := newRunRepositoryStub(
		testRun(t, 1, "2025-01-01", "2025-01-04", false),
		testRun(t, 1, "2025-01-10", "2025-01-12", true),
	)
	cache := newTotalsCacheStub()
	service := NewAggregationService(runs, newRunTotalsRepositoryStub(), cache, nil)
	ctx := context.Background()

	first, err := service.GetTotals(ctx, 1)
	if err != nil {
		t.Fatalf("get totals: %v", err)
	}
	want := UserTotals{TotalDays: 5, CurrentRunDays: 2, LongestRunDays: 3, TotalRuns: 2, AvgRunLength: 2.5}
	if first != want {
		t.Fatalf("unexpected totals %#v", first)
	}

	runs.listErr = errors.New("database down")
	cached, err := service.GetTotals(ctx, 1)
	if err != nil {
		t.Fatalf("expected cached totals, got %v", err)
	}
	if cached != want {
		t.Fatalf("unexpected cached totals %#v", cached)
	}

	service.RunsChanged(ctx, 1, []string{"2025-01"})
	if _, err := service.GetTotals(ctx, 1); err == nil {
		t.Fatal("expected invalidated cache to hit the failing store")
	}
}

// runReaderHook runs beforeList ahead of every ListByUser so a test can
// change runs while a totals load is in flight.
type runReaderHook struct {
	RunReader
	beforeList func()
}

func (hook runReaderHook) ListByUser(ctx context.Context, userID uint) ([]models.Run, error) {
	runs, err := hook.RunReader.ListByUser(ctx, userID)
	if hook.beforeList != nil {
		hook.beforeList()
	}
	return runs, err
}

func TestGetTotalsDoesNotCacheLoadThatRacedInvalidation(t *testing.T) {
	runs := newRunRepositoryStub(
		testRun(t, 1, "2025-01-01", "2025-01-04", true),
	)
	cache := newTotalsCacheStub()
	ctx := context.Background()

	var service *AggregationService
	changed := false
	reader := runReaderHook{RunReader: runs, beforeList: func() {
		if changed {
			return
		}
		changed = true
		_ = runs.Create(ctx, ptrRun(testRun(t, 1, "2025-01-05", "2025-01-07", true)))
		service.RunsChanged(ctx, 1, []string{"2025-01"})
	}}
	service = NewAggregationService(reader, newRunTotalsRepositoryStub(), cache, nil)

	stale, err := service.GetTotals(ctx, 1)
	if err != nil {
		t.Fatalf("get totals: %v", err)
	}
	if stale.TotalDays != 3 {
		t.Fatalf("expected the in-flight load to see 3 days, got %#v", stale)
	}
	if _, ok := cache.values[1]; ok {
		t.Fatal("expected totals loaded before the run change to stay out of the cache")
	}

	fresh, err := service.GetTotals(ctx, 1)
	if err != nil {
		t.Fatalf("get totals after change: %v", err)
	}
	if fresh.TotalDays != 5 || fresh.TotalRuns != 2 {
		t.Fatalf("unexpected totals after change %#v", fresh)
	}
	if cached, ok := cache.values[1]; !ok || cached != fresh {
		t.Fatalf("expected fresh totals cached, got %#v (cached=%v)", cached, ok)
	}
}

func TestComputeMonthTotalsClipsTotalDaysToMonth(t *testing.T) {
	runs := []struct {
		start, end string
		active     bool
	}{
		{"2025-01-28", "2025-02-03", false},
		{"2025-02-10", "2025-02-12", false},
		{"2025-02-27", "2025-03-05", true},
	}
	stored := newRunRepositoryStub()
	for _, run := range runs {
		_ = stored.Create(context.Background(), ptrRun(testRun(t, 1, run.start, run.end, run.active)))
	}
	service := NewAggregationService(stored, newRunTotalsRepositoryStub(), nil, nil)

	month, err := service.RealtimeMonthTotals(context.Background(), 1, "2025-02")
	if err != nil {
		t.Fatalf("month totals: %v", err)
	}
	if month.TotalDays != 2+2+2 {
		t.Fatalf("expected 6 days inside February, got %d", month.TotalDays)
	}
	if month.LongestRunDays != 6 {
		t.Fatalf("expected full length of longest overlapping run, got %d", month.LongestRunDays)
	}
	if month.ActiveRunDays == nil || *month.ActiveRunDays != 6 {
		t.Fatalf("expected active run days 6, got %v", month.ActiveRunDays)
	}

	january, err := service.RealtimeMonthTotals(context.Background(), 1, "2025-01")
	if err != nil {
		t.Fatalf("january totals: %v", err)
	}
	if january.TotalDays != 4 || january.ActiveRunDays != nil {
		t.Fatalf("unexpected january totals %#v", january)
	}
}

func TestUpdateMonthlyAggregateForEmptyMonth(t *testing.T) {
	totals := newRunTotalsRepositoryStub()
	service := NewAggregationService(newRunRepositoryStub(), totals, nil, nil)
	service.now = fixedClock(time.Date(2025, time.April, 2, 10, 0, 0, 0, time.UTC))

	row, err := service.UpdateMonthlyAggregate(context.Background(), 3, "2025-04")
	if err != nil {
		t.Fatalf("update aggregate: %v", err)
	}
	if row.TotalDays != 0 || row.LongestRunDays != 0 || row.ActiveRunDays != nil {
		t.Fatalf("expected zero row with null active days, got %#v", row)
	}
	if !row.ComputedAt.Equal(service.now()) {
		t.Fatalf("unexpected computed_at %s", row.ComputedAt)
	}
	if _, found, _ := totals.FindByUserMonth(context.Background(), 3, "2025-04"); !found {
		t.Fatal("expected row to be upserted")
	}
}

func TestUpdateMonthlyAggregateRejectsInvalidMonth(t *testing.T) {
	service := NewAggregationService(newRunRepositoryStub(), newRunTotalsRepositoryStub(), nil, nil)
	if _, err := service.UpdateMonthlyAggregate(context.Background(), 1, "2025-13"); !errors.Is(err, ErrInvalidYearMonth) {
		t.Fatalf("expected ErrInvalidYearMonth, got %v", err)
	}
}

func TestMonthlyTotalsFallsBackToRealtime(t *testing.T) {
	runs := newRunRepositoryStub(testRun(t, 1, "2025-01-01", "2025-01-04", true))
	totals := newRunTotalsRepositoryStub()
	service := NewAggregationService(runs, totals, nil, nil)
	ctx := context.Background()

	month, source, err := service.MonthlyTotals(ctx, 1, "2025-01")
	if err != nil {
		t.Fatalf("monthly totals: %v", err)
	}
	if source != TotalsSourceRealtime || month.TotalDays != 3 {
		t.Fatalf("expected realtime fallback, got %s %#v", source, month)
	}

	if _, err := service.UpdateMonthlyAggregate(ctx, 1, "2025-01"); err != nil {
		t.Fatalf("update aggregate: %v", err)
	}
	month, source, err = service.MonthlyTotals(ctx, 1, "2025-01")
	if err != nil {
		t.Fatalf("monthly totals: %v", err)
	}
	if source != TotalsSourceAggregate || month.TotalDays != 3 {
		t.Fatalf("expected stored aggregate, got %s %#v", source, month)
	}

	totals.findErr = errors.New("read failed")
	_, source, err = service.MonthlyTotals(ctx, 1, "2025-01")
	if err != nil || source != TotalsSourceRealtime {
		t.Fatalf("expected realtime fallback on read error, got %s %v", source, err)
	}
}
