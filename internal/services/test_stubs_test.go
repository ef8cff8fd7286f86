package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/terraincognita07/soberly/internal/models"
)

func mustDay(t *testing.T, raw string) time.Time {
	t.Helper()
	day, err := ParseDay(raw)
	if err != nil {
		t.Fatalf("parse day %q: %v", raw, err)
	}
	return day
}

func testRun(t *testing.T, userID uint, start string, end string, active bool) models.Run {
	t.Helper()
	startDate := mustDay(t, start)
	endDate := mustDay(t, end)
	return models.Run{
		UserID:    userID,
		StartDate: startDate,
		EndDate:   endDate,
		DayCount:  models.DaysBetween(startDate, endDate),
		Active:    active,
	}
}

type transactorStub struct {
	calls int
}

func (stub *transactorStub) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	stub.calls++
	return fn(ctx)
}

type runRepositoryStub struct {
	mu              sync.Mutex
	runs            map[uint]models.Run
	nextID          uint
	saveFailures    int
	saveErr         error
	listErr         error
	healthCounts    models.RunHealthCounts
	healthCountsErr error
	// timezones holds owner timezones; users missing from it have "".
	timezones       map[uint]string
}

func newRunRepositoryStub(runs ...models.Run) *runRepositoryStub {
	stub := &runRepositoryStub{runs: make(map[uint]models.Run)}
	for _, run := range runs {
		stub.nextID++
		run.ID = stub.nextID
		stub.runs[run.ID] = run
	}
	return stub
}

func (stub *runRepositoryStub) sorted(filter func(models.Run) bool) []models.Run {
	runs := make([]models.Run, 0)
	for _, run := range stub.runs {
		if filter(run) {
			runs = append(runs, run)
		}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartDate.Before(runs[j].StartDate) })
	return runs
}

func (stub *runRepositoryStub) all(userID uint) []models.Run {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	return stub.sorted(func(run models.Run) bool { return run.UserID == userID })
}

func (stub *runRepositoryStub) ListByUser(_ context.Context, userID uint) ([]models.Run, error) {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	if stub.listErr != nil {
		return nil, stub.listErr
	}
	return stub.sorted(func(run models.Run) bool { return run.UserID == userID }), nil
}

func (stub *runRepositoryStub) ListNear(_ context.Context, userID uint, day time.Time) ([]models.Run, error) {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	next := day.AddDate(0, 0, 1)
	return stub.sorted(func(run models.Run) bool {
		return run.UserID == userID && (run.EndDate.Equal(day) || run.StartDate.Equal(next) || run.Contains(day))
	}), nil
}

func (stub *runRepositoryStub) ListOverlapping(_ context.Context, userID uint, from time.Time, to time.Time) ([]models.Run, error) {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	if stub.listErr != nil {
		return nil, stub.listErr
	}
	return stub.sorted(func(run models.Run) bool {
		return run.UserID == userID && run.StartDate.Before(to) && run.EndDate.After(from)
	}), nil
}

func (stub *runRepositoryStub) LatestEnd(_ context.Context, userID uint, excludeIDs ...uint) (time.Time, bool, error) {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	excluded := make(map[uint]struct{}, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = struct{}{}
	}
	var latest time.Time
	found := false
	for _, run := range stub.runs {
		if run.UserID != userID {
			continue
		}
		if _, skip := excluded[run.ID]; skip {
			continue
		}
		if !found || run.EndDate.After(latest) {
			latest = run.EndDate
			found = true
		}
	}
	return latest, found, nil
}

func (stub *runRepositoryStub) Create(_ context.Context, run *models.Run) error {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	stub.nextID++
	run.ID = stub.nextID
	stub.runs[run.ID] = *run
	return nil
}

func (stub *runRepositoryStub) CreateBatch(ctx context.Context, runs []models.Run) error {
	for index := range runs {
		if err := stub.Create(ctx, &runs[index]); err != nil {
			return err
		}
	}
	return nil
}

func (stub *runRepositoryStub) Save(_ context.Context, run *models.Run) error {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	if stub.saveFailures > 0 {
		stub.saveFailures--
		return stub.saveErr
	}
	stub.runs[run.ID] = *run
	return nil
}

func (stub *runRepositoryStub) Delete(_ context.Context, runID uint) error {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	delete(stub.runs, runID)
	return nil
}

func (stub *runRepositoryStub) DeleteByUser(_ context.Context, userID uint) error {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	for id, run := range stub.runs {
		if run.UserID == userID {
			delete(stub.runs, id)
		}
	}
	return nil
}

func (stub *runRepositoryStub) DeactivateOthers(_ context.Context, userID uint, keepID uint) ([]models.Run, error) {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	deactivated := make([]models.Run, 0)
	for id, run := range stub.runs {
		if run.UserID == userID && id != keepID && run.Active {
			run.Active = false
			stub.runs[id] = run
			deactivated = append(deactivated, run)
		}
	}
	return deactivated, nil
}

func (stub *runRepositoryStub) ActiveRunTimezones(_ context.Context) ([]string, error) {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	seen := make(map[string]struct{})
	timezones := make([]string, 0)
	for _, run := range stub.runs {
		timezone := stub.timezones[run.UserID]
		if _, ok := seen[timezone]; run.Active && !ok {
			seen[timezone] = struct{}{}
			timezones = append(timezones, timezone)
		}
	}
	sort.Strings(timezones)
	return timezones, nil
}

func (stub *runRepositoryStub) DeactivateEndedBefore(_ context.Context, day time.Time, timezone string) ([]models.Run, error) {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	swept := make([]models.Run, 0)
	for id, run := range stub.runs {
		if run.Active && run.EndDate.Before(day) && stub.timezones[run.UserID] == timezone {
			run.Active = false
			stub.runs[id] = run
			swept = append(swept, run)
		}
	}
	return swept, nil
}

func (stub *runRepositoryStub) HealthCounts(_ context.Context, _ uint) (models.RunHealthCounts, error) {
	return stub.healthCounts, stub.healthCountsErr
}

type runTotalsRepositoryStub struct {
	mu        sync.Mutex
	rows      map[string]models.RunTotals
	findErr   error
	upsertErr error
	upserts   int
}

func newRunTotalsRepositoryStub() *runTotalsRepositoryStub {
	return &runTotalsRepositoryStub{rows: make(map[string]models.RunTotals)}
}

func totalsKey(userID uint, yearMonth string) string {
	return fmt.Sprintf("%d/%s", userID, yearMonth)
}

func (stub *runTotalsRepositoryStub) FindByUserMonth(_ context.Context, userID uint, yearMonth string) (models.RunTotals, bool, error) {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	if stub.findErr != nil {
		return models.RunTotals{}, false, stub.findErr
	}
	row, ok := stub.rows[totalsKey(userID, yearMonth)]
	return row, ok, nil
}

func (stub *runTotalsRepositoryStub) Upsert(_ context.Context, totals *models.RunTotals) error {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	if stub.upsertErr != nil {
		return stub.upsertErr
	}
	stub.upserts++
	stub.rows[totalsKey(totals.UserID, totals.YearMonth)] = *totals
	return nil
}

type runChangeRecorder struct {
	mu     sync.Mutex
	events map[uint][]string
}

func newRunChangeRecorder() *runChangeRecorder {
	return &runChangeRecorder{events: make(map[uint][]string)}
}

func (recorder *runChangeRecorder) RunsChanged(_ context.Context, userID uint, months []string) {
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	recorder.events[userID] = append(recorder.events[userID], months...)
}

func (recorder *runChangeRecorder) months(userID uint) []string {
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	return append([]string(nil), recorder.events[userID]...)
}

type userListerStub struct {
	ids []uint
	err error
}

func (stub userListerStub) ListIDs(context.Context) ([]uint, error) {
	return stub.ids, stub.err
}

func fixedClock(value time.Time) func() time.Time {
	return func() time.Time { return value }
}

func ptrRun(run models.Run) *models.Run {
	return &run
}
