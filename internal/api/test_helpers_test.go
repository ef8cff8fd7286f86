package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/terraincognita07/soberly/internal/metrics"
	"github.com/terraincognita07/soberly/internal/models"
	"github.com/terraincognita07/soberly/internal/security"
	"github.com/terraincognita07/soberly/internal/services"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type dayMarkerStub struct {
	inputs []services.MarkDayInput
	err    error
}

func (stub *dayMarkerStub) MarkDay(_ context.Context, input services.MarkDayInput) (services.MarkDayResult, error) {
	stub.inputs = append(stub.inputs, input)
	if stub.err != nil {
		return services.MarkDayResult{}, stub.err
	}
	return services.MarkDayResult{DayMark: models.DayMark{UserID: input.UserID, Marked: input.Marked}}, nil
}

type statsReaderStub struct {
	totals services.UserTotals
	month  services.MonthTotals
	source string
	err    error
}

func (stub *statsReaderStub) GetTotals(context.Context, uint) (services.UserTotals, error) {
	return stub.totals, stub.err
}

func (stub *statsReaderStub) MonthlyTotals(_ context.Context, _ uint, yearMonth string) (services.MonthTotals, string, error) {
	if _, _, err := services.MonthBounds(yearMonth); err != nil {
		return services.MonthTotals{}, "", err
	}
	return stub.month, stub.source, stub.err
}

type healthCheckerStub struct {
	health services.RunsHealth
	err    error
}

func (stub *healthCheckerStub) RunsHealthCheck(context.Context) (services.RunsHealth, error) {
	return stub.health, stub.err
}

type runRebuilderStub struct {
	rebuildUserID   uint
	rebuildOptions  services.RebuildOptions
	backfillOptions services.BackfillOptions
	backfillErr     error
}

func (stub *runRebuilderStub) RebuildUserRuns(_ context.Context, userID uint, options services.RebuildOptions) (services.RebuildResult, error) {
	stub.rebuildUserID = userID
	stub.rebuildOptions = options
	return services.RebuildResult{UserID: userID, DryRun: options.DryRun}, nil
}

func (stub *runRebuilderStub) BackfillAllUserRuns(ctx context.Context, options services.BackfillOptions) (services.BackfillResult, error) {
	stub.backfillOptions = options
	result := services.BackfillResult{OperationID: "op-1", DryRun: options.DryRun, TotalUsers: 2, CompletedUsers: 2}
	if ctx.Err() != nil {
		result.CompletedUsers = 0
		result.Interrupted = true
		return result, fmt.Errorf("%w: %v", services.ErrJobInterrupted, context.Cause(ctx))
	}
	if stub.backfillErr != nil {
		result.Interrupted = true
	}
	return result, stub.backfillErr
}

type reconcilerStub struct {
	request services.BulkReconciliationRequest
	entries []models.ReconciliationLogEntry
}

func (stub *reconcilerStub) BulkReconciliation(ctx context.Context, request services.BulkReconciliationRequest) (services.BulkReconciliationSummary, error) {
	stub.request = request
	if ctx.Err() != nil {
		summary := services.BulkReconciliationSummary{CorrelationID: "corr-1", YearMonth: request.YearMonth, Interrupted: true}
		return summary, fmt.Errorf("%w: %v", services.ErrJobInterrupted, context.Cause(ctx))
	}
	if request.YearMonth != "" {
		if _, _, err := services.MonthBounds(request.YearMonth); err != nil {
			return services.BulkReconciliationSummary{}, err
		}
	}
	return services.BulkReconciliationSummary{CorrelationID: "corr-1", YearMonth: request.YearMonth}, nil
}

func (stub *reconcilerStub) ListLogs(_ context.Context, correlationID string) ([]models.ReconciliationLogEntry, error) {
	matched := make([]models.ReconciliationLogEntry, 0)
	for _, entry := range stub.entries {
		if entry.CorrelationID == correlationID {
			matched = append(matched, entry)
		}
	}
	return matched, nil
}

type userFinderStub struct {
	users map[uint]models.User
}

func (stub userFinderStub) FindByID(_ context.Context, userID uint) (models.User, bool, error) {
	user, ok := stub.users[userID]
	return user, ok, nil
}

type testEnv struct {
	app            *fiber.App
	dayMarks       *dayMarkerStub
	stats          *statsReaderStub
	health         *healthCheckerStub
	backfill       *runRebuilderStub
	reconciliation *reconcilerStub
	stopServer     context.CancelFunc
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	env := testEnv{
		dayMarks:       &dayMarkerStub{},
		stats:          &statsReaderStub{source: services.TotalsSourceAggregate},
		health:         &healthCheckerStub{health: services.RunsHealth{Status: services.HealthStatusHealthy}},
		backfill:       &runRebuilderStub{},
		reconciliation: &reconcilerStub{},
	}
	users := userFinderStub{users: map[uint]models.User{
		1: {ID: 1, Email: "member@example.com", Role: models.RoleMember, Timezone: "UTC"},
		2: {ID: 2, Email: "admin@example.com", Role: models.RoleAdmin, Timezone: "UTC"},
	}}
	handler := NewHandler(testSecret, Dependencies{
		DayMarks:       env.dayMarks,
		Stats:          env.stats,
		Health:         env.health,
		Backfill:       env.backfill,
		Reconciliation: env.reconciliation,
		Users:          users,
	})
	serverCtx, stopServer := context.WithCancel(context.Background())
	t.Cleanup(stopServer)
	env.stopServer = stopServer
	env.app = NewServer(serverCtx, handler, metrics.New().Registry, nil)
	return env
}

func tokenFor(t *testing.T, userID uint, role string) string {
	t.Helper()
	token, err := security.IssueToken([]byte(testSecret), userID, role, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func doRequest(t *testing.T, app *fiber.App, method string, path string, token string, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := app.Test(request, -1)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	t.Cleanup(func() { _ = response.Body.Close() })
	return response
}

func decodeJSON(t *testing.T, response *http.Response, target any) {
	t.Helper()
	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func assertStatus(t *testing.T, response *http.Response, want int) {
	t.Helper()
	if response.StatusCode != want {
		body, _ := io.ReadAll(response.Body)
		t.Fatalf("expected status %d, got %d: %s", want, response.StatusCode, string(body))
	}
}
