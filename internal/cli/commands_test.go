package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/terraincognita07/soberly/internal/services"
)

type backfillRunnerStub struct {
	options services.BackfillOptions
	result  services.BackfillResult
	err     error
}

func (stub *backfillRunnerStub) BackfillAllUserRuns(ctx context.Context, options services.BackfillOptions) (services.BackfillResult, error) {
	stub.options = options
	return stub.result, stub.err
}

type reconcilerStub struct {
	request services.BulkReconciliationRequest
	summary services.BulkReconciliationSummary
	err     error
}

func (stub *reconcilerStub) BulkReconciliation(ctx context.Context, request services.BulkReconciliationRequest) (services.BulkReconciliationSummary, error) {
	stub.request = request
	return stub.summary, stub.err
}

type healthCheckerStub struct {
	health services.RunsHealth
	err    error
}

func (stub healthCheckerStub) RunsHealthCheck(ctx context.Context) (services.RunsHealth, error) {
	return stub.health, stub.err
}

func TestParseUserIDs(t *testing.T) {
	t.Parallel()

	ids, err := parseUserIDs(" 3, 1,,7 ")
	if err != nil {
		t.Fatalf("parseUserIDs returned error: %v", err)
	}
	if !reflect.DeepEqual(ids, []uint{3, 1, 7}) {
		t.Fatalf("parseUserIDs = %v, want [3 1 7]", ids)
	}

	ids, err = parseUserIDs("")
	if err != nil || ids != nil {
		t.Fatalf("parseUserIDs(empty) = %v, %v; want nil, nil", ids, err)
	}

	for _, raw := range []string{"1,x", "0", "-2"} {
		if _, err := parseUserIDs(raw); err == nil {
			t.Fatalf("parseUserIDs(%q) expected error", raw)
		}
	}
}

func TestRunBackfillCommandPassesFlags(t *testing.T) {
	t.Parallel()

	runner := &backfillRunnerStub{result: services.BackfillResult{OperationID: "op-1", TotalUsers: 2, CompletedUsers: 2}}
	out := &bytes.Buffer{}
	args := []string{"-dry-run", "-batch-size", "10", "-skip-backup", "-source", "click_events", "-users", "4,5"}
	if err := RunBackfillCommand(context.Background(), runner, args, out); err != nil {
		t.Fatalf("RunBackfillCommand returned error: %v", err)
	}

	want := services.BackfillOptions{
		DryRun:     true,
		BatchSize:  10,
		SkipBackup: true,
		UserIDs:    []uint{4, 5},
		Source:     services.ReplaySourceClickEvents,
	}
	if !reflect.DeepEqual(runner.options, want) {
		t.Fatalf("options = %+v, want %+v", runner.options, want)
	}

	decoded := services.BackfillResult{}
	if err := json.Unmarshal(out.Bytes(), &decoded); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if decoded.OperationID != "op-1" || decoded.CompletedUsers != 2 {
		t.Fatalf("unexpected output %+v", decoded)
	}
}

func TestRunBackfillCommandDefaults(t *testing.T) {
	t.Parallel()

	runner := &backfillRunnerStub{}
	if err := RunBackfillCommand(context.Background(), runner, nil, &bytes.Buffer{}); err != nil {
		t.Fatalf("RunBackfillCommand returned error: %v", err)
	}
	if runner.options.Source != services.ReplaySourceDayMarks || runner.options.DryRun || runner.options.UserIDs != nil {
		t.Fatalf("unexpected default options %+v", runner.options)
	}
}

func TestRunBackfillCommandReportsFailures(t *testing.T) {
	t.Parallel()

	runner := &backfillRunnerStub{result: services.BackfillResult{TotalUsers: 3, FailedUsers: 1}}
	out := &bytes.Buffer{}
	err := RunBackfillCommand(context.Background(), runner, nil, out)
	if err == nil || !strings.Contains(err.Error(), "1 users failed") {
		t.Fatalf("expected failed users error, got %v", err)
	}
	if out.Len() == 0 {
		t.Fatal("expected result to be printed before the error")
	}
}

func TestRunBackfillCommandPrintsPartialResultWhenInterrupted(t *testing.T) {
	t.Parallel()

	runner := &backfillRunnerStub{
		result: services.BackfillResult{TotalUsers: 4, CompletedUsers: 2, Interrupted: true},
		err:    fmt.Errorf("%w: context canceled", services.ErrJobInterrupted),
	}
	out := &bytes.Buffer{}
	err := RunBackfillCommand(context.Background(), runner, nil, out)
	if !errors.Is(err, services.ErrJobInterrupted) {
		t.Fatalf("expected ErrJobInterrupted, got %v", err)
	}
	if !strings.Contains(out.String(), `"interrupted": true`) {
		t.Fatalf("expected partial result in output, got %s", out.String())
	}
}

func TestRunBackfillCommandRejectsBadFlags(t *testing.T) {
	t.Parallel()

	cases := [][]string{
		{"-batch-size", "-1"},
		{"-users", "a"},
		{"-unknown"},
	}
	for _, args := range cases {
		runner := &backfillRunnerStub{}
		if err := RunBackfillCommand(context.Background(), runner, args, &bytes.Buffer{}); err == nil {
			t.Fatalf("args %v: expected error", args)
		}
	}
}

func TestRunBackfillCommandDoesNotPrintOnHardError(t *testing.T) {
	t.Parallel()

	runner := &backfillRunnerStub{err: services.ErrInvalidReplaySource}
	out := &bytes.Buffer{}
	err := RunBackfillCommand(context.Background(), runner, nil, out)
	if !errors.Is(err, services.ErrInvalidReplaySource) {
		t.Fatalf("expected ErrInvalidReplaySource, got %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no output, got %s", out.String())
	}
}

func TestRunReconcileCommandDefaultsToCurrentMonth(t *testing.T) {
	t.Parallel()

	location, err := time.LoadLocation("Pacific/Auckland")
	if err != nil {
		t.Skipf("timezone data unavailable: %v", err)
	}
	now := time.Date(2025, time.January, 31, 12, 0, 0, 0, time.UTC)
	reconciler := &reconcilerStub{summary: services.BulkReconciliationSummary{CorrelationID: "c-1", Matches: 4}}
	out := &bytes.Buffer{}

	if err := RunReconcileCommand(context.Background(), reconciler, location, now, nil, out); err != nil {
		t.Fatalf("RunReconcileCommand returned error: %v", err)
	}
	if reconciler.request.YearMonth != "2025-02" {
		t.Fatalf("year month = %q, want 2025-02", reconciler.request.YearMonth)
	}
	if reconciler.request.AutoCorrect || reconciler.request.UserIDs != nil {
		t.Fatalf("unexpected request %+v", reconciler.request)
	}
	if !strings.Contains(out.String(), `"correlation_id": "c-1"`) {
		t.Fatalf("unexpected output %s", out.String())
	}
}

func TestRunReconcileCommandPassesFlags(t *testing.T) {
	t.Parallel()

	reconciler := &reconcilerStub{}
	args := []string{"-month", "2024-12", "-users", "1,2", "-auto-correct"}
	if err := RunReconcileCommand(context.Background(), reconciler, nil, time.Now(), args, &bytes.Buffer{}); err != nil {
		t.Fatalf("RunReconcileCommand returned error: %v", err)
	}
	want := services.BulkReconciliationRequest{UserIDs: []uint{1, 2}, YearMonth: "2024-12", AutoCorrect: true}
	if !reflect.DeepEqual(reconciler.request, want) {
		t.Fatalf("request = %+v, want %+v", reconciler.request, want)
	}
}

func TestRunReconcileCommandErrors(t *testing.T) {
	t.Parallel()

	reconciler := &reconcilerStub{err: services.ErrInvalidYearMonth}
	out := &bytes.Buffer{}
	err := RunReconcileCommand(context.Background(), reconciler, time.UTC, time.Now(), []string{"-month", "2024-13"}, out)
	if !errors.Is(err, services.ErrInvalidYearMonth) {
		t.Fatalf("expected ErrInvalidYearMonth, got %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no output, got %s", out.String())
	}

	interrupted := &reconcilerStub{
		summary: services.BulkReconciliationSummary{Interrupted: true},
		err:     services.ErrJobInterrupted,
	}
	out.Reset()
	err = RunReconcileCommand(context.Background(), interrupted, time.UTC, time.Now(), nil, out)
	if !errors.Is(err, services.ErrJobInterrupted) {
		t.Fatalf("expected ErrJobInterrupted, got %v", err)
	}
	if out.Len() == 0 {
		t.Fatal("expected partial summary in output")
	}
}

func TestRunHealthCommand(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	healthy := healthCheckerStub{health: services.RunsHealth{Status: services.HealthStatusHealthy}}
	if err := RunHealthCommand(context.Background(), healthy, out); err != nil {
		t.Fatalf("RunHealthCommand returned error: %v", err)
	}
	if !strings.Contains(out.String(), `"status": "healthy"`) {
		t.Fatalf("unexpected output %s", out.String())
	}

	unhealthy := healthCheckerStub{health: services.RunsHealth{
		Status: services.HealthStatusUnhealthy,
		Checks: services.RunsHealthChecks{OverlappingRuns: 2},
	}}
	out.Reset()
	if err := RunHealthCommand(context.Background(), unhealthy, out); !errors.Is(err, ErrRunsUnhealthy) {
		t.Fatalf("expected ErrRunsUnhealthy, got %v", err)
	}
	if !strings.Contains(out.String(), `"overlapping_runs": 2`) {
		t.Fatalf("unexpected output %s", out.String())
	}

	failing := healthCheckerStub{err: errors.New("database locked")}
	if err := RunHealthCommand(context.Background(), failing, &bytes.Buffer{}); err == nil || errors.Is(err, ErrRunsUnhealthy) {
		t.Fatalf("expected query error, got %v", err)
	}
}
