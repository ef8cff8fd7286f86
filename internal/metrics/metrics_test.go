package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecordsCounters(t *testing.T) {
	m := New()

	m.RunOperation("extended")
	m.RunOperation("extended")
	m.RunOperation("merged")
	m.ConsistencyViolation()
	m.ReconciliationCheck("total_days", "mismatch")
	m.ObserveJob("reconciliation", 150*time.Millisecond)
	m.SetAggregationQueueDepth(3)
	m.RunsSwept(2)

	if got := testutil.ToFloat64(m.runOperations.WithLabelValues("extended")); got != 2 {
		t.Fatalf("expected 2 extended operations, got %v", got)
	}
	if got := testutil.ToFloat64(m.consistencyViolations); got != 1 {
		t.Fatalf("expected 1 consistency violation, got %v", got)
	}
	if got := testutil.ToFloat64(m.aggregationQueueDepth); got != 3 {
		t.Fatalf("expected queue depth 3, got %v", got)
	}
	if got := testutil.ToFloat64(m.runsSwept); got != 2 {
		t.Fatalf("expected 2 swept runs, got %v", got)
	}
	if count := testutil.CollectAndCount(m.jobDuration); count != 1 {
		t.Fatalf("expected one job duration series, got %d", count)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RunOperation("created")
	m.ConsistencyViolation()
	m.ReconciliationCheck("active_run", "match")
	m.ObserveJob("backfill", time.Second)
	m.JobUser("backfill", "completed")
	m.AggregationTask("ok")
	m.SetAggregationQueueDepth(1)
	m.RunsSwept(1)
}
