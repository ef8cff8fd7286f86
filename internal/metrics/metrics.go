package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "soberly"

// Metrics groups the collectors for the runs engine and its jobs. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	runOperations         *prometheus.CounterVec
	consistencyViolations prometheus.Counter
	reconciliationChecks  *prometheus.CounterVec
	jobDuration           *prometheus.HistogramVec
	jobUsers              *prometheus.CounterVec
	aggregationTasks      *prometheus.CounterVec
	aggregationQueueDepth prometheus.Gauge
	runsSwept             prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		Registry: registry,
		runOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_operations_total",
			Help:      "Run maintenance operations by action.",
		}, []string{"action"}),
		consistencyViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_consistency_violations_total",
			Help:      "Extends that found more than one adjacent run on one side.",
		}),
		reconciliationChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_checks_total",
			Help:      "Reconciliation field checks by check type and status.",
		}, []string{"check", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of batch jobs.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"job"}),
		jobUsers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_users_total",
			Help:      "Users processed by batch jobs by outcome.",
		}, []string{"job", "outcome"}),
		aggregationTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregation_tasks_total",
			Help:      "Monthly aggregate refresh tasks by outcome.",
		}, []string{"outcome"}),
		aggregationQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "aggregation_queue_depth",
			Help:      "Pending monthly aggregate refresh tasks.",
		}),
		runsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_swept_total",
			Help:      "Runs deactivated by the daily sweep.",
		}),
	}

	registry.MustRegister(
		m.runOperations,
		m.consistencyViolations,
		m.reconciliationChecks,
		m.jobDuration,
		m.jobUsers,
		m.aggregationTasks,
		m.aggregationQueueDepth,
		m.runsSwept,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) RunOperation(action string) {
	if m == nil {
		return
	}
	m.runOperations.WithLabelValues(action).Inc()
}

func (m *Metrics) ConsistencyViolation() {
	if m == nil {
		return
	}
	m.consistencyViolations.Inc()
}

func (m *Metrics) ReconciliationCheck(check string, status string) {
	if m == nil {
		return
	}
	m.reconciliationChecks.WithLabelValues(check, status).Inc()
}

func (m *Metrics) ObserveJob(job string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(elapsed.Seconds())
}

func (m *Metrics) JobUser(job string, outcome string) {
	if m == nil {
		return
	}
	m.jobUsers.WithLabelValues(job, outcome).Inc()
}

func (m *Metrics) AggregationTask(outcome string) {
	if m == nil {
		return
	}
	m.aggregationTasks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetAggregationQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.aggregationQueueDepth.Set(float64(depth))
}

func (m *Metrics) RunsSwept(count int) {
	if m == nil {
		return
	}
	m.runsSwept.Add(float64(count))
}
