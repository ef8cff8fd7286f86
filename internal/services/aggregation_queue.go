package services

import (
	"context"
	"sync"
	"time"

	"github.com/terraincognita07/soberly/internal/metrics"
	"github.com/terraincognita07/soberly/internal/models"
	"go.uber.org/zap"
)

const (
	defaultAggregationQueueSize = 1024
	defaultAggregationBaseDelay = 200 * time.Millisecond
	defaultAggregationMaxDelay  = 10 * time.Second
)

type MonthlyAggregator interface {
	UpdateMonthlyAggregate(ctx context.Context, userID uint, yearMonth string) (models.RunTotals, error)
}

type aggregationKey struct {
	UserID    uint
	YearMonth string
}

type AggregationQueueOptions struct {
	Workers     int
	MaxAttempts int
	QueueSize   int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// AggregationQueue refreshes monthly aggregates off the request path.
// Duplicate (user, month) keys waiting in the queue collapse into one task.
type AggregationQueue struct {
	aggregator MonthlyAggregator
	logger     *zap.Logger
	metrics    *metrics.Metrics
	options    AggregationQueueOptions

	tasks   chan aggregationKey
	mu      sync.Mutex
	pending map[aggregationKey]struct{}
	wg      sync.WaitGroup
}

func NewAggregationQueue(aggregator MonthlyAggregator, options AggregationQueueOptions, logger *zap.Logger, m *metrics.Metrics) *AggregationQueue {
	if options.Workers <= 0 {
		options.Workers = 1
	}
	if options.MaxAttempts <= 0 {
		options.MaxAttempts = 1
	}
	if options.QueueSize <= 0 {
		options.QueueSize = defaultAggregationQueueSize
	}
	if options.BaseDelay <= 0 {
		options.BaseDelay = defaultAggregationBaseDelay
	}
	if options.MaxDelay <= 0 {
		options.MaxDelay = defaultAggregationMaxDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AggregationQueue{
		aggregator: aggregator,
		logger:     logger.Named("aggregation_queue"),
		metrics:    m,
		options:    options,
		tasks:      make(chan aggregationKey, options.QueueSize),
		pending:    make(map[aggregationKey]struct{}),
	}
}

// Enqueue schedules refreshes without blocking. When the buffer is full the
// task is dropped and left for reconciliation.
func (queue *AggregationQueue) Enqueue(userID uint, months ...string) {
	queue.mu.Lock()
	defer queue.mu.Unlock()

	for _, month := range months {
		key := aggregationKey{UserID: userID, YearMonth: month}
		if _, waiting := queue.pending[key]; waiting {
			continue
		}
		select {
		case queue.tasks <- key:
			queue.pending[key] = struct{}{}
		default:
			queue.metrics.AggregationTask("dropped")
			queue.logger.Warn("aggregation queue full, dropping task",
				zap.Uint("user_id", userID),
				zap.String("year_month", month),
			)
		}
	}
	queue.metrics.SetAggregationQueueDepth(len(queue.tasks))
}

func (queue *AggregationQueue) RunsChanged(_ context.Context, userID uint, months []string) {
	queue.Enqueue(userID, months...)
}

func (queue *AggregationQueue) Start(ctx context.Context) {
	for i := 0; i < queue.options.Workers; i++ {
		queue.wg.Add(1)
		go func() {
			defer queue.wg.Done()
			queue.work(ctx)
		}()
	}
}

// Wait blocks until every worker has returned after its context ended.
func (queue *AggregationQueue) Wait() {
	queue.wg.Wait()
	if remaining := queue.Pending(); remaining > 0 {
		queue.logger.Info("aggregation queue stopped with pending tasks", zap.Int("pending", remaining))
	}
}

func (queue *AggregationQueue) Pending() int {
	queue.mu.Lock()
	defer queue.mu.Unlock()
	return len(queue.pending)
}

func (queue *AggregationQueue) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case key := <-queue.tasks:
			queue.mu.Lock()
			delete(queue.pending, key)
			queue.metrics.SetAggregationQueueDepth(len(queue.tasks))
			queue.mu.Unlock()

			queue.process(ctx, key)
		}
	}
}

func (queue *AggregationQueue) process(ctx context.Context, key aggregationKey) {
	for attempt := 1; attempt <= queue.options.MaxAttempts; attempt++ {
		_, err := queue.aggregator.UpdateMonthlyAggregate(ctx, key.UserID, key.YearMonth)
		if err == nil {
			queue.metrics.AggregationTask("ok")
			return
		}

		if attempt == queue.options.MaxAttempts {
			queue.metrics.AggregationTask("failed")
			queue.logger.Error("monthly aggregate refresh failed",
				zap.Uint("user_id", key.UserID),
				zap.String("year_month", key.YearMonth),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			return
		}

		queue.metrics.AggregationTask("retry")
		delay := queue.backoff(attempt)
		queue.logger.Warn("monthly aggregate refresh failed, retrying",
			zap.Uint("user_id", key.UserID),
			zap.String("year_month", key.YearMonth),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (queue *AggregationQueue) backoff(attempt int) time.Duration {
	delay := queue.options.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= queue.options.MaxDelay {
			return queue.options.MaxDelay
		}
	}
	return delay
}
