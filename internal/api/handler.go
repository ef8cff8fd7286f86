package api

import (
	"context"
	"time"

	"github.com/terraincognita07/soberly/internal/models"
	"github.com/terraincognita07/soberly/internal/services"
	"go.uber.org/zap"
)

const (
	authCookieName = "soberly_auth"
	contextUserKey = "user"
)

type DayMarker interface {
	MarkDay(ctx context.Context, input services.MarkDayInput) (services.MarkDayResult, error)
}

type StatsReader interface {
	GetTotals(ctx context.Context, userID uint) (services.UserTotals, error)
	MonthlyTotals(ctx context.Context, userID uint, yearMonth string) (services.MonthTotals, string, error)
}

type RunsHealthChecker interface {
	RunsHealthCheck(ctx context.Context) (services.RunsHealth, error)
}

type RunRebuilder interface {
	RebuildUserRuns(ctx context.Context, userID uint, options services.RebuildOptions) (services.RebuildResult, error)
	BackfillAllUserRuns(ctx context.Context, options services.BackfillOptions) (services.BackfillResult, error)
}

type Reconciler interface {
	BulkReconciliation(ctx context.Context, request services.BulkReconciliationRequest) (services.BulkReconciliationSummary, error)
	ListLogs(ctx context.Context, correlationID string) ([]models.ReconciliationLogEntry, error)
}

type UserFinder interface {
	FindByID(ctx context.Context, userID uint) (models.User, bool, error)
}

type Dependencies struct {
	DayMarks       DayMarker
	Stats          StatsReader
	Health         RunsHealthChecker
	Backfill       RunRebuilder
	Reconciliation Reconciler
	Users          UserFinder
	Logger         *zap.Logger
}

type Handler struct {
	secretKey      []byte
	dayMarks       DayMarker
	stats          StatsReader
	health         RunsHealthChecker
	backfill       RunRebuilder
	reconciliation Reconciler
	users          UserFinder
	logger         *zap.Logger
	now            func() time.Time
}

func NewHandler(secret string, deps Dependencies) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		secretKey:      []byte(secret),
		dayMarks:       deps.DayMarks,
		stats:          deps.Stats,
		health:         deps.Health,
		backfill:       deps.Backfill,
		reconciliation: deps.Reconciliation,
		users:          deps.Users,
		logger:         logger.Named("api"),
		now:            time.Now,
	}
}
