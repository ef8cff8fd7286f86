package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/terraincognita07/soberly/internal/metrics"
	"github.com/terraincognita07/soberly/internal/models"
	"go.uber.org/zap"
)

var (
	ErrInvalidRunInput       = errors.New("invalid run input")
	ErrRunInvariantViolation = errors.New("run invariant violation")
)

const defaultExtendAttempts = 3

type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type RunRepository interface {
	ListByUser(ctx context.Context, userID uint) ([]models.Run, error)
	ListNear(ctx context.Context, userID uint, day time.Time) ([]models.Run, error)
	LatestEnd(ctx context.Context, userID uint, excludeIDs ...uint) (time.Time, bool, error)
	Create(ctx context.Context, run *models.Run) error
	Save(ctx context.Context, run *models.Run) error
	Delete(ctx context.Context, runID uint) error
	DeactivateOthers(ctx context.Context, userID uint, keepID uint) ([]models.Run, error)
}

// RunChangeListener is told which months of a user's runs changed after a
// write commits.
type RunChangeListener interface {
	RunsChanged(ctx context.Context, userID uint, months []string)
}

type RunOperationResult struct {
	Success      bool         `json:"success"`
	Message      string       `json:"message"`
	Action       RunAction    `json:"action"`
	AffectedRuns []models.Run `json:"affected_runs"`
	WasNoOp      bool         `json:"was_no_op"`
}

type RunEngine struct {
	tx          Transactor
	runs        RunRepository
	locks       *UserLocks
	clock       *UserClock
	listeners   []RunChangeListener
	metrics     *metrics.Metrics
	logger      *zap.Logger
	now         func() time.Time
	maxAttempts int
}

func NewRunEngine(tx Transactor, runs RunRepository, locks *UserLocks, clock *UserClock, logger *zap.Logger, m *metrics.Metrics) *RunEngine {
	if locks == nil {
		locks = NewUserLocks()
	}
	if clock == nil {
		clock = NewUserClock(nil, time.UTC)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunEngine{
		tx:          tx,
		runs:        runs,
		locks:       locks,
		clock:       clock,
		metrics:     m,
		logger:      logger.Named("runs"),
		now:         time.Now,
		maxAttempts: defaultExtendAttempts,
	}
}

func (engine *RunEngine) AddListener(listener RunChangeListener) {
	engine.listeners = append(engine.listeners, listener)
}

// Extend records day as marked in the user's runs. Calling it again for the
// same day is a no-op.
func (engine *RunEngine) Extend(ctx context.Context, userID uint, day time.Time) (RunOperationResult, error) {
	if userID == 0 {
		return RunOperationResult{}, fmt.Errorf("%w: user id is required", ErrInvalidRunInput)
	}
	if day.IsZero() {
		return RunOperationResult{}, fmt.Errorf("%w: date is required", ErrInvalidRunInput)
	}
	day = CivilDay(day, day.Location())

	today, err := engine.clock.Today(ctx, userID, engine.now())
	if err != nil {
		engine.metrics.RunOperation("error")
		return RunOperationResult{Success: false, Message: err.Error()}, fmt.Errorf("extend runs: %w", err)
	}

	unlock := engine.locks.Lock(userID)
	defer unlock()

	var (
		result  RunOperationResult
		changed []models.Run
	)
	for attempt := 1; attempt <= engine.maxAttempts; attempt++ {
		result, changed, err = engine.extendOnce(ctx, userID, day, today)
		if err == nil || !errors.Is(err, ErrRunInvariantViolation) || attempt == engine.maxAttempts {
			break
		}
		engine.logger.Warn("run write rejected by constraint, retrying",
			zap.Uint("user_id", userID),
			zap.String("date", FormatDay(day)),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	if err != nil {
		if errors.Is(err, ErrRunConsistencyViolation) {
			engine.metrics.ConsistencyViolation()
			engine.logger.Warn("run consistency violation",
				zap.Uint("user_id", userID),
				zap.String("date", FormatDay(day)),
				zap.Error(err),
			)
		}
		engine.metrics.RunOperation("error")
		return RunOperationResult{Success: false, Message: err.Error()}, fmt.Errorf("extend runs: %w", err)
	}

	engine.metrics.RunOperation(string(result.Action))
	if !result.WasNoOp {
		engine.notify(ctx, userID, changed)
	}
	engine.logger.Debug("runs extended",
		zap.Uint("user_id", userID),
		zap.String("date", FormatDay(day)),
		zap.String("action", string(result.Action)),
	)
	return result, nil
}

func (engine *RunEngine) extendOnce(ctx context.Context, userID uint, day time.Time, today time.Time) (RunOperationResult, []models.Run, error) {
	result := RunOperationResult{}
	changed := make([]models.Run, 0, 3)

	err := engine.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		near, err := engine.runs.ListNear(ctx, userID, day)
		if err != nil {
			return fmt.Errorf("load neighbouring runs: %w", err)
		}

		plan, err := planExtend(userID, day, ClassifyNeighbors(near, day), engine.now().UTC())
		if err != nil {
			return err
		}

		target := plan.Target
		switch plan.Action {
		case RunActionNoOp:
			result = RunOperationResult{
				Success:      true,
				Message:      "date already covered by a run",
				Action:       plan.Action,
				AffectedRuns: []models.Run{target},
				WasNoOp:      true,
			}
			return nil

		case RunActionMerged:
			if err := engine.runs.Delete(ctx, plan.Removed.ID); err != nil {
				return wrapRunWrite("delete merged run", err)
			}
			changed = append(changed, *plan.Removed)
			if target.Active {
				deactivated, err := engine.runs.DeactivateOthers(ctx, userID, target.ID)
				if err != nil {
					return wrapRunWrite("deactivate runs", err)
				}
				changed = append(changed, deactivated...)
			}
			if err := engine.runs.Save(ctx, &target); err != nil {
				return wrapRunWrite("save merged run", err)
			}

		case RunActionExtended:
			active, deactivated, err := engine.settleActive(ctx, userID, target.ID, target.EndDate, today)
			if err != nil {
				return err
			}
			target.Active = active
			changed = append(changed, deactivated...)
			if err := engine.runs.Save(ctx, &target); err != nil {
				return wrapRunWrite("save extended run", err)
			}

		case RunActionCreated:
			active, deactivated, err := engine.settleActive(ctx, userID, 0, target.EndDate, today)
			if err != nil {
				return err
			}
			target.Active = active
			changed = append(changed, deactivated...)
			if err := engine.runs.Create(ctx, &target); err != nil {
				return wrapRunWrite("create run", err)
			}
		}

		changed = append(changed, target)
		result = RunOperationResult{
			Success:      true,
			Message:      runActionMessage(plan.Action),
			Action:       plan.Action,
			AffectedRuns: []models.Run{target},
		}
		if plan.Removed != nil {
			result.AffectedRuns = append(result.AffectedRuns, *plan.Removed)
		}
		return nil
	})
	if err != nil {
		return RunOperationResult{}, nil, err
	}
	return result, changed, nil
}

// settleActive clears the flag on the user's other runs when the run ending
// at end is the latest. That run is active only if end is not before the
// user's today, the same rule replay applies.
func (engine *RunEngine) settleActive(ctx context.Context, userID uint, runID uint, end time.Time, today time.Time) (bool, []models.Run, error) {
	excluded := []uint{}
	if runID != 0 {
		excluded = append(excluded, runID)
	}
	latest, found, err := engine.runs.LatestEnd(ctx, userID, excluded...)
	if err != nil {
		return false, nil, fmt.Errorf("load latest run: %w", err)
	}
	if found && end.Before(latest) {
		return false, nil, nil
	}

	deactivated, err := engine.runs.DeactivateOthers(ctx, userID, runID)
	if err != nil {
		return false, nil, wrapRunWrite("deactivate runs", err)
	}
	return !end.Before(today), deactivated, nil
}

func (engine *RunEngine) notify(ctx context.Context, userID uint, changed []models.Run) {
	months := monthsOfRuns(changed)
	if len(months) == 0 {
		return
	}
	for _, listener := range engine.listeners {
		listener.RunsChanged(ctx, userID, months)
	}
}

func wrapRunWrite(operation string, err error) error {
	if errors.Is(err, models.ErrRunConstraint) {
		return fmt.Errorf("%s: %w: %v", operation, ErrRunInvariantViolation, err)
	}
	return fmt.Errorf("%s: %w", operation, err)
}

func runActionMessage(action RunAction) string {
	switch action {
	case RunActionMerged:
		return "merged adjacent runs"
	case RunActionExtended:
		return "extended run"
	case RunActionCreated:
		return "created run"
	default:
		return "date already covered by a run"
	}
}

// monthsOfRuns returns the sorted set of months any of runs overlaps.
func monthsOfRuns(runs []models.Run) []string {
	seen := make(map[string]struct{})
	for _, run := range runs {
		for _, month := range MonthsSpanned(run.StartDate, run.EndDate) {
			seen[month] = struct{}{}
		}
	}
	months := make([]string, 0, len(seen))
	for month := range seen {
		months = append(months, month)
	}
	sort.Strings(months)
	return months
}
