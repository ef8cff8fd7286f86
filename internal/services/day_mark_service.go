package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/terraincognita07/soberly/internal/models"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

var (
	ErrInvalidMarkDate   = errors.New("invalid mark date")
	ErrInvalidTimezone   = errors.New("invalid timezone")
	ErrUserNotFound      = errors.New("user not found")
	ErrDayMarkSaveFailed = errors.New("save day mark failed")
)

const maxMarkDaysAhead = 1

var earliestMarkableDay = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

type DayMarkRepository interface {
	Upsert(ctx context.Context, mark *models.DayMark) error
	FindByUserAndDay(ctx context.Context, userID uint, day time.Time) (models.DayMark, bool, error)
}

type ClickEventAppender interface {
	Append(ctx context.Context, event *models.ClickEvent) error
}

type UserFinder interface {
	FindByID(ctx context.Context, userID uint) (models.User, bool, error)
}

type RunExtender interface {
	Extend(ctx context.Context, userID uint, day time.Time) (RunOperationResult, error)
}

type MarkDayInput struct {
	UserID    uint
	Date      string
	Marked    bool
	Timezone  string
	UserAgent string
	Source    string
}

type MarkDayResult struct {
	DayMark  models.DayMark      `json:"day_mark"`
	Run      *RunOperationResult `json:"run,omitempty"`
	RunError string              `json:"run_error,omitempty"`
}

type DayMarkService struct {
	tx       Transactor
	marks    DayMarkRepository
	events   ClickEventAppender
	users    UserFinder
	runs     RunExtender
	location *time.Location
	logger   *zap.Logger
	now      func() time.Time
}

func NewDayMarkService(tx Transactor, marks DayMarkRepository, events ClickEventAppender, users UserFinder, runs RunExtender, location *time.Location, logger *zap.Logger) *DayMarkService {
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DayMarkService{
		tx:       tx,
		marks:    marks,
		events:   events,
		users:    users,
		runs:     runs,
		location: location,
		logger:   logger.Named("day_marks"),
		now:      time.Now,
	}
}

// MarkDay stores the mark and its click event, then extends runs for a
// marked day. A run failure is reported in the result and never undoes
// the mark.
func (service *DayMarkService) MarkDay(ctx context.Context, input MarkDayInput) (MarkDayResult, error) {
	user, found, err := service.users.FindByID(ctx, input.UserID)
	if err != nil {
		return MarkDayResult{}, fmt.Errorf("load user: %w", err)
	}
	if !found {
		return MarkDayResult{}, ErrUserNotFound
	}

	location, timezone, err := service.resolveLocation(input.Timezone, user.Timezone)
	if err != nil {
		return MarkDayResult{}, err
	}
	day, err := ParseDay(input.Date)
	if err != nil {
		return MarkDayResult{}, fmt.Errorf("%w: %v", ErrInvalidMarkDate, err)
	}
	now := service.now()
	today := CivilDay(now, location)
	if day.Before(earliestMarkableDay) {
		return MarkDayResult{}, fmt.Errorf("%w: %s is before %s", ErrInvalidMarkDate, FormatDay(day), FormatDay(earliestMarkableDay))
	}
	if day.After(today.AddDate(0, 0, maxMarkDaysAhead)) {
		return MarkDayResult{}, fmt.Errorf("%w: %s is in the future", ErrInvalidMarkDate, FormatDay(day))
	}

	result := MarkDayResult{}
	err = service.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		mark := models.DayMark{UserID: user.ID, Date: day, Marked: input.Marked}
		if err := service.marks.Upsert(ctx, &mark); err != nil {
			return err
		}
		event := models.ClickEvent{
			UserID:   user.ID,
			Date:     day,
			Marked:   input.Marked,
			Timezone: timezone,
			Context: datatypes.JSONMap{
				"local_today": FormatDay(today),
				"source":      strings.TrimSpace(input.Source),
				"user_agent":  strings.TrimSpace(input.UserAgent),
			},
			CreatedAt: now.UTC(),
		}
		if err := service.events.Append(ctx, &event); err != nil {
			return err
		}

		stored, found, err := service.marks.FindByUserAndDay(ctx, user.ID, day)
		if err != nil {
			return err
		}
		if found {
			mark = stored
		}
		result.DayMark = mark
		return nil
	})
	if err != nil {
		return MarkDayResult{}, fmt.Errorf("%w: %v", ErrDayMarkSaveFailed, err)
	}

	if input.Marked {
		runResult, err := service.ExtendRunsForDayMark(ctx, user.ID, day)
		if err != nil {
			result.RunError = err.Error()
		} else {
			result.Run = &runResult
		}
	}
	return result, nil
}

// ExtendRunsForDayMark runs the engine for a stored mark and logs failures.
func (service *DayMarkService) ExtendRunsForDayMark(ctx context.Context, userID uint, day time.Time) (RunOperationResult, error) {
	result, err := service.runs.Extend(ctx, userID, day)
	if err != nil {
		service.logger.Warn("extend runs after day mark failed",
			zap.Uint("user_id", userID),
			zap.String("date", FormatDay(day)),
			zap.Error(err),
		)
		return RunOperationResult{}, err
	}
	return result, nil
}

func (service *DayMarkService) resolveLocation(requested string, userTimezone string) (*time.Location, string, error) {
	name := strings.TrimSpace(requested)
	if name == "" {
		name = strings.TrimSpace(userTimezone)
	}
	if name == "" {
		return service.location, service.location.String(), nil
	}
	location, err := time.LoadLocation(name)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	return location, name, nil
}
