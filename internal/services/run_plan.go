package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/terraincognita07/soberly/internal/models"
)

var ErrRunConsistencyViolation = errors.New("run consistency violation")

type RunAction string

const (
	RunActionMerged   RunAction = "merged"
	RunActionNoOp     RunAction = "noop"
	RunActionExtended RunAction = "extended"
	RunActionCreated  RunAction = "created"
)

// RunNeighborhood partitions the runs around one day.
type RunNeighborhood struct {
	EndingAt   []models.Run
	StartingAt []models.Run
	Containing []models.Run
}

func ClassifyNeighbors(runs []models.Run, day time.Time) RunNeighborhood {
	next := day.AddDate(0, 0, 1)
	neighborhood := RunNeighborhood{}
	for _, run := range runs {
		switch {
		case run.EndDate.Equal(day):
			neighborhood.EndingAt = append(neighborhood.EndingAt, run)
		case run.StartDate.Equal(next):
			neighborhood.StartingAt = append(neighborhood.StartingAt, run)
		case run.Contains(day):
			neighborhood.Containing = append(neighborhood.Containing, run)
		}
	}
	return neighborhood
}

// extendPlan describes the single write an extend needs. Target is the
// resulting run; Removed is set only for merges.
type extendPlan struct {
	Action  RunAction
	Target  models.Run
	Removed *models.Run
}

// planExtend applies merge, containment, extend and create in that order.
// The active flag of extended and created runs is left for the caller to
// settle against the user's other runs.
func planExtend(userID uint, day time.Time, neighborhood RunNeighborhood, now time.Time) (extendPlan, error) {
	if len(neighborhood.EndingAt) > 1 {
		return extendPlan{}, fmt.Errorf("%w: %d runs end at %s", ErrRunConsistencyViolation, len(neighborhood.EndingAt), FormatDay(day))
	}
	if len(neighborhood.StartingAt) > 1 {
		return extendPlan{}, fmt.Errorf("%w: %d runs start at %s", ErrRunConsistencyViolation, len(neighborhood.StartingAt), FormatDay(day.AddDate(0, 0, 1)))
	}

	if len(neighborhood.EndingAt) == 1 && len(neighborhood.StartingAt) == 1 &&
		neighborhood.EndingAt[0].ID != neighborhood.StartingAt[0].ID {
		left := neighborhood.EndingAt[0]
		right := neighborhood.StartingAt[0]
		merged := left
		merged.StartDate = minDay(left.StartDate, right.StartDate)
		merged.EndDate = maxDay(left.EndDate, right.EndDate)
		merged.DayCount = models.DaysBetween(merged.StartDate, merged.EndDate)
		merged.Active = left.Active || right.Active
		merged.LastExtendedAt = now
		return extendPlan{Action: RunActionMerged, Target: merged, Removed: &right}, nil
	}

	if len(neighborhood.Containing) > 0 {
		if len(neighborhood.Containing) > 1 {
			return extendPlan{}, fmt.Errorf("%w: %d runs contain %s", ErrRunConsistencyViolation, len(neighborhood.Containing), FormatDay(day))
		}
		return extendPlan{Action: RunActionNoOp, Target: neighborhood.Containing[0]}, nil
	}

	if len(neighborhood.EndingAt) == 1 {
		extended := neighborhood.EndingAt[0]
		extended.EndDate = day.AddDate(0, 0, 1)
		extended.DayCount = models.DaysBetween(extended.StartDate, extended.EndDate)
		extended.Active = true
		extended.LastExtendedAt = now
		return extendPlan{Action: RunActionExtended, Target: extended}, nil
	}
	if len(neighborhood.StartingAt) == 1 {
		extended := neighborhood.StartingAt[0]
		extended.StartDate = day
		extended.DayCount = models.DaysBetween(extended.StartDate, extended.EndDate)
		extended.Active = true
		extended.LastExtendedAt = now
		return extendPlan{Action: RunActionExtended, Target: extended}, nil
	}

	return extendPlan{
		Action: RunActionCreated,
		Target: models.Run{
			UserID:         userID,
			StartDate:      day,
			EndDate:        day.AddDate(0, 0, 1),
			DayCount:       1,
			Active:         true,
			LastExtendedAt: now,
		},
	}, nil
}

func minDay(a time.Time, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxDay(a time.Time, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
