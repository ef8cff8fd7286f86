package services

import (
	"fmt"
	"sort"
	"time"

	"github.com/terraincognita07/soberly/internal/models"
)

// ReplayRuns rebuilds a user's runs from marked days with the same planning
// rules as RunEngine.Extend. Only the latest run can be active, and only
// while its last day is no older than yesterday relative to today.
func ReplayRuns(userID uint, markedDays []time.Time, today time.Time, now time.Time) ([]models.Run, error) {
	days := uniqueSortedDays(markedDays)
	runs := make([]models.Run, 0)
	var nextID uint

	for _, day := range days {
		plan, err := planExtend(userID, day, ClassifyNeighbors(runs, day), now)
		if err != nil {
			return nil, err
		}

		switch plan.Action {
		case RunActionNoOp:
		case RunActionCreated:
			nextID++
			plan.Target.ID = nextID
			runs = append(runs, plan.Target)
		case RunActionExtended:
			runs = replaceRun(runs, plan.Target)
		case RunActionMerged:
			runs = removeRun(runs, plan.Removed.ID)
			runs = replaceRun(runs, plan.Target)
		}
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].StartDate.Before(runs[j].StartDate) })
	for index := range runs {
		runs[index].ID = 0
		runs[index].Active = false
		runs[index].LastExtendedAt = now
	}
	if len(runs) > 0 {
		last := &runs[len(runs)-1]
		last.Active = !last.EndDate.Before(today)
	}
	return runs, nil
}

// ValidateRuns lists invariant violations in an in-memory run set.
func ValidateRuns(runs []models.Run) []string {
	violations := make([]string, 0)
	sorted := append([]models.Run(nil), runs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartDate.Before(sorted[j].StartDate) })

	active := 0
	for index, run := range sorted {
		if run.EndDate.Before(run.StartDate) {
			violations = append(violations, fmt.Sprintf("run %s..%s ends before it starts", FormatDay(run.StartDate), FormatDay(run.EndDate)))
		}
		if run.DayCount != run.IntervalDays() {
			violations = append(violations, fmt.Sprintf("run %s..%s has day_count %d, want %d", FormatDay(run.StartDate), FormatDay(run.EndDate), run.DayCount, run.IntervalDays()))
		}
		if index > 0 && sorted[index-1].Overlaps(run) {
			violations = append(violations, fmt.Sprintf("runs starting %s and %s overlap", FormatDay(sorted[index-1].StartDate), FormatDay(run.StartDate)))
		}
		if run.Active {
			active++
		}
	}
	if active > 1 {
		violations = append(violations, fmt.Sprintf("%d active runs", active))
	}
	return violations
}

func sameRunIntervals(a []models.Run, b []models.Run) bool {
	if len(a) != len(b) {
		return false
	}
	left := append([]models.Run(nil), a...)
	right := append([]models.Run(nil), b...)
	sort.Slice(left, func(i, j int) bool { return left[i].StartDate.Before(left[j].StartDate) })
	sort.Slice(right, func(i, j int) bool { return right[i].StartDate.Before(right[j].StartDate) })
	for index := range left {
		if !left[index].StartDate.Equal(right[index].StartDate) ||
			!left[index].EndDate.Equal(right[index].EndDate) ||
			left[index].DayCount != right[index].DayCount ||
			left[index].Active != right[index].Active {
			return false
		}
	}
	return true
}

func uniqueSortedDays(days []time.Time) []time.Time {
	seen := make(map[string]struct{}, len(days))
	unique := make([]time.Time, 0, len(days))
	for _, day := range days {
		normalized := CivilDay(day, day.Location())
		key := FormatDay(normalized)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, normalized)
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i].Before(unique[j]) })
	return unique
}

func replaceRun(runs []models.Run, updated models.Run) []models.Run {
	for index := range runs {
		if runs[index].ID == updated.ID {
			runs[index] = updated
			return runs
		}
	}
	return append(runs, updated)
}

func removeRun(runs []models.Run, runID uint) []models.Run {
	kept := runs[:0]
	for _, run := range runs {
		if run.ID != runID {
			kept = append(kept, run)
		}
	}
	return kept
}
