package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// Run is a maximal streak of consecutive marked days stored as the
// half-open interval [StartDate, EndDate).
type Run struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"not null;index:idx_runs_user_start" json:"user_id"`
	StartDate      time.Time `gorm:"type:date;not null;index:idx_runs_user_start" json:"start_date"`
	EndDate        time.Time `gorm:"type:date;not null" json:"end_date"`
	DayCount       int       `gorm:"not null" json:"day_count"`
	Active         bool      `gorm:"not null;default:false" json:"active"`
	LastExtendedAt time.Time `gorm:"not null" json:"last_extended_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Contains reports whether day falls inside the run.
func (run Run) Contains(day time.Time) bool {
	return !day.Before(run.StartDate) && day.Before(run.EndDate)
}

// IntervalDays is the length of the interval in whole days.
func (run Run) IntervalDays() int {
	return DaysBetween(run.StartDate, run.EndDate)
}

// Overlaps reports whether the two half-open intervals share at least one day.
func (run Run) Overlaps(other Run) bool {
	return run.StartDate.Before(other.EndDate) && other.StartDate.Before(run.EndDate)
}

// DaysBetween counts calendar days from start to end. Both values are
// expected at UTC midnight.
func DaysBetween(start time.Time, end time.Time) int {
	return int(end.Sub(start).Hours() / 24)
}

// RunBackup keeps a copy of a run replaced by a backfill operation.
type RunBackup struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	OperationID    string    `gorm:"not null;index" json:"operation_id"`
	RunID          uint      `gorm:"not null" json:"run_id"`
	UserID         uint      `gorm:"not null;index" json:"user_id"`
	StartDate      time.Time `gorm:"type:date;not null" json:"start_date"`
	EndDate        time.Time `gorm:"type:date;not null" json:"end_date"`
	DayCount       int       `gorm:"not null" json:"day_count"`
	Active         bool      `gorm:"not null" json:"active"`
	LastExtendedAt time.Time `gorm:"not null" json:"last_extended_at"`
	BackedUpAt     time.Time `gorm:"not null" json:"backed_up_at"`
}

// ErrRunConstraint is wrapped by storage when a write is rejected by the
// run overlap or single active run constraints.
var ErrRunConstraint = errors.New("run constraint rejected write")

// AfterFind drops the zone drivers attach to DATE columns so that run
// boundaries compare and format as plain UTC calendar days.
func (run *Run) AfterFind(_ *gorm.DB) error {
	run.StartDate = run.StartDate.UTC()
	run.EndDate = run.EndDate.UTC()
	return nil
}
