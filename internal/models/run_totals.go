package models

import "time"

// RunTotals is the monthly materialization of a user's runs.
type RunTotals struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"not null;uniqueIndex:uidx_run_totals_user_month,priority:1" json:"user_id"`
	YearMonth      string    `gorm:"size:7;not null;uniqueIndex:uidx_run_totals_user_month,priority:2" json:"year_month"`
	TotalDays      int       `gorm:"not null;default:0" json:"total_days"`
	LongestRunDays int       `gorm:"not null;default:0" json:"longest_run_days"`
	ActiveRunDays  *int      `gorm:"default:null" json:"active_run_days"`
	ComputedAt     time.Time `gorm:"not null" json:"computed_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (RunTotals) TableName() string {
	return "run_totals"
}
