package models

import "time"

const (
	CheckTotalDays  = "total_days"
	CheckLongestRun = "longest_run"
	CheckActiveRun  = "active_run"
)

const (
	ReconcileMatch     = "match"
	ReconcileMismatch  = "mismatch"
	ReconcileCorrected = "corrected"
	ReconcileError     = "error"
)

// ReconciliationLogEntry is an append-only audit row. Expected and Actual
// are nil when the value is absent (no active run, no stored row).
type ReconciliationLogEntry struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UserID        uint      `gorm:"not null;index:idx_reconciliation_logs_user_month" json:"user_id"`
	YearMonth     string    `gorm:"size:7;not null;index:idx_reconciliation_logs_user_month" json:"year_month"`
	CheckType     string    `gorm:"not null" json:"check_type"`
	Expected      *int      `gorm:"default:null" json:"expected"`
	Actual        *int      `gorm:"default:null" json:"actual"`
	Status        string    `gorm:"not null" json:"status"`
	CorrelationID string    `gorm:"not null;index" json:"correlation_id"`
	DurationMs    int64     `gorm:"not null;default:0" json:"duration_ms"`
	Message       string    `gorm:"not null;default:''" json:"message"`
	CreatedAt     time.Time `gorm:"not null" json:"created_at"`
}

func (ReconciliationLogEntry) TableName() string {
	return "reconciliation_logs"
}
