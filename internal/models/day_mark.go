package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DayMark is the per-day state for a user. Only Marked=true rows feed runs.
type DayMark struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:uidx_day_marks_user_date" json:"user_id"`
	Date      time.Time `gorm:"type:date;not null;uniqueIndex:uidx_day_marks_user_date" json:"date"`
	Marked    bool      `gorm:"not null;default:false" json:"marked"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ClickEvent is the append-only log of every marking attempt.
type ClickEvent struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	UserID    uint              `gorm:"not null;index:idx_click_events_user_date" json:"user_id"`
	Date      time.Time         `gorm:"type:date;not null;index:idx_click_events_user_date" json:"date"`
	Marked    bool              `gorm:"not null" json:"marked"`
	Timezone  string            `gorm:"not null;default:UTC" json:"timezone"`
	Context   datatypes.JSONMap `gorm:"type:json" json:"context"`
	CreatedAt time.Time         `gorm:"not null" json:"created_at"`
}

func (mark *DayMark) AfterFind(_ *gorm.DB) error {
	mark.Date = mark.Date.UTC()
	return nil
}

func (event *ClickEvent) AfterFind(_ *gorm.DB) error {
	event.Date = event.Date.UTC()
	return nil
}
