package db

import (
	"context"
	"time"

	"github.com/terraincognita07/soberly/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DayMarkRepository struct {
	database *gorm.DB
}

func NewDayMarkRepository(database *gorm.DB) *DayMarkRepository {
	return &DayMarkRepository{database: database}
}

// Upsert writes the mark for (user, date), replacing the previous state.
func (repo *DayMarkRepository) Upsert(ctx context.Context, mark *models.DayMark) error {
	return conn(ctx, repo.database).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"marked", "updated_at"}),
	}).Create(mark).Error
}

func (repo *DayMarkRepository) FindByUserAndDay(ctx context.Context, userID uint, day time.Time) (models.DayMark, bool, error) {
	mark := models.DayMark{}
	result := conn(ctx, repo.database).
		Where("user_id = ? AND date = ?", userID, day).
		Limit(1).
		Find(&mark)
	if result.Error != nil {
		return models.DayMark{}, false, result.Error
	}
	if result.RowsAffected == 0 {
		return models.DayMark{}, false, nil
	}
	return mark, true, nil
}

func (repo *DayMarkRepository) ListByUserRange(ctx context.Context, userID uint, fromStart *time.Time, toEnd *time.Time) ([]models.DayMark, error) {
	query := conn(ctx, repo.database).Model(&models.DayMark{}).Where("user_id = ?", userID)
	if fromStart != nil {
		query = query.Where("date >= ?", *fromStart)
	}
	if toEnd != nil {
		query = query.Where("date < ?", *toEnd)
	}

	marks := make([]models.DayMark, 0)
	if err := query.Order("date ASC, id ASC").Find(&marks).Error; err != nil {
		return nil, err
	}
	return marks, nil
}

// ListMarkedDates returns the user's marked days in ascending order.
func (repo *DayMarkRepository) ListMarkedDates(ctx context.Context, userID uint) ([]time.Time, error) {
	marks := make([]models.DayMark, 0)
	if err := conn(ctx, repo.database).
		Select("id", "date").
		Where("user_id = ? AND marked = ?", userID, true).
		Order("date ASC").
		Find(&marks).Error; err != nil {
		return nil, err
	}

	dates := make([]time.Time, 0, len(marks))
	for _, mark := range marks {
		dates = append(dates, mark.Date)
	}
	return dates, nil
}
