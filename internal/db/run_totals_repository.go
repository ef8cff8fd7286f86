package db

import (
	"context"

	"github.com/terraincognita07/soberly/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RunTotalsRepository struct {
	database *gorm.DB
}

func NewRunTotalsRepository(database *gorm.DB) *RunTotalsRepository {
	return &RunTotalsRepository{database: database}
}

func (repo *RunTotalsRepository) FindByUserMonth(ctx context.Context, userID uint, yearMonth string) (models.RunTotals, bool, error) {
	totals := models.RunTotals{}
	result := conn(ctx, repo.database).
		Where("user_id = ? AND year_month = ?", userID, yearMonth).
		Limit(1).
		Find(&totals)
	if result.Error != nil {
		return models.RunTotals{}, false, result.Error
	}
	if result.RowsAffected == 0 {
		return models.RunTotals{}, false, nil
	}
	return totals, true, nil
}

// Upsert writes the row for (user, month), overwriting the computed values.
func (repo *RunTotalsRepository) Upsert(ctx context.Context, totals *models.RunTotals) error {
	return conn(ctx, repo.database).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "year_month"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_days",
			"longest_run_days",
			"active_run_days",
			"computed_at",
			"updated_at",
		}),
	}).Create(totals).Error
}

func (repo *RunTotalsRepository) ListByUser(ctx context.Context, userID uint) ([]models.RunTotals, error) {
	rows := make([]models.RunTotals, 0)
	if err := conn(ctx, repo.database).
		Where("user_id = ?", userID).
		Order("year_month ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
