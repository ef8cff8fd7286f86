package db

import (
	"context"

	"github.com/terraincognita07/soberly/internal/models"
	"gorm.io/gorm"
)

type ReconciliationLogRepository struct {
	database *gorm.DB
}

func NewReconciliationLogRepository(database *gorm.DB) *ReconciliationLogRepository {
	return &ReconciliationLogRepository{database: database}
}

func (repo *ReconciliationLogRepository) CreateBatch(ctx context.Context, entries []models.ReconciliationLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return conn(ctx, repo.database).Create(&entries).Error
}

func (repo *ReconciliationLogRepository) ListByCorrelationID(ctx context.Context, correlationID string) ([]models.ReconciliationLogEntry, error) {
	entries := make([]models.ReconciliationLogEntry, 0)
	if err := conn(ctx, repo.database).
		Where("correlation_id = ?", correlationID).
		Order("user_id ASC, id ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (repo *ReconciliationLogRepository) ListByUserMonth(ctx context.Context, userID uint, yearMonth string) ([]models.ReconciliationLogEntry, error) {
	entries := make([]models.ReconciliationLogEntry, 0)
	if err := conn(ctx, repo.database).
		Where("user_id = ? AND year_month = ?", userID, yearMonth).
		Order("id ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
