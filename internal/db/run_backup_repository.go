package db

import (
	"context"

	"github.com/terraincognita07/soberly/internal/models"
	"gorm.io/gorm"
)

type RunBackupRepository struct {
	database *gorm.DB
}

func NewRunBackupRepository(database *gorm.DB) *RunBackupRepository {
	return &RunBackupRepository{database: database}
}

func (repo *RunBackupRepository) CreateBatch(ctx context.Context, backups []models.RunBackup) error {
	if len(backups) == 0 {
		return nil
	}
	return conn(ctx, repo.database).Create(&backups).Error
}

func (repo *RunBackupRepository) ListByOperation(ctx context.Context, operationID string) ([]models.RunBackup, error) {
	backups := make([]models.RunBackup, 0)
	if err := conn(ctx, repo.database).
		Where("operation_id = ?", operationID).
		Order("user_id ASC, start_date ASC").
		Find(&backups).Error; err != nil {
		return nil, err
	}
	return backups, nil
}
