package db

import (
	"context"

	"github.com/terraincognita07/soberly/internal/models"
	"gorm.io/gorm"
)

type ClickEventRepository struct {
	database *gorm.DB
}

func NewClickEventRepository(database *gorm.DB) *ClickEventRepository {
	return &ClickEventRepository{database: database}
}

func (repo *ClickEventRepository) Append(ctx context.Context, event *models.ClickEvent) error {
	return conn(ctx, repo.database).Create(event).Error
}

// ListByUser returns events in the order they were recorded per day.
func (repo *ClickEventRepository) ListByUser(ctx context.Context, userID uint) ([]models.ClickEvent, error) {
	events := make([]models.ClickEvent, 0)
	if err := conn(ctx, repo.database).
		Where("user_id = ?", userID).
		Order("date ASC, created_at ASC, id ASC").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
