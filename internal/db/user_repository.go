package db

import (
	"context"
	"strings"

	"github.com/terraincognita07/soberly/internal/models"
	"gorm.io/gorm"
)

type UserRepository struct {
	database *gorm.DB
}

func NewUserRepository(database *gorm.DB) *UserRepository {
	return &UserRepository{database: database}
}

func (repo *UserRepository) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	if err := conn(ctx, repo.database).Model(&models.User{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (repo *UserRepository) FindByID(ctx context.Context, userID uint) (models.User, bool, error) {
	user := models.User{}
	result := conn(ctx, repo.database).Where("id = ?", userID).Limit(1).Find(&user)
	if result.Error != nil {
		return models.User{}, false, result.Error
	}
	if result.RowsAffected == 0 {
		return models.User{}, false, nil
	}
	return user, true, nil
}

func (repo *UserRepository) FindByEmail(ctx context.Context, email string) (models.User, bool, error) {
	user := models.User{}
	result := conn(ctx, repo.database).
		Where("lower(trim(email)) = ?", strings.ToLower(strings.TrimSpace(email))).
		Limit(1).
		Find(&user)
	if result.Error != nil {
		return models.User{}, false, result.Error
	}
	if result.RowsAffected == 0 {
		return models.User{}, false, nil
	}
	return user, true, nil
}

// ListIDs returns every user id in ascending order.
func (repo *UserRepository) ListIDs(ctx context.Context) ([]uint, error) {
	ids := make([]uint, 0)
	if err := conn(ctx, repo.database).Model(&models.User{}).Order("id ASC").Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (repo *UserRepository) Create(ctx context.Context, user *models.User) error {
	return conn(ctx, repo.database).Create(user).Error
}

func (repo *UserRepository) UpdateRole(ctx context.Context, userID uint, role string) error {
	return conn(ctx, repo.database).Model(&models.User{}).Where("id = ?", userID).Update("role", role).Error
}
