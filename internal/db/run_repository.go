package db

import (
	"context"
	"time"

	"github.com/terraincognita07/soberly/internal/models"
	"gorm.io/gorm"
)

type RunRepository struct {
	database *gorm.DB
}

func NewRunRepository(database *gorm.DB) *RunRepository {
	return &RunRepository{database: database}
}

func (repo *RunRepository) ListByUser(ctx context.Context, userID uint) ([]models.Run, error) {
	runs := make([]models.Run, 0)
	if err := conn(ctx, repo.database).
		Where("user_id = ?", userID).
		Order("start_date ASC, id ASC").
		Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// ListNear returns the runs that end at day, start the day after, or
// contain day.
func (repo *RunRepository) ListNear(ctx context.Context, userID uint, day time.Time) ([]models.Run, error) {
	next := day.AddDate(0, 0, 1)
	runs := make([]models.Run, 0)
	if err := conn(ctx, repo.database).
		Where("user_id = ?", userID).
		Where("end_date = ? OR start_date = ? OR (start_date <= ? AND end_date > ?)", day, next, day, day).
		Order("start_date ASC, id ASC").
		Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// ListOverlapping returns the runs sharing at least one day with [from, to).
func (repo *RunRepository) ListOverlapping(ctx context.Context, userID uint, from time.Time, to time.Time) ([]models.Run, error) {
	runs := make([]models.Run, 0)
	if err := conn(ctx, repo.database).
		Where("user_id = ? AND start_date < ? AND end_date > ?", userID, to, from).
		Order("start_date ASC, id ASC").
		Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// LatestEnd returns the greatest end date among the user's runs, ignoring
// excludeIDs.
func (repo *RunRepository) LatestEnd(ctx context.Context, userID uint, excludeIDs ...uint) (time.Time, bool, error) {
	query := conn(ctx, repo.database).Where("user_id = ?", userID)
	if len(excludeIDs) > 0 {
		query = query.Where("id NOT IN ?", excludeIDs)
	}

	run := models.Run{}
	result := query.Order("end_date DESC").Limit(1).Find(&run)
	if result.Error != nil {
		return time.Time{}, false, result.Error
	}
	if result.RowsAffected == 0 {
		return time.Time{}, false, nil
	}
	return run.EndDate, true, nil
}

func (repo *RunRepository) Create(ctx context.Context, run *models.Run) error {
	return translateRunError(conn(ctx, repo.database).Create(run).Error)
}

func (repo *RunRepository) CreateBatch(ctx context.Context, runs []models.Run) error {
	if len(runs) == 0 {
		return nil
	}
	return translateRunError(conn(ctx, repo.database).Create(&runs).Error)
}

func (repo *RunRepository) Save(ctx context.Context, run *models.Run) error {
	return translateRunError(conn(ctx, repo.database).Save(run).Error)
}

func (repo *RunRepository) Delete(ctx context.Context, runID uint) error {
	return conn(ctx, repo.database).Delete(&models.Run{}, runID).Error
}

func (repo *RunRepository) DeleteByUser(ctx context.Context, userID uint) error {
	return conn(ctx, repo.database).Where("user_id = ?", userID).Delete(&models.Run{}).Error
}

// DeactivateOthers clears the active flag on every run of the user except
// keepID and returns the runs it touched.
func (repo *RunRepository) DeactivateOthers(ctx context.Context, userID uint, keepID uint) ([]models.Run, error) {
	active := make([]models.Run, 0, 1)
	if err := conn(ctx, repo.database).
		Where("user_id = ? AND id <> ? AND active = ?", userID, keepID, true).
		Find(&active).Error; err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return active, nil
	}

	if err := conn(ctx, repo.database).
		Model(&models.Run{}).
		Where("user_id = ? AND id <> ? AND active = ?", userID, keepID, true).
		Update("active", false).Error; err != nil {
		return nil, translateRunError(err)
	}
	for index := range active {
		active[index].Active = false
	}
	return active, nil
}

// ActiveRunTimezones lists the distinct stored timezones of users that own
// an active run.
func (repo *RunRepository) ActiveRunTimezones(ctx context.Context) ([]string, error) {
	timezones := make([]string, 0)
	if err := conn(ctx, repo.database).
		Model(&models.User{}).
		Where("id IN (SELECT user_id FROM runs WHERE active = ?)", true).
		Distinct().
		Order("timezone ASC").
		Pluck("timezone", &timezones).Error; err != nil {
		return nil, err
	}
	return timezones, nil
}

// DeactivateEndedBefore clears the active flag on runs of users in timezone
// whose last marked day is before day-1 and returns the runs it touched.
func (repo *RunRepository) DeactivateEndedBefore(ctx context.Context, day time.Time, timezone string) ([]models.Run, error) {
	const ownerInZone = "user_id IN (SELECT id FROM users WHERE timezone = ?)"

	stale := make([]models.Run, 0)
	if err := conn(ctx, repo.database).
		Where("active = ? AND end_date < ?", true, day).
		Where(ownerInZone, timezone).
		Order("user_id ASC").
		Find(&stale).Error; err != nil {
		return nil, err
	}
	if len(stale) == 0 {
		return stale, nil
	}

	ids := make([]uint, 0, len(stale))
	for index := range stale {
		ids = append(ids, stale[index].ID)
		stale[index].Active = false
	}
	if err := conn(ctx, repo.database).
		Model(&models.Run{}).
		Where("id IN ? AND active = ? AND end_date < ?", ids, true, day).
		Update("active", false).Error; err != nil {
		return nil, err
	}
	return stale, nil
}
