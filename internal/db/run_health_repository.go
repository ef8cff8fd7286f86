package db

import (
	"context"
	"fmt"

	"github.com/terraincognita07/soberly/internal/models"
)

// HealthCounts runs the invariant queries over all runs, or over a single
// user's runs when userID is non-zero.
func (repo *RunRepository) HealthCounts(ctx context.Context, userID uint) (models.RunHealthCounts, error) {
	counts := models.RunHealthCounts{}

	overlapping, err := repo.countOverlappingRuns(ctx, userID)
	if err != nil {
		return counts, fmt.Errorf("count overlapping runs: %w", err)
	}
	multipleActive, err := repo.countUsersWithMultipleActiveRuns(ctx, userID)
	if err != nil {
		return counts, fmt.Errorf("count users with multiple active runs: %w", err)
	}
	dayCountIssues, err := repo.countDayCountMismatches(ctx, userID)
	if err != nil {
		return counts, fmt.Errorf("count day count mismatches: %w", err)
	}

	counts.OverlappingRuns = overlapping
	counts.MultipleActiveRuns = multipleActive
	counts.DayCountIssues = dayCountIssues
	return counts, nil
}

func userFilter(column string, userID uint) (string, []any) {
	if userID == 0 {
		return "", nil
	}
	return " AND " + column + " = ?", []any{userID}
}

func (repo *RunRepository) countOverlappingRuns(ctx context.Context, userID uint) (int64, error) {
	filter, args := userFilter("a.user_id", userID)
	query := `
SELECT COUNT(*) FROM runs a
JOIN runs b ON a.user_id = b.user_id AND a.id < b.id
WHERE a.start_date < b.end_date AND b.start_date < a.end_date` + filter

	var count int64
	if err := conn(ctx, repo.database).Raw(query, args...).Scan(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (repo *RunRepository) countUsersWithMultipleActiveRuns(ctx context.Context, userID uint) (int64, error) {
	filter, args := userFilter("user_id", userID)
	query := `
SELECT COUNT(*) FROM (
  SELECT user_id FROM runs WHERE active = ?` + filter + `
  GROUP BY user_id HAVING COUNT(*) > 1
) multiple_active`

	var count int64
	if err := conn(ctx, repo.database).Raw(query, append([]any{true}, args...)...).Scan(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (repo *RunRepository) countDayCountMismatches(ctx context.Context, userID uint) (int64, error) {
	lengthExpr := `CAST(ROUND(julianday(end_date) - julianday(start_date)) AS INTEGER)`
	if isPostgres(repo.database) {
		lengthExpr = `(end_date - start_date)`
	}
	filter, args := userFilter("user_id", userID)
	query := `SELECT COUNT(*) FROM runs WHERE ` + lengthExpr + ` <> day_count` + filter

	var count int64
	if err := conn(ctx, repo.database).Raw(query, args...).Scan(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
