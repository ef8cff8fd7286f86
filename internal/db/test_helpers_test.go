package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/terraincognita07/soberly/internal/models"
	"gorm.io/gorm"
)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()

	database, err := OpenSQLite(filepath.Join(t.TempDir(), "soberly-test.db"), nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		t.Fatalf("load sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return database
}

func createTestUser(t *testing.T, database *gorm.DB, email string) models.User {
	t.Helper()

	user := models.User{Email: email, Role: models.RoleMember, Timezone: "UTC"}
	if err := database.Create(&user).Error; err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return user
}

func day(raw string) time.Time {
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		panic(err)
	}
	return parsed
}

func newRun(userID uint, start string, end string, active bool) models.Run {
	startDate := day(start)
	endDate := day(end)
	return models.Run{
		UserID:         userID,
		StartDate:      startDate,
		EndDate:        endDate,
		DayCount:       models.DaysBetween(startDate, endDate),
		Active:         active,
		LastExtendedAt: time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC),
	}
}
