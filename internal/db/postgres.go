package db

import (
	"fmt"

	"github.com/terraincognita07/soberly/internal/models"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var postgresRunConstraints = []string{
	`CREATE EXTENSION IF NOT EXISTS btree_gist`,
	`DO $$
BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'runs_interval_valid') THEN
    ALTER TABLE runs ADD CONSTRAINT runs_interval_valid CHECK (end_date >= start_date AND day_count >= 0);
  END IF;
  IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'runs_no_overlap') THEN
    ALTER TABLE runs ADD CONSTRAINT runs_no_overlap
      EXCLUDE USING gist (user_id WITH =, daterange(start_date, end_date, '[)') WITH &&);
  END IF;
END
$$`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uidx_runs_user_active ON runs (user_id) WHERE active`,
}

func OpenPostgres(dsn string, logger *zap.Logger) (*gorm.DB, error) {
	database, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		PrepareStmt: true,
		Logger:      newGormLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := database.AutoMigrate(
		&models.User{},
		&models.DayMark{},
		&models.ClickEvent{},
		&models.Run{},
		&models.RunBackup{},
		&models.RunTotals{},
		&models.ReconciliationLogEntry{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate postgres: %w", err)
	}

	for _, statement := range postgresRunConstraints {
		if err := database.Exec(statement).Error; err != nil {
			return nil, fmt.Errorf("apply run constraints: %w", err)
		}
	}

	return database, nil
}

// Open picks the driver named by driver ("sqlite" or "postgres").
func Open(driver string, sqlitePath string, postgresDSN string, logger *zap.Logger) (*gorm.DB, error) {
	switch driver {
	case "", "sqlite":
		return OpenSQLite(sqlitePath, logger)
	case "postgres":
		return OpenPostgres(postgresDSN, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func isPostgres(database *gorm.DB) bool {
	return database.Dialector.Name() == "postgres"
}
