package db

import (
	"io/fs"
	"strings"
	"testing"

	embeddedmigrations "github.com/terraincognita07/soberly/migrations"
)

func TestOpenSQLiteAppliesEmbeddedMigrationsOnCleanDatabase(t *testing.T) {
	database := openTestDatabase(t)

	entries, err := fs.ReadDir(embeddedmigrations.Files, ".")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	expected := 0
	for _, entry := range entries {
		if migrationFilePattern.MatchString(entry.Name()) {
			expected++
		}
	}

	var applied int64
	if err := database.Raw(`SELECT COUNT(*) FROM schema_migrations`).Scan(&applied).Error; err != nil {
		t.Fatalf("count applied migrations: %v", err)
	}
	if applied != int64(expected) {
		t.Fatalf("expected %d applied migrations, got %d", expected, applied)
	}

	for _, table := range []string{"users", "day_marks", "click_events", "runs", "run_backups", "run_totals", "reconciliation_logs"} {
		var count int64
		if err := database.Raw(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&count).Error; err != nil {
			t.Fatalf("inspect table %s: %v", table, err)
		}
		if count != 1 {
			t.Fatalf("expected table %s to exist", table)
		}
	}

	for _, trigger := range []string{"trg_runs_no_overlap_insert", "trg_runs_no_overlap_update"} {
		var count int64
		if err := database.Raw(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'trigger' AND name = ?`, trigger).Scan(&count).Error; err != nil {
			t.Fatalf("inspect trigger %s: %v", trigger, err)
		}
		if count != 1 {
			t.Fatalf("expected trigger %s to exist", trigger)
		}
	}
}

func TestApplyEmbeddedMigrationsIsIdempotent(t *testing.T) {
	database := openTestDatabase(t)

	if err := applyEmbeddedMigrations(database); err != nil {
		t.Fatalf("second migration pass: %v", err)
	}
}

func TestSplitSQLStatementsKeepsTriggerBodiesTogether(t *testing.T) {
	sqlText := `
-- leading comment; with a semicolon
CREATE TABLE a (id INTEGER);
CREATE TRIGGER trg_a BEFORE INSERT ON a
FOR EACH ROW
BEGIN
  SELECT RAISE(ABORT, 'nope');
END;
CREATE INDEX idx_a ON a(id);
`
	statements := splitSQLStatements(sqlText)
	if len(statements) != 3 {
		t.Fatalf("expected 3 statements, got %d: %#v", len(statements), statements)
	}
	if !strings.HasPrefix(statements[1], "CREATE TRIGGER") || !strings.HasSuffix(statements[1], "END") {
		t.Fatalf("expected full trigger statement, got %q", statements[1])
	}
	if !strings.Contains(statements[1], "RAISE(ABORT, 'nope');") {
		t.Fatalf("expected trigger body to keep inner semicolon, got %q", statements[1])
	}
}
