package db

import (
	"fmt"
	"strings"

	"github.com/terraincognita07/soberly/internal/models"
)

var runConstraintMarkers = []string{
	"runs_no_overlap",
	"uidx_runs_user_active",
	"UNIQUE constraint failed: runs.user_id",
	"runs_interval_valid",
	"CHECK constraint failed",
}

// IsRunConstraintError reports whether err came from one of the runs table
// constraints, on either SQLite or Postgres.
func IsRunConstraintError(err error) bool {
	if err == nil {
		return false
	}
	message := err.Error()
	for _, marker := range runConstraintMarkers {
		if strings.Contains(message, marker) {
			return true
		}
	}
	return false
}

func translateRunError(err error) error {
	if IsRunConstraintError(err) {
		return fmt.Errorf("%w: %v", models.ErrRunConstraint, err)
	}
	return err
}
