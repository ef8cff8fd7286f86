package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/terraincognita07/soberly/internal/services"
)

type BackfillRunner interface {
	BackfillAllUserRuns(ctx context.Context, options services.BackfillOptions) (services.BackfillResult, error)
}

// RunBackfillCommand rebuilds stored runs from day marks for every user, or
// for the users named by -users, and prints the job result as JSON.
func RunBackfillCommand(ctx context.Context, runner BackfillRunner, args []string, out io.Writer) error {
	flags := flag.NewFlagSet("backfill", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	dryRun := flags.Bool("dry-run", false, "compute runs without writing them")
	batchSize := flags.Int("batch-size", 0, "users per batch (0 uses the configured size)")
	skipBackup := flags.Bool("skip-backup", false, "do not back up runs before replacing them")
	source := flags.String("source", services.ReplaySourceDayMarks, "replay source: day_marks or click_events")
	rawUsers := flags.String("users", "", "comma separated user ids (default all users)")
	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("backfill: %w", err)
	}
	if *batchSize < 0 {
		return errors.New("backfill: -batch-size must not be negative")
	}
	userIDs, err := parseUserIDs(*rawUsers)
	if err != nil {
		return fmt.Errorf("backfill: %w", err)
	}

	result, runErr := runner.BackfillAllUserRuns(ctx, services.BackfillOptions{
		DryRun:     *dryRun,
		BatchSize:  *batchSize,
		SkipBackup: *skipBackup,
		UserIDs:    userIDs,
		Source:     *source,
	})
	if runErr != nil && !errors.Is(runErr, services.ErrJobInterrupted) {
		return fmt.Errorf("backfill: %w", runErr)
	}
	if err := writeJSON(out, result); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("backfill: %w", runErr)
	}
	if result.FailedUsers > 0 {
		return fmt.Errorf("backfill: %d users failed", result.FailedUsers)
	}
	return nil
}
