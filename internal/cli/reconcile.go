package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/terraincognita07/soberly/internal/services"
)

type Reconciler interface {
	BulkReconciliation(ctx context.Context, request services.BulkReconciliationRequest) (services.BulkReconciliationSummary, error)
}

// RunReconcileCommand compares stored monthly totals with a realtime
// computation. The month defaults to the current month in location.
func RunReconcileCommand(ctx context.Context, reconciler Reconciler, location *time.Location, now time.Time, args []string, out io.Writer) error {
	if location == nil {
		location = time.UTC
	}

	flags := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	month := flags.String("month", services.YearMonthOf(now.In(location)), "month to reconcile (YYYY-MM)")
	rawUsers := flags.String("users", "", "comma separated user ids (default all users)")
	autoCorrect := flags.Bool("auto-correct", false, "rewrite drifted aggregates")
	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	userIDs, err := parseUserIDs(*rawUsers)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	summary, runErr := reconciler.BulkReconciliation(ctx, services.BulkReconciliationRequest{
		UserIDs:     userIDs,
		YearMonth:   *month,
		AutoCorrect: *autoCorrect,
	})
	if runErr != nil && !errors.Is(runErr, services.ErrJobInterrupted) {
		return fmt.Errorf("reconcile: %w", runErr)
	}
	if err := writeJSON(out, summary); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("reconcile: %w", runErr)
	}
	return nil
}
