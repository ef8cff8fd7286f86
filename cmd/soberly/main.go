package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/terraincognita07/soberly/internal/api"
	"github.com/terraincognita07/soberly/internal/app"
	"github.com/terraincognita07/soberly/internal/cli"
	"github.com/terraincognita07/soberly/internal/config"
	"github.com/terraincognita07/soberly/internal/logging"
	"go.uber.org/zap"
)

const usage = `usage: soberly [command] [flags]

commands:
  serve        run the HTTP API (default)
  backfill     rebuild runs from day marks
  reconcile    compare monthly aggregates with realtime totals
  health       check stored runs for invariant violations
  issue-token  sign an API token for a user`

var errUnknownCommand = errors.New("unknown command")

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errUnknownCommand) {
			fmt.Fprintln(os.Stderr, usage)
		}
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer, stderr io.Writer) error {
	command, rest := splitCommand(args)
	switch command {
	case "serve", "backfill", "reconcile", "health", "issue-token":
	case "help", "-h", "-help", "--help":
		fmt.Fprintln(stdout, usage)
		return nil
	default:
		return fmt.Errorf("%w %q", errUnknownCommand, command)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if command == "serve" || command == "issue-token" {
		if err := cfg.ValidateSecretKey(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}

	logOptions := logging.Options{
		Level:      cfg.LogLevel,
		Path:       cfg.LogPath,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	}
	if command != "serve" {
		logOptions.Console = stderr
	}
	logger, err := logging.New(logOptions)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	application, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Warn("shutdown failed", zap.Error(err))
		}
	}()

	ctx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	switch command {
	case "backfill":
		return cli.RunBackfillCommand(ctx, application.Backfill, rest, stdout)
	case "reconcile":
		return cli.RunReconcileCommand(ctx, application.Reconciliation, cfg.Location, time.Now(), rest, stdout)
	case "health":
		return cli.RunHealthCommand(ctx, application.Health, stdout)
	case "issue-token":
		return cli.RunIssueTokenCommand(ctx, application.Repositories.Users, cfg.SecretKey, rest, stdout)
	default:
		return serve(ctx, application)
	}
}

// splitCommand treats a leading flag or an empty argument list as serve.
func splitCommand(args []string) (string, []string) {
	if len(args) == 0 || (len(args[0]) > 0 && args[0][0] == '-' && !isHelpFlag(args[0])) {
		return "serve", args
	}
	return args[0], args[1:]
}

func isHelpFlag(arg string) bool {
	switch arg {
	case "-h", "-help", "--help":
		return true
	}
	return false
}

func newServer(ctx context.Context, application *app.App) *fiber.App {
	handler := api.NewHandler(application.Config.SecretKey, api.Dependencies{
		DayMarks:       application.DayMarks,
		Stats:          application.Aggregation,
		Health:         application.Health,
		Backfill:       application.Backfill,
		Reconciliation: application.Reconciliation,
		Users:          application.Repositories.Users,
		Logger:         application.Logger,
	})
	return api.NewServer(ctx, handler, application.Metrics.Registry, application.Logger)
}

func serve(ctx context.Context, application *app.App) error {
	cfg := application.Config
	logger := application.Logger
	server := newServer(ctx, application)

	application.Start(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Warn("server shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("soberly listening",
		zap.String("addr", "0.0.0.0:"+cfg.Port),
		zap.String("db_driver", cfg.DBDriver),
		zap.String("tz", cfg.Location.String()),
		zap.Bool("redis", application.Redis != nil),
	)
	if err := server.Listen(":" + cfg.Port); err != nil {
		return fmt.Errorf("server exited: %w", err)
	}
	return nil
}
