package app

import (
	"context"
	"fmt"
	"time"

	"github.com/terraincognita07/soberly/internal/cache"
	"github.com/terraincognita07/soberly/internal/config"
	"github.com/terraincognita07/soberly/internal/db"
	"github.com/terraincognita07/soberly/internal/metrics"
	"github.com/terraincognita07/soberly/internal/services"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App owns the database, cache and services of one process. Commands build
// it once and share it between the HTTP server and background workers.
type App struct {
	Config       config.Config
	Logger       *zap.Logger
	Database     *gorm.DB
	Repositories *db.Repositories
	Metrics      *metrics.Metrics
	Redis        *cache.RedisCache

	Engine         *services.RunEngine
	Aggregation    *services.AggregationService
	Queue          *services.AggregationQueue
	Reconciliation *services.ReconciliationService
	Backfill       *services.BackfillService
	Sweeper        *services.RunSweeper
	DayMarks       *services.DayMarkService
	Health         *services.HealthService

	stop context.CancelFunc
}

func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	database, err := db.Open(cfg.DBDriver, cfg.DBPath, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("database init failed: %w", err)
	}

	app := &App{
		Config:       cfg,
		Logger:       logger,
		Database:     database,
		Repositories: db.NewRepositories(database),
		Metrics:      metrics.New(),
		Redis:        connectRedis(cfg, logger),
	}
	app.wireServices()
	return app, nil
}

func connectRedis(cfg config.Config, logger *zap.Logger) *cache.RedisCache {
	if cfg.RedisAddr == "" {
		return nil
	}
	redis := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := redis.Ping(ctx); err != nil {
		logger.Warn("redis connection failed, running without totals cache",
			zap.String("addr", cfg.RedisAddr),
			zap.Error(err),
		)
		_ = redis.Close()
		return nil
	}
	return redis
}

func (app *App) wireServices() {
	cfg := app.Config
	repos := app.Repositories
	logger := app.Logger
	batch := services.BatchOptions{
		BatchSize:      cfg.ReconcileBatchSize,
		Concurrency:    cfg.ReconcileConcurrency,
		UsersPerSecond: cfg.JobUsersPerSecond,
	}
	runLocks := services.NewUserLocks()
	clock := services.NewUserClock(repos.Users, cfg.Location)

	totalsCache := cache.NewTotalsCache(app.Redis, cache.TotalsTTL, logger)
	app.Aggregation = services.NewAggregationService(repos.Runs, repos.RunTotals, totalsCache, logger)
	app.Queue = services.NewAggregationQueue(app.Aggregation, services.AggregationQueueOptions{
		Workers:     cfg.AggregationWorkers,
		MaxAttempts: cfg.AggregationMaxAttempts,
	}, logger, app.Metrics)

	app.Engine = services.NewRunEngine(repos.Transactor, repos.Runs, runLocks, clock, logger, app.Metrics)
	app.Engine.AddListener(app.Aggregation)
	app.Engine.AddListener(app.Queue)

	app.Backfill = services.NewBackfillService(services.BackfillDependencies{
		Transactor: repos.Transactor,
		Runs:       repos.Runs,
		Backups:    repos.RunBackups,
		DayMarks:   repos.DayMarks,
		Events:     repos.ClickEvents,
		Users:      repos.Users,
		Aggregator: app.Aggregation,
		Locks:      runLocks,
		Clock:      clock,
	}, batch, cfg.Location, logger, app.Metrics)
	app.Backfill.AddListener(app.Aggregation)

	app.Sweeper = services.NewRunSweeper(repos.Runs, cfg.SweepInterval, cfg.Location, logger, app.Metrics)
	app.Sweeper.AddListener(app.Aggregation)
	app.Sweeper.AddListener(app.Queue)

	app.Reconciliation = services.NewReconciliationService(
		app.Aggregation,
		repos.RunTotals,
		repos.ReconciliationLogs,
		repos.Users,
		batch,
		cfg.Location,
		logger,
		app.Metrics,
	)
	app.DayMarks = services.NewDayMarkService(repos.Transactor, repos.DayMarks, repos.ClickEvents, repos.Users, app.Engine, cfg.Location, logger)
	app.Health = services.NewHealthService(repos.Runs)
}

// Start launches the aggregation workers and the stale run sweeper. They
// stop when ctx ends or Close is called.
func (app *App) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	app.stop = cancel
	app.Queue.Start(workerCtx)
	app.Sweeper.Start(workerCtx)
}

func (app *App) Close() error {
	if app.stop != nil {
		app.stop()
		app.Queue.Wait()
		app.Sweeper.Wait()
	}
	if app.Redis != nil {
		if err := app.Redis.Close(); err != nil {
			app.Logger.Warn("close redis failed", zap.Error(err))
		}
	}

	sqlDB, err := app.Database.DB()
	if err != nil {
		return fmt.Errorf("load sql db: %w", err)
	}
	return sqlDB.Close()
}
