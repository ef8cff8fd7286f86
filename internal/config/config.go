package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const minSecretKeyLength = 32

var insecureSecretKeys = map[string]struct{}{
	"change_me_in_production":                    {},
	"replace_with_at_least_32_random_characters": {},
}

type Config struct {
	Port     string
	Location *time.Location

	DBDriver    string
	DBPath      string
	DatabaseURL string

	SecretKey string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	ReconcileBatchSize     int
	ReconcileConcurrency   int
	JobUsersPerSecond      float64
	AggregationWorkers     int
	AggregationMaxAttempts int
	SweepInterval          time.Duration
}

// Load reads .env when present and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Location:      loadLocation(getEnv("TZ", "UTC")),
		DBDriver:      strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DBPath:        getEnv("DB_PATH", filepath.Join("data", "soberly.db")),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		SecretKey:     strings.TrimSpace(os.Getenv("SECRET_KEY")),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogPath:       os.Getenv("LOG_PATH"),
	}

	port, err := resolvePort()
	if err != nil {
		return Config{}, err
	}
	cfg.Port = port

	if cfg.DBDriver != "sqlite" && cfg.DBDriver != "postgres" {
		return Config{}, fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", cfg.DBDriver)
	}
	if cfg.DBDriver == "postgres" && cfg.DatabaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
	}

	intSettings := []struct {
		key      string
		fallback int
		minimum  int
		target   *int
	}{
		{"REDIS_DB", 0, 0, &cfg.RedisDB},
		{"LOG_MAX_SIZE_MB", 50, 1, &cfg.LogMaxSizeMB},
		{"LOG_MAX_BACKUPS", 5, 0, &cfg.LogMaxBackups},
		{"LOG_MAX_AGE_DAYS", 28, 0, &cfg.LogMaxAgeDays},
		{"RECONCILE_BATCH_SIZE", 50, 1, &cfg.ReconcileBatchSize},
		{"RECONCILE_CONCURRENCY", 8, 1, &cfg.ReconcileConcurrency},
		{"AGGREGATION_WORKERS", 2, 1, &cfg.AggregationWorkers},
		{"AGGREGATION_MAX_ATTEMPTS", 5, 1, &cfg.AggregationMaxAttempts},
	}
	for _, setting := range intSettings {
		value, err := getEnvInt(setting.key, setting.fallback, setting.minimum)
		if err != nil {
			return Config{}, err
		}
		*setting.target = value
	}

	usersPerSecond, err := strconv.ParseFloat(getEnv("JOB_USERS_PER_SECOND", "0"), 64)
	if err != nil || usersPerSecond < 0 {
		return Config{}, fmt.Errorf("JOB_USERS_PER_SECOND must be a non-negative number")
	}
	cfg.JobUsersPerSecond = usersPerSecond

	sweepInterval, err := time.ParseDuration(getEnv("SWEEP_INTERVAL", "1h"))
	if err != nil || sweepInterval <= 0 {
		return Config{}, fmt.Errorf("SWEEP_INTERVAL must be a positive duration")
	}
	cfg.SweepInterval = sweepInterval

	return cfg, nil
}

// ValidateSecretKey rejects empty, placeholder and short signing keys.
func (cfg Config) ValidateSecretKey() error {
	return validateSecretKey(cfg.SecretKey)
}

func validateSecretKey(secret string) error {
	if secret == "" {
		return errors.New("SECRET_KEY is required")
	}
	if _, insecure := insecureSecretKeys[secret]; insecure {
		return errors.New("SECRET_KEY uses an insecure placeholder value")
	}
	if len(secret) < minSecretKeyLength {
		return fmt.Errorf("SECRET_KEY must be at least %d characters", minSecretKeyLength)
	}
	return nil
}

func resolvePort() (string, error) {
	raw := strings.TrimSpace(getEnv("PORT", "8080"))
	port, err := strconv.Atoi(raw)
	if err != nil || port < 1 || port > 65535 {
		return "", fmt.Errorf("PORT must be between 1 and 65535, got %q", raw)
	}
	return strconv.Itoa(port), nil
}

func loadLocation(name string) *time.Location {
	location, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return location
}

func getEnv(key string, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int, minimum int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < minimum {
		return 0, fmt.Errorf("%s must be an integer >= %d, got %q", key, minimum, raw)
	}
	return value, nil
}
