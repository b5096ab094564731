// Package config loads runtime configuration from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"github.com/warp/rent-engine/notify"
)

// Config holds all configuration for the engine.
type Config struct {
	DatabaseDriver string `validate:"oneof=sqlite3 postgres"`
	DatabaseURL    string `validate:"required"`
	HTTPPort       string `validate:"required,numeric"`
	LogLevel       string `validate:"oneof=trace debug info warn warning error fatal panic"`
	Environment    string `validate:"required"`
	AllowedOrigins []string

	ScanCron        string        `validate:"required"`
	ScanBatchSize   int           `validate:"gte=1,lte=10000"`
	StoreTimeout    time.Duration `validate:"gt=0"`
	DeliveryTimeout time.Duration `validate:"gt=0"`
	DeliveryRate    float64       `validate:"gt=0"` // deliveries per second
	DeliveryBurst   int           `validate:"gte=1"`
	AccrualWorkers  int           `validate:"gte=1,lte=64"`
	ReminderCatchUp bool
	RunLease        time.Duration `validate:"gt=0"`
}

// Load reads configuration from environment variables and .env (if present).
// Existing environment variables win over .env entries.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseDriver: strings.ToLower(getEnv("DATABASE_DRIVER", "sqlite3")),
		DatabaseURL:    getEnv("DATABASE_URL", "./data/rent.db"),
		HTTPPort:       getEnv("HTTP_PORT", "8080"),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		Environment:    strings.ToLower(getEnv("ENVIRONMENT", "development")),
		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
		ScanCron:       getEnv("SCAN_CRON", "0 6 * * *"), // 06:00 daily
	}

	var err error
	if cfg.ScanBatchSize, err = getEnvInt("SCAN_BATCH_SIZE", 100); err != nil {
		return nil, err
	}
	if cfg.StoreTimeout, err = getEnvDuration("STORE_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.DeliveryTimeout, err = getEnvDuration("DELIVERY_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.DeliveryRate, err = getEnvFloat("DELIVERY_RATE", 20); err != nil {
		return nil, err
	}
	if cfg.DeliveryBurst, err = getEnvInt("DELIVERY_BURST", 5); err != nil {
		return nil, err
	}
	if cfg.AccrualWorkers, err = getEnvInt("ACCRUAL_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.ReminderCatchUp, err = getEnvBool("REMINDER_CATCH_UP", false); err != nil {
		return nil, err
	}
	if cfg.RunLease, err = getEnvDuration("RUN_LEASE", 30*time.Minute); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the bounds declared in the struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Pipeline maps the scan settings onto notify.Config.
func (c *Config) Pipeline() notify.Config {
	return notify.Config{
		BatchSize:       c.ScanBatchSize,
		StoreTimeout:    c.StoreTimeout,
		DeliveryTimeout: c.DeliveryTimeout,
		DeliveryRate:    rate.Limit(c.DeliveryRate),
		DeliveryBurst:   c.DeliveryBurst,
		ReminderCatchUp: c.ReminderCatchUp,
		RunLease:        c.RunLease,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
