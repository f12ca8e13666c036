// Package config loads service settings from an optional YAML file, a .env
// file and the process environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Shivanand-hulikatti/event-waitlist/internal/database"
	"github.com/Shivanand-hulikatti/event-waitlist/internal/notify"
	"github.com/Shivanand-hulikatti/event-waitlist/internal/repository"
	"github.com/Shivanand-hulikatti/event-waitlist/internal/repository/firestore"
	"github.com/Shivanand-hulikatti/event-waitlist/internal/trigger"
)

// Store backends.
const (
	StoreMemory    = "memory"
	StorePostgres  = "postgres"
	StoreFirestore = "firestore"
)

// Config is the full service configuration.
type Config struct {
	Port     string `yaml:"port"`
	Store    string `yaml:"store"`
	LogLevel string `yaml:"log_level"`

	Postgres  database.Config    `yaml:"postgres"`
	Firestore firestore.Config   `yaml:"firestore"`
	Redis     notify.RedisConfig `yaml:"redis"`
	Trigger   trigger.Config     `yaml:"trigger"`
	Retry     RetryConfig        `yaml:"retry"`
}

// RetryConfig mirrors repository.RetryPolicy for the config file.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// Policy converts the config into a retry policy.
func (r RetryConfig) Policy() repository.RetryPolicy {
	return repository.RetryPolicy{
		MaxAttempts: r.MaxAttempts,
		BaseDelay:   r.BaseDelay,
		MaxDelay:    r.MaxDelay,
	}
}

// Default returns local-development defaults.
func Default() Config {
	return Config{
		Port:     "8080",
		Store:    StoreMemory,
		LogLevel: "info",
		Postgres: database.Config{
			Host:            "localhost",
			Port:            "5432",
			User:            "postgres",
			Password:        "postgres",
			DBName:          "eventwaitlist",
			SSLMode:         "disable",
			ConnectAttempts: 5,
			ConnectBackoff:  2 * time.Second,
		},
		Redis:   notify.RedisConfig{Channel: notify.DefaultChannel},
		Trigger: trigger.DefaultConfig,
		Retry: RetryConfig{
			MaxAttempts: repository.DefaultRetryPolicy.MaxAttempts,
			BaseDelay:   repository.DefaultRetryPolicy.BaseDelay,
			MaxDelay:    repository.DefaultRetryPolicy.MaxDelay,
		},
	}
}

// Load reads path (if non-empty), then .env (if present), then the
// environment. Callers apply their own overrides and then call Validate.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Port = getEnv("PORT", c.Port)
	c.Store = getEnv("STORE", c.Store)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.Postgres.Host = getEnv("DB_HOST", c.Postgres.Host)
	c.Postgres.Port = getEnv("DB_PORT", c.Postgres.Port)
	c.Postgres.User = getEnv("DB_USER", c.Postgres.User)
	c.Postgres.Password = getEnv("DB_PASSWORD", c.Postgres.Password)
	c.Postgres.DBName = getEnv("DB_NAME", c.Postgres.DBName)
	c.Postgres.SSLMode = getEnv("DB_SSLMODE", c.Postgres.SSLMode)

	c.Firestore.ProjectID = getEnv("FIREBASE_PROJECT_ID", c.Firestore.ProjectID)
	c.Firestore.ServiceAccountKeyPath = getEnv("FIREBASE_SERVICE_ACCOUNT_KEY_PATH", c.Firestore.ServiceAccountKeyPath)

	c.Redis.Addr = getEnv("REDIS_URL", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.Channel = getEnv("REDIS_CHANNEL", c.Redis.Channel)

	var err error
	if c.Redis.DB, err = getEnvInt("REDIS_DB", c.Redis.DB); err != nil {
		return err
	}
	if c.Retry.MaxAttempts, err = getEnvInt("TX_MAX_ATTEMPTS", c.Retry.MaxAttempts); err != nil {
		return err
	}
	if c.Retry.BaseDelay, err = getEnvDuration("TX_BASE_DELAY", c.Retry.BaseDelay); err != nil {
		return err
	}
	if c.Trigger.SweepInterval, err = getEnvDuration("SWEEP_INTERVAL", c.Trigger.SweepInterval); err != nil {
		return err
	}
	return nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory, StorePostgres:
	case StoreFirestore:
		if c.Firestore.ProjectID == "" && c.Firestore.ServiceAccountKeyPath == "" {
			return fmt.Errorf("firestore store needs FIREBASE_PROJECT_ID or FIREBASE_SERVICE_ACCOUNT_KEY_PATH")
		}
	default:
		return fmt.Errorf("unknown store %q: must be one of %s, %s, %s", c.Store, StoreMemory, StorePostgres, StoreFirestore)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1")
	}
	if c.Trigger.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}
	return nil
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
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
