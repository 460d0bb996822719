package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Port     string
	Env      string
	LogLevel string

	Store       string
	DatabaseURL string

	JWTSecret string
	JWTTTL    time.Duration

	RedisURL        string
	RateLimitMax    int
	RateLimitWindow time.Duration

	WebhookURL     string
	WebhookSecret  string
	WorkerInterval time.Duration

	LockTimeout   time.Duration
	TxMaxAttempts int
}

// LoadConfig reads an optional .env file, then the process environment.
// The bool reports whether a .env file was found.
func LoadConfig() (*Config, bool, error) {
	// A missing .env is normal in production.
	dotenv := godotenv.Load() == nil

	cfg, err := FromEnv()
	return cfg, dotenv, err
}

// FromEnv builds a Config from the environment alone.
func FromEnv() (*Config, error) {
	var errs []error

	cfg := &Config{
		Port:           getEnv("PORT", "3000"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Store:          getEnv("STORE", StorePostgres),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		RedisURL:       getEnv("REDIS_URL", ""),
		WebhookURL:     getEnv("WEBHOOK_URL", ""),
		WebhookSecret:  getEnv("WEBHOOK_SECRET", ""),
		JWTTTL:         getDuration("JWT_TTL", 30*time.Minute, &errs),
		RateLimitMax:   getInt("RATE_LIMIT_MAX", 100, &errs),
		TxMaxAttempts:  getInt("TX_MAX_ATTEMPTS", 3, &errs),
		LockTimeout:    getDuration("LOCK_TIMEOUT", 5*time.Second, &errs),
		WorkerInterval: getDuration("WORKER_INTERVAL", 5*time.Second, &errs),
	}
	cfg.RateLimitWindow = getDuration("RATE_LIMIT_WINDOW", time.Minute, &errs)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE=postgres")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}

	if c.IsProduction() && c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required in production")
	}
	if c.TxMaxAttempts < 1 {
		return errors.New("TX_MAX_ATTEMPTS must be at least 1")
	}
	if c.LockTimeout <= 0 {
		return errors.New("LOCK_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper to get env with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getInt(key string, fallback int, errs *[]error) int {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}
