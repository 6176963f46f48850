package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/toolhire/platform/postcode-service/internal/lookup"
	"github.com/toolhire/platform/postcode-service/internal/query"
	shared "github.com/toolhire/platform/shared/config"
)

type Config struct {
	Env      string
	LogLevel string
	Port     string
	// DatabaseURL points at the lookup audit log. Empty disables it.
	DatabaseURL string
	Redis       RedisConfig
	Lookup      LookupConfig
	Events      EventsConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LookupConfig controls calls to the postcode registry and the result cache.
// A zero CacheTTL disables caching.
type LookupConfig struct {
	BaseURL          string
	Timeout          time.Duration
	CacheTTL         time.Duration
	BatchConcurrency int
}

// EventsConfig controls the lookup event stream and its audit-log consumer.
type EventsConfig struct {
	Enabled   bool
	Group     string
	Consumer  string
	StreamMax int64
}

func Load() (*Config, error) {
	shared.LoadDotEnv()

	cfg := &Config{
		Env:         shared.GetEnv("ENV", "dev"),
		LogLevel:    shared.GetEnv("LOG_LEVEL", "info"),
		Port:        shared.GetEnv("PORT", "8085"),
		DatabaseURL: shared.GetEnv("DATABASE_URL", ""),
		Redis: RedisConfig{
			Addr:     shared.GetEnv("REDIS_ADDR", "localhost:6379"),
			Password: shared.GetEnv("REDIS_PASSWORD", ""),
			DB:       shared.GetEnvInt("REDIS_DB", 0),
		},
		Lookup: LookupConfig{
			BaseURL:          shared.GetURL("POSTCODE_LOOKUP_BASE_URL", lookup.DefaultBaseURL),
			Timeout:          shared.GetEnvDuration("POSTCODE_LOOKUP_TIMEOUT", lookup.DefaultTimeout),
			CacheTTL:         shared.GetEnvDuration("POSTCODE_CACHE_TTL", 10*time.Minute),
			BatchConcurrency: shared.GetEnvInt("POSTCODE_BATCH_CONCURRENCY", query.DefaultBatchConcurrency),
		},
		Events: EventsConfig{
			Enabled:   shared.GetEnvBool("POSTCODE_EVENTS_ENABLED", true),
			Group:     shared.GetEnv("POSTCODE_EVENTS_GROUP", "postcode-service-group"),
			Consumer:  shared.GetEnv("POSTCODE_EVENTS_CONSUMER", "postcode-consumer-1"),
			StreamMax: int64(shared.GetEnvInt("POSTCODE_EVENTS_MAXLEN", 100000)),
		},
	}

	if cfg.Env != "dev" && cfg.Env != "prod" {
		slog.Warn("invalid environment, using prod", "env", cfg.Env)
		cfg.Env = "prod"
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		slog.Warn("invalid log level, using info", "value", cfg.LogLevel)
		cfg.LogLevel = "info"
	}

	if cfg.Lookup.Timeout <= 0 {
		return nil, fmt.Errorf("POSTCODE_LOOKUP_TIMEOUT must be positive, got %s", cfg.Lookup.Timeout)
	}
	if cfg.Lookup.CacheTTL < 0 {
		return nil, fmt.Errorf("POSTCODE_CACHE_TTL must not be negative, got %s", cfg.Lookup.CacheTTL)
	}
	if cfg.Lookup.BatchConcurrency < 1 {
		return nil, fmt.Errorf("POSTCODE_BATCH_CONCURRENCY must be at least 1, got %d", cfg.Lookup.BatchConcurrency)
	}

	return cfg, nil
}

// CacheEnabled reports whether lookup results are cached in Redis.
func (c *Config) CacheEnabled() bool {
	return c.Lookup.CacheTTL > 0
}

// AuditEnabled reports whether lookups are recorded in Postgres.
func (c *Config) AuditEnabled() bool {
	return c.DatabaseURL != ""
}

// RedisRequired reports whether any configured feature needs Redis.
func (c *Config) RedisRequired() bool {
	return c.CacheEnabled() || c.Events.Enabled
}
