// Package config loads process settings from the environment and optional
// .env files.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"

	domain "github.com/restoreworks/crm-migration/internal/domain/migration"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	LockLocal    = "local"
	LockPostgres = "postgres"
	LockRedis    = "redis"
)

// FeedConfig points an HTTP feed adapter at one CRM export.
type FeedConfig struct {
	URL   string `env:"FEED_URL"`
	Token string `env:"API_TOKEN"`
}

type RetryConfig struct {
	MaxAttempts int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"5"`
	BaseDelay   time.Duration `env:"RETRY_BASE_DELAY" envDefault:"1s"`
	MaxDelay    time.Duration `env:"RETRY_MAX_DELAY" envDefault:"1m"`
	MaxJitter   time.Duration `env:"RETRY_MAX_JITTER" envDefault:"250ms"`
}

type Config struct {
	DatabaseURL string `env:"DATABASE_URL"`
	DBDriver    string `env:"DB_DRIVER" envDefault:"postgres"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"crm-migration.db"`
	DBMaxConns  int    `env:"DB_MAX_OPEN_CONNS" envDefault:"20"`

	Port     int    `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"LOG_JSON" envDefault:"true"`

	Workers      int           `env:"MIGRATION_WORKERS" envDefault:"4"`
	PollInterval time.Duration `env:"MIGRATION_POLL_INTERVAL" envDefault:"2s"`
	LockBackend  string        `env:"LOCK_BACKEND" envDefault:"local"`
	LockTTL      time.Duration `env:"LOCK_TTL" envDefault:"30s"`
	RedisURL     string        `env:"REDIS_URL"`

	Retry             RetryConfig
	ConflictRetries   int `env:"RECORD_CONFLICT_RETRIES" envDefault:"3"`
	MaxFetchFailures  int `env:"MAX_FETCH_FAILURES" envDefault:"10"`
	RollbackBatchSize int `env:"ROLLBACK_BATCH_SIZE" envDefault:"500"`

	ImportBaseDir string        `env:"IMPORT_BASE_DIR" envDefault:"."`
	RateLimitRPS  float64       `env:"SOURCE_RATE_LIMIT_RPS" envDefault:"5"`
	RateBurst     int           `env:"SOURCE_RATE_BURST" envDefault:"5"`
	SourceTimeout time.Duration `env:"SOURCE_TIMEOUT" envDefault:"30s"`
	MetricsPath   string        `env:"METRICS_PATH" envDefault:"/metrics"`
	PhoneRegion   string        `env:"DEFAULT_PHONE_REGION" envDefault:"US"`

	AccuLynx  FeedConfig `envPrefix:"ACCULYNX_"`
	JobNimbus FeedConfig `envPrefix:"JOBNIMBUS_"`
	Roofr     FeedConfig `envPrefix:"ROOFR_"`
	Hover     FeedConfig `envPrefix:"HOVER_"`
	Other     FeedConfig `envPrefix:"OTHER_"`
}

// Load reads the .env files that exist, then parses the environment.
// Variables already set in the environment win over file values.
func Load(envFiles ...string) (*Config, error) {
	existing := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) > 0 {
		if err := godotenv.Load(existing...); err != nil {
			return nil, errors.Wrap(err, "load env files")
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "parse environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return errors.New("DATABASE_URL is required for the postgres driver")
		}
	case DriverSQLite:
		if c.LockBackend == LockPostgres {
			return errors.New("LOCK_BACKEND=postgres needs DB_DRIVER=postgres")
		}
	default:
		return errors.Newf("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver)
	}

	switch c.LockBackend {
	case LockLocal, LockPostgres:
	case LockRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return errors.New("REDIS_URL is required when LOCK_BACKEND is redis")
		}
	default:
		return errors.Newf("LOCK_BACKEND must be local, postgres or redis, got %q", c.LockBackend)
	}

	if c.Workers <= 0 {
		return errors.Newf("MIGRATION_WORKERS must be positive, got %d", c.Workers)
	}
	if c.RateLimitRPS <= 0 {
		return errors.Newf("SOURCE_RATE_LIMIT_RPS must be positive, got %v", c.RateLimitRPS)
	}
	if !strings.HasPrefix(c.MetricsPath, "/") {
		return errors.Newf("METRICS_PATH must start with /, got %q", c.MetricsPath)
	}
	return nil
}

// Feeds returns the HTTP feed settings of every API source that has a feed
// URL configured.
func (c *Config) Feeds() map[domain.Source]FeedConfig {
	all := map[domain.Source]FeedConfig{
		domain.SourceAccuLynx:  c.AccuLynx,
		domain.SourceJobNimbus: c.JobNimbus,
		domain.SourceRoofr:     c.Roofr,
		domain.SourceHover:     c.Hover,
		domain.SourceOther:     c.Other,
	}
	out := make(map[domain.Source]FeedConfig, len(all))
	for src, feed := range all {
		if strings.TrimSpace(feed.URL) != "" {
			out[src] = feed
		}
	}
	return out
}
