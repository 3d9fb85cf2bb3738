package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/NurzhauganovA/galmart/pkg/config"
)

// Ledger locking disciplines. Exactly one is active per deployment.
const (
	LockingPessimistic = "pessimistic"
	LockingOptimistic  = "optimistic"
)

// Config holds all configuration for the reservation service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"HTTP_PORT" envDefault:"8000"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"galmart"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"galmart_secret"`
	PostgresDB   string `env:"POSTGRES_DB" envDefault:"galmart_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	EventTopic   string   `env:"RESERVATION_EVENT_TOPIC" envDefault:"reservation_events"`

	// Redis
	RedisHost string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPass string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// Reservation state machine
	TTLMinutes        int    `env:"TTL_MINUTES" envDefault:"15"`
	MaxActivePerUser  int    `env:"MAX_ACTIVE_PER_USER" envDefault:"5"`
	LedgerLocking     string `env:"LEDGER_LOCKING" envDefault:"pessimistic"`
	LedgerRetryMax    int    `env:"LEDGER_RETRY_MAX" envDefault:"5"`
	IdempotencyTTLHrs int    `env:"IDEMPOTENCY_TTL_HOURS" envDefault:"24"`

	// Expiry reaper
	ReapIntervalSeconds int `env:"REAP_INTERVAL_SECONDS" envDefault:"60"`
	ReapBatchSize       int `env:"REAP_BATCH_SIZE" envDefault:"500"`
	ReapBudgetSeconds   int `env:"REAP_BUDGET_SECONDS" envDefault:"45"`

	// Outbox publisher
	PublishBatchSize      int `env:"PUBLISH_BATCH_SIZE" envDefault:"200"`
	PublishPollIntervalMs int `env:"PUBLISH_POLL_INTERVAL_MS" envDefault:"500"`
	PublishBackoffBaseMs  int `env:"PUBLISH_BACKOFF_BASE_MS" envDefault:"100"`
	PublishBackoffCapMs   int `env:"PUBLISH_BACKOFF_CAP_MS" envDefault:"30000"`
	PublishParallelism    int `env:"PUBLISH_PARALLELISM" envDefault:"8"`
	OutboxRetentionHours  int `env:"OUTBOX_RETENTION_HOURS" envDefault:"72"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load reservation config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.PostgresHost == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}
	if c.PostgresUser == "" {
		return fmt.Errorf("POSTGRES_USER is required")
	}
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.TTLMinutes <= 0 {
		return fmt.Errorf("TTL_MINUTES must be > 0, got %d", c.TTLMinutes)
	}
	if c.MaxActivePerUser <= 0 {
		return fmt.Errorf("MAX_ACTIVE_PER_USER must be > 0, got %d", c.MaxActivePerUser)
	}
	if c.LedgerLocking != LockingPessimistic && c.LedgerLocking != LockingOptimistic {
		return fmt.Errorf("LEDGER_LOCKING must be %q or %q, got %q", LockingPessimistic, LockingOptimistic, c.LedgerLocking)
	}
	if c.LedgerRetryMax <= 0 {
		return fmt.Errorf("LEDGER_RETRY_MAX must be > 0, got %d", c.LedgerRetryMax)
	}
	if c.ReapIntervalSeconds <= 0 {
		return fmt.Errorf("REAP_INTERVAL_SECONDS must be > 0, got %d", c.ReapIntervalSeconds)
	}
	if c.ReapBatchSize <= 0 {
		return fmt.Errorf("REAP_BATCH_SIZE must be > 0, got %d", c.ReapBatchSize)
	}
	if c.PublishBatchSize <= 0 {
		return fmt.Errorf("PUBLISH_BATCH_SIZE must be > 0, got %d", c.PublishBatchSize)
	}
	if c.PublishParallelism <= 0 {
		return fmt.Errorf("PUBLISH_PARALLELISM must be > 0, got %d", c.PublishParallelism)
	}
	if c.PublishBackoffBaseMs <= 0 || c.PublishBackoffCapMs < c.PublishBackoffBaseMs {
		return fmt.Errorf("invalid publish backoff: base=%dms cap=%dms", c.PublishBackoffBaseMs, c.PublishBackoffCapMs)
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	return nil
}

// PostgresDSN returns the PostgreSQL connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPass, c.PostgresHost, c.PostgresPort, c.PostgresDB, c.PostgresSSL,
	)
}

// ReservationTTL returns the hold duration.
func (c *Config) ReservationTTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// ReapInterval returns the reaper cadence.
func (c *Config) ReapInterval() time.Duration {
	return time.Duration(c.ReapIntervalSeconds) * time.Second
}

// ReapBudget returns the per-sweep time budget.
func (c *Config) ReapBudget() time.Duration {
	return time.Duration(c.ReapBudgetSeconds) * time.Second
}

// PublishPollInterval returns the outbox poll cadence.
func (c *Config) PublishPollInterval() time.Duration {
	return time.Duration(c.PublishPollIntervalMs) * time.Millisecond
}

// PublishBackoffBase returns the first retry delay for a failed publish.
func (c *Config) PublishBackoffBase() time.Duration {
	return time.Duration(c.PublishBackoffBaseMs) * time.Millisecond
}

// PublishBackoffCap returns the retry delay ceiling.
func (c *Config) PublishBackoffCap() time.Duration {
	return time.Duration(c.PublishBackoffCapMs) * time.Millisecond
}

// IdempotencyTTL returns the retention window for create idempotency keys.
func (c *Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempotencyTTLHrs) * time.Hour
}

// OutboxRetention returns how long published outbox rows are kept.
func (c *Config) OutboxRetention() time.Duration {
	return time.Duration(c.OutboxRetentionHours) * time.Hour
}
