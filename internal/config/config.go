package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Service holds process-level settings shared by all binaries.
type Service struct {
	Environment string `envconfig:"SERVICE_ENVIRONMENT" required:"true"`
	APIPort     string `envconfig:"SERVICE_API_PORT" default:"8080"`
	Host        string `envconfig:"SERVICE_HOST" default:"localhost:8080"`
}

// SQS configures the ingestion queue.
type SQS struct {
	Endpoint string `envconfig:"SQS_ENDPOINT"`
	QueueURL string `envconfig:"SQS_QUEUE_URL" required:"true"`
	Region   string `envconfig:"SQS_REGION" required:"true"`
}

// ClickHouse configures the raw event log and rollup store.
type ClickHouse struct {
	Host            string `envconfig:"CLICKHOUSE_HOST" required:"true"`
	Port            string `envconfig:"CLICKHOUSE_PORT" required:"true"`
	Database        string `envconfig:"CLICKHOUSE_DB" required:"true"`
	User            string `envconfig:"CLICKHOUSE_USER" default:""`
	Password        string `envconfig:"CLICKHOUSE_PASSWORD" default:""`
	UseTLS          bool   `envconfig:"CLICKHOUSE_USE_TLS" default:"false"`
	MaxOpenConns    int    `envconfig:"CLICKHOUSE_MAX_OPEN_CONNS" default:"5"`
	MaxIdleConns    int    `envconfig:"CLICKHOUSE_MAX_IDLE_CONNS" default:"2"`
	ConnMaxLifetime int    `envconfig:"CLICKHOUSE_CONN_MAX_LIFETIME_SEC" default:"3600"`
}

// Postgres configures the derived-entity store.
type Postgres struct {
	DSN string `envconfig:"POSTGRES_DSN" required:"true"`
}

// Redis configures dedup reservations and identity-resolution locks.
type Redis struct {
	Addr        string `envconfig:"REDIS_ADDR" required:"true"`
	Password    string `envconfig:"REDIS_PASSWORD" default:""`
	DB          int    `envconfig:"REDIS_DB" default:"0"`
	DedupTTLSec int    `envconfig:"REDIS_DEDUP_TTL_SEC" default:"604800"`
	LockTTLSec  int    `envconfig:"REDIS_LOCK_TTL_SEC" default:"10"`
}

// Consumer configures the SQS → event log pipeline.
type Consumer struct {
	BatchSizeMax       int    `envconfig:"CONSUMER_BATCH_SIZE_MAX" default:"2000"`
	BatchTimeoutSec    int    `envconfig:"CONSUMER_BATCH_TIMEOUT_SEC" default:"10"`
	ReceiveMaxMessages int32  `envconfig:"CONSUMER_RECEIVE_MAX_MESSAGES" default:"10"`
	ReceiveWaitTimeSec int32  `envconfig:"CONSUMER_RECEIVE_WAIT_TIME_SEC" default:"20"`
	ReceiveBufferSize  int    `envconfig:"CONSUMER_RECEIVE_BUFFER_SIZE" default:"100"`
	HealthCheckPort    string `envconfig:"CONSUMER_HEALTH_CHECK_PORT" default:"8081"`
}

// Attribution holds the engine defaults. Per-campaign settings from the
// campaign-management collaborator override the window and model.
type Attribution struct {
	DefaultModel       string  `envconfig:"ATTRIBUTION_DEFAULT_MODEL" default:"last_touch"`
	DefaultWindowDays  int     `envconfig:"ATTRIBUTION_WINDOW_DAYS" default:"30"`
	DecayHalfLifeDays  float64 `envconfig:"ATTRIBUTION_DECAY_HALF_LIFE_DAYS" default:"7"`
	BootstrapResamples int     `envconfig:"ATTRIBUTION_BOOTSTRAP_RESAMPLES" default:"1000"`
	ScoreThreshold     float64 `envconfig:"IDENTITY_SCORE_THRESHOLD" default:"50"`
}

// Jobs configures the scheduled rollup and retention runs.
type Jobs struct {
	HourlyRollupIntervalMin int `envconfig:"JOBS_HOURLY_ROLLUP_INTERVAL_MIN" default:"60"`
	DailyRollupIntervalMin  int `envconfig:"JOBS_DAILY_ROLLUP_INTERVAL_MIN" default:"1440"`
	RetentionIntervalMin    int `envconfig:"JOBS_RETENTION_INTERVAL_MIN" default:"1440"`
}

// Config is the full environment-driven configuration.
type Config struct {
	Service     Service
	SQS         SQS
	ClickHouse  ClickHouse
	Postgres    Postgres
	Redis       Redis
	Consumer    Consumer
	Attribution Attribution
	Jobs        Jobs
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	return &cfg, nil
}

// DedupTTL returns the dedup reservation lifetime.
func (r Redis) DedupTTL() time.Duration {
	return time.Duration(r.DedupTTLSec) * time.Second
}

// LockTTL returns the identity-resolution lock lifetime.
func (r Redis) LockTTL() time.Duration {
	return time.Duration(r.LockTTLSec) * time.Second
}

// HalfLife returns the time-decay half-life as a duration.
func (a Attribution) HalfLife() time.Duration {
	return time.Duration(a.DecayHalfLifeDays * 24 * float64(time.Hour))
}
