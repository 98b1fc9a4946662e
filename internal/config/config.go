// Package config reads the service settings from environment variables.
// Each field names its variable in an env tag and its fallback in a
// default tag; Load fails when any value is malformed or inconsistent.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Catalog  CatalogConfig
	Upload   UploadConfig
	Import   ImportConfig
	Queue    QueueConfig
	Redis    RedisConfig
	Storage  StorageConfig
	Notify   NotifyConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
	Sweeper  SweeperConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `env:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `env:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" default:"60s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
	RequestTimeout  time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds the session store connection settings.
// An empty URL keeps sessions in memory, which is only suitable for a single process.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string for import sessions.
	URL             string        `env:"DATABASE_URL" envAlt:"DB_URL"`
	MaxConns        int           `env:"DB_MAX_CONNS" default:"20"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"4"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// CatalogConfig holds the product catalog database settings.
type CatalogConfig struct {
	Driver      string `env:"CATALOG_DRIVER" default:"sqlite"`
	DSN         string `env:"CATALOG_DSN" default:"catalog.db"`
	AutoMigrate bool   `env:"CATALOG_AUTO_MIGRATE" default:"true"`
}

// UploadConfig holds file upload settings.
type UploadConfig struct {
	MaxFileSize       int64         `env:"UPLOAD_MAX_FILE_SIZE" default:"104857600"`
	MaxConcurrent     int           `env:"UPLOAD_MAX_CONCURRENT" default:"5"`
	MaxWaitTime       time.Duration `env:"UPLOAD_MAX_WAIT_TIME" default:"30s"`
	AllowedExtensions []string      `env:"UPLOAD_ALLOWED_EXTENSIONS" default:"csv,xlsx,xls"`
}

// ImportConfig holds pipeline defaults and thresholds.
type ImportConfig struct {
	DefaultChunkSize      int     `env:"IMPORT_DEFAULT_CHUNK_SIZE" default:"50"`
	DefaultMaxMinutes     int     `env:"IMPORT_DEFAULT_MAX_MINUTES" default:"30"`
	DryRunSampleSize      int     `env:"IMPORT_DRY_RUN_SAMPLE_SIZE" default:"200"`
	AutoAdvanceScore      float64 `env:"IMPORT_AUTO_ADVANCE_SCORE" default:"85"`
	MappingCoverageFloor  float64 `env:"IMPORT_MAPPING_COVERAGE_FLOOR" default:"0.3"`
	GroupingMinConfidence float64 `env:"IMPORT_GROUPING_MIN_CONFIDENCE" default:"0.7"`
	ErrorLogLimit         int     `env:"IMPORT_ERROR_LOG_LIMIT" default:"500"`
}

// QueueConfig holds background task settings.
type QueueConfig struct {
	Backend    string        `env:"QUEUE_BACKEND" default:"memory"`
	Workers    int           `env:"QUEUE_WORKERS" default:"4"`
	MaxRetries int           `env:"QUEUE_MAX_RETRIES" default:"2"`
	RetryDelay time.Duration `env:"QUEUE_RETRY_DELAY" default:"5s"`
	Key        string        `env:"QUEUE_KEY" default:"catalogimport:tasks"`
}

// RedisConfig holds redis connection settings.
type RedisConfig struct {
	// URL is a redis:// connection string. Required for the redis queue backend.
	URL     string `env:"REDIS_URL"`
	Channel string `env:"REDIS_PROGRESS_CHANNEL" default:"catalogimport:progress"`
}

// StorageConfig holds uploaded file artifact settings.
type StorageConfig struct {
	Backend string `env:"STORAGE_BACKEND" default:"local"`
	Dir     string `env:"STORAGE_DIR" default:"./data/uploads"`

	// Bucket is the S3 bucket for artifacts
	Bucket string `env:"STORAGE_S3_BUCKET"`
	Prefix string `env:"STORAGE_S3_PREFIX" default:"imports/"`

	// Endpoint overrides the S3 endpoint (LocalStack, MinIO)
	Endpoint string `env:"STORAGE_S3_ENDPOINT" envAlt:"AWS_S3_ENDPOINT"`
}

// NotifyConfig holds downstream notification settings. Every target is optional.
type NotifyConfig struct {
	// WebhookURL receives lifecycle events as JSON POSTs
	WebhookURL string `env:"NOTIFY_WEBHOOK_URL"`

	// KafkaBrokers is a comma-separated list of brokers for lifecycle events
	KafkaBrokers []string `env:"NOTIFY_KAFKA_BROKERS"`
	KafkaTopic   string   `env:"NOTIFY_KAFKA_TOPIC" default:"catalog.imports"`

	// SearchIndexURL is called after a completed import to refresh the search index
	SearchIndexURL string        `env:"SEARCH_INDEX_URL"`
	Timeout        time.Duration `env:"NOTIFY_TIMEOUT" default:"10s"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	Enabled           bool `env:"RATE_LIMIT_ENABLED" default:"true"`
	RequestsPerMinute int  `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`
	UploadLimit       int  `env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
	RequireAPIKey  bool     `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL" default:"info"`
	Format string `env:"LOG_FORMAT" default:"text"`
}

// SweeperConfig holds maintenance job settings.
type SweeperConfig struct {
	Schedule          string        `env:"SWEEPER_SCHEDULE" default:"0 */5 * * * *"`
	StaleAfter        time.Duration `env:"SWEEPER_STALE_AFTER" default:"2h"`
	ArtifactRetention time.Duration `env:"SWEEPER_ARTIFACT_RETENTION" default:"168h"`
}

// Addr returns the listen address. An empty host binds all interfaces.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
