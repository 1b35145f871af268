// Package config loads catalogsync settings from environment variables.
// Defaults live on the struct tags; Load validates everything up front so a
// misconfigured process refuses to start.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Feed     FeedConfig
	Ingest   IngestConfig
	Stream   StreamConfig
	Relay    RelayConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" default:"8080"`

	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`
	IdleTimeout  time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown, including in-flight ingestion runs.
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for ordinary API requests.
	// Ingestion endpoints are exempt and use Feed.DownloadTimeout instead.
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string.
	// Supports both DATABASE_URL and DB_URL.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"20"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"4"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// AutoMigrate applies the embedded schema on startup.
	AutoMigrate bool `env:"DB_AUTO_MIGRATE" default:"false"`
}

// FeedConfig holds supplier feed transport settings.
type FeedConfig struct {
	// DownloadTimeout bounds a single feed fetch during ingestion (default: 60s)
	DownloadTimeout time.Duration `env:"FEED_DOWNLOAD_TIMEOUT" default:"60s"`

	// PreviewTimeout bounds a preview fetch (default: 30s)
	PreviewTimeout time.Duration `env:"FEED_PREVIEW_TIMEOUT" default:"30s"`

	// MaxBytes caps the size of a downloaded feed body (default: 200MB)
	MaxBytes int64 `env:"FEED_MAX_BYTES" default:"209715200"`

	UserAgent string `env:"FEED_USER_AGENT" default:"genesys/2.0"`

	// RatePerSecond limits fetches per remote host; 0 disables limiting.
	RatePerSecond float64 `env:"FEED_RATE_PER_SECOND" default:"2"`
	RateBurst     int     `env:"FEED_RATE_BURST" default:"4"`

	// FTPDeleteAfterFetch removes the fetched file from the FTP server.
	FTPDeleteAfterFetch bool `env:"FEED_FTP_DELETE_AFTER_FETCH" default:"false"`
}

// IngestConfig holds ingestion run settings.
type IngestConfig struct {
	// MaxConcurrent is the number of runs allowed at once (default: 2)
	MaxConcurrent int `env:"INGEST_MAX_CONCURRENT" default:"2"`

	// MaxWait is how long a run waits for a free slot (default: 30s)
	MaxWait time.Duration `env:"INGEST_MAX_WAIT" default:"30s"`

	// RunTimeout bounds row processing after the download (default: 30m)
	RunTimeout time.Duration `env:"INGEST_RUN_TIMEOUT" default:"30m"`

	// AllowEmptyFeed lets a zero-row feed proceed to the end-of-life pass.
	AllowEmptyFeed bool `env:"INGEST_ALLOW_EMPTY_FEED" default:"false"`

	// StaleRunAfter is the age after which a running run is considered abandoned (default: 2h)
	StaleRunAfter time.Duration `env:"INGEST_STALE_RUN_AFTER" default:"2h"`

	// ReaperInterval is how often abandoned runs are finalized (default: 10m)
	ReaperInterval time.Duration `env:"INGEST_REAPER_INTERVAL" default:"10m"`
}

// StreamConfig holds catalog update stream settings.
type StreamConfig struct {
	DefaultLimit int `env:"STREAM_DEFAULT_LIMIT" default:"50"`
	MaxLimit     int `env:"STREAM_MAX_LIMIT" default:"500"`
}

// RelayConfig holds the optional Kafka relay settings.
// The relay is disabled when Brokers is empty.
type RelayConfig struct {
	Brokers     []string      `env:"KAFKA_BROKERS"`
	Topic       string        `env:"KAFKA_TOPIC" default:"catalog.updates"`
	Interval    time.Duration `env:"RELAY_INTERVAL" default:"5s"`
	BatchSize   int           `env:"RELAY_BATCH_SIZE" default:"100"`
	MinPriority int           `env:"RELAY_MIN_PRIORITY" default:"0"`
}

// Enabled reports whether the relay should run.
func (c *RelayConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// RateLimitConfig holds per-IP request limits.
type RateLimitConfig struct {
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// IngestLimit is requests per minute for ingestion and preview endpoints (default: 10)
	IngestLimit int `env:"RATE_LIMIT_INGEST" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `env:"METRICS_ENABLED" default:"true"`
	Path    string `env:"METRICS_PATH" default:"/metrics"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
