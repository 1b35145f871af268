package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Load reads configuration from the process environment, applies defaults
// and validates the result.
func Load() (*Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LookupFunc resolves one variable; ok is false when it is unset.
type LookupFunc func(key string) (value string, ok bool)

// LoadFrom is Load with an explicit variable source.
func LoadFrom(lookup LookupFunc) (*Config, error) {
	cfg := &Config{}

	var errs []error
	fill(reflect.ValueOf(cfg).Elem(), lookup, &errs)
	if len(errs) > 0 {
		return nil, fmt.Errorf("config load: %w", errors.Join(errs...))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// fill walks the config groups and sets every field carrying an env tag.
// Problems are collected so one run reports every bad variable.
func fill(v reflect.Value, lookup LookupFunc, errs *[]error) {
	t := v.Type()
	for i := range t.NumField() {
		field, fv := t.Field(i), v.Field(i)
		if !fv.CanSet() {
			continue
		}
		if field.Type.Kind() == reflect.Struct {
			fill(fv, lookup, errs)
			continue
		}

		key := field.Tag.Get("env")
		if key == "" {
			continue
		}
		raw, ok := resolve(lookup, key, field.Tag.Get("envAlt"))
		if !ok {
			if field.Tag.Get("required") == "true" {
				*errs = append(*errs, fmt.Errorf("required environment variable %s is not set", key))
				continue
			}
			raw = field.Tag.Get("default")
		}
		if raw == "" {
			continue
		}
		if err := assign(fv, raw); err != nil {
			*errs = append(*errs, fmt.Errorf("invalid value for %s=%q: %w", key, raw, err))
		}
	}
}

// resolve returns the first non-empty value among key and alt.
func resolve(lookup LookupFunc, key, alt string) (string, bool) {
	for _, k := range []string{key, alt} {
		if k == "" {
			continue
		}
		if v, ok := lookup(k); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

func assign(fv reflect.Value, raw string) error {
	if fv.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		fv.SetInt(int64(d))
		return nil
	}

	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		fv.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		fv.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		fv.SetBool(b)
	case reflect.Slice:
		if fv.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice of %s", fv.Type().Elem().Kind())
		}
		fv.Set(reflect.ValueOf(splitList(raw)))
	default:
		return fmt.Errorf("unsupported field type %s", fv.Kind())
	}
	return nil
}

// splitList splits a comma separated value, dropping blanks.
func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that the configuration is valid.
// All failures are reported together.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.URL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if c.Database.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 {
		errs = append(errs, "DB_MIN_CONNS must be non-negative")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			c.Database.MaxConns, c.Database.MinConns))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	if c.Feed.DownloadTimeout <= 0 {
		errs = append(errs, "FEED_DOWNLOAD_TIMEOUT must be positive")
	}
	if c.Feed.PreviewTimeout <= 0 {
		errs = append(errs, "FEED_PREVIEW_TIMEOUT must be positive")
	}
	if c.Feed.MaxBytes <= 0 {
		errs = append(errs, "FEED_MAX_BYTES must be positive")
	}
	if c.Feed.RatePerSecond < 0 {
		errs = append(errs, "FEED_RATE_PER_SECOND must be non-negative")
	}
	if c.Feed.RatePerSecond > 0 && c.Feed.RateBurst <= 0 {
		errs = append(errs, "FEED_RATE_BURST must be positive when FEED_RATE_PER_SECOND is set")
	}

	if c.Ingest.MaxConcurrent <= 0 {
		errs = append(errs, "INGEST_MAX_CONCURRENT must be positive")
	}
	if c.Ingest.RunTimeout <= 0 {
		errs = append(errs, "INGEST_RUN_TIMEOUT must be positive")
	}
	if c.Ingest.MaxWait <= 0 {
		errs = append(errs, "INGEST_MAX_WAIT must be positive")
	}
	if c.Ingest.StaleRunAfter <= 0 {
		errs = append(errs, "INGEST_STALE_RUN_AFTER must be positive")
	}
	if c.Ingest.ReaperInterval <= 0 {
		errs = append(errs, "INGEST_REAPER_INTERVAL must be positive")
	}

	if c.Stream.DefaultLimit <= 0 {
		errs = append(errs, "STREAM_DEFAULT_LIMIT must be positive")
	}
	if c.Stream.MaxLimit < c.Stream.DefaultLimit {
		errs = append(errs, fmt.Sprintf("STREAM_MAX_LIMIT (%d) must be >= STREAM_DEFAULT_LIMIT (%d)",
			c.Stream.MaxLimit, c.Stream.DefaultLimit))
	}

	if c.Relay.Enabled() {
		if c.Relay.Topic == "" {
			errs = append(errs, "KAFKA_TOPIC is required when KAFKA_BROKERS is set")
		}
		if c.Relay.Interval <= 0 {
			errs = append(errs, "RELAY_INTERVAL must be positive")
		}
		if c.Relay.BatchSize <= 0 {
			errs = append(errs, "RELAY_BATCH_SIZE must be positive")
		}
	}

	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}
	if c.Rate.Enabled && c.Rate.IngestLimit <= 0 {
		errs = append(errs, "RATE_LIMIT_INGEST must be positive when rate limiting is enabled")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Sprintf("METRICS_PATH (%q) must start with /", c.Metrics.Path))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a representation of the config safe for logging.
// The database URL is masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Database: {URL: [MASKED], MaxConns: %d, MinConns: %d, AutoMigrate: %v}, ",
		c.Database.MaxConns, c.Database.MinConns, c.Database.AutoMigrate)
	fmt.Fprintf(&b, "Feed: {DownloadTimeout: %s, MaxBytes: %d, RatePerSecond: %g}, ",
		c.Feed.DownloadTimeout, c.Feed.MaxBytes, c.Feed.RatePerSecond)
	fmt.Fprintf(&b, "Ingest: {MaxConcurrent: %d, AllowEmptyFeed: %v}, ",
		c.Ingest.MaxConcurrent, c.Ingest.AllowEmptyFeed)
	fmt.Fprintf(&b, "Relay: {Enabled: %v, Topic: %q}, ", c.Relay.Enabled(), c.Relay.Topic)
	fmt.Fprintf(&b, "Rate: {Enabled: %v, RequestsPerMinute: %d}, ",
		c.Rate.Enabled, c.Rate.RequestsPerMinute)
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
