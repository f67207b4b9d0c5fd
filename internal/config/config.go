// Package config loads server settings from an optional TOML file and
// SDATA_* environment variables. Environment values win over the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// MemoryDatabaseURL selects the in-process store instead of PostgreSQL.
const MemoryDatabaseURL = "memory://"

type Config struct {
	DatabaseURL string // SDATA_DATABASE_URL (required; "memory://" for the in-process store)
	HTTPAddr    string // SDATA_HTTP_ADDR (default ":8080")
	NATSURL     string // SDATA_NATS_URL (optional, empty = no events)
	AuthToken   string // SDATA_AUTH_TOKEN (optional, empty = auth disabled)
	LogLevel    string // SDATA_LOG_LEVEL (default "info")

	MaxRecordSize int // SDATA_MAX_RECORD_SIZE (default 102400 bytes)
	VerifyWorkers int // SDATA_VERIFY_WORKERS (default 4)

	// Archive settings
	ArchiveS3Bucket   string // SDATA_ARCHIVE_S3_BUCKET (enables S3 when set)
	ArchiveS3Endpoint string // SDATA_ARCHIVE_S3_ENDPOINT (custom endpoint for MinIO)
	ArchiveS3Region   string // SDATA_ARCHIVE_S3_REGION (default "us-east-1")
	ArchivePrefix     string // SDATA_ARCHIVE_PREFIX (default "sdata/archive")
	ArchiveQueueSize  int    // SDATA_ARCHIVE_QUEUE_SIZE (default 1024)

	// Expiry reaper
	ReaperInterval time.Duration // SDATA_REAPER_INTERVAL (default 1m; 0 = disabled)
	ReaperBatch    int           // SDATA_REAPER_BATCH (default 100)
}

// fileConfig mirrors Config in the TOML file. Durations are strings.
type fileConfig struct {
	DatabaseURL       string `toml:"database_url"`
	HTTPAddr          string `toml:"http_addr"`
	NATSURL           string `toml:"nats_url"`
	AuthToken         string `toml:"auth_token"`
	LogLevel          string `toml:"log_level"`
	MaxRecordSize     int    `toml:"max_record_size"`
	VerifyWorkers     int    `toml:"verify_workers"`
	ArchiveS3Bucket   string `toml:"archive_s3_bucket"`
	ArchiveS3Endpoint string `toml:"archive_s3_endpoint"`
	ArchiveS3Region   string `toml:"archive_s3_region"`
	ArchivePrefix     string `toml:"archive_prefix"`
	ArchiveQueueSize  int    `toml:"archive_queue_size"`
	ReaperInterval    string `toml:"reaper_interval"`
	ReaperBatch       int    `toml:"reaper_batch"`
}

func defaults() *Config {
	return &Config{
		HTTPAddr:         ":8080",
		LogLevel:         "info",
		MaxRecordSize:    100 * 1024,
		VerifyWorkers:    4,
		ArchiveS3Region:  "us-east-1",
		ArchivePrefix:    "sdata/archive",
		ArchiveQueueSize: 1024,
		ReaperInterval:   time.Minute,
		ReaperBatch:      100,
	}
}

// LoadDotEnv loads KEY=value pairs from the given files (".env" if none)
// into the environment without overriding variables that are already set.
// Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load builds the configuration: defaults, then the TOML file named by
// SDATA_CONFIG_FILE (if set), then environment variables.
func Load() (*Config, error) {
	c := defaults()

	if path := os.Getenv("SDATA_CONFIG_FILE"); path != "" {
		if err := c.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}

	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("SDATA_DATABASE_URL is required")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return nil, err
	}
	if c.MaxRecordSize <= 0 {
		return nil, fmt.Errorf("max record size must be positive, got %d", c.MaxRecordSize)
	}
	return c, nil
}

// UsesMemoryStore reports whether the in-process store is selected.
func (c *Config) UsesMemoryStore() bool {
	return c.DatabaseURL == MemoryDatabaseURL
}

// Level returns the parsed log level.
func (c *Config) Level() slog.Level {
	l, _ := ParseLevel(c.LogLevel)
	return l
}

func (c *Config) applyFile(path string) error {
	var f fileConfig
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	setString(&c.DatabaseURL, f.DatabaseURL)
	setString(&c.HTTPAddr, f.HTTPAddr)
	setString(&c.NATSURL, f.NATSURL)
	setString(&c.AuthToken, f.AuthToken)
	setString(&c.LogLevel, f.LogLevel)
	setInt(&c.MaxRecordSize, f.MaxRecordSize)
	setInt(&c.VerifyWorkers, f.VerifyWorkers)
	setString(&c.ArchiveS3Bucket, f.ArchiveS3Bucket)
	setString(&c.ArchiveS3Endpoint, f.ArchiveS3Endpoint)
	setString(&c.ArchiveS3Region, f.ArchiveS3Region)
	setString(&c.ArchivePrefix, f.ArchivePrefix)
	setInt(&c.ArchiveQueueSize, f.ArchiveQueueSize)
	setInt(&c.ReaperBatch, f.ReaperBatch)
	if f.ReaperInterval != "" {
		d, err := time.ParseDuration(f.ReaperInterval)
		if err != nil {
			return fmt.Errorf("%s: reaper_interval: %w", path, err)
		}
		c.ReaperInterval = d
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.DatabaseURL = envOrDefault("SDATA_DATABASE_URL", c.DatabaseURL)
	c.HTTPAddr = envOrDefault("SDATA_HTTP_ADDR", c.HTTPAddr)
	c.NATSURL = envOrDefault("SDATA_NATS_URL", c.NATSURL)
	c.AuthToken = envOrDefault("SDATA_AUTH_TOKEN", c.AuthToken)
	c.LogLevel = envOrDefault("SDATA_LOG_LEVEL", c.LogLevel)
	c.ArchiveS3Bucket = envOrDefault("SDATA_ARCHIVE_S3_BUCKET", c.ArchiveS3Bucket)
	c.ArchiveS3Endpoint = envOrDefault("SDATA_ARCHIVE_S3_ENDPOINT", c.ArchiveS3Endpoint)
	c.ArchiveS3Region = envOrDefault("SDATA_ARCHIVE_S3_REGION", c.ArchiveS3Region)
	c.ArchivePrefix = envOrDefault("SDATA_ARCHIVE_PREFIX", c.ArchivePrefix)

	for _, iv := range []struct {
		key string
		dst *int
	}{
		{"SDATA_MAX_RECORD_SIZE", &c.MaxRecordSize},
		{"SDATA_VERIFY_WORKERS", &c.VerifyWorkers},
		{"SDATA_ARCHIVE_QUEUE_SIZE", &c.ArchiveQueueSize},
		{"SDATA_REAPER_BATCH", &c.ReaperBatch},
	} {
		if v := os.Getenv(iv.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", iv.key, err)
			}
			*iv.dst = n
		}
	}

	if v := os.Getenv("SDATA_REAPER_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SDATA_REAPER_INTERVAL: %w", err)
		}
		c.ReaperInterval = d
	}
	return nil
}

// ParseLevel accepts debug, info, warn and error (any case).
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level %q: %w", s, err)
	}
	return l, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
