// Package config loads the engine configuration from YAML with
// environment-variable overrides. A missing file yields the defaults, so
// tooling works out of the box against ./data.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	DataDir string        `yaml:"data_dir"`
	Author  string        `yaml:"author"`
	Cache   CacheConfig   `yaml:"cache"`
	Lock    LockConfig    `yaml:"lock"`
	History HistoryConfig `yaml:"history"`
	Archive ArchiveConfig `yaml:"archive"`
	Logging LoggingConfig `yaml:"logging"`
}

// CacheConfig bounds the in-memory repository cache.
type CacheConfig struct {
	Capacity int `yaml:"capacity"`
}

// LockConfig tunes the exclusive repository lock.
type LockConfig struct {
	StaleAfter     time.Duration `yaml:"stale_after"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
}

// HistoryConfig selects the history store backend.
type HistoryConfig struct {
	// Driver is memory, sqlite, or postgres.
	Driver string `yaml:"driver"`
	// Path is the SQLite database file; defaults to history.db under the
	// data directory.
	Path string `yaml:"path"`
	// DSN is the Postgres connection string.
	DSN string `yaml:"dsn"`
}

// ArchiveConfig selects the snapshot archive backend.
type ArchiveConfig struct {
	// Driver is fs, s3, or memory.
	Driver string `yaml:"driver"`
	// Root is the filesystem archive directory; defaults to archive under
	// the data directory.
	Root string          `yaml:"root"`
	S3   ArchiveS3Config `yaml:"s3"`
}

// ArchiveS3Config holds S3 or MinIO settings for the archive.
type ArchiveS3Config struct {
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`
	// Format is json or console.
	Format string `yaml:"format"`
	// Output is stdout or stderr.
	Output string `yaml:"output"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		DataDir: "./data",
		Cache:   CacheConfig{Capacity: 32},
		Lock: LockConfig{
			StaleAfter:     10 * time.Minute,
			PollInterval:   50 * time.Millisecond,
			AcquireTimeout: 5 * time.Second,
		},
		History: HistoryConfig{Driver: "sqlite"},
		Archive: ArchiveConfig{Driver: "fs"},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

// Load reads the YAML file at path, fills defaults, and applies environment
// overrides. A missing file is not an error; an empty path skips the file
// entirely.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Environment overrides. Each variable maps onto one field.
func applyEnv(cfg *Config) {
	setString := func(key string, target *string) {
		if v := os.Getenv(key); v != "" {
			*target = v
		}
	}
	setString("ARXCORE_DATA_DIR", &cfg.DataDir)
	setString("ARXCORE_AUTHOR", &cfg.Author)
	setString("ARXCORE_HISTORY_DRIVER", &cfg.History.Driver)
	setString("ARXCORE_HISTORY_PATH", &cfg.History.Path)
	setString("ARXCORE_HISTORY_DSN", &cfg.History.DSN)
	setString("ARXCORE_ARCHIVE_DRIVER", &cfg.Archive.Driver)
	setString("ARXCORE_ARCHIVE_ROOT", &cfg.Archive.Root)
	setString("ARXCORE_ARCHIVE_S3_REGION", &cfg.Archive.S3.Region)
	setString("ARXCORE_ARCHIVE_S3_BUCKET", &cfg.Archive.S3.Bucket)
	setString("ARXCORE_ARCHIVE_S3_ENDPOINT", &cfg.Archive.S3.Endpoint)
	setString("ARXCORE_LOG_LEVEL", &cfg.Logging.Level)
	setString("ARXCORE_LOG_FORMAT", &cfg.Logging.Format)
	if v := os.Getenv("ARXCORE_ARCHIVE_S3_PATH_STYLE"); v != "" {
		cfg.Archive.S3.PathStyle = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("ARXCORE_CACHE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.Capacity = n
		}
	}
	if v := os.Getenv("ARXCORE_LOCK_STALE_AFTER"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Lock.StaleAfter = d
		}
	}
	if v := os.Getenv("ARXCORE_LOCK_ACQUIRE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Lock.AcquireTimeout = d
		}
	}
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir required")
	}
	switch c.History.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown history driver %q", c.History.Driver)
	}
	switch c.Archive.Driver {
	case "fs", "s3", "memory":
	default:
		return fmt.Errorf("config: unknown archive driver %q", c.Archive.Driver)
	}
	if c.Archive.Driver == "s3" && c.Archive.S3.Bucket == "" {
		return fmt.Errorf("config: archive s3 driver requires a bucket")
	}
	if c.Cache.Capacity < 0 {
		return fmt.Errorf("config: cache capacity must not be negative")
	}
	return nil
}

// HistoryPath returns the SQLite history file, defaulting beneath the data
// directory.
func (c Config) HistoryPath() string {
	if c.History.Path != "" {
		return c.History.Path
	}
	return filepath.Join(c.DataDir, "history.db")
}

// ArchiveRoot returns the filesystem archive directory, defaulting beneath
// the data directory.
func (c Config) ArchiveRoot() string {
	if c.Archive.Root != "" {
		return c.Archive.Root
	}
	return filepath.Join(c.DataDir, "archive")
}
