// Package config loads the timeseek configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const envPrefix = "TIMESEEK_"

type StorageConfig struct {
	Dir             string `yaml:"dir"`
	SegmentExt      string `yaml:"segment_ext"`
	MaxSegmentSize  int64  `yaml:"max_segment_size"`
	MSyncEveryWrite bool   `yaml:"msync_every_write"`
	BytesPerSync    int64  `yaml:"bytes_per_sync"` // 0 disables
}

type CatalogConfig struct {
	// defaults to <storage.dir>/catalog.db
	Path string `yaml:"path"`
}

type FinderConfig struct {
	DefaultCursor string `yaml:"default_cursor"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Config is the complete process configuration.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Catalog CatalogConfig `yaml:"catalog"`
	Finder  FinderConfig  `yaml:"finder"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Dir:            "timeseek-data",
			SegmentExt:     ".seg",
			MaxSegmentSize: 16 << 20,
		},
		Finder: FinderConfig{DefaultCursor: "default"},
		Log:    LogConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{
			Addr: ":9100",
		},
	}
}

// Load reads the YAML file at path over the defaults, applies TIMESEEK_*
// environment overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv() {
	overrideEnvString(&cfg.Storage.Dir, "STORAGE_DIR")
	overrideEnvInt64(&cfg.Storage.MaxSegmentSize, "STORAGE_MAX_SEGMENT_SIZE")
	overrideEnvInt64(&cfg.Storage.BytesPerSync, "STORAGE_BYTES_PER_SYNC")
	overrideEnvBool(&cfg.Storage.MSyncEveryWrite, "STORAGE_MSYNC_EVERY_WRITE")
	overrideEnvString(&cfg.Catalog.Path, "CATALOG_PATH")
	overrideEnvString(&cfg.Log.Level, "LOG_LEVEL")
	overrideEnvString(&cfg.Log.Format, "LOG_FORMAT")
	overrideEnvBool(&cfg.Metrics.Enabled, "METRICS_ENABLED")
	overrideEnvString(&cfg.Metrics.Addr, "METRICS_ADDR")
}

// Normalize fills derived values.
func (cfg *Config) Normalize() {
	if cfg.Storage.SegmentExt == "" {
		cfg.Storage.SegmentExt = ".seg"
	}
	if !strings.HasPrefix(cfg.Storage.SegmentExt, ".") {
		cfg.Storage.SegmentExt = "." + cfg.Storage.SegmentExt
	}
	if cfg.Catalog.Path == "" && cfg.Storage.Dir != "" {
		cfg.Catalog.Path = filepath.Join(cfg.Storage.Dir, "catalog.db")
	}
	if cfg.Finder.DefaultCursor == "" {
		cfg.Finder.DefaultCursor = "default"
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)
}

// Validate reports every invalid setting.
func (cfg *Config) Validate() error {
	var errs []error
	if cfg.Storage.Dir == "" {
		errs = append(errs, errors.New("storage.dir is required"))
	}
	if cfg.Storage.MaxSegmentSize < 4096 {
		errs = append(errs, fmt.Errorf("storage.max_segment_size %d is below 4096", cfg.Storage.MaxSegmentSize))
	}
	if cfg.Storage.BytesPerSync < 0 {
		errs = append(errs, fmt.Errorf("storage.bytes_per_sync %d is negative", cfg.Storage.BytesPerSync))
	}
	if _, err := ParseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q: want text or json", cfg.Log.Format))
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		errs = append(errs, errors.New("metrics.addr is required when metrics are enabled"))
	}
	return errors.Join(errs...)
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log.level %q: want debug, info, warn or error", level)
	}
}

// NewLogger builds a logger writing to w.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := ParseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func overrideEnvString(target *string, key string) {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		*target = v
	}
}

func overrideEnvInt64(target *int64, key string) {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*target = n
		}
	}
}

func overrideEnvBool(target *bool, key string) {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}
