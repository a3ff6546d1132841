// Package config loads the crawler configuration from a JSON file,
// WEAVER_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// DefaultConfigFile is read when present and no other file was requested
const DefaultConfigFile = "config.json"

// Store drivers
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all runtime configuration parameters
type Config struct {
	SeedURLs          []string `mapstructure:"seed_urls"`
	MaxDepth          int      `mapstructure:"max_depth"`
	ConcurrentWorkers int      `mapstructure:"concurrent_workers"`
	RequestTimeoutMs  int      `mapstructure:"request_timeout_ms"`
	CrawlTimeoutMs    int      `mapstructure:"crawl_timeout_ms"`
	UserAgent         string   `mapstructure:"user_agent"`
	StoreDriver       string   `mapstructure:"store_driver"`
	DBPath            string   `mapstructure:"db_path"`
	PostgresDSN       string   `mapstructure:"postgres_dsn"`
	MetricsPath       string   `mapstructure:"metrics_path"`
	PromTextfilePath  string   `mapstructure:"prom_textfile_path"`
	LogLevel          string   `mapstructure:"log_level"`
}

// RequestTimeout is the per-fetch timeout
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// CrawlTimeout is the whole-crawl deadline; zero means none
func (c *Config) CrawlTimeout() time.Duration {
	return time.Duration(c.CrawlTimeoutMs) * time.Millisecond
}

// LoadConfig reads and validates configuration. path names an explicit
// config file; when empty, DefaultConfigFile is used if it exists.
func LoadConfig(v *viper.Viper, path string) (*Config, error) {
	applyDefaults(v)

	v.SetEnvPrefix("WEAVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.Is(err, fs.ErrNotExist) || errors.As(err, &notFound)
		if explicit || !missing {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults registers default values for every key, which also makes
// each key visible to environment lookup
func applyDefaults(v *viper.Viper) {
	v.SetDefault("seed_urls", []string{})
	v.SetDefault("max_depth", 2)
	v.SetDefault("concurrent_workers", 8)
	v.SetDefault("request_timeout_ms", 1000)
	v.SetDefault("crawl_timeout_ms", 0)
	v.SetDefault("user_agent", "caption-weaver/1.0")
	v.SetDefault("store_driver", DriverSQLite)
	v.SetDefault("db_path", "crawler.db")
	v.SetDefault("postgres_dsn", "")
	v.SetDefault("metrics_path", "metrics.log")
	v.SetDefault("prom_textfile_path", "")
	v.SetDefault("log_level", "info")
}

// validate checks that required fields are present and values are sensible
func validate(cfg *Config) error {
	if len(cfg.SeedURLs) == 0 {
		return fmt.Errorf("at least one seed url is required")
	}
	for _, seed := range cfg.SeedURLs {
		u, err := url.Parse(seed)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("seed %q is not an absolute http(s) url", seed)
		}
	}
	if cfg.MaxDepth < 1 {
		return fmt.Errorf("max_depth must be >= 1")
	}
	if cfg.ConcurrentWorkers < 1 {
		return fmt.Errorf("concurrent_workers must be >= 1")
	}
	if cfg.RequestTimeoutMs < 1 {
		return fmt.Errorf("request_timeout_ms must be >= 1")
	}
	if cfg.CrawlTimeoutMs < 0 {
		return fmt.Errorf("crawl_timeout_ms must be >= 0")
	}
	switch cfg.StoreDriver {
	case DriverSQLite:
		if cfg.DBPath == "" {
			return fmt.Errorf("db_path is required for the %s store", DriverSQLite)
		}
	case DriverPostgres:
		if cfg.PostgresDSN == "" {
			return fmt.Errorf("postgres_dsn is required for the %s store", DriverPostgres)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown store_driver %q", cfg.StoreDriver)
	}
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	return nil
}
