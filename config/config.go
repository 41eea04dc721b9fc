// Package config loads the crawler configuration from a YAML file, with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults applied when a value is absent from both the file and the
// environment.
const (
	DefaultPath         = "config.yaml"
	DefaultShelfLife    = 86400
	DefaultFetchTimeout = 30
	DefaultUserAgent    = "revisit/0.1"
	DefaultLogLevel     = "info"
	DefaultAPIAddr      = ":8000"
)

// Config holds the settings shared by the crawler and the API server.
type Config struct {
	// Domain is the crawl scope root, e.g. "http://example.com".
	Domain string `yaml:"domain"`

	// DBPath is the store connection target, either "postgres://..." or
	// "sqlite://<file>".
	DBPath string `yaml:"db_path"`

	// ShelfLife is the number of seconds after which a fetched page is stale.
	ShelfLife int `yaml:"shelf_life"`

	// FetchTimeout is the per-request timeout in seconds.
	FetchTimeout int `yaml:"fetch_timeout"`

	UserAgent string `yaml:"user_agent"`
	LogLevel  string `yaml:"log_level"`
	Env       string `yaml:"env"`
	SentryDSN string `yaml:"sentry_dsn"`
	APIAddr   string `yaml:"api_addr"`
}

// ShelfLifeDuration returns the shelf life as a time.Duration.
func (c *Config) ShelfLifeDuration() time.Duration {
	return time.Duration(c.ShelfLife) * time.Second
}

// FetchTimeoutDuration returns the fetch timeout as a time.Duration.
func (c *Config) FetchTimeoutDuration() time.Duration {
	return time.Duration(c.FetchTimeout) * time.Second
}

// Load reads the YAML file at path, applies .env files and environment
// overrides, fills defaults and validates the result. A missing file is not
// an error when the environment supplies the required values.
func Load(path string) (*Config, error) {
	// .env files are optional
	_ = godotenv.Load(".env.local", ".env")

	cfg := &Config{}
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		if os.Getenv("REVISIT_DOMAIN") == "" || os.Getenv("REVISIT_DB_PATH") == "" {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("REVISIT_DOMAIN"); v != "" {
		c.Domain = v
	}
	if v := os.Getenv("REVISIT_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("REVISIT_SHELF_LIFE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: REVISIT_SHELF_LIFE=%q", ErrInvalidShelfLife, v)
		}
		c.ShelfLife = n
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("SENTRY_DSN"); v != "" {
		c.SentryDSN = v
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.ShelfLife == 0 {
		c.ShelfLife = DefaultShelfLife
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.APIAddr == "" {
		c.APIAddr = DefaultAPIAddr
	}
}

// Validate checks that the configuration can drive a crawl.
func (c *Config) Validate() error {
	if c.Domain == "" {
		return ErrMissingDomain
	}
	if c.DBPath == "" {
		return ErrMissingDBPath
	}
	if c.ShelfLife <= 0 {
		return ErrInvalidShelfLife
	}
	if c.FetchTimeout <= 0 {
		return ErrInvalidTimeout
	}
	return nil
}
