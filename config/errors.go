package config

import "errors"

// Configuration errors returned by Load and Validate.
var (
	// ErrConfigNotFound is returned when the configuration file does not exist.
	ErrConfigNotFound = errors.New("configuration file not found")

	// ErrMissingDomain is returned when no crawl domain is configured.
	ErrMissingDomain = errors.New("domain is required")

	// ErrMissingDBPath is returned when no store connection target is configured.
	ErrMissingDBPath = errors.New("db_path is required")

	// ErrInvalidShelfLife is returned when the shelf life is not positive.
	ErrInvalidShelfLife = errors.New("invalid shelf_life: must be positive")

	// ErrInvalidTimeout is returned when the fetch timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid fetch_timeout: must be positive")
)
