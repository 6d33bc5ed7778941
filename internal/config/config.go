// Package config loads run settings from the environment and .env files.
// Command-line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/tordrt/syncforge/internal/logging"
	"github.com/tordrt/syncforge/internal/rowdiff"
)

// Environment variables read by LoadFromEnv
const (
	EnvSourceURL     = "SYNCFORGE_SOURCE_URL"
	EnvTargetURL     = "SYNCFORGE_TARGET_URL"
	EnvSchema        = "SYNCFORGE_SCHEMA"
	EnvLogLevel      = "SYNCFORGE_LOG_LEVEL"
	EnvLogFormat     = "SYNCFORGE_LOG_FORMAT"
	EnvHashThreshold = "SYNCFORGE_HASH_THRESHOLD"
	EnvMaxChanges    = "SYNCFORGE_MAX_CHANGES"
	EnvIfExists      = "SYNCFORGE_IF_EXISTS"
	EnvTransaction   = "SYNCFORGE_TRANSACTION"
)

type Config struct {
	SourceURL  string
	TargetURL  string
	SchemaName string

	LogLevel  string
	LogFormat string

	HashThreshold int64
	MaxChanges    int

	IfExists    bool
	Transaction bool
}

// Default returns the settings used when nothing is configured
func Default() *Config {
	return &Config{
		LogLevel:      "warn",
		LogFormat:     "text",
		HashThreshold: rowdiff.DefaultLargeValueThreshold,
		Transaction:   true,
	}
}

// LoadDotEnv reads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// LoadFromEnv overlays environment variables onto c. Malformed numbers and
// booleans are reported together.
func (c *Config) LoadFromEnv() error {
	if val := os.Getenv(EnvSourceURL); val != "" {
		c.SourceURL = val
	}
	if val := os.Getenv(EnvTargetURL); val != "" {
		c.TargetURL = val
	}
	if val := os.Getenv(EnvSchema); val != "" {
		c.SchemaName = val
	}
	if val := os.Getenv(EnvLogLevel); val != "" {
		c.LogLevel = val
	}
	if val := os.Getenv(EnvLogFormat); val != "" {
		c.LogFormat = val
	}

	var errs []error
	if val := os.Getenv(EnvHashThreshold); val != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvHashThreshold, err))
		} else {
			c.HashThreshold = n
		}
	}
	if val := os.Getenv(EnvMaxChanges); val != "" {
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvMaxChanges, err))
		} else {
			c.MaxChanges = n
		}
	}
	if val := os.Getenv(EnvIfExists); val != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(val))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvIfExists, err))
		} else {
			c.IfExists = b
		}
	}
	if val := os.Getenv(EnvTransaction); val != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(val))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvTransaction, err))
		} else {
			c.Transaction = b
		}
	}
	return errors.Join(errs...)
}

// Validate checks values that would otherwise fail later in the run
func (c *Config) Validate() error {
	var errs []error
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := logging.ParseFormat(c.LogFormat); err != nil {
		errs = append(errs, err)
	}
	if c.MaxChanges < 0 {
		errs = append(errs, fmt.Errorf("max changes must not be negative: %d", c.MaxChanges))
	}
	return errors.Join(errs...)
}

// InitLogging configures the global logger from the log settings
func (c *Config) InitLogging() error {
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	format, err := logging.ParseFormat(c.LogFormat)
	if err != nil {
		return err
	}
	logging.Init(level, format, nil)
	return nil
}

// CompareOptions returns the row comparator settings
func (c *Config) CompareOptions() rowdiff.Options {
	return rowdiff.Options{
		LargeValueHashThresholdBytes: c.HashThreshold,
		MaxChangesBeforeAbort:        c.MaxChanges,
	}
}
