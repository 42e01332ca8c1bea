// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers a YAML file and environment variables over the defaults.
// - Validation errors wrap ErrInvalidConfig, loading errors wrap ErrLoadConfig.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrLoadConfig    = errors.New("load config failed")
)

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Audit sinks.
const (
	AuditSinkLog   = "log"
	AuditSinkStore = "store"
)

// minSecretLen is the shortest accepted HMAC session secret.
const minSecretLen = 16

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log encoding: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	Storage StorageConfig `koanf:"storage"`
	Session SessionConfig `koanf:"session"`
	Audit   AuditConfig   `koanf:"audit"`

	// DedupeSize bounds the set of remembered arcade run ids.
	DedupeSize int `koanf:"dedupe_size"`

	Retry   RetryConfig   `koanf:"retry"`
	Arcade  ArcadeConfig  `koanf:"arcade"`
	Tracing TracingConfig `koanf:"tracing"`
}

// StorageConfig selects and configures the player store and quest catalog.
type StorageConfig struct {
	Driver string `koanf:"driver"`
	// Path is the sqlite database file.
	Path string `koanf:"path"`
	// SeedFile is an optional YAML quest seed applied at startup.
	SeedFile string `koanf:"seed_file"`
}

// SessionConfig configures signed session tokens. An empty secret disables
// token issuance and every session-protected route answers 401.
type SessionConfig struct {
	Secret string        `koanf:"secret"`
	Issuer string        `koanf:"issuer"`
	TTL    time.Duration `koanf:"ttl"`
	// SecureCookies marks the session cookie Secure; enable behind TLS.
	SecureCookies bool `koanf:"secure_cookies"`
}

// AuditConfig configures the asynchronous audit pipeline.
type AuditConfig struct {
	QueueSize int    `koanf:"queue_size"`
	Workers   int    `koanf:"workers"`
	Sink      string `koanf:"sink"`
}

// RetryConfig bounds optimistic transaction retries.
type RetryConfig struct {
	MaxAttempts int           `koanf:"max_attempts"`
	BaseBackoff time.Duration `koanf:"base_backoff"`
}

// ArcadeConfig holds defaults for arcade quests that have no stored
// definition yet.
type ArcadeConfig struct {
	DefaultBaseXP int                          `koanf:"default_base_xp"`
	Quests        map[string]ArcadeQuestConfig `koanf:"quests"`
}

// ArcadeQuestConfig is the definition created the first time an arcade quest
// is completed in an org.
type ArcadeQuestConfig struct {
	Title           string `koanf:"title"`
	Description     string `koanf:"description"`
	XP              int    `koanf:"xp"`
	ScoreThresholds []int  `koanf:"score_thresholds"`
}

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Endpoint string `koanf:"endpoint"`
	Insecure bool   `koanf:"insecure"`

	// SampleRatio in (0,1) samples a fraction of root traces.
	SampleRatio float64 `koanf:"sample_ratio"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Addr:      ":9080",
		Storage: StorageConfig{
			Driver: DriverMemory,
			Path:   "bitgalaxy.db",
		},
		Session: SessionConfig{
			Issuer: "bitgalaxy",
			TTL:    30 * 24 * time.Hour,
		},
		Audit: AuditConfig{
			QueueSize: 10_000,
			Workers:   4,
			Sink:      AuditSinkLog,
		},
		DedupeSize: 50_000,
		Retry: RetryConfig{
			MaxAttempts: 5,
			BaseBackoff: 5 * time.Millisecond,
		},
		Arcade: ArcadeConfig{
			DefaultBaseXP: 50,
			Quests: map[string]ArcadeQuestConfig{
				"lunchbox-run": {
					Title:           "Lunchbox Run",
					Description:     "Dodge the obstacles and grab every lunchbox.",
					XP:              50,
					ScoreThresholds: []int{250, 900, 1800},
				},
			},
		},
		Tracing: TracingConfig{
			Endpoint:    "localhost:4318",
			Insecure:    true,
			SampleRatio: 1,
		},
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.LogFormat != "text" && c.LogFormat != "json":
		return fmt.Errorf("%w: log_format must be text or json, got %q", ErrInvalidConfig, c.LogFormat)
	case c.Storage.Driver != DriverMemory && c.Storage.Driver != DriverSQLite:
		return fmt.Errorf("%w: unknown storage driver %q", ErrInvalidConfig, c.Storage.Driver)
	case c.Storage.Driver == DriverSQLite && c.Storage.Path == "":
		return fmt.Errorf("%w: storage.path is required for sqlite", ErrInvalidConfig)
	case c.Session.Secret != "" && len(c.Session.Secret) < minSecretLen:
		return fmt.Errorf("%w: session.secret must be at least %d bytes", ErrInvalidConfig, minSecretLen)
	case c.Session.Secret != "" && c.Session.TTL <= 0:
		return fmt.Errorf("%w: session.ttl must be positive", ErrInvalidConfig)
	case c.Audit.QueueSize <= 0:
		return fmt.Errorf("%w: audit.queue_size must be positive", ErrInvalidConfig)
	case c.Audit.Workers <= 0:
		return fmt.Errorf("%w: audit.workers must be positive", ErrInvalidConfig)
	case c.Audit.Sink != AuditSinkLog && c.Audit.Sink != AuditSinkStore:
		return fmt.Errorf("%w: unknown audit sink %q", ErrInvalidConfig, c.Audit.Sink)
	case c.Retry.MaxAttempts < 1:
		return fmt.Errorf("%w: retry.max_attempts must be at least 1", ErrInvalidConfig)
	case c.Arcade.DefaultBaseXP < 0:
		return fmt.Errorf("%w: arcade.default_base_xp must not be negative", ErrInvalidConfig)
	case c.Tracing.Enabled && c.Tracing.Endpoint == "":
		return fmt.Errorf("%w: tracing.endpoint is required when tracing is enabled", ErrInvalidConfig)
	case c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1:
		return fmt.Errorf("%w: tracing.sample_ratio must be within [0,1]", ErrInvalidConfig)
	}
	return nil
}

// SessionsEnabled reports whether session tokens can be minted and verified.
func (c *Config) SessionsEnabled() bool {
	return c.Session.Secret != ""
}
