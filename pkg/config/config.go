// Package config provides the configuration system for TrackHub
package config

import (
	"time"

	"github.com/kart-io/trackhub/pkg/entity"
	"github.com/kart-io/trackhub/pkg/logger"
	"github.com/kart-io/trackhub/pkg/message"
	"github.com/kart-io/trackhub/pkg/observability"
	"github.com/kart-io/trackhub/pkg/storage"
)

// DefaultTimeout is the delay before completion callbacks run.
const DefaultTimeout = 300 * time.Millisecond

// Metrics backends.
const (
	MetricsNone       = "none"
	MetricsOTel       = "otel"
	MetricsPrometheus = "prometheus"
)

// Config represents the unified configuration structure
type Config struct {
	// Timeout delays completion callbacks. Zero runs them on the next turn.
	Timeout time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
	// InitialPageview emits page() right after Initialize.
	InitialPageview bool `yaml:"initial_pageview" json:"initial_pageview" env:"INITIAL_PAGEVIEW"`

	// Integrations is the init-time enable map, e.g. {"All": false, "Console": true}.
	Integrations map[string]any `yaml:"integrations" json:"integrations,omitempty"`
	// Settings holds per-integration settings keyed by integration name.
	Settings map[string]map[string]any `yaml:"settings" json:"settings,omitempty"`
	// Plan is the tracking plan consulted by track calls.
	Plan Plan `yaml:"plan" json:"plan"`

	Cookie       CookieConfig       `yaml:"cookie" json:"cookie" envPrefix:"COOKIE_"`
	LocalStorage LocalStorageConfig `yaml:"local_storage" json:"local_storage" envPrefix:"LOCAL_STORAGE_"`

	User  entity.Options `yaml:"user" json:"user"`
	Group entity.Options `yaml:"group" json:"group"`

	Page message.PageDefaults `yaml:"page" json:"page" envPrefix:"PAGE_"`

	Metrics   MetricsConfig        `yaml:"metrics" json:"metrics" envPrefix:"METRICS_"`
	Telemetry observability.Config `yaml:"telemetry" json:"telemetry" envPrefix:"TELEMETRY_"`

	// RateLimit installs a token bucket on the source chain when PerSecond
	// is positive.
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit" envPrefix:"RATE_LIMIT_"`

	LogLevel string `yaml:"log_level" json:"log_level" env:"LOG_LEVEL"`
	// Query is a bootstrap query string applied after Initialize.
	Query string `yaml:"query" json:"query" env:"QUERY"`

	logger logger.Logger
}

// RateLimitConfig bounds how many calls per second reach the integrations.
type RateLimitConfig struct {
	PerSecond int `yaml:"per_second" json:"per_second" env:"PER_SECOND"`
	Burst     int `yaml:"burst" json:"burst" env:"BURST"`
}

// Plan is a tracking plan. Track is keyed by event name; the "__default"
// entry applies to events without their own entry.
type Plan struct {
	Track map[string]EventPlan `yaml:"track" json:"track,omitempty"`
}

// DefaultPlanEvent is the plan entry used for unlisted events.
const DefaultPlanEvent = "__default"

// EventPlan is the plan entry of one event.
type EventPlan struct {
	// Enabled nil means enabled.
	Enabled      *bool          `yaml:"enabled" json:"enabled,omitempty"`
	Integrations map[string]any `yaml:"integrations" json:"integrations,omitempty"`
}

// IsEnabled reports whether the event is enabled.
func (p EventPlan) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// CookieConfig configures the Redis-backed cookie tier.
type CookieConfig struct {
	Enabled   bool          `yaml:"enabled" json:"enabled" env:"ENABLED"`
	Addr      string        `yaml:"addr" json:"addr" env:"ADDR"`
	Password  string        `yaml:"password" json:"password" env:"PASSWORD"`
	DB        int           `yaml:"db" json:"db" env:"DB"`
	KeyPrefix string        `yaml:"key_prefix" json:"key_prefix" env:"KEY_PREFIX"`
	Domain    string        `yaml:"domain" json:"domain" env:"DOMAIN"`
	MaxAge    time.Duration `yaml:"max_age" json:"max_age" env:"MAX_AGE"`
}

// RedisOptions converts the section for storage.NewRedisStore.
func (c CookieConfig) RedisOptions() storage.RedisOptions {
	return storage.RedisOptions{
		Addr:      c.Addr,
		Password:  c.Password,
		DB:        c.DB,
		KeyPrefix: c.KeyPrefix,
		Domain:    c.Domain,
		MaxAge:    c.MaxAge,
	}
}

// LocalStorageConfig configures the SQLite-backed local storage tier.
type LocalStorageConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" json:"path" env:"PATH"`
}

// MetricsConfig configures call counters.
type MetricsConfig struct {
	Backend       string        `yaml:"backend" json:"backend" env:"BACKEND"`
	SampleRate    float64       `yaml:"sample_rate" json:"sample_rate" env:"SAMPLE_RATE"`
	MaxQueueSize  int           `yaml:"max_queue_size" json:"max_queue_size" env:"MAX_QUEUE_SIZE"`
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval" env:"FLUSH_INTERVAL"`
}

// Option defines a functional option for configuration
type Option func(*Config) error

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Timeout: DefaultTimeout,
		LocalStorage: LocalStorageConfig{
			Path: "trackhub.db",
		},
		Metrics: MetricsConfig{
			Backend:       MetricsNone,
			MaxQueueSize:  20,
			FlushInterval: 30 * time.Second,
		},
		Telemetry: observability.DefaultConfig(),
		LogLevel:  "warn",
	}
}

// New creates a new configuration with the given options
func New(opts ...Option) (*Config, error) {
	cfg := Default()
	if err := cfg.Apply(opts...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Apply runs opts against c in order, stopping at the first error.
func (c *Config) Apply(opts ...Option) error {
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return err
		}
	}
	return nil
}

// Logger returns the configured logger, building one from LogLevel when
// none was set with WithLogger.
func (c *Config) Logger() logger.Logger {
	if c.logger != nil {
		return c.logger
	}
	return logger.New().LogMode(logger.ParseLevel(c.LogLevel))
}

// Validate checks the configuration and returns an ErrInvalidConfig error
// listing every problem found.
func (c *Config) Validate() error {
	return NewValidator(false).Validate(c).Err()
}
