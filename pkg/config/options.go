// Functional options for TrackHub configuration
package config

import (
	"time"

	"github.com/kart-io/trackhub/internal/maputil"
	"github.com/kart-io/trackhub/pkg/errors"
	"github.com/kart-io/trackhub/pkg/logger"
	"github.com/kart-io/trackhub/pkg/message"
	"github.com/kart-io/trackhub/pkg/observability"
)

// WithTimeout sets the completion callback delay.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		if timeout < 0 {
			return errors.Newf(errors.ErrInvalidConfig, "timeout must not be negative, got %s", timeout)
		}
		c.Timeout = timeout
		return nil
	}
}

// WithInitialPageview emits a page call right after Initialize.
func WithInitialPageview(enabled bool) Option {
	return func(c *Config) error {
		c.InitialPageview = enabled
		return nil
	}
}

// WithIntegrations sets the init-time enable map.
func WithIntegrations(integrations map[string]any) Option {
	return func(c *Config) error {
		c.Integrations = maputil.Clone(integrations)
		return nil
	}
}

// WithSettings sets the settings of one integration.
func WithSettings(name string, settings map[string]any) Option {
	return func(c *Config) error {
		if name == "" {
			return errors.New(errors.ErrInvalidConfig, "integration name is required for settings")
		}
		if c.Settings == nil {
			c.Settings = make(map[string]map[string]any)
		}
		c.Settings[name] = maputil.Clone(settings)
		return nil
	}
}

// WithPlan sets the tracking plan.
func WithPlan(plan Plan) Option {
	return func(c *Config) error {
		c.Plan = plan
		return nil
	}
}

// WithLogger sets the logger instance.
func WithLogger(l logger.Logger) Option {
	return func(c *Config) error {
		c.logger = l
		return nil
	}
}

// WithLogLevel sets the level of the default logger.
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		if !validLogLevels[level] {
			return errors.Newf(errors.ErrInvalidConfig, "unknown log level %q", level)
		}
		c.LogLevel = level
		return nil
	}
}

// WithRedisCookies enables the Redis cookie tier at addr.
func WithRedisCookies(addr, domain string) Option {
	return func(c *Config) error {
		if addr == "" {
			return errors.New(errors.ErrInvalidConfig, "redis address is required")
		}
		c.Cookie.Enabled = true
		c.Cookie.Addr = addr
		c.Cookie.Domain = domain
		return nil
	}
}

// WithLocalStorage enables the SQLite local storage tier at path.
func WithLocalStorage(path string) Option {
	return func(c *Config) error {
		if path == "" {
			return errors.New(errors.ErrInvalidConfig, "local storage path is required")
		}
		c.LocalStorage.Enabled = true
		c.LocalStorage.Path = path
		return nil
	}
}

// WithMetricsBackend selects the counter backend and its sample rate.
func WithMetricsBackend(backend string, sampleRate float64) Option {
	return func(c *Config) error {
		if !validMetricsBackends[backend] {
			return errors.Newf(errors.ErrInvalidConfig, "unknown metrics backend %q", backend)
		}
		if sampleRate < 0 || sampleRate > 1 {
			return errors.Newf(errors.ErrInvalidConfig, "sample rate must be within [0, 1], got %g", sampleRate)
		}
		c.Metrics.Backend = backend
		c.Metrics.SampleRate = sampleRate
		return nil
	}
}

// WithTelemetry sets the tracing configuration.
func WithTelemetry(tc observability.Config) Option {
	return func(c *Config) error {
		c.Telemetry = tc
		return nil
	}
}

// WithPageDefaults sets the page defaults used by page calls.
func WithPageDefaults(rawURL, title, referrer string) Option {
	return func(c *Config) error {
		c.Page = message.PageDefaultsFromURL(rawURL, title, referrer)
		return nil
	}
}

// WithQuery sets the bootstrap query string.
func WithQuery(query string) Option {
	return func(c *Config) error {
		c.Query = query
		return nil
	}
}

// WithTestDefaults keeps everything in memory and silences logs.
func WithTestDefaults() Option {
	return func(c *Config) error {
		c.Timeout = 0
		c.Cookie.Enabled = false
		c.LocalStorage.Enabled = false
		c.Metrics.Backend = MetricsNone
		c.Telemetry.Enabled = false
		c.logger = logger.Discard
		return nil
	}
}

// WithRateLimit bounds calls per second on the source chain.
func WithRateLimit(perSecond, burst int) Option {
	return func(c *Config) error {
		if perSecond < 0 || burst < 0 {
			return errors.New(errors.ErrInvalidConfig, "rate limit must not be negative")
		}
		c.RateLimit = RateLimitConfig{PerSecond: perSecond, Burst: burst}
		return nil
	}
}
