package config

import (
	"fmt"
	"strings"

	"github.com/kart-io/trackhub/pkg/errors"
)

var validLogLevels = map[string]bool{
	"": true, "silent": true, "off": true, "none": true,
	"error": true, "warn": true, "info": true, "debug": true,
}

var validMetricsBackends = map[string]bool{
	"": true, MetricsNone: true, MetricsOTel: true, MetricsPrometheus: true,
}

// ValidationResult represents the result of configuration validation
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// ValidationIssue is one error or warning.
type ValidationIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (i ValidationIssue) String() string {
	return i.Field + ": " + i.Message
}

// Err returns nil for a valid result, otherwise an ErrInvalidConfig error
// naming every failing field.
func (r *ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	msgs := make([]string, 0, len(r.Errors))
	fields := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.String())
		fields = append(fields, e.Field)
	}
	return errors.New(errors.ErrInvalidConfig, "invalid configuration: "+strings.Join(msgs, "; ")).
		WithContext("fields", fields)
}

// Validator provides configuration validation functionality. In strict
// mode warnings count as errors.
type Validator struct {
	strict bool
}

// NewValidator creates a new configuration validator
func NewValidator(strict bool) *Validator {
	return &Validator{strict: strict}
}

// Validate validates a configuration
func (v *Validator) Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{Valid: true}
	if cfg == nil {
		v.addError(result, "config", "configuration is nil")
		return result
	}

	if cfg.Timeout < 0 {
		v.addError(result, "timeout", fmt.Sprintf("must not be negative, got %s", cfg.Timeout))
	}
	if !validLogLevels[cfg.LogLevel] {
		v.addError(result, "log_level", fmt.Sprintf("unknown level %q", cfg.LogLevel))
	}

	v.validateStorage(cfg, result)
	v.validateMetrics(cfg, result)
	v.validatePlan(cfg, result)
	v.validateRateLimit(cfg, result)

	if ts := cfg.Telemetry; ts.Enabled {
		if ts.SampleRate < 0 || ts.SampleRate > 1 {
			v.addError(result, "telemetry.sample_rate", fmt.Sprintf("must be within [0, 1], got %g", ts.SampleRate))
		}
		if ts.ServiceName == "" {
			v.addError(result, "telemetry.service_name", "is required when telemetry is enabled")
		}
	}
	return result
}

func (v *Validator) validateStorage(cfg *Config, result *ValidationResult) {
	if cfg.Cookie.Enabled && cfg.Cookie.Addr == "" {
		v.addError(result, "cookie.addr", "is required when the cookie tier is enabled")
	}
	if cfg.Cookie.MaxAge < 0 {
		v.addError(result, "cookie.max_age", "must not be negative")
	}
	if cfg.LocalStorage.Enabled && cfg.LocalStorage.Path == "" {
		v.addError(result, "local_storage.path", "is required when local storage is enabled")
	}
	if !cfg.Cookie.Enabled && !cfg.LocalStorage.Enabled {
		v.addWarning(result, "storage", "no durable tier enabled, identity lives in memory only")
	}
}

func (v *Validator) validateMetrics(cfg *Config, result *ValidationResult) {
	m := cfg.Metrics
	if !validMetricsBackends[m.Backend] {
		v.addError(result, "metrics.backend", fmt.Sprintf("unknown backend %q", m.Backend))
	}
	if m.SampleRate < 0 || m.SampleRate > 1 {
		v.addError(result, "metrics.sample_rate", fmt.Sprintf("must be within [0, 1], got %g", m.SampleRate))
	}
	if m.MaxQueueSize < 0 {
		v.addError(result, "metrics.max_queue_size", "must not be negative")
	}
	if m.Backend != "" && m.Backend != MetricsNone && m.SampleRate == 0 {
		v.addWarning(result, "metrics.sample_rate", "is 0, no counters will be recorded")
	}
}

func (v *Validator) validateRateLimit(cfg *Config, result *ValidationResult) {
	if cfg.RateLimit.PerSecond < 0 {
		v.addError(result, "rate_limit.per_second", "must not be negative")
	}
	if cfg.RateLimit.Burst < 0 {
		v.addError(result, "rate_limit.burst", "must not be negative")
	}
}

func (v *Validator) validatePlan(cfg *Config, result *ValidationResult) {
	for event := range cfg.Plan.Track {
		if event == "" {
			v.addError(result, "plan.track", "event name must not be empty")
		}
	}
}

func (v *Validator) addError(result *ValidationResult, field, message string) {
	result.Valid = false
	result.Errors = append(result.Errors, ValidationIssue{Field: field, Message: message})
}

func (v *Validator) addWarning(result *ValidationResult, field, message string) {
	if v.strict {
		v.addError(result, field, message)
		return
	}
	result.Warnings = append(result.Warnings, ValidationIssue{Field: field, Message: message})
}
