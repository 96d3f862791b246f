// Package integration defines the contract implemented by event
// destinations and the pipeline that initializes them and fans every
// envelope out to them.
package integration

import (
	"context"
	"strings"

	"github.com/kart-io/trackhub/internal/maputil"
	"github.com/kart-io/trackhub/pkg/errors"
	"github.com/kart-io/trackhub/pkg/message"
)

// ReadyFunc is handed to Initialize; the integration calls it once it can
// accept messages. Extra calls are ignored.
type ReadyFunc func()

// Integration is an event destination.
type Integration interface {
	// Name returns the name the integration was registered under
	Name() string

	// Initialize prepares the integration and eventually calls ready,
	// possibly from another goroutine. An error (or panic) marks the
	// integration failed; it then never receives messages.
	Initialize(ctx context.Context, ready ReadyFunc) error

	// Invoke delivers one envelope.
	Invoke(ctx context.Context, method message.Type, msg *message.Envelope) error
}

// Settings are the per-integration options from the initialize call.
type Settings map[string]any

// Bool returns the boolean stored under key and whether it was one.
func (s Settings) Bool(key string) (value, ok bool) {
	value, ok = s[key].(bool)
	return value, ok
}

// String returns the string stored under key, or def.
func (s Settings) String(key, def string) string {
	if v, ok := s[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Int returns the integer stored under key, or def. JSON and YAML numbers
// are both accepted.
func (s Settings) Int(key string, def int64) int64 {
	switch v := s[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return def
	}
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	return Settings(maputil.Clone(s))
}

// Factory builds an integration from its settings.
type Factory func(settings Settings) (Integration, error)

// Descriptor registers an integration class under an explicit name.
type Descriptor struct {
	Name    string
	Factory Factory
}

// Validate checks the descriptor can be registered.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New(errors.ErrInvalidIntegration, "attempted to add an invalid integration").
			WithDetails("name is empty")
	}
	if d.Factory == nil {
		return errors.New(errors.ErrInvalidIntegration, "attempted to add an invalid integration").
			WithIntegration(d.Name).
			WithDetails("factory is nil")
	}
	return nil
}

// State of one instantiated integration.
type State string

const (
	StatePending State = "pending"
	StateReady   State = "ready"
	StateFailed  State = "failed"
)

// Record describes one instantiated integration.
type Record struct {
	Name  string `json:"name"`
	State State  `json:"state"`
	Error string `json:"error,omitempty"`
}
