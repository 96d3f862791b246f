// Package storage provides the key/value tiers that back identity records.
//
// Three interchangeable tiers exist: a durable tier shared across hosts
// (the "cookie" tier, backed by Redis), a durable per-origin tier (the
// "local storage" tier, backed by SQLite) and a volatile in-process tier.
// Tiers store text; structured values go through GetJSON and SetJSON.
// No tier method returns an error: failures degrade to "absent" or false.
package storage

import (
	"encoding/json"
	"io"

	"github.com/kart-io/trackhub/pkg/logger"
)

// Store is the contract shared by every tier.
type Store interface {
	// Get returns the raw text stored under key.
	Get(key string) (string, bool)
	// Set stores value under key and reports success.
	Set(key, value string) bool
	// Remove deletes key and reports success.
	Remove(key string) bool
	// Enabled reports whether the tier can currently be used.
	Enabled() bool
}

// GetJSON decodes the value stored under key into dst. A missing key, a
// JSON null, or an undecodable value all report false.
func GetJSON(s Store, key string, dst any) bool {
	raw, ok := s.Get(key)
	if !ok || raw == "" || raw == "null" {
		return false
	}
	return json.Unmarshal([]byte(raw), dst) == nil
}

// SetJSON encodes v and stores it under key. A nil value removes the key.
func SetJSON(s Store, key string, v any) bool {
	if v == nil {
		return s.Remove(key)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return s.Set(key, string(data))
}

// Disabled is a tier that is never available.
type Disabled struct{}

func (Disabled) Get(string) (string, bool) { return "", false }
func (Disabled) Set(string, string) bool   { return false }
func (Disabled) Remove(string) bool        { return false }
func (Disabled) Enabled() bool             { return false }

// Tiers bundles the three storage tiers shared by the user and group
// records. It replaces process-wide singletons: build one per Analytics.
type Tiers struct {
	Cookie Store
	Local  Store
	Memory Store

	log logger.Logger
}

// NewTiers fills missing tiers: Cookie and Local default to Disabled,
// Memory to a fresh Memory store.
func NewTiers(cookie, local, memory Store, log logger.Logger) *Tiers {
	if cookie == nil {
		cookie = Disabled{}
	}
	if local == nil {
		local = Disabled{}
	}
	if memory == nil {
		memory = NewMemory()
	}
	return &Tiers{Cookie: cookie, Local: local, Memory: memory, log: logger.OrDiscard(log)}
}

// Close closes every tier that holds resources.
func (t *Tiers) Close() error {
	var first error
	for _, s := range []Store{t.Cookie, t.Local, t.Memory} {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				t.log.Error("Failed to close storage tier", "error", err)
				if first == nil {
					first = err
				}
			}
		}
	}
	return first
}
