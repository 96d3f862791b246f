// Package entity implements the persistent identity records (user and
// group) consulted on every call.
//
// An Entity binds once, at Initialize, to the first usable storage tier:
// the cookie tier if a sentinel write can be read back, else the local tier
// if it reports enabled, else memory. With persistence on, the id lives in
// the bound tier and is mirrored to the local tier; traits live in the bound
// tier. With persistence off both live only in memory.
//
// Entities are not safe for concurrent use; the facade serializes access.
package entity

import (
	"strconv"

	"github.com/kart-io/trackhub/internal/maputil"
	"github.com/kart-io/trackhub/pkg/logger"
	"github.com/kart-io/trackhub/pkg/storage"
)

const probeKey = "ajs:cookies"

// Options configures how an entity persists itself. Zero fields fall back
// to the entity class defaults.
type Options struct {
	Persist                      *bool  `yaml:"persist" json:"persist,omitempty"`
	CookieKey                    string `yaml:"cookie_key" json:"cookie_key,omitempty"`
	OldCookieKey                 string `yaml:"old_cookie_key" json:"old_cookie_key,omitempty"`
	LocalStorageKey              string `yaml:"local_storage_key" json:"local_storage_key,omitempty"`
	LocalStorageFallbackDisabled bool   `yaml:"local_storage_fallback_disabled" json:"local_storage_fallback_disabled,omitempty"`
}

// Persistent reports whether the id and traits are written to storage.
func (o Options) Persistent() bool {
	return o.Persist == nil || *o.Persist
}

func (o Options) over(defaults Options) Options {
	out := defaults
	if o.Persist != nil {
		p := *o.Persist
		out.Persist = &p
	}
	if o.CookieKey != "" {
		out.CookieKey = o.CookieKey
	}
	if o.OldCookieKey != "" {
		out.OldCookieKey = o.OldCookieKey
	}
	if o.LocalStorageKey != "" {
		out.LocalStorageKey = o.LocalStorageKey
	}
	out.LocalStorageFallbackDisabled = o.LocalStorageFallbackDisabled
	return out
}

// Bool returns a pointer to b, for Options.Persist.
func Bool(b bool) *bool { return &b }

// Entity is a persistent record made of an id and a trait mapping.
type Entity struct {
	kind     string
	defaults Options
	opts     Options
	tiers    *storage.Tiers
	store    storage.Store
	logger   logger.Logger

	// in-memory values when persistence is off
	id     string
	traits map[string]any

	// onIDChange runs after every SetID with the previous and new id.
	onIDChange func(prev, next string)
}

func newEntity(kind string, defaults Options, tiers *storage.Tiers, opts Options, log logger.Logger) *Entity {
	if tiers == nil {
		tiers = storage.NewTiers(nil, nil, nil, log)
	}
	e := &Entity{
		kind:     kind,
		defaults: defaults,
		tiers:    tiers,
		logger:   logger.OrDiscard(log).With("entity", kind),
		traits:   map[string]any{},
	}
	e.SetOptions(opts)
	e.Initialize()
	return e
}

// Initialize picks the storage tier. It probes the cookie tier with a
// sentinel value, then the local tier, and falls back to memory.
func (e *Entity) Initialize() {
	cookie := e.tiers.Cookie
	if cookie.Set(probeKey, "true") {
		v, ok := cookie.Get(probeKey)
		cookie.Remove(probeKey)
		if ok && v == "true" {
			e.store = cookie
			return
		}
	}

	if e.tiers.Local.Enabled() {
		e.store = e.tiers.Local
		return
	}

	e.logger.Warn("Using memory storage, both cookie and local storage tiers are unavailable")
	e.store = e.tiers.Memory
}

// Storage returns the bound tier.
func (e *Entity) Storage() storage.Store { return e.store }

// Options returns the effective options.
func (e *Entity) Options() Options { return e.opts }

// SetOptions merges opts over the class defaults.
func (e *Entity) SetOptions(opts Options) {
	e.opts = opts.over(e.defaults)
}

// ID returns the entity id, or "" when there is none.
func (e *Entity) ID() string {
	if !e.opts.Persistent() {
		return e.id
	}

	if id, ok := readString(e.store, e.opts.CookieKey); ok {
		return id
	}

	if id, ok := e.idFromLocalStorage(); ok {
		// Copy forward so the next read hits the bound tier.
		e.writeIDToStore(id)
		return id
	}

	return ""
}

func (e *Entity) idFromLocalStorage() (string, bool) {
	if e.opts.LocalStorageFallbackDisabled {
		return "", false
	}
	return readString(e.tiers.Local, e.opts.CookieKey)
}

// SetID sets the entity id. "" clears it.
func (e *Entity) SetID(id string) {
	var prev string
	if e.onIDChange != nil {
		prev = e.ID()
	}
	e.writeID(id)
	if e.onIDChange != nil {
		e.onIDChange(prev, id)
	}
}

func (e *Entity) writeID(id string) {
	if !e.opts.Persistent() {
		e.id = id
		return
	}
	e.writeIDToStore(id)
	if !e.opts.LocalStorageFallbackDisabled {
		writeString(e.tiers.Local, e.opts.CookieKey, id)
	}
}

func (e *Entity) writeIDToStore(id string) {
	writeString(e.store, e.opts.CookieKey, id)
}

// Traits returns a copy of the entity traits. ISO-8601 date strings are
// converted back to time.Time because storage only keeps text.
func (e *Entity) Traits() map[string]any {
	var t map[string]any
	if e.opts.Persistent() {
		storage.GetJSON(e.store, e.opts.LocalStorageKey, &t)
	} else {
		t = maputil.Clone(e.traits)
	}
	if t == nil {
		return map[string]any{}
	}
	return traverseDates(t).(map[string]any)
}

// SetTraits replaces the entity traits. nil stores an empty mapping.
func (e *Entity) SetTraits(traits map[string]any) {
	if traits == nil {
		traits = map[string]any{}
	}
	if e.opts.Persistent() {
		storage.SetJSON(e.store, e.opts.LocalStorageKey, traits)
		return
	}
	e.traits = maputil.Clone(traits)
}

// Identify sets id and traits as one unit. When id is empty, or either id
// matches the current one or no id is set yet, the traits are merged into
// the existing ones; otherwise they replace them.
func (e *Entity) Identify(id string, traits map[string]any) {
	traits = maputil.Clone(traits)
	current := e.ID()

	if current == "" || id == "" || current == id {
		traits = maputil.Merge(e.Traits(), traits)
	}

	if id != "" {
		e.SetID(id)
	}

	e.logger.Debug("identify", "id", id, "traits", traits)
	e.SetTraits(traits)
	e.Save()
}

// Save writes the current id and traits to storage. It reports false when
// persistence is off.
func (e *Entity) Save() bool {
	if !e.opts.Persistent() {
		return false
	}
	e.writeID(e.ID())
	e.SetTraits(e.Traits())
	return true
}

// Logout clears id and traits and purges the identity keys from every
// tier, so an unprobed tier cannot resurrect stale state.
func (e *Entity) Logout() {
	e.SetID("")
	e.SetTraits(map[string]any{})

	for _, s := range []storage.Store{e.store, e.tiers.Cookie, e.tiers.Local} {
		s.Remove(e.opts.CookieKey)
		s.Remove(e.opts.LocalStorageKey)
	}
}

// Reset logs out and restores the default options.
func (e *Entity) Reset() {
	e.Logout()
	e.SetOptions(Options{})
}

// Load re-reads id and traits from storage and writes them back, copying
// values found only in the local tier into the bound tier.
func (e *Entity) Load() {
	e.SetID(e.ID())
	e.SetTraits(e.Traits())
}

// readString reads a JSON-encoded id. Numeric ids written by older
// clients are accepted and rendered in their string form.
func readString(s storage.Store, key string) (string, bool) {
	var v any
	if !storage.GetJSON(s, key, &v) {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, t != ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		return "", false
	}
}

func writeString(s storage.Store, key, value string) bool {
	if value == "" {
		return s.Remove(key)
	}
	return storage.SetJSON(s, key, value)
}
