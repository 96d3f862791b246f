// Package message defines the canonical event envelope and the normalizer
// that turns a loosely shaped call into one.
package message

import (
	"time"

	"github.com/kart-io/trackhub/internal/maputil"
	"golang.org/x/text/cases"
)

// Type is the kind of call that produced an envelope.
type Type string

const (
	TypeIdentify Type = "identify"
	TypeGroup    Type = "group"
	TypeTrack    Type = "track"
	TypePage     Type = "page"
	TypeAlias    Type = "alias"
)

// String returns the string representation of the type.
func (t Type) String() string {
	return string(t)
}

// IsValid returns true if t is one of the five call types.
func (t Type) IsValid() bool {
	switch t {
	case TypeIdentify, TypeGroup, TypeTrack, TypePage, TypeAlias:
		return true
	default:
		return false
	}
}

// Envelope is the canonical message produced once by the Normalizer and
// passed through every middleware chain to every integration.
type Envelope struct {
	Type         Type           `json:"type"`
	MessageID    string         `json:"messageId"`
	AnonymousID  string         `json:"anonymousId"`
	UserID       string         `json:"userId,omitempty"`
	GroupID      string         `json:"groupId,omitempty"`
	PreviousID   string         `json:"previousId,omitempty"`
	Event        string         `json:"event,omitempty"`
	Category     string         `json:"category,omitempty"`
	Name         string         `json:"name,omitempty"`
	Properties   map[string]any `json:"properties,omitempty"`
	Traits       map[string]any `json:"traits,omitempty"`
	Context      map[string]any `json:"context"`
	Integrations map[string]any `json:"integrations"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Clone returns a deep copy of the envelope. Stages that keep a reference
// to their input can never observe another branch's mutations.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Properties = cloneOrNil(e.Properties)
	cp.Traits = cloneOrNil(e.Traits)
	cp.Context = maputil.Clone(e.Context)
	cp.Integrations = maputil.Clone(e.Integrations)
	return &cp
}

func cloneOrNil(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return maputil.Clone(m)
}

// Page returns context.page, or nil when absent.
func (e *Envelope) Page() map[string]any {
	page, _ := maputil.AsMap(e.Context["page"])
	return page
}

// Enabled reports whether the envelope should be delivered to the named
// integration. An explicit boolean entry wins; an object-valued entry
// (integration-specific options) counts as enabled; otherwise the "All"
// flag decides, defaulting to true. Names match case-insensitively.
func (e *Envelope) Enabled(name string) bool {
	all := true
	if v, ok := lookupFold(e.Integrations, "All"); ok {
		if b, isBool := v.(bool); isBool {
			all = b
		}
	}

	v, ok := lookupFold(e.Integrations, name)
	if !ok {
		return all
	}
	if b, ok := v.(bool); ok {
		return b
	}
	if _, ok := maputil.AsMap(v); ok {
		return true
	}
	return all
}

// lookupFold finds key in m, first exactly and then by case folding.
func lookupFold(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	fold := cases.Fold()
	want := fold.String(key)
	for k, v := range m {
		if fold.String(k) == want {
			return v, true
		}
	}
	return nil, false
}
