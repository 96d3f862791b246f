package message

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kart-io/trackhub/internal/maputil"
	"github.com/kart-io/trackhub/pkg/logger"
	"golang.org/x/text/cases"
)

// MessageIDPrefix marks ids generated by the Normalizer.
const MessageIDPrefix = "ajs-"

// toplevel options are hoisted onto the envelope; everything else under
// options moves into context.
var toplevel = map[string]bool{
	"integrations": true,
	"anonymousId":  true,
	"timestamp":    true,
	"context":      true,
}

// AnonymousIdentity is the record that owns the anonymous id. The user
// entity satisfies it.
type AnonymousIdentity interface {
	AnonymousID() string
	SetAnonymousID(id string)
}

// Normalizer turns a Call into an Envelope. It never fails: malformed
// input is coerced.
type Normalizer struct {
	// Integrations returns the names of the registered integrations.
	Integrations func() []string
	Identity     AnonymousIdentity
	PageDefaults func() PageDefaults
	Now          func() time.Time
	Logger       logger.Logger
}

// Normalize builds the canonical envelope for call.
func (n *Normalizer) Normalize(call Call) *Envelope {
	log := logger.OrDiscard(n.Logger)
	log.Debug("normalize <-", "type", call.Type, "options", call.Options)

	known := newNameSet(n.names())

	opts := maputil.Clone(call.Options)
	integrations := cloneMapValue(opts["integrations"])
	providers := cloneMapValue(opts["providers"])
	msgContext := cloneMapValue(opts["context"])

	// option keys that name an integration become integration settings
	for key, v := range opts {
		if !known.has(key) {
			continue
		}
		if _, exists := integrations[key]; !exists {
			integrations[key] = v
		}
		delete(opts, key)
	}

	// deprecated providers never override object settings, and never flip
	// an existing entry with a boolean
	delete(opts, "providers")
	for key, v := range providers {
		if !known.has(key) {
			continue
		}
		existing, exists := integrations[key]
		if _, isObject := maputil.AsMap(existing); isObject {
			continue
		}
		if _, isBool := v.(bool); exists && isBool {
			continue
		}
		integrations[key] = v
	}

	hoisted := map[string]any{}
	for key, v := range opts {
		if toplevel[key] {
			hoisted[key] = v
		} else {
			msgContext[key] = v
		}
	}

	env := &Envelope{
		Type:         call.Type,
		MessageID:    messageID(call),
		UserID:       call.UserID,
		GroupID:      call.GroupID,
		PreviousID:   call.PreviousID,
		Event:        call.Event,
		Category:     call.Category,
		Name:         call.Name,
		Properties:   cloneOrNil(call.Properties),
		Traits:       cloneOrNil(call.Traits),
		Context:      msgContext,
		Integrations: integrations,
		Timestamp:    n.timestamp(hoisted["timestamp"]),
	}

	env.AnonymousID = n.anonymousID(hoisted["anonymousId"])

	page := map[string]any{}
	if n.PageDefaults != nil {
		page = n.PageDefaults().Map()
	}
	if callerPage, ok := maputil.AsMap(msgContext["page"]); ok {
		maputil.Merge(page, callerPage)
	}
	msgContext["page"] = page

	log.Debug("normalize ->", "type", env.Type, "messageId", env.MessageID)
	return env
}

func (n *Normalizer) names() []string {
	if n.Integrations == nil {
		return nil
	}
	return n.Integrations()
}

// anonymousID writes a caller-supplied id back into the identity and then
// returns the identity's value, which always wins.
func (n *Normalizer) anonymousID(v any) string {
	supplied, _ := v.(string)
	if n.Identity == nil {
		if supplied != "" {
			return supplied
		}
		return uuid.NewString()
	}
	if supplied != "" {
		n.Identity.SetAnonymousID(supplied)
	}
	return n.Identity.AnonymousID()
}

func (n *Normalizer) timestamp(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		if !t.IsZero() {
			return t
		}
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed
		}
	}
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}

// messageID hashes the serialized call together with a random token so
// that byte-identical calls still get distinct ids.
func messageID(call Call) string {
	data, err := json.Marshal(call)
	if err != nil {
		data = []byte(fmt.Sprintf("%#v", call))
	}
	sum := md5.Sum(append(data, uuid.NewString()...))
	return MessageIDPrefix + hex.EncodeToString(sum[:])
}

func cloneMapValue(v any) map[string]any {
	m, ok := maputil.AsMap(v)
	if !ok {
		return map[string]any{}
	}
	return maputil.Clone(m)
}

// nameSet matches integration names exactly or by case folding. "All" is
// always a member.
type nameSet struct {
	exact  map[string]bool
	folded map[string]bool
	fold   cases.Caser
}

func newNameSet(names []string) *nameSet {
	s := &nameSet{
		exact:  make(map[string]bool, len(names)),
		folded: make(map[string]bool, len(names)+1),
		fold:   cases.Fold(),
	}
	for _, name := range names {
		s.exact[name] = true
		s.folded[s.fold.String(name)] = true
	}
	s.folded[s.fold.String("All")] = true
	return s
}

func (s *nameSet) has(name string) bool {
	return s.exact[name] || s.folded[s.fold.String(name)]
}
