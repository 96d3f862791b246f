package entity

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/kart-io/trackhub/pkg/logger"
	"github.com/kart-io/trackhub/pkg/storage"
)

const (
	anonymousIDKey = "ajs_anonymous_id"
	// legacyAnonymousKey holds "<id>----<timestamp>" as raw, unencoded text.
	legacyAnonymousKey = "_sio"
)

// UserDefaults are the storage keys and persistence of the user record.
var UserDefaults = Options{
	Persist:         Bool(true),
	CookieKey:       "ajs_user_id",
	OldCookieKey:    "ajs_user",
	LocalStorageKey: "ajs_user_traits",
}

// User is the identity record of the current visitor. On top of Entity it
// carries an anonymous id that is always present.
type User struct {
	*Entity
}

// NewUser creates the user record bound to one of tiers.
func NewUser(tiers *storage.Tiers, opts Options, log logger.Logger) *User {
	u := &User{Entity: newEntity("user", UserDefaults, tiers, opts, log)}
	u.onIDChange = u.idChanged
	return u
}

// idChanged regenerates the anonymous id when a known user becomes a
// different known user. Clearing the id, or setting the same id again,
// keeps it.
func (u *User) idChanged(prev, next string) {
	if prev == "" || next == "" || prev == next {
		return
	}
	u.logger.Debug("User id changed, resetting anonymous id", "previous", prev, "id", next)
	u.SetAnonymousID("")
}

// AnonymousID returns the anonymous id, generating and storing a random
// one when no tier has it.
func (u *User) AnonymousID() string {
	if id, ok := readString(u.store, anonymousIDKey); ok {
		u.setAnonymousIDInLocalStorage(id)
		// refresh to extend expiry
		writeString(u.store, anonymousIDKey, id)
		return id
	}

	if !u.opts.LocalStorageFallbackDisabled {
		if id, ok := readString(u.tiers.Local, anonymousIDKey); ok {
			writeString(u.store, anonymousIDKey, id)
			return id
		}
	}

	if raw, ok := u.tiers.Cookie.Get(legacyAnonymousKey); ok && raw != "" {
		id := strings.SplitN(raw, "----", 2)[0]
		if id != "" {
			writeString(u.store, anonymousIDKey, id)
			u.setAnonymousIDInLocalStorage(id)
			u.tiers.Cookie.Remove(legacyAnonymousKey)
			return id
		}
	}

	id := uuid.NewString()
	writeString(u.store, anonymousIDKey, id)
	u.setAnonymousIDInLocalStorage(id)
	if stored, ok := readString(u.store, anonymousIDKey); ok {
		return stored
	}
	return id
}

// SetAnonymousID stores id as the anonymous id. "" removes it, so the next
// read generates a fresh one.
func (u *User) SetAnonymousID(id string) {
	writeString(u.store, anonymousIDKey, id)
	u.setAnonymousIDInLocalStorage(id)
}

func (u *User) setAnonymousIDInLocalStorage(id string) {
	if !u.opts.LocalStorageFallbackDisabled {
		writeString(u.tiers.Local, anonymousIDKey, id)
	}
}

// Logout clears the user and its anonymous id.
func (u *User) Logout() {
	u.Entity.Logout()
	u.SetAnonymousID("")
}

// Reset logs out and restores the default options.
func (u *User) Reset() {
	u.Logout()
	u.SetOptions(Options{})
}

// Load migrates the legacy single-blob cookie if present, otherwise
// reloads id and traits from storage.
func (u *User) Load() {
	if u.loadOldCookie() {
		return
	}
	u.Entity.Load()
}

type legacyUser struct {
	ID     any            `json:"id"`
	Traits map[string]any `json:"traits"`
}

func (u *User) loadOldCookie() bool {
	if u.opts.OldCookieKey == "" {
		return false
	}
	var old legacyUser
	if !storage.GetJSON(u.tiers.Cookie, u.opts.OldCookieKey, &old) {
		return false
	}

	u.SetID(legacyID(old.ID))
	u.SetTraits(old.Traits)
	u.tiers.Cookie.Remove(u.opts.OldCookieKey)
	u.logger.Info("Migrated legacy user cookie", "key", u.opts.OldCookieKey)
	return true
}

func legacyID(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
