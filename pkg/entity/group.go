package entity

import (
	"github.com/kart-io/trackhub/pkg/logger"
	"github.com/kart-io/trackhub/pkg/storage"
)

// GroupDefaults are the storage keys and persistence of the group record.
var GroupDefaults = Options{
	Persist:         Bool(true),
	CookieKey:       "ajs_group_id",
	LocalStorageKey: "ajs_group_properties",
}

// Group is the identity record of the account or organization the user
// belongs to.
type Group struct {
	*Entity
}

// NewGroup creates the group record bound to one of tiers.
func NewGroup(tiers *storage.Tiers, opts Options, log logger.Logger) *Group {
	return &Group{Entity: newEntity("group", GroupDefaults, tiers, opts, log)}
}
