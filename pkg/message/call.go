package message

// Call is the loosely shaped argument bag handed to the Normalizer. The
// facade fills it from a typed call.
type Call struct {
	Type       Type           `json:"type"`
	Options    map[string]any `json:"options,omitempty"`
	Traits     map[string]any `json:"traits,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Event      string         `json:"event,omitempty"`
	UserID     string         `json:"userId,omitempty"`
	GroupID    string         `json:"groupId,omitempty"`
	PreviousID string         `json:"previousId,omitempty"`
	Category   string         `json:"category,omitempty"`
	Name       string         `json:"name,omitempty"`
}
