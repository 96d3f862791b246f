package trackhub

import (
	"context"
	"net/url"
	"strings"
)

const (
	queryUserID      = "ajs_uid"
	queryEvent       = "ajs_event"
	queryAnonymousID = "ajs_aid"
	queryTraitPrefix = "ajs_trait_"
	queryPropPrefix  = "ajs_prop_"
)

// ParseQuery applies a bootstrap query string: ajs_uid identifies the user
// with the ajs_trait_* parameters as traits, ajs_event tracks an event
// with the ajs_prop_* parameters as properties, and ajs_aid sets the
// anonymous id. A leading "?" is ignored; repeated parameters use their
// first value. An unparsable query is logged and ignored.
func (a *Analytics) ParseQuery(ctx context.Context, query string) {
	q, err := url.ParseQuery(strings.TrimPrefix(query, "?"))
	if err != nil {
		a.log.Warn("Ignoring malformed bootstrap query", "error", err)
		return
	}

	traits := pickPrefix(queryTraitPrefix, q)
	props := pickPrefix(queryPropPrefix, q)

	if uid := q.Get(queryUserID); uid != "" {
		a.Identify(ctx, IdentifyCall{UserID: uid, Traits: traits})
	}
	if event := q.Get(queryEvent); event != "" {
		a.Track(ctx, TrackCall{Event: event, Properties: props})
	}
	if aid := q.Get(queryAnonymousID); aid != "" {
		a.SetAnonymousID(aid)
	}
}

func pickPrefix(prefix string, q url.Values) map[string]any {
	out := map[string]any{}
	for key, values := range q {
		if sub, ok := strings.CutPrefix(key, prefix); ok && len(values) > 0 {
			out[sub] = values[0]
		}
	}
	return out
}
