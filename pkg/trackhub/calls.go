package trackhub

import (
	"context"
	"time"

	"github.com/kart-io/trackhub/internal/maputil"
	"github.com/kart-io/trackhub/pkg/config"
	"github.com/kart-io/trackhub/pkg/integration"
	"github.com/kart-io/trackhub/pkg/message"
)

// PlanFallbackIntegration keeps receiving events the tracking plan
// disables.
const PlanFallbackIntegration = "Segment.io"

// IdentifyCall identifies the user. An empty UserID keeps the current id
// and merges Traits into the current traits.
type IdentifyCall struct {
	UserID   string
	Traits   map[string]any
	Options  map[string]any
	Callback func()
}

// GroupCall identifies the group. An empty GroupID keeps the current id.
type GroupCall struct {
	GroupID  string
	Traits   map[string]any
	Options  map[string]any
	Callback func()
}

// TrackCall records an event.
type TrackCall struct {
	Event      string
	Properties map[string]any
	Options    map[string]any
	Callback   func()
}

// PageCall records a page view. Name and Category are copied into the
// properties; page defaults fill the properties the caller left out.
type PageCall struct {
	Category   string
	Name       string
	Properties map[string]any
	Options    map[string]any
	Callback   func()
}

// AliasCall links the identity From (may be empty) to To.
type AliasCall struct {
	To       string
	From     string
	Options  map[string]any
	Callback func()
}

// Result is the outcome of one call: the envelope handed to the source
// chain and the dispatch report.
type Result struct {
	Envelope *message.Envelope
	Report   integration.Report
}

// Identify sets the user id and traits and dispatches an identify
// envelope carrying the user's full traits.
func (a *Analytics) Identify(ctx context.Context, call IdentifyCall) *Result {
	a.mu.Lock()
	id := call.UserID
	if id == "" {
		id = a.user.ID()
	}
	a.user.Identify(id, call.Traits)
	env := a.normalizer.Normalize(message.Call{
		Type:    message.TypeIdentify,
		Options: call.Options,
		Traits:  a.user.Traits(),
		UserID:  a.user.ID(),
	})
	a.mergeInitIntegrations(env)
	a.mu.Unlock()

	return a.finish(ctx, EventIdentify, env, call, call.Callback)
}

// Group sets the group id and traits and dispatches a group envelope.
func (a *Analytics) Group(ctx context.Context, call GroupCall) *Result {
	a.mu.Lock()
	id := call.GroupID
	if id == "" {
		id = a.group.ID()
	}
	a.group.Identify(id, call.Traits)
	env := a.normalizer.Normalize(message.Call{
		Type:    message.TypeGroup,
		Options: call.Options,
		Traits:  a.group.Traits(),
		GroupID: a.group.ID(),
	})
	a.mergeInitIntegrations(env)
	a.mu.Unlock()

	return a.finish(ctx, EventGroup, env, call, call.Callback)
}

// Track dispatches a track envelope. The tracking plan decides which
// integrations the event reaches; per-call integrations win over it.
func (a *Analytics) Track(ctx context.Context, call TrackCall) *Result {
	a.mu.Lock()
	env := a.normalizer.Normalize(message.Call{
		Type:       message.TypeTrack,
		Options:    call.Options,
		Properties: maputil.Clone(call.Properties),
		Event:      call.Event,
	})
	plan := a.planIntegrations(call.Event)
	env.Integrations = maputil.Merge(a.mergeInitAndPlanIntegrations(plan), env.Integrations)
	a.mu.Unlock()

	return a.finish(ctx, EventTrack, env, call, call.Callback)
}

// Page dispatches a page envelope.
func (a *Analytics) Page(ctx context.Context, call PageCall) *Result {
	props := maputil.Clone(call.Properties)
	if call.Name != "" {
		props["name"] = call.Name
	}
	if call.Category != "" {
		props["category"] = call.Category
	}

	a.mu.Lock()
	defaults := a.page.Map()
	overrides := make(map[string]any, len(defaults))
	for _, key := range message.PageKeys {
		if _, ok := props[key]; !ok {
			props[key] = defaults[key]
		}
		overrides[key] = props[key]
	}

	// mirror page fields to context.page, caller-set context.page wins
	opts := maputil.Clone(call.Options)
	msgContext, ok := maputil.AsMap(opts["context"])
	if !ok {
		msgContext = map[string]any{}
	}
	if callerPage, ok := maputil.AsMap(msgContext["page"]); ok {
		maputil.Merge(overrides, callerPage)
	}
	msgContext["page"] = overrides
	opts["context"] = msgContext

	env := a.normalizer.Normalize(message.Call{
		Type:       message.TypePage,
		Options:    opts,
		Properties: props,
		Category:   call.Category,
		Name:       call.Name,
	})
	a.mergeInitIntegrations(env)
	a.mu.Unlock()

	return a.finish(ctx, EventPage, env, call, call.Callback)
}

// Pageview records a page view of url, taken as the page path.
func (a *Analytics) Pageview(ctx context.Context, url string) *Result {
	props := map[string]any{}
	if url != "" {
		props["path"] = url
	}
	return a.Page(ctx, PageCall{Properties: props})
}

// Alias dispatches an alias envelope.
func (a *Analytics) Alias(ctx context.Context, call AliasCall) *Result {
	a.mu.Lock()
	env := a.normalizer.Normalize(message.Call{
		Type:       message.TypeAlias,
		Options:    call.Options,
		UserID:     call.To,
		PreviousID: call.From,
	})
	a.mergeInitIntegrations(env)
	a.mu.Unlock()

	return a.finish(ctx, EventAlias, env, call, call.Callback)
}

func (a *Analytics) finish(ctx context.Context, t EventType, env *message.Envelope, call any, cb func()) *Result {
	report := a.pipeline.Invoke(ctx, env.Type, env)
	a.emitter.emit(Event{Type: t, Envelope: env, Call: call})
	a.callback(cb)
	return &Result{Envelope: env, Report: report}
}

// callback schedules fn after the timeout, or on a new goroutine when the
// timeout is zero. It only signals that dispatch was accepted.
func (a *Analytics) callback(fn func()) {
	if fn == nil {
		return
	}
	if d := time.Duration(a.timeout.Load()); d > 0 {
		time.AfterFunc(d, fn)
		return
	}
	go fn()
}

// mergeInitIntegrations puts the init-time enable map under the
// envelope's own entries. Called with a.mu held.
func (a *Analytics) mergeInitIntegrations(env *message.Envelope) {
	if a.cfg.Integrations == nil {
		return
	}
	env.Integrations = maputil.Merge(maputil.Clone(a.cfg.Integrations), env.Integrations)
}

// planIntegrations returns the plan's integration map for event. Called
// with a.mu held.
func (a *Analytics) planIntegrations(event string) map[string]any {
	events := a.cfg.Plan.Track
	if p, ok := events[event]; ok {
		a.log.Debug("plan", "event", event, "enabled", p.IsEnabled())
		if !p.IsEnabled() {
			return disabledByPlan()
		}
		return maputil.Clone(p.Integrations)
	}
	if p, ok := events[config.DefaultPlanEvent]; ok && !p.IsEnabled() {
		return disabledByPlan()
	}
	return map[string]any{}
}

func disabledByPlan() map[string]any {
	return map[string]any{"All": false, PlanFallbackIntegration: true}
}

// mergeInitAndPlanIntegrations lets the plan disable integrations that
// were enabled at init, but never re-enable one that was explicitly
// disabled. Called with a.mu held.
func (a *Analytics) mergeInitAndPlanIntegrations(plan map[string]any) map[string]any {
	initial := a.cfg.Integrations
	if initial == nil {
		return plan
	}

	merged := maputil.Clone(initial)
	if all, ok := plan["All"].(bool); ok && !all {
		merged = map[string]any{"All": false}
	}
	for name, v := range plan {
		if enabled, ok := initial[name].(bool); ok && !enabled {
			continue
		}
		merged[name] = v
	}
	return merged
}
