package trackhub

import (
	"bytes"
	"context"
	stderrors "errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/trackhub/pkg/config"
	"github.com/kart-io/trackhub/pkg/integration"
	"github.com/kart-io/trackhub/pkg/logger"
	"github.com/kart-io/trackhub/pkg/message"
	"github.com/kart-io/trackhub/pkg/middleware"
)

type fakeIntegration struct {
	name      string
	initErr   error
	holdReady bool

	mu    sync.Mutex
	ready integration.ReadyFunc
	calls []*message.Envelope
}

func (f *fakeIntegration) Name() string { return f.name }

func (f *fakeIntegration) Initialize(_ context.Context, ready integration.ReadyFunc) error {
	if f.initErr != nil {
		return f.initErr
	}
	f.mu.Lock()
	f.ready = ready
	f.mu.Unlock()
	if !f.holdReady {
		ready()
	}
	return nil
}

func (f *fakeIntegration) Invoke(_ context.Context, _ message.Type, msg *message.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, msg)
	return nil
}

func (f *fakeIntegration) received() []*message.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*message.Envelope(nil), f.calls...)
}

func (f *fakeIntegration) descriptor() integration.Descriptor {
	return integration.Descriptor{
		Name:    f.name,
		Factory: func(integration.Settings) (integration.Integration, error) { return f, nil },
	}
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newAnalytics(t *testing.T, opts ...config.Option) *Analytics {
	t.Helper()
	cfg, err := config.New(append([]config.Option{config.WithTestDefaults()}, opts...)...)
	require.NoError(t, err)

	a, err := New(cfg,
		WithClock(func() time.Time { return fixedNow }),
		WithPageDefaults(message.PageDefaultsFromURL("https://example.com/home?ref=1", "Home", "https://google.com")),
	)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

// withIntegrations registers and initializes fakes with empty settings.
func withIntegrations(t *testing.T, a *Analytics, fakes ...*fakeIntegration) {
	t.Helper()
	settings := map[string]integration.Settings{}
	for _, f := range fakes {
		require.NoError(t, a.AddIntegration(f.descriptor()))
		settings[f.name] = integration.Settings{}
	}
	require.NoError(t, a.Initialize(context.Background(), settings))
}

func TestNew_Defaults(t *testing.T) {
	a, err := New(nil, WithLogger(nil))
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, config.DefaultTimeout, a.Timeout())
	assert.Equal(t, integration.StateUninitialized, a.State())
	assert.NotEmpty(t, a.AnonymousID())
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Metrics.Backend = "statsd"
	_, err := New(cfg)
	require.Error(t, err)
}

func TestEnvelopeInvariants(t *testing.T) {
	a := newAnalytics(t)
	ctx := context.Background()

	results := []*Result{
		a.Identify(ctx, IdentifyCall{UserID: "u1"}),
		a.Track(ctx, TrackCall{Event: "Clicked"}),
		a.Page(ctx, PageCall{}),
		a.Group(ctx, GroupCall{GroupID: "g1"}),
		a.Alias(ctx, AliasCall{To: "u2", From: "u1"}),
	}

	seen := map[string]bool{}
	for _, r := range results {
		env := r.Envelope
		require.NotEmpty(t, env.MessageID)
		assert.False(t, seen[env.MessageID], "duplicate message id %s", env.MessageID)
		seen[env.MessageID] = true

		page := env.Page()
		for _, key := range message.PageKeys {
			assert.Contains(t, page, key, "%s envelope lacks context.page.%s", env.Type, key)
		}
		assert.Equal(t, fixedNow, env.Timestamp)
		assert.NotEmpty(t, env.AnonymousID)
	}
}

func TestSourceDropSuppressesDelivery(t *testing.T) {
	a := newAnalytics(t)
	x := &fakeIntegration{name: "X"}
	withIntegrations(t, a, x)

	a.AddSourceMiddleware(middleware.Func("drop", func(context.Context, *message.Envelope, middleware.Scope) (middleware.Result, error) {
		return middleware.Drop(), nil
	}))

	var invoked bool
	a.On(EventInvoke, func(Event) { invoked = true })

	r := a.Track(context.Background(), TrackCall{Event: "Dropped"})
	assert.True(t, r.Report.Dropped)
	assert.Empty(t, x.received())
	assert.False(t, invoked)
}

func TestRateLimitDropsBurstOverflow(t *testing.T) {
	a := newAnalytics(t, config.WithRateLimit(1, 2))
	x := &fakeIntegration{name: "X"}
	withIntegrations(t, a, x)

	for i := 0; i < 3; i++ {
		a.Track(context.Background(), TrackCall{Event: "Clicked"})
	}
	r := a.Track(context.Background(), TrackCall{Event: "Clicked"})
	assert.True(t, r.Report.Dropped)
	assert.Len(t, x.received(), 2)
}

func TestDestinationDropIsScoped(t *testing.T) {
	a := newAnalytics(t)
	x := &fakeIntegration{name: "X"}
	y := &fakeIntegration{name: "Y"}
	withIntegrations(t, a, x, y)

	a.AddDestinationMiddleware("X", middleware.Func("drop", func(context.Context, *message.Envelope, middleware.Scope) (middleware.Result, error) {
		return middleware.Drop(), nil
	}))

	r := a.Track(context.Background(), TrackCall{Event: "Scoped"})
	assert.Empty(t, x.received())
	assert.Len(t, y.received(), 1)
	assert.Equal(t, []string{"Y"}, r.Report.Delivered)
	assert.Equal(t, []string{"X"}, r.Report.Filtered)
}

func TestFailedInitializationIsExcludedAndReadyStillFires(t *testing.T) {
	a := newAnalytics(t)
	broken := &fakeIntegration{name: "Broken", initErr: stderrors.New("boom")}
	slow := &fakeIntegration{name: "Slow", holdReady: true}

	readyCh := make(chan struct{})
	a.Once(EventReady, func(Event) { close(readyCh) })

	withIntegrations(t, a, broken, slow)
	assert.Equal(t, integration.StateInitializing, a.State())

	slow.mu.Lock()
	ready := slow.ready
	slow.mu.Unlock()
	ready()

	select {
	case <-readyCh:
	case <-time.After(time.Second):
		t.Fatal("ready event never fired")
	}

	r := a.Track(context.Background(), TrackCall{Event: "After"})
	assert.Empty(t, broken.received())
	assert.Len(t, slow.received(), 1)
	assert.Equal(t, []string{"Broken"}, r.Report.Skipped)

	records := a.Integrations()
	require.Len(t, records, 2)
	assert.Equal(t, integration.StateFailed, records[0].State)
	assert.Contains(t, records[0].Error, "boom")
}

func TestAnonymousIDStability(t *testing.T) {
	a := newAnalytics(t)
	ctx := context.Background()

	anon0 := a.AnonymousID()

	a.Identify(ctx, IdentifyCall{UserID: "a"})
	assert.Equal(t, anon0, a.AnonymousID(), "first id keeps the anonymous id")

	a.Identify(ctx, IdentifyCall{UserID: "b"})
	anon1 := a.AnonymousID()
	assert.NotEqual(t, anon0, anon1, "switching users regenerates it")

	a.Identify(ctx, IdentifyCall{UserID: "b"})
	assert.Equal(t, anon1, a.AnonymousID(), "same id again keeps it")
}

func TestIdentifyMergeLaw(t *testing.T) {
	ctx := context.Background()

	t.Run("same id merges", func(t *testing.T) {
		a := newAnalytics(t)
		a.Identify(ctx, IdentifyCall{UserID: "u", Traits: map[string]any{"a": "1"}})
		r := a.Identify(ctx, IdentifyCall{UserID: "u", Traits: map[string]any{"b": "2"}})
		assert.Equal(t, map[string]any{"a": "1", "b": "2"}, r.Envelope.Traits)
		assert.Equal(t, "u", r.Envelope.UserID)
	})

	t.Run("new id replaces", func(t *testing.T) {
		a := newAnalytics(t)
		a.Identify(ctx, IdentifyCall{UserID: "u", Traits: map[string]any{"a": "1"}})
		r := a.Identify(ctx, IdentifyCall{UserID: "v", Traits: map[string]any{"b": "2"}})
		assert.Equal(t, map[string]any{"b": "2"}, r.Envelope.Traits)
	})

	t.Run("traits only keeps the id", func(t *testing.T) {
		a := newAnalytics(t)
		a.Identify(ctx, IdentifyCall{UserID: "u", Traits: map[string]any{"a": "1"}})
		r := a.Identify(ctx, IdentifyCall{Traits: map[string]any{"b": "2"}})
		assert.Equal(t, "u", r.Envelope.UserID)
		assert.Equal(t, map[string]any{"a": "1", "b": "2"}, r.Envelope.Traits)
	})
}

func TestGroup(t *testing.T) {
	a := newAnalytics(t)
	ctx := context.Background()

	a.Group(ctx, GroupCall{GroupID: "acme", Traits: map[string]any{"plan": "pro"}})
	r := a.Group(ctx, GroupCall{Traits: map[string]any{"seats": "10"}})

	assert.Equal(t, message.TypeGroup, r.Envelope.Type)
	assert.Equal(t, "acme", r.Envelope.GroupID)
	assert.Equal(t, map[string]any{"plan": "pro", "seats": "10"}, r.Envelope.Traits)
	assert.Equal(t, "acme", a.GroupEntity().ID())
}

func TestTrackingPlan(t *testing.T) {
	ctx := context.Background()
	plan := config.Plan{Track: map[string]config.EventPlan{
		"Archived": {Enabled: boolPtr(false)},
		"Signed Up": {Integrations: map[string]any{
			"Console":  true,
			"Mixpanel": false,
		}},
	}}

	t.Run("disabled event", func(t *testing.T) {
		a := newAnalytics(t,
			config.WithIntegrations(map[string]any{"Console": false, "Mixpanel": true}),
			config.WithPlan(plan))
		r := a.Track(ctx, TrackCall{Event: "Archived"})
		assert.Equal(t, map[string]any{"All": false, "Segment.io": true}, r.Envelope.Integrations)
	})

	t.Run("plan cannot re-enable an init-time false", func(t *testing.T) {
		a := newAnalytics(t,
			config.WithIntegrations(map[string]any{"Console": false, "Mixpanel": true}),
			config.WithPlan(plan))
		r := a.Track(ctx, TrackCall{Event: "Signed Up"})
		assert.Equal(t, false, r.Envelope.Integrations["Console"])
		assert.Equal(t, false, r.Envelope.Integrations["Mixpanel"], "plan may disable an init-time true")
	})

	t.Run("default plan disables unlisted events", func(t *testing.T) {
		a := newAnalytics(t, config.WithPlan(config.Plan{Track: map[string]config.EventPlan{
			config.DefaultPlanEvent: {Enabled: boolPtr(false)},
		}}))
		r := a.Track(ctx, TrackCall{Event: "Anything"})
		assert.Equal(t, map[string]any{"All": false, "Segment.io": true}, r.Envelope.Integrations)
	})

	t.Run("per-call integrations win", func(t *testing.T) {
		a := newAnalytics(t, config.WithPlan(plan))
		r := a.Track(ctx, TrackCall{
			Event:   "Archived",
			Options: map[string]any{"integrations": map[string]any{"Console": true}},
		})
		assert.Equal(t, map[string]any{"All": false, "Segment.io": true, "Console": true}, r.Envelope.Integrations)
	})

	t.Run("no plan and no init map", func(t *testing.T) {
		a := newAnalytics(t)
		r := a.Track(ctx, TrackCall{Event: "Plain"})
		assert.Empty(t, r.Envelope.Integrations)
	})
}

func TestInitIntegrationsMergeUnderCallIntegrations(t *testing.T) {
	a := newAnalytics(t, config.WithIntegrations(map[string]any{"All": false, "Console": true}))
	r := a.Identify(context.Background(), IdentifyCall{
		UserID:  "u",
		Options: map[string]any{"integrations": map[string]any{"Console": false}},
	})
	assert.Equal(t, map[string]any{"All": false, "Console": false}, r.Envelope.Integrations)
}

func TestPage(t *testing.T) {
	a := newAnalytics(t)
	ctx := context.Background()

	t.Run("defaults fill properties", func(t *testing.T) {
		r := a.Page(ctx, PageCall{Category: "Docs", Name: "Intro"})
		env := r.Envelope
		assert.Equal(t, "Docs", env.Category)
		assert.Equal(t, "Intro", env.Name)
		assert.Equal(t, "Intro", env.Properties["name"])
		assert.Equal(t, "Docs", env.Properties["category"])
		assert.Equal(t, "/home", env.Properties["path"])
		assert.Equal(t, "?ref=1", env.Properties["search"])
		assert.Equal(t, "Home", env.Properties["title"])
	})

	t.Run("caller values win and are mirrored", func(t *testing.T) {
		r := a.Page(ctx, PageCall{Properties: map[string]any{"title": "Custom", "plan": "pro"}})
		env := r.Envelope
		assert.Equal(t, "Custom", env.Properties["title"])
		assert.Equal(t, "pro", env.Properties["plan"])
		assert.Equal(t, "Custom", env.Page()["title"])
		assert.NotContains(t, env.Page(), "plan")
	})

	t.Run("context.page from options wins", func(t *testing.T) {
		r := a.Page(ctx, PageCall{
			Properties: map[string]any{"title": "Props"},
			Options:    map[string]any{"context": map[string]any{"page": map[string]any{"title": "Ctx"}}},
		})
		assert.Equal(t, "Ctx", r.Envelope.Page()["title"])
		assert.Equal(t, "Props", r.Envelope.Properties["title"])
	})

	t.Run("pageview", func(t *testing.T) {
		r := a.Pageview(ctx, "/pricing")
		assert.Equal(t, "/pricing", r.Envelope.Properties["path"])
		assert.Equal(t, "/pricing", r.Envelope.Page()["path"])
	})
}

func TestAlias(t *testing.T) {
	a := newAnalytics(t)
	r := a.Alias(context.Background(), AliasCall{To: "new", From: "old"})
	assert.Equal(t, message.TypeAlias, r.Envelope.Type)
	assert.Equal(t, "new", r.Envelope.UserID)
	assert.Equal(t, "old", r.Envelope.PreviousID)
}

func TestResetIsIdempotent(t *testing.T) {
	a := newAnalytics(t)
	ctx := context.Background()
	a.Identify(ctx, IdentifyCall{UserID: "u", Traits: map[string]any{"a": "1"}})
	a.Group(ctx, GroupCall{GroupID: "g"})

	for i := 0; i < 2; i++ {
		a.Reset()
		assert.Empty(t, a.UserID())
		assert.Equal(t, map[string]any{}, a.User().Traits())
		assert.Empty(t, a.GroupEntity().ID())
		assert.Equal(t, map[string]any{}, a.GroupEntity().Traits())
	}
}

func TestSetAnonymousID(t *testing.T) {
	a := newAnalytics(t)
	a.SetAnonymousID("anon-1")
	r := a.Track(context.Background(), TrackCall{Event: "E"})
	assert.Equal(t, "anon-1", r.Envelope.AnonymousID)

	r = a.Track(context.Background(), TrackCall{Event: "E", Options: map[string]any{"anonymousId": "anon-2"}})
	assert.Equal(t, "anon-2", r.Envelope.AnonymousID)
	assert.Equal(t, "anon-2", a.AnonymousID())
}

func TestCallbacks(t *testing.T) {
	ctx := context.Background()

	t.Run("zero timeout runs promptly", func(t *testing.T) {
		a := newAnalytics(t)
		done := make(chan struct{})
		a.Track(ctx, TrackCall{Event: "E", Callback: func() { close(done) }})
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("callback did not run")
		}
	})

	t.Run("timeout delays the callback", func(t *testing.T) {
		a := newAnalytics(t)
		a.SetTimeout(50 * time.Millisecond)
		start := time.Now()
		done := make(chan time.Time, 1)
		a.Identify(ctx, IdentifyCall{UserID: "u", Callback: func() { done <- time.Now() }})
		select {
		case at := <-done:
			assert.GreaterOrEqual(t, at.Sub(start), 50*time.Millisecond)
		case <-time.After(time.Second):
			t.Fatal("callback did not run")
		}
	})

	t.Run("negative timeout clamps to zero", func(t *testing.T) {
		a := newAnalytics(t)
		a.SetTimeout(-time.Second)
		assert.Zero(t, a.Timeout())
	})
}

func TestInitialize(t *testing.T) {
	a := newAnalytics(t)
	console := &fakeIntegration{name: "Console"}
	muted := &fakeIntegration{name: "Muted"}
	require.NoError(t, a.AddIntegration(console.descriptor()))
	require.NoError(t, a.AddIntegration(muted.descriptor()))

	var initEvent InitializeEvent
	a.On(EventInitialize, func(ev Event) { initEvent = ev.Call.(InitializeEvent) })

	err := a.Initialize(context.Background(), nil,
		config.WithSettings("Console", map[string]any{"indent": true}),
		config.WithSettings("Muted", map[string]any{}),
		config.WithIntegrations(map[string]any{"Muted": false}),
		config.WithInitialPageview(true),
		config.WithQuery("?ajs_uid=42&ajs_trait_email=a%40b.c&ajs_event=Landed&ajs_prop_utm=x&ajs_aid=anon-q"),
	)
	require.NoError(t, err)

	require.NoError(t, a.WaitReady(context.Background()))
	assert.Equal(t, []string{"Console"}, namesOf(a.Integrations()))
	assert.Equal(t, true, initEvent.Settings["Console"]["indent"])
	assert.True(t, initEvent.InitialPageview)

	calls := console.received()
	require.Len(t, calls, 3)
	assert.Equal(t, message.TypePage, calls[0].Type)
	assert.Equal(t, message.TypeIdentify, calls[1].Type)
	assert.Equal(t, "42", calls[1].UserID)
	assert.Equal(t, "a@b.c", calls[1].Traits["email"])
	assert.Equal(t, message.TypeTrack, calls[2].Type)
	assert.Equal(t, "Landed", calls[2].Event)
	assert.Equal(t, "x", calls[2].Properties["utm"])
	assert.Equal(t, "anon-q", a.AnonymousID())
	assert.Empty(t, muted.received())
}

func TestInitialize_InvalidOptions(t *testing.T) {
	a := newAnalytics(t)
	err := a.Initialize(context.Background(), nil, config.WithTimeout(-time.Second))
	require.Error(t, err)
	assert.Equal(t, integration.StateUninitialized, a.State())
}

func TestReadyCallback(t *testing.T) {
	a := newAnalytics(t)
	withIntegrations(t, a, &fakeIntegration{name: "X"})

	done := make(chan struct{})
	a.Ready(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ready callback did not run")
	}
}

func TestUse(t *testing.T) {
	a := newAnalytics(t)
	x := &fakeIntegration{name: "X"}
	a.Use(func(a *Analytics) { require.NoError(t, a.AddIntegration(x.descriptor())) }).Use(nil)
	assert.Equal(t, []string{"X"}, a.Registered())
}

func TestDebug(t *testing.T) {
	var buf bytes.Buffer
	a, err := New(config.Default(), WithLogger(logger.NewSlogLogger(&buf, logger.Warn)))
	require.NoError(t, err)
	defer a.Close()

	a.Debug(true)
	assert.Equal(t, logger.Debug, a.Logger().Level())
	a.Track(context.Background(), TrackCall{Event: "Verbose"})
	assert.Contains(t, buf.String(), "normalize")

	a.Debug(false)
	assert.Equal(t, logger.Warn, a.Logger().Level())
}

func TestPrometheusBackend(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg, err := config.New(config.WithTestDefaults(), config.WithMetricsBackend(config.MetricsPrometheus, 1))
	require.NoError(t, err)

	a, err := New(cfg, WithPrometheusRegisterer(reg))
	require.NoError(t, err)
	a.Track(context.Background(), TrackCall{Event: "Counted"})
	require.NoError(t, a.Close())

	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, f := range families {
		if f.GetName() == "trackhub_invoke_total" {
			found = true
			assert.Equal(t, float64(1), f.GetMetric()[0].GetCounter().GetValue())
		}
	}
	assert.True(t, found, "invoke counter not exported")
}

func TestLocalStoragePersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.db")
	build := func() *Analytics {
		cfg, err := config.New(config.WithTestDefaults(), config.WithLocalStorage(path))
		require.NoError(t, err)
		a, err := New(cfg)
		require.NoError(t, err)
		return a
	}

	first := build()
	first.Identify(context.Background(), IdentifyCall{UserID: "persisted", Traits: map[string]any{"k": "v"}})
	anon := first.AnonymousID()
	require.NoError(t, first.Close())
	require.NoError(t, first.Close(), "Close is idempotent")

	second := build()
	defer second.Close()
	assert.Equal(t, "persisted", second.UserID())
	assert.Equal(t, anon, second.AnonymousID())
	assert.Equal(t, "v", second.User().Traits()["k"])
}

func namesOf(records []integration.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Name)
	}
	return out
}

func boolPtr(b bool) *bool { return &b }
