// Package trackhub is the public entry point of TrackHub. An Analytics
// value owns the identity records, the storage tiers, the integration
// pipeline and its middleware, and turns typed calls into envelopes that
// are fanned out to every enabled integration.
//
// Create one Analytics per process (or per tenant) with New, register
// integrations and middleware, call Initialize, then emit calls. Close
// releases everything New acquired.
package trackhub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kart-io/trackhub/internal/maputil"
	"github.com/kart-io/trackhub/pkg/config"
	"github.com/kart-io/trackhub/pkg/entity"
	"github.com/kart-io/trackhub/pkg/errors"
	"github.com/kart-io/trackhub/pkg/integration"
	"github.com/kart-io/trackhub/pkg/logger"
	"github.com/kart-io/trackhub/pkg/message"
	"github.com/kart-io/trackhub/pkg/metrics"
	"github.com/kart-io/trackhub/pkg/middleware"
	"github.com/kart-io/trackhub/pkg/observability"
	"github.com/kart-io/trackhub/pkg/storage"
)

// Analytics is the explicit context object shared by every call. It is
// safe for concurrent use: calls that touch identity are serialized,
// dispatch itself runs concurrently.
type Analytics struct {
	log       *logger.Switch
	emitter   *emitter
	pipeline  *integration.Pipeline
	recorder  metrics.Recorder
	telemetry *observability.Provider

	tiers *storage.Tiers
	now   func() time.Time

	timeout atomic.Int64

	// mu serializes access to identity, configuration and normalization.
	mu         sync.Mutex
	cfg        config.Config
	user       *entity.User
	group      *entity.Group
	normalizer *message.Normalizer
	page       message.PageDefaults
	initGen    uint64

	closers   []func(context.Context) error
	closeOnce sync.Once
	closeErr  error
}

// Option configures New.
type Option func(*options)

type options struct {
	logger     logger.Logger
	tiers      *storage.Tiers
	recorder   metrics.Recorder
	telemetry  *observability.Provider
	page       *message.PageDefaults
	now        func() time.Time
	registerer prometheus.Registerer
}

// WithLogger overrides the logger built from the configuration.
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTiers supplies the storage tiers. The caller keeps ownership.
func WithTiers(t *storage.Tiers) Option {
	return func(o *options) { o.tiers = t }
}

// WithRecorder supplies the metrics recorder, bypassing the configured
// backend and sampling.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithTelemetry supplies the tracing provider. The caller keeps ownership.
func WithTelemetry(p *observability.Provider) Option {
	return func(o *options) { o.telemetry = p }
}

// WithPageDefaults overrides the configured page defaults.
func WithPageDefaults(p message.PageDefaults) Option {
	return func(o *options) { o.page = &p }
}

// WithClock sets the time source used for envelope timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithPrometheusRegisterer sets the registry used by the prometheus
// metrics backend. Default prometheus.DefaultRegisterer.
func WithPrometheusRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// New builds an Analytics from cfg (config.Default() when nil). Storage
// tiers, metrics and tracing are created from the configuration unless
// supplied as options.
func New(cfg *config.Config, opts ...Option) (*Analytics, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	base := o.logger
	if base == nil {
		base = cfg.Logger()
	}

	a := &Analytics{
		log: logger.NewSwitch(base),
		cfg: *cfg,
		now: o.now,
	}
	a.cfg.Integrations = cloneOrNil(cfg.Integrations)
	a.timeout.Store(int64(cfg.Timeout))
	a.emitter = newEmitter(a.log.With("component", "emitter"))

	if err := a.setupTelemetry(o); err != nil {
		return nil, err
	}
	a.setupTiers(o)
	a.setupRecorder(o)
	a.setupPage(o)

	a.user = entity.NewUser(a.tiers, a.cfg.User, a.log)
	a.group = entity.NewGroup(a.tiers, a.cfg.Group, a.log)

	a.pipeline = integration.NewPipeline(
		integration.WithLogger(a.log.With("component", "pipeline")),
		integration.WithRecorder(a.recorder),
		integration.WithTelemetry(a.telemetry),
		integration.WithInvokeHook(func(env *message.Envelope) {
			a.emitter.emit(Event{Type: EventInvoke, Envelope: env})
		}),
	)
	if rl := a.cfg.RateLimit; rl.PerSecond > 0 {
		a.pipeline.AddSourceMiddleware(middleware.NewRateLimit(middleware.RateLimitConfig{
			PerSecond: rl.PerSecond,
			Burst:     rl.Burst,
			Logger:    a.log.With("component", "rate_limit"),
			Now:       a.now,
		}))
	}
	a.normalizer = &message.Normalizer{
		Integrations: a.pipeline.Names,
		Identity:     a.user,
		PageDefaults: func() message.PageDefaults { return a.page },
		Now:          a.now,
		Logger:       a.log,
	}
	return a, nil
}

func (a *Analytics) setupTelemetry(o *options) error {
	if o.telemetry != nil {
		a.telemetry = o.telemetry
		return nil
	}
	p, err := observability.NewProvider(context.Background(), a.cfg.Telemetry)
	if err != nil {
		return errors.Wrap(err, errors.ErrInvalidConfig, "failed to set up telemetry")
	}
	a.telemetry = p
	a.closers = append(a.closers, p.Shutdown)
	return nil
}

func (a *Analytics) setupTiers(o *options) {
	if o.tiers != nil {
		a.tiers = o.tiers
		return
	}

	var cookie, local storage.Store
	if a.cfg.Cookie.Enabled {
		cookie = storage.NewRedisStore(a.cfg.Cookie.RedisOptions(), a.log)
	}
	if a.cfg.LocalStorage.Enabled {
		s, err := storage.NewSQLiteStore(a.cfg.LocalStorage.Path, true, a.log)
		if err != nil {
			a.log.Warn("Local storage unavailable", "path", a.cfg.LocalStorage.Path, "error", err)
		} else {
			local = s
		}
	}
	a.tiers = storage.NewTiers(cookie, local, nil, a.log)
	a.closers = append(a.closers, func(context.Context) error { return a.tiers.Close() })
}

func (a *Analytics) setupRecorder(o *options) {
	if o.recorder != nil {
		a.recorder = o.recorder
		return
	}

	var inner metrics.Recorder
	switch a.cfg.Metrics.Backend {
	case config.MetricsOTel:
		inner = metrics.NewOTel(a.telemetry.Meter(), a.log)
	case config.MetricsPrometheus:
		inner = metrics.NewPrometheus(o.registerer)
	default:
		a.recorder = metrics.Noop{}
		return
	}

	sampled := metrics.NewSampled(inner, a.cfg.Metrics.SampleRate,
		metrics.WithMaxQueueSize(a.cfg.Metrics.MaxQueueSize))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sampled.Run(ctx, a.cfg.Metrics.FlushInterval)
	}()

	a.recorder = sampled
	a.closers = append(a.closers, func(context.Context) error {
		cancel()
		<-done
		return nil
	})
}

func (a *Analytics) setupPage(o *options) {
	switch {
	case o.page != nil:
		a.page = *o.page
	case a.cfg.Page.URL != "" && a.cfg.Page.Path == "":
		a.page = message.PageDefaultsFromURL(a.cfg.Page.URL, a.cfg.Page.Title, a.cfg.Page.Referrer)
	default:
		a.page = a.cfg.Page
	}
}

// Initialize applies opts to the configuration, reloads the user and
// group, and initializes every registered integration that has settings.
// settings nil uses the configured settings. After the integrations are
// started it emits EventInitialize, performs the initial pageview when
// configured and applies the bootstrap query.
//
// Only invalid options produce an error; integration failures are logged
// and the integration is skipped.
func (a *Analytics) Initialize(ctx context.Context, settings map[string]integration.Settings, opts ...config.Option) error {
	a.mu.Lock()
	cfg := a.cfg
	cfg.Integrations = cloneOrNil(a.cfg.Integrations)
	if err := cfg.Apply(opts...); err != nil {
		a.mu.Unlock()
		return err
	}
	if err := cfg.Validate(); err != nil {
		a.mu.Unlock()
		return err
	}
	a.cfg = cfg
	if len(opts) > 0 {
		a.timeout.Store(int64(cfg.Timeout))
	}

	a.user.SetOptions(cfg.User)
	a.group.SetOptions(cfg.Group)
	a.user.Load()
	a.group.Load()

	a.initGen++
	gen := a.initGen
	a.mu.Unlock()

	if settings == nil {
		settings = make(map[string]integration.Settings, len(cfg.Settings))
		for name, s := range cfg.Settings {
			settings[name] = s
		}
	}

	a.pipeline.Initialize(ctx, settings, integration.InitOptions{
		Integrations:    cfg.Integrations,
		InitialPageview: cfg.InitialPageview,
	})
	a.pipeline.Ready(func() {
		if a.generation() == gen {
			a.emitter.emit(Event{Type: EventReady})
		}
	})

	emitted := make(map[string]map[string]any, len(settings))
	for name, s := range settings {
		emitted[name] = maputil.Clone(s)
	}
	a.emitter.emit(Event{Type: EventInitialize, Call: InitializeEvent{
		Settings:        emitted,
		Integrations:    cloneOrNil(cfg.Integrations),
		InitialPageview: cfg.InitialPageview,
	}})

	if cfg.InitialPageview {
		a.Page(ctx, PageCall{})
	}
	if cfg.Query != "" {
		a.ParseQuery(ctx, cfg.Query)
	}
	return nil
}

func (a *Analytics) generation() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.initGen
}

// AddIntegration registers an integration class.
func (a *Analytics) AddIntegration(d integration.Descriptor) error {
	return a.pipeline.Register(d)
}

// Use runs plugin against a and returns a.
func (a *Analytics) Use(plugin func(*Analytics)) *Analytics {
	if plugin != nil {
		plugin(a)
	}
	return a
}

// AddSourceMiddleware appends stages to the source chain.
func (a *Analytics) AddSourceMiddleware(stages ...middleware.Stage) {
	a.pipeline.AddSourceMiddleware(stages...)
}

// AddIntegrationMiddleware appends stages to the integration chain.
func (a *Analytics) AddIntegrationMiddleware(stages ...middleware.Stage) {
	a.pipeline.AddIntegrationMiddleware(stages...)
}

// AddDestinationMiddleware appends stages to the destination chain of the
// named integration.
func (a *Analytics) AddDestinationMiddleware(name string, stages ...middleware.Stage) {
	a.pipeline.AddDestinationMiddleware(name, stages...)
}

// Ready runs fn once every integration is ready, on its own goroutine.
func (a *Analytics) Ready(fn func()) {
	a.pipeline.Ready(fn)
}

// WaitReady blocks until every integration is ready or ctx is done.
func (a *Analytics) WaitReady(ctx context.Context) error {
	return a.pipeline.WaitReady(ctx)
}

// On subscribes h to events of type t and returns a function removing the
// subscription. Handlers run on the emitting goroutine and must not block.
func (a *Analytics) On(t EventType, h Handler) (unsubscribe func()) {
	return a.emitter.on(t, h, false)
}

// Once is like On but h runs at most once.
func (a *Analytics) Once(t EventType, h Handler) (unsubscribe func()) {
	return a.emitter.on(t, h, true)
}

// Integrations describes the instantiated integrations.
func (a *Analytics) Integrations() []integration.Record {
	return a.pipeline.Records()
}

// Registered lists the registered integration classes.
func (a *Analytics) Registered() []string {
	return a.pipeline.Registered()
}

// State returns the startup state of the pipeline.
func (a *Analytics) State() integration.PipelineState {
	return a.pipeline.State()
}

// SetTimeout sets the completion callback delay. Zero runs callbacks on a
// new goroutine right away.
func (a *Analytics) SetTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	a.timeout.Store(int64(d))
}

// Timeout returns the completion callback delay.
func (a *Analytics) Timeout() time.Duration {
	return time.Duration(a.timeout.Load())
}

// Debug switches debug logging on or off.
func (a *Analytics) Debug(enabled bool) {
	a.log.SetDebug(enabled)
}

// Logger returns the logger shared by every component.
func (a *Analytics) Logger() logger.Logger { return a.log }

// User returns the user record. The record itself is not synchronized;
// prefer the Analytics methods while calls are in flight.
func (a *Analytics) User() *entity.User { return a.user }

// GroupEntity returns the group record. The record itself is not
// synchronized; prefer the Analytics methods while calls are in flight.
func (a *Analytics) GroupEntity() *entity.Group { return a.group }

// UserID returns the current user id.
func (a *Analytics) UserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.user.ID()
}

// AnonymousID returns the current anonymous id, creating one if needed.
func (a *Analytics) AnonymousID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.user.AnonymousID()
}

// SetAnonymousID sets the anonymous id of the user.
func (a *Analytics) SetAnonymousID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.user.SetAnonymousID(id)
}

// Reset logs out the user and the group.
func (a *Analytics) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.user.Logout()
	a.group.Logout()
}

// Close closes the integrations, stops the metrics flusher, shuts down
// tracing and closes the storage tiers created by New. It is safe to call
// more than once.
func (a *Analytics) Close() error {
	a.closeOnce.Do(func() {
		a.closeErr = a.pipeline.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](ctx); err != nil {
				a.log.Error("Failed to release resource", "error", err)
				if a.closeErr == nil {
					a.closeErr = err
				}
			}
		}
	})
	return a.closeErr
}

func cloneOrNil(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return maputil.Clone(m)
}
