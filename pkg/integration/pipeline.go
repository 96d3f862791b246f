package integration

import (
	"context"
	"io"
	"sync"

	"github.com/kart-io/trackhub/pkg/errors"
	"github.com/kart-io/trackhub/pkg/logger"
	"github.com/kart-io/trackhub/pkg/message"
	"github.com/kart-io/trackhub/pkg/metrics"
	"github.com/kart-io/trackhub/pkg/middleware"
	"github.com/kart-io/trackhub/pkg/observability"
)

// PipelineState is the startup state of the pipeline.
type PipelineState string

const (
	StateUninitialized PipelineState = "uninitialized"
	StateInitializing  PipelineState = "initializing"
	StateAllReady      PipelineState = "ready"
)

// InitOptions are the options of one Initialize call.
type InitOptions struct {
	// Integrations is the init-time enable map, e.g. {"All": false,
	// "Console": true}. An explicit false, or All false without a truthy
	// entry, keeps an integration from being instantiated.
	Integrations map[string]any
	// InitialPageview signals that the host will emit an automatic first
	// page call.
	InitialPageview bool
}

// Report summarizes one dispatch.
type Report struct {
	// Dropped is set when the source chain dropped the message or failed.
	Dropped bool
	// Err is the source chain error, if any.
	Err error
	// Delivered lists integrations whose Invoke succeeded.
	Delivered []string
	// Disabled lists integrations the envelope disabled.
	Disabled []string
	// Skipped lists integrations that failed to initialize.
	Skipped []string
	// Filtered lists integrations whose integration or destination chain
	// dropped the message.
	Filtered []string
	// Failed lists integrations whose chain or delivery failed.
	Failed []string
}

type record struct {
	name     string
	instance Integration
	target   Integration // instance, possibly wrapped
	state    State
	err      error
	signaled bool
}

// Pipeline owns the registered integration classes, the instantiated
// integrations and the three middleware chains.
type Pipeline struct {
	logger    logger.Logger
	recorder  metrics.Recorder
	telemetry *observability.Provider
	onInvoke  func(*message.Envelope)

	source       *middleware.Chain
	integrations *middleware.Chain

	mu           sync.Mutex
	descriptors  map[string]Descriptor
	order        []string
	destinations map[string]*middleware.Chain

	generation uint64
	state      PipelineState
	records    []*record
	failed     []string
	readyCount int
	readyCh    chan struct{}
	readyFns   []func()
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Pipeline) { p.logger = logger.OrDiscard(l) }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(p *Pipeline) { p.recorder = metrics.OrNoop(r) }
}

// WithTelemetry sets the tracing provider.
func WithTelemetry(t *observability.Provider) Option {
	return func(p *Pipeline) { p.telemetry = t }
}

// WithInvokeHook registers fn to observe every envelope that passes the
// source chain.
func WithInvokeHook(fn func(*message.Envelope)) Option {
	return func(p *Pipeline) { p.onInvoke = fn }
}

// NewPipeline creates an empty pipeline.
func NewPipeline(opts ...Option) *Pipeline {
	p := &Pipeline{
		logger:       logger.Discard,
		recorder:     metrics.Noop{},
		source:       middleware.NewChain(middleware.KindSource),
		integrations: middleware.NewChain(middleware.KindIntegration),
		descriptors:  make(map[string]Descriptor),
		destinations: make(map[string]*middleware.Chain),
		state:        StateUninitialized,
		readyCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register adds an integration class. Registering a name again replaces
// its factory but keeps its original position.
func (p *Pipeline) Register(d Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.descriptors[d.Name]; !exists {
		p.order = append(p.order, d.Name)
	}
	p.descriptors[d.Name] = d
	p.logger.Debug("Integration registered", "integration", d.Name)
	return nil
}

// Registered returns the registered class names in registration order.
func (p *Pipeline) Registered() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.order...)
}

// AddSourceMiddleware appends stages to the source chain.
func (p *Pipeline) AddSourceMiddleware(stages ...middleware.Stage) {
	p.source.Add(stages...)
}

// AddIntegrationMiddleware appends stages to the integration chain.
func (p *Pipeline) AddIntegrationMiddleware(stages ...middleware.Stage) {
	p.integrations.Add(stages...)
}

// AddDestinationMiddleware appends stages to the destination chain of the
// named integration, creating it on first use.
func (p *Pipeline) AddDestinationMiddleware(name string, stages ...middleware.Stage) {
	if len(stages) == 0 {
		return
	}
	p.mu.Lock()
	chain, ok := p.destinations[name]
	if !ok {
		chain = middleware.NewChain(middleware.KindDestination)
		p.destinations[name] = chain
	}
	p.mu.Unlock()
	chain.Add(stages...)
}

// Initialize instantiates every registered integration that has settings
// and is not disabled, then initializes them in registration order.
// Previously instantiated integrations are closed and discarded.
func (p *Pipeline) Initialize(ctx context.Context, settings map[string]Settings, opts InitOptions) {
	ctx, span := p.telemetry.TraceOperation(ctx, observability.SpanInitialize)
	defer span.End()

	p.mu.Lock()
	previous := p.records
	p.generation++
	gen := p.generation
	p.state = StateInitializing
	p.records = nil
	p.failed = nil
	p.readyCount = 0
	p.readyCh = make(chan struct{})

	for name := range settings {
		if _, ok := p.descriptors[name]; !ok {
			p.logger.Debug("Discarding settings of unknown integration", "integration", name)
		}
	}

	var toInit []*record
	for _, name := range p.order {
		s, ok := settings[name]
		if !ok {
			continue
		}
		if initDisabled(opts.Integrations, name) {
			p.logger.Debug("Integration disabled at initialize", "integration", name)
			continue
		}
		rec := p.instantiate(p.descriptors[name], s, opts)
		p.records = append(p.records, rec)
		toInit = append(toInit, rec)
	}

	if len(p.records) == 0 {
		p.markReadyLocked()
	}
	p.mu.Unlock()

	closeAll(previous, p.logger)

	for _, rec := range toInit {
		if rec.state == StateFailed {
			// factory failed; counts as ready immediately
			p.signalReady(gen, rec)
			continue
		}
		p.initialize(ctx, gen, rec)
	}
}

// instantiate builds one record. Called with p.mu held.
func (p *Pipeline) instantiate(d Descriptor, s Settings, opts InitOptions) (rec *record) {
	rec = &record{name: d.Name, state: StatePending}
	p.logger.Debug("Initializing integration", "integration", d.Name, "settings", s)

	defer func() {
		if r := recover(); r != nil {
			rec.instance, rec.target = nil, nil
			p.fail(rec, errors.FromPanic(r, errors.ErrIntegrationPanic, "integration factory panicked"))
		}
	}()

	instance, err := d.Factory(s.Clone())
	if err == nil && instance == nil {
		err = errors.New(errors.ErrIntegrationInit, "factory returned no integration")
	}
	if err != nil {
		p.fail(rec, err)
		return rec
	}

	rec.instance = instance
	rec.target = instance
	if initial, ok := s.Bool("initialPageview"); opts.InitialPageview && ok && !initial {
		rec.target = &initialPageSkipper{Integration: instance}
	}
	return rec
}

func (p *Pipeline) initialize(ctx context.Context, gen uint64, rec *record) {
	tags := map[string]string{metrics.TagMethod: "initialize", metrics.TagIntegrationName: rec.name}
	p.recorder.Increment(ctx, metrics.IntegrationInvoke, tags)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.FromPanic(r, errors.ErrIntegrationPanic, "integration initialize panicked")
			}
		}()
		return rec.instance.Initialize(ctx, func() { p.signalReady(gen, rec) })
	}()
	if err == nil {
		return
	}

	p.recorder.Increment(ctx, metrics.IntegrationInvokeError, tags)
	p.mu.Lock()
	if gen == p.generation {
		p.fail(rec, err)
	}
	p.mu.Unlock()
	// never block the ready gate on a broken integration
	p.signalReady(gen, rec)
}

// fail marks rec failed. Called with p.mu held.
func (p *Pipeline) fail(rec *record, err error) {
	if _, coded := errors.GetCode(err); !coded {
		err = errors.Wrap(err, errors.ErrIntegrationInit, "integration failed to initialize")
	}
	if te, ok := err.(*errors.TrackError); ok && te.Integration == "" {
		te.WithIntegration(rec.name)
	}
	rec.state = StateFailed
	rec.err = err
	p.failed = append(p.failed, rec.name)
	p.logger.Error("Error initializing integration", "integration", rec.name, "error", err)
}

func (p *Pipeline) signalReady(gen uint64, rec *record) {
	p.mu.Lock()
	if gen != p.generation || rec.signaled {
		p.mu.Unlock()
		return
	}
	rec.signaled = true
	if rec.state == StatePending {
		rec.state = StateReady
	}
	p.readyCount++
	p.logger.Debug("Integration ready", "integration", rec.name, "ready", p.readyCount, "total", len(p.records))
	if p.readyCount >= len(p.records) {
		p.markReadyLocked()
	}
	p.mu.Unlock()
}

// markReadyLocked performs the one-time ready transition of the current
// generation. Called with p.mu held.
func (p *Pipeline) markReadyLocked() {
	if p.state == StateAllReady {
		return
	}
	p.state = StateAllReady
	close(p.readyCh)
	fns := p.readyFns
	p.readyFns = nil
	p.logger.Debug("All integrations ready", "count", len(p.records))
	for _, fn := range fns {
		go fn()
	}
}

// Ready runs fn once every integration is ready. If the pipeline is
// already ready fn runs on a new goroutine right away.
func (p *Pipeline) Ready(fn func()) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateAllReady {
		go fn()
		return
	}
	p.readyFns = append(p.readyFns, fn)
}

// Done returns a channel closed when the current initialization is ready.
func (p *Pipeline) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readyCh
}

// WaitReady blocks until the pipeline is ready or ctx is done.
func (p *Pipeline) WaitReady(ctx context.Context) error {
	select {
	case <-p.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the startup state.
func (p *Pipeline) State() PipelineState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Records describes the instantiated integrations in registration order.
func (p *Pipeline) Records() []Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Record, 0, len(p.records))
	for _, rec := range p.records {
		r := Record{Name: rec.name, State: rec.state}
		if rec.err != nil {
			r.Error = rec.err.Error()
		}
		out = append(out, r)
	}
	return out
}

// FailedInitializations lists integrations whose initialization failed.
func (p *Pipeline) FailedInitializations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.failed...)
}

// Names lists the instantiated integrations in registration order.
func (p *Pipeline) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.records))
	for _, rec := range p.records {
		names = append(names, rec.name)
	}
	return names
}

// Close closes every instantiated integration that implements io.Closer
// and returns the pipeline to the uninitialized state.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	records := p.records
	p.records = nil
	p.failed = nil
	p.generation++
	p.state = StateUninitialized
	p.readyCh = make(chan struct{})
	p.mu.Unlock()

	return closeAll(records, p.logger)
}

func closeAll(records []*record, log logger.Logger) error {
	var lastErr error
	for _, rec := range records {
		c, ok := rec.instance.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			log.Error("Failed to close integration", "integration", rec.name, "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// initDisabled applies the init-time enable map.
func initDisabled(enable map[string]any, name string) bool {
	if enable == nil {
		return false
	}
	if v, ok := enable[name].(bool); ok && !v {
		return true
	}
	if all, ok := enable["All"].(bool); ok && !all && !truthy(enable[name]) {
		return true
	}
	return false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case float64:
		return t != 0
	default:
		return true
	}
}
