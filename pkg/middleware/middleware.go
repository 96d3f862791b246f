// Package middleware provides the ordered interception chains applied to
// every envelope: once per call (source), once per integration
// (integration) and optionally once more per integration name
// (destination).
package middleware

import (
	"context"
	"sync"

	"github.com/kart-io/trackhub/pkg/errors"
	"github.com/kart-io/trackhub/pkg/message"
)

// Kind identifies which of the three chains is running.
type Kind string

const (
	KindSource      Kind = "source"
	KindIntegration Kind = "integration"
	KindDestination Kind = "destination"
)

// Scope is handed to every stage alongside the envelope. Integration is
// empty for the source chain; Integrations lists the names registered with
// the pipeline.
type Scope struct {
	Kind         Kind
	Integration  string
	Integrations []string
}

// Result is what a stage hands back: either a message to pass on, or a
// drop that stops the chain.
type Result struct {
	msg *message.Envelope
}

// Forward passes msg to the next stage. Forward(nil) is a drop.
func Forward(msg *message.Envelope) Result {
	return Result{msg: msg}
}

// Drop stops the chain; nothing downstream sees the message.
func Drop() Result {
	return Result{}
}

// Dropped reports whether the result is a drop.
func (r Result) Dropped() bool {
	return r.msg == nil
}

// Message returns the forwarded envelope, or nil for a drop.
func (r Result) Message() *message.Envelope {
	return r.msg
}

// Stage is one step of a chain.
type Stage interface {
	// Name returns the stage name for identification
	Name() string

	// Handle inspects or transforms msg. It must return Forward or Drop;
	// an error aborts the chain for this invocation.
	Handle(ctx context.Context, msg *message.Envelope, scope Scope) (Result, error)
}

// HandlerFunc is the function form of Stage.Handle.
type HandlerFunc func(ctx context.Context, msg *message.Envelope, scope Scope) (Result, error)

type funcStage struct {
	BaseStage
	fn HandlerFunc
}

func (s *funcStage) Handle(ctx context.Context, msg *message.Envelope, scope Scope) (Result, error) {
	return s.fn(ctx, msg, scope)
}

// Func adapts fn into a named Stage.
func Func(name string, fn HandlerFunc) Stage {
	return &funcStage{BaseStage: NewBaseStage(name), fn: fn}
}

// Chain is an append-only, ordered list of stages.
type Chain struct {
	kind Kind

	mu     sync.RWMutex
	stages []Stage
}

// NewChain creates a new chain of the given kind.
func NewChain(kind Kind, stages ...Stage) *Chain {
	return &Chain{kind: kind, stages: stages}
}

// Kind returns the chain kind.
func (c *Chain) Kind() Kind { return c.kind }

// Add appends stages to the chain.
func (c *Chain) Add(stages ...Stage) *Chain {
	c.mu.Lock()
	c.stages = append(c.stages, stages...)
	c.mu.Unlock()
	return c
}

// Len returns the number of stages.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.stages)
}

// Stages returns a snapshot of the registered stages.
func (c *Chain) Stages() []Stage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Stage(nil), c.stages...)
}

// Apply runs every stage in registration order over a private copy of msg.
// The first drop stops the chain and Apply returns Drop. A stage error, or
// ctx ending between stages, aborts the chain with an error.
func (c *Chain) Apply(ctx context.Context, msg *message.Envelope, scope Scope) (Result, error) {
	if msg == nil {
		return Drop(), nil
	}
	scope.Kind = c.kind
	working := msg.Clone()

	for _, stage := range c.Stages() {
		if err := ctx.Err(); err != nil {
			return Drop(), errors.Wrap(err, errors.ErrMiddlewareFailed, "chain interrupted").
				WithContext("stage", stage.Name()).
				WithContext("chain", string(c.kind))
		}

		res, err := stage.Handle(ctx, working, scope)
		if err != nil {
			if _, coded := errors.GetCode(err); coded {
				return Drop(), err
			}
			return Drop(), errors.Wrap(err, errors.ErrMiddlewareFailed, "middleware stage failed").
				WithIntegration(scope.Integration).
				WithContext("stage", stage.Name()).
				WithContext("chain", string(c.kind))
		}
		if res.Dropped() {
			return Drop(), nil
		}
		working = res.Message()
	}

	return Forward(working), nil
}

// BaseStage can be embedded to provide Name.
type BaseStage struct {
	name string
}

// NewBaseStage creates a new base stage
func NewBaseStage(name string) BaseStage {
	return BaseStage{name: name}
}

// Name returns the stage name
func (b BaseStage) Name() string {
	return b.name
}

// Noop forwards the message unchanged (useful for testing).
type Noop struct {
	BaseStage
}

// NewNoop creates a no-op stage
func NewNoop() *Noop {
	return &Noop{BaseStage: NewBaseStage("noop")}
}

// Handle implements the Stage interface
func (n *Noop) Handle(_ context.Context, msg *message.Envelope, _ Scope) (Result, error) {
	return Forward(msg), nil
}
