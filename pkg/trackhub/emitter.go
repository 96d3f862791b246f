package trackhub

import (
	"sync"
	"sync/atomic"

	"github.com/kart-io/trackhub/pkg/errors"
	"github.com/kart-io/trackhub/pkg/logger"
	"github.com/kart-io/trackhub/pkg/message"
)

// EventType names a lifecycle or call event.
type EventType string

const (
	EventInitialize EventType = "initialize"
	EventReady      EventType = "ready"
	// EventInvoke fires for every envelope that passes the source chain.
	EventInvoke   EventType = "invoke"
	EventIdentify EventType = "identify"
	EventTrack    EventType = "track"
	EventPage     EventType = "page"
	EventGroup    EventType = "group"
	EventAlias    EventType = "alias"
)

// Event is delivered to handlers. Call holds the typed call as the caller
// supplied it (IdentifyCall, TrackCall, ...) or InitializeEvent.
type Event struct {
	Type     EventType
	Envelope *message.Envelope
	Call     any
}

// InitializeEvent is the Call of an EventInitialize.
type InitializeEvent struct {
	Settings        map[string]map[string]any
	Integrations    map[string]any
	InitialPageview bool
}

// Handler receives events synchronously on the emitting goroutine.
type Handler func(Event)

type subscription struct {
	id      int64
	handler Handler
	once    bool
	fired   atomic.Bool
}

type emitter struct {
	logger logger.Logger
	nextID atomic.Int64

	mu       sync.RWMutex
	handlers map[EventType][]*subscription
}

func newEmitter(log logger.Logger) *emitter {
	return &emitter{
		logger:   logger.OrDiscard(log),
		handlers: make(map[EventType][]*subscription),
	}
}

// on subscribes h and returns a function removing it.
func (e *emitter) on(t EventType, h Handler, once bool) func() {
	if h == nil {
		return func() {}
	}
	sub := &subscription{id: e.nextID.Add(1), handler: h, once: once}

	e.mu.Lock()
	e.handlers[t] = append(e.handlers[t], sub)
	e.mu.Unlock()

	return func() { e.remove(t, sub.id) }
}

func (e *emitter) remove(t EventType, id int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	subs := e.handlers[t]
	for i, s := range subs {
		if s.id == id {
			e.handlers[t] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

func (e *emitter) emit(ev Event) {
	e.mu.RLock()
	subs := append([]*subscription(nil), e.handlers[ev.Type]...)
	e.mu.RUnlock()

	for _, s := range subs {
		if s.once {
			if !s.fired.CompareAndSwap(false, true) {
				continue
			}
			e.remove(ev.Type, s.id)
		}
		e.call(s, ev)
	}
}

func (e *emitter) call(s *subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.FromPanic(r, errors.ErrInternal, "event handler panicked")
			e.logger.Error("Event handler panicked", "event", ev.Type, "error", err)
		}
	}()
	s.handler(ev)
}

func (e *emitter) count(t EventType) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers[t])
}
