// Package dispatch routes decoded envelopes to the listeners that
// registered for their event name.
package dispatch

import (
	"sync"

	"go.uber.org/zap"

	"snakesync/internal/codec"
)

// Handler receives one decoded frame. Handlers run serially on the
// session's read pump; they must not block on it.
type Handler func(codec.Envelope)

type entry struct {
	id uint64
	fn Handler
}

// Registry maps event names to ordered listener lists. Listen and the
// returned unsubscribe func are safe to call from any goroutine,
// including while a dispatch for another frame is in flight.
type Registry struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[string][]entry
	log      *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		handlers: make(map[string][]entry),
		log:      log,
	}
}

// Listen registers h for event and returns its unsubscribe func. The
// unsubscribe removes exactly this registration and is idempotent.
func (r *Registry) Listen(event string, h Handler) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.handlers[event] = append(r.handlers[event], entry{id: id, fn: h})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		list := r.handlers[event]
		for i, e := range list {
			if e.id == id {
				r.handlers[event] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(r.handlers[event]) == 0 {
			delete(r.handlers, event)
		}
	}
}

// Dispatch invokes every listener registered for env.Event, in
// registration order. A panicking listener is logged and the remaining
// listeners still run.
func (r *Registry) Dispatch(env codec.Envelope) {
	r.mu.Lock()
	list := r.handlers[env.Event]
	snapshot := make([]entry, len(list))
	copy(snapshot, list)
	r.mu.Unlock()

	for _, e := range snapshot {
		r.invoke(e, env)
	}
}

func (r *Registry) invoke(e entry, env codec.Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Warn("listener panicked",
				zap.String("event", env.Event),
				zap.Any("panic", rec))
		}
	}()
	e.fn(env)
}
