package pipeline

import (
	"context"
	"sync"
)

// Handler executes the business logic for one event type. Returning an error
// marks the attempt as failed; the processing engine decides whether to retry
// or quarantine.
type Handler func(ctx context.Context, event *Event) error

// HandlerRegistry routes events to handlers by their type string. Types
// without a registered handler fall through to the generic handler, so new
// event types flow through the pipeline without code changes here.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	fallback Handler
}

// NewHandlerRegistry creates a registry whose unmatched types are dispatched
// to fallback. A nil fallback defaults to a no-op handler.
func NewHandlerRegistry(fallback Handler) *HandlerRegistry {
	if fallback == nil {
		fallback = func(ctx context.Context, event *Event) error { return nil }
	}
	return &HandlerRegistry{
		handlers: make(map[string]Handler),
		fallback: fallback,
	}
}

// Register binds a handler to an event type, replacing any previous binding.
func (r *HandlerRegistry) Register(eventType string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = handler
}

// Resolve returns the handler for the event type, or the fallback.
func (r *HandlerRegistry) Resolve(eventType string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.handlers[eventType]; ok {
		return h
	}
	return r.fallback
}
