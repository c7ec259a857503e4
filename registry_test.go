package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandlerRegistry_Resolve_RoutesByType(t *testing.T) {
	registry := NewHandlerRegistry(nil)

	var handled string
	registry.Register(EventTypeUserCreated, func(ctx context.Context, event *Event) error {
		handled = event.Type
		return nil
	})

	event := NewEvent(EventTypeUserCreated, map[string]any{})
	err := registry.Resolve(event.Type)(context.Background(), event)

	assert.NoError(t, err)
	assert.Equal(t, EventTypeUserCreated, handled)
}

func TestHandlerRegistry_Resolve_UnknownTypeFallsThrough(t *testing.T) {
	fallbackCalled := false
	registry := NewHandlerRegistry(func(ctx context.Context, event *Event) error {
		fallbackCalled = true
		return nil
	})

	event := NewEvent("mystery.event", map[string]any{})
	err := registry.Resolve(event.Type)(context.Background(), event)

	assert.NoError(t, err)
	assert.True(t, fallbackCalled)
}

func TestHandlerRegistry_NilFallbackIsNoOp(t *testing.T) {
	registry := NewHandlerRegistry(nil)

	event := NewEvent("mystery.event", map[string]any{})
	err := registry.Resolve(event.Type)(context.Background(), event)

	assert.NoError(t, err)
}

func TestHandlerRegistry_Register_ReplacesBinding(t *testing.T) {
	registry := NewHandlerRegistry(nil)

	registry.Register(EventTypeGeneric, func(ctx context.Context, event *Event) error {
		t.Fatal("replaced handler should not run")
		return nil
	})

	replaced := false
	registry.Register(EventTypeGeneric, func(ctx context.Context, event *Event) error {
		replaced = true
		return nil
	})

	_ = registry.Resolve(EventTypeGeneric)(context.Background(), NewEvent(EventTypeGeneric, map[string]any{}))
	assert.True(t, replaced)
}
