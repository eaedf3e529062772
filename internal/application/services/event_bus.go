package services

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/studioflow/backend/internal/domain/events"
	"github.com/studioflow/backend/internal/domain/ports"
)

// EventHandler is a function that handles an event.
// Using the type from ports to ensure interface compatibility.
type EventHandler = ports.EventHandler

// EventBus manages publish-subscribe event dispatch between the CRUD
// collaborators and the automation engines. It implements
// ports.EventPublisher.
type EventBus struct {
	handlers map[events.EventType][]EventHandler
	mu       sync.RWMutex
}

// Ensure EventBus implements ports.EventPublisher at compile time
var _ ports.EventPublisher = (*EventBus)(nil)

// NewEventBus creates a new EventBus instance
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[events.EventType][]EventHandler),
	}
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (eb *EventBus) Subscribe(eventType events.EventType, handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
	idx := len(eb.handlers[eventType]) - 1

	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()

		handlers := eb.handlers[eventType]
		if idx < len(handlers) {
			eb.handlers[eventType] = append(handlers[:idx], handlers[idx+1:]...)
		}
	}
}

// Publish dispatches an event to all registered handlers in sequence
func (eb *EventBus) Publish(ctx context.Context, evt events.Event) error {
	eb.mu.RLock()
	handlers := eb.handlers[evt.Type]
	eb.mu.RUnlock()

	if len(handlers) == 0 {
		return nil
	}

	for _, handler := range handlers {
		if err := handler(ctx, evt); err != nil {
			return fmt.Errorf("EventBus handler error for %s: %w", evt.Type, err)
		}
	}

	return nil
}

// PublishAsync publishes an event asynchronously
func (eb *EventBus) PublishAsync(evt events.Event) {
	go func() {
		// Use background context for async events as they are decoupled from the request/tx
		if err := eb.Publish(context.Background(), evt); err != nil {
			log.Printf("EventBus async publish error: %v", err)
		}
	}()
}

// Clear removes all handlers (useful for testing)
func (eb *EventBus) Clear() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers = make(map[events.EventType][]EventHandler)
}
