package ports

import (
	"context"
	"time"

	"github.com/studioflow/backend/internal/domain/events"
	"github.com/studioflow/backend/internal/domain/models"
)

// EventHandler is a function that handles an event
type EventHandler func(ctx context.Context, evt events.Event) error

// EventPublisher provides event publishing capabilities.
// Implementations should handle async event dispatching.
type EventPublisher interface {
	// Subscribe registers a handler for a specific event type.
	Subscribe(eventType events.EventType, handler EventHandler) func()

	// Publish dispatches an event to all registered handlers.
	// Returns an error if any handler fails.
	Publish(ctx context.Context, evt events.Event) error
}

// SendResult captures the transport-level outcome of one delivery attempt
type SendResult struct {
	StatusCode int
	Body       string
}

// Transport performs the outbound call that delivers a signed payload.
// It must be safe to invoke more than once for the same dedupe key; the
// delivery subsystem owns at-least-once semantics, not the transport.
type Transport interface {
	Send(ctx context.Context, destination string, payload []byte, sig string) (*SendResult, error)
}

// Notification is a message handed to the external notification collaborator
type Notification struct {
	Kind      string                 `json:"kind"` // email | in_app
	Recipient string                 `json:"recipient"`
	Subject   string                 `json:"subject"`
	Body      string                 `json:"body"`
	EventType events.EventType       `json:"event_type"`
	EntityID  string                 `json:"entity_id"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
}

// Notifier hands send_email/notify actions (and approval reminders) to the
// external notification collaborator
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// DomainService mutates domain entities on behalf of create_task and
// update_status trigger actions. The implementation lives with the CRUD
// collaborators, outside this core.
type DomainService interface {
	CreateTask(ctx context.Context, config map[string]interface{}, evt events.Event) error
	UpdateStatus(ctx context.Context, entityType models.EntityType, entityID, status string) error
}

// Clock abstracts time for the engines and sweeps so tests can control it
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall-clock implementation of Clock
type SystemClock struct{}

// Now returns the current UTC time
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
