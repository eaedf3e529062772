package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/studioflow/backend/internal/domain/events"
	"github.com/studioflow/backend/internal/domain/models"
)

// NATSDomainService forwards create_task and update_status trigger actions to
// the main application over NATS. The entity CRUD lives there; this core only
// issues the command. Unlike notifications, a failed publish is returned to
// the caller so the dispatch is marked failed.
type NATSDomainService struct {
	notifier      *NATSNotifier
	subjectPrefix string
}

// NewNATSDomainService builds a domain service sharing the notifier's NATS
// connection. Commands publish to <subjectPrefix>.task.create and
// <subjectPrefix>.status.update.
func NewNATSDomainService(notifier *NATSNotifier, subjectPrefix string) *NATSDomainService {
	return &NATSDomainService{notifier: notifier, subjectPrefix: subjectPrefix}
}

type taskCommand struct {
	Config    map[string]interface{} `json:"config"`
	EventType events.EventType       `json:"event_type"`
	EntityID  string                 `json:"entity_id"`
}

type statusCommand struct {
	EntityType models.EntityType `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Status     string            `json:"status"`
}

// CreateTask publishes a task-creation command derived from the trigger's
// action config
func (d *NATSDomainService) CreateTask(_ context.Context, config map[string]interface{}, evt events.Event) error {
	return d.publish(d.subjectPrefix+".task.create", taskCommand{
		Config:    config,
		EventType: evt.Type,
		EntityID:  evt.EntityID,
	})
}

// UpdateStatus publishes a status-update command for a domain entity
func (d *NATSDomainService) UpdateStatus(_ context.Context, entityType models.EntityType, entityID, status string) error {
	return d.publish(d.subjectPrefix+".status.update", statusCommand{
		EntityType: entityType,
		EntityID:   entityID,
		Status:     status,
	})
}

func (d *NATSDomainService) publish(subject string, cmd interface{}) error {
	if d.notifier == nil || d.notifier.conn == nil {
		return fmt.Errorf("domain command transport is not connected")
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to serialize domain command: %w", err)
	}
	if err := d.notifier.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish domain command to %s: %w", subject, err)
	}
	log.Printf("📤 DOMAIN COMMAND PUBLISHED: subject=%s", subject)
	return nil
}
