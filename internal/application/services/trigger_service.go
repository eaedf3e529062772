package services

import (
	"context"
	"fmt"
	"log"

	"github.com/studioflow/backend/internal/domain/events"
	"github.com/studioflow/backend/internal/domain/models"
	"github.com/studioflow/backend/internal/domain/ports"
	"github.com/studioflow/backend/pkg/condition"
	appErrors "github.com/studioflow/backend/pkg/errors"
	"github.com/studioflow/backend/pkg/payload"
)

// TriggerService connects events to standing trigger rules. On each event it
// selects the active triggers for the event type, evaluates their conditions
// against the flattened snapshot, and executes one action per match. Action
// execution is isolated per trigger: one trigger's failure never blocks the
// next.
type TriggerService struct {
	triggers ports.TriggerStore
	engine   *condition.Engine
	delivery *DeliveryService
	notifier ports.Notifier
	domain   ports.DomainService
	bus      *EventBus
}

// NewTriggerService creates a new TriggerService
func NewTriggerService(triggers ports.TriggerStore, delivery *DeliveryService, notifier ports.Notifier, domainSvc ports.DomainService, bus *EventBus) *TriggerService {
	return &TriggerService{
		triggers: triggers,
		engine:   condition.NewEngine(),
		delivery: delivery,
		notifier: notifier,
		domain:   domainSvc,
		bus:      bus,
	}
}

// RegisterHandlers subscribes HandleEvent to every known event type
func (ts *TriggerService) RegisterHandlers() {
	count := 0
	for _, eventType := range events.All() {
		ts.bus.Subscribe(eventType, ts.HandleEvent)
		count++
	}
	log.Printf("✅ TriggerService: registered handlers for %d event types", count)
}

// CreateTrigger validates and persists a trigger definition
func (ts *TriggerService) CreateTrigger(ctx context.Context, def *models.TriggerDefinition) error {
	if err := ts.validateTrigger(def); err != nil {
		return err
	}
	return ts.triggers.CreateTrigger(ctx, def)
}

// UpdateTrigger validates and rewrites a trigger definition
func (ts *TriggerService) UpdateTrigger(ctx context.Context, def *models.TriggerDefinition) error {
	if err := ts.validateTrigger(def); err != nil {
		return err
	}
	return ts.triggers.UpdateTrigger(ctx, def)
}

// DeleteTrigger removes a trigger definition
func (ts *TriggerService) DeleteTrigger(ctx context.Context, id string) error {
	return ts.triggers.DeleteTrigger(ctx, id)
}

// GetTrigger loads one trigger definition
func (ts *TriggerService) GetTrigger(ctx context.Context, id string) (*models.TriggerDefinition, error) {
	return ts.triggers.GetTrigger(ctx, id)
}

// ListTriggers returns all trigger definitions
func (ts *TriggerService) ListTriggers(ctx context.Context) ([]*models.TriggerDefinition, error) {
	return ts.triggers.ListTriggers(ctx)
}

// ListDispatches returns dispatch log entries matching the filter
func (ts *TriggerService) ListDispatches(ctx context.Context, filter ports.DispatchFilter) ([]*models.TriggerDispatch, error) {
	return ts.triggers.ListDispatches(ctx, filter)
}

// HandleEvent evaluates every active trigger for the event, in priority order.
// Each (event, trigger) pair is claimed in the dispatch log before executing,
// so a redelivered event collapses to a single execution per trigger.
func (ts *TriggerService) HandleEvent(ctx context.Context, evt events.Event) error {
	if !evt.Type.IsValid() {
		return appErrors.NewValidationError("event_type", fmt.Sprintf("unknown event type: %s", evt.Type))
	}

	triggers, err := ts.triggers.ListActiveByEventType(ctx, evt.Type)
	if err != nil {
		return fmt.Errorf("failed to load triggers for %s: %w", evt.Type, err)
	}
	if len(triggers) == 0 {
		return nil
	}

	eventKey := evt.IdempotencyKey()
	log.Printf("🔍 TriggerService: evaluating %d trigger(s) for %s entity=%s", len(triggers), evt.Type, evt.EntityID)

	for _, trigger := range triggers {
		matched, err := ts.engine.Matches(trigger.Condition, evt.Snapshot)
		if err != nil {
			log.Printf("⚠️ Trigger %s: condition evaluation failed: %v", trigger.Name, err)
			continue
		}

		status := models.DispatchPending
		if !matched {
			status = models.DispatchSkipped
		}
		dispatch := &models.TriggerDispatch{
			EventKey:  eventKey,
			EventType: evt.Type,
			TriggerID: trigger.ID,
			Status:    status,
		}
		claimed, err := ts.triggers.ClaimDispatch(ctx, dispatch)
		if err != nil {
			log.Printf("⚠️ Trigger %s: dispatch claim failed: %v", trigger.Name, err)
			continue
		}
		if !claimed || !matched {
			continue
		}

		log.Printf("🔄 Trigger %s: executing %s action for %s", trigger.Name, trigger.ActionType, evt.EntityID)

		if err := ts.executeAction(ctx, trigger, evt); err != nil {
			log.Printf("❌ Trigger %s: execution failed: %v", trigger.Name, err)
			ts.markDispatch(ctx, dispatch.ID, models.DispatchFailed, err.Error())
			// Continue with other triggers even if one fails
			continue
		}

		ts.markDispatch(ctx, dispatch.ID, models.DispatchSucceeded, "")
		log.Printf("✅ Trigger %s: executed successfully", trigger.Name)
	}

	return nil
}

// TestResult is the operator preview for a trigger dry run
type TestResult struct {
	Matched     bool              `json:"matched"`
	ActionType  models.ActionType `json:"action_type"`
	Destination string            `json:"destination,omitempty"`
	Payload     string            `json:"payload,omitempty"`
	Signature   string            `json:"signature,omitempty"`
}

// TestTrigger runs matching and action construction for a sample event without
// performing any external side effect
func (ts *TriggerService) TestTrigger(ctx context.Context, triggerID string, evt events.Event) (*TestResult, error) {
	trigger, err := ts.triggers.GetTrigger(ctx, triggerID)
	if err != nil {
		return nil, err
	}

	matched, err := ts.engine.Matches(trigger.Condition, evt.Snapshot)
	if err != nil {
		return nil, appErrors.NewValidationError("condition", err.Error())
	}

	result := &TestResult{Matched: matched, ActionType: trigger.ActionType}
	if !matched || trigger.ActionType != models.ActionWebhook {
		return result, nil
	}

	destination, err := webhookDestination(trigger, evt)
	if err != nil {
		return nil, err
	}
	preview, err := ts.delivery.Preview(ctx, destination, evt)
	if err != nil {
		return nil, err
	}
	result.Destination = destination
	result.Payload = string(preview.Payload)
	result.Signature = preview.Signature
	return result, nil
}

// Private helpers

func (ts *TriggerService) validateTrigger(def *models.TriggerDefinition) error {
	if def.Name == "" {
		return appErrors.NewValidationError("name", "trigger name is required")
	}
	if !def.EventType.IsValid() {
		return appErrors.NewValidationError("event_type", fmt.Sprintf("unknown event type: %s", def.EventType))
	}
	if !def.ActionType.IsValid() {
		return appErrors.NewValidationError("action_type", fmt.Sprintf("unknown action type: %s", def.ActionType))
	}
	if def.Condition != nil {
		if err := def.Condition.Validate(); err != nil {
			return appErrors.NewValidationError("condition", err.Error())
		}
	}
	if def.ActionType == models.ActionWebhook {
		if _, ok := def.ActionConfig["url"].(string); !ok {
			return appErrors.NewValidationError("action_config", "webhook action requires a url")
		}
	}
	return nil
}

func (ts *TriggerService) markDispatch(ctx context.Context, id string, status models.DispatchStatus, errMessage string) {
	if err := ts.triggers.MarkDispatch(ctx, id, status, errMessage); err != nil {
		log.Printf("⚠️ TriggerService: failed to mark dispatch %s as %s: %v", id, status, err)
	}
}

func webhookDestination(trigger *models.TriggerDefinition, evt events.Event) (string, error) {
	raw, _ := trigger.ActionConfig["url"].(string)
	if raw == "" {
		return "", appErrors.NewValidationError("action_config", "webhook action requires a url")
	}
	// Templated destinations resolve {{dotted.path}} tokens from the snapshot
	return payload.Substitute(raw, evt.Snapshot), nil
}

func (ts *TriggerService) executeAction(ctx context.Context, trigger *models.TriggerDefinition, evt events.Event) error {
	switch trigger.ActionType {
	case models.ActionWebhook:
		destination, err := webhookDestination(trigger, evt)
		if err != nil {
			return err
		}
		return ts.delivery.Deliver(ctx, destination, evt)

	case models.ActionSendEmail, models.ActionNotify:
		if ts.notifier == nil {
			return fmt.Errorf("no notifier configured for %s action", trigger.ActionType)
		}
		config := payload.SubstituteConfig(trigger.ActionConfig, evt.Snapshot)
		kind := "in_app"
		if trigger.ActionType == models.ActionSendEmail {
			kind = "email"
		}
		recipient, _ := config["recipient"].(string)
		subject, _ := config["subject"].(string)
		body, _ := config["body"].(string)
		return ts.notifier.Notify(ctx, ports.Notification{
			Kind:      kind,
			Recipient: recipient,
			Subject:   subject,
			Body:      body,
			EventType: evt.Type,
			EntityID:  evt.EntityID,
		})

	case models.ActionCreateTask:
		if ts.domain == nil {
			return fmt.Errorf("no domain service configured for create_task action")
		}
		config := payload.SubstituteConfig(trigger.ActionConfig, evt.Snapshot)
		return ts.domain.CreateTask(ctx, config, evt)

	case models.ActionUpdateStatus:
		if ts.domain == nil {
			return fmt.Errorf("no domain service configured for update_status action")
		}
		config := payload.SubstituteConfig(trigger.ActionConfig, evt.Snapshot)
		entityType, _ := config["entity_type"].(string)
		status, _ := config["status"].(string)
		if status == "" {
			return appErrors.NewValidationError("action_config", "update_status action requires a status")
		}
		entityID, _ := config["entity_id"].(string)
		if entityID == "" {
			entityID = evt.EntityID
		}
		return ts.domain.UpdateStatus(ctx, models.EntityType(entityType), entityID, status)

	default:
		return appErrors.NewValidationError("action_type", fmt.Sprintf("unknown action type: %s", trigger.ActionType))
	}
}
