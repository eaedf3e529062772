package models

import (
	"time"

	"github.com/studioflow/backend/internal/domain/events"
	"github.com/studioflow/backend/pkg/condition"
)

// ActionType is the kind of action a trigger executes when it fires
type ActionType string

const (
	ActionSendEmail    ActionType = "send_email"
	ActionCreateTask   ActionType = "create_task"
	ActionUpdateStatus ActionType = "update_status"
	ActionWebhook      ActionType = "webhook"
	ActionNotify       ActionType = "notify"
)

// IsValid reports whether the action type is supported
func (a ActionType) IsValid() bool {
	switch a {
	case ActionSendEmail, ActionCreateTask, ActionUpdateStatus, ActionWebhook, ActionNotify:
		return true
	}
	return false
}

// TriggerDefinition is a standing rule mapping an event type plus a condition
// to one action. Lower priority runs first; creation time breaks ties.
type TriggerDefinition struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	EventType    events.EventType       `json:"event_type"`
	Condition    *condition.Condition   `json:"condition,omitempty"`
	ActionType   ActionType             `json:"action_type"`
	ActionConfig map[string]interface{} `json:"action_config"`
	IsActive     bool                   `json:"is_active"`
	Priority     int                    `json:"priority"`
	Version      int64                  `json:"version"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// DispatchStatus records the outcome of one trigger dispatch
type DispatchStatus string

const (
	// DispatchPending marks a claimed pair whose action has not finished yet
	DispatchPending   DispatchStatus = "pending"
	DispatchSucceeded DispatchStatus = "succeeded"
	DispatchFailed    DispatchStatus = "failed"
	// DispatchSkipped records a claimed pair whose condition did not match
	DispatchSkipped DispatchStatus = "skipped"
)

// TriggerDispatch is one row of the dispatch log. The (EventKey, TriggerID)
// pair is unique: redelivery of the same event never dispatches a trigger twice.
type TriggerDispatch struct {
	ID           string           `json:"id"`
	EventKey     string           `json:"event_key"`
	EventType    events.EventType `json:"event_type"`
	TriggerID    string           `json:"trigger_id"`
	Status       DispatchStatus   `json:"status"`
	ErrorMessage string           `json:"error_message,omitempty"`
	DispatchedAt time.Time        `json:"dispatched_at"`
}
