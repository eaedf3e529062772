package ports

import (
	"context"
	"time"

	"github.com/studioflow/backend/internal/domain/events"
	"github.com/studioflow/backend/internal/domain/models"
	"github.com/studioflow/backend/pkg/signature"
)

// The persistence layer is the single source of truth for workflow, trigger,
// and delivery state. All engines read-modify-write through these interfaces
// under optimistic versioning; no in-memory cache of mutable state is
// authoritative.

// RequestFilter narrows approval request listings
type RequestFilter struct {
	Status     models.RequestStatus
	EntityType models.EntityType
	EntityID   string
	Limit      int
}

// WorkflowStore persists workflow definitions and their steps
type WorkflowStore interface {
	// CreateDefinition persists a definition with its steps. When IsDefault is
	// set, the previous default for the entity type is cleared in the same
	// transaction.
	CreateDefinition(ctx context.Context, def *models.WorkflowDefinition) error

	// UpdateDefinition replaces the definition and steps, conditional on the
	// stored version. A version mismatch returns ConflictError.
	UpdateDefinition(ctx context.Context, def *models.WorkflowDefinition) error

	DeleteDefinition(ctx context.Context, id string) error

	// GetDefinition loads a definition with its steps ordered by sequence
	GetDefinition(ctx context.Context, id string) (*models.WorkflowDefinition, error)

	// GetDefaultDefinition loads the active default for an entity type, or
	// NotFoundError when none exists
	GetDefaultDefinition(ctx context.Context, entityType models.EntityType) (*models.WorkflowDefinition, error)

	ListDefinitions(ctx context.Context, entityType models.EntityType) ([]*models.WorkflowDefinition, error)
}

// ApprovalStore persists approval requests, their snapshotted steps, and
// step decisions
type ApprovalStore interface {
	// CreateRequest persists a request with its step snapshot. A second open
	// request for the same (entity type, entity id) returns ConflictError.
	CreateRequest(ctx context.Context, req *models.ApprovalRequest) error

	// GetRequest loads a request with steps and decisions
	GetRequest(ctx context.Context, id string) (*models.ApprovalRequest, error)

	ListRequests(ctx context.Context, filter RequestFilter) ([]*models.ApprovalRequest, error)

	// UpdateRequest writes status/current step/reminder count conditional on
	// the expected version. A lost race returns ConflictError.
	UpdateRequest(ctx context.Context, req *models.ApprovalRequest, expectedVersion int64) error

	// UpdateRequestWithDecision writes the request update and its decision row
	// in one transaction, conditional on the expected version. Either both
	// commit or neither does; a lost race or duplicate (request, step) pair
	// returns ConflictError.
	UpdateRequestWithDecision(ctx context.Context, req *models.ApprovalRequest, expectedVersion int64, decision *models.StepDecision) error
}

// DispatchFilter narrows dispatch-log queries
type DispatchFilter struct {
	TriggerID string
	Status    models.DispatchStatus
	From      time.Time
	To        time.Time
	Limit     int
}

// TriggerStore persists trigger definitions and the dispatch log
type TriggerStore interface {
	CreateTrigger(ctx context.Context, def *models.TriggerDefinition) error
	UpdateTrigger(ctx context.Context, def *models.TriggerDefinition) error
	DeleteTrigger(ctx context.Context, id string) error
	GetTrigger(ctx context.Context, id string) (*models.TriggerDefinition, error)

	// ListActiveByEventType returns active triggers for the event type ordered
	// by priority ascending, then creation time ascending
	ListActiveByEventType(ctx context.Context, eventType events.EventType) ([]*models.TriggerDefinition, error)

	ListTriggers(ctx context.Context) ([]*models.TriggerDefinition, error)

	// ClaimDispatch atomically records the (event key, trigger) pair. It
	// returns false when the pair was already claimed, which is the dedupe
	// that collapses redelivered events to a single execution.
	ClaimDispatch(ctx context.Context, dispatch *models.TriggerDispatch) (bool, error)

	// MarkDispatch records the final outcome of a claimed dispatch
	MarkDispatch(ctx context.Context, id string, status models.DispatchStatus, errMessage string) error

	ListDispatches(ctx context.Context, filter DispatchFilter) ([]*models.TriggerDispatch, error)
}

// DeliveryStore persists delivery records and per-destination signing secrets
type DeliveryStore interface {
	CreateRecord(ctx context.Context, rec *models.DeliveryRecord) error

	// UpdateRecord writes attempt state conditional on the expected version
	UpdateRecord(ctx context.Context, rec *models.DeliveryRecord, expectedVersion int64) error

	GetRecord(ctx context.Context, id string) (*models.DeliveryRecord, error)

	ListRecords(ctx context.Context, destination string, status models.DeliveryStatus, limit int) ([]*models.DeliveryRecord, error)

	// DueForRetry returns pending records whose next retry time has elapsed,
	// oldest first
	DueForRetry(ctx context.Context, now time.Time, limit int) ([]*models.DeliveryRecord, error)

	// Stats aggregates outcomes for a destination over a time window
	Stats(ctx context.Context, destination string, from, to time.Time) (*models.DeliveryStats, error)

	GetSecret(ctx context.Context, destination string) (signature.Secret, error)
	SaveSecret(ctx context.Context, destination string, secret signature.Secret) error
}
