package rest

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/studioflow/backend/internal/application/services"
	"github.com/studioflow/backend/internal/domain/events"
	"github.com/studioflow/backend/internal/domain/models"
	"github.com/studioflow/backend/internal/domain/ports"
	appErrors "github.com/studioflow/backend/pkg/errors"
)

// TriggerService defines the interface for trigger rule operations
type TriggerService interface {
	CreateTrigger(ctx context.Context, def *models.TriggerDefinition) error
	UpdateTrigger(ctx context.Context, def *models.TriggerDefinition) error
	DeleteTrigger(ctx context.Context, id string) error
	GetTrigger(ctx context.Context, id string) (*models.TriggerDefinition, error)
	ListTriggers(ctx context.Context) ([]*models.TriggerDefinition, error)
	ListDispatches(ctx context.Context, filter ports.DispatchFilter) ([]*models.TriggerDispatch, error)
	TestTrigger(ctx context.Context, triggerID string, evt events.Event) (*services.TestResult, error)
}

// TriggerHandler handles trigger rule API endpoints
type TriggerHandler struct {
	svc TriggerService
}

// NewTriggerHandler creates a new TriggerHandler
func NewTriggerHandler(svc TriggerService) *TriggerHandler {
	return &TriggerHandler{svc: svc}
}

// TestTriggerRequest carries the sample event for a trigger dry run
type TestTriggerRequest struct {
	EventType string                 `json:"event_type" binding:"required"`
	EntityID  string                 `json:"entity_id"`
	Snapshot  map[string]interface{} `json:"snapshot"`
}

// Create handles POST /api/triggers
func (h *TriggerHandler) Create(c *gin.Context) {
	var def models.TriggerDefinition
	HandleCreateEnvelope(c, "trigger", "Trigger created", &def, func() error {
		return h.svc.CreateTrigger(c.Request.Context(), &def)
	})
}

// Update handles PUT /api/triggers/:id
func (h *TriggerHandler) Update(c *gin.Context) {
	var def models.TriggerDefinition
	HandleUpdateEnvelope(c, "trigger", "Trigger updated", &def, func() error {
		def.ID = c.Param("id")
		return h.svc.UpdateTrigger(c.Request.Context(), &def)
	})
}

// Delete handles DELETE /api/triggers/:id
func (h *TriggerHandler) Delete(c *gin.Context) {
	HandleDeleteEnvelope(c, "Trigger deleted", func() error {
		return h.svc.DeleteTrigger(c.Request.Context(), c.Param("id"))
	})
}

// Get handles GET /api/triggers/:id
func (h *TriggerHandler) Get(c *gin.Context) {
	HandleGetEnvelope(c, "trigger", func() (interface{}, error) {
		return h.svc.GetTrigger(c.Request.Context(), c.Param("id"))
	})
}

// List handles GET /api/triggers
func (h *TriggerHandler) List(c *gin.Context) {
	HandleGetEnvelope(c, "triggers", func() (interface{}, error) {
		return h.svc.ListTriggers(c.Request.Context())
	})
}

// ListDispatches handles GET /api/triggers/:id/dispatches?status=failed&from=...&to=...
// The window bounds are RFC3339 and optional; omitted bounds leave the
// filter open on that side.
func (h *TriggerHandler) ListDispatches(c *gin.Context) {
	from, err := parseTimeParam(c.Query("from"), time.Time{})
	if err != nil {
		RespondAppError(c, appErrors.NewValidationError("from", err.Error()))
		return
	}
	to, err := parseTimeParam(c.Query("to"), time.Time{})
	if err != nil {
		RespondAppError(c, appErrors.NewValidationError("to", err.Error()))
		return
	}

	HandleGetEnvelope(c, "dispatches", func() (interface{}, error) {
		return h.svc.ListDispatches(c.Request.Context(), ports.DispatchFilter{
			TriggerID: c.Param("id"),
			Status:    models.DispatchStatus(c.Query("status")),
			From:      from,
			To:        to,
		})
	})
}

// Test handles POST /api/triggers/:id/test; nothing is dispatched or delivered
func (h *TriggerHandler) Test(c *gin.Context) {
	var req TestTriggerRequest
	if !BindJSON(c, &req) {
		return
	}

	HandleGetEnvelope(c, "result", func() (interface{}, error) {
		return h.svc.TestTrigger(c.Request.Context(), c.Param("id"), events.Event{
			Type:      events.EventType(req.EventType),
			EntityID:  req.EntityID,
			Snapshot:  req.Snapshot,
			Timestamp: time.Now().UTC(),
		})
	})
}
