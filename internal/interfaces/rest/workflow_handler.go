package rest

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/studioflow/backend/internal/domain/models"
)

// WorkflowService defines the interface for workflow definition operations
type WorkflowService interface {
	Create(ctx context.Context, def *models.WorkflowDefinition) error
	Update(ctx context.Context, def *models.WorkflowDefinition) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	List(ctx context.Context, entityType models.EntityType) ([]*models.WorkflowDefinition, error)
}

// WorkflowHandler handles workflow definition API endpoints
type WorkflowHandler struct {
	svc WorkflowService
}

// NewWorkflowHandler creates a new WorkflowHandler
func NewWorkflowHandler(svc WorkflowService) *WorkflowHandler {
	return &WorkflowHandler{svc: svc}
}

// Create handles POST /api/workflows
func (h *WorkflowHandler) Create(c *gin.Context) {
	var def models.WorkflowDefinition
	HandleCreateEnvelope(c, "workflow", "Workflow created", &def, func() error {
		return h.svc.Create(c.Request.Context(), &def)
	})
}

// Update handles PUT /api/workflows/:id
func (h *WorkflowHandler) Update(c *gin.Context) {
	var def models.WorkflowDefinition
	HandleUpdateEnvelope(c, "workflow", "Workflow updated", &def, func() error {
		def.ID = c.Param("id")
		return h.svc.Update(c.Request.Context(), &def)
	})
}

// Delete handles DELETE /api/workflows/:id
func (h *WorkflowHandler) Delete(c *gin.Context) {
	HandleDeleteEnvelope(c, "Workflow deleted", func() error {
		return h.svc.Delete(c.Request.Context(), c.Param("id"))
	})
}

// Get handles GET /api/workflows/:id
func (h *WorkflowHandler) Get(c *gin.Context) {
	HandleGetEnvelope(c, "workflow", func() (interface{}, error) {
		return h.svc.Get(c.Request.Context(), c.Param("id"))
	})
}

// List handles GET /api/workflows?entity_type=invoice
func (h *WorkflowHandler) List(c *gin.Context) {
	HandleGetEnvelope(c, "workflows", func() (interface{}, error) {
		return h.svc.List(c.Request.Context(), models.EntityType(c.Query("entity_type")))
	})
}
