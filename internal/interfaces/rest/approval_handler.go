package rest

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/studioflow/backend/internal/application/services"
	"github.com/studioflow/backend/internal/domain/models"
	"github.com/studioflow/backend/internal/domain/ports"
	appErrors "github.com/studioflow/backend/pkg/errors"
)

// ApprovalService defines the interface for approval request operations
type ApprovalService interface {
	CreateRequest(ctx context.Context, entityType models.EntityType, entityID, workflowID string) (*models.ApprovalRequest, error)
	Decide(ctx context.Context, in services.DecideInput) (*models.ApprovalRequest, error)
	Cancel(ctx context.Context, requestID, actor string) (*models.ApprovalRequest, error)
	BulkDecide(ctx context.Context, requestIDs []string, decision models.Decision, actor, comment string) ([]services.BulkOutcome, error)
	GetRequest(ctx context.Context, id string) (*models.ApprovalRequest, error)
	ListRequests(ctx context.Context, filter ports.RequestFilter) ([]*models.ApprovalRequest, error)
	History(ctx context.Context, requestID string) ([]*models.StepDecision, error)
}

// ApprovalHandler handles approval request API endpoints
type ApprovalHandler struct {
	svc ApprovalService
}

// NewApprovalHandler creates a new ApprovalHandler
func NewApprovalHandler(svc ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{svc: svc}
}

// SubmitRequest represents a request to open an approval request for an entity
type SubmitRequest struct {
	EntityType string `json:"entity_type" binding:"required"`
	EntityID   string `json:"entity_id" binding:"required"`
	WorkflowID string `json:"workflow_id"`
}

// DecideRequest represents a single step decision
type DecideRequest struct {
	StepID   string `json:"step_id"`
	Decision string `json:"decision" binding:"required"`
	Comment  string `json:"comment"`
}

// BulkDecideRequest applies one decision across several requests
type BulkDecideRequest struct {
	RequestIDs []string `json:"request_ids" binding:"required"`
	Decision   string   `json:"decision" binding:"required"`
	Comment    string   `json:"comment"`
}

// Submit handles POST /api/approvals
func (h *ApprovalHandler) Submit(c *gin.Context) {
	var req SubmitRequest
	if !BindJSON(c, &req) {
		return
	}

	request, err := h.svc.CreateRequest(c.Request.Context(),
		models.EntityType(req.EntityType), req.EntityID, req.WorkflowID)
	if err != nil {
		RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"request": request})
}

// Decide handles POST /api/approvals/:id/decide
func (h *ApprovalHandler) Decide(c *gin.Context) {
	user := GetUserFromContext(c)
	if user == nil {
		RespondAppError(c, appErrors.NewUnauthorizedError("no session"))
		return
	}

	var req DecideRequest
	if !BindJSON(c, &req) {
		return
	}

	request, err := h.svc.Decide(c.Request.Context(), services.DecideInput{
		RequestID: c.Param("id"),
		StepID:    req.StepID,
		Decision:  models.Decision(req.Decision),
		Actor:     user.ID,
		Comment:   req.Comment,
	})
	if err != nil {
		RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"request": request})
}

// Cancel handles POST /api/approvals/:id/cancel
func (h *ApprovalHandler) Cancel(c *gin.Context) {
	user := GetUserFromContext(c)
	if user == nil {
		RespondAppError(c, appErrors.NewUnauthorizedError("no session"))
		return
	}

	request, err := h.svc.Cancel(c.Request.Context(), c.Param("id"), user.ID)
	if err != nil {
		RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"request": request})
}

// BulkDecide handles POST /api/approvals/bulk-decide
func (h *ApprovalHandler) BulkDecide(c *gin.Context) {
	user := GetUserFromContext(c)
	if user == nil {
		RespondAppError(c, appErrors.NewUnauthorizedError("no session"))
		return
	}

	var req BulkDecideRequest
	if !BindJSON(c, &req) {
		return
	}

	outcomes, err := h.svc.BulkDecide(c.Request.Context(), req.RequestIDs,
		models.Decision(req.Decision), user.ID, req.Comment)
	if err != nil {
		RespondAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"outcomes": outcomes})
}

// Get handles GET /api/approvals/:id
func (h *ApprovalHandler) Get(c *gin.Context) {
	HandleGetEnvelope(c, "request", func() (interface{}, error) {
		return h.svc.GetRequest(c.Request.Context(), c.Param("id"))
	})
}

// List handles GET /api/approvals?status=pending&entity_type=invoice
func (h *ApprovalHandler) List(c *gin.Context) {
	HandleGetEnvelope(c, "requests", func() (interface{}, error) {
		return h.svc.ListRequests(c.Request.Context(), ports.RequestFilter{
			Status:     models.RequestStatus(c.Query("status")),
			EntityType: models.EntityType(c.Query("entity_type")),
			EntityID:   c.Query("entity_id"),
		})
	})
}

// History handles GET /api/approvals/:id/history
func (h *ApprovalHandler) History(c *gin.Context) {
	HandleGetEnvelope(c, "decisions", func() (interface{}, error) {
		return h.svc.History(c.Request.Context(), c.Param("id"))
	})
}
