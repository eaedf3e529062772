package rest

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/studioflow/backend/internal/domain/models"
	appErrors "github.com/studioflow/backend/pkg/errors"
)

// DeliveryService defines the interface for webhook delivery operations
type DeliveryService interface {
	GetRecord(ctx context.Context, id string) (*models.DeliveryRecord, error)
	ListRecords(ctx context.Context, destination string, status models.DeliveryStatus, limit int) ([]*models.DeliveryRecord, error)
	RetryNow(ctx context.Context, deliveryID string) (*models.DeliveryRecord, error)
	GetStats(ctx context.Context, destination string, from, to time.Time) (*models.DeliveryStats, error)
	RotateSecret(ctx context.Context, destination, newSecret string) error
	VerifySignature(ctx context.Context, destination string, body []byte, sig string) (bool, error)
}

// DeliveryHandler handles webhook delivery API endpoints
type DeliveryHandler struct {
	svc DeliveryService
}

// NewDeliveryHandler creates a new DeliveryHandler
func NewDeliveryHandler(svc DeliveryService) *DeliveryHandler {
	return &DeliveryHandler{svc: svc}
}

// RotateSecretRequest installs a new signing secret for a destination
type RotateSecretRequest struct {
	Destination string `json:"destination" binding:"required"`
	Secret      string `json:"secret" binding:"required"`
}

// Get handles GET /api/deliveries/:id
func (h *DeliveryHandler) Get(c *gin.Context) {
	HandleGetEnvelope(c, "delivery", func() (interface{}, error) {
		return h.svc.GetRecord(c.Request.Context(), c.Param("id"))
	})
}

// List handles GET /api/deliveries?destination=...&status=failed
func (h *DeliveryHandler) List(c *gin.Context) {
	HandleGetEnvelope(c, "deliveries", func() (interface{}, error) {
		return h.svc.ListRecords(c.Request.Context(),
			c.Query("destination"), models.DeliveryStatus(c.Query("status")), 100)
	})
}

// Retry handles POST /api/deliveries/:id/retry
func (h *DeliveryHandler) Retry(c *gin.Context) {
	HandleGetEnvelope(c, "delivery", func() (interface{}, error) {
		return h.svc.RetryNow(c.Request.Context(), c.Param("id"))
	})
}

// Stats handles GET /api/deliveries/stats?destination=...&from=...&to=...
// The window bounds are RFC3339; from defaults to 24 hours ago, to defaults
// to now.
func (h *DeliveryHandler) Stats(c *gin.Context) {
	destination := c.Query("destination")
	if destination == "" {
		RespondAppError(c, appErrors.NewValidationError("destination", "destination is required"))
		return
	}

	from, err := parseTimeParam(c.Query("from"), time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		RespondAppError(c, appErrors.NewValidationError("from", err.Error()))
		return
	}
	to, err := parseTimeParam(c.Query("to"), time.Now().UTC())
	if err != nil {
		RespondAppError(c, appErrors.NewValidationError("to", err.Error()))
		return
	}

	HandleGetEnvelope(c, "stats", func() (interface{}, error) {
		return h.svc.GetStats(c.Request.Context(), destination, from, to)
	})
}

// RotateSecret handles POST /api/deliveries/secrets/rotate (admin only)
func (h *DeliveryHandler) RotateSecret(c *gin.Context) {
	var req RotateSecretRequest
	if !BindJSON(c, &req) {
		return
	}

	HandleDeleteEnvelope(c, "Secret rotated", func() error {
		return h.svc.RotateSecret(c.Request.Context(), req.Destination, req.Secret)
	})
}

// VerifySignatureRequest checks a payload signature for a destination
type VerifySignatureRequest struct {
	Destination string `json:"destination" binding:"required"`
	Payload     string `json:"payload" binding:"required"`
	Signature   string `json:"signature" binding:"required"`
}

// VerifySignature handles POST /api/deliveries/secrets/verify
func (h *DeliveryHandler) VerifySignature(c *gin.Context) {
	var req VerifySignatureRequest
	if !BindJSON(c, &req) {
		return
	}

	HandleGetEnvelope(c, "result", func() (interface{}, error) {
		valid, err := h.svc.VerifySignature(c.Request.Context(),
			req.Destination, []byte(req.Payload), req.Signature)
		if err != nil {
			return nil, err
		}
		return gin.H{"valid": valid}, nil
	})
}

func parseTimeParam(raw string, fallback time.Time) (time.Time, error) {
	if raw == "" {
		return fallback, nil
	}
	return time.Parse(time.RFC3339, raw)
}
