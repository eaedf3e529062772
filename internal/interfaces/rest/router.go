package rest

import (
	"github.com/gin-gonic/gin"

	"github.com/studioflow/backend/internal/application/services"
	"github.com/studioflow/backend/internal/interfaces/middleware"
)

// RegisterRoutes mounts every API endpoint on the router. All routes require
// authentication; secret rotation additionally requires the admin role.
func RegisterRoutes(router *gin.Engine, sm *services.ServiceManager, jwtSecret string) {
	workflowHandler := NewWorkflowHandler(sm.Workflow)
	approvalHandler := NewApprovalHandler(sm.Approval)
	triggerHandler := NewTriggerHandler(sm.Trigger)
	deliveryHandler := NewDeliveryHandler(sm.Delivery)

	requireAuth := middleware.RequireAuth(jwtSecret)
	requireAdmin := middleware.RequireAdmin()

	api := router.Group("/api")
	api.Use(requireAuth)
	{
		workflows := api.Group("/workflows")
		{
			workflows.POST("", requireAdmin, workflowHandler.Create)
			workflows.GET("", workflowHandler.List)
			workflows.GET("/:id", workflowHandler.Get)
			workflows.PUT("/:id", requireAdmin, workflowHandler.Update)
			workflows.DELETE("/:id", requireAdmin, workflowHandler.Delete)
		}

		approvals := api.Group("/approvals")
		{
			approvals.POST("", approvalHandler.Submit)
			approvals.GET("", approvalHandler.List)
			approvals.POST("/bulk-decide", approvalHandler.BulkDecide)
			approvals.GET("/:id", approvalHandler.Get)
			approvals.GET("/:id/history", approvalHandler.History)
			approvals.POST("/:id/decide", approvalHandler.Decide)
			approvals.POST("/:id/cancel", approvalHandler.Cancel)
		}

		triggers := api.Group("/triggers")
		{
			triggers.POST("", requireAdmin, triggerHandler.Create)
			triggers.GET("", triggerHandler.List)
			triggers.GET("/:id", triggerHandler.Get)
			triggers.PUT("/:id", requireAdmin, triggerHandler.Update)
			triggers.DELETE("/:id", requireAdmin, triggerHandler.Delete)
			triggers.GET("/:id/dispatches", triggerHandler.ListDispatches)
			triggers.POST("/:id/test", triggerHandler.Test)
		}

		deliveries := api.Group("/deliveries")
		{
			deliveries.GET("", deliveryHandler.List)
			deliveries.GET("/stats", deliveryHandler.Stats)
			deliveries.POST("/secrets/rotate", requireAdmin, deliveryHandler.RotateSecret)
			deliveries.POST("/secrets/verify", deliveryHandler.VerifySignature)
			deliveries.GET("/:id", deliveryHandler.Get)
			deliveries.POST("/:id/retry", deliveryHandler.Retry)
		}
	}
}
