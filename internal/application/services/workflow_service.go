package services

import (
	"context"
	"fmt"

	"github.com/studioflow/backend/internal/domain/models"
	"github.com/studioflow/backend/internal/domain/ports"
	appErrors "github.com/studioflow/backend/pkg/errors"
)

// WorkflowService manages workflow definitions and their steps
type WorkflowService struct {
	store ports.WorkflowStore
}

// NewWorkflowService creates a new WorkflowService
func NewWorkflowService(store ports.WorkflowStore) *WorkflowService {
	return &WorkflowService{store: store}
}

// Create validates and persists a workflow definition with its steps
func (ws *WorkflowService) Create(ctx context.Context, def *models.WorkflowDefinition) error {
	if err := validateDefinition(def); err != nil {
		return err
	}
	return ws.store.CreateDefinition(ctx, def)
}

// Update validates and rewrites a definition. In-flight approval requests are
// unaffected: they carry their own step snapshot.
func (ws *WorkflowService) Update(ctx context.Context, def *models.WorkflowDefinition) error {
	if err := validateDefinition(def); err != nil {
		return err
	}
	return ws.store.UpdateDefinition(ctx, def)
}

// Delete removes a definition and its steps
func (ws *WorkflowService) Delete(ctx context.Context, id string) error {
	return ws.store.DeleteDefinition(ctx, id)
}

// Get loads a definition with its steps
func (ws *WorkflowService) Get(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	return ws.store.GetDefinition(ctx, id)
}

// List returns definitions, optionally filtered by entity type
func (ws *WorkflowService) List(ctx context.Context, entityType models.EntityType) ([]*models.WorkflowDefinition, error) {
	if entityType != "" && !entityType.IsValid() {
		return nil, appErrors.NewValidationError("entity_type", fmt.Sprintf("unknown entity type: %s", entityType))
	}
	return ws.store.ListDefinitions(ctx, entityType)
}

func validateDefinition(def *models.WorkflowDefinition) error {
	if def.Name == "" {
		return appErrors.NewValidationError("name", "workflow name is required")
	}
	if !def.EntityType.IsValid() {
		return appErrors.NewValidationError("entity_type", fmt.Sprintf("unknown entity type: %s", def.EntityType))
	}
	if !def.Mode.IsValid() {
		return appErrors.NewValidationError("mode", fmt.Sprintf("unknown workflow mode: %s", def.Mode))
	}
	if len(def.Steps) == 0 {
		return appErrors.NewValidationError("steps", "workflow requires at least one step")
	}

	seen := make(map[int]bool, len(def.Steps))
	for i, step := range def.Steps {
		if step.Sequence <= 0 {
			return appErrors.NewValidationError("steps", fmt.Sprintf("step %d: sequence must be positive", i))
		}
		if seen[step.Sequence] {
			return appErrors.NewValidationError("steps", fmt.Sprintf("duplicate step sequence %d", step.Sequence))
		}
		seen[step.Sequence] = true
		if !step.ApproverKind.IsValid() {
			return appErrors.NewValidationError("steps",
				fmt.Sprintf("step %d: unknown approver kind %s", step.Sequence, step.ApproverKind))
		}
		if step.ApproverValue == "" {
			return appErrors.NewValidationError("steps", fmt.Sprintf("step %d: approver value is required", step.Sequence))
		}
		if step.AutoApproveAfter < 0 {
			return appErrors.NewValidationError("steps", fmt.Sprintf("step %d: auto-approve delay cannot be negative", step.Sequence))
		}
	}
	return nil
}
