package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studioflow/backend/internal/domain/models"
	appErrors "github.com/studioflow/backend/pkg/errors"
)

func validDefinition() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		Name:       "invoice approvals",
		EntityType: models.EntityInvoice,
		Mode:       models.ModeSequential,
		IsActive:   true,
		Steps: []*models.WorkflowStep{
			{Sequence: 1, ApproverKind: models.ApproverRole, ApproverValue: "manager"},
			{Sequence: 2, ApproverKind: models.ApproverUser, ApproverValue: "user-finance", AutoApproveAfter: 48 * time.Hour},
		},
	}
}

func TestWorkflowValidation(t *testing.T) {
	svc := NewWorkflowService(newFakeWorkflowStore())
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*models.WorkflowDefinition)
	}{
		{"missing name", func(d *models.WorkflowDefinition) { d.Name = "" }},
		{"unknown entity type", func(d *models.WorkflowDefinition) { d.EntityType = "timesheet" }},
		{"unknown mode", func(d *models.WorkflowDefinition) { d.Mode = "quorum" }},
		{"no steps", func(d *models.WorkflowDefinition) { d.Steps = nil }},
		{"zero sequence", func(d *models.WorkflowDefinition) { d.Steps[0].Sequence = 0 }},
		{"duplicate sequence", func(d *models.WorkflowDefinition) { d.Steps[1].Sequence = 1 }},
		{"unknown approver kind", func(d *models.WorkflowDefinition) { d.Steps[0].ApproverKind = "team" }},
		{"missing approver value", func(d *models.WorkflowDefinition) { d.Steps[0].ApproverValue = "" }},
		{"negative auto-approve delay", func(d *models.WorkflowDefinition) { d.Steps[0].AutoApproveAfter = -time.Hour }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validDefinition()
			tt.mutate(def)
			err := svc.Create(ctx, def)
			assert.True(t, appErrors.IsValidation(err), "expected a validation error, got %v", err)
		})
	}
}

func TestWorkflowCreateDemotesPreviousDefault(t *testing.T) {
	store := newFakeWorkflowStore()
	svc := NewWorkflowService(store)
	ctx := context.Background()

	first := validDefinition()
	first.IsDefault = true
	require.NoError(t, svc.Create(ctx, first))

	second := validDefinition()
	second.Name = "stricter invoice approvals"
	second.IsDefault = true
	require.NoError(t, svc.Create(ctx, second))

	def, err := store.GetDefaultDefinition(ctx, models.EntityInvoice)
	require.NoError(t, err)
	assert.Equal(t, second.ID, def.ID)

	stored, err := svc.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsDefault)
}

func TestWorkflowListFilterAndDelete(t *testing.T) {
	store := newFakeWorkflowStore()
	svc := NewWorkflowService(store)
	ctx := context.Background()

	def := validDefinition()
	require.NoError(t, svc.Create(ctx, def))

	_, err := svc.List(ctx, "timesheet")
	assert.True(t, appErrors.IsValidation(err))

	defs, err := svc.List(ctx, models.EntityInvoice)
	require.NoError(t, err)
	assert.Len(t, defs, 1)

	require.NoError(t, svc.Delete(ctx, def.ID))
	_, err = svc.Get(ctx, def.ID)
	assert.True(t, appErrors.IsNotFound(err))
}
