package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studioflow/backend/internal/domain/events"
	"github.com/studioflow/backend/internal/domain/models"
	appErrors "github.com/studioflow/backend/pkg/errors"
)

func seedWorkflow(t *testing.T, store *fakeWorkflowStore, entityType models.EntityType, mode models.WorkflowMode, steps ...*models.WorkflowStep) *models.WorkflowDefinition {
	t.Helper()
	def := &models.WorkflowDefinition{
		Name:       "test workflow",
		EntityType: entityType,
		Mode:       mode,
		IsActive:   true,
		IsDefault:  true,
		Steps:      steps,
	}
	require.NoError(t, store.CreateDefinition(context.Background(), def))
	return def
}

func threeSteps() []*models.WorkflowStep {
	return []*models.WorkflowStep{
		{Sequence: 1, ApproverKind: models.ApproverRole, ApproverValue: "manager"},
		{Sequence: 2, ApproverKind: models.ApproverUser, ApproverValue: "user-finance"},
		{Sequence: 3, ApproverKind: models.ApproverRole, ApproverValue: "director"},
	}
}

func newTestApprovalService() (*ApprovalService, *fakeWorkflowStore, *fakeApprovalStore, *EventBus) {
	workflows := newFakeWorkflowStore()
	approvals := newFakeApprovalStore()
	bus := NewEventBus()
	svc := NewApprovalService(workflows, approvals, bus, nil)
	return svc, workflows, approvals, bus
}

func TestSequentialThreeStepApproval(t *testing.T) {
	svc, workflows, _, bus := newTestApprovalService()
	seedWorkflow(t, workflows, models.EntityInvoice, models.ModeSequential, threeSteps()...)

	emitted := make(chan events.Event, 1)
	bus.Subscribe(events.InvoiceApproved, func(_ context.Context, evt events.Event) error {
		emitted <- evt
		return nil
	})

	ctx := context.Background()
	req, err := svc.CreateRequest(ctx, models.EntityInvoice, "inv-42", "")
	require.NoError(t, err)
	assert.Equal(t, models.RequestPending, req.Status)
	assert.Len(t, req.Steps, 3)

	for i, actor := range []string{"alice", "bob", "carol"} {
		req, err = svc.Decide(ctx, DecideInput{
			RequestID: req.ID,
			Decision:  models.DecisionApprove,
			Actor:     actor,
		})
		require.NoError(t, err)
		if i < 2 {
			assert.Equal(t, models.RequestPending, req.Status)
			assert.Equal(t, i+1, req.CurrentStep)
		}
	}
	assert.Equal(t, models.RequestApproved, req.Status)

	select {
	case evt := <-emitted:
		assert.Equal(t, events.InvoiceApproved, evt.Type)
		assert.Equal(t, "inv-42", evt.EntityID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected an invoice.approved event")
	}
}

func TestSequentialRejectTerminatesImmediately(t *testing.T) {
	svc, workflows, _, _ := newTestApprovalService()
	seedWorkflow(t, workflows, models.EntityInvoice, models.ModeSequential, threeSteps()...)

	ctx := context.Background()
	req, err := svc.CreateRequest(ctx, models.EntityInvoice, "inv-42", "")
	require.NoError(t, err)

	req, err = svc.Decide(ctx, DecideInput{RequestID: req.ID, Decision: models.DecisionApprove, Actor: "alice"})
	require.NoError(t, err)

	req, err = svc.Decide(ctx, DecideInput{RequestID: req.ID, Decision: models.DecisionReject, Actor: "bob", Comment: "amount looks wrong"})
	require.NoError(t, err)
	assert.Equal(t, models.RequestRejected, req.Status)

	// The third step is never evaluated
	_, err = svc.Decide(ctx, DecideInput{RequestID: req.ID, Decision: models.DecisionApprove, Actor: "carol"})
	assert.True(t, appErrors.IsInvalidState(err))
}

func TestSequentialOutOfOrderDecisionRejected(t *testing.T) {
	svc, workflows, _, _ := newTestApprovalService()
	seedWorkflow(t, workflows, models.EntityInvoice, models.ModeSequential, threeSteps()...)

	ctx := context.Background()
	req, err := svc.CreateRequest(ctx, models.EntityInvoice, "inv-42", "")
	require.NoError(t, err)

	// Deciding step 2 while step 1 is current
	_, err = svc.Decide(ctx, DecideInput{
		RequestID: req.ID,
		StepID:    req.Steps[1].ID,
		Decision:  models.DecisionApprove,
		Actor:     "bob",
	})
	assert.True(t, appErrors.IsInvalidState(err))
}

func TestDuplicateStepDecisionIsConflict(t *testing.T) {
	svc, workflows, _, _ := newTestApprovalService()
	seedWorkflow(t, workflows, models.EntityInvoice, models.ModeParallel, threeSteps()...)

	ctx := context.Background()
	req, err := svc.CreateRequest(ctx, models.EntityInvoice, "inv-42", "")
	require.NoError(t, err)

	stepID := req.Steps[0].ID
	_, err = svc.Decide(ctx, DecideInput{RequestID: req.ID, StepID: stepID, Decision: models.DecisionApprove, Actor: "alice"})
	require.NoError(t, err)

	_, err = svc.Decide(ctx, DecideInput{RequestID: req.ID, StepID: stepID, Decision: models.DecisionApprove, Actor: "bob"})
	assert.True(t, appErrors.IsConflict(err))
}

func TestParallelRequiresAllNonOptionalSteps(t *testing.T) {
	svc, workflows, _, _ := newTestApprovalService()
	steps := []*models.WorkflowStep{
		{Sequence: 1, ApproverKind: models.ApproverRole, ApproverValue: "manager"},
		{Sequence: 2, ApproverKind: models.ApproverUser, ApproverValue: "user-finance"},
		{Sequence: 3, ApproverKind: models.ApproverClient, ApproverValue: "client-7", Optional: true},
	}
	seedWorkflow(t, workflows, models.EntityProposal, models.ModeParallel, steps...)

	ctx := context.Background()
	req, err := svc.CreateRequest(ctx, models.EntityProposal, "prop-1", "")
	require.NoError(t, err)

	// Decisions arrive out of step order
	req2, err := svc.Decide(ctx, DecideInput{RequestID: req.ID, StepID: req.Steps[1].ID, Decision: models.DecisionApprove, Actor: "bob"})
	require.NoError(t, err)
	assert.Equal(t, models.RequestPending, req2.Status)

	req3, err := svc.Decide(ctx, DecideInput{RequestID: req.ID, StepID: req.Steps[0].ID, Decision: models.DecisionApprove, Actor: "alice"})
	require.NoError(t, err)
	// The optional third step never decided, yet the request completes
	assert.Equal(t, models.RequestApproved, req3.Status)
}

func TestParallelSingleRejectTerminates(t *testing.T) {
	svc, workflows, _, _ := newTestApprovalService()
	seedWorkflow(t, workflows, models.EntityProposal, models.ModeParallel, threeSteps()...)

	ctx := context.Background()
	req, err := svc.CreateRequest(ctx, models.EntityProposal, "prop-1", "")
	require.NoError(t, err)

	req, err = svc.Decide(ctx, DecideInput{RequestID: req.ID, StepID: req.Steps[2].ID, Decision: models.DecisionReject, Actor: "carol"})
	require.NoError(t, err)
	assert.Equal(t, models.RequestRejected, req.Status)
}

func TestAnyOneFirstApproveWins(t *testing.T) {
	svc, workflows, _, _ := newTestApprovalService()
	seedWorkflow(t, workflows, models.EntityContract, models.ModeAnyOne, threeSteps()...)

	ctx := context.Background()
	req, err := svc.CreateRequest(ctx, models.EntityContract, "con-9", "")
	require.NoError(t, err)

	req, err = svc.Decide(ctx, DecideInput{RequestID: req.ID, StepID: req.Steps[1].ID, Decision: models.DecisionApprove, Actor: "bob"})
	require.NoError(t, err)
	assert.Equal(t, models.RequestApproved, req.Status)
}

func TestAnyOneAllRequiredRejectsTerminates(t *testing.T) {
	svc, workflows, _, _ := newTestApprovalService()
	steps := []*models.WorkflowStep{
		{Sequence: 1, ApproverKind: models.ApproverRole, ApproverValue: "manager"},
		{Sequence: 2, ApproverKind: models.ApproverUser, ApproverValue: "user-finance"},
	}
	seedWorkflow(t, workflows, models.EntityContract, models.ModeAnyOne, steps...)

	ctx := context.Background()
	req, err := svc.CreateRequest(ctx, models.EntityContract, "con-9", "")
	require.NoError(t, err)

	req2, err := svc.Decide(ctx, DecideInput{RequestID: req.ID, StepID: req.Steps[0].ID, Decision: models.DecisionReject, Actor: "alice"})
	require.NoError(t, err)
	assert.Equal(t, models.RequestPending, req2.Status)

	req3, err := svc.Decide(ctx, DecideInput{RequestID: req.ID, StepID: req.Steps[1].ID, Decision: models.DecisionReject, Actor: "bob"})
	require.NoError(t, err)
	assert.Equal(t, models.RequestRejected, req3.Status)
}

func TestSecondOpenRequestIsConflict(t *testing.T) {
	svc, workflows, _, _ := newTestApprovalService()
	seedWorkflow(t, workflows, models.EntityInvoice, models.ModeSequential, threeSteps()...)

	ctx := context.Background()
	_, err := svc.CreateRequest(ctx, models.EntityInvoice, "inv-42", "")
	require.NoError(t, err)

	_, err = svc.CreateRequest(ctx, models.EntityInvoice, "inv-42", "")
	assert.True(t, appErrors.IsConflict(err))
}

func TestRevisionRequestedNeedsFreshSubmission(t *testing.T) {
	svc, workflows, _, _ := newTestApprovalService()
	seedWorkflow(t, workflows, models.EntityInvoice, models.ModeSequential, threeSteps()...)

	ctx := context.Background()
	req, err := svc.CreateRequest(ctx, models.EntityInvoice, "inv-42", "")
	require.NoError(t, err)

	req, err = svc.Decide(ctx, DecideInput{RequestID: req.ID, Decision: models.DecisionRevise, Actor: "alice"})
	require.NoError(t, err)
	assert.Equal(t, models.RequestRevisionRequested, req.Status)

	// Terminal request cannot be resumed
	_, err = svc.Decide(ctx, DecideInput{RequestID: req.ID, Decision: models.DecisionApprove, Actor: "alice"})
	assert.True(t, appErrors.IsInvalidState(err))

	// But a new request for the same entity opens fine
	fresh, err := svc.CreateRequest(ctx, models.EntityInvoice, "inv-42", "")
	require.NoError(t, err)
	assert.NotEqual(t, req.ID, fresh.ID)
}

func TestConcurrentDecideOneWins(t *testing.T) {
	svc, workflows, approvals, _ := newTestApprovalService()
	seedWorkflow(t, workflows, models.EntityInvoice, models.ModeParallel, threeSteps()...)

	ctx := context.Background()
	req, err := svc.CreateRequest(ctx, models.EntityInvoice, "inv-42", "")
	require.NoError(t, err)

	// Two actors loaded the same version of the request
	copy1, err := approvals.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	copy2, err := approvals.GetRequest(ctx, req.ID)
	require.NoError(t, err)

	_, err = svc.decideLoaded(ctx, copy1, DecideInput{
		RequestID: req.ID, StepID: req.Steps[0].ID, Decision: models.DecisionApprove, Actor: "alice",
	})
	require.NoError(t, err)

	_, err = svc.decideLoaded(ctx, copy2, DecideInput{
		RequestID: req.ID, StepID: req.Steps[1].ID, Decision: models.DecisionApprove, Actor: "bob",
	})
	assert.True(t, appErrors.IsConflict(err))

	// The loser's decision was never recorded
	stored, err := approvals.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Decisions, 1)
}

func TestCancelPendingRequest(t *testing.T) {
	svc, workflows, _, _ := newTestApprovalService()
	seedWorkflow(t, workflows, models.EntityInvoice, models.ModeSequential, threeSteps()...)

	ctx := context.Background()
	req, err := svc.CreateRequest(ctx, models.EntityInvoice, "inv-42", "")
	require.NoError(t, err)

	req, err = svc.Cancel(ctx, req.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.RequestCancelled, req.Status)

	_, err = svc.Cancel(ctx, req.ID, "alice")
	assert.True(t, appErrors.IsInvalidState(err))
}

func TestBulkDecideMixedStatusFailsValidation(t *testing.T) {
	svc, workflows, approvals, _ := newTestApprovalService()
	seedWorkflow(t, workflows, models.EntityInvoice, models.ModeAnyOne, threeSteps()...)

	ctx := context.Background()
	req1, err := svc.CreateRequest(ctx, models.EntityInvoice, "inv-1", "")
	require.NoError(t, err)
	req2, err := svc.CreateRequest(ctx, models.EntityInvoice, "inv-2", "")
	require.NoError(t, err)
	req3, err := svc.CreateRequest(ctx, models.EntityInvoice, "inv-3", "")
	require.NoError(t, err)

	// req2 completes before the bulk operation
	_, err = svc.Decide(ctx, DecideInput{RequestID: req2.ID, Decision: models.DecisionApprove, Actor: "alice"})
	require.NoError(t, err)

	_, err = svc.BulkDecide(ctx, []string{req1.ID, req2.ID, req3.ID}, models.DecisionReject, "alice", "")
	assert.True(t, appErrors.IsValidation(err))

	// Nothing was applied
	for _, id := range []string{req1.ID, req3.ID} {
		stored, err := approvals.GetRequest(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.RequestPending, stored.Status)
		assert.Empty(t, stored.Decisions)
	}
}

func TestBulkDecideReportsPerItemOutcomes(t *testing.T) {
	svc, workflows, _, _ := newTestApprovalService()
	seedWorkflow(t, workflows, models.EntityInvoice, models.ModeAnyOne, threeSteps()...)

	ctx := context.Background()
	req1, err := svc.CreateRequest(ctx, models.EntityInvoice, "inv-1", "")
	require.NoError(t, err)
	req2, err := svc.CreateRequest(ctx, models.EntityInvoice, "inv-2", "")
	require.NoError(t, err)

	outcomes, err := svc.BulkDecide(ctx, []string{req1.ID, req2.ID}, models.DecisionApprove, "alice", "fine")
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	for _, outcome := range outcomes {
		assert.Empty(t, outcome.Error)
		assert.Equal(t, models.RequestApproved, outcome.Status)
	}
}

func TestCreateRequestResolvesDefaultWorkflow(t *testing.T) {
	svc, workflows, _, _ := newTestApprovalService()

	ctx := context.Background()
	_, err := svc.CreateRequest(ctx, models.EntityInvoice, "inv-42", "")
	assert.True(t, appErrors.IsNotFound(err))

	def := seedWorkflow(t, workflows, models.EntityInvoice, models.ModeSequential, threeSteps()...)
	req, err := svc.CreateRequest(ctx, models.EntityInvoice, "inv-42", "")
	require.NoError(t, err)
	assert.Equal(t, def.ID, req.WorkflowID)
}

func TestStepSnapshotSurvivesDefinitionEdit(t *testing.T) {
	svc, workflows, approvals, _ := newTestApprovalService()
	def := seedWorkflow(t, workflows, models.EntityInvoice, models.ModeSequential, threeSteps()...)

	ctx := context.Background()
	req, err := svc.CreateRequest(ctx, models.EntityInvoice, "inv-42", "")
	require.NoError(t, err)

	// Definition loses a step after the request was opened
	def.Steps = def.Steps[:1]
	require.NoError(t, workflows.UpdateDefinition(ctx, def))

	stored, err := approvals.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Steps, 3)
}

func TestDecideStorageErrorLeavesRequestUnchanged(t *testing.T) {
	svc, workflows, approvals, _ := newTestApprovalService()
	seedWorkflow(t, workflows, models.EntityInvoice, models.ModeSequential, threeSteps()...)

	ctx := context.Background()
	req, err := svc.CreateRequest(ctx, models.EntityInvoice, "inv-42", "")
	require.NoError(t, err)

	approvals.decisionErr = errors.New("storage offline")
	_, err = svc.Decide(ctx, DecideInput{RequestID: req.ID, Decision: models.DecisionApprove, Actor: "alice"})
	require.Error(t, err)

	// The request must not advance without its decision row
	stored, err := approvals.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestPending, stored.Status)
	assert.Equal(t, 0, stored.CurrentStep)
	assert.Empty(t, stored.Decisions)
	assert.Equal(t, int64(1), stored.Version)

	// Once storage recovers, the same decision goes through cleanly
	approvals.decisionErr = nil
	updated, err := svc.Decide(ctx, DecideInput{RequestID: req.ID, Decision: models.DecisionApprove, Actor: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.CurrentStep)
	assert.Len(t, updated.Decisions, 1)
}
