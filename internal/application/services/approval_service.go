package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/studioflow/backend/internal/domain"
	"github.com/studioflow/backend/internal/domain/events"
	"github.com/studioflow/backend/internal/domain/models"
	"github.com/studioflow/backend/internal/domain/ports"
	appErrors "github.com/studioflow/backend/pkg/errors"
)

// ApprovalService owns the approval request life cycle: it instantiates step
// snapshots, records decisions, advances or terminates requests, and emits
// outcome events back onto the event bus.
type ApprovalService struct {
	workflows ports.WorkflowStore
	approvals ports.ApprovalStore
	sm        *domain.RequestStateMachine
	bus       *EventBus
	clock     ports.Clock
}

// NewApprovalService creates a new ApprovalService
func NewApprovalService(workflows ports.WorkflowStore, approvals ports.ApprovalStore, bus *EventBus, clock ports.Clock) *ApprovalService {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &ApprovalService{
		workflows: workflows,
		approvals: approvals,
		sm:        domain.NewRequestStateMachine(),
		bus:       bus,
		clock:     clock,
	}
}

// CreateRequest opens an approval request for an entity. When workflowID is
// empty the entity type's default workflow is resolved. The workflow's steps
// are snapshotted onto the request so later definition edits never alter it.
func (s *ApprovalService) CreateRequest(ctx context.Context, entityType models.EntityType, entityID, workflowID string) (*models.ApprovalRequest, error) {
	if !entityType.IsValid() {
		return nil, appErrors.NewValidationError("entity_type", fmt.Sprintf("unknown entity type: %s", entityType))
	}
	if entityID == "" {
		return nil, appErrors.NewValidationError("entity_id", "entity id is required")
	}

	var def *models.WorkflowDefinition
	var err error
	if workflowID != "" {
		def, err = s.workflows.GetDefinition(ctx, workflowID)
	} else {
		def, err = s.workflows.GetDefaultDefinition(ctx, entityType)
	}
	if err != nil {
		return nil, err
	}
	if !def.IsActive {
		return nil, appErrors.NewInvalidStateError("workflow definition", "inactive", "cannot submit against an inactive workflow")
	}
	if def.EntityType != entityType {
		return nil, appErrors.NewValidationError("workflow_id",
			fmt.Sprintf("workflow %s targets %s, not %s", def.ID, def.EntityType, entityType))
	}
	if len(def.Steps) == 0 {
		return nil, appErrors.NewInvalidStateError("workflow definition", "empty", "workflow has no steps")
	}

	req := &models.ApprovalRequest{
		WorkflowID: def.ID,
		EntityType: entityType,
		EntityID:   entityID,
		Mode:       def.Mode,
		Status:     models.RequestPending,
		Steps:      snapshotSteps(def.Steps),
	}
	if err := s.approvals.CreateRequest(ctx, req); err != nil {
		return nil, err
	}

	log.Printf("✅ APPROVAL REQUEST CREATED: id=%s entity=%s:%s workflow=%s steps=%d",
		req.ID, entityType, entityID, def.ID, len(req.Steps))
	return req, nil
}

// DecideInput is the input for recording one step decision
type DecideInput struct {
	RequestID string
	StepID    string // empty selects the current eligible step
	Decision  models.Decision
	Actor     string
	Comment   string
}

// Decide records a decision on a step and applies mode-specific progression.
// The request state is committed before the outcome event is handed to the
// trigger engine; a failing downstream dispatch never rolls back approval
// state.
func (s *ApprovalService) Decide(ctx context.Context, in DecideInput) (*models.ApprovalRequest, error) {
	if !in.Decision.IsValid() {
		return nil, appErrors.NewValidationError("decision", fmt.Sprintf("unknown decision: %s", in.Decision))
	}
	if in.Actor == "" {
		return nil, appErrors.NewValidationError("actor", "actor is required")
	}

	req, err := s.approvals.GetRequest(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}
	return s.decideLoaded(ctx, req, in)
}

// decideLoaded applies a decision to an already-loaded request. The version
// CAS on the request row and the decision insert commit in one transaction,
// so of two concurrent decisions only the CAS winner records anything and a
// storage failure never leaves an advanced request without its decision.
func (s *ApprovalService) decideLoaded(ctx context.Context, req *models.ApprovalRequest, in DecideInput) (*models.ApprovalRequest, error) {
	if req.Status.IsTerminal() {
		return nil, appErrors.NewInvalidStateError("approval request", string(req.Status),
			"request is already terminal")
	}

	step, err := s.resolveStep(req, in.StepID)
	if err != nil {
		return nil, err
	}
	if req.DecisionFor(step.ID) != nil {
		return nil, appErrors.NewConflictError("step decision", "step already decided")
	}
	if in.Decision == models.DecisionSkip && !step.Optional {
		return nil, appErrors.NewValidationError("decision", "only optional steps can be skipped")
	}
	if req.Mode == models.ModeSequential {
		eligible := req.EligibleStep()
		if eligible == nil || eligible.ID != step.ID {
			return nil, appErrors.NewInvalidStateError("approval request", string(req.Status),
				fmt.Sprintf("step %d is not eligible yet, current step is %d", step.Sequence, req.CurrentStep+1))
		}
	}

	decision := &models.StepDecision{
		RequestID: req.ID,
		StepID:    step.ID,
		Decision:  in.Decision,
		Actor:     in.Actor,
		Comment:   in.Comment,
		DecidedAt: s.clock.Now(),
	}

	expectedVersion := req.Version
	s.applyProgression(req, step, decision)

	if err := s.approvals.UpdateRequestWithDecision(ctx, req, expectedVersion, decision); err != nil {
		return nil, err
	}
	req.Decisions = append(req.Decisions, decision)

	log.Printf("✅ DECISION RECORDED: request=%s step=%d decision=%s actor=%s status=%s",
		req.ID, step.Sequence, in.Decision, in.Actor, req.Status)

	s.emitOutcome(req)
	return req, nil
}

// Cancel withdraws a pending request. Cancellation emits no outcome event;
// downstream consumers only care about approval verdicts.
func (s *ApprovalService) Cancel(ctx context.Context, requestID, actor string) (*models.ApprovalRequest, error) {
	req, err := s.approvals.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	next, err := s.sm.Transition(req.Status, domain.TransitionCancel)
	if err != nil {
		return nil, appErrors.NewInvalidStateError("approval request", string(req.Status), err.Error())
	}

	expectedVersion := req.Version
	req.Status = next
	if err := s.approvals.UpdateRequest(ctx, req, expectedVersion); err != nil {
		return nil, err
	}

	log.Printf("🔄 APPROVAL REQUEST CANCELLED: id=%s actor=%s", req.ID, actor)
	return req, nil
}

// BulkOutcome reports the per-item result of a bulk decision
type BulkOutcome struct {
	RequestID string               `json:"request_id"`
	Status    models.RequestStatus `json:"status,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// BulkDecide applies the decision to the current eligible step of each
// request. Validation is all-or-nothing: every request must be loadable,
// pending, and share the same status before any decision is applied.
func (s *ApprovalService) BulkDecide(ctx context.Context, requestIDs []string, decision models.Decision, actor, comment string) ([]BulkOutcome, error) {
	if len(requestIDs) == 0 {
		return nil, appErrors.NewValidationError("request_ids", "at least one request id is required")
	}
	if !decision.IsValid() {
		return nil, appErrors.NewValidationError("decision", fmt.Sprintf("unknown decision: %s", decision))
	}

	// Validation pass: load everything before touching anything
	reqs := make([]*models.ApprovalRequest, 0, len(requestIDs))
	for _, id := range requestIDs {
		req, err := s.approvals.GetRequest(ctx, id)
		if err != nil {
			return nil, appErrors.NewValidationError("request_ids", fmt.Sprintf("request %s: %v", id, err))
		}
		reqs = append(reqs, req)
	}
	status := reqs[0].Status
	for _, req := range reqs {
		if req.Status != status {
			return nil, appErrors.NewValidationError("request_ids",
				fmt.Sprintf("requests do not share a status: %s is %s, %s is %s",
					reqs[0].ID, status, req.ID, req.Status))
		}
	}
	if status.IsTerminal() {
		return nil, appErrors.NewValidationError("request_ids",
			fmt.Sprintf("requests are already terminal (%s)", status))
	}

	// Apply pass: per-item outcomes are reported individually
	outcomes := make([]BulkOutcome, 0, len(reqs))
	for _, req := range reqs {
		updated, err := s.decideLoaded(ctx, req, DecideInput{
			RequestID: req.ID,
			Decision:  decision,
			Actor:     actor,
			Comment:   comment,
		})
		if err != nil {
			outcomes = append(outcomes, BulkOutcome{RequestID: req.ID, Error: err.Error()})
			continue
		}
		outcomes = append(outcomes, BulkOutcome{RequestID: req.ID, Status: updated.Status})
	}
	return outcomes, nil
}

// GetRequest loads one request with its decisions
func (s *ApprovalService) GetRequest(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	return s.approvals.GetRequest(ctx, id)
}

// ListRequests returns requests matching the filter
func (s *ApprovalService) ListRequests(ctx context.Context, filter ports.RequestFilter) ([]*models.ApprovalRequest, error) {
	return s.approvals.ListRequests(ctx, filter)
}

// History returns the decision trail for a request, oldest first
func (s *ApprovalService) History(ctx context.Context, requestID string) ([]*models.StepDecision, error) {
	req, err := s.approvals.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return req.Decisions, nil
}

// Private helpers

func snapshotSteps(steps []*models.WorkflowStep) []*models.WorkflowStep {
	out := make([]*models.WorkflowStep, len(steps))
	for i, s := range steps {
		copied := *s
		out[i] = &copied
	}
	return out
}

func (s *ApprovalService) resolveStep(req *models.ApprovalRequest, stepID string) (*models.WorkflowStep, error) {
	if stepID == "" {
		step := req.EligibleStep()
		if step == nil {
			return nil, appErrors.NewInvalidStateError("approval request", string(req.Status), "no step is eligible for a decision")
		}
		return step, nil
	}
	step := req.StepFor(stepID)
	if step == nil {
		return nil, appErrors.NewNotFoundError("workflow step", stepID)
	}
	return step, nil
}

// applyProgression mutates the request's status and current step for a fresh
// decision, per the mode rules. The decision is not yet in req.Decisions.
func (s *ApprovalService) applyProgression(req *models.ApprovalRequest, step *models.WorkflowStep, decision *models.StepDecision) {
	switch req.Mode {
	case models.ModeSequential:
		if !decision.Decision.Approves() {
			s.terminate(req, decision.Decision)
			return
		}
		req.CurrentStep++
		if req.CurrentStep >= len(req.Steps) {
			req.Status = models.RequestApproved
		}

	case models.ModeParallel:
		if !decision.Decision.Approves() {
			s.terminate(req, decision.Decision)
			return
		}
		if s.allRequiredApproved(req, step.ID) {
			req.Status = models.RequestApproved
		}

	case models.ModeAnyOne:
		if decision.Decision.Approves() {
			req.Status = models.RequestApproved
			return
		}
		if decision.Decision == models.DecisionRevise {
			s.terminate(req, decision.Decision)
			return
		}
		if s.allRequiredRejected(req, step.ID) {
			req.Status = models.RequestRejected
		}
	}
}

func (s *ApprovalService) terminate(req *models.ApprovalRequest, d models.Decision) {
	next, err := s.sm.Transition(req.Status, domain.TransitionForDecision(d))
	if err != nil {
		// Callers already rejected terminal requests; reaching here is a bug
		log.Printf("❌ INVALID APPROVAL TRANSITION: request=%s decision=%s status=%s", req.ID, d, req.Status)
		return
	}
	req.Status = next
}

// allRequiredApproved reports whether every non-optional step has an approving
// decision, counting pendingStepID as freshly approved.
func (s *ApprovalService) allRequiredApproved(req *models.ApprovalRequest, pendingStepID string) bool {
	for _, step := range req.Steps {
		if step.Optional {
			continue
		}
		if step.ID == pendingStepID {
			continue
		}
		d := req.DecisionFor(step.ID)
		if d == nil || !d.Decision.Approves() {
			return false
		}
	}
	return true
}

// allRequiredRejected reports whether every non-optional step has a reject
// decision, counting pendingStepID as freshly rejected.
func (s *ApprovalService) allRequiredRejected(req *models.ApprovalRequest, pendingStepID string) bool {
	for _, step := range req.Steps {
		if step.Optional {
			continue
		}
		if step.ID == pendingStepID {
			continue
		}
		d := req.DecisionFor(step.ID)
		if d == nil || d.Decision != models.DecisionReject {
			return false
		}
	}
	return true
}

// emitOutcome publishes the entity outcome event once the request reaches a
// verdict. Dispatch runs async so a slow trigger sweep never blocks decide.
func (s *ApprovalService) emitOutcome(req *models.ApprovalRequest) {
	if s.bus == nil || !req.Status.IsTerminal() || req.Status == models.RequestCancelled {
		return
	}

	outcome := string(req.Status) // approved | rejected | revision_requested
	evt := events.Event{
		Type:     events.Outcome(string(req.EntityType), outcome),
		EntityID: req.EntityID,
		Snapshot: map[string]interface{}{
			"request_id":  req.ID,
			"entity_type": string(req.EntityType),
			"entity_id":   req.EntityID,
			"status":      string(req.Status),
			"updated_at":  req.UpdatedAt.UTC().Format(time.RFC3339),
		},
		Timestamp: req.UpdatedAt,
	}
	s.bus.PublishAsync(evt)
}
