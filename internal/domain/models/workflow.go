package models

import "time"

// EntityType is the closed set of entities an approval workflow can target
type EntityType string

const (
	EntityProposal    EntityType = "proposal"
	EntityInvoice     EntityType = "invoice"
	EntityContract    EntityType = "contract"
	EntityDeliverable EntityType = "deliverable"
	EntityProject     EntityType = "project"
)

// ApprovableEntityTypes lists every entity type that can carry an approval workflow
var ApprovableEntityTypes = []EntityType{
	EntityProposal, EntityInvoice, EntityContract, EntityDeliverable, EntityProject,
}

// IsValid reports whether the entity type belongs to the closed set
func (t EntityType) IsValid() bool {
	for _, v := range ApprovableEntityTypes {
		if t == v {
			return true
		}
	}
	return false
}

// WorkflowMode controls how step decisions combine into a request outcome
type WorkflowMode string

const (
	// ModeSequential requires decisions in step order
	ModeSequential WorkflowMode = "sequential"
	// ModeParallel requires every non-optional step to approve, any order
	ModeParallel WorkflowMode = "parallel"
	// ModeAnyOne completes on the first approval from any step
	ModeAnyOne WorkflowMode = "any_one"
)

// IsValid reports whether the mode is one of the supported workflow modes
func (m WorkflowMode) IsValid() bool {
	return m == ModeSequential || m == ModeParallel || m == ModeAnyOne
}

// ApproverKind identifies how a step's approver descriptor is resolved
type ApproverKind string

const (
	ApproverUser   ApproverKind = "user"
	ApproverRole   ApproverKind = "role"
	ApproverClient ApproverKind = "client"
)

// IsValid reports whether the approver kind is supported
func (k ApproverKind) IsValid() bool {
	return k == ApproverUser || k == ApproverRole || k == ApproverClient
}

// WorkflowDefinition describes an approval workflow for one entity type.
// At most one active definition may be the default per entity type.
type WorkflowDefinition struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	EntityType EntityType   `json:"entity_type"`
	Mode       WorkflowMode `json:"mode"`
	IsActive   bool         `json:"is_active"`
	IsDefault  bool         `json:"is_default"`
	Version    int64        `json:"version"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`

	Steps []*WorkflowStep `json:"steps,omitempty"`
}

// WorkflowStep is one approver slot within a workflow definition.
// Sequence is unique within the definition; AutoApproveAfter of zero means
// the step never auto-approves.
type WorkflowStep struct {
	ID               string        `json:"id"`
	WorkflowID       string        `json:"workflow_id"`
	Sequence         int           `json:"sequence"`
	ApproverKind     ApproverKind  `json:"approver_kind"`
	ApproverValue    string        `json:"approver_value"`
	Optional         bool          `json:"optional"`
	AutoApproveAfter time.Duration `json:"auto_approve_after"`
}

// RequestStatus is the overall status of an approval request
type RequestStatus string

const (
	RequestPending           RequestStatus = "pending"
	RequestApproved          RequestStatus = "approved"
	RequestRejected          RequestStatus = "rejected"
	RequestRevisionRequested RequestStatus = "revision_requested"
	RequestCancelled         RequestStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further decisions
func (s RequestStatus) IsTerminal() bool {
	return s != RequestPending
}

// Decision is the outcome recorded for a single step
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionRevise  Decision = "revise"
	// DecisionSkip is valid only on optional steps and progresses like an approval
	DecisionSkip Decision = "skip"
)

// IsValid reports whether the decision is one of the supported values
func (d Decision) IsValid() bool {
	return d == DecisionApprove || d == DecisionReject || d == DecisionRevise || d == DecisionSkip
}

// Approves reports whether the decision counts as an approval for progression
func (d Decision) Approves() bool {
	return d == DecisionApprove || d == DecisionSkip
}

// SystemAutoApprover is the actor recorded for auto-approve sweep decisions
const SystemAutoApprover = "system:auto-approve"

// ApprovalRequest is one in-flight instance of a workflow applied to one
// entity. Steps are snapshotted from the definition at creation time so later
// definition edits never alter in-flight requests. Exactly one request may be
// pending per (entity type, entity id).
type ApprovalRequest struct {
	ID            string        `json:"id"`
	WorkflowID    string        `json:"workflow_id"`
	EntityType    EntityType    `json:"entity_type"`
	EntityID      string        `json:"entity_id"`
	Mode          WorkflowMode  `json:"mode"`
	Status        RequestStatus `json:"status"`
	CurrentStep   int           `json:"current_step"` // index into Steps, sequential mode only
	ReminderCount int           `json:"reminder_count"`
	Version       int64         `json:"version"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`

	Steps     []*WorkflowStep `json:"steps,omitempty"`
	Decisions []*StepDecision `json:"decisions,omitempty"`
}

// StepFor returns the snapshotted step with the given ID, or nil
func (r *ApprovalRequest) StepFor(stepID string) *WorkflowStep {
	for _, s := range r.Steps {
		if s.ID == stepID {
			return s
		}
	}
	return nil
}

// DecisionFor returns the recorded decision for a step, or nil
func (r *ApprovalRequest) DecisionFor(stepID string) *StepDecision {
	for _, d := range r.Decisions {
		if d.StepID == stepID {
			return d
		}
	}
	return nil
}

// EligibleStep returns the snapshotted step a fresh decision would apply to:
// the current step in sequential mode, or the first undecided step otherwise.
// Returns nil if no step is eligible.
func (r *ApprovalRequest) EligibleStep() *WorkflowStep {
	if r.Mode == ModeSequential {
		if r.CurrentStep >= 0 && r.CurrentStep < len(r.Steps) {
			return r.Steps[r.CurrentStep]
		}
		return nil
	}
	for _, s := range r.Steps {
		if r.DecisionFor(s.ID) == nil {
			return s
		}
	}
	return nil
}

// StepDecision is the single recorded decision for one step of one request
type StepDecision struct {
	ID        string    `json:"id"`
	RequestID string    `json:"request_id"`
	StepID    string    `json:"step_id"`
	Decision  Decision  `json:"decision"`
	Actor     string    `json:"actor"`
	Comment   string    `json:"comment"`
	DecidedAt time.Time `json:"decided_at"`
}
