package events

import (
	"fmt"
	"time"
)

// EventType defines the type of domain event in the system
type EventType string

const (
	// Lead Events
	LeadCreated   EventType = "lead.created"
	LeadConverted EventType = "lead.converted"

	// Proposal Events
	ProposalCreated           EventType = "proposal.created"
	ProposalUpdated           EventType = "proposal.updated"
	ProposalApproved          EventType = "proposal.approved"
	ProposalRejected          EventType = "proposal.rejected"
	ProposalRevisionRequested EventType = "proposal.revision_requested"

	// Invoice Events
	InvoiceCreated           EventType = "invoice.created"
	InvoiceUpdated           EventType = "invoice.updated"
	InvoicePaid              EventType = "invoice.paid"
	InvoiceOverdue           EventType = "invoice.overdue"
	InvoiceApproved          EventType = "invoice.approved"
	InvoiceRejected          EventType = "invoice.rejected"
	InvoiceRevisionRequested EventType = "invoice.revision_requested"

	// Contract Events
	ContractCreated           EventType = "contract.created"
	ContractUpdated           EventType = "contract.updated"
	ContractSigned            EventType = "contract.signed"
	ContractApproved          EventType = "contract.approved"
	ContractRejected          EventType = "contract.rejected"
	ContractRevisionRequested EventType = "contract.revision_requested"

	// Deliverable Events
	DeliverableCreated           EventType = "deliverable.created"
	DeliverableUpdated           EventType = "deliverable.updated"
	DeliverableApproved          EventType = "deliverable.approved"
	DeliverableRejected          EventType = "deliverable.rejected"
	DeliverableRevisionRequested EventType = "deliverable.revision_requested"

	// Project Events
	ProjectCreated           EventType = "project.created"
	ProjectUpdated           EventType = "project.updated"
	ProjectStatusChanged     EventType = "project.status_changed"
	ProjectApproved          EventType = "project.approved"
	ProjectRejected          EventType = "project.rejected"
	ProjectRevisionRequested EventType = "project.revision_requested"
)

// String returns the string representation of the event type
func (e EventType) String() string {
	return string(e)
}

// allEventTypes is the closed enumeration callers may register triggers for
var allEventTypes = map[EventType]bool{
	LeadCreated: true, LeadConverted: true,
	ProposalCreated: true, ProposalUpdated: true, ProposalApproved: true,
	ProposalRejected: true, ProposalRevisionRequested: true,
	InvoiceCreated: true, InvoiceUpdated: true, InvoicePaid: true,
	InvoiceOverdue: true, InvoiceApproved: true, InvoiceRejected: true,
	InvoiceRevisionRequested: true,
	ContractCreated: true, ContractUpdated: true, ContractSigned: true,
	ContractApproved: true, ContractRejected: true, ContractRevisionRequested: true,
	DeliverableCreated: true, DeliverableUpdated: true, DeliverableApproved: true,
	DeliverableRejected: true, DeliverableRevisionRequested: true,
	ProjectCreated: true, ProjectUpdated: true, ProjectStatusChanged: true,
	ProjectApproved: true, ProjectRejected: true, ProjectRevisionRequested: true,
}

// IsValid reports whether the event type belongs to the closed enumeration
func (e EventType) IsValid() bool {
	return allEventTypes[e]
}

// All returns every known event type
func All() []EventType {
	out := make([]EventType, 0, len(allEventTypes))
	for t := range allEventTypes {
		out = append(out, t)
	}
	return out
}

// Outcome builds the approval-outcome event type for an entity type, e.g.
// Outcome("invoice", "approved") == InvoiceApproved.
func Outcome(entityType, outcome string) EventType {
	return EventType(fmt.Sprintf("%s.%s", entityType, outcome))
}

// Event is an immutable fact about a domain occurrence. Snapshot carries the
// entity flattened to dotted key -> scalar pairs (see pkg/payload.Flatten).
type Event struct {
	Type      EventType              `json:"type"`
	EntityID  string                 `json:"entity_id"`
	Snapshot  map[string]interface{} `json:"snapshot"`
	Timestamp time.Time              `json:"timestamp"`
}

// IdempotencyKey derives the dedupe key for this event. Two deliveries of the
// same logical fact (same type, entity, and entity updated_at) share a key.
func (e Event) IdempotencyKey() string {
	updatedAt := ""
	if v, ok := e.Snapshot["updated_at"]; ok {
		updatedAt = fmt.Sprintf("%v", v)
	}
	return fmt.Sprintf("%s:%s:%s", e.Type, e.EntityID, updatedAt)
}
