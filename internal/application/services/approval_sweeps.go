package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/studioflow/backend/internal/domain/models"
	"github.com/studioflow/backend/internal/domain/ports"
	appErrors "github.com/studioflow/backend/pkg/errors"
)

// sweepBatchSize bounds how many pending requests one sweep pass loads
const sweepBatchSize = 500

// ApprovalSweeper runs the periodic auto-approve and reminder passes over
// pending approval requests. Eligibility is recomputed from persisted state on
// every pass, so an interrupted sweep is safe to resume.
type ApprovalSweeper struct {
	approvals ports.ApprovalStore
	service   *ApprovalService
	notifier  ports.Notifier
	clock     ports.Clock

	reminderThresholds []time.Duration
	maxReminders       int
	adminRole          string
}

// NewApprovalSweeper creates a new ApprovalSweeper
func NewApprovalSweeper(approvals ports.ApprovalStore, service *ApprovalService, notifier ports.Notifier,
	clock ports.Clock, reminderThresholds []time.Duration, maxReminders int, adminRole string) *ApprovalSweeper {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &ApprovalSweeper{
		approvals:          approvals,
		service:            service,
		notifier:           notifier,
		clock:              clock,
		reminderThresholds: reminderThresholds,
		maxReminders:       maxReminders,
		adminRole:          adminRole,
	}
}

// Sweep runs one full pass: auto-approvals first, then reminders, so a step
// that auto-approves on this tick never also generates a reminder.
func (s *ApprovalSweeper) Sweep(ctx context.Context) {
	now := s.clock.Now()
	s.AutoApproveSweep(ctx, now)
	s.ReminderSweep(ctx, now)
}

// AutoApproveSweep records a synthetic approval for every pending step whose
// auto-approve delay has elapsed without a decision
func (s *ApprovalSweeper) AutoApproveSweep(ctx context.Context, now time.Time) {
	reqs, err := s.approvals.ListRequests(ctx, ports.RequestFilter{
		Status: models.RequestPending,
		Limit:  sweepBatchSize,
	})
	if err != nil {
		log.Printf("❌ AUTO-APPROVE SWEEP: failed to list pending requests: %v", err)
		return
	}

	approved := 0
	for _, req := range reqs {
		select {
		case <-ctx.Done():
			log.Printf("⏰ AUTO-APPROVE SWEEP: interrupted after %d approvals", approved)
			return
		default:
		}

		step := s.autoApprovableStep(req, now)
		if step == nil {
			continue
		}

		decision := models.DecisionApprove
		if step.Optional {
			decision = models.DecisionSkip
		}
		if _, err := s.service.decideLoaded(ctx, req, DecideInput{
			RequestID: req.ID,
			StepID:    step.ID,
			Decision:  decision,
			Actor:     models.SystemAutoApprover,
			Comment:   fmt.Sprintf("auto-approved after %s without a decision", step.AutoApproveAfter),
		}); err != nil {
			// Losing a CAS race to a human decision is expected, not an error
			if appErrors.IsConflict(err) {
				continue
			}
			log.Printf("⚠️ AUTO-APPROVE FAILED: request=%s step=%d error=%v", req.ID, step.Sequence, err)
			continue
		}
		approved++
	}

	if approved > 0 {
		log.Printf("⏰ AUTO-APPROVE SWEEP: %d step(s) auto-approved", approved)
	}
}

// ReminderSweep nudges approvers of idle pending requests at the configured
// thresholds, at most once per threshold crossing. Past the max reminder
// count it escalates to the administrator role instead.
func (s *ApprovalSweeper) ReminderSweep(ctx context.Context, now time.Time) {
	if s.notifier == nil {
		return
	}

	reqs, err := s.approvals.ListRequests(ctx, ports.RequestFilter{
		Status: models.RequestPending,
		Limit:  sweepBatchSize,
	})
	if err != nil {
		log.Printf("❌ REMINDER SWEEP: failed to list pending requests: %v", err)
		return
	}

	sent := 0
	for _, req := range reqs {
		select {
		case <-ctx.Done():
			log.Printf("⏰ REMINDER SWEEP: interrupted after %d reminders", sent)
			return
		default:
		}

		idle := now.Sub(s.idleSince(req))
		crossed := 0
		for _, threshold := range s.reminderThresholds {
			if idle >= threshold {
				crossed++
			}
		}
		if crossed <= req.ReminderCount {
			continue
		}

		step := req.EligibleStep()
		if step == nil {
			continue
		}

		// Claim the count bump first so a notify failure never re-sends the
		// same threshold's reminder on the next pass
		escalate := req.ReminderCount >= s.maxReminders
		priorCount := req.ReminderCount
		expectedVersion := req.Version
		req.ReminderCount++
		if err := s.approvals.UpdateRequest(ctx, req, expectedVersion); err != nil {
			if !appErrors.IsConflict(err) {
				log.Printf("⚠️ REMINDER COUNT UPDATE FAILED: request=%s error=%v", req.ID, err)
			}
			continue
		}

		if err := s.sendReminder(ctx, req, step, idle, priorCount, escalate); err != nil {
			log.Printf("⚠️ REMINDER FAILED: request=%s error=%v", req.ID, err)
			continue
		}
		sent++
	}

	if sent > 0 {
		log.Printf("⏰ REMINDER SWEEP: %d reminder(s) sent", sent)
	}
}

// autoApprovableStep returns the step a synthetic approval should target, or
// nil. Sequential mode considers only the current step; the other modes
// consider every undecided step. The delay counts from the moment the step
// became decidable.
func (s *ApprovalSweeper) autoApprovableStep(req *models.ApprovalRequest, now time.Time) *models.WorkflowStep {
	if req.Mode == models.ModeSequential {
		step := req.EligibleStep()
		if step == nil || step.AutoApproveAfter <= 0 {
			return nil
		}
		if now.Sub(s.idleSince(req)) >= step.AutoApproveAfter {
			return step
		}
		return nil
	}

	for _, step := range req.Steps {
		if step.AutoApproveAfter <= 0 || req.DecisionFor(step.ID) != nil {
			continue
		}
		if now.Sub(req.CreatedAt) >= step.AutoApproveAfter {
			return step
		}
	}
	return nil
}

// idleSince is the last moment anything moved on the request: the latest
// decision, or creation. Reminder bookkeeping deliberately does not count.
func (s *ApprovalSweeper) idleSince(req *models.ApprovalRequest) time.Time {
	since := req.CreatedAt
	for _, d := range req.Decisions {
		if d.DecidedAt.After(since) {
			since = d.DecidedAt
		}
	}
	return since
}

func (s *ApprovalSweeper) sendReminder(ctx context.Context, req *models.ApprovalRequest, step *models.WorkflowStep,
	idle time.Duration, priorCount int, escalate bool) error {
	n := ports.Notification{
		Kind:      "in_app",
		Recipient: step.ApproverValue,
		Subject:   fmt.Sprintf("Approval pending: %s %s", req.EntityType, req.EntityID),
		Body: fmt.Sprintf("Approval request %s has been waiting %s for a decision on step %d.",
			req.ID, idle.Round(time.Hour), step.Sequence),
		EntityID: req.EntityID,
		Meta: map[string]interface{}{
			"request_id":     req.ID,
			"reminder_count": priorCount + 1,
		},
	}
	if escalate {
		n.Recipient = s.adminRole
		n.Subject = fmt.Sprintf("Approval stalled: %s %s", req.EntityType, req.EntityID)
		n.Body = fmt.Sprintf("Approval request %s is still pending after %d reminders to %s.",
			req.ID, priorCount, step.ApproverValue)
	}
	return s.notifier.Notify(ctx, n)
}
