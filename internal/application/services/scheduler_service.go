package services

import (
	"context"
	"log"
	"sync"

	"github.com/robfig/cron/v3"
)

// SchedulerService drives the periodic sweeps: delivery retries, approval
// auto-approvals, and reminders. Sweeps run off the request path so a slow
// external endpoint never blocks an approval decision.
type SchedulerService struct {
	cron     *cron.Cron
	delivery *DeliveryService
	sweeper  *ApprovalSweeper

	retrySpec       string
	autoApproveSpec string
	reminderSpec    string

	// Per-sweep mutexes: a sweep that overruns its tick is skipped, not
	// stacked.
	retryMu    sync.Mutex
	approvalMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
}

// NewSchedulerService creates a new scheduler service
func NewSchedulerService(delivery *DeliveryService, sweeper *ApprovalSweeper, retrySpec, autoApproveSpec, reminderSpec string) *SchedulerService {
	ctx, cancel := context.WithCancel(context.Background())
	return &SchedulerService{
		cron:            cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		delivery:        delivery,
		sweeper:         sweeper,
		retrySpec:       retrySpec,
		autoApproveSpec: autoApproveSpec,
		reminderSpec:    reminderSpec,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Start registers the sweep jobs and begins the cron loop
func (s *SchedulerService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	if _, err := s.cron.AddFunc(s.retrySpec, s.runRetrySweep); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.autoApproveSpec, s.runAutoApproveSweep); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.reminderSpec, s.runReminderSweep); err != nil {
		return err
	}

	s.cron.Start()
	s.running = true
	log.Printf("⏰ Scheduler started: retries=%q auto-approve=%q reminders=%q",
		s.retrySpec, s.autoApproveSpec, s.reminderSpec)
	return nil
}

// Stop cancels the sweep context and waits for running jobs to finish.
// Sweeps are cooperative: the record in flight completes, the rest of the
// batch is picked up again on the next start.
func (s *SchedulerService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	log.Printf("⏰ Scheduler stopping...")
	s.cancel()
	<-s.cron.Stop().Done()
	log.Printf("⏰ Scheduler stopped")
}

func (s *SchedulerService) runRetrySweep() {
	if !s.retryMu.TryLock() {
		return
	}
	defer s.retryMu.Unlock()
	s.delivery.RetrySweep(s.ctx)
}

func (s *SchedulerService) runAutoApproveSweep() {
	if !s.approvalMu.TryLock() {
		return
	}
	defer s.approvalMu.Unlock()
	s.sweeper.AutoApproveSweep(s.ctx, s.sweeper.clock.Now())
}

// runReminderSweep runs a full pass: auto-approvals are applied before
// reminder eligibility is evaluated, so a step that auto-approves on this
// tick never also generates a reminder.
func (s *SchedulerService) runReminderSweep() {
	if !s.approvalMu.TryLock() {
		return
	}
	defer s.approvalMu.Unlock()
	s.sweeper.Sweep(s.ctx)
}
