package services

import (
	"github.com/studioflow/backend/internal/domain/ports"
	"github.com/studioflow/backend/internal/infrastructure/database"
	"github.com/studioflow/backend/internal/infrastructure/notify"
	"github.com/studioflow/backend/internal/infrastructure/persistence"
	"github.com/studioflow/backend/internal/infrastructure/transport"
	"github.com/studioflow/backend/pkg/config"
)

// ServiceManager orchestrates all services with dependency injection
type ServiceManager struct {
	db       *database.Connection
	notifier *notify.NATSNotifier

	EventBus  *EventBus
	Workflow  *WorkflowService
	Approval  *ApprovalService
	Sweeper   *ApprovalSweeper
	Trigger   *TriggerService
	Delivery  *DeliveryService
	Scheduler *SchedulerService
}

// NewServiceManager creates a new service manager with all dependencies wired.
// The entity CRUD collaborator is reached over NATS; with NATS disabled,
// create_task and update_status trigger actions fail at dispatch time.
func NewServiceManager(db *database.Connection, cfg *config.Config) (*ServiceManager, error) {
	sm := &ServiceManager{db: db}

	notifier, err := notify.NewNATSNotifier(cfg.NATSURL, cfg.NotificationsSubject)
	if err != nil {
		return nil, err
	}
	sm.notifier = notifier
	domainSvc := notify.NewNATSDomainService(notifier, cfg.DomainCommandsSubject)

	workflowRepo := persistence.NewWorkflowRepository(db.DB())
	approvalRepo := persistence.NewApprovalRepository(db.DB())
	triggerRepo := persistence.NewTriggerRepository(db.DB())
	deliveryRepo := persistence.NewDeliveryRepository(db.DB())

	clock := ports.SystemClock{}

	// Initialize services in dependency order
	sm.EventBus = NewEventBus()
	sm.Workflow = NewWorkflowService(workflowRepo)
	sm.Approval = NewApprovalService(workflowRepo, approvalRepo, sm.EventBus, clock)
	sm.Sweeper = NewApprovalSweeper(approvalRepo, sm.Approval, notifier, clock,
		cfg.ReminderThresholds, cfg.MaxReminders, cfg.AdminRole)
	sm.Delivery = NewDeliveryService(deliveryRepo, transport.NewHTTPSender(cfg.DeliveryTimeout),
		notifier, clock, cfg.MaxDeliveryAttempts, cfg.DeliveryBaseDelay, cfg.SignatureGraceWindow, cfg.AdminRole)
	sm.Trigger = NewTriggerService(triggerRepo, sm.Delivery, notifier, domainSvc, sm.EventBus)
	sm.Scheduler = NewSchedulerService(sm.Delivery, sm.Sweeper,
		cfg.RetrySweepSpec, cfg.AutoApproveSweepSpec, cfg.ReminderSweepSpec)

	// Route every emitted event through the trigger engine
	sm.Trigger.RegisterHandlers()

	return sm, nil
}

// Start begins the background sweeps
func (sm *ServiceManager) Start() error {
	return sm.Scheduler.Start()
}

// Stop shuts down the sweeps and drains the notifier connection
func (sm *ServiceManager) Stop() {
	sm.Scheduler.Stop()
	sm.notifier.Close()
}
