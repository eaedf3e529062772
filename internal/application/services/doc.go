// Package services provides the business logic layer for the automation core.
//
// This package contains all service implementations that handle:
//   - Workflow definition management (WorkflowService)
//   - Approval request lifecycle and decisions (ApprovalService)
//   - Idle-request auto-approval, reminders, and escalation (ApprovalSweeper)
//   - Event-driven trigger evaluation and dispatch (TriggerService)
//   - Webhook delivery with signing and retry backoff (DeliveryService)
//   - Cron-driven background sweeps (SchedulerService)
//   - Event publishing and subscription (EventBus)
//
// All services follow clean architecture principles with dependency injection
// and are designed to be testable and maintainable.
package services
