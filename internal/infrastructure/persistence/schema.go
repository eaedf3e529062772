package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaDDL creates the automation core's tables. The migration mechanism for
// the wider platform lives outside this service; these statements only ensure
// a fresh deployment can start.
//
// approval_requests.open_key is "entity_type:entity_id" while the request is
// pending and NULL once terminal; the unique index on it is what enforces the
// one-open-request-per-entity invariant at the storage level. MySQL unique
// indexes ignore NULLs, so terminal requests never collide.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS ` + TableWorkflowDefinitions + ` (
		id VARCHAR(36) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		entity_type VARCHAR(50) NOT NULL,
		mode VARCHAR(20) NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		version BIGINT NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		INDEX idx_wfdef_entity (entity_type, is_active, is_default)
	)`,
	`CREATE TABLE IF NOT EXISTS ` + TableWorkflowSteps + ` (
		id VARCHAR(36) PRIMARY KEY,
		workflow_id VARCHAR(36) NOT NULL,
		sequence INT NOT NULL,
		approver_kind VARCHAR(20) NOT NULL,
		approver_value VARCHAR(255) NOT NULL,
		optional BOOLEAN NOT NULL DEFAULT FALSE,
		auto_approve_secs BIGINT NOT NULL DEFAULT 0,
		UNIQUE KEY uq_step_sequence (workflow_id, sequence),
		CONSTRAINT fk_step_workflow FOREIGN KEY (workflow_id)
			REFERENCES ` + TableWorkflowDefinitions + ` (id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS ` + TableApprovalRequests + ` (
		id VARCHAR(36) PRIMARY KEY,
		workflow_id VARCHAR(36) NOT NULL,
		entity_type VARCHAR(50) NOT NULL,
		entity_id VARCHAR(36) NOT NULL,
		mode VARCHAR(20) NOT NULL,
		status VARCHAR(30) NOT NULL,
		current_step INT NOT NULL DEFAULT 0,
		reminder_count INT NOT NULL DEFAULT 0,
		steps JSON NOT NULL,
		open_key VARCHAR(100) NULL,
		version BIGINT NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE KEY uq_request_open (open_key),
		INDEX idx_request_entity (entity_type, entity_id),
		INDEX idx_request_status (status, updated_at)
	)`,
	`CREATE TABLE IF NOT EXISTS ` + TableStepDecisions + ` (
		id VARCHAR(36) PRIMARY KEY,
		request_id VARCHAR(36) NOT NULL,
		step_id VARCHAR(36) NOT NULL,
		decision VARCHAR(20) NOT NULL,
		actor VARCHAR(255) NOT NULL,
		comment TEXT,
		decided_at DATETIME NOT NULL,
		UNIQUE KEY uq_decision_step (request_id, step_id),
		CONSTRAINT fk_decision_request FOREIGN KEY (request_id)
			REFERENCES ` + TableApprovalRequests + ` (id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS ` + TableTriggerDefinitions + ` (
		id VARCHAR(36) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		condition_expr JSON NULL,
		action_type VARCHAR(50) NOT NULL,
		action_config JSON NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		priority INT NOT NULL DEFAULT 100,
		version BIGINT NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		INDEX idx_trigger_event (event_type, is_active, priority, created_at)
	)`,
	`CREATE TABLE IF NOT EXISTS ` + TableTriggerDispatches + ` (
		id VARCHAR(36) PRIMARY KEY,
		event_key VARCHAR(255) NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		trigger_id VARCHAR(36) NOT NULL,
		status VARCHAR(20) NOT NULL,
		error_message TEXT,
		dispatched_at DATETIME NOT NULL,
		UNIQUE KEY uq_dispatch_pair (event_key, trigger_id),
		INDEX idx_dispatch_trigger (trigger_id, dispatched_at),
		INDEX idx_dispatch_status (status, dispatched_at)
	)`,
	`CREATE TABLE IF NOT EXISTS ` + TableDeliveryRecords + ` (
		id VARCHAR(36) PRIMARY KEY,
		destination VARCHAR(500) NOT NULL,
		event_key VARCHAR(255) NOT NULL,
		payload MEDIUMTEXT NOT NULL,
		sig VARCHAR(128) NOT NULL,
		status VARCHAR(20) NOT NULL,
		attempt_count INT NOT NULL DEFAULT 0,
		last_error TEXT,
		response_status INT NOT NULL DEFAULT 0,
		latency_ms BIGINT NOT NULL DEFAULT 0,
		next_retry_at DATETIME NULL,
		version BIGINT NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		INDEX idx_delivery_sweep (destination(191), status, next_retry_at),
		INDEX idx_delivery_due (status, next_retry_at)
	)`,
	`CREATE TABLE IF NOT EXISTS ` + TableWebhookSecrets + ` (
		destination VARCHAR(500) PRIMARY KEY,
		current_secret VARCHAR(255) NOT NULL,
		previous_secret VARCHAR(255),
		rotated_at DATETIME NULL
	)`,
}

// EnsureSchema creates any missing automation tables
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, ddl := range schemaDDL {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}
