// Package persistence implements the store ports over MySQL. The database is
// the single source of truth: every engine reads and writes through these
// repositories under optimistic versioning.
package persistence

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
)

// Table names
const (
	TableWorkflowDefinitions = "workflow_definitions"
	TableWorkflowSteps       = "workflow_steps"
	TableApprovalRequests    = "approval_requests"
	TableStepDecisions       = "step_decisions"
	TableTriggerDefinitions  = "trigger_definitions"
	TableTriggerDispatches   = "trigger_dispatches"
	TableDeliveryRecords     = "delivery_records"
	TableWebhookSecrets      = "webhook_secrets"
)

// mysqlErrDuplicateEntry is the server error number for a unique key violation
const mysqlErrDuplicateEntry = 1062

// Executor abstracts *sql.DB and *sql.Tx so repository methods can run inside
// or outside a transaction
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// isDuplicateEntry reports whether an error is a MySQL unique key violation
func isDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDuplicateEntry
}
