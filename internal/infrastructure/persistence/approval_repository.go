package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/studioflow/backend/internal/domain/models"
	"github.com/studioflow/backend/internal/domain/ports"
	appErrors "github.com/studioflow/backend/pkg/errors"
	"github.com/studioflow/backend/pkg/utils"
)

// ApprovalRepository persists approval requests, their step snapshots, and
// step decisions
type ApprovalRepository struct {
	db *sql.DB
}

// NewApprovalRepository creates a new ApprovalRepository
func NewApprovalRepository(db *sql.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

func openKeyFor(req *models.ApprovalRequest) interface{} {
	if req.Status == models.RequestPending {
		return fmt.Sprintf("%s:%s", req.EntityType, req.EntityID)
	}
	return nil
}

// CreateRequest persists a request with its step snapshot serialized as JSON.
// The unique index on open_key rejects a second open request for the same
// entity, surfaced as ConflictError.
func (r *ApprovalRepository) CreateRequest(ctx context.Context, req *models.ApprovalRequest) error {
	if req.ID == "" {
		req.ID = utils.GenerateID()
	}
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now
	req.Version = 1

	stepsJSON, err := json.Marshal(req.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal step snapshot: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, workflow_id, entity_type, entity_id, mode, status, current_step,
			reminder_count, steps, open_key, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, TableApprovalRequests)
	_, err = r.db.ExecContext(ctx, query, req.ID, req.WorkflowID, req.EntityType, req.EntityID,
		req.Mode, req.Status, req.CurrentStep, req.ReminderCount, stepsJSON, openKeyFor(req),
		req.Version, req.CreatedAt, req.UpdatedAt)
	if err != nil {
		if isDuplicateEntry(err) {
			return appErrors.NewConflictError("approval request",
				fmt.Sprintf("an open request already exists for %s %s", req.EntityType, req.EntityID))
		}
		return fmt.Errorf("failed to insert approval request: %w", err)
	}
	return nil
}

// GetRequest loads a request with its step snapshot and decisions
func (r *ApprovalRepository) GetRequest(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	query := fmt.Sprintf(`
		SELECT id, workflow_id, entity_type, entity_id, mode, status, current_step,
			reminder_count, steps, version, created_at, updated_at
		FROM %s WHERE id = ?
	`, TableApprovalRequests)
	req, err := r.scanRequest(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, appErrors.NewNotFoundError("approval request", id)
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadDecisions(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// ListRequests returns requests matching the filter, newest first
func (r *ApprovalRepository) ListRequests(ctx context.Context, filter ports.RequestFilter) ([]*models.ApprovalRequest, error) {
	query := fmt.Sprintf(`
		SELECT id, workflow_id, entity_type, entity_id, mode, status, current_step,
			reminder_count, steps, version, created_at, updated_at
		FROM %s WHERE 1=1
	`, TableApprovalRequests)
	args := []interface{}{}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.EntityType != "" {
		query += ` AND entity_type = ?`
		args = append(args, filter.EntityType)
	}
	if filter.EntityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, filter.EntityID)
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list approval requests: %w", err)
	}
	defer rows.Close()

	var reqs []*models.ApprovalRequest
	for rows.Next() {
		req, err := r.scanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, req := range reqs {
		if err := r.loadDecisions(ctx, req); err != nil {
			return nil, err
		}
	}
	return reqs, nil
}

// UpdateRequest writes status, current step, and reminder count conditional on
// the expected version. The open_key is cleared in the same statement when the
// request leaves pending, releasing the one-open-request slot atomically.
func (r *ApprovalRepository) UpdateRequest(ctx context.Context, req *models.ApprovalRequest, expectedVersion int64) error {
	return r.updateRequest(ctx, r.db, req, expectedVersion)
}

// UpdateRequestWithDecision commits the request update and the decision row in
// one transaction, so a failed decision insert never leaves an advanced
// request without its decision.
func (r *ApprovalRepository) UpdateRequestWithDecision(ctx context.Context, req *models.ApprovalRequest, expectedVersion int64, decision *models.StepDecision) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := r.updateRequest(ctx, tx, req, expectedVersion); err != nil {
		return err
	}
	if err := r.insertDecision(ctx, tx, decision); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *ApprovalRepository) updateRequest(ctx context.Context, ex Executor, req *models.ApprovalRequest, expectedVersion int64) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = ?, current_step = ?, reminder_count = ?, open_key = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, TableApprovalRequests)
	req.UpdatedAt = time.Now().UTC()
	result, err := ex.ExecContext(ctx, query, req.Status, req.CurrentStep, req.ReminderCount,
		openKeyFor(req), req.UpdatedAt, req.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update approval request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErrors.NewConflictError("approval request", "version mismatch, re-fetch and retry")
	}
	req.Version = expectedVersion + 1
	return nil
}

// insertDecision records the single decision for a step. A duplicate
// (request, step) pair is surfaced as ConflictError.
func (r *ApprovalRepository) insertDecision(ctx context.Context, ex Executor, decision *models.StepDecision) error {
	if decision.ID == "" {
		decision.ID = utils.GenerateID()
	}
	if decision.DecidedAt.IsZero() {
		decision.DecidedAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, request_id, step_id, decision, actor, comment, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, TableStepDecisions)
	_, err := ex.ExecContext(ctx, query, decision.ID, decision.RequestID, decision.StepID,
		decision.Decision, decision.Actor, decision.Comment, decision.DecidedAt)
	if err != nil {
		if isDuplicateEntry(err) {
			return appErrors.NewConflictError("step decision", "step already decided")
		}
		return fmt.Errorf("failed to insert step decision: %w", err)
	}
	return nil
}

// Private helpers

func (r *ApprovalRepository) scanRequest(row rowScanner) (*models.ApprovalRequest, error) {
	var req models.ApprovalRequest
	var stepsJSON []byte
	err := row.Scan(&req.ID, &req.WorkflowID, &req.EntityType, &req.EntityID, &req.Mode,
		&req.Status, &req.CurrentStep, &req.ReminderCount, &stepsJSON,
		&req.Version, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(stepsJSON, &req.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal step snapshot: %w", err)
	}
	return &req, nil
}

func (r *ApprovalRepository) loadDecisions(ctx context.Context, req *models.ApprovalRequest) error {
	query := fmt.Sprintf(`
		SELECT id, request_id, step_id, decision, actor, comment, decided_at
		FROM %s WHERE request_id = ? ORDER BY decided_at ASC
	`, TableStepDecisions)
	rows, err := r.db.QueryContext(ctx, query, req.ID)
	if err != nil {
		return fmt.Errorf("failed to load step decisions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d models.StepDecision
		var comment sql.NullString
		if err := rows.Scan(&d.ID, &d.RequestID, &d.StepID, &d.Decision, &d.Actor, &comment, &d.DecidedAt); err != nil {
			return err
		}
		d.Comment = comment.String
		req.Decisions = append(req.Decisions, &d)
	}
	return rows.Err()
}
