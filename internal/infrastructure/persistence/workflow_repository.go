package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/studioflow/backend/internal/domain/models"
	appErrors "github.com/studioflow/backend/pkg/errors"
	"github.com/studioflow/backend/pkg/utils"
)

// WorkflowRepository persists workflow definitions and steps
type WorkflowRepository struct {
	db *sql.DB
}

// NewWorkflowRepository creates a new WorkflowRepository
func NewWorkflowRepository(db *sql.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// CreateDefinition inserts a definition with its steps. When the definition is
// marked default, the previous default for the entity type is cleared in the
// same transaction.
func (r *WorkflowRepository) CreateDefinition(ctx context.Context, def *models.WorkflowDefinition) error {
	if def.ID == "" {
		def.ID = utils.GenerateID()
	}
	now := time.Now().UTC()
	def.CreatedAt = now
	def.UpdatedAt = now
	def.Version = 1

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if def.IsDefault {
		if err := r.clearDefault(ctx, tx, def.EntityType); err != nil {
			return err
		}
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, name, entity_type, mode, is_active, is_default, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, TableWorkflowDefinitions)
	if _, err := tx.ExecContext(ctx, query, def.ID, def.Name, def.EntityType, def.Mode,
		def.IsActive, def.IsDefault, def.Version, def.CreatedAt, def.UpdatedAt); err != nil {
		return fmt.Errorf("failed to insert workflow definition: %w", err)
	}

	if err := r.insertSteps(ctx, tx, def); err != nil {
		return err
	}

	return tx.Commit()
}

// UpdateDefinition rewrites the definition and its steps, conditional on the
// stored version. In-flight approval requests are unaffected: they carry their
// own step snapshot.
func (r *WorkflowRepository) UpdateDefinition(ctx context.Context, def *models.WorkflowDefinition) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if def.IsDefault {
		if err := r.clearDefault(ctx, tx, def.EntityType); err != nil {
			return err
		}
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET name = ?, mode = ?, is_active = ?, is_default = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, TableWorkflowDefinitions)
	result, err := tx.ExecContext(ctx, query, def.Name, def.Mode, def.IsActive, def.IsDefault,
		time.Now().UTC(), def.ID, def.Version)
	if err != nil {
		return fmt.Errorf("failed to update workflow definition: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErrors.NewConflictError("workflow definition", "version mismatch, re-fetch and retry")
	}

	deleteQuery := fmt.Sprintf(`DELETE FROM %s WHERE workflow_id = ?`, TableWorkflowSteps)
	if _, err := tx.ExecContext(ctx, deleteQuery, def.ID); err != nil {
		return fmt.Errorf("failed to clear workflow steps: %w", err)
	}
	if err := r.insertSteps(ctx, tx, def); err != nil {
		return err
	}

	def.Version++
	return tx.Commit()
}

// DeleteDefinition removes a definition; steps cascade
func (r *WorkflowRepository) DeleteDefinition(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, TableWorkflowDefinitions)
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow definition: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErrors.NewNotFoundError("workflow definition", id)
	}
	return nil
}

// GetDefinition loads a definition with its steps ordered by sequence
func (r *WorkflowRepository) GetDefinition(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	query := fmt.Sprintf(`
		SELECT id, name, entity_type, mode, is_active, is_default, version, created_at, updated_at
		FROM %s WHERE id = ?
	`, TableWorkflowDefinitions)
	def, err := r.scanDefinition(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, appErrors.NewNotFoundError("workflow definition", id)
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadSteps(ctx, def); err != nil {
		return nil, err
	}
	return def, nil
}

// GetDefaultDefinition loads the active default workflow for an entity type
func (r *WorkflowRepository) GetDefaultDefinition(ctx context.Context, entityType models.EntityType) (*models.WorkflowDefinition, error) {
	query := fmt.Sprintf(`
		SELECT id, name, entity_type, mode, is_active, is_default, version, created_at, updated_at
		FROM %s WHERE entity_type = ? AND is_active = TRUE AND is_default = TRUE
		LIMIT 1
	`, TableWorkflowDefinitions)
	def, err := r.scanDefinition(r.db.QueryRowContext(ctx, query, entityType))
	if err == sql.ErrNoRows {
		return nil, appErrors.NewNotFoundError("default workflow for "+string(entityType), "")
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadSteps(ctx, def); err != nil {
		return nil, err
	}
	return def, nil
}

// ListDefinitions returns definitions, optionally filtered by entity type
func (r *WorkflowRepository) ListDefinitions(ctx context.Context, entityType models.EntityType) ([]*models.WorkflowDefinition, error) {
	query := fmt.Sprintf(`
		SELECT id, name, entity_type, mode, is_active, is_default, version, created_at, updated_at
		FROM %s
	`, TableWorkflowDefinitions)
	args := []interface{}{}
	if entityType != "" {
		query += ` WHERE entity_type = ?`
		args = append(args, entityType)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow definitions: %w", err)
	}
	defer rows.Close()

	var defs []*models.WorkflowDefinition
	for rows.Next() {
		def, err := r.scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, def := range defs {
		if err := r.loadSteps(ctx, def); err != nil {
			return nil, err
		}
	}
	return defs, nil
}

// Private helpers

func (r *WorkflowRepository) clearDefault(ctx context.Context, exec Executor, entityType models.EntityType) error {
	query := fmt.Sprintf(`UPDATE %s SET is_default = FALSE WHERE entity_type = ? AND is_default = TRUE`, TableWorkflowDefinitions)
	if _, err := exec.ExecContext(ctx, query, entityType); err != nil {
		return fmt.Errorf("failed to clear default workflow: %w", err)
	}
	return nil
}

func (r *WorkflowRepository) insertSteps(ctx context.Context, exec Executor, def *models.WorkflowDefinition) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, workflow_id, sequence, approver_kind, approver_value, optional, auto_approve_secs)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, TableWorkflowSteps)
	for _, step := range def.Steps {
		if step.ID == "" {
			step.ID = utils.GenerateID()
		}
		step.WorkflowID = def.ID
		if _, err := exec.ExecContext(ctx, query, step.ID, step.WorkflowID, step.Sequence,
			step.ApproverKind, step.ApproverValue, step.Optional, int64(step.AutoApproveAfter.Seconds())); err != nil {
			if isDuplicateEntry(err) {
				return appErrors.NewConflictError("workflow step", fmt.Sprintf("duplicate sequence %d", step.Sequence))
			}
			return fmt.Errorf("failed to insert workflow step: %w", err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *WorkflowRepository) scanDefinition(row rowScanner) (*models.WorkflowDefinition, error) {
	var def models.WorkflowDefinition
	err := row.Scan(&def.ID, &def.Name, &def.EntityType, &def.Mode,
		&def.IsActive, &def.IsDefault, &def.Version, &def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &def, nil
}

func (r *WorkflowRepository) loadSteps(ctx context.Context, def *models.WorkflowDefinition) error {
	query := fmt.Sprintf(`
		SELECT id, workflow_id, sequence, approver_kind, approver_value, optional, auto_approve_secs
		FROM %s WHERE workflow_id = ? ORDER BY sequence ASC
	`, TableWorkflowSteps)
	rows, err := r.db.QueryContext(ctx, query, def.ID)
	if err != nil {
		return fmt.Errorf("failed to load workflow steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var step models.WorkflowStep
		var autoApproveSecs int64
		if err := rows.Scan(&step.ID, &step.WorkflowID, &step.Sequence,
			&step.ApproverKind, &step.ApproverValue, &step.Optional, &autoApproveSecs); err != nil {
			return err
		}
		step.AutoApproveAfter = time.Duration(autoApproveSecs) * time.Second
		def.Steps = append(def.Steps, &step)
	}
	return rows.Err()
}
