package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/studioflow/backend/internal/domain/events"
	"github.com/studioflow/backend/internal/domain/models"
	"github.com/studioflow/backend/internal/domain/ports"
	"github.com/studioflow/backend/pkg/condition"
	appErrors "github.com/studioflow/backend/pkg/errors"
	"github.com/studioflow/backend/pkg/utils"
)

// TriggerRepository persists trigger definitions and the dispatch log
type TriggerRepository struct {
	db *sql.DB
}

// NewTriggerRepository creates a new TriggerRepository
func NewTriggerRepository(db *sql.DB) *TriggerRepository {
	return &TriggerRepository{db: db}
}

// CreateTrigger inserts a trigger definition
func (r *TriggerRepository) CreateTrigger(ctx context.Context, def *models.TriggerDefinition) error {
	if def.ID == "" {
		def.ID = utils.GenerateID()
	}
	now := time.Now().UTC()
	def.CreatedAt = now
	def.UpdatedAt = now
	def.Version = 1

	conditionJSON, configJSON, err := marshalTriggerColumns(def)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, name, event_type, condition_expr, action_type, action_config,
			is_active, priority, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, TableTriggerDefinitions)
	if _, err := r.db.ExecContext(ctx, query, def.ID, def.Name, def.EventType, conditionJSON,
		def.ActionType, configJSON, def.IsActive, def.Priority, def.Version,
		def.CreatedAt, def.UpdatedAt); err != nil {
		return fmt.Errorf("failed to insert trigger definition: %w", err)
	}
	return nil
}

// UpdateTrigger rewrites a trigger definition conditional on the stored version
func (r *TriggerRepository) UpdateTrigger(ctx context.Context, def *models.TriggerDefinition) error {
	conditionJSON, configJSON, err := marshalTriggerColumns(def)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET name = ?, event_type = ?, condition_expr = ?, action_type = ?, action_config = ?,
			is_active = ?, priority = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, TableTriggerDefinitions)
	result, err := r.db.ExecContext(ctx, query, def.Name, def.EventType, conditionJSON,
		def.ActionType, configJSON, def.IsActive, def.Priority, time.Now().UTC(),
		def.ID, def.Version)
	if err != nil {
		return fmt.Errorf("failed to update trigger definition: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErrors.NewConflictError("trigger definition", "version mismatch, re-fetch and retry")
	}
	def.Version++
	return nil
}

// DeleteTrigger removes a trigger definition
func (r *TriggerRepository) DeleteTrigger(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, TableTriggerDefinitions)
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete trigger definition: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErrors.NewNotFoundError("trigger definition", id)
	}
	return nil
}

// GetTrigger loads one trigger definition
func (r *TriggerRepository) GetTrigger(ctx context.Context, id string) (*models.TriggerDefinition, error) {
	query := triggerSelect + ` WHERE id = ?`
	def, err := scanTrigger(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, appErrors.NewNotFoundError("trigger definition", id)
	}
	return def, err
}

// ListActiveByEventType returns active triggers for the event type ordered by
// priority ascending, then creation time ascending. This is the evaluation
// order for matched events.
func (r *TriggerRepository) ListActiveByEventType(ctx context.Context, eventType events.EventType) ([]*models.TriggerDefinition, error) {
	query := triggerSelect + ` WHERE event_type = ? AND is_active = TRUE ORDER BY priority ASC, created_at ASC`
	return r.queryTriggers(ctx, query, eventType)
}

// ListTriggers returns all trigger definitions
func (r *TriggerRepository) ListTriggers(ctx context.Context) ([]*models.TriggerDefinition, error) {
	query := triggerSelect + ` ORDER BY event_type ASC, priority ASC, created_at ASC`
	return r.queryTriggers(ctx, query)
}

// ClaimDispatch atomically records the (event key, trigger) pair. A duplicate
// pair means the event was already dispatched to this trigger; the claim
// returns false and the caller skips execution.
func (r *TriggerRepository) ClaimDispatch(ctx context.Context, dispatch *models.TriggerDispatch) (bool, error) {
	if dispatch.ID == "" {
		dispatch.ID = utils.GenerateID()
	}
	if dispatch.DispatchedAt.IsZero() {
		dispatch.DispatchedAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, event_key, event_type, trigger_id, status, error_message, dispatched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, TableTriggerDispatches)
	_, err := r.db.ExecContext(ctx, query, dispatch.ID, dispatch.EventKey, dispatch.EventType,
		dispatch.TriggerID, dispatch.Status, dispatch.ErrorMessage, dispatch.DispatchedAt)
	if err != nil {
		if isDuplicateEntry(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to claim dispatch: %w", err)
	}
	return true, nil
}

// MarkDispatch records the final outcome of a claimed dispatch
func (r *TriggerRepository) MarkDispatch(ctx context.Context, id string, status models.DispatchStatus, errMessage string) error {
	query := fmt.Sprintf(`UPDATE %s SET status = ?, error_message = ? WHERE id = ?`, TableTriggerDispatches)
	result, err := r.db.ExecContext(ctx, query, status, errMessage, id)
	if err != nil {
		return fmt.Errorf("failed to mark dispatch: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErrors.NewNotFoundError("trigger dispatch", id)
	}
	return nil
}

// ListDispatches returns dispatch log entries matching the filter, newest first
func (r *TriggerRepository) ListDispatches(ctx context.Context, filter ports.DispatchFilter) ([]*models.TriggerDispatch, error) {
	query := fmt.Sprintf(`
		SELECT id, event_key, event_type, trigger_id, status, error_message, dispatched_at
		FROM %s WHERE 1=1
	`, TableTriggerDispatches)
	args := []interface{}{}
	if filter.TriggerID != "" {
		query += ` AND trigger_id = ?`
		args = append(args, filter.TriggerID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if !filter.From.IsZero() {
		query += ` AND dispatched_at >= ?`
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		query += ` AND dispatched_at < ?`
		args = append(args, filter.To)
	}
	query += ` ORDER BY dispatched_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list dispatches: %w", err)
	}
	defer rows.Close()

	var dispatches []*models.TriggerDispatch
	for rows.Next() {
		var d models.TriggerDispatch
		var errMessage sql.NullString
		if err := rows.Scan(&d.ID, &d.EventKey, &d.EventType, &d.TriggerID, &d.Status,
			&errMessage, &d.DispatchedAt); err != nil {
			return nil, err
		}
		d.ErrorMessage = errMessage.String
		dispatches = append(dispatches, &d)
	}
	return dispatches, rows.Err()
}

// Private helpers

var triggerSelect = fmt.Sprintf(`
	SELECT id, name, event_type, condition_expr, action_type, action_config,
		is_active, priority, version, created_at, updated_at
	FROM %s`, TableTriggerDefinitions)

func marshalTriggerColumns(def *models.TriggerDefinition) (interface{}, []byte, error) {
	var conditionJSON interface{}
	if def.Condition != nil && !def.Condition.IsEmpty() {
		raw, err := json.Marshal(def.Condition)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal trigger condition: %w", err)
		}
		conditionJSON = raw
	}
	config := def.ActionConfig
	if config == nil {
		config = map[string]interface{}{}
	}
	configJSON, err := json.Marshal(config)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal action config: %w", err)
	}
	return conditionJSON, configJSON, nil
}

func scanTrigger(row rowScanner) (*models.TriggerDefinition, error) {
	var def models.TriggerDefinition
	var conditionJSON []byte
	var configJSON []byte
	err := row.Scan(&def.ID, &def.Name, &def.EventType, &conditionJSON, &def.ActionType,
		&configJSON, &def.IsActive, &def.Priority, &def.Version, &def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(conditionJSON) > 0 {
		cond, err := condition.Parse(conditionJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to parse stored condition: %w", err)
		}
		def.Condition = cond
	}
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &def.ActionConfig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal action config: %w", err)
		}
	}
	return &def, nil
}

func (r *TriggerRepository) queryTriggers(ctx context.Context, query string, args ...interface{}) ([]*models.TriggerDefinition, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query triggers: %w", err)
	}
	defer rows.Close()

	var defs []*models.TriggerDefinition
	for rows.Next() {
		def, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}
