package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/studioflow/backend/internal/domain/models"
	appErrors "github.com/studioflow/backend/pkg/errors"
	"github.com/studioflow/backend/pkg/signature"
	"github.com/studioflow/backend/pkg/utils"
)

// DeliveryRepository persists delivery records and per-destination signing
// secrets
type DeliveryRepository struct {
	db *sql.DB
}

// NewDeliveryRepository creates a new DeliveryRepository
func NewDeliveryRepository(db *sql.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

const deliveryColumns = `id, destination, event_key, payload, sig, status, attempt_count,
	last_error, response_status, latency_ms, next_retry_at, version, created_at, updated_at`

// CreateRecord inserts a fresh delivery record
func (r *DeliveryRepository) CreateRecord(ctx context.Context, rec *models.DeliveryRecord) error {
	if rec.ID == "" {
		rec.ID = utils.GenerateID()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.Version = 1

	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, TableDeliveryRecords, deliveryColumns)
	_, err := r.db.ExecContext(ctx, query, rec.ID, rec.Destination, rec.EventKey, rec.Payload,
		rec.Signature, rec.Status, rec.AttemptCount, rec.LastError, rec.ResponseStatus,
		rec.LatencyMS, rec.NextRetryAt, rec.Version, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert delivery record: %w", err)
	}
	return nil
}

// UpdateRecord writes attempt state conditional on the expected version.
// Retry sweeps and manual retries race through this CAS; the loser backs off.
func (r *DeliveryRepository) UpdateRecord(ctx context.Context, rec *models.DeliveryRecord, expectedVersion int64) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = ?, attempt_count = ?, last_error = ?, response_status = ?,
			latency_ms = ?, next_retry_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, TableDeliveryRecords)
	rec.UpdatedAt = time.Now().UTC()
	result, err := r.db.ExecContext(ctx, query, rec.Status, rec.AttemptCount, rec.LastError,
		rec.ResponseStatus, rec.LatencyMS, rec.NextRetryAt, rec.UpdatedAt, rec.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update delivery record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErrors.NewConflictError("delivery record", "version mismatch, re-fetch and retry")
	}
	rec.Version = expectedVersion + 1
	return nil
}

// GetRecord loads one delivery record
func (r *DeliveryRepository) GetRecord(ctx context.Context, id string) (*models.DeliveryRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, deliveryColumns, TableDeliveryRecords)
	rec, err := scanDelivery(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, appErrors.NewNotFoundError("delivery record", id)
	}
	return rec, err
}

// ListRecords returns records for a destination, optionally filtered by
// status, newest first
func (r *DeliveryRepository) ListRecords(ctx context.Context, destination string, status models.DeliveryStatus, limit int) ([]*models.DeliveryRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE 1=1`, deliveryColumns, TableDeliveryRecords)
	args := []interface{}{}
	if destination != "" {
		query += ` AND destination = ?`
		args = append(args, destination)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.queryRecords(ctx, query, args...)
}

// DueForRetry returns retryable records whose next retry time has elapsed,
// oldest due first. Both unattempted (pending) and failed records qualify.
func (r *DeliveryRepository) DueForRetry(ctx context.Context, now time.Time, limit int) ([]*models.DeliveryRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE status IN (?, ?) AND next_retry_at IS NOT NULL AND next_retry_at <= ?
		ORDER BY next_retry_at ASC
		LIMIT ?
	`, deliveryColumns, TableDeliveryRecords)
	return r.queryRecords(ctx, query, models.DeliveryPending, models.DeliveryFailed, now, limit)
}

// Stats aggregates delivery outcomes for a destination over a time window
func (r *DeliveryRepository) Stats(ctx context.Context, destination string, from, to time.Time) (*models.DeliveryStats, error) {
	stats := &models.DeliveryStats{
		Destination:    destination,
		WindowStart:    from,
		WindowEnd:      to,
		FailureReasons: map[string]int{},
	}

	query := fmt.Sprintf(`
		SELECT
			COUNT(*),
			COALESCE(SUM(status = ?), 0),
			COALESCE(SUM(status = ?), 0),
			COALESCE(SUM(status = ?), 0),
			COALESCE(AVG(CASE WHEN status = ? THEN latency_ms END), 0)
		FROM %s
		WHERE destination = ? AND created_at >= ? AND created_at < ?
	`, TableDeliveryRecords)
	err := r.db.QueryRowContext(ctx, query,
		models.DeliverySuccess, models.DeliveryFailed, models.DeliveryAbandoned, models.DeliverySuccess,
		destination, from, to).
		Scan(&stats.Total, &stats.Succeeded, &stats.Failed, &stats.Abandoned, &stats.AvgLatencyMS)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate delivery stats: %w", err)
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Succeeded) / float64(stats.Total)
	}

	reasonQuery := fmt.Sprintf(`
		SELECT last_error, COUNT(*)
		FROM %s
		WHERE destination = ? AND created_at >= ? AND created_at < ?
			AND status IN (?, ?) AND last_error <> ''
		GROUP BY last_error
	`, TableDeliveryRecords)
	rows, err := r.db.QueryContext(ctx, reasonQuery, destination, from, to,
		models.DeliveryFailed, models.DeliveryAbandoned)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate failure reasons: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var reason string
		var count int
		if err := rows.Scan(&reason, &count); err != nil {
			return nil, err
		}
		stats.FailureReasons[reason] = count
	}
	return stats, rows.Err()
}

// GetSecret loads the signing secret for a destination. A destination with no
// stored secret returns NotFoundError; callers seed a secret before the first
// delivery.
func (r *DeliveryRepository) GetSecret(ctx context.Context, destination string) (signature.Secret, error) {
	query := fmt.Sprintf(`
		SELECT current_secret, previous_secret, rotated_at
		FROM %s WHERE destination = ?
	`, TableWebhookSecrets)
	var sec signature.Secret
	var previous sql.NullString
	var rotatedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, destination).Scan(&sec.Current, &previous, &rotatedAt)
	if err == sql.ErrNoRows {
		return signature.Secret{}, appErrors.NewNotFoundError("webhook secret", destination)
	}
	if err != nil {
		return signature.Secret{}, fmt.Errorf("failed to load webhook secret: %w", err)
	}
	sec.Previous = previous.String
	if rotatedAt.Valid {
		sec.RotatedAt = rotatedAt.Time
	}
	return sec, nil
}

// SaveSecret upserts the signing secret for a destination
func (r *DeliveryRepository) SaveSecret(ctx context.Context, destination string, secret signature.Secret) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (destination, current_secret, previous_secret, rotated_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			current_secret = VALUES(current_secret),
			previous_secret = VALUES(previous_secret),
			rotated_at = VALUES(rotated_at)
	`, TableWebhookSecrets)
	var rotatedAt interface{}
	if !secret.RotatedAt.IsZero() {
		rotatedAt = secret.RotatedAt
	}
	if _, err := r.db.ExecContext(ctx, query, destination, secret.Current, secret.Previous, rotatedAt); err != nil {
		return fmt.Errorf("failed to save webhook secret: %w", err)
	}
	return nil
}

// Private helpers

func scanDelivery(row rowScanner) (*models.DeliveryRecord, error) {
	var rec models.DeliveryRecord
	var lastError sql.NullString
	var nextRetryAt sql.NullTime
	err := row.Scan(&rec.ID, &rec.Destination, &rec.EventKey, &rec.Payload, &rec.Signature,
		&rec.Status, &rec.AttemptCount, &lastError, &rec.ResponseStatus, &rec.LatencyMS,
		&nextRetryAt, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.LastError = lastError.String
	if nextRetryAt.Valid {
		t := nextRetryAt.Time
		rec.NextRetryAt = &t
	}
	return &rec, nil
}

func (r *DeliveryRepository) queryRecords(ctx context.Context, query string, args ...interface{}) ([]*models.DeliveryRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query delivery records: %w", err)
	}
	defer rows.Close()

	var recs []*models.DeliveryRecord
	for rows.Next() {
		rec, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
