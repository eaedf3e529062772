package services

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/studioflow/backend/internal/domain/events"
	"github.com/studioflow/backend/internal/domain/models"
	"github.com/studioflow/backend/internal/domain/ports"
	appErrors "github.com/studioflow/backend/pkg/errors"
	"github.com/studioflow/backend/pkg/payload"
	"github.com/studioflow/backend/pkg/signature"
)

// retrySweepBatchSize bounds how many due records one retry sweep processes
const retrySweepBatchSize = 100

// DeliveryService signs and delivers webhook payloads, records every attempt,
// and retries failures on an exponential backoff schedule until the attempt
// cap, after which the record is abandoned.
type DeliveryService struct {
	store     ports.DeliveryStore
	transport ports.Transport
	notifier  ports.Notifier
	clock     ports.Clock

	maxAttempts int
	baseDelay   time.Duration
	graceWindow time.Duration
	adminRole   string
}

// NewDeliveryService creates a new DeliveryService
func NewDeliveryService(store ports.DeliveryStore, transport ports.Transport, notifier ports.Notifier,
	clock ports.Clock, maxAttempts int, baseDelay, graceWindow time.Duration, adminRole string) *DeliveryService {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if baseDelay <= 0 {
		baseDelay = 30 * time.Second
	}
	return &DeliveryService{
		store:       store,
		transport:   transport,
		notifier:    notifier,
		clock:       clock,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		graceWindow: graceWindow,
		adminRole:   adminRole,
	}
}

// SignedPayload is a constructed envelope plus its signature, for previews
type SignedPayload struct {
	Payload   []byte
	Signature string
}

// Preview builds and signs the canonical envelope for an event without
// sending anything
func (ds *DeliveryService) Preview(ctx context.Context, destination string, evt events.Event) (*SignedPayload, error) {
	body, err := payload.BuildEnvelope(string(evt.Type), evt.EntityID, evt.Snapshot, evt.Timestamp).Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize envelope: %w", err)
	}
	secret, err := ds.store.GetSecret(ctx, destination)
	if err != nil {
		return nil, err
	}
	return &SignedPayload{Payload: body, Signature: secret.Sign(body)}, nil
}

// Deliver builds, signs, and sends the envelope for an event, creating a
// delivery record for the attempt. Failures schedule a retry; they are not
// returned to the caller, because the triggering dispatch already succeeded
// once the record exists.
func (ds *DeliveryService) Deliver(ctx context.Context, destination string, evt events.Event) error {
	signed, err := ds.Preview(ctx, destination, evt)
	if err != nil {
		return err
	}

	rec := &models.DeliveryRecord{
		Destination: destination,
		EventKey:    evt.IdempotencyKey(),
		Payload:     signed.Payload,
		Signature:   signed.Signature,
		Status:      models.DeliveryPending,
	}
	if err := ds.store.CreateRecord(ctx, rec); err != nil {
		return err
	}

	ds.attempt(ctx, rec)
	return nil
}

// RetryNow re-attempts a pending or failed delivery immediately, bypassing
// the backoff schedule but still respecting the attempt cap
func (ds *DeliveryService) RetryNow(ctx context.Context, deliveryID string) (*models.DeliveryRecord, error) {
	rec, err := ds.store.GetRecord(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	switch rec.Status {
	case models.DeliverySuccess:
		return nil, appErrors.NewInvalidStateError("delivery record", string(rec.Status), "delivery already succeeded")
	case models.DeliveryAbandoned:
		return nil, appErrors.NewInvalidStateError("delivery record", string(rec.Status),
			fmt.Sprintf("delivery abandoned after %d attempts", rec.AttemptCount))
	}

	ds.attempt(ctx, rec)
	return rec, nil
}

// RetrySweep re-attempts every record whose backoff has elapsed. Interruption
// is safe: due-ness is recomputed from persisted state on the next pass.
func (ds *DeliveryService) RetrySweep(ctx context.Context) {
	now := ds.clock.Now()
	due, err := ds.store.DueForRetry(ctx, now, retrySweepBatchSize)
	if err != nil {
		log.Printf("❌ RETRY SWEEP: failed to list due deliveries: %v", err)
		return
	}
	if len(due) == 0 {
		return
	}

	log.Printf("🔄 RETRY SWEEP: %d delivery(ies) due", len(due))
	for _, rec := range due {
		select {
		case <-ctx.Done():
			log.Printf("📤 RETRY SWEEP: interrupted")
			return
		default:
		}
		ds.attempt(ctx, rec)
	}
}

// GetRecord loads one delivery record
func (ds *DeliveryService) GetRecord(ctx context.Context, id string) (*models.DeliveryRecord, error) {
	return ds.store.GetRecord(ctx, id)
}

// ListRecords returns delivery records for a destination
func (ds *DeliveryService) ListRecords(ctx context.Context, destination string, status models.DeliveryStatus, limit int) ([]*models.DeliveryRecord, error) {
	return ds.store.ListRecords(ctx, destination, status, limit)
}

// GetStats aggregates delivery outcomes for a destination over a window
func (ds *DeliveryService) GetStats(ctx context.Context, destination string, from, to time.Time) (*models.DeliveryStats, error) {
	if !to.After(from) {
		return nil, appErrors.NewValidationError("window", "window end must be after window start")
	}
	return ds.store.Stats(ctx, destination, from, to)
}

// RotateSecret installs a new signing secret for a destination. The previous
// secret stays valid for the configured grace window so in-flight retries
// signed with the old key still verify.
func (ds *DeliveryService) RotateSecret(ctx context.Context, destination, newSecret string) error {
	if newSecret == "" {
		return appErrors.NewValidationError("secret", "secret must not be empty")
	}
	current, err := ds.store.GetSecret(ctx, destination)
	if err != nil && !appErrors.IsNotFound(err) {
		return err
	}
	rotated := current.Rotate(newSecret, ds.clock.Now())
	if err := ds.store.SaveSecret(ctx, destination, rotated); err != nil {
		return err
	}
	log.Printf("🔄 SECRET ROTATED: destination=%s", destination)
	return nil
}

// VerifySignature checks a payload signature against the destination's
// secret. A signature minted with the previous key still verifies within the
// rotation grace window.
func (ds *DeliveryService) VerifySignature(ctx context.Context, destination string, body []byte, sig string) (bool, error) {
	secret, err := ds.store.GetSecret(ctx, destination)
	if err != nil {
		return false, err
	}
	return secret.Verify(body, sig, ds.clock.Now(), ds.graceWindow), nil
}

// SeedSecret stores the initial signing secret for a destination without a
// rotation grace window
func (ds *DeliveryService) SeedSecret(ctx context.Context, destination, secret string) error {
	if secret == "" {
		return appErrors.NewValidationError("secret", "secret must not be empty")
	}
	return ds.store.SaveSecret(ctx, destination, signature.Secret{Current: secret})
}

// Private helpers

// attempt performs one transport call and persists the outcome. The version
// CAS serializes racing sweeps and manual retries on the same record; the
// loser's result is discarded.
func (ds *DeliveryService) attempt(ctx context.Context, rec *models.DeliveryRecord) {
	expectedVersion := rec.Version
	rec.AttemptCount++

	start := ds.clock.Now()
	result, sendErr := ds.transport.Send(ctx, rec.Destination, rec.Payload, rec.Signature)
	rec.LatencyMS = ds.clock.Now().Sub(start).Milliseconds()
	if result != nil {
		rec.ResponseStatus = result.StatusCode
	}

	if sendErr == nil {
		rec.Status = models.DeliverySuccess
		rec.LastError = ""
		rec.NextRetryAt = nil
	} else {
		rec.LastError = sendErr.Error()
		if rec.AttemptCount >= ds.maxAttempts {
			rec.Status = models.DeliveryAbandoned
			rec.NextRetryAt = nil
			ds.alertAbandoned(ctx, rec)
		} else {
			rec.Status = models.DeliveryFailed
			next := ds.clock.Now().Add(ds.backoff(rec.AttemptCount))
			rec.NextRetryAt = &next
			log.Printf("📤 DELIVERY RETRY SCHEDULED: id=%s attempt=%d/%d next=%s",
				rec.ID, rec.AttemptCount, ds.maxAttempts, next.Format(time.RFC3339))
		}
	}

	if err := ds.store.UpdateRecord(ctx, rec, expectedVersion); err != nil {
		if appErrors.IsConflict(err) {
			log.Printf("📤 DELIVERY ATTEMPT DISCARDED: id=%s lost version race", rec.ID)
			return
		}
		log.Printf("❌ DELIVERY RECORD UPDATE FAILED: id=%s error=%v", rec.ID, err)
	}
}

// backoff computes base_delay * 2^(attempt-1) with up to 10% jitter
func (ds *DeliveryService) backoff(attempt int) time.Duration {
	delay := ds.baseDelay << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(delay)/10 + 1))
	return delay + jitter
}

// alertAbandoned surfaces a persistent alert when a delivery exhausts its
// attempts
func (ds *DeliveryService) alertAbandoned(ctx context.Context, rec *models.DeliveryRecord) {
	log.Printf("❌ DELIVERY ABANDONED: id=%s destination=%s attempts=%d last_error=%s",
		rec.ID, rec.Destination, rec.AttemptCount, rec.LastError)
	if ds.notifier == nil {
		return
	}
	err := ds.notifier.Notify(ctx, ports.Notification{
		Kind:      "in_app",
		Recipient: ds.adminRole,
		Subject:   fmt.Sprintf("Webhook delivery abandoned: %s", rec.Destination),
		Body: fmt.Sprintf("Delivery %s to %s was abandoned after %d attempts. Last error: %s",
			rec.ID, rec.Destination, rec.AttemptCount, rec.LastError),
		Meta: map[string]interface{}{"delivery_id": rec.ID},
	})
	if err != nil {
		log.Printf("⚠️ ABANDONED ALERT FAILED: id=%s error=%v", rec.ID, err)
	}
}
