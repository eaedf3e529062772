package services

// In-memory fakes for the store and collaborator ports. They reproduce the
// storage-level contracts the services rely on: one open request per entity,
// version CAS on updates, and unique (event key, trigger) dispatch claims.

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/studioflow/backend/internal/domain/events"
	"github.com/studioflow/backend/internal/domain/models"
	"github.com/studioflow/backend/internal/domain/ports"
	appErrors "github.com/studioflow/backend/pkg/errors"
	"github.com/studioflow/backend/pkg/signature"
	"github.com/studioflow/backend/pkg/utils"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeWorkflowStore struct {
	mu   sync.Mutex
	defs map[string]*models.WorkflowDefinition
}

func newFakeWorkflowStore() *fakeWorkflowStore {
	return &fakeWorkflowStore{defs: make(map[string]*models.WorkflowDefinition)}
}

func (s *fakeWorkflowStore) CreateDefinition(_ context.Context, def *models.WorkflowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if def.ID == "" {
		def.ID = utils.GenerateID()
	}
	def.Version = 1
	if def.IsDefault {
		for _, d := range s.defs {
			if d.EntityType == def.EntityType {
				d.IsDefault = false
			}
		}
	}
	for _, step := range def.Steps {
		if step.ID == "" {
			step.ID = utils.GenerateID()
		}
		step.WorkflowID = def.ID
	}
	s.defs[def.ID] = def
	return nil
}

func (s *fakeWorkflowStore) UpdateDefinition(_ context.Context, def *models.WorkflowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.defs[def.ID]
	if !ok {
		return appErrors.NewNotFoundError("workflow definition", def.ID)
	}
	if existing.Version != def.Version {
		return appErrors.NewConflictError("workflow definition", "version mismatch")
	}
	def.Version++
	s.defs[def.ID] = def
	return nil
}

func (s *fakeWorkflowStore) DeleteDefinition(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.defs[id]; !ok {
		return appErrors.NewNotFoundError("workflow definition", id)
	}
	delete(s.defs, id)
	return nil
}

func (s *fakeWorkflowStore) GetDefinition(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.defs[id]
	if !ok {
		return nil, appErrors.NewNotFoundError("workflow definition", id)
	}
	return def, nil
}

func (s *fakeWorkflowStore) GetDefaultDefinition(_ context.Context, entityType models.EntityType) (*models.WorkflowDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, def := range s.defs {
		if def.EntityType == entityType && def.IsActive && def.IsDefault {
			return def, nil
		}
	}
	return nil, appErrors.NewNotFoundError("default workflow for "+string(entityType), "")
}

func (s *fakeWorkflowStore) ListDefinitions(_ context.Context, entityType models.EntityType) ([]*models.WorkflowDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.WorkflowDefinition
	for _, def := range s.defs {
		if entityType == "" || def.EntityType == entityType {
			out = append(out, def)
		}
	}
	return out, nil
}

type fakeApprovalStore struct {
	mu        sync.Mutex
	requests  map[string]*models.ApprovalRequest
	decisions map[string][]*models.StepDecision

	// decisionErr makes the decision write fail after the CAS checks pass,
	// leaving the stored request untouched like a rolled-back transaction
	decisionErr error
}

func newFakeApprovalStore() *fakeApprovalStore {
	return &fakeApprovalStore{
		requests:  make(map[string]*models.ApprovalRequest),
		decisions: make(map[string][]*models.StepDecision),
	}
}

func copyRequest(req *models.ApprovalRequest, decisions []*models.StepDecision) *models.ApprovalRequest {
	copied := *req
	copied.Steps = append([]*models.WorkflowStep(nil), req.Steps...)
	copied.Decisions = append([]*models.StepDecision(nil), decisions...)
	return &copied
}

func (s *fakeApprovalStore) CreateRequest(_ context.Context, req *models.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.requests {
		if existing.Status == models.RequestPending &&
			existing.EntityType == req.EntityType && existing.EntityID == req.EntityID {
			return appErrors.NewConflictError("approval request",
				fmt.Sprintf("an open request already exists for %s %s", req.EntityType, req.EntityID))
		}
	}
	if req.ID == "" {
		req.ID = utils.GenerateID()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	req.UpdatedAt = req.CreatedAt
	req.Version = 1
	s.requests[req.ID] = copyRequest(req, nil)
	return nil
}

func (s *fakeApprovalStore) GetRequest(_ context.Context, id string) (*models.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, appErrors.NewNotFoundError("approval request", id)
	}
	return copyRequest(req, s.decisions[id]), nil
}

func (s *fakeApprovalStore) ListRequests(_ context.Context, filter ports.RequestFilter) ([]*models.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ApprovalRequest
	for id, req := range s.requests {
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		if filter.EntityType != "" && req.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != "" && req.EntityID != filter.EntityID {
			continue
		}
		out = append(out, copyRequest(req, s.decisions[id]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *fakeApprovalStore) UpdateRequest(_ context.Context, req *models.ApprovalRequest, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.requests[req.ID]
	if !ok {
		return appErrors.NewNotFoundError("approval request", req.ID)
	}
	if stored.Version != expectedVersion {
		return appErrors.NewConflictError("approval request", "version mismatch")
	}
	req.Version = expectedVersion + 1
	req.UpdatedAt = time.Now().UTC()
	s.requests[req.ID] = copyRequest(req, nil)
	return nil
}

func (s *fakeApprovalStore) UpdateRequestWithDecision(_ context.Context, req *models.ApprovalRequest, expectedVersion int64, decision *models.StepDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.requests[req.ID]
	if !ok {
		return appErrors.NewNotFoundError("approval request", req.ID)
	}
	if stored.Version != expectedVersion {
		return appErrors.NewConflictError("approval request", "version mismatch")
	}
	for _, d := range s.decisions[decision.RequestID] {
		if d.StepID == decision.StepID {
			return appErrors.NewConflictError("step decision", "step already decided")
		}
	}
	if s.decisionErr != nil {
		return s.decisionErr
	}
	if decision.ID == "" {
		decision.ID = utils.GenerateID()
	}
	req.Version = expectedVersion + 1
	req.UpdatedAt = time.Now().UTC()
	s.requests[req.ID] = copyRequest(req, nil)
	s.decisions[decision.RequestID] = append(s.decisions[decision.RequestID], decision)
	return nil
}

type fakeTriggerStore struct {
	mu         sync.Mutex
	triggers   map[string]*models.TriggerDefinition
	dispatches map[string]*models.TriggerDispatch // keyed by event_key|trigger_id
}

func newFakeTriggerStore() *fakeTriggerStore {
	return &fakeTriggerStore{
		triggers:   make(map[string]*models.TriggerDefinition),
		dispatches: make(map[string]*models.TriggerDispatch),
	}
}

func (s *fakeTriggerStore) CreateTrigger(_ context.Context, def *models.TriggerDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if def.ID == "" {
		def.ID = utils.GenerateID()
	}
	if def.CreatedAt.IsZero() {
		def.CreatedAt = time.Now().UTC()
	}
	def.Version = 1
	s.triggers[def.ID] = def
	return nil
}

func (s *fakeTriggerStore) UpdateTrigger(_ context.Context, def *models.TriggerDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.triggers[def.ID]
	if !ok {
		return appErrors.NewNotFoundError("trigger definition", def.ID)
	}
	if existing.Version != def.Version {
		return appErrors.NewConflictError("trigger definition", "version mismatch")
	}
	def.Version++
	s.triggers[def.ID] = def
	return nil
}

func (s *fakeTriggerStore) DeleteTrigger(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.triggers[id]; !ok {
		return appErrors.NewNotFoundError("trigger definition", id)
	}
	delete(s.triggers, id)
	return nil
}

func (s *fakeTriggerStore) GetTrigger(_ context.Context, id string) (*models.TriggerDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.triggers[id]
	if !ok {
		return nil, appErrors.NewNotFoundError("trigger definition", id)
	}
	return def, nil
}

func (s *fakeTriggerStore) ListActiveByEventType(_ context.Context, eventType events.EventType) ([]*models.TriggerDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.TriggerDefinition
	for _, def := range s.triggers {
		if def.IsActive && def.EventType == eventType {
			out = append(out, def)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *fakeTriggerStore) ListTriggers(_ context.Context) ([]*models.TriggerDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.TriggerDefinition
	for _, def := range s.triggers {
		out = append(out, def)
	}
	return out, nil
}

func (s *fakeTriggerStore) ClaimDispatch(_ context.Context, dispatch *models.TriggerDispatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := dispatch.EventKey + "|" + dispatch.TriggerID
	if _, claimed := s.dispatches[key]; claimed {
		return false, nil
	}
	if dispatch.ID == "" {
		dispatch.ID = utils.GenerateID()
	}
	dispatch.DispatchedAt = time.Now().UTC()
	s.dispatches[key] = dispatch
	return true, nil
}

func (s *fakeTriggerStore) MarkDispatch(_ context.Context, id string, status models.DispatchStatus, errMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.dispatches {
		if d.ID == id {
			d.Status = status
			d.ErrorMessage = errMessage
			return nil
		}
	}
	return appErrors.NewNotFoundError("trigger dispatch", id)
}

func (s *fakeTriggerStore) ListDispatches(_ context.Context, filter ports.DispatchFilter) ([]*models.TriggerDispatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.TriggerDispatch
	for _, d := range s.dispatches {
		if filter.TriggerID != "" && d.TriggerID != filter.TriggerID {
			continue
		}
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

type fakeDeliveryStore struct {
	mu      sync.Mutex
	records map[string]*models.DeliveryRecord
	secrets map[string]signature.Secret
}

func newFakeDeliveryStore() *fakeDeliveryStore {
	return &fakeDeliveryStore{
		records: make(map[string]*models.DeliveryRecord),
		secrets: make(map[string]signature.Secret),
	}
}

func copyRecord(rec *models.DeliveryRecord) *models.DeliveryRecord {
	copied := *rec
	if rec.NextRetryAt != nil {
		t := *rec.NextRetryAt
		copied.NextRetryAt = &t
	}
	return &copied
}

func (s *fakeDeliveryStore) CreateRecord(_ context.Context, rec *models.DeliveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = utils.GenerateID()
	}
	rec.Version = 1
	rec.CreatedAt = time.Now().UTC()
	rec.UpdatedAt = rec.CreatedAt
	s.records[rec.ID] = copyRecord(rec)
	return nil
}

func (s *fakeDeliveryStore) UpdateRecord(_ context.Context, rec *models.DeliveryRecord, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.records[rec.ID]
	if !ok {
		return appErrors.NewNotFoundError("delivery record", rec.ID)
	}
	if stored.Version != expectedVersion {
		return appErrors.NewConflictError("delivery record", "version mismatch")
	}
	rec.Version = expectedVersion + 1
	rec.UpdatedAt = time.Now().UTC()
	s.records[rec.ID] = copyRecord(rec)
	return nil
}

func (s *fakeDeliveryStore) GetRecord(_ context.Context, id string) (*models.DeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, appErrors.NewNotFoundError("delivery record", id)
	}
	return copyRecord(rec), nil
}

func (s *fakeDeliveryStore) ListRecords(_ context.Context, destination string, status models.DeliveryStatus, limit int) ([]*models.DeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.DeliveryRecord
	for _, rec := range s.records {
		if destination != "" && rec.Destination != destination {
			continue
		}
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, copyRecord(rec))
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeDeliveryStore) DueForRetry(_ context.Context, now time.Time, limit int) ([]*models.DeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.DeliveryRecord
	for _, rec := range s.records {
		retryable := rec.Status == models.DeliveryPending || rec.Status == models.DeliveryFailed
		if retryable && rec.NextRetryAt != nil && !rec.NextRetryAt.After(now) {
			out = append(out, copyRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRetryAt.Before(*out[j].NextRetryAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeDeliveryStore) Stats(_ context.Context, destination string, from, to time.Time) (*models.DeliveryStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &models.DeliveryStats{
		Destination:    destination,
		WindowStart:    from,
		WindowEnd:      to,
		FailureReasons: map[string]int{},
	}
	for _, rec := range s.records {
		if rec.Destination != destination || rec.CreatedAt.Before(from) || !rec.CreatedAt.Before(to) {
			continue
		}
		stats.Total++
		switch rec.Status {
		case models.DeliverySuccess:
			stats.Succeeded++
		case models.DeliveryFailed:
			stats.Failed++
			stats.FailureReasons[rec.LastError]++
		case models.DeliveryAbandoned:
			stats.Abandoned++
			stats.FailureReasons[rec.LastError]++
		}
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Succeeded) / float64(stats.Total)
	}
	return stats, nil
}

func (s *fakeDeliveryStore) GetSecret(_ context.Context, destination string) (signature.Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.secrets[destination]
	if !ok {
		return signature.Secret{}, appErrors.NewNotFoundError("webhook secret", destination)
	}
	return sec, nil
}

func (s *fakeDeliveryStore) SaveSecret(_ context.Context, destination string, secret signature.Secret) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[destination] = secret
	return nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []ports.Notification
	err  error
}

func (n *fakeNotifier) Notify(_ context.Context, notification ports.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, notification)
	return nil
}

func (n *fakeNotifier) Sent() []ports.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]ports.Notification(nil), n.sent...)
}

// fakeTransport replays scripted results and records every send
type fakeTransport struct {
	mu      sync.Mutex
	results []fakeSendResult
	calls   []fakeSendCall
}

type fakeSendResult struct {
	result *ports.SendResult
	err    error
}

type fakeSendCall struct {
	Destination string
	Payload     []byte
	Signature   string
}

func (t *fakeTransport) script(result *ports.SendResult, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.results = append(t.results, fakeSendResult{result: result, err: err})
}

func (t *fakeTransport) Send(_ context.Context, destination string, payload []byte, sig string) (*ports.SendResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, fakeSendCall{Destination: destination, Payload: payload, Signature: sig})
	if len(t.results) == 0 {
		return &ports.SendResult{StatusCode: 200, Body: "ok"}, nil
	}
	next := t.results[0]
	t.results = t.results[1:]
	return next.result, next.err
}

func (t *fakeTransport) Calls() []fakeSendCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]fakeSendCall(nil), t.calls...)
}

type fakeDomainService struct {
	mu      sync.Mutex
	tasks   []map[string]interface{}
	updates []string
}

func (d *fakeDomainService) CreateTask(_ context.Context, config map[string]interface{}, _ events.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = append(d.tasks, config)
	return nil
}

func (d *fakeDomainService) UpdateStatus(_ context.Context, entityType models.EntityType, entityID, status string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updates = append(d.updates, fmt.Sprintf("%s:%s:%s", entityType, entityID, status))
	return nil
}
