package persistence

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"

	"github.com/studioflow/backend/internal/domain/events"
	"github.com/studioflow/backend/internal/domain/models"
	"github.com/studioflow/backend/pkg/condition"
)

func TestClaimDispatchFirstClaimWins(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewTriggerRepository(db)
	dispatch := &models.TriggerDispatch{
		EventKey:  "invoice.created:inv-42:2026-03-14T09:30:00Z",
		EventType: events.InvoiceCreated,
		TriggerID: "trg-1",
		Status:    models.DispatchSucceeded,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO "+TableTriggerDispatches)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	claimed, err := repo.ClaimDispatch(context.Background(), dispatch)
	assert.NoError(t, err)
	assert.True(t, claimed)
	assert.NotEmpty(t, dispatch.ID)
}

func TestClaimDispatchSecondClaimIsNoOp(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewTriggerRepository(db)
	dispatch := &models.TriggerDispatch{
		EventKey:  "invoice.created:inv-42:2026-03-14T09:30:00Z",
		EventType: events.InvoiceCreated,
		TriggerID: "trg-1",
		Status:    models.DispatchSucceeded,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO "+TableTriggerDispatches)).
		WillReturnError(&mysql.MySQLError{Number: mysqlErrDuplicateEntry, Message: "Duplicate entry"})

	claimed, err := repo.ClaimDispatch(context.Background(), dispatch)
	assert.NoError(t, err)
	assert.False(t, claimed)
}

func TestListActiveByEventTypeOrdersByPriority(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewTriggerRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE event_type = ? AND is_active = TRUE ORDER BY priority ASC, created_at ASC")).
		WithArgs(events.InvoiceCreated).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "event_type", "condition_expr", "action_type", "action_config",
			"is_active", "priority", "version", "created_at", "updated_at",
		}).
			AddRow("trg-1", "notify ops", "invoice.created", nil, "notify", `{"channel":"ops"}`, true, 10, 1, now, now).
			AddRow("trg-2", "large invoice webhook", "invoice.created",
				`{"all":[{"field":"invoice.amount","op":"gt","value":1000}]}`,
				"webhook", `{"url":"https://hooks.example.com/in"}`, true, 20, 1, now, now))

	defs, err := repo.ListActiveByEventType(context.Background(), events.InvoiceCreated)
	assert.NoError(t, err)
	assert.Len(t, defs, 2)
	assert.Equal(t, "trg-1", defs[0].ID)
	assert.Nil(t, defs[0].Condition)
	assert.Equal(t, "ops", defs[0].ActionConfig["channel"])
	assert.NotNil(t, defs[1].Condition)
	assert.Equal(t, condition.OpGreaterThan, defs[1].Condition.All[0].Op)
}

func TestCreateTriggerSerializesCondition(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewTriggerRepository(db)
	def := &models.TriggerDefinition{
		Name:      "large invoice webhook",
		EventType: events.InvoiceCreated,
		Condition: &condition.Condition{All: []condition.Compare{
			{Field: "invoice.amount", Op: condition.OpGreaterThan, Value: 1000},
		}},
		ActionType:   models.ActionWebhook,
		ActionConfig: map[string]interface{}{"url": "https://hooks.example.com/in"},
		IsActive:     true,
		Priority:     20,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO "+TableTriggerDefinitions)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.CreateTrigger(context.Background(), def)
	assert.NoError(t, err)
	assert.NotEmpty(t, def.ID)
	assert.Equal(t, int64(1), def.Version)
}

func TestMarkDispatchRecordsOutcome(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewTriggerRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE "+TableTriggerDispatches)).
		WithArgs(models.DispatchFailed, "connection refused", "disp-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.MarkDispatch(context.Background(), "disp-1", models.DispatchFailed, "connection refused")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
