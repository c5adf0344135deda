package postgres_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/goccy/go-json"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/reinsurance-engine/audit"
	"github.com/warp/reinsurance-engine/insurance"
	"github.com/warp/reinsurance-engine/store/postgres"
)

var performedAt = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*postgres.AuditStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return postgres.NewAuditStore(db), mock
}

func sampleRecord() audit.Record {
	return audit.Record{
		ID:          "a1",
		EntityType:  insurance.EntityClaim,
		EntityID:    "c1",
		Action:      insurance.ActionTransition,
		OldValue:    json.RawMessage(`{"status":"IN_REVIEW"}`),
		NewValue:    json.RawMessage(`{"status":"APPROVED"}`),
		PerformedBy: "adj",
		PerformedAt: performedAt,
		IPAddress:   "10.0.0.7",
	}
}

func TestAuditStore_Append(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).
		WithArgs("a1", "CLAIM", "c1", "STATUS_CHANGE",
			`{"status":"IN_REVIEW"}`, `{"status":"APPROVED"}`, "adj", performedAt, "10.0.0.7").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.AppendAudit(context.Background(), sampleRecord()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditStore_AppendDuplicateIsIdempotent(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	assert.NoError(t, store.AppendAudit(context.Background(), sampleRecord()))
}

func TestAuditStore_AppendFailureIsUnavailable(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).
		WillReturnError(errors.New("connection reset by peer"))

	err := store.AppendAudit(context.Background(), sampleRecord())
	assert.ErrorIs(t, err, insurance.ErrStoreUnavailable)
}

func TestAuditStore_List(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{
		"id", "entity_type", "entity_id", "action", "old_value", "new_value", "performed_by", "performed_at", "ip_address",
	}).
		AddRow("a2", "CLAIM", "c1", "STATUS_CHANGE", []byte(`{"status":"APPROVED"}`), []byte(`{"status":"SETTLED"}`), "adj", performedAt.Add(time.Hour), "").
		AddRow("a1", "CLAIM", "c1", "CREATE", nil, []byte(`{"status":"SUBMITTED"}`), "adj", performedAt, "")

	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_logs")).
		WithArgs("CLAIM", "c1", 10).
		WillReturnRows(rows)

	records, err := store.ListAudit(context.Background(), audit.Query{EntityType: insurance.EntityClaim, EntityID: "c1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "a2", records[0].ID)
	assert.Equal(t, insurance.ActionTransition, records[0].Action)
	assert.JSONEq(t, `{"status":"SETTLED"}`, string(records[0].NewValue))
	assert.Nil(t, records[1].OldValue)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditStore_Migrate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS audit_logs")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
