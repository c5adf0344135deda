/*
Package postgres provides a PostgreSQL audit trail store.

PURPOSE:
  A dedicated audit database keeps the append-only trail out of the entity
  store. Implements audit.Store; selected when audit.postgres_dsn is set.

TABLE:
  audit_logs: one row per lifecycle mutation, old/new snapshots as JSONB

IDEMPOTENCY:
  The record ID is the primary key. Re-appending an ID that already exists
  (unique_violation, SQLSTATE 23505) is treated as success so the notifier
  can retry without duplicating rows.

SEE ALSO:
  - audit/notifier.go: Producer
  - store/sqlite/sqlite.go: Default audit store
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/lib/pq"

	"github.com/warp/reinsurance-engine/audit"
	"github.com/warp/reinsurance-engine/insurance"
)

const uniqueViolation = pq.ErrorCode("23505")

// AuditStore implements audit.Store on PostgreSQL.
type AuditStore struct {
	db *sql.DB
}

var _ audit.Store = (*AuditStore)(nil)

// Open connects to PostgreSQL and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*AuditStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	store := NewAuditStore(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate audit schema: %w", err)
	}
	return store, nil
}

// NewAuditStore wraps an existing connection pool.
func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *AuditStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the audit table and index.
func (s *AuditStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_logs (
			id TEXT PRIMARY KEY,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			action TEXT NOT NULL,
			old_value JSONB,
			new_value JSONB,
			performed_by TEXT NOT NULL,
			performed_at TIMESTAMPTZ NOT NULL,
			ip_address TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_audit_entity
			ON audit_logs (entity_type, entity_id, performed_at DESC);
	`)
	return err
}

// AppendAudit inserts a record. A duplicate ID is not an error.
func (s *AuditStore) AppendAudit(ctx context.Context, r audit.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs
			(id, entity_type, entity_id, action, old_value, new_value, performed_by, performed_at, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.ID, string(r.EntityType), r.EntityID, string(r.Action),
		nullJSON(r.OldValue), nullJSON(r.NewValue),
		string(r.PerformedBy), r.PerformedAt.UTC(), r.IPAddress)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil
		}
		return insurance.Unavailable("append audit", err)
	}
	return nil
}

// ListAudit returns matching records, newest first.
func (s *AuditStore) ListAudit(ctx context.Context, q audit.Query) ([]audit.Record, error) {
	query := `
		SELECT id, entity_type, entity_id, action, old_value, new_value, performed_by, performed_at, ip_address
		FROM audit_logs
		WHERE ($1 = '' OR entity_type = $1) AND ($2 = '' OR entity_id = $2)
		ORDER BY performed_at DESC`
	args := []any{string(q.EntityType), q.EntityID}
	if q.Limit > 0 {
		query += " LIMIT $3"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, insurance.Unavailable("list audit", err)
	}
	defer rows.Close()

	var records []audit.Record
	for rows.Next() {
		var (
			r                  audit.Record
			entityType, action string
			performedBy        string
			oldValue, newValue []byte
		)
		if err := rows.Scan(&r.ID, &entityType, &r.EntityID, &action, &oldValue, &newValue,
			&performedBy, &r.PerformedAt, &r.IPAddress); err != nil {
			return nil, insurance.Unavailable("list audit", err)
		}
		r.EntityType = insurance.EntityType(entityType)
		r.Action = insurance.AuditAction(action)
		r.PerformedBy = insurance.UserID(performedBy)
		if oldValue != nil {
			r.OldValue = json.RawMessage(oldValue)
		}
		if newValue != nil {
			r.NewValue = json.RawMessage(newValue)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, insurance.Unavailable("list audit", err)
	}
	return records, nil
}

func nullJSON(b json.RawMessage) any {
	if b == nil {
		return nil
	}
	return string(b)
}
