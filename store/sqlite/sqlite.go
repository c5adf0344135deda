/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements insurance.Store and audit.Store using SQLite. In production the
  same patterns apply to PostgreSQL with minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  insurance.Store: Policies, claims, treaties, reinsurers, allocations, users, reports
  audit.Store:     Audit trail (when no Postgres audit database is configured)

UNIQUENESS:
  Sequential numbers are protected by unique indexes, not by in-process locks:
  - idx_policies_number: POL######## per policy
  - idx_claims_number:   CLM######## per claim
  A violated index surfaces as insurance.ErrDuplicateNumber so
  insurance.AssignNumber can retry against a fresh maximum.

COMPARE-AND-SET:
  UpdatePolicy / UpdateClaim only write when the stored status still equals
  the status the caller read:
    UPDATE ... WHERE id = ? AND status = ?
  Zero rows affected means another writer got there first
  (insurance.ErrConcurrentModification) or the row is gone (NotFoundError).

ALLOCATIONS:
  risk_allocations holds one header row per policy; risk_allocation_lines holds
  the ordered per-treaty lines. UpsertAllocation replaces both in a single
  transaction so readers never see a partially written allocation.

MONEY & TIME:
  Decimal amounts are stored as TEXT and parsed with shopspring/decimal.
  Timestamps are stored as fixed-width UTC text (timeLayout) so that string
  comparison in SQL orders chronologically.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

USAGE:
  store, err := sqlite.New("./data/underwriting.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - insurance/store.go: Interface definitions
  - insurance/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/reinsurance-engine/audit"
	"github.com/warp/reinsurance-engine/insurance"
)

// timeLayout is fixed width so lexical order equals chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ insurance.Store = (*Store)(nil)
	_ audit.Store     = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS policies (
		id TEXT PRIMARY KEY,
		policy_number TEXT NOT NULL,
		insured_name TEXT NOT NULL,
		insured_type TEXT NOT NULL,
		line_of_business TEXT NOT NULL,
		sum_insured TEXT NOT NULL,
		premium TEXT NOT NULL,
		retention_limit TEXT,
		status TEXT NOT NULL,
		effective_from TEXT,
		effective_to TEXT,
		created_by TEXT NOT NULL,
		approved_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_policies_number
		ON policies(policy_number);
	CREATE INDEX IF NOT EXISTS idx_policies_status_lob
		ON policies(status, line_of_business);

	CREATE TABLE IF NOT EXISTS claims (
		id TEXT PRIMARY KEY,
		claim_number TEXT NOT NULL,
		policy_id TEXT NOT NULL REFERENCES policies(id),
		claim_amount TEXT NOT NULL,
		approved_amount TEXT,
		status TEXT NOT NULL,
		incident_date TEXT NOT NULL,
		reported_date TEXT NOT NULL,
		handled_by TEXT,
		remarks TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_claims_number
		ON claims(claim_number);
	CREATE INDEX IF NOT EXISTS idx_claims_policy
		ON claims(policy_id);
	CREATE INDEX IF NOT EXISTS idx_claims_status_created
		ON claims(status, created_at);

	CREATE TABLE IF NOT EXISTS reinsurers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		code TEXT NOT NULL,
		country TEXT NOT NULL DEFAULT '',
		rating TEXT NOT NULL,
		contact_email TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_reinsurers_code
		ON reinsurers(code);

	CREATE TABLE IF NOT EXISTS treaties (
		id TEXT PRIMARY KEY,
		treaty_name TEXT NOT NULL,
		treaty_type TEXT NOT NULL,
		reinsurer_id TEXT NOT NULL REFERENCES reinsurers(id),
		share_percentage TEXT NOT NULL,
		retention_limit TEXT,
		treaty_limit TEXT,
		applicable_lobs TEXT NOT NULL,
		effective_from TEXT NOT NULL,
		effective_to TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Allocation engine hot path: ACTIVE treaties in force at now
	CREATE INDEX IF NOT EXISTS idx_treaties_status_window
		ON treaties(status, effective_from, effective_to);
	CREATE INDEX IF NOT EXISTS idx_treaties_reinsurer
		ON treaties(reinsurer_id);

	CREATE TABLE IF NOT EXISTS risk_allocations (
		policy_id TEXT PRIMARY KEY REFERENCES policies(id),
		retained_amount TEXT NOT NULL,
		calculated_at TEXT NOT NULL,
		calculated_by TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS risk_allocation_lines (
		policy_id TEXT NOT NULL REFERENCES risk_allocations(policy_id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		reinsurer_id TEXT NOT NULL,
		treaty_id TEXT NOT NULL,
		allocated_amount TEXT NOT NULL,
		allocated_percentage TEXT NOT NULL,
		PRIMARY KEY (policy_id, position)
	);

	CREATE INDEX IF NOT EXISTS idx_allocation_lines_reinsurer
		ON risk_allocation_lines(reinsurer_id);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		email TEXT NOT NULL COLLATE NOCASE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		status TEXT NOT NULL,
		last_login_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email
		ON users(email);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username
		ON users(username);

	CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		action TEXT NOT NULL,
		old_value TEXT,
		new_value TEXT,
		performed_by TEXT NOT NULL,
		performed_at TEXT NOT NULL,
		ip_address TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_audit_entity
		ON audit_logs(entity_type, entity_id, performed_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// POLICY STORE (insurance.PolicyStore interface)
// =============================================================================

const policyColumns = `id, policy_number, insured_name, insured_type, line_of_business,
	sum_insured, premium, retention_limit, status, effective_from, effective_to,
	created_by, approved_by, created_at, updated_at`

// GetPolicy retrieves a policy by ID.
func (s *Store) GetPolicy(ctx context.Context, id insurance.PolicyID) (*insurance.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+policyColumns+" FROM policies WHERE id = ?", id)
	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &insurance.NotFoundError{Entity: "policy", ID: string(id)}
	}
	if err != nil {
		return nil, insurance.Unavailable("get policy", err)
	}
	return p, nil
}

// LastPolicyNumber returns the greatest policy number with the prefix.
func (s *Store) LastPolicyNumber(ctx context.Context, prefix string) (string, error) {
	return s.lastNumber(ctx, "policies", "policy_number", prefix)
}

func (s *Store) lastNumber(ctx context.Context, table, column, prefix string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE %s LIKE ? ORDER BY %s DESC LIMIT 1", column, table, column, column),
		prefix+"%",
	).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", insurance.Unavailable("last "+column, err)
	}
	return last, nil
}

// InsertPolicy inserts a new policy. A taken policy number returns ErrDuplicateNumber.
func (s *Store) InsertPolicy(ctx context.Context, p *insurance.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO policies (` + policyColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.PolicyNumber, p.InsuredName, p.InsuredType, p.LineOfBusiness,
		p.SumInsured.String(), p.Premium.String(), nullAmount(p.RetentionLimit), p.Status,
		nullTime(p.EffectiveFrom), nullTime(p.EffectiveTo),
		p.CreatedBy, nullUserID(p.ApprovedBy),
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			if strings.Contains(err.Error(), "policy_number") {
				return insurance.ErrDuplicateNumber
			}
			return insurance.ErrConflict
		}
		return insurance.Unavailable("insert policy", err)
	}
	return nil
}

// UpdatePolicy writes every mutable column when the stored status equals expected.
func (s *Store) UpdatePolicy(ctx context.Context, p *insurance.Policy, expected insurance.PolicyStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE policies SET
			insured_name = ?, insured_type = ?, line_of_business = ?,
			sum_insured = ?, premium = ?, retention_limit = ?, status = ?,
			effective_from = ?, effective_to = ?, approved_by = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		p.InsuredName, p.InsuredType, p.LineOfBusiness,
		p.SumInsured.String(), p.Premium.String(), nullAmount(p.RetentionLimit), p.Status,
		nullTime(p.EffectiveFrom), nullTime(p.EffectiveTo), nullUserID(p.ApprovedBy), formatTime(p.UpdatedAt),
		p.ID, expected,
	)
	if err != nil {
		return insurance.Unavailable("update policy", err)
	}
	return s.checkGuardedUpdate(ctx, res, "policies", "policy", string(p.ID))
}

// checkGuardedUpdate distinguishes a lost compare-and-set from a missing row.
func (s *Store) checkGuardedUpdate(ctx context.Context, res sql.Result, table, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return insurance.Unavailable("update "+entity, err)
	}
	if n > 0 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, "SELECT 1 FROM "+table+" WHERE id = ?", id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return &insurance.NotFoundError{Entity: entity, ID: id}
	}
	if err != nil {
		return insurance.Unavailable("update "+entity, err)
	}
	return insurance.ErrConcurrentModification
}

// ListPolicies returns policies matching the filter, ordered by number.
func (s *Store) ListPolicies(ctx context.Context, filter insurance.PolicyFilter) ([]insurance.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + policyColumns + " FROM policies WHERE 1 = 1"
	var args []any
	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, *filter.Status)
	}
	if filter.LineOfBusiness != nil {
		query += " AND line_of_business = ?"
		args = append(args, *filter.LineOfBusiness)
	}
	query += " ORDER BY policy_number"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, insurance.Unavailable("list policies", err)
	}
	defer rows.Close()

	var policies []insurance.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, insurance.Unavailable("list policies", err)
		}
		policies = append(policies, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, insurance.Unavailable("list policies", err)
	}
	return policies, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row scanner) (*insurance.Policy, error) {
	var (
		p              insurance.Policy
		sumInsured     string
		premium        string
		retentionLimit sql.NullString
		effectiveFrom  sql.NullString
		effectiveTo    sql.NullString
		approvedBy     sql.NullString
		createdAt      string
		updatedAt      string
	)
	err := row.Scan(
		&p.ID, &p.PolicyNumber, &p.InsuredName, &p.InsuredType, &p.LineOfBusiness,
		&sumInsured, &premium, &retentionLimit, &p.Status, &effectiveFrom, &effectiveTo,
		&p.CreatedBy, &approvedBy, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if p.SumInsured, err = parseAmount(sumInsured); err != nil {
		return nil, err
	}
	if p.Premium, err = parseAmount(premium); err != nil {
		return nil, err
	}
	if p.RetentionLimit, err = parseNullAmount(retentionLimit); err != nil {
		return nil, err
	}
	p.EffectiveFrom = parseNullTime(effectiveFrom)
	p.EffectiveTo = parseNullTime(effectiveTo)
	if approvedBy.Valid {
		id := insurance.UserID(approvedBy.String)
		p.ApprovedBy = &id
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

// =============================================================================
// CLAIM STORE (insurance.ClaimStore interface)
// =============================================================================

const claimColumns = `id, claim_number, policy_id, claim_amount, approved_amount, status,
	incident_date, reported_date, handled_by, remarks, created_at, updated_at`

// GetClaim retrieves a claim by ID.
func (s *Store) GetClaim(ctx context.Context, id insurance.ClaimID) (*insurance.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+claimColumns+" FROM claims WHERE id = ?", id)
	c, err := scanClaim(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &insurance.NotFoundError{Entity: "claim", ID: string(id)}
	}
	if err != nil {
		return nil, insurance.Unavailable("get claim", err)
	}
	return c, nil
}

// LastClaimNumber returns the greatest claim number with the prefix.
func (s *Store) LastClaimNumber(ctx context.Context, prefix string) (string, error) {
	return s.lastNumber(ctx, "claims", "claim_number", prefix)
}

// InsertClaim inserts a new claim. A taken claim number returns ErrDuplicateNumber.
func (s *Store) InsertClaim(ctx context.Context, c *insurance.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO claims (` + claimColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.ClaimNumber, c.PolicyID, c.ClaimAmount.String(), nullAmount(c.ApprovedAmount), c.Status,
		formatTime(c.IncidentDate), formatTime(c.ReportedDate), nullUserID(c.HandledBy), c.Remarks,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			if strings.Contains(err.Error(), "claim_number") {
				return insurance.ErrDuplicateNumber
			}
			return insurance.ErrConflict
		}
		if isForeignKeyError(err) {
			return &insurance.NotFoundError{Entity: "policy", ID: string(c.PolicyID)}
		}
		return insurance.Unavailable("insert claim", err)
	}
	return nil
}

// UpdateClaim writes the claim when the stored status equals expected.
func (s *Store) UpdateClaim(ctx context.Context, c *insurance.Claim, expected insurance.ClaimStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE claims SET
			approved_amount = ?, status = ?, handled_by = ?, remarks = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		nullAmount(c.ApprovedAmount), c.Status, nullUserID(c.HandledBy), c.Remarks, formatTime(c.UpdatedAt),
		c.ID, expected,
	)
	if err != nil {
		return insurance.Unavailable("update claim", err)
	}
	return s.checkGuardedUpdate(ctx, res, "claims", "claim", string(c.ID))
}

func scanClaim(row scanner) (*insurance.Claim, error) {
	var (
		c              insurance.Claim
		claimAmount    string
		approvedAmount sql.NullString
		incidentDate   string
		reportedDate   string
		handledBy      sql.NullString
		createdAt      string
		updatedAt      string
	)
	err := row.Scan(
		&c.ID, &c.ClaimNumber, &c.PolicyID, &claimAmount, &approvedAmount, &c.Status,
		&incidentDate, &reportedDate, &handledBy, &c.Remarks, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if c.ClaimAmount, err = parseAmount(claimAmount); err != nil {
		return nil, err
	}
	if c.ApprovedAmount, err = parseNullAmount(approvedAmount); err != nil {
		return nil, err
	}
	c.IncidentDate = parseTime(incidentDate)
	c.ReportedDate = parseTime(reportedDate)
	if handledBy.Valid {
		id := insurance.UserID(handledBy.String)
		c.HandledBy = &id
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

// =============================================================================
// TREATY STORE (insurance.TreatyStore interface)
// =============================================================================

const treatyColumns = `id, treaty_name, treaty_type, reinsurer_id, share_percentage,
	retention_limit, treaty_limit, applicable_lobs, effective_from, effective_to,
	status, created_at, updated_at`

// GetTreaty retrieves a treaty by ID.
func (s *Store) GetTreaty(ctx context.Context, id insurance.TreatyID) (*insurance.Treaty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+treatyColumns+" FROM treaties WHERE id = ?", id)
	t, err := scanTreaty(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &insurance.NotFoundError{Entity: "treaty", ID: string(id)}
	}
	if err != nil {
		return nil, insurance.Unavailable("get treaty", err)
	}
	return t, nil
}

// InsertTreaty inserts a treaty. The reinsurer must exist.
func (s *Store) InsertTreaty(ctx context.Context, t *insurance.Treaty) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lobs, err := json.Marshal(t.ApplicableLOBs)
	if err != nil {
		return fmt.Errorf("encode applicable lines: %w", err)
	}

	query := `
		INSERT INTO treaties (` + treatyColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		t.ID, t.TreatyName, t.TreatyType, t.ReinsurerID, t.SharePercentage.String(),
		nullAmount(t.RetentionLimit), nullAmount(t.TreatyLimit), string(lobs),
		formatTime(t.EffectiveFrom), formatTime(t.EffectiveTo), t.Status,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return insurance.ErrConflict
		}
		if isForeignKeyError(err) {
			return &insurance.NotFoundError{Entity: "reinsurer", ID: string(t.ReinsurerID)}
		}
		return insurance.Unavailable("insert treaty", err)
	}
	return nil
}

// UpdateTreaty overwrites every treaty column.
func (s *Store) UpdateTreaty(ctx context.Context, t *insurance.Treaty) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lobs, err := json.Marshal(t.ApplicableLOBs)
	if err != nil {
		return fmt.Errorf("encode applicable lines: %w", err)
	}

	query := `
		UPDATE treaties SET
			treaty_name = ?, treaty_type = ?, reinsurer_id = ?, share_percentage = ?,
			retention_limit = ?, treaty_limit = ?, applicable_lobs = ?,
			effective_from = ?, effective_to = ?, status = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		t.TreatyName, t.TreatyType, t.ReinsurerID, t.SharePercentage.String(),
		nullAmount(t.RetentionLimit), nullAmount(t.TreatyLimit), string(lobs),
		formatTime(t.EffectiveFrom), formatTime(t.EffectiveTo), t.Status, formatTime(t.UpdatedAt),
		t.ID,
	)
	if err != nil {
		if isForeignKeyError(err) {
			return &insurance.NotFoundError{Entity: "reinsurer", ID: string(t.ReinsurerID)}
		}
		return insurance.Unavailable("update treaty", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &insurance.NotFoundError{Entity: "treaty", ID: string(t.ID)}
	}
	return nil
}

// ListTreaties returns treaties matching filter, ordered by ID.
// Line-of-business membership is checked after decoding applicable_lobs.
func (s *Store) ListTreaties(ctx context.Context, filter insurance.TreatyFilter) ([]insurance.Treaty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + treatyColumns + " FROM treaties WHERE 1 = 1"
	var args []any
	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, *filter.Status)
	}
	if filter.ReinsurerID != nil {
		query += " AND reinsurer_id = ?"
		args = append(args, *filter.ReinsurerID)
	}
	if filter.InForceAt != nil {
		at := formatTime(*filter.InForceAt)
		query += " AND effective_from <= ? AND effective_to >= ?"
		args = append(args, at, at)
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, insurance.Unavailable("list treaties", err)
	}
	defer rows.Close()

	var treaties []insurance.Treaty
	for rows.Next() {
		t, err := scanTreaty(rows)
		if err != nil {
			return nil, insurance.Unavailable("list treaties", err)
		}
		if filter.Matches(t) {
			treaties = append(treaties, *t)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, insurance.Unavailable("list treaties", err)
	}
	return treaties, nil
}

func scanTreaty(row scanner) (*insurance.Treaty, error) {
	var (
		t              insurance.Treaty
		share          string
		retentionLimit sql.NullString
		treatyLimit    sql.NullString
		lobs           string
		effectiveFrom  string
		effectiveTo    string
		createdAt      string
		updatedAt      string
	)
	err := row.Scan(
		&t.ID, &t.TreatyName, &t.TreatyType, &t.ReinsurerID, &share,
		&retentionLimit, &treatyLimit, &lobs, &effectiveFrom, &effectiveTo,
		&t.Status, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if t.SharePercentage, err = decimal.NewFromString(share); err != nil {
		return nil, fmt.Errorf("parse share percentage %q: %w", share, err)
	}
	if t.RetentionLimit, err = parseNullAmount(retentionLimit); err != nil {
		return nil, err
	}
	if t.TreatyLimit, err = parseNullAmount(treatyLimit); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(lobs), &t.ApplicableLOBs); err != nil {
		return nil, fmt.Errorf("decode applicable lines: %w", err)
	}
	t.EffectiveFrom = parseTime(effectiveFrom)
	t.EffectiveTo = parseTime(effectiveTo)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

// =============================================================================
// REINSURER STORE (insurance.ReinsurerStore interface)
// =============================================================================

const reinsurerColumns = `id, name, code, country, rating, contact_email, status, created_at, updated_at`

// GetReinsurer retrieves a reinsurer by ID.
func (s *Store) GetReinsurer(ctx context.Context, id insurance.ReinsurerID) (*insurance.Reinsurer, error) {
	return s.getReinsurer(ctx, "id", string(id))
}

// GetReinsurerByCode retrieves a reinsurer by its unique code.
func (s *Store) GetReinsurerByCode(ctx context.Context, code string) (*insurance.Reinsurer, error) {
	return s.getReinsurer(ctx, "code", code)
}

func (s *Store) getReinsurer(ctx context.Context, column, value string) (*insurance.Reinsurer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+reinsurerColumns+" FROM reinsurers WHERE "+column+" = ?", value)
	r, err := scanReinsurer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &insurance.NotFoundError{Entity: "reinsurer", ID: value}
	}
	if err != nil {
		return nil, insurance.Unavailable("get reinsurer", err)
	}
	return r, nil
}

// InsertReinsurer inserts a reinsurer. A taken code returns ErrConflict.
func (s *Store) InsertReinsurer(ctx context.Context, r *insurance.Reinsurer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO reinsurers (` + reinsurerColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Name, r.Code, r.Country, r.Rating, r.ContactEmail, r.Status,
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return insurance.ErrConflict
		}
		return insurance.Unavailable("insert reinsurer", err)
	}
	return nil
}

// UpdateReinsurer overwrites every reinsurer column.
func (s *Store) UpdateReinsurer(ctx context.Context, r *insurance.Reinsurer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE reinsurers SET
			name = ?, code = ?, country = ?, rating = ?, contact_email = ?, status = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		r.Name, r.Code, r.Country, r.Rating, r.ContactEmail, r.Status, formatTime(r.UpdatedAt),
		r.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return insurance.ErrConflict
		}
		return insurance.Unavailable("update reinsurer", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &insurance.NotFoundError{Entity: "reinsurer", ID: string(r.ID)}
	}
	return nil
}

// ListReinsurers returns reinsurers ordered by name.
func (s *Store) ListReinsurers(ctx context.Context, status *insurance.ReinsurerStatus) ([]insurance.Reinsurer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + reinsurerColumns + " FROM reinsurers"
	var args []any
	if status != nil {
		query += " WHERE status = ?"
		args = append(args, *status)
	}
	query += " ORDER BY name"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, insurance.Unavailable("list reinsurers", err)
	}
	defer rows.Close()

	var result []insurance.Reinsurer
	for rows.Next() {
		r, err := scanReinsurer(rows)
		if err != nil {
			return nil, insurance.Unavailable("list reinsurers", err)
		}
		result = append(result, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, insurance.Unavailable("list reinsurers", err)
	}
	return result, nil
}

func scanReinsurer(row scanner) (*insurance.Reinsurer, error) {
	var (
		r         insurance.Reinsurer
		createdAt string
		updatedAt string
	)
	err := row.Scan(&r.ID, &r.Name, &r.Code, &r.Country, &r.Rating, &r.ContactEmail, &r.Status, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return &r, nil
}

// =============================================================================
// ALLOCATION STORE (insurance.AllocationStore interface)
// =============================================================================

// GetAllocation loads the allocation header and its ordered lines.
func (s *Store) GetAllocation(ctx context.Context, policyID insurance.PolicyID) (*insurance.RiskAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		a            = insurance.RiskAllocation{PolicyID: policyID}
		retained     string
		calculatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT retained_amount, calculated_at, calculated_by FROM risk_allocations WHERE policy_id = ?",
		policyID,
	).Scan(&retained, &calculatedAt, &a.CalculatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &insurance.NotFoundError{Entity: "risk allocation", ID: string(policyID)}
	}
	if err != nil {
		return nil, insurance.Unavailable("get allocation", err)
	}
	if a.RetainedAmount, err = parseAmount(retained); err != nil {
		return nil, insurance.Unavailable("get allocation", err)
	}
	a.CalculatedAt = parseTime(calculatedAt)

	rows, err := s.db.QueryContext(ctx, `
		SELECT reinsurer_id, treaty_id, allocated_amount, allocated_percentage
		FROM risk_allocation_lines
		WHERE policy_id = ?
		ORDER BY position
	`, policyID)
	if err != nil {
		return nil, insurance.Unavailable("get allocation lines", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			line   insurance.TreatyAllocation
			amount string
			pct    string
		)
		if err := rows.Scan(&line.ReinsurerID, &line.TreatyID, &amount, &pct); err != nil {
			return nil, insurance.Unavailable("get allocation lines", err)
		}
		if line.AllocatedAmount, err = parseAmount(amount); err != nil {
			return nil, insurance.Unavailable("get allocation lines", err)
		}
		if line.AllocatedPercentage, err = decimal.NewFromString(pct); err != nil {
			return nil, insurance.Unavailable("get allocation lines", err)
		}
		a.Allocations = append(a.Allocations, line)
	}
	if err := rows.Err(); err != nil {
		return nil, insurance.Unavailable("get allocation lines", err)
	}
	return &a, nil
}

// UpsertAllocation replaces the header and all lines in one transaction.
func (s *Store) UpsertAllocation(ctx context.Context, a *insurance.RiskAllocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, "upsert allocation", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO risk_allocations (policy_id, retained_amount, calculated_at, calculated_by)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(policy_id) DO UPDATE SET
				retained_amount = excluded.retained_amount,
				calculated_at = excluded.calculated_at,
				calculated_by = excluded.calculated_by
		`, a.PolicyID, a.RetainedAmount.String(), formatTime(a.CalculatedAt), a.CalculatedBy)
		if err != nil {
			if isForeignKeyError(err) {
				return &insurance.NotFoundError{Entity: "policy", ID: string(a.PolicyID)}
			}
			return err
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM risk_allocation_lines WHERE policy_id = ?", a.PolicyID); err != nil {
			return err
		}
		for i, line := range a.Allocations {
			if err := insertAllocationLine(ctx, tx, a.PolicyID, i, line); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertAllocationLine(ctx context.Context, db execer, policyID insurance.PolicyID, position int, line insurance.TreatyAllocation) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO risk_allocation_lines
		(policy_id, position, reinsurer_id, treaty_id, allocated_amount, allocated_percentage)
		VALUES (?, ?, ?, ?, ?, ?)
	`, policyID, position, line.ReinsurerID, line.TreatyID, line.AllocatedAmount.String(), line.AllocatedPercentage.String())
	return err
}

// DeleteAllocation removes the allocation and its lines. Absent is not an error.
func (s *Store) DeleteAllocation(ctx context.Context, policyID insurance.PolicyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, "delete allocation", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM risk_allocation_lines WHERE policy_id = ?", policyID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM risk_allocations WHERE policy_id = ?", policyID)
		return err
	})
}

// withTx runs fn in a transaction. Domain errors pass through, anything
// else is reported as ErrStoreUnavailable. Caller holds s.mu.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return insurance.Unavailable(op, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		var notFound *insurance.NotFoundError
		if errors.As(err, &notFound) {
			return err
		}
		return insurance.Unavailable(op, err)
	}
	if err := tx.Commit(); err != nil {
		return insurance.Unavailable(op, err)
	}
	return nil
}

// =============================================================================
// USER STORE (insurance.UserStore interface)
// =============================================================================

const userColumns = `id, username, email, password_hash, role, status, last_login_at, created_at, updated_at`

func (s *Store) GetUser(ctx context.Context, id insurance.UserID) (*insurance.User, error) {
	return s.getUser(ctx, "id", string(id))
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*insurance.User, error) {
	return s.getUser(ctx, "email", email)
}

func (s *Store) getUser(ctx context.Context, column, value string) (*insurance.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, err := scanUser(s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE "+column+" = ?", value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &insurance.NotFoundError{Entity: "user", ID: value}
	}
	if err != nil {
		return nil, insurance.Unavailable("get user", err)
	}
	return u, nil
}

func scanUser(row scanner) (*insurance.User, error) {
	var (
		u           insurance.User
		lastLoginAt sql.NullString
		createdAt   string
		updatedAt   string
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.Status, &lastLoginAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	u.LastLoginAt = parseNullTime(lastLoginAt)
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return &u, nil
}

func (s *Store) InsertUser(ctx context.Context, u *insurance.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.Username, u.Email, u.PasswordHash, u.Role, u.Status,
		nullTime(u.LastLoginAt), formatTime(u.CreatedAt), formatTime(u.UpdatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return insurance.ErrConflict
		}
		return insurance.Unavailable("insert user", err)
	}
	return nil
}

// UpdateUser overwrites the mutable user columns.
func (s *Store) UpdateUser(ctx context.Context, u *insurance.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET
			username = ?, email = ?, password_hash = ?, role = ?, status = ?, updated_at = ?
		WHERE id = ?
	`, u.Username, u.Email, u.PasswordHash, u.Role, u.Status, formatTime(u.UpdatedAt), u.ID)
	if err != nil {
		if isUniqueConstraintError(err) {
			return insurance.ErrConflict
		}
		return insurance.Unavailable("update user", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &insurance.NotFoundError{Entity: "user", ID: string(u.ID)}
	}
	return nil
}

// ListUsers returns users newest first.
func (s *Store) ListUsers(ctx context.Context, filter insurance.UserFilter) ([]insurance.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + userColumns + " FROM users WHERE 1=1"
	var args []any
	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, *filter.Status)
	}
	if filter.Role != nil {
		query += " AND role = ?"
		args = append(args, *filter.Role)
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, insurance.Unavailable("list users", err)
	}
	defer rows.Close()

	var result []insurance.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, insurance.Unavailable("list users", err)
		}
		result = append(result, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, insurance.Unavailable("list users", err)
	}
	return result, nil
}

func (s *Store) TouchLogin(ctx context.Context, id insurance.UserID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET last_login_at = ?, updated_at = ? WHERE id = ?",
		formatTime(at), formatTime(at), id,
	)
	if err != nil {
		return insurance.Unavailable("touch login", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &insurance.NotFoundError{Entity: "user", ID: string(id)}
	}
	return nil
}

// =============================================================================
// REPORT STORE (insurance.ReportStore interface)
// =============================================================================
//
// SUM() over TEXT columns goes through REAL in SQLite. Rows are filtered in
// SQL and folded with decimal arithmetic here instead.

// ExposureByLine groups ACTIVE policies by line of business.
func (s *Store) ExposureByLine(ctx context.Context) ([]insurance.LineExposure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT line_of_business, sum_insured, premium FROM policies WHERE status = ? ORDER BY line_of_business",
		insurance.PolicyActive,
	)
	if err != nil {
		return nil, insurance.Unavailable("exposure by line", err)
	}
	defer rows.Close()

	var (
		order  []insurance.LineOfBusiness
		byLine = map[insurance.LineOfBusiness]*insurance.LineExposure{}
	)
	for rows.Next() {
		var (
			lob          insurance.LineOfBusiness
			sum, premium string
		)
		if err := rows.Scan(&lob, &sum, &premium); err != nil {
			return nil, insurance.Unavailable("exposure by line", err)
		}
		sumAmt, err := parseAmount(sum)
		if err != nil {
			return nil, insurance.Unavailable("exposure by line", err)
		}
		premAmt, err := parseAmount(premium)
		if err != nil {
			return nil, insurance.Unavailable("exposure by line", err)
		}

		e, ok := byLine[lob]
		if !ok {
			e = &insurance.LineExposure{LineOfBusiness: lob, TotalExposure: insurance.ZeroAmount(), TotalPremium: insurance.ZeroAmount()}
			byLine[lob] = e
			order = append(order, lob)
		}
		e.TotalExposure = e.TotalExposure.Add(sumAmt)
		e.TotalPremium = e.TotalPremium.Add(premAmt)
		e.Count++
	}
	if err := rows.Err(); err != nil {
		return nil, insurance.Unavailable("exposure by line", err)
	}

	result := make([]insurance.LineExposure, 0, len(order))
	for _, lob := range order {
		result = append(result, *byLine[lob])
	}
	sortByAmountDesc(result, func(e insurance.LineExposure) insurance.Amount { return e.TotalExposure })
	return result, nil
}

// PremiumTotal sums premium over policies in the given status.
func (s *Store) PremiumTotal(ctx context.Context, status insurance.PolicyStatus) (insurance.Amount, error) {
	return s.sumColumn(ctx, "premium total",
		"SELECT premium FROM policies WHERE status = ?", status)
}

// ApprovedClaimsTotal sums approvedAmount over APPROVED and SETTLED claims.
func (s *Store) ApprovedClaimsTotal(ctx context.Context) (insurance.Amount, error) {
	return s.sumColumn(ctx, "approved claims total",
		"SELECT approved_amount FROM claims WHERE status IN (?, ?) AND approved_amount IS NOT NULL",
		insurance.ClaimApproved, insurance.ClaimSettled)
}

func (s *Store) sumColumn(ctx context.Context, op, query string, args ...any) (insurance.Amount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return insurance.Amount{}, insurance.Unavailable(op, err)
	}
	defer rows.Close()

	total := insurance.ZeroAmount()
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return insurance.Amount{}, insurance.Unavailable(op, err)
		}
		amt, err := parseAmount(v)
		if err != nil {
			return insurance.Amount{}, insurance.Unavailable(op, err)
		}
		total = total.Add(amt)
	}
	if err := rows.Err(); err != nil {
		return insurance.Amount{}, insurance.Unavailable(op, err)
	}
	return total, nil
}

// AllocatedByReinsurer sums ceded amounts per reinsurer.
func (s *Store) AllocatedByReinsurer(ctx context.Context) ([]insurance.ReinsurerExposure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT l.reinsurer_id, COALESCE(r.name, ''), COALESCE(r.code, ''), l.allocated_amount
		FROM risk_allocation_lines l
		LEFT JOIN reinsurers r ON r.id = l.reinsurer_id
		ORDER BY l.reinsurer_id
	`)
	if err != nil {
		return nil, insurance.Unavailable("allocated by reinsurer", err)
	}
	defer rows.Close()

	var (
		order []insurance.ReinsurerID
		byID  = map[insurance.ReinsurerID]*insurance.ReinsurerExposure{}
	)
	for rows.Next() {
		var (
			id         insurance.ReinsurerID
			name, code string
			amount     string
		)
		if err := rows.Scan(&id, &name, &code, &amount); err != nil {
			return nil, insurance.Unavailable("allocated by reinsurer", err)
		}
		amt, err := parseAmount(amount)
		if err != nil {
			return nil, insurance.Unavailable("allocated by reinsurer", err)
		}

		e, ok := byID[id]
		if !ok {
			e = &insurance.ReinsurerExposure{ReinsurerID: id, ReinsurerName: name, ReinsurerCode: code, TotalAllocated: insurance.ZeroAmount()}
			byID[id] = e
			order = append(order, id)
		}
		e.TotalAllocated = e.TotalAllocated.Add(amt)
		e.PolicyCount++
	}
	if err := rows.Err(); err != nil {
		return nil, insurance.Unavailable("allocated by reinsurer", err)
	}

	result := make([]insurance.ReinsurerExposure, 0, len(order))
	for _, id := range order {
		result = append(result, *byID[id])
	}
	sortByAmountDesc(result, func(e insurance.ReinsurerExposure) insurance.Amount { return e.TotalAllocated })
	return result, nil
}

// ApprovedClaimsByMonth groups paying claims created since t by year-month.
func (s *Store) ApprovedClaimsByMonth(ctx context.Context, since time.Time) ([]insurance.MonthlyClaims, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT approved_amount, created_at
		FROM claims
		WHERE status IN (?, ?) AND approved_amount IS NOT NULL AND created_at >= ?
		ORDER BY created_at
	`, insurance.ClaimApproved, insurance.ClaimSettled, formatTime(since))
	if err != nil {
		return nil, insurance.Unavailable("approved claims by month", err)
	}
	defer rows.Close()

	var result []insurance.MonthlyClaims
	for rows.Next() {
		var amount, createdAt string
		if err := rows.Scan(&amount, &createdAt); err != nil {
			return nil, insurance.Unavailable("approved claims by month", err)
		}
		amt, err := parseAmount(amount)
		if err != nil {
			return nil, insurance.Unavailable("approved claims by month", err)
		}
		at := parseTime(createdAt)

		// Rows arrive in chronological order, so a new month appends.
		n := len(result)
		if n == 0 || result[n-1].Year != at.Year() || result[n-1].Month != at.Month() {
			result = append(result, insurance.MonthlyClaims{Year: at.Year(), Month: at.Month(), TotalApproved: insurance.ZeroAmount()})
			n++
		}
		result[n-1].TotalApproved = result[n-1].TotalApproved.Add(amt)
		result[n-1].Count++
	}
	if err := rows.Err(); err != nil {
		return nil, insurance.Unavailable("approved claims by month", err)
	}
	return result, nil
}

// =============================================================================
// AUDIT STORE (audit.Store interface)
// =============================================================================

// AppendAudit inserts an audit record.
func (s *Store) AppendAudit(ctx context.Context, r audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs
		(id, entity_type, entity_id, action, old_value, new_value, performed_by, performed_at, ip_address)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.EntityType, r.EntityID, r.Action, nullBytes(r.OldValue), nullBytes(r.NewValue),
		r.PerformedBy, formatTime(r.PerformedAt), r.IPAddress)
	if err != nil {
		return insurance.Unavailable("append audit", err)
	}
	return nil
}

// ListAudit returns matching audit records, newest first.
func (s *Store) ListAudit(ctx context.Context, q audit.Query) ([]audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, entity_type, entity_id, action, old_value, new_value, performed_by, performed_at, ip_address
		FROM audit_logs WHERE 1 = 1`
	var args []any
	if q.EntityType != "" {
		query += " AND entity_type = ?"
		args = append(args, q.EntityType)
	}
	if q.EntityID != "" {
		query += " AND entity_id = ?"
		args = append(args, q.EntityID)
	}
	query += " ORDER BY performed_at DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
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
			oldValue, newValue sql.NullString
			performedAt        string
		)
		if err := rows.Scan(&r.ID, &r.EntityType, &r.EntityID, &r.Action, &oldValue, &newValue,
			&r.PerformedBy, &performedAt, &r.IPAddress); err != nil {
			return nil, insurance.Unavailable("list audit", err)
		}
		if oldValue.Valid {
			r.OldValue = json.RawMessage(oldValue.String)
		}
		if newValue.Valid {
			r.NewValue = json.RawMessage(newValue.String)
		}
		r.PerformedAt = parseTime(performedAt)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, insurance.Unavailable("list audit", err)
	}
	return records, nil
}

// Helper functions

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullAmount(a *insurance.Amount) sql.NullString {
	if a == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: a.String(), Valid: true}
}

func parseAmount(s string) (insurance.Amount, error) {
	a, err := insurance.ParseAmount(s)
	if err != nil {
		return insurance.Amount{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return a, nil
}

func parseNullAmount(s sql.NullString) (*insurance.Amount, error) {
	if !s.Valid {
		return nil, nil
	}
	a, err := parseAmount(s.String)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func nullUserID(id *insurance.UserID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*id), Valid: true}
}

func nullBytes(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func isForeignKeyError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}

func sortByAmountDesc[T any](items []T, amount func(T) insurance.Amount) {
	// Stable so ties keep the SQL order.
	sort.SliceStable(items, func(i, j int) bool {
		return amount(items[i]).GreaterThan(amount(items[j]))
	})
}
