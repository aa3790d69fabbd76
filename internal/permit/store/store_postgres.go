package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"exeat/internal/permit/models"
	"exeat/internal/sentinel"
)

// PostgresStore persists permits and approval records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
	tx *sql.Tx
}

// NewPostgres constructs a PostgreSQL-backed permit store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// NewPostgresTx constructs a PostgreSQL-backed permit store bound to a transaction.
func NewPostgresTx(tx *sql.Tx) *PostgresStore {
	return &PostgresStore{tx: tx}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer() dbExecutor {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

const permitColumns = `id, applicant_id, instructor_id, reason, description,
		departure_time, return_time, attachment_ref, state, created_at,
		hidden_from_applicant, hidden_from_instructor, hidden_from_coordinator`

func (s *PostgresStore) Create(ctx context.Context, permit *models.Permit) error {
	if permit == nil {
		return fmt.Errorf("permit is required")
	}
	query := `
		INSERT INTO permits (` + permitColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := s.execer().ExecContext(ctx, query,
		permit.ID,
		permit.ApplicantID,
		permit.InstructorID,
		permit.Reason,
		permit.Description,
		permit.DepartureTime,
		permit.ReturnTime,
		nullableString(permit.AttachmentRef),
		string(permit.State),
		permit.CreatedAt,
		permit.HiddenFromApplicant,
		permit.HiddenFromInstructor,
		permit.HiddenFromCoordinator,
	)
	if err != nil {
		return fmt.Errorf("create permit: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, permitID uuid.UUID) (*models.Permit, error) {
	query := `SELECT ` + permitColumns + ` FROM permits WHERE id = $1`
	permit, err := scanPermit(s.execer().QueryRowContext(ctx, query, permitID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find permit: %w", err)
	}
	return permit, nil
}

func (s *PostgresStore) ListVisible(ctx context.Context, role models.Role, subjectID uuid.UUID) ([]*models.Permit, error) {
	var query string
	var args []any
	switch role {
	case models.RoleApplicant:
		query = `SELECT ` + permitColumns + ` FROM permits
			WHERE applicant_id = $1 AND NOT hidden_from_applicant
			ORDER BY created_at DESC`
		args = []any{subjectID}
	case models.RoleInstructor:
		query = `SELECT ` + permitColumns + ` FROM permits
			WHERE instructor_id = $1 AND NOT hidden_from_instructor
			ORDER BY created_at DESC`
		args = []any{subjectID}
	case models.RoleCoordinator:
		query = `SELECT ` + permitColumns + ` FROM permits
			WHERE state <> $1 AND NOT hidden_from_coordinator
			ORDER BY created_at DESC`
		args = []any{string(models.StatePendingInstructor)}
	default:
		return nil, sentinel.ErrInvalidInput
	}

	rows, err := s.execer().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list permits: %w", err)
	}
	defer rows.Close()

	var permits []*models.Permit
	for rows.Next() {
		permit, err := scanPermit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan permit: %w", err)
		}
		permits = append(permits, permit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permits: %w", err)
	}
	return permits, nil
}

func (s *PostgresStore) ListApprovals(ctx context.Context, permitID uuid.UUID) ([]*models.ApprovalRecord, error) {
	query := `
		SELECT id, permit_id, approver_role, approver_id, decision, reason, qr_token, decided_at
		FROM approval_records
		WHERE permit_id = $1
		ORDER BY decided_at ASC
	`
	rows, err := s.execer().QueryContext(ctx, query, permitID)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var records []*models.ApprovalRecord
	for rows.Next() {
		record, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate approvals: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT id FROM permits
		WHERE state = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3
	`
	rows, err := s.execer().QueryContext(ctx, query, string(models.StatePendingInstructor), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale permits: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale permit id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale permits: %w", err)
	}
	return ids, nil
}

// Transition performs the compare-and-set: the UPDATE only matches while the
// permit is still in the expected state, and the affected-row check decides
// between success, not-found, and a lost race. The ledger insert rides in the
// same transaction so a conflict leaves no partial record behind.
func (s *PostgresStore) Transition(ctx context.Context, permitID uuid.UUID, expected, next models.State, record *models.ApprovalRecord) error {
	if record == nil {
		return fmt.Errorf("approval record is required")
	}
	if s.tx != nil {
		return s.transitionWithTx(ctx, s.tx, permitID, expected, next, record)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := s.transitionWithTx(ctx, tx, permitID, expected, next, record); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}
	return nil
}

func (s *PostgresStore) transitionWithTx(ctx context.Context, tx *sql.Tx, permitID uuid.UUID, expected, next models.State, record *models.ApprovalRecord) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE permits SET state = $1 WHERE id = $2 AND state = $3`,
		string(next), permitID, string(expected),
	)
	if err != nil {
		return fmt.Errorf("update permit state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition rows affected: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM permits WHERE id = $1)`, permitID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check permit existence: %w", err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrStaleState
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO approval_records (id, permit_id, approver_role, approver_id, decision, reason, qr_token, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		record.ID,
		record.PermitID,
		string(record.Role),
		nullableUUID(record.ApproverID),
		string(record.Decision),
		record.Reason,
		nullableString(record.QRToken),
		record.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("append approval record: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetHidden(ctx context.Context, permitID uuid.UUID, role models.Role, hidden bool) error {
	var column string
	switch role {
	case models.RoleApplicant:
		column = "hidden_from_applicant"
	case models.RoleInstructor:
		column = "hidden_from_instructor"
	case models.RoleCoordinator:
		column = "hidden_from_coordinator"
	default:
		return sentinel.ErrInvalidInput
	}

	res, err := s.execer().ExecContext(ctx,
		`UPDATE permits SET `+column+` = $1 WHERE id = $2`,
		hidden, permitID,
	)
	if err != nil {
		return fmt.Errorf("set hidden flag: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set hidden rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPermit(row rowScanner) (*models.Permit, error) {
	var permit models.Permit
	var state string
	var attachment sql.NullString
	if err := row.Scan(
		&permit.ID,
		&permit.ApplicantID,
		&permit.InstructorID,
		&permit.Reason,
		&permit.Description,
		&permit.DepartureTime,
		&permit.ReturnTime,
		&attachment,
		&state,
		&permit.CreatedAt,
		&permit.HiddenFromApplicant,
		&permit.HiddenFromInstructor,
		&permit.HiddenFromCoordinator,
	); err != nil {
		return nil, err
	}
	permit.State = models.State(state)
	permit.AttachmentRef = attachment.String
	return &permit, nil
}

func scanApproval(row rowScanner) (*models.ApprovalRecord, error) {
	var record models.ApprovalRecord
	var role, decision string
	var approver uuid.NullUUID
	var token sql.NullString
	if err := row.Scan(
		&record.ID,
		&record.PermitID,
		&role,
		&approver,
		&decision,
		&record.Reason,
		&token,
		&record.DecidedAt,
	); err != nil {
		return nil, err
	}
	record.Role = models.Role(role)
	record.Decision = models.Decision(decision)
	if approver.Valid {
		id := approver.UUID
		record.ApproverID = &id
	}
	record.QRToken = token.String
	return &record, nil
}

func nullableUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
