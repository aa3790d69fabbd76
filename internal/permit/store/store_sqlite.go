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

// SQLiteStore persists permits and approval records in SQLite for
// single-node deployments. The database handle is opened with a single
// connection, so transactions serialize and the affected-row check carries
// the same guarantee as on PostgreSQL.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite constructs a SQLite-backed permit store.
func NewSQLite(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Create(ctx context.Context, permit *models.Permit) error {
	if permit == nil {
		return fmt.Errorf("permit is required")
	}
	var returnMs any
	if permit.ReturnTime != nil {
		returnMs = permit.ReturnTime.UTC().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permits (
			id, applicant_id, instructor_id, reason, description,
			departure_time_ms, return_time_ms, attachment_ref, state, created_at_ms,
			hidden_from_applicant, hidden_from_instructor, hidden_from_coordinator
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		permit.ID.String(),
		permit.ApplicantID.String(),
		permit.InstructorID.String(),
		permit.Reason,
		permit.Description,
		permit.DepartureTime.UTC().UnixMilli(),
		returnMs,
		nullableString(permit.AttachmentRef),
		string(permit.State),
		permit.CreatedAt.UTC().UnixMilli(),
		boolToInt(permit.HiddenFromApplicant),
		boolToInt(permit.HiddenFromInstructor),
		boolToInt(permit.HiddenFromCoordinator),
	)
	if err != nil {
		return fmt.Errorf("create permit: %w", err)
	}
	return nil
}

const sqlitePermitColumns = `id, applicant_id, instructor_id, reason, description,
		departure_time_ms, return_time_ms, attachment_ref, state, created_at_ms,
		hidden_from_applicant, hidden_from_instructor, hidden_from_coordinator`

func (s *SQLiteStore) FindByID(ctx context.Context, permitID uuid.UUID) (*models.Permit, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqlitePermitColumns+` FROM permits WHERE id = ?`, permitID.String())
	permit, err := scanSQLitePermit(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find permit: %w", err)
	}
	return permit, nil
}

func (s *SQLiteStore) ListVisible(ctx context.Context, role models.Role, subjectID uuid.UUID) ([]*models.Permit, error) {
	var query string
	var args []any
	switch role {
	case models.RoleApplicant:
		query = `SELECT ` + sqlitePermitColumns + ` FROM permits
			WHERE applicant_id = ? AND hidden_from_applicant = 0
			ORDER BY created_at_ms DESC`
		args = []any{subjectID.String()}
	case models.RoleInstructor:
		query = `SELECT ` + sqlitePermitColumns + ` FROM permits
			WHERE instructor_id = ? AND hidden_from_instructor = 0
			ORDER BY created_at_ms DESC`
		args = []any{subjectID.String()}
	case models.RoleCoordinator:
		query = `SELECT ` + sqlitePermitColumns + ` FROM permits
			WHERE state <> ? AND hidden_from_coordinator = 0
			ORDER BY created_at_ms DESC`
		args = []any{string(models.StatePendingInstructor)}
	default:
		return nil, sentinel.ErrInvalidInput
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list permits: %w", err)
	}
	defer rows.Close()

	var permits []*models.Permit
	for rows.Next() {
		permit, err := scanSQLitePermit(rows)
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

func (s *SQLiteStore) ListApprovals(ctx context.Context, permitID uuid.UUID) ([]*models.ApprovalRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, permit_id, approver_role, approver_id, decision, reason, qr_token, decided_at_ms
		FROM approval_records
		WHERE permit_id = ?
		ORDER BY decided_at_ms ASC
	`, permitID.String())
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var records []*models.ApprovalRecord
	for rows.Next() {
		record, err := scanSQLiteApproval(rows)
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

func (s *SQLiteStore) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM permits
		WHERE state = ? AND created_at_ms < ?
		ORDER BY created_at_ms ASC
		LIMIT ?
	`, string(models.StatePendingInstructor), cutoff.UTC().UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale permits: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan stale permit id: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse stale permit id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale permits: %w", err)
	}
	return ids, nil
}

func (s *SQLiteStore) Transition(ctx context.Context, permitID uuid.UUID, expected, next models.State, record *models.ApprovalRecord) error {
	if record == nil {
		return fmt.Errorf("approval record is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE permits SET state = ? WHERE id = ? AND state = ?`,
		string(next), permitID.String(), string(expected),
	)
	if err != nil {
		return fmt.Errorf("update permit state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition rows affected: %w", err)
	}
	if affected == 0 {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM permits WHERE id = ?`, permitID.String()).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return sentinel.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("check permit existence: %w", err)
		}
		return sentinel.ErrStaleState
	}

	var approverID any
	if record.ApproverID != nil {
		approverID = record.ApproverID.String()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO approval_records (id, permit_id, approver_role, approver_id, decision, reason, qr_token, decided_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID.String(),
		record.PermitID.String(),
		string(record.Role),
		approverID,
		string(record.Decision),
		record.Reason,
		nullableString(record.QRToken),
		record.DecidedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("append approval record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetHidden(ctx context.Context, permitID uuid.UUID, role models.Role, hidden bool) error {
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

	res, err := s.db.ExecContext(ctx,
		`UPDATE permits SET `+column+` = ? WHERE id = ?`,
		boolToInt(hidden), permitID.String(),
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

func scanSQLitePermit(row rowScanner) (*models.Permit, error) {
	var permit models.Permit
	var id, applicant, instructor, state string
	var departureMs, createdMs int64
	var returnMs sql.NullInt64
	var attachment sql.NullString
	var hiddenApplicant, hiddenInstructor, hiddenCoordinator int
	if err := row.Scan(
		&id,
		&applicant,
		&instructor,
		&permit.Reason,
		&permit.Description,
		&departureMs,
		&returnMs,
		&attachment,
		&state,
		&createdMs,
		&hiddenApplicant,
		&hiddenInstructor,
		&hiddenCoordinator,
	); err != nil {
		return nil, err
	}

	var err error
	if permit.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse permit id: %w", err)
	}
	if permit.ApplicantID, err = uuid.Parse(applicant); err != nil {
		return nil, fmt.Errorf("parse applicant id: %w", err)
	}
	if permit.InstructorID, err = uuid.Parse(instructor); err != nil {
		return nil, fmt.Errorf("parse instructor id: %w", err)
	}
	permit.DepartureTime = time.UnixMilli(departureMs).UTC()
	if returnMs.Valid {
		t := time.UnixMilli(returnMs.Int64).UTC()
		permit.ReturnTime = &t
	}
	permit.AttachmentRef = attachment.String
	permit.State = models.State(state)
	permit.CreatedAt = time.UnixMilli(createdMs).UTC()
	permit.HiddenFromApplicant = hiddenApplicant != 0
	permit.HiddenFromInstructor = hiddenInstructor != 0
	permit.HiddenFromCoordinator = hiddenCoordinator != 0
	return &permit, nil
}

func scanSQLiteApproval(row rowScanner) (*models.ApprovalRecord, error) {
	var record models.ApprovalRecord
	var id, permitID, role, decision string
	var approver, token sql.NullString
	var decidedMs int64
	if err := row.Scan(
		&id,
		&permitID,
		&role,
		&approver,
		&decision,
		&record.Reason,
		&token,
		&decidedMs,
	); err != nil {
		return nil, err
	}

	var err error
	if record.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse approval id: %w", err)
	}
	if record.PermitID, err = uuid.Parse(permitID); err != nil {
		return nil, fmt.Errorf("parse approval permit id: %w", err)
	}
	if approver.Valid {
		parsed, err := uuid.Parse(approver.String)
		if err != nil {
			return nil, fmt.Errorf("parse approver id: %w", err)
		}
		record.ApproverID = &parsed
	}
	record.Role = models.Role(role)
	record.Decision = models.Decision(decision)
	record.QRToken = token.String
	record.DecidedAt = time.UnixMilli(decidedMs).UTC()
	return &record, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
