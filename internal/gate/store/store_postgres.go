package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"exeat/internal/gate/models"
	permitmodels "exeat/internal/permit/models"
	"exeat/internal/sentinel"
)

// PostgresStore persists access events in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed access ledger.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) FindGrantByToken(ctx context.Context, token string) (*models.Grant, error) {
	if token == "" {
		return nil, sentinel.ErrNotFound
	}
	query := `
		SELECT a.id, a.permit_id, a.approver_role, a.approver_id, a.decision, a.reason, a.qr_token, a.decided_at,
		       p.id, p.applicant_id, p.instructor_id, p.reason, p.description,
		       p.departure_time, p.return_time, p.attachment_ref, p.state, p.created_at,
		       p.hidden_from_applicant, p.hidden_from_instructor, p.hidden_from_coordinator
		FROM approval_records a
		JOIN permits p ON p.id = a.permit_id
		WHERE a.qr_token = $1
	`
	grant, err := scanGrant(s.db.QueryRowContext(ctx, query, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find grant by token: %w", err)
	}
	return grant, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, approvalID uuid.UUID) ([]*models.AccessEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, approval_record_id, event_type, recorded_by, recorded_at
		FROM access_events
		WHERE approval_record_id = $1
		ORDER BY recorded_at ASC
	`, approvalID)
	if err != nil {
		return nil, fmt.Errorf("list access events: %w", err)
	}
	defer rows.Close()

	var events []*models.AccessEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan access event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate access events: %w", err)
	}
	return events, nil
}

// Append takes a row lock on the approval record, re-counts the ledger, and
// only then inserts. The UNIQUE (approval_record_id, event_type) constraint
// is the schema-level backstop for the same invariant.
func (s *PostgresStore) Append(ctx context.Context, event *models.AccessEvent, priorEvents int) error {
	if event == nil {
		return fmt.Errorf("access event is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var locked uuid.UUID
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM approval_records WHERE id = $1 FOR UPDATE`,
		event.ApprovalRecordID,
	).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock approval record: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM access_events WHERE approval_record_id = $1`,
		event.ApprovalRecordID,
	).Scan(&count); err != nil {
		return fmt.Errorf("count access events: %w", err)
	}
	if count != priorEvents {
		return sentinel.ErrConflict
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO access_events (id, approval_record_id, event_type, recorded_by, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
	`,
		event.ID,
		event.ApprovalRecordID,
		string(event.Action),
		event.RecordedBy,
		event.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert access event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGrant(row rowScanner) (*models.Grant, error) {
	var approval permitmodels.ApprovalRecord
	var permit permitmodels.Permit
	var role, decision, state string
	var approver uuid.NullUUID
	var token, attachment sql.NullString
	if err := row.Scan(
		&approval.ID,
		&approval.PermitID,
		&role,
		&approver,
		&decision,
		&approval.Reason,
		&token,
		&approval.DecidedAt,
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
	approval.Role = permitmodels.Role(role)
	approval.Decision = permitmodels.Decision(decision)
	approval.QRToken = token.String
	if approver.Valid {
		id := approver.UUID
		approval.ApproverID = &id
	}
	permit.State = permitmodels.State(state)
	permit.AttachmentRef = attachment.String
	return &models.Grant{Approval: &approval, Permit: &permit}, nil
}

func scanEvent(row rowScanner) (*models.AccessEvent, error) {
	var event models.AccessEvent
	var action string
	if err := row.Scan(
		&event.ID,
		&event.ApprovalRecordID,
		&action,
		&event.RecordedBy,
		&event.RecordedAt,
	); err != nil {
		return nil, err
	}
	event.Action = models.Action(action)
	return &event, nil
}
