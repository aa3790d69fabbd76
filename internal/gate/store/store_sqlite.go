package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"exeat/internal/gate/models"
	permitmodels "exeat/internal/permit/models"
	"exeat/internal/sentinel"
)

// SQLiteStore persists access events in SQLite. The single-connection handle
// serializes transactions, so the count-then-insert check needs no explicit
// row lock.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite constructs a SQLite-backed access ledger.
func NewSQLite(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) FindGrantByToken(ctx context.Context, token string) (*models.Grant, error) {
	if token == "" {
		return nil, sentinel.ErrNotFound
	}
	query := `
		SELECT a.id, a.permit_id, a.approver_role, a.approver_id, a.decision, a.reason, a.qr_token, a.decided_at_ms,
		       p.id, p.applicant_id, p.instructor_id, p.reason, p.description,
		       p.departure_time_ms, p.return_time_ms, p.attachment_ref, p.state, p.created_at_ms,
		       p.hidden_from_applicant, p.hidden_from_instructor, p.hidden_from_coordinator
		FROM approval_records a
		JOIN permits p ON p.id = a.permit_id
		WHERE a.qr_token = ?
	`
	grant, err := scanSQLiteGrant(s.db.QueryRowContext(ctx, query, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find grant by token: %w", err)
	}
	return grant, nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context, approvalID uuid.UUID) ([]*models.AccessEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, approval_record_id, event_type, recorded_by, recorded_at_ms
		FROM access_events
		WHERE approval_record_id = ?
		ORDER BY recorded_at_ms ASC
	`, approvalID.String())
	if err != nil {
		return nil, fmt.Errorf("list access events: %w", err)
	}
	defer rows.Close()

	var events []*models.AccessEvent
	for rows.Next() {
		event, err := scanSQLiteEvent(rows)
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

func (s *SQLiteStore) Append(ctx context.Context, event *models.AccessEvent, priorEvents int) error {
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

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM approval_records WHERE id = ?`,
		event.ApprovalRecordID.String(),
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check approval record: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM access_events WHERE approval_record_id = ?`,
		event.ApprovalRecordID.String(),
	).Scan(&count); err != nil {
		return fmt.Errorf("count access events: %w", err)
	}
	if count != priorEvents {
		return sentinel.ErrConflict
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO access_events (id, approval_record_id, event_type, recorded_by, recorded_at_ms)
		VALUES (?, ?, ?, ?, ?)
	`,
		event.ID.String(),
		event.ApprovalRecordID.String(),
		string(event.Action),
		event.RecordedBy.String(),
		event.RecordedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert access event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

func scanSQLiteGrant(row rowScanner) (*models.Grant, error) {
	var approval permitmodels.ApprovalRecord
	var permit permitmodels.Permit
	var approvalID, approvalPermitID, role, decision string
	var approver, token sql.NullString
	var decidedMs int64
	var permitID, applicant, instructor, state string
	var departureMs, createdMs int64
	var returnMs sql.NullInt64
	var attachment sql.NullString
	var hiddenApplicant, hiddenInstructor, hiddenCoordinator int
	if err := row.Scan(
		&approvalID,
		&approvalPermitID,
		&role,
		&approver,
		&decision,
		&approval.Reason,
		&token,
		&decidedMs,
		&permitID,
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
	if approval.ID, err = uuid.Parse(approvalID); err != nil {
		return nil, fmt.Errorf("parse approval id: %w", err)
	}
	if approval.PermitID, err = uuid.Parse(approvalPermitID); err != nil {
		return nil, fmt.Errorf("parse approval permit id: %w", err)
	}
	if approver.Valid {
		parsed, err := uuid.Parse(approver.String)
		if err != nil {
			return nil, fmt.Errorf("parse approver id: %w", err)
		}
		approval.ApproverID = &parsed
	}
	approval.Role = permitmodels.Role(role)
	approval.Decision = permitmodels.Decision(decision)
	approval.QRToken = token.String
	approval.DecidedAt = time.UnixMilli(decidedMs).UTC()

	if permit.ID, err = uuid.Parse(permitID); err != nil {
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
	permit.State = permitmodels.State(state)
	permit.CreatedAt = time.UnixMilli(createdMs).UTC()
	permit.HiddenFromApplicant = hiddenApplicant != 0
	permit.HiddenFromInstructor = hiddenInstructor != 0
	permit.HiddenFromCoordinator = hiddenCoordinator != 0

	return &models.Grant{Approval: &approval, Permit: &permit}, nil
}

func scanSQLiteEvent(row rowScanner) (*models.AccessEvent, error) {
	var event models.AccessEvent
	var id, approvalID, action, recordedBy string
	var recordedMs int64
	if err := row.Scan(&id, &approvalID, &action, &recordedBy, &recordedMs); err != nil {
		return nil, err
	}

	var err error
	if event.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse event id: %w", err)
	}
	if event.ApprovalRecordID, err = uuid.Parse(approvalID); err != nil {
		return nil, fmt.Errorf("parse event approval id: %w", err)
	}
	if event.RecordedBy, err = uuid.Parse(recordedBy); err != nil {
		return nil, fmt.Errorf("parse event recorder id: %w", err)
	}
	event.Action = models.Action(action)
	event.RecordedAt = time.UnixMilli(recordedMs).UTC()
	return &event, nil
}
