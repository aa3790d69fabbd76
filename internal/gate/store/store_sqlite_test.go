package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"exeat/internal/gate/models"
	permitmodels "exeat/internal/permit/models"
	permitstore "exeat/internal/permit/store"
	"exeat/internal/platform/database"
	"exeat/internal/sentinel"
)

// seedApprovedGrant builds a coordinator-approved permit with a QR token
// through the permit store, sharing the gate store's database handle.
func seedApprovedGrant(t *testing.T) (*SQLiteStore, *permitmodels.ApprovalRecord) {
	t.Helper()
	db, err := database.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	permits := permitstore.NewSQLite(db)
	now := time.Now().UTC().Truncate(time.Millisecond)
	returnTime := now.Add(6 * time.Hour)
	permit := &permitmodels.Permit{
		ID:            uuid.New(),
		ApplicantID:   uuid.New(),
		InstructorID:  uuid.New(),
		Reason:        "family visit",
		DepartureTime: now.Add(time.Hour),
		ReturnTime:    &returnTime,
		State:         permitmodels.StatePendingCoordinator,
		CreatedAt:     now,
	}
	require.NoError(t, permits.Create(context.Background(), permit))

	coordinator := uuid.New()
	approval := &permitmodels.ApprovalRecord{
		ID:         uuid.New(),
		PermitID:   permit.ID,
		Role:       permitmodels.RoleCoordinator,
		ApproverID: &coordinator,
		Decision:   permitmodels.DecisionApproved,
		QRToken:    "gate-token-" + permit.ID.String(),
		DecidedAt:  now,
	}
	require.NoError(t, permits.Transition(context.Background(), permit.ID,
		permitmodels.StatePendingCoordinator, permitmodels.StateApprovedFinal, approval))

	return NewSQLite(db), approval
}

func exitEvent(approvalID uuid.UUID) *models.AccessEvent {
	return &models.AccessEvent{
		ID:               uuid.New(),
		ApprovalRecordID: approvalID,
		Action:           models.ActionExit,
		RecordedBy:       uuid.New(),
		RecordedAt:       time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestSQLiteStore_FindGrantByToken(t *testing.T) {
	st, approval := seedApprovedGrant(t)

	grant, err := st.FindGrantByToken(context.Background(), approval.QRToken)
	require.NoError(t, err)
	require.Equal(t, approval.ID, grant.Approval.ID)
	require.Equal(t, permitmodels.DecisionApproved, grant.Approval.Decision)
	require.Equal(t, permitmodels.StateApprovedFinal, grant.Permit.State)

	_, err = st.FindGrantByToken(context.Background(), "no-such-token")
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestSQLiteStore_AppendRejectsStaleCount(t *testing.T) {
	st, approval := seedApprovedGrant(t)

	require.NoError(t, st.Append(context.Background(), exitEvent(approval.ID), 0))

	// A second terminal that scanned before the first exit committed still
	// believes the ledger is empty; its append must lose.
	err := st.Append(context.Background(), exitEvent(approval.ID), 0)
	require.ErrorIs(t, err, sentinel.ErrConflict)

	events, err := st.ListEvents(context.Background(), approval.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, models.ActionExit, events[0].Action)
}

func TestSQLiteStore_AppendFullCycle(t *testing.T) {
	st, approval := seedApprovedGrant(t)

	require.NoError(t, st.Append(context.Background(), exitEvent(approval.ID), 0))

	returnEvent := exitEvent(approval.ID)
	returnEvent.Action = models.ActionReturn
	require.NoError(t, st.Append(context.Background(), returnEvent, 1))

	events, err := st.ListEvents(context.Background(), approval.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)

	_, err = st.FindGrantByToken(context.Background(), approval.QRToken)
	require.NoError(t, err)
}

func TestSQLiteStore_AppendUnknownApproval(t *testing.T) {
	st, _ := seedApprovedGrant(t)

	err := st.Append(context.Background(), exitEvent(uuid.New()), 0)
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}
