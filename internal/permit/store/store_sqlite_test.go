package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"exeat/internal/permit/models"
	"exeat/internal/platform/database"
	"exeat/internal/sentinel"
)

func openSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := database.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLite(db)
}

func seedSQLitePermit(t *testing.T, st *SQLiteStore) *models.Permit {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	returnTime := now.Add(6 * time.Hour)
	permit := &models.Permit{
		ID:            uuid.New(),
		ApplicantID:   uuid.New(),
		InstructorID:  uuid.New(),
		Reason:        "clinic appointment",
		DepartureTime: now.Add(2 * time.Hour),
		ReturnTime:    &returnTime,
		State:         models.StatePendingInstructor,
		CreatedAt:     now,
	}
	require.NoError(t, st.Create(context.Background(), permit))
	return permit
}

func instructorApproval(permit *models.Permit) *models.ApprovalRecord {
	approver := permit.InstructorID
	return &models.ApprovalRecord{
		ID:         uuid.New(),
		PermitID:   permit.ID,
		Role:       models.RoleInstructor,
		ApproverID: &approver,
		Decision:   models.DecisionApproved,
		DecidedAt:  time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	st := openSQLiteStore(t)
	permit := seedSQLitePermit(t, st)

	loaded, err := st.FindByID(context.Background(), permit.ID)
	require.NoError(t, err)
	require.Equal(t, permit.ID, loaded.ID)
	require.Equal(t, permit.ApplicantID, loaded.ApplicantID)
	require.Equal(t, models.StatePendingInstructor, loaded.State)
	require.NotNil(t, loaded.ReturnTime)
	require.True(t, permit.ReturnTime.Equal(*loaded.ReturnTime))
}

func TestSQLiteStore_TransitionAppendsLedger(t *testing.T) {
	st := openSQLiteStore(t)
	permit := seedSQLitePermit(t, st)

	err := st.Transition(context.Background(), permit.ID,
		models.StatePendingInstructor, models.StatePendingCoordinator, instructorApproval(permit))
	require.NoError(t, err)

	loaded, err := st.FindByID(context.Background(), permit.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatePendingCoordinator, loaded.State)

	approvals, err := st.ListApprovals(context.Background(), permit.ID)
	require.NoError(t, err)
	require.Len(t, approvals, 1)
	require.Equal(t, models.RoleInstructor, approvals[0].Role)
	require.Equal(t, models.DecisionApproved, approvals[0].Decision)
}

func TestSQLiteStore_TransitionStaleStateWritesNothing(t *testing.T) {
	st := openSQLiteStore(t)
	permit := seedSQLitePermit(t, st)

	// The permit is still pending the instructor; presenting the wrong
	// expected state must fail the compare-and-set.
	err := st.Transition(context.Background(), permit.ID,
		models.StatePendingCoordinator, models.StateApprovedFinal, instructorApproval(permit))
	require.ErrorIs(t, err, sentinel.ErrStaleState)

	loaded, err := st.FindByID(context.Background(), permit.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatePendingInstructor, loaded.State)

	approvals, err := st.ListApprovals(context.Background(), permit.ID)
	require.NoError(t, err)
	require.Empty(t, approvals)
}

func TestSQLiteStore_TransitionLostRace(t *testing.T) {
	st := openSQLiteStore(t)
	permit := seedSQLitePermit(t, st)

	err := st.Transition(context.Background(), permit.ID,
		models.StatePendingInstructor, models.StatePendingCoordinator, instructorApproval(permit))
	require.NoError(t, err)

	// A second actor still holding the old state loses the race.
	err = st.Transition(context.Background(), permit.ID,
		models.StatePendingInstructor, models.StateRejected, instructorApproval(permit))
	require.ErrorIs(t, err, sentinel.ErrStaleState)

	approvals, err := st.ListApprovals(context.Background(), permit.ID)
	require.NoError(t, err)
	require.Len(t, approvals, 1)
}

func TestSQLiteStore_TransitionUnknownPermit(t *testing.T) {
	st := openSQLiteStore(t)
	permit := seedSQLitePermit(t, st)

	err := st.Transition(context.Background(), uuid.New(),
		models.StatePendingInstructor, models.StatePendingCoordinator, instructorApproval(permit))
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestSQLiteStore_ListStalePending(t *testing.T) {
	st := openSQLiteStore(t)
	stale := seedSQLitePermit(t, st)

	fresh := seedSQLitePermit(t, st)
	cutoff := fresh.CreatedAt.Add(-time.Minute)

	// Backdate one permit past the cutoff.
	_, err := st.db.Exec(`UPDATE permits SET created_at_ms = ? WHERE id = ?`,
		cutoff.Add(-time.Hour).UnixMilli(), stale.ID.String())
	require.NoError(t, err)

	ids, err := st.ListStalePending(context.Background(), cutoff, 10)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{stale.ID}, ids)
}
