package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exeat/internal/permit/models"
	"exeat/internal/sentinel"
	"exeat/pkg/testutil"
)

func seedPermit(t *testing.T, st *InMemoryStore, state models.State) *models.Permit {
	t.Helper()
	permit := &models.Permit{
		ID:            uuid.New(),
		ApplicantID:   uuid.New(),
		InstructorID:  uuid.New(),
		Reason:        "seed",
		DepartureTime: time.Now().Add(time.Hour),
		State:         state,
		CreatedAt:     time.Now(),
	}
	require.NoError(t, st.Create(context.Background(), permit))
	return permit
}

func decisionRecord(permitID uuid.UUID) *models.ApprovalRecord {
	approver := uuid.New()
	return &models.ApprovalRecord{
		ID:         uuid.New(),
		PermitID:   permitID,
		Role:       models.RoleInstructor,
		ApproverID: &approver,
		Decision:   models.DecisionApproved,
		DecidedAt:  time.Now(),
	}
}

func TestTransition_CompareAndSet(t *testing.T) {
	ctx := context.Background()
	st := NewMemory()
	permit := seedPermit(t, st, models.StatePendingInstructor)

	err := st.Transition(ctx, permit.ID, models.StatePendingInstructor, models.StatePendingCoordinator, decisionRecord(permit.ID))
	require.NoError(t, err)

	stored, err := st.FindByID(ctx, permit.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatePendingCoordinator, stored.State)

	// same expected state again: the CAS must fail, and leave no ledger entry
	err = st.Transition(ctx, permit.ID, models.StatePendingInstructor, models.StateRejected, decisionRecord(permit.ID))
	require.ErrorIs(t, err, sentinel.ErrStaleState)

	approvals, err := st.ListApprovals(ctx, permit.ID)
	require.NoError(t, err)
	assert.Len(t, approvals, 1)
}

func TestTransition_UnknownPermit(t *testing.T) {
	st := NewMemory()
	id := uuid.New()
	err := st.Transition(context.Background(), id, models.StatePendingInstructor, models.StateRejected, decisionRecord(id))
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestTransition_ConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	st := NewMemory()
	permit := seedPermit(t, st, models.StatePendingInstructor)

	result := testutil.RunConcurrent(16, func(int) error {
		return st.Transition(ctx, permit.ID, models.StatePendingInstructor, models.StatePendingCoordinator, decisionRecord(permit.ID))
	})

	assert.Equal(t, int32(1), result.Successes)
	assert.Equal(t, int32(15), result.Stale)

	approvals, err := st.ListApprovals(ctx, permit.ID)
	require.NoError(t, err)
	assert.Len(t, approvals, 1)
}

func TestListStalePending_FiltersStateAndCutoff(t *testing.T) {
	ctx := context.Background()
	st := NewMemory()
	cutoff := time.Now()

	old := seedPermit(t, st, models.StatePendingInstructor)
	oldStored := st.permits[old.ID]
	oldStored.CreatedAt = cutoff.Add(-2 * time.Hour)

	decided := seedPermit(t, st, models.StateRejected)
	st.permits[decided.ID].CreatedAt = cutoff.Add(-2 * time.Hour)

	seedPermit(t, st, models.StatePendingInstructor) // fresh, after cutoff

	ids, err := st.ListStalePending(ctx, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, old.ID, ids[0])
}

func TestListStalePending_HonorsLimit(t *testing.T) {
	ctx := context.Background()
	st := NewMemory()
	cutoff := time.Now()
	for i := 0; i < 5; i++ {
		p := seedPermit(t, st, models.StatePendingInstructor)
		st.permits[p.ID].CreatedAt = cutoff.Add(-time.Duration(i+1) * time.Hour)
	}

	ids, err := st.ListStalePending(ctx, cutoff, 3)
	require.NoError(t, err)
	assert.Len(t, ids, 3)
}

func TestListVisible_PerRole(t *testing.T) {
	ctx := context.Background()
	st := NewMemory()

	mine := seedPermit(t, st, models.StatePendingInstructor)
	theirs := seedPermit(t, st, models.StatePendingCoordinator)

	visible, err := st.ListVisible(ctx, models.RoleApplicant, mine.ApplicantID)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, mine.ID, visible[0].ID)

	visible, err = st.ListVisible(ctx, models.RoleInstructor, theirs.InstructorID)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, theirs.ID, visible[0].ID)

	// coordinators see everything past the instructor stage
	visible, err = st.ListVisible(ctx, models.RoleCoordinator, uuid.New())
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, theirs.ID, visible[0].ID)
}

func TestSetHidden_RemovesFromRoleListing(t *testing.T) {
	ctx := context.Background()
	st := NewMemory()
	permit := seedPermit(t, st, models.StatePendingInstructor)

	require.NoError(t, st.SetHidden(ctx, permit.ID, models.RoleApplicant, true))

	visible, err := st.ListVisible(ctx, models.RoleApplicant, permit.ApplicantID)
	require.NoError(t, err)
	assert.Empty(t, visible)

	visible, err = st.ListVisible(ctx, models.RoleInstructor, permit.InstructorID)
	require.NoError(t, err)
	assert.Len(t, visible, 1)
}

func TestFindApprovalByToken(t *testing.T) {
	ctx := context.Background()
	st := NewMemory()
	permit := seedPermit(t, st, models.StatePendingCoordinator)

	record := decisionRecord(permit.ID)
	record.Role = models.RoleCoordinator
	record.QRToken = "tok-123"
	require.NoError(t, st.Transition(ctx, permit.ID, models.StatePendingCoordinator, models.StateApprovedFinal, record))

	approval, found, err := st.FindApprovalByToken(ctx, "tok-123")
	require.NoError(t, err)
	assert.Equal(t, record.ID, approval.ID)
	assert.Equal(t, permit.ID, found.ID)

	_, _, err = st.FindApprovalByToken(ctx, "nope")
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}
