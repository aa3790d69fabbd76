package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "exeat/pkg/domain-errors"
)

// TestNextState_LegalMoves pins the full transition table. Any change here is
// a change to the approval workflow and must be deliberate.
func TestNextState_LegalMoves(t *testing.T) {
	cases := []struct {
		name     string
		from     State
		role     Role
		decision Decision
		want     State
	}{
		{"instructor approves", StatePendingInstructor, RoleInstructor, DecisionApproved, StatePendingCoordinator},
		{"instructor rejects", StatePendingInstructor, RoleInstructor, DecisionRejected, StateRejected},
		{"system expires", StatePendingInstructor, RoleSystem, DecisionRejected, StateRejected},
		{"applicant cancels", StatePendingInstructor, RoleApplicant, DecisionCancelled, StateCancelled},
		{"coordinator approves", StatePendingCoordinator, RoleCoordinator, DecisionApproved, StateApprovedFinal},
		{"coordinator rejects", StatePendingCoordinator, RoleCoordinator, DecisionRejected, StateRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			next, ok := NextState(tc.from, tc.role, tc.decision)
			require.True(t, ok)
			assert.Equal(t, tc.want, next)
		})
	}
}

// TestNextState_IllegalMoves verifies representative moves outside the table
// are rejected, including every move out of a terminal state.
func TestNextState_IllegalMoves(t *testing.T) {
	cases := []struct {
		name     string
		from     State
		role     Role
		decision Decision
	}{
		{"coordinator cannot decide at instructor stage", StatePendingInstructor, RoleCoordinator, DecisionApproved},
		{"instructor cannot decide at coordinator stage", StatePendingCoordinator, RoleInstructor, DecisionApproved},
		{"applicant cannot cancel at coordinator stage", StatePendingCoordinator, RoleApplicant, DecisionCancelled},
		{"system cannot expire at coordinator stage", StatePendingCoordinator, RoleSystem, DecisionRejected},
		{"system cannot approve", StatePendingInstructor, RoleSystem, DecisionApproved},
		{"gatekeeper never decides", StatePendingInstructor, RoleGatekeeper, DecisionApproved},
		{"no move out of approved", StateApprovedFinal, RoleCoordinator, DecisionRejected},
		{"no move out of rejected", StateRejected, RoleInstructor, DecisionApproved},
		{"no move out of cancelled", StateCancelled, RoleApplicant, DecisionCancelled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := NextState(tc.from, tc.role, tc.decision)
			assert.False(t, ok)
		})
	}
}

func TestState_IsTerminal(t *testing.T) {
	assert.False(t, StatePendingInstructor.IsTerminal())
	assert.False(t, StatePendingCoordinator.IsTerminal())
	assert.True(t, StateApprovedFinal.IsTerminal())
	assert.True(t, StateRejected.IsTerminal())
	assert.True(t, StateCancelled.IsTerminal())
}

func TestPermit_WillReturn(t *testing.T) {
	returnAt := time.Now().Add(4 * time.Hour)
	assert.True(t, (&Permit{ReturnTime: &returnAt}).WillReturn())
	assert.False(t, (&Permit{}).WillReturn())
}

func TestCreateRequest_Validate(t *testing.T) {
	departure := time.Now().Add(time.Hour)
	returnAt := departure.Add(6 * time.Hour)

	valid := func() CreateRequest {
		return CreateRequest{
			ApplicantID:   uuid.New(),
			InstructorID:  uuid.New(),
			Reason:        "medical appointment",
			DepartureTime: departure,
			WillReturn:    true,
			ReturnTime:    &returnAt,
		}
	}

	t.Run("valid request passes", func(t *testing.T) {
		req := valid()
		require.NoError(t, req.Validate())
	})

	t.Run("one-way request needs no return time", func(t *testing.T) {
		req := valid()
		req.WillReturn = false
		req.ReturnTime = nil
		require.NoError(t, req.Validate())
	})

	t.Run("missing fields fail validation", func(t *testing.T) {
		mutations := map[string]func(*CreateRequest){
			"applicant":  func(r *CreateRequest) { r.ApplicantID = uuid.Nil },
			"instructor": func(r *CreateRequest) { r.InstructorID = uuid.Nil },
			"reason":     func(r *CreateRequest) { r.Reason = "   " },
			"departure":  func(r *CreateRequest) { r.DepartureTime = time.Time{} },
		}
		for name, mutate := range mutations {
			req := valid()
			mutate(&req)
			err := req.Validate()
			require.Error(t, err, name)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation), name)
		}
	})

	t.Run("will_return without return_time fails", func(t *testing.T) {
		req := valid()
		req.ReturnTime = nil
		err := req.Validate()
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("return before departure fails", func(t *testing.T) {
		req := valid()
		early := departure.Add(-time.Hour)
		req.ReturnTime = &early
		err := req.Validate()
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}
