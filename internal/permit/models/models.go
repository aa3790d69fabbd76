// Package models holds the permit domain model: the permit record, the
// append-only approval ledger entries, and the legal transition table.
package models

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a permit. It is cached on the permit row
// but always derived from the approval ledger inside the same transaction
// that appends a ledger entry, so the two cannot drift.
type State string

const (
	StatePendingInstructor  State = "pending_instructor"
	StatePendingCoordinator State = "pending_coordinator"
	StateApprovedFinal      State = "approved_final"
	StateRejected           State = "rejected"
	StateCancelled          State = "cancelled"
)

// IsValid reports whether s is a known state.
func (s State) IsValid() bool {
	switch s {
	case StatePendingInstructor, StatePendingCoordinator, StateApprovedFinal, StateRejected, StateCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are possible from s.
func (s State) IsTerminal() bool {
	switch s {
	case StateApprovedFinal, StateRejected, StateCancelled:
		return true
	}
	return false
}

// Role is a closed enumeration of actors that can touch a permit.
type Role string

const (
	RoleApplicant   Role = "applicant"
	RoleInstructor  Role = "instructor"
	RoleCoordinator Role = "coordinator"
	RoleGatekeeper  Role = "gatekeeper"
	RoleSystem      Role = "system"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	switch r {
	case RoleApplicant, RoleInstructor, RoleCoordinator, RoleGatekeeper, RoleSystem:
		return true
	}
	return false
}

// Decision is the outcome recorded in a ledger entry.
type Decision string

const (
	DecisionApproved  Decision = "approved"
	DecisionRejected  Decision = "rejected"
	DecisionCancelled Decision = "cancelled"
)

// SystemExpiryReason is the canned reason stored when the expiry sweep
// rejects a permit that sat too long in the instructor's queue.
const SystemExpiryReason = "expired: no instructor decision within the review window"

// transitionKey identifies one cell of the transition table.
type transitionKey struct {
	From     State
	Role     Role
	Decision Decision
}

// transitions is the full set of legal (state, role, decision) -> state
// moves. Kept as data so the legal set is auditable and testable in
// isolation rather than buried in per-handler conditionals.
var transitions = map[transitionKey]State{
	{StatePendingInstructor, RoleInstructor, DecisionApproved}:   StatePendingCoordinator,
	{StatePendingInstructor, RoleInstructor, DecisionRejected}:   StateRejected,
	{StatePendingInstructor, RoleSystem, DecisionRejected}:       StateRejected,
	{StatePendingInstructor, RoleApplicant, DecisionCancelled}:   StateCancelled,
	{StatePendingCoordinator, RoleCoordinator, DecisionApproved}: StateApprovedFinal,
	{StatePendingCoordinator, RoleCoordinator, DecisionRejected}: StateRejected,
}

// NextState returns the state a permit moves to when role records decision
// from the given state. ok is false for every pair outside the table.
func NextState(from State, role Role, decision Decision) (State, bool) {
	next, ok := transitions[transitionKey{From: from, Role: role, Decision: decision}]
	return next, ok
}

// Permit is a single leave request submitted by an applicant.
type Permit struct {
	ID            uuid.UUID
	ApplicantID   uuid.UUID
	InstructorID  uuid.UUID
	Reason        string
	Description   string
	DepartureTime time.Time
	ReturnTime    *time.Time
	AttachmentRef string
	State         State
	CreatedAt     time.Time

	// Soft-delete markers, one per owning role. Mutated only by that
	// role's archive action, never by the state machine.
	HiddenFromApplicant   bool
	HiddenFromInstructor  bool
	HiddenFromCoordinator bool
}

// WillReturn reports whether the permit expects a return leg at the gate.
func (p *Permit) WillReturn() bool {
	return p.ReturnTime != nil
}

// HiddenFor reports whether the permit is archived for the given role.
func (p *Permit) HiddenFor(role Role) bool {
	switch role {
	case RoleApplicant:
		return p.HiddenFromApplicant
	case RoleInstructor:
		return p.HiddenFromInstructor
	case RoleCoordinator:
		return p.HiddenFromCoordinator
	}
	return false
}

// ApprovalRecord is one append-only ledger entry: a single decision by an
// instructor, a coordinator, or the expiry sweep. Never updated or deleted.
type ApprovalRecord struct {
	ID         uuid.UUID
	PermitID   uuid.UUID
	Role       Role
	ApproverID *uuid.UUID // nil for system decisions
	Decision   Decision
	Reason     string
	QRToken    string // set only on the coordinator-stage approval
	DecidedAt  time.Time
}
