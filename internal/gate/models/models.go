// Package models holds the gate-side model: access events recorded against
// a coordinator approval, keyed by its QR token.
package models

import (
	"time"

	"github.com/google/uuid"

	permitmodels "exeat/internal/permit/models"
)

// Action is the gate event type. For one approval the recorded sequence is
// always a prefix of [Exit] or [Exit, Return].
type Action string

const (
	ActionExit   Action = "exit"
	ActionReturn Action = "return"
)

// IsValid reports whether a is a known action.
func (a Action) IsValid() bool {
	return a == ActionExit || a == ActionReturn
}

// AccessEvent is one recorded gate passage. It binds to the coordinator
// approval that carries the token, not to the permit directly.
type AccessEvent struct {
	ID               uuid.UUID
	ApprovalRecordID uuid.UUID
	Action           Action
	RecordedBy       uuid.UUID
	RecordedAt       time.Time
}

// Grant is the resolved credential: the approval a token points at plus its
// permit, loaded together for legality checks and the gatekeeper display.
type Grant struct {
	Approval *permitmodels.ApprovalRecord
	Permit   *permitmodels.Permit
}

// ScanResult tells the gatekeeper what the token is good for right now.
type ScanResult struct {
	RequiredAction Action
	Permit         *permitmodels.Permit
}
