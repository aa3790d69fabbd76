// Package notify is the outbound-notification port. Delivery is a
// collaborator concern; the core only raises events and moves on.
package notify

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// EventKind identifies what happened, for template selection downstream.
type EventKind string

const (
	EventPermitSubmitted   EventKind = "permit_submitted"
	EventAwaitingSignOff   EventKind = "permit_awaiting_sign_off"
	EventPermitApproved    EventKind = "permit_approved"
	EventPermitRejected    EventKind = "permit_rejected"
	EventPermitCancelled   EventKind = "permit_cancelled"
	EventPermitAutoExpired EventKind = "permit_auto_expired"
)

// Payload carries the facts a notification template needs.
type Payload struct {
	PermitID uuid.UUID
	Reason   string
}

//go:generate mockgen -source=notifier.go -destination=mocks/mocks.go -package=mocks Notifier

// Notifier delivers best-effort notifications. Implementations must not
// block the caller on delivery; failures are logged, never propagated.
type Notifier interface {
	Notify(ctx context.Context, kind EventKind, recipient uuid.UUID, payload Payload) error
}

// LogNotifier writes notifications to the structured log. It stands in for
// a mail or push gateway in development and tests.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLog constructs a logging notifier.
func NewLog(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, kind EventKind, recipient uuid.UUID, payload Payload) error {
	n.logger.InfoContext(ctx, "notification",
		"kind", string(kind),
		"recipient", recipient.String(),
		"permit_id", payload.PermitID.String(),
	)
	return nil
}
