package store

import (
	"context"

	"github.com/google/uuid"

	"exeat/internal/gate/models"
)

// Store is the persistence boundary for the access ledger.
//
// Error Contract:
// - FindGrantByToken returns sentinel.ErrNotFound for unknown tokens
// - Append returns sentinel.ErrConflict when the ledger no longer has
//   exactly priorEvents entries for the approval at commit time; on
//   ErrConflict no event is written
type Store interface {
	FindGrantByToken(ctx context.Context, token string) (*models.Grant, error)
	ListEvents(ctx context.Context, approvalID uuid.UUID) ([]*models.AccessEvent, error)

	// Append inserts the event only if the approval's ledger still holds
	// exactly priorEvents entries, re-checked under the same lock that
	// guards the insert. Two terminals racing to record the same action
	// resolve to one success and one ErrConflict.
	Append(ctx context.Context, event *models.AccessEvent, priorEvents int) error
}
