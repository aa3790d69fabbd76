package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"exeat/internal/permit/models"
)

// Store is the persistence boundary for permits and their approval ledger.
//
// Error Contract:
// - FindByID returns sentinel.ErrNotFound when no permit exists
// - Transition returns sentinel.ErrNotFound for unknown permits and
//   sentinel.ErrStaleState when the compare-and-set on the expected state
//   loses a race; on ErrStaleState no ledger entry is written
// - Other methods return nil on success or wrapped errors on failure
type Store interface {
	Create(ctx context.Context, permit *models.Permit) error
	FindByID(ctx context.Context, permitID uuid.UUID) (*models.Permit, error)
	ListVisible(ctx context.Context, role models.Role, subjectID uuid.UUID) ([]*models.Permit, error)
	ListApprovals(ctx context.Context, permitID uuid.UUID) ([]*models.ApprovalRecord, error)

	// ListStalePending returns ids of permits still pending the instructor
	// decision and created before the cutoff, oldest first.
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)

	// Transition atomically re-checks that the permit is in expected state,
	// appends the ledger record, and persists the derived next state. The
	// three effects commit together or not at all.
	Transition(ctx context.Context, permitID uuid.UUID, expected, next models.State, record *models.ApprovalRecord) error

	// SetHidden flips the archive flag owned by the given role.
	SetHidden(ctx context.Context, permitID uuid.UUID, role models.Role, hidden bool) error
}
