package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"exeat/internal/permit/models"
	"exeat/internal/sentinel"
)

// InMemoryStore keeps permits and their ledgers in memory for tests and
// single-process experiments. The mutex stands in for the row lock the SQL
// stores take, so the compare-and-set semantics are identical.
type InMemoryStore struct {
	mu        sync.RWMutex
	permits   map[uuid.UUID]*models.Permit
	approvals map[uuid.UUID][]*models.ApprovalRecord
}

// NewMemory constructs an empty in-memory permit store.
func NewMemory() *InMemoryStore {
	return &InMemoryStore{
		permits:   make(map[uuid.UUID]*models.Permit),
		approvals: make(map[uuid.UUID][]*models.ApprovalRecord),
	}
}

func (s *InMemoryStore) Create(_ context.Context, permit *models.Permit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.permits[permit.ID]; ok {
		return sentinel.ErrConflict
	}
	copied := *permit
	s.permits[permit.ID] = &copied
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, permitID uuid.UUID) (*models.Permit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	permit, ok := s.permits[permitID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *permit
	return &copied, nil
}

func (s *InMemoryStore) ListVisible(_ context.Context, role models.Role, subjectID uuid.UUID) ([]*models.Permit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Permit
	for _, permit := range s.permits {
		if !visibleTo(permit, role, subjectID) {
			continue
		}
		copied := *permit
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *InMemoryStore) ListApprovals(_ context.Context, permitID uuid.UUID) ([]*models.ApprovalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.approvals[permitID]
	result := make([]*models.ApprovalRecord, 0, len(records))
	for _, record := range records {
		copied := *record
		result = append(result, &copied)
	}
	return result, nil
}

func (s *InMemoryStore) ListStalePending(_ context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stale []*models.Permit
	for _, permit := range s.permits {
		if permit.State == models.StatePendingInstructor && permit.CreatedAt.Before(cutoff) {
			stale = append(stale, permit)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].CreatedAt.Before(stale[j].CreatedAt)
	})

	ids := make([]uuid.UUID, 0, len(stale))
	for _, permit := range stale {
		if limit > 0 && len(ids) >= limit {
			break
		}
		ids = append(ids, permit.ID)
	}
	return ids, nil
}

func (s *InMemoryStore) Transition(_ context.Context, permitID uuid.UUID, expected, next models.State, record *models.ApprovalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	permit, ok := s.permits[permitID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if permit.State != expected {
		return sentinel.ErrStaleState
	}

	permit.State = next
	copied := *record
	s.approvals[permitID] = append(s.approvals[permitID], &copied)
	return nil
}

func (s *InMemoryStore) SetHidden(_ context.Context, permitID uuid.UUID, role models.Role, hidden bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	permit, ok := s.permits[permitID]
	if !ok {
		return sentinel.ErrNotFound
	}
	switch role {
	case models.RoleApplicant:
		permit.HiddenFromApplicant = hidden
	case models.RoleInstructor:
		permit.HiddenFromInstructor = hidden
	case models.RoleCoordinator:
		permit.HiddenFromCoordinator = hidden
	default:
		return sentinel.ErrInvalidInput
	}
	return nil
}

// FindApprovalByToken supports the in-memory gate store; the SQL stores do
// this with a join.
func (s *InMemoryStore) FindApprovalByToken(_ context.Context, token string) (*models.ApprovalRecord, *models.Permit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for permitID, records := range s.approvals {
		for _, record := range records {
			if record.QRToken != "" && record.QRToken == token {
				permit := s.permits[permitID]
				approvalCopy := *record
				permitCopy := *permit
				return &approvalCopy, &permitCopy, nil
			}
		}
	}
	return nil, nil, sentinel.ErrNotFound
}

func visibleTo(permit *models.Permit, role models.Role, subjectID uuid.UUID) bool {
	if permit.HiddenFor(role) {
		return false
	}
	switch role {
	case models.RoleApplicant:
		return permit.ApplicantID == subjectID
	case models.RoleInstructor:
		return permit.InstructorID == subjectID
	case models.RoleCoordinator:
		return permit.State != models.StatePendingInstructor
	}
	return false
}
