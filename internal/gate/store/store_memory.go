package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"exeat/internal/gate/models"
	permitstore "exeat/internal/permit/store"
	"exeat/internal/sentinel"
)

// InMemoryStore keeps the access ledger in memory for tests, resolving
// tokens through the in-memory permit store.
type InMemoryStore struct {
	permits *permitstore.InMemoryStore

	mu     sync.RWMutex
	events map[uuid.UUID][]*models.AccessEvent
}

// NewMemory constructs an in-memory access ledger over the given permit store.
func NewMemory(permits *permitstore.InMemoryStore) *InMemoryStore {
	return &InMemoryStore{
		permits: permits,
		events:  make(map[uuid.UUID][]*models.AccessEvent),
	}
}

func (s *InMemoryStore) FindGrantByToken(ctx context.Context, token string) (*models.Grant, error) {
	if token == "" {
		return nil, sentinel.ErrNotFound
	}
	approval, permit, err := s.permits.FindApprovalByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return &models.Grant{Approval: approval, Permit: permit}, nil
}

func (s *InMemoryStore) ListEvents(_ context.Context, approvalID uuid.UUID) ([]*models.AccessEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.events[approvalID]
	result := make([]*models.AccessEvent, 0, len(records))
	for _, event := range records {
		copied := *event
		result = append(result, &copied)
	}
	return result, nil
}

func (s *InMemoryStore) Append(_ context.Context, event *models.AccessEvent, priorEvents int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.events[event.ApprovalRecordID]) != priorEvents {
		return sentinel.ErrConflict
	}
	copied := *event
	s.events[event.ApprovalRecordID] = append(s.events[event.ApprovalRecordID], &copied)
	return nil
}
