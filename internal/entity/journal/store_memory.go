package journal

import (
	"context"
	"slices"
	"sync"
	"time"

	"privata/pkg/platform/sentinel"
)

// InMemoryStore keeps intents in process. Used when no identity database is
// configured, and in tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	intents map[string]*Intent
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{intents: make(map[string]*Intent)}
}

func (s *InMemoryStore) Begin(_ context.Context, intent *Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.intents[intent.ID]; ok {
		return sentinel.ErrConflict
	}
	cp := *intent
	s.intents[intent.ID] = &cp
	return nil
}

func (s *InMemoryStore) Mark(_ context.Context, id string, status Status, lastErr string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	intent, ok := s.intents[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	intent.Status = status
	intent.LastError = lastErr
	intent.UpdatedAt = at
	return nil
}

// Forget clears the pseudonym and last error on every non-pending intent of
// the entity.
// Pending intents keep it until the reconciler settles them.
func (s *InMemoryStore) Forget(_ context.Context, entityType, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, i := range s.intents {
		if i.EntityType == entityType && i.EntityID == entityID && i.Status != StatusPending {
			i.Pseudonym = ""
			i.LastError = ""
		}
	}
	return nil
}

// ListPending returns pending intents created before the cutoff, oldest first.
func (s *InMemoryStore) ListPending(_ context.Context, entityType string, before time.Time) ([]*Intent, error) {
	return s.list(entityType, func(i *Intent) bool {
		return i.Status == StatusPending && i.CreatedAt.Before(before)
	}), nil
}

// ListGaps returns intents that left the stores inconsistent: pending or
// failed.
func (s *InMemoryStore) ListGaps(_ context.Context, entityType string) ([]*Intent, error) {
	return s.list(entityType, func(i *Intent) bool {
		return i.Status == StatusPending || i.Status == StatusFailed
	}), nil
}

// ListByEntity returns every intent recorded for one entity, oldest first.
func (s *InMemoryStore) ListByEntity(_ context.Context, entityType, entityID string) ([]*Intent, error) {
	return s.list(entityType, func(i *Intent) bool { return i.EntityID == entityID }), nil
}

func (s *InMemoryStore) list(entityType string, keep func(*Intent) bool) []*Intent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Intent, 0)
	for _, i := range s.intents {
		if i.EntityType == entityType && keep(i) {
			cp := *i
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *Intent) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}
