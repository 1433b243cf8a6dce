// Package identity stores identity and metadata fields keyed by entity id.
package identity

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"privata/internal/entity/models"
	"privata/pkg/platform/sentinel"
)

// InMemoryStore keeps one entity type's identity records in process.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.IdentityRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*models.IdentityRecord)}
}

func (s *InMemoryStore) FindByID(_ context.Context, id string) (*models.IdentityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyRecord(rec), nil
}

func (s *InMemoryStore) FindMany(_ context.Context, q models.Query) ([]*models.IdentityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.IdentityRecord, 0)
	for _, rec := range s.records {
		if models.Matches(rec.Fields, q.Filters) {
			out = append(out, copyRecord(rec))
		}
	}
	slices.SortFunc(out, func(a, b *models.IdentityRecord) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *InMemoryStore) Exists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[id]
	return ok, nil
}

// Create stores rec, assigning an id when rec has none.
func (s *InMemoryStore) Create(_ context.Context, rec *models.IdentityRecord) (*models.IdentityRecord, error) {
	stored := copyRecord(rec)
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[stored.ID]; ok {
		return nil, sentinel.ErrConflict
	}
	s.records[stored.ID] = stored
	return copyRecord(stored), nil
}

func (s *InMemoryStore) Update(_ context.Context, id string, patch models.Patch) (*models.IdentityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	rec.Fields = models.Clone(patch.Apply(rec.Fields))
	rec.UpdatedAt = patch.UpdatedAt
	return copyRecord(rec), nil
}

func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.records, id)
	return nil
}

func copyRecord(rec *models.IdentityRecord) *models.IdentityRecord {
	cp := *rec
	cp.Fields = models.Clone(rec.Fields)
	if cp.Fields == nil {
		cp.Fields = map[string]any{}
	}
	return &cp
}
