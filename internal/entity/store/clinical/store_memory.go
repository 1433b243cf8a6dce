// Package clinical stores sensitive fields keyed by pseudonym. Records here
// carry no entity id and no identity fields.
package clinical

import (
	"context"
	"slices"
	"strings"
	"sync"

	"privata/internal/entity/models"
	"privata/pkg/platform/sentinel"
)

// InMemoryStore keeps one entity type's clinical records in process.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.ClinicalRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*models.ClinicalRecord)}
}

func (s *InMemoryStore) FindByID(_ context.Context, pseudonym string) (*models.ClinicalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[pseudonym]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyRecord(rec), nil
}

func (s *InMemoryStore) FindMany(_ context.Context, q models.Query) ([]*models.ClinicalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.ClinicalRecord, 0)
	for _, rec := range s.records {
		if models.Matches(rec.Fields, q.Filters) {
			out = append(out, copyRecord(rec))
		}
	}
	slices.SortFunc(out, func(a, b *models.ClinicalRecord) int {
		return strings.Compare(a.Pseudonym, b.Pseudonym)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *InMemoryStore) Exists(_ context.Context, pseudonym string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[pseudonym]
	return ok, nil
}

func (s *InMemoryStore) Create(_ context.Context, rec *models.ClinicalRecord) (*models.ClinicalRecord, error) {
	if rec.Pseudonym == "" {
		return nil, sentinel.ErrInvalidState
	}
	stored := copyRecord(rec)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[stored.Pseudonym]; ok {
		return nil, sentinel.ErrConflict
	}
	s.records[stored.Pseudonym] = stored
	return copyRecord(stored), nil
}

func (s *InMemoryStore) Update(_ context.Context, pseudonym string, patch models.Patch) (*models.ClinicalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[pseudonym]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	rec.Fields = models.Clone(patch.Apply(rec.Fields))
	rec.UpdatedAt = patch.UpdatedAt
	return copyRecord(rec), nil
}

func (s *InMemoryStore) Delete(_ context.Context, pseudonym string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[pseudonym]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.records, pseudonym)
	return nil
}

func copyRecord(rec *models.ClinicalRecord) *models.ClinicalRecord {
	cp := *rec
	cp.Fields = models.Clone(rec.Fields)
	if cp.Fields == nil {
		cp.Fields = map[string]any{}
	}
	return &cp
}
