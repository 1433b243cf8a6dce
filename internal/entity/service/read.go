package service

import (
	"context"
	"encoding/json"
	"errors"

	"golang.org/x/sync/errgroup"

	"privata/internal/classify"
	"privata/internal/entity/models"
	dErrors "privata/pkg/domain-errors"
	audit "privata/pkg/platform/audit"
	"privata/pkg/platform/sentinel"
)

// FindByID returns the merged entity, or nil when no entity has this id.
// Cached entities are served without touching either store.
func (s *Service) FindByID(ctx context.Context, id string) (_ *models.Entity, err error) {
	ctx, end := s.startOp(ctx, "find_by_id")
	defer func() { end(err) }()

	key := s.cacheKey(id)
	raw, err := s.cache.Get(ctx, key)
	switch {
	case err == nil:
		var cached models.Entity
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil && cached.ID == id {
			s.recordCacheLookup("hit")
			s.logAudit(ctx, audit.EventEntityRead, "entity_id", id)
			return &cached, nil
		}
		s.recordCacheLookup("corrupt")
		s.logger.WarnContext(ctx, "discarding unreadable cache entry", "entity_type", s.entityType, "entity_id", id)
		if err := s.cache.Invalidate(ctx, key); err != nil {
			return nil, err
		}
	case errors.Is(err, sentinel.ErrNotFound):
		s.recordCacheLookup("miss")
	default:
		return nil, err
	}

	rec, err := s.identity.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	entity, err := s.merge(ctx, rec)
	if err != nil {
		return nil, err
	}
	if err := s.cacheEntity(ctx, entity); err != nil {
		return nil, err
	}
	s.logAudit(ctx, audit.EventEntityRead, "entity_id", id)
	return entity, nil
}

// Find returns entities whose identity or metadata fields equal every filter.
// Clinical fields cannot be filtered on; a missing clinical record is not an
// error.
func (s *Service) Find(ctx context.Context, q models.Query) (_ []*models.Entity, err error) {
	ctx, end := s.startOp(ctx, "find")
	defer func() { end(err) }()

	sets := s.fieldSets()
	for field := range q.Filters {
		if models.IsReserved(field) {
			return nil, dErrors.New(dErrors.CodeBadRequest, "cannot filter on system attribute "+field)
		}
		if s.classifier.GroupOf(field, sets) == classify.GroupSensitive {
			return nil, dErrors.New(dErrors.CodeBadRequest, "cannot filter on sensitive field "+field)
		}
	}
	filters, err := models.Canonicalize(q.Filters)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "filters contain values that cannot be compared")
	}

	recs, err := s.identity.FindMany(ctx, models.Query{Filters: filters, Limit: q.Limit})
	if err != nil {
		return nil, err
	}

	out := make([]*models.Entity, len(recs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.findConcurrency)
	for i, rec := range recs {
		g.Go(func() error {
			entity, err := s.merge(gctx, rec)
			if err != nil {
				return err
			}
			out[i] = entity
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, e := range out {
		s.logAudit(ctx, audit.EventEntityRead, "entity_id", e.ID)
	}
	return out, nil
}

// merge joins rec with its clinical record, if any.
func (s *Service) merge(ctx context.Context, rec *models.IdentityRecord) (*models.Entity, error) {
	clinical, err := s.loadClinical(ctx, rec.Pseudonym)
	if err != nil {
		return nil, err
	}
	return models.ToEntity(rec, clinical), nil
}

func (s *Service) loadClinical(ctx context.Context, pseudonym string) (*models.ClinicalRecord, error) {
	if pseudonym == "" {
		return nil, nil
	}
	clinical, err := s.clinical.FindByID(ctx, pseudonym)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return clinical, nil
}
