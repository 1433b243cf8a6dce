package service

import (
	"context"
	"encoding/json"
	"errors"
	"maps"

	"github.com/google/uuid"

	"privata/internal/entity/journal"
	"privata/internal/entity/models"
	dErrors "privata/pkg/domain-errors"
	audit "privata/pkg/platform/audit"
	"privata/pkg/platform/sentinel"
)

// Create validates data, splits it, and writes the identity half followed by
// the clinical half. A clinical failure is compensated by removing the
// identity row, so the caller never sees a half-created entity.
func (s *Service) Create(ctx context.Context, data map[string]any) (_ *models.Entity, err error) {
	ctx, end := s.startOp(ctx, "create")
	defer func() { end(err) }()

	fields, err := s.prepareCreate(data)
	if err != nil {
		return nil, err
	}

	sep, err := s.classifier.Separate(fields, s.fieldSets())
	if err != nil {
		return nil, err
	}
	if !s.generator.Validate(sep.Pseudonym) {
		return nil, dErrors.New(dErrors.CodeInternal, "pseudonym generator produced an invalid pseudonym")
	}

	now := s.now(ctx)
	id := uuid.NewString()
	intent := journal.NewIntent(journal.OpCreate, s.entityType, id, sep.Pseudonym, now)
	if err := s.journal.Begin(ctx, intent); err != nil {
		return nil, err
	}

	identityFields := make(map[string]any, len(sep.Identity)+len(sep.Metadata))
	maps.Copy(identityFields, sep.Metadata)
	maps.Copy(identityFields, sep.Identity)

	rec, err := s.identity.Create(ctx, &models.IdentityRecord{
		ID:        id,
		Pseudonym: sep.Pseudonym,
		Fields:    identityFields,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		_ = s.mark(ctx, intent, journal.StatusCompensated, err)
		return nil, err
	}

	var clinical *models.ClinicalRecord
	if len(sep.Sensitive) > 0 {
		clinical, err = s.clinical.Create(ctx, &models.ClinicalRecord{
			Pseudonym: sep.Pseudonym,
			Fields:    sep.Sensitive,
			CreatedAt: clinicalTime(now),
			UpdatedAt: clinicalTime(now),
		})
		if err != nil {
			s.compensateCreate(ctx, intent, err)
			return nil, err
		}
	}

	if err := s.mark(ctx, intent, journal.StatusCommitted, nil); err != nil {
		return nil, err
	}

	entity := models.ToEntity(rec, clinical)
	if err := s.cacheEntity(ctx, entity); err != nil {
		return nil, err
	}

	s.logAudit(ctx, audit.EventEntityCreated, "entity_id", entity.ID)
	return entity, nil
}

func (s *Service) prepareCreate(data map[string]any) (map[string]any, error) {
	input := models.StripReserved(data)
	if s.schema != nil {
		input = s.schema.ApplyDefaults(input)
		if err := s.schema.Validate(input).Err(); err != nil {
			return nil, err
		}
	}
	fields, err := models.Canonicalize(input)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "record contains values that cannot be stored")
	}
	return fields, nil
}

// compensateCreate removes the identity row written before a failed
// clinical write. If that also fails the intent stays pending for the
// reconciler.
func (s *Service) compensateCreate(ctx context.Context, intent *journal.Intent, cause error) {
	if err := s.identity.Delete(ctx, intent.EntityID); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		s.reportGap(ctx, intent, errors.Join(cause, err))
		_ = s.mark(ctx, intent, journal.StatusPending, errors.Join(cause, err))
		return
	}
	_ = s.mark(ctx, intent, journal.StatusCompensated, cause)
}

func (s *Service) cacheEntity(ctx context.Context, entity *models.Entity) error {
	raw, err := json.Marshal(entity)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode entity for cache")
	}
	return s.cache.Set(ctx, s.cacheKey(entity.ID), raw, s.cacheTTL)
}
