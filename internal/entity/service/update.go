package service

import (
	"context"
	"errors"
	"maps"

	"privata/internal/entity/journal"
	"privata/internal/entity/models"
	dErrors "privata/pkg/domain-errors"
	audit "privata/pkg/platform/audit"
	"privata/pkg/platform/sentinel"
)

// Update applies a partial change. A null value removes the field. The
// entity keeps its pseudonym, and the cached copy is dropped whichever
// stores were touched.
func (s *Service) Update(ctx context.Context, id string, updates map[string]any) (_ *models.Entity, err error) {
	ctx, end := s.startOp(ctx, "update")
	defer func() { end(err) }()

	current, err := s.identity.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "entity not found")
		}
		return nil, err
	}

	fields, err := s.prepareUpdate(updates)
	if err != nil {
		return nil, err
	}
	if !s.generator.Validate(current.Pseudonym) {
		return nil, dErrors.New(dErrors.CodeInternal, "entity carries an invalid pseudonym")
	}

	entity, err := s.applyUpdate(ctx, current, fields)
	if invErr := s.cache.Invalidate(ctx, s.cacheKey(id)); invErr != nil && err == nil {
		return nil, invErr
	}
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, audit.EventEntityUpdated, "entity_id", id)
	return entity, nil
}

func (s *Service) prepareUpdate(updates map[string]any) (map[string]any, error) {
	input := models.StripReserved(updates)
	if s.schema != nil {
		if err := s.schema.ValidatePartial(input).Err(); err != nil {
			return nil, err
		}
	}
	fields, err := models.Canonicalize(input)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "update contains values that cannot be stored")
	}
	return fields, nil
}

func (s *Service) applyUpdate(ctx context.Context, current *models.IdentityRecord, fields map[string]any) (*models.Entity, error) {
	sep, err := s.classifier.SeparateExisting(fields, s.fieldSets(), current.Pseudonym)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to classify update")
	}

	now := s.now(ctx)
	intent := journal.NewIntent(journal.OpUpdate, s.entityType, current.ID, current.Pseudonym, now)
	if err := s.journal.Begin(ctx, intent); err != nil {
		return nil, err
	}

	identityFields := make(map[string]any, len(sep.Identity)+len(sep.Metadata))
	maps.Copy(identityFields, sep.Metadata)
	maps.Copy(identityFields, sep.Identity)

	rec, err := s.identity.Update(ctx, current.ID, models.NewPatch(identityFields, now))
	if err != nil {
		_ = s.mark(ctx, intent, journal.StatusCompensated, err)
		return nil, err
	}

	clinical, err := s.updateClinical(ctx, current.Pseudonym, models.NewPatch(sep.Sensitive, clinicalTime(now)))
	if err != nil {
		s.reportGap(ctx, intent, err)
		_ = s.mark(ctx, intent, journal.StatusFailed, err)
		return nil, err
	}

	if err := s.mark(ctx, intent, journal.StatusCommitted, nil); err != nil {
		return nil, err
	}
	return models.ToEntity(rec, clinical), nil
}

// updateClinical patches the clinical record, creating it when the entity
// had no sensitive fields before. An empty patch only reads.
func (s *Service) updateClinical(ctx context.Context, pseudonym string, patch models.Patch) (*models.ClinicalRecord, error) {
	if patch.IsEmpty() {
		return s.loadClinical(ctx, pseudonym)
	}
	exists, err := s.clinical.Exists(ctx, pseudonym)
	if err != nil {
		return nil, err
	}
	if exists {
		return s.clinical.Update(ctx, pseudonym, patch)
	}
	if len(patch.Set) == 0 {
		return nil, nil
	}
	return s.clinical.Create(ctx, &models.ClinicalRecord{
		Pseudonym: pseudonym,
		Fields:    patch.Set,
		CreatedAt: patch.UpdatedAt,
		UpdatedAt: patch.UpdatedAt,
	})
}
