package service

import (
	"context"
	"errors"

	"privata/internal/entity/journal"
	"privata/internal/entity/models"
	dErrors "privata/pkg/domain-errors"
	audit "privata/pkg/platform/audit"
	"privata/pkg/platform/sentinel"
)

// Delete removes the entity. With RetainSensitive the clinical record is
// kept, but nothing in this system links it back to an identity afterwards.
func (s *Service) Delete(ctx context.Context, id string, opts models.DeleteOptions) (err error) {
	ctx, end := s.startOp(ctx, "delete")
	defer func() { end(err) }()

	current, err := s.identity.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "entity not found")
		}
		return err
	}

	err = s.deleteRows(ctx, current, opts)
	if invErr := s.cache.Invalidate(ctx, s.cacheKey(id)); invErr != nil && err == nil {
		return invErr
	}
	if err != nil {
		return err
	}

	if opts.RetainSensitive {
		s.logAudit(ctx, audit.EventEntityErased, "entity_id", id, "reason", "clinical record retained")
	} else {
		s.logAudit(ctx, audit.EventEntityDeleted, "entity_id", id)
	}
	return nil
}

func (s *Service) deleteRows(ctx context.Context, current *models.IdentityRecord, opts models.DeleteOptions) error {
	// A retention delete never touches the clinical row, so its intent does
	// not need the pseudonym.
	pseudonym := current.Pseudonym
	if opts.RetainSensitive {
		pseudonym = ""
	}
	intent := journal.NewIntent(journal.OpDelete, s.entityType, current.ID, pseudonym, s.now(ctx))
	intent.RetainSensitive = opts.RetainSensitive
	if err := s.journal.Begin(ctx, intent); err != nil {
		return err
	}

	if err := s.identity.Delete(ctx, current.ID); err != nil {
		_ = s.mark(ctx, intent, journal.StatusCompensated, err)
		return err
	}

	if !opts.RetainSensitive && current.Pseudonym != "" {
		if err := s.clinical.Delete(ctx, current.Pseudonym); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			// Left pending: the reconciler finishes the delete.
			s.reportGap(ctx, intent, err)
			_ = s.mark(ctx, intent, journal.StatusPending, err)
			return err
		}
	}

	if err := s.mark(ctx, intent, journal.StatusCommitted, nil); err != nil {
		return err
	}
	if opts.RetainSensitive {
		return s.journal.Forget(ctx, s.entityType, current.ID)
	}
	return nil
}
