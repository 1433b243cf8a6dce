package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"privata/internal/entity/journal"
	audit "privata/pkg/platform/audit"
	"privata/pkg/platform/sentinel"
)

// RepairReport summarizes one reconciliation pass.
type RepairReport struct {
	Examined int
	Repaired int
	Failed   int
}

func (r *RepairReport) add(other RepairReport) {
	r.Examined += other.Examined
	r.Repaired += other.Repaired
	r.Failed += other.Failed
}

// Gaps lists intents that left the identity and clinical stores out of
// step: pending ones the reconciler has not resolved yet, and failed
// updates that need attention.
func (s *Service) Gaps(ctx context.Context) ([]*journal.Intent, error) {
	return s.journal.ListGaps(ctx, s.entityType)
}

// Reconcile resolves pending intents older than grace. Creates are rolled
// back, deletes are rolled forward, and updates are marked failed since
// their field values are not journaled.
func (s *Service) Reconcile(ctx context.Context, grace time.Duration) (report RepairReport, err error) {
	ctx, end := s.startOp(ctx, "reconcile")
	defer func() { end(err) }()

	pending, err := s.journal.ListPending(ctx, s.entityType, s.now(ctx).Add(-grace))
	if err != nil {
		return report, err
	}

	var errs []error
	for _, intent := range pending {
		report.Examined++
		if err := s.repair(ctx, intent); err != nil {
			report.Failed++
			errs = append(errs, fmt.Errorf("intent %s: %w", intent.ID, err))
			s.recordRepair(intent, "error")
			continue
		}
		report.Repaired++
		s.recordRepair(intent, string(intent.Status))
	}
	return report, errors.Join(errs...)
}

func (s *Service) repair(ctx context.Context, intent *journal.Intent) error {
	switch intent.Op {
	case journal.OpCreate:
		if err := s.removeRows(ctx, intent, true); err != nil {
			return err
		}
		if err := s.mark(ctx, intent, journal.StatusCompensated, errors.New("rolled back by reconciler")); err != nil {
			return err
		}
	case journal.OpDelete:
		if err := s.removeRows(ctx, intent, !intent.RetainSensitive); err != nil {
			return err
		}
		if err := s.mark(ctx, intent, journal.StatusCommitted, nil); err != nil {
			return err
		}
		if intent.RetainSensitive {
			if err := s.journal.Forget(ctx, s.entityType, intent.EntityID); err != nil {
				return err
			}
		}
	case journal.OpUpdate:
		if err := s.cache.Invalidate(ctx, s.cacheKey(intent.EntityID)); err != nil {
			return err
		}
		cause := intent.LastError
		if cause == "" {
			cause = "abandoned before completion"
		}
		return s.mark(ctx, intent, journal.StatusFailed, errors.New(cause))
	default:
		return fmt.Errorf("unknown journal operation %q", intent.Op)
	}

	s.logAudit(ctx, audit.EventGapRepaired,
		"entity_id", intent.EntityID,
		"reason", string(intent.Op)+" "+string(intent.Status),
	)
	return nil
}

// removeRows deletes whatever is left of the entity. Rows that are already
// gone are fine.
func (s *Service) removeRows(ctx context.Context, intent *journal.Intent, clinical bool) error {
	if clinical && intent.Pseudonym != "" {
		if err := s.clinical.Delete(ctx, intent.Pseudonym); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return err
		}
	}
	if err := s.identity.Delete(ctx, intent.EntityID); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return err
	}
	return s.cache.Invalidate(ctx, s.cacheKey(intent.EntityID))
}

func (s *Service) recordRepair(intent *journal.Intent, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordRepair(s.entityType, string(intent.Op), outcome)
	}
}
