package service

import (
	"context"
	"log/slog"
	"time"

	platformlogger "privata/internal/platform/logger"
)

// Repairer is implemented by *Service.
type Repairer interface {
	EntityType() string
	Reconcile(ctx context.Context, grace time.Duration) (RepairReport, error)
}

// Reconciler periodically resolves stale journal intents for a set of entity
// stores.
type Reconciler struct {
	interval time.Duration
	grace    time.Duration
	logger   *slog.Logger
	services []Repairer
}

// NewReconciler builds a Reconciler. Intents younger than grace are left
// alone so in-flight operations are not rolled back under their feet.
func NewReconciler(interval, grace time.Duration, logger *slog.Logger, services ...Repairer) *Reconciler {
	if logger == nil {
		logger = platformlogger.Discard()
	}
	return &Reconciler{
		interval: interval,
		grace:    grace,
		logger:   logger,
		services: services,
	}
}

// Run reconciles every interval until ctx is cancelled. Failures are logged
// and retried on the next tick.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.RunOnce(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunOnce makes a single pass over every store and returns the combined
// report.
func (r *Reconciler) RunOnce(ctx context.Context) RepairReport {
	var total RepairReport
	for _, svc := range r.services {
		report, err := svc.Reconcile(ctx, r.grace)
		total.add(report)
		if err != nil {
			r.logger.ErrorContext(ctx, "reconciliation failed",
				"entity_type", svc.EntityType(),
				"failed", report.Failed,
				"error", err,
			)
		}
		if report.Repaired > 0 {
			r.logger.InfoContext(ctx, "reconciled journal intents",
				"entity_type", svc.EntityType(),
				"repaired", report.Repaired,
			)
		}
	}
	return total
}
