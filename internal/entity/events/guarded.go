package events

import (
	"context"
	"errors"
	"log/slog"

	platformlogger "privata/internal/platform/logger"
	audit "privata/pkg/platform/audit"
	"privata/pkg/platform/circuit"
)

// ErrSinkOpen is returned by GuardedSink when the primary is skipped and no
// fallback is configured.
var ErrSinkOpen = errors.New("audit sink circuit open")

// GuardedSink sends events to a primary sink behind a circuit breaker and
// diverts them to a fallback while the breaker is open.
type GuardedSink struct {
	primary  audit.Store
	fallback audit.Store
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

// NewGuardedSink wraps primary. A nil fallback drops events while open.
func NewGuardedSink(primary, fallback audit.Store, breaker *circuit.Breaker, logger *slog.Logger) *GuardedSink {
	if logger == nil {
		logger = platformlogger.Discard()
	}
	return &GuardedSink{primary: primary, fallback: fallback, breaker: breaker, logger: logger}
}

func (g *GuardedSink) Append(ctx context.Context, event audit.Event) error {
	if !g.breaker.Allow() {
		return g.divert(ctx, event)
	}
	err := g.primary.Append(ctx, event)
	if err == nil {
		if _, change := g.breaker.RecordSuccess(); change.Closed {
			g.logger.InfoContext(ctx, "audit sink recovered", "sink", g.breaker.Name())
		}
		return nil
	}
	useFallback, change := g.breaker.RecordFailure()
	if change.Opened {
		g.logger.WarnContext(ctx, "audit sink circuit opened", "sink", g.breaker.Name(), "error", err)
	}
	if !useFallback {
		return err
	}
	return g.divert(ctx, event)
}

func (g *GuardedSink) divert(ctx context.Context, event audit.Event) error {
	if g.fallback == nil {
		return ErrSinkOpen
	}
	return g.fallback.Append(ctx, event)
}

// LogSink writes audit events as structured log lines.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Append(ctx context.Context, event audit.Event) error {
	s.logger.LogAttrs(ctx, slog.LevelInfo, "audit",
		slog.String("log_type", "audit"),
		slog.String("category", string(event.Category)),
		slog.String("action", event.Action),
		slog.String("entity_type", event.EntityType),
		slog.String("entity_id", event.EntityID),
		slog.String("request_id", event.RequestID),
		slog.String("actor_id", event.ActorID),
		slog.String("reason", event.Reason),
		slog.Time("timestamp", event.Timestamp),
	)
	return nil
}
