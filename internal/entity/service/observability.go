package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"privata/internal/entity/journal"
	dErrors "privata/pkg/domain-errors"
	audit "privata/pkg/platform/audit"
	"privata/pkg/platform/sentinel"
	"privata/pkg/requestcontext"
)

// startOp opens a span for op. The returned func ends the span and records
// the outcome; spans and metrics never carry field values.
func (s *Service) startOp(ctx context.Context, op string) (context.Context, func(err error)) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "entity."+op,
		trace.WithAttributes(
			attribute.String("entity.type", s.entityType),
			attribute.String("entity.operation", op),
		))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "operation failed")
		}
		span.End()
		if s.metrics != nil {
			s.metrics.ObserveOperation(s.entityType, op, start, err)
		}
	}
}

func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, attributes ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "entity_type", s.entityType, "event", string(event), "log_type", "audit")
	s.logger.InfoContext(ctx, string(event), args...)
	if s.auditPublisher == nil {
		return
	}
	err := s.auditPublisher.Emit(ctx, audit.Event{
		Category:   event.Category(),
		Timestamp:  requestcontext.Now(ctx),
		Action:     string(event),
		EntityType: s.entityType,
		EntityID:   kvString(attributes, "entity_id"),
		RequestID:  requestcontext.RequestID(ctx),
		ActorID:    requestcontext.Actor(ctx),
		Reason:     kvString(attributes, "reason"),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to publish audit event", "event", string(event), "error", err)
	}
}

// kvString returns the string value paired with key in a slog-style
// key/value list.
func kvString(kv []any, key string) string {
	for i := 0; i+1 < len(kv); i += 2 {
		if k, _ := kv[i].(string); k == key {
			v, _ := kv[i+1].(string)
			return v
		}
	}
	return ""
}

func (s *Service) recordCacheLookup(result string) {
	if s.metrics != nil {
		s.metrics.RecordCacheLookup(s.entityType, result)
	}
}

// reportGap records an operation that left the stores out of step.
func (s *Service) reportGap(ctx context.Context, intent *journal.Intent, cause error) {
	if s.metrics != nil {
		s.metrics.RecordConsistencyGap(s.entityType, string(intent.Op))
	}
	s.logger.ErrorContext(ctx, "identity and clinical stores diverged",
		"entity_type", s.entityType,
		"entity_id", intent.EntityID,
		"operation", string(intent.Op),
		"intent_id", intent.ID,
		"error", cause,
	)
	s.logAudit(ctx, audit.EventConsistencyGap,
		"entity_id", intent.EntityID,
		"reason", string(intent.Op)+": "+errorClass(cause),
	)
}

// errorClass names the kind of failure without its message. Driver errors
// can quote key values, so the message stays in the local log line.
func errorClass(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, sentinel.ErrNotFound):
		return "not_found"
	case errors.Is(err, sentinel.ErrConflict):
		return "conflict"
	case errors.Is(err, sentinel.ErrInvalidState):
		return "invalid_state"
	}
	var coded *dErrors.Error
	if errors.As(err, &coded) {
		return string(coded.Code)
	}
	return "store_error"
}

// mark moves intent to status. A failure to record the transition is
// returned so the caller can decide whether the operation still stands.
func (s *Service) mark(ctx context.Context, intent *journal.Intent, status journal.Status, cause error) error {
	lastErr := ""
	if cause != nil {
		lastErr = cause.Error()
	}
	if err := s.journal.Mark(ctx, intent.ID, status, lastErr, s.now(ctx)); err != nil {
		s.logger.ErrorContext(ctx, "failed to update journal intent",
			"intent_id", intent.ID, "status", string(status), "error", err)
		return err
	}
	intent.Status = status
	intent.LastError = lastErr
	return nil
}
