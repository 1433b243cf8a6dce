package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies and routing per sink.
type EventCategory string

const (
	// CategoryCompliance covers events with legal/regulatory significance:
	// creation, modification and erasure of personal data.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events that need operator attention, such as
	// a write that left the identity and clinical stores out of step.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine access that can be sampled.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted after an entity operation. It identifies the entity but
// never carries identity or sensitive field values.
type Event struct {
	Category   EventCategory `json:"category"`
	Timestamp  time.Time     `json:"timestamp"`
	Action     string        `json:"action"`
	EntityType string        `json:"entity_type"`
	EntityID   string        `json:"entity_id,omitempty"`
	RequestID  string        `json:"request_id,omitempty"`
	// ActorID is the authenticated API principal, not the data subject.
	ActorID string `json:"actor_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type AuditEvent string

const (
	EventEntityCreated  AuditEvent = "entity_created"
	EventEntityRead     AuditEvent = "entity_read"
	EventEntityUpdated  AuditEvent = "entity_updated"
	EventEntityDeleted  AuditEvent = "entity_deleted"
	EventEntityErased   AuditEvent = "entity_erased"
	EventConsistencyGap AuditEvent = "consistency_gap"
	EventGapRepaired    AuditEvent = "consistency_gap_repaired"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventEntityCreated: CategoryCompliance,
	EventEntityUpdated: CategoryCompliance,
	EventEntityDeleted: CategoryCompliance,
	EventEntityErased:  CategoryCompliance,

	EventConsistencyGap: CategorySecurity,
	EventGapRepaired:    CategorySecurity,

	EventEntityRead: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store is an append-only audit sink.
type Store interface {
	Append(ctx context.Context, event Event) error
}
