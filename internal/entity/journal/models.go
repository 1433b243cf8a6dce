// Package journal records write intents that span the identity and clinical
// stores, so a partial failure is visible and repairable. Intents never hold
// field values.
package journal

import (
	"time"

	"github.com/google/uuid"
)

type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusCommitted   Status = "committed"
	StatusCompensated Status = "compensated"
	StatusFailed      Status = "failed"
)

// IsTerminal reports whether no further repair applies.
func (s Status) IsTerminal() bool {
	return s == StatusCommitted || s == StatusCompensated
}

// Intent is one cross-store write.
type Intent struct {
	ID              string
	Op              Op
	EntityType      string
	EntityID        string
	Pseudonym       string
	RetainSensitive bool
	Status          Status
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewIntent returns a pending intent stamped at now.
func NewIntent(op Op, entityType, entityID, pseudonym string, now time.Time) *Intent {
	return &Intent{
		ID:         uuid.NewString(),
		Op:         op,
		EntityType: entityType,
		EntityID:   entityID,
		Pseudonym:  pseudonym,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
