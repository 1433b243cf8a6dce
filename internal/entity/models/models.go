// Package models holds the records exchanged between the entity service,
// its backing stores and its cache.
package models

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// Reserved keys are owned by the system and are never stored as fields.
const (
	KeyID        = "id"
	KeyPseudonym = "pseudonym"
	KeyCreatedAt = "createdAt"
	KeyUpdatedAt = "updatedAt"
)

// IsReserved reports whether key is a system-owned attribute.
func IsReserved(key string) bool {
	switch key {
	case KeyID, KeyPseudonym, KeyCreatedAt, KeyUpdatedAt:
		return true
	}
	return false
}

// Entity is the caller-visible merge of an identity record and its clinical
// counterpart. It is never stored as-is; the cache holds a copy.
type Entity struct {
	ID        string
	Pseudonym string
	Fields    map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MarshalJSON flattens fields alongside the system attributes.
func (e Entity) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Fields)+4)
	maps.Copy(out, e.Fields)
	out[KeyID] = e.ID
	if e.Pseudonym != "" {
		out[KeyPseudonym] = e.Pseudonym
	}
	out[KeyCreatedAt] = e.CreatedAt
	out[KeyUpdatedAt] = e.UpdatedAt
	return json.Marshal(out)
}

func (e *Entity) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id, _ := raw[KeyID].(string)
	pseudonym, _ := raw[KeyPseudonym].(string)
	created, err := parseTime(raw[KeyCreatedAt])
	if err != nil {
		return fmt.Errorf("%s: %w", KeyCreatedAt, err)
	}
	updated, err := parseTime(raw[KeyUpdatedAt])
	if err != nil {
		return fmt.Errorf("%s: %w", KeyUpdatedAt, err)
	}
	*e = Entity{
		ID:        id,
		Pseudonym: pseudonym,
		Fields:    StripReserved(raw),
		CreatedAt: created,
		UpdatedAt: updated,
	}
	return nil
}

func parseTime(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// IdentityRecord is owned by the identity store: identity and metadata
// fields keyed by the caller-visible id.
type IdentityRecord struct {
	ID        string
	Pseudonym string
	Fields    map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ClinicalRecord is owned by the clinical store and keyed by pseudonym only.
type ClinicalRecord struct {
	Pseudonym string
	Fields    map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Patch is a partial update. Set replaces values, Unset removes keys.
type Patch struct {
	Set       map[string]any
	Unset     []string
	UpdatedAt time.Time
}

// NewPatch builds a patch from an update payload. A null value removes the
// field.
func NewPatch(fields map[string]any, at time.Time) Patch {
	p := Patch{Set: make(map[string]any, len(fields)), UpdatedAt: at}
	for k, v := range fields {
		if v == nil {
			p.Unset = append(p.Unset, k)
			continue
		}
		p.Set[k] = v
	}
	return p
}

// IsEmpty reports whether the patch changes no fields.
func (p Patch) IsEmpty() bool {
	return len(p.Set) == 0 && len(p.Unset) == 0
}

// Apply returns fields with the patch applied. fields is not modified.
func (p Patch) Apply(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields)+len(p.Set))
	maps.Copy(out, fields)
	for _, k := range p.Unset {
		delete(out, k)
	}
	maps.Copy(out, p.Set)
	return out
}

// Query is an exact-match filter over identity and metadata fields.
type Query struct {
	Filters map[string]any
	Limit   int
}

// DeleteOptions controls delete behavior.
type DeleteOptions struct {
	// RetainSensitive removes only the identity side and leaves the clinical
	// record in place, unreachable through this system.
	RetainSensitive bool
}
