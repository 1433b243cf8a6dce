package models

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
)

// Canonicalize round-trips fields through JSON so that every store and the
// cache hold the same shapes (numbers become float64, slices become []any).
func Canonicalize(fields map[string]any) (map[string]any, error) {
	if len(fields) == 0 {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("fields are not serializable: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("fields are not serializable: %w", err)
	}
	return out, nil
}

// StripReserved returns a copy of fields without system-owned keys.
func StripReserved(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if !IsReserved(k) {
			out[k] = v
		}
	}
	return out
}

// Merge joins identity and clinical fields. Identity wins on collision.
func Merge(identity, clinical map[string]any) map[string]any {
	out := make(map[string]any, len(identity)+len(clinical))
	maps.Copy(out, clinical)
	maps.Copy(out, identity)
	return out
}

// Matches reports whether every filter equals the corresponding field.
// Both sides are expected in canonical form.
func Matches(fields, filters map[string]any) bool {
	for k, want := range filters {
		got, ok := fields[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// Clone deep-copies canonical fields.
func Clone(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Clone(t)
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = cloneValue(el)
		}
		return out
	default:
		return v
	}
}

// ToEntity merges an identity record with an optional clinical record.
func ToEntity(identity *IdentityRecord, clinical *ClinicalRecord) *Entity {
	var sensitive map[string]any
	if clinical != nil {
		sensitive = clinical.Fields
	}
	return &Entity{
		ID:        identity.ID,
		Pseudonym: identity.Pseudonym,
		Fields:    Merge(identity.Fields, sensitive),
		CreatedAt: identity.CreatedAt,
		UpdatedAt: identity.UpdatedAt,
	}
}
