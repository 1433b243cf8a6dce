// Package schema declares entity types: which fields are identity, sensitive
// or metadata, which are required, and what primitive type each carries.
package schema

import (
	"fmt"
	"maps"

	"privata/internal/classify"
	dErrors "privata/pkg/domain-errors"
	pkgstrings "privata/pkg/platform/strings"
)

// FieldSpec declares a single field.
type FieldSpec struct {
	Type     Kind `json:"type" yaml:"type"`
	Required bool `json:"required,omitempty" yaml:"required"`
	Default  any  `json:"default,omitempty" yaml:"default"`
}

// Schema declares one entity type. Sections map field name to spec.
type Schema struct {
	Name      string               `json:"name" yaml:"name"`
	Identity  map[string]FieldSpec `json:"identity,omitempty" yaml:"identity"`
	Sensitive map[string]FieldSpec `json:"sensitive,omitempty" yaml:"sensitive"`
	Metadata  map[string]FieldSpec `json:"metadata,omitempty" yaml:"metadata"`
}

// Result is the outcome of validating a record.
type Result struct {
	Valid  bool
	Errors []dErrors.Violation
}

// Err returns a validation error carrying every violation, or nil.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return dErrors.NewValidation(r.Errors)
}

// Fields returns all declared fields across sections.
func (s *Schema) Fields() map[string]FieldSpec {
	out := make(map[string]FieldSpec, len(s.Identity)+len(s.Sensitive)+len(s.Metadata))
	maps.Copy(out, s.Metadata)
	maps.Copy(out, s.Sensitive)
	maps.Copy(out, s.Identity)
	return out
}

// FieldSets returns the explicit classification for this schema.
func (s *Schema) FieldSets() *classify.FieldSets {
	return classify.NewFieldSets(
		pkgstrings.SortedKeys(s.Identity),
		pkgstrings.SortedKeys(s.Sensitive),
		pkgstrings.SortedKeys(s.Metadata),
	)
}

// Validate checks a complete record. Every required field must be present
// and non-null, and every present non-null field must match its type. All
// violations are collected.
func (s *Schema) Validate(data map[string]any) Result {
	return s.validate(data, false)
}

// ValidatePartial checks a change set: present fields are type-checked and
// required fields may not be cleared, but absent fields are fine.
func (s *Schema) ValidatePartial(data map[string]any) Result {
	return s.validate(data, true)
}

func (s *Schema) validate(data map[string]any, partial bool) Result {
	var violations []dErrors.Violation
	fields := s.Fields()
	for _, name := range pkgstrings.SortedKeys(fields) {
		spec := fields[name]
		v, present := data[name]
		if v == nil {
			if spec.Required && (present || !partial) {
				violations = append(violations, dErrors.Violation{
					Field: name, Rule: "required", Message: "is required",
				})
			}
			continue
		}
		if !spec.Type.Accepts(v) {
			violations = append(violations, dErrors.Violation{
				Field: name, Rule: "type", Message: fmt.Sprintf("must be %s", spec.Type),
			})
		}
	}
	return Result{Valid: len(violations) == 0, Errors: violations}
}

// ApplyDefaults returns a copy of data with declared defaults filled in for
// absent fields.
func (s *Schema) ApplyDefaults(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	maps.Copy(out, data)
	for name, spec := range s.Fields() {
		if spec.Default == nil {
			continue
		}
		if _, ok := out[name]; !ok {
			out[name] = spec.Default
		}
	}
	return out
}

func (s *Schema) check() error {
	if len(s.Identity) == 0 && len(s.Sensitive) == 0 {
		return fmt.Errorf("schema %q declares neither identity nor sensitive fields", s.Name)
	}
	seen := map[string]string{}
	sections := []struct {
		name   string
		fields map[string]FieldSpec
	}{
		{"identity", s.Identity},
		{"sensitive", s.Sensitive},
		{"metadata", s.Metadata},
	}
	for _, sec := range sections {
		for _, field := range pkgstrings.SortedKeys(sec.fields) {
			if field == "" {
				return fmt.Errorf("schema %q has an empty field name in %s", s.Name, sec.name)
			}
			if prev, ok := seen[field]; ok {
				return fmt.Errorf("schema %q declares %q in both %s and %s", s.Name, field, prev, sec.name)
			}
			seen[field] = sec.name
			spec := sec.fields[field]
			kind, err := ParseKind(string(spec.Type))
			if err != nil {
				return fmt.Errorf("schema %q field %q: %w", s.Name, field, err)
			}
			spec.Type = kind
			sec.fields[field] = spec
			if spec.Default != nil && !spec.Type.Accepts(spec.Default) {
				return fmt.Errorf("schema %q field %q: default does not match type %s", s.Name, field, spec.Type)
			}
		}
	}
	return nil
}
