package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Kind is the declared primitive type of a field.
type Kind string

const (
	KindString      Kind = "string"
	KindNumber      Kind = "number"
	KindBoolean     Kind = "boolean"
	KindDate        Kind = "date"
	KindStringArray Kind = "string[]"
	// KindAny accepts any shape, including nested objects.
	KindAny Kind = "any"
)

// ParseKind resolves a declared type name. An empty name is KindAny.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindString, KindNumber, KindBoolean, KindDate, KindStringArray, KindAny:
		return k, nil
	case "":
		return KindAny, nil
	default:
		return "", fmt.Errorf("unknown field type %q", s)
	}
}

func (k *Kind) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseKind(raw)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Accepts reports whether a non-nil value has this kind.
func (k Kind) Accepts(v any) bool {
	switch k {
	case KindString:
		_, ok := v.(string)
		return ok
	case KindNumber:
		switch v.(type) {
		case float64, float32, int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64, json.Number:
			return true
		}
		return false
	case KindBoolean:
		_, ok := v.(bool)
		return ok
	case KindDate:
		switch t := v.(type) {
		case time.Time:
			return true
		case string:
			return isDate(t)
		}
		return false
	case KindStringArray:
		switch arr := v.(type) {
		case []string:
			return true
		case []any:
			for _, el := range arr {
				if _, ok := el.(string); !ok {
					return false
				}
			}
			return true
		}
		return false
	case KindAny, "":
		return true
	default:
		return false
	}
}

func isDate(s string) bool {
	if _, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return true
	}
	_, err := time.Parse(time.DateOnly, s)
	return err == nil
}
