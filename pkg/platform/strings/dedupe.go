// Package strings provides string helpers shared by config parsing and stores.
package strings

import (
	"maps"
	"slices"
	"strings"
)

// SplitList splits a separated list such as "patient, visit,patient" into
// its distinct non-empty trimmed elements, keeping first-seen order.
func SplitList(raw, sep string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return DedupeAndTrim(strings.Split(raw, sep))
}

// DedupeAndTrim trims each value and drops blanks and repeats.
func DedupeAndTrim(values []string) []string {
	if values == nil {
		return nil
	}
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// SortedKeys returns the keys of m in lexical order so generated queries and
// field iteration are deterministic.
func SortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
