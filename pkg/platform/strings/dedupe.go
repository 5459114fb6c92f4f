// Package strings provides string normalization used for entity lists and
// lookup keys.
package strings

import (
	"strings"
)

// DedupeAndTrim removes duplicates and empty strings from a slice,
// trimming whitespace from each element. Order is preserved.
//
//	DedupeAndTrim([]string{"  PM-KISAN ", "Jal Jeevan", "PM-KISAN", ""})
//	// []string{"PM-KISAN", "Jal Jeevan"}
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; !ok {
			seen[trimmed] = struct{}{}
			result = append(result, trimmed)
		}
	}
	return result
}

// CollapseSpace trims s and replaces every inner run of whitespace with a
// single space.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// FoldKey is CollapseSpace plus lowercasing. Two queries that differ only in
// case or spacing fold to the same key.
func FoldKey(s string) string {
	return strings.ToLower(CollapseSpace(s))
}
