// Package strings holds small string helpers shared across packages.
package strings

import (
	"strings"
)

// Terms splits a free-text query on whitespace and commas into distinct
// lowercase terms. Order of first appearance is preserved.
func Terms(query string) []string {
	return dedupeLower(strings.FieldsFunc(query, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	}))
}

// dedupeLower trims and lowercases values, dropping blanks and repeats.
func dedupeLower(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		c := strings.ToLower(strings.TrimSpace(v))
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		result = append(result, c)
	}
	return result
}
