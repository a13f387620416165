// Package attrs reads values back out of slog-style key/value slices.
package attrs

// ExtractString returns the string value for key in a [k1, v1, k2, v2, ...]
// slice. Values implementing fmt.Stringer (typed IDs) are rendered too.
// Returns "" when the key is absent or the value is neither.
func ExtractString(attrs []any, key string) string {
	for i := 0; i < len(attrs)-1; i += 2 {
		k, ok := attrs[i].(string)
		if !ok || k != key {
			continue
		}
		switch v := attrs[i+1].(type) {
		case string:
			return v
		case interface{ String() string }:
			return v.String()
		}
	}
	return ""
}
