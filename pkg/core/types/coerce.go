package types

import "strings"

// Argument coercion for loosely-typed tool-call payloads. The model sends the
// same logical field as a string, an array, or nothing at all depending on
// phrasing; each coercion documents its precedence instead of repeating
// type-switch chains at call sites.

// StringList coerces string | []string | []any | nil into a []string.
// Precedence: nil yields nil; a scalar string yields a one-element list;
// arrays keep string elements in order. Blank entries are dropped.
func StringList(v any) []string {
	switch value := v.(type) {
	case nil:
		return nil
	case string:
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return []string{trimmed}
		}
		return nil
	case []string:
		out := make([]string, 0, len(value))
		for _, s := range value {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	case []any:
		out := make([]string, 0, len(value))
		for _, entry := range value {
			if s, ok := entry.(string); ok {
				if trimmed := strings.TrimSpace(s); trimmed != "" {
					out = append(out, trimmed)
				}
			}
		}
		return out
	default:
		return nil
	}
}

// StringValue coerces string | fmt-irrelevant scalars into a trimmed string;
// non-strings yield "".
func StringValue(v any) string {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// FloatValue coerces float64 | int | json number into a float pointer, nil
// when absent or non-numeric.
func FloatValue(v any) *float64 {
	switch value := v.(type) {
	case float64:
		return &value
	case int:
		f := float64(value)
		return &f
	default:
		return nil
	}
}

// MapValue coerces a structured object field, nil when absent or non-object.
func MapValue(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return nil
}
