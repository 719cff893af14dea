package mapping

import "strings"

// flatten turns a nested map into a dot-notation map, so alias resolution
// can walk a single flat namespace. Every leaf is additionally surfaced under its
// own unqualified key (so both "member.age" and "age" are present) to let
// alias lookup match on either the fully-qualified or the bare field name.
// Lists of objects (line items) are kept intact under their dotted key;
// callers extract and flatten those separately.
func flatten(data map[string]any) map[string]any {
	out := make(map[string]any, len(data)*2)
	flattenInto(out, data, "")
	return out
}

func flattenInto(out map[string]any, data map[string]any, prefix string) {
	for key, value := range data {
		qualified := key
		if prefix != "" {
			qualified = prefix + "." + key
		}

		switch v := value.(type) {
		case map[string]any:
			flattenInto(out, v, qualified)
			for leafKey, leafValue := range v {
				if !isNestedValue(leafValue) {
					out[leafKey] = leafValue
				}
			}
		case []any:
			if len(v) > 0 {
				if _, ok := v[0].(map[string]any); ok {
					out[qualified] = v
					continue
				}
			}
			out[qualified] = v
			if prefix != "" {
				out[key] = v
			}
		default:
			out[qualified] = v
			if prefix != "" {
				out[key] = v
			}
		}
	}
}

func isNestedValue(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	default:
		return false
	}
}

// toSnakeCase converts camelCase or PascalCase to snake_case so the alias
// table, which is keyed on snake_case and lowercased variants, can be
// retried against a differently-cased source field name.
func toSnakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' && i > 0 {
			b.WriteByte('_')
		}
		if r >= 'A' && r <= 'Z' {
			b.WriteRune(r - 'A' + 'a')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
