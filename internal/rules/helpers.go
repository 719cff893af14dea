package rules

import "github.com/rakunlabs/ingestcore/internal/model"

// Canonical rules operate on the grouped shape mapping.Mapper.Transform
// produces: claim["items"] is a []map[string]any of line items keyed by
// procedure_source_value/quantity/modifier_source_value/line_charge/
// condition_source_value, and claim["member"]/claim["provider"] are flat
// groups of the fields mapper.go extracts into them.

func itemsOf(claim model.CanonicalRecord) []map[string]any {
	raw, _ := claim["items"].([]map[string]any)
	return raw
}

func groupOf(claim model.CanonicalRecord, key string) map[string]any {
	g, _ := claim[key].(map[string]any)
	if g == nil {
		return map[string]any{}
	}
	return g
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asStringSet(v any) map[string]struct{} {
	out := make(map[string]struct{})
	switch vals := v.(type) {
	case []string:
		for _, s := range vals {
			out[s] = struct{}{}
		}
	case []any:
		for _, s := range vals {
			if str, ok := s.(string); ok {
				out[str] = struct{}{}
			}
		}
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
