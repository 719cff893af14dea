package parsers

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
)

// JSON parses JSON array, single-object (with a common records key or a
// configured dot-path), and newline-delimited JSON files, flattening any
// nested object fields into prefixed keys.
type JSON struct {
	RecordsPath string
}

var commonRecordsKeys = []string{"data", "records", "items", "results", "claims"}

// Parse reads up to limit records (0 means unlimited) from path.
func (p *JSON) Parse(path string, limit int) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, nil
	}

	switch trimmed[0] {
	case '[':
		var arr []any
		if err := json.Unmarshal(data, &arr); err == nil {
			return p.fromSlice(arr, limit), nil
		}
	case '{':
		var obj any
		if err := json.Unmarshal(data, &obj); err == nil {
			return p.fromRecords(p.extractRecords(obj), limit), nil
		}
	}
	return p.parseNDJSON(path, limit)
}

func (p *JSON) fromSlice(arr []any, limit int) []map[string]any {
	var out []map[string]any
	for _, item := range arr {
		if limit > 0 && len(out) >= limit {
			break
		}
		if m, ok := item.(map[string]any); ok {
			out = append(out, flattenRecord(m, ""))
		}
	}
	return out
}

func (p *JSON) fromRecords(records []map[string]any, limit int) []map[string]any {
	out := make([]map[string]any, 0, len(records))
	for _, r := range records {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, flattenRecord(r, ""))
	}
	return out
}

func (p *JSON) extractRecords(data any) []map[string]any {
	switch v := data.(type) {
	case []any:
		var out []map[string]any
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	case map[string]any:
		if p.RecordsPath != "" {
			current := any(v)
			for _, part := range strings.Split(p.RecordsPath, ".") {
				m, ok := current.(map[string]any)
				if !ok {
					return []map[string]any{v}
				}
				current, ok = m[part]
				if !ok {
					return []map[string]any{v}
				}
			}
			if arr, ok := current.([]any); ok {
				var out []map[string]any
				for _, item := range arr {
					if m, ok := item.(map[string]any); ok {
						out = append(out, m)
					}
				}
				return out
			}
		}

		for _, key := range commonRecordsKeys {
			if arr, ok := v[key].([]any); ok {
				var out []map[string]any
				for _, item := range arr {
					if m, ok := item.(map[string]any); ok {
						out = append(out, m)
					}
				}
				return out
			}
		}
		return []map[string]any{v}
	}
	return nil
}

func (p *JSON) parseNDJSON(path string, limit int) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []map[string]any
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		if limit > 0 && len(out) >= limit {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			continue
		}
		out = append(out, flattenRecord(record, ""))
	}
	return out, scanner.Err()
}

func flattenRecord(record map[string]any, prefix string) map[string]any {
	result := map[string]any{}
	for key, value := range record {
		flatKey := key
		if prefix != "" {
			flatKey = prefix + key
		}

		switch v := value.(type) {
		case map[string]any:
			for fk, fv := range flattenRecord(v, flatKey+"_") {
				result[fk] = fv
			}
		case []any:
			if allMaps(v) {
				result[flatKey] = v
			} else {
				parts := make([]string, 0, len(v))
				for _, e := range v {
					parts = append(parts, stringify(e))
				}
				result[flatKey] = strings.Join(parts, ",")
			}
		default:
			result[flatKey] = value
		}
	}
	return result
}

func allMaps(items []any) bool {
	for _, item := range items {
		if _, ok := item.(map[string]any); !ok {
			return false
		}
	}
	return true
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	default:
		b, _ := json.Marshal(s)
		return string(b)
	}
}
