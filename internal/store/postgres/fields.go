package postgres

import "encoding/json"

func marshalFields(fields map[string]string) (string, error) {
	b, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalFields(raw string) (map[string]string, error) {
	if raw == "" {
		return map[string]string{}, nil
	}
	var fields map[string]string
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
