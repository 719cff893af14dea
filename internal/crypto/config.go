package crypto

import "fmt"

// EncryptFields returns a copy of fields with every non-empty value
// encrypted; the input map is not modified. If key is nil, fields is
// returned unchanged (no-op).
func EncryptFields(fields map[string]string, key []byte) (map[string]string, error) {
	if key == nil || len(fields) == 0 {
		return fields, nil
	}

	encrypted := make(map[string]string, len(fields))
	for k, v := range fields {
		if v == "" {
			encrypted[k] = v
			continue
		}
		enc, err := Encrypt(v, key)
		if err != nil {
			return fields, fmt.Errorf("encrypt field %q: %w", k, err)
		}
		encrypted[k] = enc
	}

	return encrypted, nil
}

// DecryptFields returns a copy of fields with every encrypted value
// decrypted, leaving values that are not encrypted (no "enc:" prefix) as-is;
// the input map is not modified. If key is nil, fields is returned unchanged
// (no-op).
func DecryptFields(fields map[string]string, key []byte) (map[string]string, error) {
	if key == nil || len(fields) == 0 {
		return fields, nil
	}

	decrypted := make(map[string]string, len(fields))
	for k, v := range fields {
		dec, err := Decrypt(v, key)
		if err != nil {
			return fields, fmt.Errorf("decrypt field %q: %w", k, err)
		}
		decrypted[k] = dec
	}

	return decrypted, nil
}
