// Package healthcare holds small, self-contained validators for
// identifiers that recur across connectors, canonical schema fields, and
// rule checks: National Provider Identifiers and CPT/HCPCS procedure codes.
package healthcare

// npiPrefix is the constant CMS "health care" identifier prefix prepended to
// every NPI before the Luhn checksum is computed.
const npiPrefix = "80840"

// ValidNPI reports whether npi is a syntactically well-formed, 10-digit
// National Provider Identifier that passes the Luhn checksum, with the
// CMS health care prefix 80840 prepended per the NPI final rule.
func ValidNPI(npi string) bool {
	if len(npi) != 10 {
		return false
	}
	for _, r := range npi {
		if r < '0' || r > '9' {
			return false
		}
	}

	prefixed := npiPrefix + npi

	total := 0
	for i := 0; i < len(prefixed); i++ {
		// Luhn doubles every second digit leftward from the rightmost
		// (check) digit; the check digit itself is not doubled.
		digitFromRight := len(prefixed) - 1 - i
		n := int(prefixed[i] - '0')
		if digitFromRight%2 == 1 {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		total += n
	}

	return total%10 == 0
}
