package connector

import (
	"fmt"
	"regexp"
	"strings"
)

var sqlIdentifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

var cronPattern = regexp.MustCompile(
	`(?i)^(\*|([0-5]?\d))(/\d+)?\s+` +
		`(\*|([01]?\d|2[0-3]))(/\d+)?\s+` +
		`(\*|([12]?\d|3[01]))(/\d+)?\s+` +
		`(\*|(1[0-2]|0?[1-9]))(/\d+)?\s+` +
		`(\*|[0-6])(/\d+)?$`,
)

// ValidateSQLIdentifier rejects anything that isn't a bare or
// schema-qualified SQL identifier, guarding custom table/column/schema
// names against injection before they're interpolated into a query string.
// The empty string is rejected like any other malformed identifier; a
// caller with an optional/absent field must not call this at all.
func ValidateSQLIdentifier(name string) error {
	if !sqlIdentifierPattern.MatchString(name) {
		return fmt.Errorf("invalid SQL identifier %q: only alphanumeric characters and underscores allowed", name)
	}
	return nil
}

// ValidateQuery rejects custom extraction queries that could stack a second
// statement or comment out a trailing clause.
func ValidateQuery(query string) error {
	if query == "" {
		return nil
	}
	if strings.Contains(query, ";") || strings.Contains(query, "--") {
		return fmt.Errorf("custom queries cannot contain ';' or '--' characters")
	}
	return nil
}

// ValidateCronSchedule normalizes whitespace and checks the expression has
// 5 or 6 space-separated fields with a plausible format.
func ValidateCronSchedule(schedule string) (string, error) {
	if schedule == "" {
		return "", nil
	}
	normalized := strings.Join(strings.Fields(schedule), " ")
	parts := strings.Fields(normalized)
	if len(parts) != 5 && len(parts) != 6 {
		return "", fmt.Errorf("invalid cron expression: expected 5 or 6 space-separated fields")
	}
	if len(parts) == 5 && !cronPattern.MatchString(normalized) {
		return "", fmt.Errorf("invalid cron expression %q", normalized)
	}
	return normalized, nil
}

// ValidateConnectorName rejects names carrying HTML special characters, the
// same guard the original request model applies before a name is rendered
// back to an operator's browser.
func ValidateConnectorName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("connector name cannot be empty")
	}
	if len(trimmed) > 100 {
		return "", fmt.Errorf("connector name cannot exceed 100 characters")
	}
	if strings.ContainsAny(trimmed, "<>&") {
		return "", fmt.Errorf("connector name cannot contain HTML special characters")
	}
	return trimmed, nil
}
