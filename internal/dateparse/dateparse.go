// Package dateparse parses healthcare claim date fields that arrive in one
// of a handful of common shapes, rejecting anything that isn't a real
// calendar date or falls outside a sensible range for claims data.
package dateparse

import (
	"regexp"
	"strconv"
	"time"
)

// MinValidYear and MaxValidYear bound what Parse accepts as a plausible
// claims date.
const (
	MinValidYear = 1900
	MaxValidYear = 2100
)

// Supported shapes, tried in order: ISO 8601, US format, compact.
var (
	isoPattern     = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`)
	usPattern      = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	compactPattern = regexp.MustCompile(`^(\d{4})(\d{2})(\d{2})$`)
)

// Parse attempts to interpret s as a date in ISO 8601 (YYYY-MM-DD), US
// (MM/DD/YYYY), or compact (YYYYMMDD) form, in that order, returning the
// first shape that matches. It rejects calendar dates that don't exist
// (February 30), dates outside [MinValidYear, MaxValidYear], and anything
// that matches none of the supported shapes.
func Parse(s string) (t time.Time, ok bool) {
	if s == "" {
		return time.Time{}, false
	}

	if m := isoPattern.FindStringSubmatch(s); m != nil {
		return buildDate(m[1], m[2], m[3])
	}
	if m := usPattern.FindStringSubmatch(s); m != nil {
		return buildDate(m[3], m[1], m[2])
	}
	if m := compactPattern.FindStringSubmatch(s); m != nil {
		return buildDate(m[1], m[2], m[3])
	}

	return time.Time{}, false
}

// buildDate parses year/month/day components and validates they form a
// real calendar date within the accepted year range. time.Date itself
// silently normalizes an out-of-range day (e.g. day 30 in February rolls
// into March), so the normalized result is compared back against the
// parsed components to detect that case.
func buildDate(yearStr, monthStr, dayStr string) (time.Time, bool) {
	year, err := strconv.Atoi(yearStr)
	if err != nil || year < MinValidYear || year > MaxValidYear {
		return time.Time{}, false
	}
	month, err := strconv.Atoi(monthStr)
	if err != nil || month < 1 || month > 12 {
		return time.Time{}, false
	}
	day, err := strconv.Atoi(dayStr)
	if err != nil || day < 1 || day > 31 {
		return time.Time{}, false
	}

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, false
	}

	return t, true
}

// ToISODate formats t as the canonical YYYY-MM-DD string the Transform
// stage normalizes date fields into.
func ToISODate(t time.Time) string {
	return t.Format("2006-01-02")
}
