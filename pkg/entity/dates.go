package entity

import (
	"regexp"
	"time"
)

// isoDatePrefix guards the parse attempts; only strings that start like a
// calendar date are considered.
var isoDatePrefix = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// parseISODate parses s when it is an ISO-8601 date or timestamp.
func parseISODate(s string) (time.Time, bool) {
	if !isoDatePrefix.MatchString(s) {
		return time.Time{}, false
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// traverseDates walks maps and slices in place, replacing ISO date strings
// with time.Time values.
func traverseDates(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = traverseDates(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = traverseDates(e)
		}
		return t
	case string:
		if d, ok := parseISODate(t); ok {
			return d
		}
		return t
	default:
		return v
	}
}
