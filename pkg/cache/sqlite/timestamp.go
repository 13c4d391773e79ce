package sqlite

import (
	"errors"
	"fmt"
	"time"
)

// ErrMalformedTimestamp is returned when a stored timestamp cannot be parsed.
var ErrMalformedTimestamp = errors.New("malformed timestamp")

const timestampLayout = "2006-01-02T15:04:05Z"

// Accepted on read. Offsets are converted to UTC; a missing zone means UTC.
var parseLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05Z07:00",
}

// FormatTimestamp renders t as a UTC, second-precision ISO-8601 string.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(timestampLayout)
}

// ParseTimestamp parses an ISO-8601 timestamp with or without a trailing Z.
// The result is always in UTC.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrMalformedTimestamp, s)
}

func ceilSecond(t time.Time) time.Time {
	f := t.Truncate(time.Second)
	if f.Before(t) {
		return f.Add(time.Second)
	}
	return f
}
