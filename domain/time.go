package domain

import "time"

// TimestampLayout is the fixed-width UTC layout used for every stored timestamp.
// Fixed width keeps lexical order equal to chronological order.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// acceptedLayouts lists the timestamp formats accepted from the upstream API and from users.
var acceptedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTime parses a timestamp in any accepted layout. Values without a zone are read as UTC.
func ParseTime(value string) (time.Time, error) {
	var err error
	for _, layout := range acceptedLayouts {
		var t time.Time
		t, err = time.ParseInLocation(layout, value, time.UTC)
		if err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, err
}

// ParseTimestamp parses value and falls back to fallback when it is empty or invalid.
func ParseTimestamp(value string, fallback time.Time) time.Time {
	if value == "" {
		return fallback.UTC()
	}
	t, err := ParseTime(value)
	if err != nil {
		return fallback.UTC()
	}
	return t
}
