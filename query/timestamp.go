package query

import (
	"fmt"
	"strings"
	"time"
)

// timestampLayouts are tried in order. Layouts without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp parses a time range bound.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: cannot parse %q as a timestamp", ErrInvalidTimeRange, s)
}

// ParseTimeRange parses optional start and end bounds. Empty text yields a
// nil bound.
func ParseTimeRange(start, end string) (*time.Time, *time.Time, error) {
	var startTime, endTime *time.Time
	if start != "" {
		t, err := ParseTimestamp(start)
		if err != nil {
			return nil, nil, fmt.Errorf("start: %w", err)
		}
		startTime = &t
	}
	if end != "" {
		t, err := ParseTimestamp(end)
		if err != nil {
			return nil, nil, fmt.Errorf("end: %w", err)
		}
		endTime = &t
	}
	return startTime, endTime, nil
}
