package tools

import (
	"fmt"
	"strings"
	"time"
)

// parseWhen resolves a due date relative to now. Past dates are accepted.
func parseWhen(when string, now time.Time) (time.Time, error) {
	when = strings.TrimSpace(when)

	// Try parsing as duration first (e.g., "30m", "2h")
	if dur, err := time.ParseDuration(when); err == nil {
		return now.Add(dur), nil
	}

	// Try parsing "in X minutes/hours" format
	if lower := strings.ToLower(when); strings.HasPrefix(lower, "in ") {
		if dur, err := parseHumanDuration(strings.TrimPrefix(lower, "in ")); err == nil {
			return now.Add(dur), nil
		}
	}

	if t, err := time.Parse(time.RFC3339, when); err == nil {
		return t, nil
	}

	// Zone-less formats are read in now's location.
	for _, format := range []string{"2006-01-02 15:04", "2006-01-02T15:04", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(format, when, now.Location()); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time %q", when)
}

func parseHumanDuration(s string) (time.Duration, error) {
	parts := strings.Fields(s)
	if len(parts) < 2 {
		return 0, fmt.Errorf("expected '<number> <unit>'")
	}

	var num int
	if _, err := fmt.Sscanf(parts[0], "%d", &num); err != nil {
		return 0, err
	}

	unit := strings.ToLower(parts[1])
	switch {
	case strings.HasPrefix(unit, "second"):
		return time.Duration(num) * time.Second, nil
	case strings.HasPrefix(unit, "minute"):
		return time.Duration(num) * time.Minute, nil
	case strings.HasPrefix(unit, "hour"):
		return time.Duration(num) * time.Hour, nil
	case strings.HasPrefix(unit, "day"):
		return time.Duration(num) * 24 * time.Hour, nil
	case strings.HasPrefix(unit, "week"):
		return time.Duration(num) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown unit: %s", unit)
	}
}
