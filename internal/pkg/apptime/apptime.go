package apptime

import (
	"fmt"
	"strings"
	"time"

	"searchstats/internal/pkg/timeutil"
)

// Today returns the current calendar date in the application timezone as
// midnight UTC, the representation used for report days.
func Today() time.Time {
	return timeutil.DateInLocation(timeutil.Now())
}

// ParseDate parses a "YYYY-MM-DD" date string as midnight UTC.
func ParseDate(date string) (time.Time, error) {
	t, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(date), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date: %s", date)
	}
	return t, nil
}

// ParseOptionalDate is ParseDate that maps an empty string to the zero time.
func ParseOptionalDate(date string) (time.Time, error) {
	if strings.TrimSpace(date) == "" {
		return time.Time{}, nil
	}
	return ParseDate(date)
}

// FormatDate renders t as "YYYY-MM-DD".
func FormatDate(t time.Time) string {
	return t.Format(time.DateOnly)
}
