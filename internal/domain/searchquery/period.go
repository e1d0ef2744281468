package searchquery

import (
	"fmt"
	"strings"
)

// ReportPeriod is the window a report covers.
type ReportPeriod string

const (
	PeriodOneWeek     ReportPeriod = "one_week"
	PeriodOneMonth    ReportPeriod = "one_month"
	PeriodThreeMonths ReportPeriod = "three_months"
)

// Periods lists every supported report period.
var Periods = []ReportPeriod{PeriodOneWeek, PeriodOneMonth, PeriodThreeMonths}

// ParsePeriod converts user input into a ReportPeriod.
func ParsePeriod(raw string) (ReportPeriod, error) {
	switch ReportPeriod(strings.ToLower(strings.TrimSpace(raw))) {
	case PeriodOneWeek, "week", "":
		return PeriodOneWeek, nil
	case PeriodOneMonth, "month":
		return PeriodOneMonth, nil
	case PeriodThreeMonths:
		return PeriodThreeMonths, nil
	default:
		return "", fmt.Errorf("%w: unknown report period %q", ErrInvalidSearchQuery, raw)
	}
}

// Valid reports whether p is a known period.
func (p ReportPeriod) Valid() bool {
	for _, known := range Periods {
		if p == known {
			return true
		}
	}
	return false
}

// WireValue returns the period parameter understood by the analytics portal.
func (p ReportPeriod) WireValue() string {
	switch p {
	case PeriodOneMonth:
		return "month"
	case PeriodThreeMonths:
		return "three_months"
	default:
		return "week"
	}
}

// HasWeeklyMetric reports whether rows of this period carry requests_per_week.
// Longer periods only register queries for the day.
func (p ReportPeriod) HasWeeklyMetric() bool {
	return p == PeriodOneWeek
}
