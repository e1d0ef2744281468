package dailystat

import (
	"errors"
	"fmt"
	"time"

	"searchstats/internal/domain/searchquery"
)

// ErrInvalidStat signals invalid daily stat parameters.
var ErrInvalidStat = errors.New("invalid daily stat")

// DailyStat is the weekly request count observed for one search query on one day.
type DailyStat struct {
	SearchQueryID   searchquery.ID
	Day             time.Time
	RequestsPerWeek int64
}

// Key identifies a DailyStat row.
type Key struct {
	SearchQueryID searchquery.ID
	Day           time.Time
}

// Key returns the natural key of the stat.
func (s DailyStat) Key() Key {
	return Key{SearchQueryID: s.SearchQueryID, Day: Day(s.Day)}
}

// Validate checks that the stat references a persisted search query.
func (s DailyStat) Validate() error {
	if s.SearchQueryID == 0 {
		return fmt.Errorf("%w: search query id is required", ErrInvalidStat)
	}
	if s.Day.IsZero() {
		return fmt.Errorf("%w: day is required", ErrInvalidStat)
	}
	if s.RequestsPerWeek < 0 {
		return fmt.Errorf("%w: requests_per_week must be >= 0", ErrInvalidStat)
	}
	return nil
}

// DailyTotal is the sum of requests_per_week over all stats of a day.
type DailyTotal struct {
	Day                  time.Time
	TotalRequestsPerWeek int64
}

// Day truncates t to a UTC calendar date.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DedupeLatest collapses stats sharing a key, keeping the last occurrence
// while preserving the position of the first one.
func DedupeLatest(stats []DailyStat) []DailyStat {
	if len(stats) < 2 {
		return stats
	}
	index := make(map[Key]int, len(stats))
	result := make([]DailyStat, 0, len(stats))
	for _, s := range stats {
		s.Day = Day(s.Day)
		k := s.Key()
		if i, ok := index[k]; ok {
			result[i] = s
			continue
		}
		index[k] = len(result)
		result = append(result, s)
	}
	return result
}

// MonthStart returns the first day of the month containing t.
func MonthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
