package searchquery

import (
	"fmt"
	"strings"
	"time"
)

// SortField selects the ordering of search query listings.
type SortField string

const (
	SortByValue SortField = "value"
	SortByDay   SortField = "day"
)

// SortDir is the ordering direction.
type SortDir string

const (
	SortAsc  SortDir = "asc"
	SortDesc SortDir = "desc"
)

// ListQuery filters and orders search queries.
type ListQuery struct {
	IDs     []ID
	Search  string
	SortBy  SortField
	SortDay time.Time
	SortDir SortDir
	Limit   int
	Offset  int
}

// ParseSort parses "value" or "day/YYYY-MM-DD".
func ParseSort(raw string) (SortField, time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == string(SortByValue) {
		return SortByValue, time.Time{}, nil
	}
	field, day, ok := strings.Cut(raw, "/")
	if !ok || field != string(SortByDay) {
		return "", time.Time{}, fmt.Errorf("sort_by must be value or day/YYYY-MM-DD")
	}
	t, err := time.Parse(time.DateOnly, day)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sort_by day is invalid: %s", day)
	}
	return SortByDay, t, nil
}

// ParseSortDir parses asc or desc, defaulting to desc.
func ParseSortDir(raw string) (SortDir, error) {
	switch SortDir(strings.ToLower(strings.TrimSpace(raw))) {
	case "", SortDesc:
		return SortDesc, nil
	case SortAsc:
		return SortAsc, nil
	default:
		return "", fmt.Errorf("sort_dir must be asc or desc")
	}
}
