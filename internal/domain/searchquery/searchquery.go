package searchquery

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSearchQuery signals invalid search query parameters.
var ErrInvalidSearchQuery = errors.New("invalid search query")

// ID represents search query identifier. Zero means not yet persisted.
type ID = int64

// SearchQuery is a distinct search phrase observed in reports.
type SearchQuery struct {
	ID    ID     `json:"id"`
	Value string `json:"value"`
}

// NormalizeValue trims surrounding whitespace from a phrase.
func NormalizeValue(value string) string {
	return strings.TrimSpace(value)
}

// New creates an unpersisted SearchQuery.
func New(value string) (*SearchQuery, error) {
	norm := NormalizeValue(value)
	if norm == "" {
		return nil, fmt.Errorf("%w: value is required", ErrInvalidSearchQuery)
	}
	return &SearchQuery{Value: norm}, nil
}

// Persisted reports whether the store has assigned an id.
func (q *SearchQuery) Persisted() bool {
	return q != nil && q.ID != 0
}

// UniqueValues returns the distinct non-empty values in first-seen order.
func UniqueValues(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	result := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = NormalizeValue(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
