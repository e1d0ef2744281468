package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"searchstats/internal/domain/dailystat"
	"searchstats/internal/domain/searchquery"
	"searchstats/internal/pkg/apptime"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// SearchQueryFinder lists search queries.
type SearchQueryFinder interface {
	Find(ctx context.Context, query searchquery.ListQuery) ([]*searchquery.SearchQuery, error)
}

// StatReader reads daily stats and totals within a date range.
type StatReader interface {
	Stats(ctx context.Context, ids []searchquery.ID, from, to time.Time) ([]dailystat.DailyStat, error)
	Totals(ctx context.Context, from, to time.Time) ([]dailystat.DailyTotal, error)
	Range(from, to time.Time) (time.Time, time.Time, error)
}

// SearchQueryHandler serves the search query statistics endpoints.
type SearchQueryHandler struct {
	queries SearchQueryFinder
	stats   StatReader
}

// NewSearchQueryHandler builds a SearchQueryHandler.
func NewSearchQueryHandler(queries SearchQueryFinder, stats StatReader) *SearchQueryHandler {
	return &SearchQueryHandler{queries: queries, stats: stats}
}

// RegisterRoutes adds search query routes.
func (h *SearchQueryHandler) RegisterRoutes(r chiRouter) {
	r.Get("/search-queries", h.handleList)
	r.Get("/search-queries/total-requests-per-day", h.handleTotals)
}

func (h *SearchQueryHandler) handleList(w http.ResponseWriter, r *http.Request) {
	if h.queries == nil || h.stats == nil {
		writeError(w, http.StatusInternalServerError, errServiceUnavailable)
		return
	}
	from, to, err := h.readRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	query, err := readListQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	found, err := h.queries.Find(r.Context(), query)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	ids := make([]searchquery.ID, 0, len(found))
	for _, q := range found {
		ids = append(ids, q.ID)
	}
	stats, err := h.stats.Stats(r.Context(), ids, from, to)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	byQuery := make(map[searchquery.ID][]statisticResponse, len(found))
	for _, s := range stats {
		byQuery[s.SearchQueryID] = append(byQuery[s.SearchQueryID], statisticResponse{
			Date:            apptime.FormatDate(s.Day),
			RequestsPerWeek: s.RequestsPerWeek,
		})
	}
	resp := searchQueryListResponse{Result: make([]searchQueryResponse, 0, len(found))}
	for _, q := range found {
		statistics := byQuery[q.ID]
		if statistics == nil {
			statistics = []statisticResponse{}
		}
		resp.Result = append(resp.Result, searchQueryResponse{ID: q.ID, Text: q.Value, Statistics: statistics})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *SearchQueryHandler) handleTotals(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		writeError(w, http.StatusInternalServerError, errServiceUnavailable)
		return
	}
	from, to, err := h.readRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	totals, err := h.stats.Totals(r.Context(), from, to)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	resp := totalListResponse{Result: make([]totalResponse, 0, len(totals))}
	for _, t := range totals {
		resp.Result = append(resp.Result, totalResponse{Date: apptime.FormatDate(t.Day), Value: t.TotalRequestsPerWeek})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *SearchQueryHandler) readRange(r *http.Request) (time.Time, time.Time, error) {
	from, err := apptime.ParseOptionalDate(r.URL.Query().Get("from_date"))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("from_date: %w", err)
	}
	to, err := apptime.ParseOptionalDate(r.URL.Query().Get("to_date"))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("to_date: %w", err)
	}
	return h.stats.Range(from, to)
}

func readListQuery(r *http.Request) (searchquery.ListQuery, error) {
	values := r.URL.Query()
	query := searchquery.ListQuery{Search: strings.TrimSpace(values.Get("search"))}

	for _, raw := range values["search_query_id"] {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return searchquery.ListQuery{}, fmt.Errorf("search_query_id must be a positive integer")
		}
		query.IDs = append(query.IDs, id)
	}

	sortBy, sortDay, err := searchquery.ParseSort(values.Get("sort_by"))
	if err != nil {
		return searchquery.ListQuery{}, err
	}
	query.SortBy, query.SortDay = sortBy, sortDay
	if query.SortDir, err = searchquery.ParseSortDir(values.Get("sort_dir")); err != nil {
		return searchquery.ListQuery{}, err
	}
	if query.Limit, err = readQueryInt(r, "limit", 1, maxListLimit, defaultListLimit); err != nil {
		return searchquery.ListQuery{}, err
	}
	if query.Offset, err = readQueryInt(r, "offset", 0, 0, 0); err != nil {
		return searchquery.ListQuery{}, err
	}
	return query, nil
}

func statusFor(err error) int {
	if errors.Is(err, dailystat.ErrInvalidStat) || errors.Is(err, searchquery.ErrInvalidSearchQuery) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

type searchQueryListResponse struct {
	Result []searchQueryResponse `json:"result"`
}

type searchQueryResponse struct {
	ID         searchquery.ID      `json:"id"`
	Text       string              `json:"text"`
	Statistics []statisticResponse `json:"statistics"`
}

type statisticResponse struct {
	Date            string `json:"date"`
	RequestsPerWeek int64  `json:"requests_per_week"`
}

type totalListResponse struct {
	Result []totalResponse `json:"result"`
}

type totalResponse struct {
	Date  string `json:"date"`
	Value int64  `json:"value"`
}
