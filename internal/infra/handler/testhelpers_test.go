package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"searchstats/internal/domain/dailystat"
	"searchstats/internal/domain/jobrun"
	"searchstats/internal/domain/searchquery"
)

const testAPIBasePath = "/api/v1"

func apiPath(route string) string {
	return joinAPIPath(testAPIBasePath, route)
}

// testServer wraps httptest.Server for integration testing.
type testServer struct {
	*httptest.Server
}

// newTestServer creates a test HTTP server with the given handlers mounted under testAPIBasePath.
func newTestServer(cfg RouterConfig) *testServer {
	if cfg.APIBasePath == "" {
		cfg.APIBasePath = testAPIBasePath
	}
	return &testServer{Server: httptest.NewServer(NewRouter(cfg))}
}

// get performs a GET request to the test server.
func (ts *testServer) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	return resp
}

// post performs a POST request with optional headers.
func (ts *testServer) post(t *testing.T, path string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+path, nil)
	if err != nil {
		t.Fatalf("build POST %s: %v", path, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	return resp
}

// decodeJSON decodes response body as JSON.
func decodeJSON(t *testing.T, resp *http.Response, dest interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
}

// assertStatus checks HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Errorf("status = %d, want %d", resp.StatusCode, want)
	}
}

// assertContentType checks Content-Type header.
func assertContentType(t *testing.T, resp *http.Response, want string) {
	t.Helper()
	got := resp.Header.Get("Content-Type")
	if got != want {
		t.Errorf("Content-Type = %q, want %q", got, want)
	}
}

// assertErrorResponse validates error response structure.
func assertErrorResponse(t *testing.T, resp *http.Response, expectedStatus int) map[string]string {
	t.Helper()
	assertStatus(t, resp, expectedStatus)
	assertContentType(t, resp, "application/json")

	var result map[string]string
	decodeJSON(t, resp, &result)
	if _, ok := result["error"]; !ok {
		t.Error("error response missing 'error' field")
	}
	return result
}

// mockHealthChecker is a mock implementation of health checker.
type mockHealthChecker struct {
	healthCheckFunc func(ctx context.Context) error
}

func (m *mockHealthChecker) HealthCheck(ctx context.Context) error {
	if m.healthCheckFunc != nil {
		return m.healthCheckFunc(ctx)
	}
	return nil
}

// mockQueryFinder records the last list query.
type mockQueryFinder struct {
	mu      sync.Mutex
	queries []*searchquery.SearchQuery
	err     error
	last    searchquery.ListQuery
}

func (m *mockQueryFinder) Find(ctx context.Context, query searchquery.ListQuery) ([]*searchquery.SearchQuery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = query
	return m.queries, m.err
}

func (m *mockQueryFinder) lastQuery() searchquery.ListQuery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// mockStatReader serves fixed stats and totals and records requested ranges.
type mockStatReader struct {
	mu       sync.Mutex
	stats    []dailystat.DailyStat
	totals   []dailystat.DailyTotal
	err      error
	today    time.Time
	lastIDs  []searchquery.ID
	lastFrom time.Time
	lastTo   time.Time
}

func (m *mockStatReader) Stats(ctx context.Context, ids []searchquery.ID, from, to time.Time) ([]dailystat.DailyStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastIDs, m.lastFrom, m.lastTo = ids, from, to
	return m.stats, m.err
}

func (m *mockStatReader) Totals(ctx context.Context, from, to time.Time) ([]dailystat.DailyTotal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFrom, m.lastTo = from, to
	return m.totals, m.err
}

func (m *mockStatReader) Range(from, to time.Time) (time.Time, time.Time, error) {
	if to.IsZero() {
		to = m.today
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -14)
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, dailystat.ErrInvalidStat
	}
	return from, to, nil
}

// mockRunStarter records started runs.
type mockRunStarter struct {
	mu     sync.Mutex
	err    error
	period searchquery.ReportPeriod
	day    time.Time
	calls  int
}

func (m *mockRunStarter) Start(ctx context.Context, period searchquery.ReportPeriod, day time.Time) (*jobrun.Run, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.period, m.day = period, day
	if m.err != nil {
		return nil, "", m.err
	}
	return &jobrun.Run{ID: "run-1", Period: string(period), Day: day, State: jobrun.StatePending}, "SEARCHSTATS_JOBS:7", nil
}

func testDay(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
