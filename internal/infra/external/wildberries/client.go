package wildberries

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"searchstats/internal/domain/report"
	"searchstats/internal/domain/searchquery"
)

const (
	defaultEndpoint    = "https://seller-weekly-report.wildberries.ru/ns/trending-searches/suppliers-portal-analytics/file"
	defaultOrigin      = "https://seller.wildberries.ru"
	defaultUserAgent   = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	defaultHTTPTimeout = 5 * time.Minute
	validationCookie   = "wbx-validation-key"
)

// ErrUnauthorized is returned when the portal rejects the credentials.
var ErrUnauthorized = report.ErrUnauthorized

// ClientConfig holds the portal credentials and transport knobs.
type ClientConfig struct {
	HTTPClient       *http.Client
	Endpoint         string
	AuthorizeV3      string
	WBXValidationKey string
	UserAgent        string
}

// Client downloads search query reports from the seller analytics portal.
type Client struct {
	httpClient    *http.Client
	endpoint      string
	authorizeV3   string
	validationKey string
	userAgent     string
}

var _ report.Source = (*Client)(nil)

// NewClient wires a client with sane defaults.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Client{
		httpClient:    httpClient,
		endpoint:      fallback(cfg.Endpoint, defaultEndpoint),
		authorizeV3:   cfg.AuthorizeV3,
		validationKey: cfg.WBXValidationKey,
		userAgent:     fallback(cfg.UserAgent, defaultUserAgent),
	}
}

type fileResponse struct {
	Data struct {
		File string `json:"file"`
	} `json:"data"`
}

// DownloadReport returns the uncompressed CSV report for period.
func (c *Client) DownloadReport(ctx context.Context, period searchquery.ReportPeriod) (io.ReadCloser, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse report endpoint: %w", err)
	}
	q := u.Query()
	q.Set("period", period.WireValue())
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", defaultOrigin)
	req.Header.Set("Referer", defaultOrigin+"/")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("authorizev3", c.authorizeV3)
	req.AddCookie(&http.Cookie{Name: validationCookie, Value: c.validationKey})

	resp, err := c.httpClient.Do(req) // #nosec G704
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("report request failed: status %d", resp.StatusCode)
	}

	var payload fileResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode report response: %w", err)
	}
	if payload.Data.File == "" {
		return nil, errors.New("report response has no file")
	}
	raw, err := base64.StdEncoding.DecodeString(payload.Data.File)
	if err != nil {
		return nil, fmt.Errorf("decode report file: %w", err)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func fallback(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}
