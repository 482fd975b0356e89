// Package marketlens is a Go client for the marketlens-server HTTP API.
package marketlens

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client provides a Go SDK for interacting with the marketlens-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new marketlens API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Column describes one table column.
type Column struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Expression  string `json:"expression,omitempty"`
	ValueType   string `json:"valueType"`
	Format      string `json:"format,omitempty"`
	Enabled     bool   `json:"enabled,omitempty"`
	Group       string `json:"group,omitempty"`
	Description string `json:"description,omitempty"`
}

// FilterExpression is one clause of a filter.
type FilterExpression struct {
	Code            string `json:"code"`
	Action          string `json:"action,omitempty"`
	HighlightTarget string `json:"highlightTarget,omitempty"`
}

// Filter is a saved filter.
type Filter struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Expressions []FilterExpression `json:"expressions"`
	Enabled     bool               `json:"enabled"`
	Independent bool               `json:"independent"`
	Category    string             `json:"category"`
	Description string             `json:"description"`
}

// RecordRef identifies a record.
type RecordRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Row is one evaluated table row.
type Row struct {
	ID         int               `json:"id"`
	Name       string            `json:"name"`
	Favorite   bool              `json:"favorite"`
	FilterID   string            `json:"filterId"`
	FilterName string            `json:"filterName"`
	Action     string            `json:"action"`
	Highlight  *RecordRef        `json:"highlight"`
	Values     map[string]any    `json:"values"`
	Display    map[string]string `json:"display"`
}

// Table is one page of the evaluated table.
type Table struct {
	Columns []Column `json:"columns"`
	Rows    []Row    `json:"rows"`
	Total   int      `json:"total"`
	Offset  int      `json:"offset"`
	Limit   int      `json:"limit"`
}

// TableQuery selects and orders table rows. Zero values use server defaults.
type TableQuery struct {
	Search    string
	Favorites bool
	SortBy    string
	Ascending bool
	Offset    int
	Limit     int
}

// Point is one historical bucket.
type Point struct {
	Timestamp       int64    `json:"timestamp"`
	AvgHighPrice    *float64 `json:"avgHighPrice"`
	AvgLowPrice     *float64 `json:"avgLowPrice"`
	HighPriceVolume int64    `json:"highPriceVolume"`
	LowPriceVolume  int64    `json:"lowPriceVolume"`
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("marketlens: status %d: %s", e.Status, e.Message)
}

// Table retrieves the evaluated table.
func (c *Client) Table(ctx context.Context, q TableQuery) (*Table, error) {
	v := url.Values{}
	if q.Search != "" {
		v.Set("q", q.Search)
	}
	if q.Favorites {
		v.Set("favorites", "1")
	}
	if q.SortBy != "" {
		v.Set("sort", q.SortBy)
		if q.Ascending {
			v.Set("dir", "asc")
		}
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	var t Table
	if err := c.do(ctx, http.MethodGet, "/api/table", v, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Series retrieves the historical series of a record at an interval such as
// "5m", "1h", "6h" or "24h".
func (c *Client) Series(ctx context.Context, recordID int, interval string) ([]Point, error) {
	return c.series(ctx, http.MethodGet, fmt.Sprintf("/api/series/%d/%s", recordID, url.PathEscape(interval)))
}

// RefreshSeries forces a refetch of a record's series.
func (c *Client) RefreshSeries(ctx context.Context, recordID int, interval string) ([]Point, error) {
	return c.series(ctx, http.MethodPost, fmt.Sprintf("/api/series/%d/%s/refresh", recordID, url.PathEscape(interval)))
}

func (c *Client) series(ctx context.Context, method, path string) ([]Point, error) {
	var resp struct {
		Points []Point `json:"points"`
	}
	if err := c.do(ctx, method, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Points, nil
}

// Columns lists saved columns.
func (c *Client) Columns(ctx context.Context) ([]Column, error) {
	var cols []Column
	err := c.do(ctx, http.MethodGet, "/api/columns", nil, nil, &cols)
	return cols, err
}

// SaveColumn creates or replaces a column and returns it as stored.
func (c *Client) SaveColumn(ctx context.Context, col Column) (*Column, error) {
	var saved Column
	if err := c.do(ctx, http.MethodPut, "/api/columns", nil, col, &saved); err != nil {
		return nil, err
	}
	return &saved, nil
}

// Filters lists saved filters.
func (c *Client) Filters(ctx context.Context) ([]Filter, error) {
	var fs []Filter
	err := c.do(ctx, http.MethodGet, "/api/filters", nil, nil, &fs)
	return fs, err
}

// SetFilterEnabled enables or disables a filter.
func (c *Client) SetFilterEnabled(ctx context.Context, id string, enabled bool) error {
	return c.do(ctx, http.MethodPost, "/api/filters/"+url.PathEscape(id)+"/enabled", nil,
		map[string]bool{"enabled": enabled}, nil)
}

// ToggleFavorite flips a record's favorite flag and returns the new state.
func (c *Client) ToggleFavorite(ctx context.Context, recordID int) (bool, error) {
	var resp struct {
		Favorite bool `json:"favorite"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/favorites/%d", recordID), nil, nil, &resp)
	return resp.Favorite, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rd = strings.NewReader(string(b))
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
