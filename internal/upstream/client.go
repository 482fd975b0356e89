// Package upstream fetches item metadata, prices and historical series from
// the price provider's HTTP JSON API.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"marketlens/internal/config"
	"marketlens/internal/domain"
	"marketlens/internal/util"
)

// Item is one entry of the mapping endpoint.
type Item struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Examine  string `json:"examine"`
	Members  bool   `json:"members"`
	LowAlch  *int64 `json:"lowalch"`
	HighAlch *int64 `json:"highalch"`
	Limit    *int64 `json:"limit"`
	Value    int64  `json:"value"`
	Icon     string `json:"icon"`
}

// Latest is the most recent instant-buy (high) and instant-sell (low) trade.
type Latest struct {
	High     *int64 `json:"high"`
	HighTime *int64 `json:"highTime"`
	Low      *int64 `json:"low"`
	LowTime  *int64 `json:"lowTime"`
}

// Average is one aggregate bucket for a single item.
type Average struct {
	AvgHighPrice    *int64 `json:"avgHighPrice"`
	HighPriceVolume int64  `json:"highPriceVolume"`
	AvgLowPrice     *int64 `json:"avgLowPrice"`
	LowPriceVolume  int64  `json:"lowPriceVolume"`
}

// Client talks to the price API. All requests are rate limited and retried
// on transient failures.
type Client struct {
	baseURL     string
	userAgent   string
	http        *http.Client
	limiter     *util.RateLimiter
	maxAttempts int
	retryDelay  time.Duration
	log         *slog.Logger
}

// New creates a Client from upstream configuration.
func New(cfg config.Upstream, log *slog.Logger) *Client {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:   cfg.UserAgent,
		http:        &http.Client{Timeout: cfg.Timeout},
		limiter:     util.NewBurstRateLimiter(cfg.RateLimitPerMin, 5),
		maxAttempts: attempts,
		retryDelay:  500 * time.Millisecond,
		log:         log,
	}
}

// --- Endpoints ---

// Mapping returns static metadata for every tradeable item.
func (c *Client) Mapping(ctx context.Context) ([]Item, error) {
	var items []Item
	if err := c.getJSON(ctx, "/mapping", nil, &items); err != nil {
		return nil, fmt.Errorf("fetching mapping: %w", err)
	}
	return items, nil
}

// Latest returns the latest trade prices keyed by item id.
func (c *Client) Latest(ctx context.Context) (map[int]Latest, error) {
	var resp struct {
		Data map[string]Latest `json:"data"`
	}
	if err := c.getJSON(ctx, "/latest", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching latest: %w", err)
	}
	return byItemID(resp.Data)
}

// Averages returns the most recent aggregate bucket for every item. Only the
// 5m and 1h intervals have an aggregate endpoint.
func (c *Client) Averages(ctx context.Context, iv domain.Interval) (map[int]Average, error) {
	if iv != domain.Interval5m && iv != domain.Interval1h {
		return nil, fmt.Errorf("averages for %q: %w", iv, domain.ErrInvalidInterval)
	}
	var resp struct {
		Data map[string]Average `json:"data"`
	}
	if err := c.getJSON(ctx, "/"+string(iv), nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching %s averages: %w", iv, err)
	}
	return byItemID(resp.Data)
}

// Volumes returns the trailing 24 hour trade volume keyed by item id.
func (c *Client) Volumes(ctx context.Context) (map[int]int64, error) {
	var resp struct {
		Data map[string]int64 `json:"data"`
	}
	if err := c.getJSON(ctx, "/volumes", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching volumes: %w", err)
	}
	return byItemID(resp.Data)
}

// Timeseries returns the historical buckets of one item, oldest first.
func (c *Client) Timeseries(ctx context.Context, id int, iv domain.Interval) ([]domain.SeriesPoint, error) {
	if !iv.Valid() {
		return nil, fmt.Errorf("timeseries for %q: %w", iv, domain.ErrInvalidInterval)
	}
	q := url.Values{}
	q.Set("id", strconv.Itoa(id))
	q.Set("timestep", string(iv))

	var resp struct {
		Data []domain.SeriesPoint `json:"data"`
	}
	if err := c.getJSON(ctx, "/timeseries", q, &resp); err != nil {
		return nil, fmt.Errorf("fetching timeseries %d/%s: %w", id, iv, err)
	}
	if resp.Data == nil {
		resp.Data = []domain.SeriesPoint{}
	}
	return resp.Data, nil
}

// Fetch implements seriescache.Fetcher.
func (c *Client) Fetch(ctx context.Context, recordID int, iv domain.Interval) ([]domain.SeriesPoint, error) {
	return c.Timeseries(ctx, recordID, iv)
}

// --- HTTP ---

// getJSON performs a GET against the API and decodes the JSON body into v.
// Client errors other than 429 are not retried.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, v any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	return util.Retry(ctx, c.maxAttempts, c.retryDelay, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return util.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		start := time.Now()
		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return util.Permanent(ctx.Err())
			}
			c.log.Warn("upstream request failed", "path", path, "error", err)
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			err := fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return util.Permanent(err)
			}
			c.log.Warn("upstream request failed", "path", path, "status", resp.StatusCode)
			return err
		}

		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return util.Permanent(fmt.Errorf("decoding %s: %w", path, err))
		}
		c.log.Debug("upstream request", "path", path, "elapsed", time.Since(start))
		return nil
	})
}

// byItemID converts the API's string-keyed maps to int keys.
func byItemID[T any](m map[string]T) (map[int]T, error) {
	out := make(map[int]T, len(m))
	for k, v := range m {
		id, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("invalid item id %q: %w", k, err)
		}
		out[id] = v
	}
	return out, nil
}
