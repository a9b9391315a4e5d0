// Package upstream fetches per-trader copy-trading snapshots from the
// upstream exchange and filters them into the active-position shape the
// derivation layer consumes (spec.md §4.1).
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

const defaultBaseURL = "https://www.binance.com/bapi/futures/v1"

// Client fetches the six per-trader upstream endpoints.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	requestTimeout time.Duration
	defaultRange   string
}

// Config configures the upstream client.
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	DefaultRange   string
}

// NewClient builds an upstream client against cfg, defaulting BaseURL and
// DefaultRange when unset.
func NewClient(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	defaultRange := cfg.DefaultRange
	if defaultRange == "" {
		defaultRange = "30D"
	}

	return &Client{
		baseURL:        baseURL,
		httpClient:     &http.Client{Timeout: timeout},
		requestTimeout: timeout,
		defaultRange:   defaultRange,
	}
}

// Fetch produces one Payload for portfolioID, running all six upstream calls
// in parallel. A failing sub-call degrades its own field to nil/zero-value;
// it never aborts the record (spec.md §4.1).
func (c *Client) Fetch(ctx context.Context, portfolioID string, opts FetchOptions) *Payload {
	timeRange := opts.TimeRange
	if timeRange == "" {
		timeRange = c.defaultRange
	}
	startTime := opts.StartTime
	endTime := opts.EndTime
	if endTime.IsZero() {
		endTime = time.Now().UTC()
	}
	if startTime.IsZero() {
		startTime = endTime.Add(-30 * 24 * time.Hour)
	}

	payload := &Payload{
		FetchedAt: time.Now().UTC(),
		TimeRange: timeRange,
		StartTime: startTime,
		EndTime:   endTime,
	}

	var wg sync.WaitGroup
	wg.Add(6)

	go func() {
		defer wg.Done()
		data, err := c.getJSON(ctx, "/friendly/future/spot-copy-trade/common/spot-futures-last-lead", url.Values{
			"portfolioId": {portfolioID},
		})
		if err == nil {
			payload.LeadCommon, _ = data.(map[string]interface{})
		}
	}()

	go func() {
		defer wg.Done()
		data, err := c.getJSON(ctx, "/friendly/future/copy-trade/lead-portfolio/detail", url.Values{
			"portfolioId": {portfolioID},
		})
		if err == nil {
			payload.PortfolioDetail, _ = data.(map[string]interface{})
		}
	}()

	go func() {
		defer wg.Done()
		data, err := c.getJSON(ctx, "/friendly/future/copy-trade/lead-data/positions", url.Values{
			"portfolioId": {portfolioID},
		})
		if err == nil {
			payload.ActivePositions = asSlice(data)
		}
	}()

	go func() {
		defer wg.Done()
		data, err := c.getJSON(ctx, "/public/future/copy-trade/lead-portfolio/chart-data", url.Values{
			"dataType":    {"ROI"},
			"portfolioId": {portfolioID},
			"timeRange":   {timeRange},
		})
		if err == nil {
			payload.ROISeries = asSlice(data)
		}
	}()

	go func() {
		defer wg.Done()
		data, err := c.getJSON(ctx, "/public/future/copy-trade/lead-portfolio/performance/coin", url.Values{
			"portfolioId": {portfolioID},
			"timeRange":   {timeRange},
		})
		if err == nil {
			payload.AssetPreferences = asSlice(data)
		}
	}()

	go func() {
		defer wg.Done()
		body := map[string]interface{}{
			"portfolioId": portfolioID,
			"startTime":   startTime.UnixMilli(),
			"endTime":     endTime.UnixMilli(),
			"pageSize":    100,
		}
		data, err := c.postJSON(ctx, "/friendly/future/copy-trade/lead-portfolio/order-history", body)
		if err != nil {
			return
		}
		m, ok := data.(map[string]interface{})
		if !ok {
			return
		}
		orders := asSlice(m["list"])
		if orders == nil {
			orders = asSlice(m["allOrders"])
		}
		payload.OrderHistory = OrderHistory{
			Total:     int(SafeNumberOrZero(m["total"])),
			AllOrders: orders,
		}
	}()

	wg.Wait()

	payload.PositionAudit = filterActivePositions(&payload.ActivePositions)
	return payload
}

// FetchPositionHistory calls the seventh upstream endpoint, used by the
// position-state reconstructor (C8) as a fallback source, not part of the
// six-call Payload contract.
func (c *Client) FetchPositionHistory(ctx context.Context, portfolioID string, pageNumber, pageSize int) ([]interface{}, error) {
	body := map[string]interface{}{
		"portfolioId": portfolioID,
		"pageNumber":  pageNumber,
		"pageSize":    pageSize,
	}
	data, err := c.postJSON(ctx, "/public/future/copy-trade/lead-portfolio/position-history", body)
	if err != nil {
		return nil, err
	}
	return asSlice(data), nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values) (interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s%s", c.baseURL, path)
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("upstream request build failed for %s: %w", path, err)
	}

	return c.do(req, path)
}

func (c *Client) postJSON(ctx context.Context, path string, body map[string]interface{}) (interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("upstream request body encode failed for %s: %w", path, err)
	}

	endpoint := fmt.Sprintf("%s%s", c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("upstream request build failed for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, path)
}

func (c *Client) do(req *http.Request, path string) (interface{}, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream call failed for %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("upstream response read failed for %s: %w", path, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned status %d for %s", resp.StatusCode, path)
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("upstream response decode failed for %s: %w", path, err)
	}
	if !env.Success {
		msg := env.Message
		if msg == "" {
			msg = "success=false"
		}
		return nil, fmt.Errorf("upstream call unsuccessful for %s: %s", path, msg)
	}

	return env.Data, nil
}

func asSlice(v interface{}) []interface{} {
	if v == nil {
		return nil
	}
	s, ok := v.([]interface{})
	if !ok {
		return nil
	}
	return s
}
