// Package qtrade provides a Go SDK for the qtrade-server API.
package qtrade

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client talks to a running qtrade-server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the given base URL, e.g.
// "http://localhost:8000".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Health reports server mode and gateway connectivity.
type Health struct {
	Status    string `json:"status"`
	Mode      string `json:"mode"`
	Gateway   string `json:"gateway"`
	Connected bool   `json:"connected"`
}

// SignalsResponse is the strategy signal listing.
type SignalsResponse struct {
	Signals []StrategySignal `json:"signals"`
	LastRun string           `json:"last_run"`
	Count   int              `json:"count"`
}

// CancelResponse reports the outcome of a cancel request.
type CancelResponse struct {
	Success bool   `json:"success"`
	OrderID string `json:"order_id"`
}

type cancelRequest struct {
	OrderID string `json:"order_id"`
}

// Health checks server liveness.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.get(ctx, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Account returns the account summary.
func (c *Client) Account(ctx context.Context) (*AccountSummary, error) {
	var out AccountSummary
	if err := c.get(ctx, "/api/account", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Positions returns current holdings.
func (c *Client) Positions(ctx context.Context) ([]Position, error) {
	var out []Position
	if err := c.get(ctx, "/api/trade/positions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Orders returns orders, optionally filtered by status ("" for all).
func (c *Client) Orders(ctx context.Context, status string) ([]Order, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	var out []Order
	if err := c.get(ctx, "/api/trade/orders", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Execute submits a trade request through the full pipeline.
func (c *Client) Execute(ctx context.Context, req *TradeRequest) (*TradeResponse, error) {
	var out TradeResponse
	if err := c.do(ctx, http.MethodPost, "/api/trade/execute", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cancel requests cancellation of an open order.
func (c *Client) Cancel(ctx context.Context, orderID string) (*CancelResponse, error) {
	var out CancelResponse
	err := c.do(ctx, http.MethodPost, "/api/trade/cancel", nil,
		cancelRequest{OrderID: orderID}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Quote returns the latest price for a stock code.
func (c *Client) Quote(ctx context.Context, code string) (float64, error) {
	var out struct {
		Code  string  `json:"code"`
		Price float64 `json:"price"`
		Error string  `json:"error"`
	}
	if err := c.get(ctx, "/api/quote/"+url.PathEscape(code), nil, &out); err != nil {
		return 0, err
	}
	if out.Error != "" {
		return 0, fmt.Errorf("quote %s: %s", code, out.Error)
	}
	return out.Price, nil
}

// Signals returns the cached strategy signals.
func (c *Client) Signals(ctx context.Context) (*SignalsResponse, error) {
	var out SignalsResponse
	if err := c.get(ctx, "/api/strategy/signals", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RunStrategies triggers a synchronous strategy run.
func (c *Client) RunStrategies(ctx context.Context) (*SignalsResponse, error) {
	var out SignalsResponse
	if err := c.do(ctx, http.MethodPost, "/api/strategy/run", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HistoryQuery filters a history page request. Zero values are omitted.
type HistoryQuery struct {
	DataType  string
	StockCode string
	Search    string
	Impact    string
	StartDate string
	EndDate   string
	Page      int
	PageSize  int
}

// HistoryPage is one page of persisted snapshots.
type HistoryPage struct {
	Items      []json.RawMessage `json:"items"`
	Total      int               `json:"total"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	TotalPages int               `json:"total_pages"`
}

// History queries persisted snapshots.
func (c *Client) History(ctx context.Context, q HistoryQuery) (*HistoryPage, error) {
	v := url.Values{}
	set := func(k, s string) {
		if s != "" {
			v.Set(k, s)
		}
	}
	set("data_type", q.DataType)
	set("stock_code", q.StockCode)
	set("search", q.Search)
	set("impact", q.Impact)
	set("start_date", q.StartDate)
	set("end_date", q.EndDate)
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		v.Set("page_size", strconv.Itoa(q.PageSize))
	}
	var out HistoryPage
	if err := c.get(ctx, "/api/history", v, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := resp.Status
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
