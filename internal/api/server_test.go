package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"qtrade/internal/broker"
	"qtrade/internal/config"
	"qtrade/internal/domain"
	"qtrade/internal/engine"
	"qtrade/internal/ledger"
	"qtrade/internal/risk"
	"qtrade/internal/store"
	"qtrade/internal/strategy"
)

type fakeQuotes struct {
	prices map[string]float64
}

func (f *fakeQuotes) LatestPrice(_ context.Context, code string) (float64, error) {
	if p, ok := f.prices[code]; ok {
		return p, nil
	}
	return 0, fmt.Errorf("no quote for %s", code)
}

func (f *fakeQuotes) Pool(_ context.Context, _ []string) ([]domain.Quote, error) {
	return nil, fmt.Errorf("pool unavailable")
}

func (f *fakeQuotes) Kline(_ context.Context, _ string, _ int) ([]domain.Kline, error) {
	return nil, fmt.Errorf("kline unavailable")
}

func newTestServer(t *testing.T) (*httptest.Server, *store.SQLiteStore) {
	t.Helper()
	cfg := config.Default()
	cfg.Trading.MockMode = true
	cfg.Risk.SkipTradingHoursCheck = true

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	sim := broker.NewSimTrader(ledger.New(), nil)
	sim.FillDelayMin = 0
	sim.FillDelayMax = time.Millisecond
	if err := sim.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	quotes := &fakeQuotes{prices: map[string]float64{"600036": 35.00}}
	eng := engine.New(sim, risk.NewManager(cfg.Risk), quotes, nil, cfg)
	srv := NewServer(eng, strategy.NewEngine(quotes), quotes, st, nil, true)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, st
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}
	return resp
}

func postJSON(t *testing.T, url string, body, out any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}
	return resp
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)

	var body map[string]any
	resp := getJSON(t, ts.URL+"/health", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if body["status"] != "ok" || body["mode"] != "mock" || body["connected"] != true {
		t.Fatalf("health body %v", body)
	}
}

func TestExecuteAndListOrders(t *testing.T) {
	ts, _ := newTestServer(t)

	var tr domain.TradeResponse
	resp := postJSON(t, ts.URL+"/api/trade/execute", domain.TradeRequest{
		StockCode: "600036",
		StockName: "招商银行",
		Direction: domain.DirectionBuy,
		Price:     35,
		Volume:    100,
	}, &tr)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if !tr.Success || tr.OrderID == "" {
		t.Fatalf("trade response %+v", tr)
	}
	if tr.RiskCheck == nil || !tr.RiskCheck.Passed {
		t.Fatalf("risk check missing from response: %+v", tr.RiskCheck)
	}

	var orders []domain.Order
	getJSON(t, ts.URL+"/api/trade/orders", &orders)
	if len(orders) != 1 || orders[0].OrderID != tr.OrderID {
		t.Fatalf("orders %+v", orders)
	}
}

func TestExecuteValidationError(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/trade/execute", domain.TradeRequest{
		StockCode: "abc",
		Direction: domain.DirectionBuy,
		Price:     10,
		Volume:    100,
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", resp.StatusCode)
	}
}

func TestExecuteRiskRejectionReturnsOK(t *testing.T) {
	ts, _ := newTestServer(t)

	// Odd-lot volume trips the lot rule. Rejection is a decision, not an
	// HTTP error.
	var tr domain.TradeResponse
	resp := postJSON(t, ts.URL+"/api/trade/execute", domain.TradeRequest{
		StockCode: "600036",
		StockName: "招商银行",
		Direction: domain.DirectionBuy,
		Price:     35,
		Volume:    150,
	}, &tr)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if tr.Success || tr.RiskCheck == nil || tr.RiskCheck.Passed {
		t.Fatalf("trade response %+v", tr)
	}
}

func TestCancelUnknownOrder(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/trade/cancel", domain.CancelRequest{OrderID: "SIM-DEADBEEF"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", resp.StatusCode)
	}
}

func TestPositionsAndAccount(t *testing.T) {
	ts, _ := newTestServer(t)

	var positions []domain.Position
	getJSON(t, ts.URL+"/api/trade/positions", &positions)
	if len(positions) != 2 {
		t.Fatalf("positions %d, want 2 seeded", len(positions))
	}

	var acct domain.AccountSummary
	getJSON(t, ts.URL+"/api/account", &acct)
	if acct.Positions != 2 || acct.Cash <= 0 {
		t.Fatalf("account %+v", acct)
	}
}

func TestQuoteEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	var body map[string]any
	getJSON(t, ts.URL+"/api/quote/600036", &body)
	if body["price"] != 35.0 {
		t.Fatalf("quote body %v", body)
	}

	body = nil
	resp := getJSON(t, ts.URL+"/api/quote/999999", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if body["price"] != 0.0 || body["error"] == nil {
		t.Fatalf("quote error body %v", body)
	}
}

func TestSignalsEmptyCache(t *testing.T) {
	ts, _ := newTestServer(t)

	var body struct {
		Signals []domain.StrategySignal `json:"signals"`
		LastRun any                     `json:"last_run"`
		Count   int                     `json:"count"`
	}
	getJSON(t, ts.URL+"/api/strategy/signals", &body)
	if body.Count != 0 || body.Signals == nil || body.LastRun != nil {
		t.Fatalf("signals body %+v", body)
	}
}

func TestRunStrategiesUpstreamFailure(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/strategy/run", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status %d, want 502", resp.StatusCode)
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	ts, st := newTestServer(t)
	ctx := context.Background()

	snaps := []store.Snapshot{
		{DataType: "news", DataID: "news_1", SnapshotTime: "2026-03-10 10:00:00", StockName: "贵州茅台", Summary: "分红公告", Impact: "positive", DataJSON: `{"id":1}`},
		{DataType: "quote", DataID: "quote_600036", SnapshotTime: "2026-03-10 10:01:00", StockCode: "600036", DataJSON: `{"code":"600036"}`},
	}
	if err := st.AppendSnapshots(ctx, snaps); err != nil {
		t.Fatal(err)
	}

	var page store.HistoryPage
	getJSON(t, ts.URL+"/api/history?data_type=news", &page)
	if page.Total != 1 || page.Items[0].Summary != "分红公告" {
		t.Fatalf("history page %+v", page)
	}

	var stats store.HistoryStats
	getJSON(t, ts.URL+"/api/history/stats", &stats)
	if stats.TotalRecords != 2 {
		t.Fatalf("stats %+v", stats)
	}
}

func TestPersistConfigRoundTrip(t *testing.T) {
	ts, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/history/persist-config",
		bytes.NewReader([]byte(`{"quote": false}`)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}

	var cfg map[string]bool
	getJSON(t, ts.URL+"/api/history/persist-config", &cfg)
	if cfg["quote"] {
		t.Fatal("quote toggle still enabled")
	}
}

func TestDeleteHistoryRequiresFilter(t *testing.T) {
	ts, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/history", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", resp.StatusCode)
	}
}

func TestDeleteHistoryRecord(t *testing.T) {
	ts, st := newTestServer(t)
	ctx := context.Background()

	if err := st.AppendSnapshots(ctx, []store.Snapshot{
		{DataType: "news", SnapshotTime: "2026-03-10 10:00:00", DataJSON: `{}`},
	}); err != nil {
		t.Fatal(err)
	}
	var page store.HistoryPage
	getJSON(t, ts.URL+"/api/history", &page)
	if len(page.Items) != 1 {
		t.Fatalf("items %d", len(page.Items))
	}

	req, _ := http.NewRequest(http.MethodDelete,
		fmt.Sprintf("%s/api/history/%d", ts.URL, page.Items[0].ID), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/api/history/%d", ts.URL, page.Items[0].ID), nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d, want 404 on second delete", resp.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	ts, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/account", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status %d, want 204", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS header")
	}
}
