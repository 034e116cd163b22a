// Package api exposes the trading engine over HTTP and WebSocket.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"qtrade/internal/domain"
	"qtrade/internal/engine"
	"qtrade/internal/push"
	"qtrade/internal/quote"
	"qtrade/internal/store"
	"qtrade/internal/strategy"
)

// Server wires the engine, strategy engine, quote source, history store and
// push hub behind one HTTP handler.
type Server struct {
	engine     *engine.Engine
	strategies *strategy.Engine
	quotes     quote.Source
	store      *store.SQLiteStore
	hub        *push.Hub
	log        *slog.Logger
	mockMode   bool
}

// NewServer creates a Server over the given collaborators. store and hub
// may be nil, in which case the history and WebSocket routes 404.
func NewServer(eng *engine.Engine, strat *strategy.Engine, quotes quote.Source, st *store.SQLiteStore, hub *push.Hub, mockMode bool) *Server {
	return &Server{
		engine:     eng,
		strategies: strat,
		quotes:     quotes,
		store:      st,
		hub:        hub,
		log:        slog.Default().With("component", "api"),
		mockMode:   mockMode,
	}
}

// Handler returns an http.Handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /api/trade/execute", s.handleExecute)
	mux.HandleFunc("GET /api/trade/positions", s.handlePositions)
	mux.HandleFunc("GET /api/trade/orders", s.handleOrders)
	mux.HandleFunc("POST /api/trade/cancel", s.handleCancel)

	mux.HandleFunc("GET /api/account", s.handleAccount)
	mux.HandleFunc("GET /api/quote/{code}", s.handleQuote)

	mux.HandleFunc("GET /api/strategy/signals", s.handleSignals)
	mux.HandleFunc("POST /api/strategy/run", s.handleRunStrategies)

	if s.store != nil {
		mux.HandleFunc("GET /api/history", s.handleHistory)
		mux.HandleFunc("GET /api/history/stats", s.handleHistoryStats)
		mux.HandleFunc("GET /api/history/persist-config", s.handleGetPersistConfig)
		mux.HandleFunc("PUT /api/history/persist-config", s.handlePutPersistConfig)
		mux.HandleFunc("DELETE /api/history", s.handleDeleteHistory)
		mux.HandleFunc("DELETE /api/history/{id}", s.handleDeleteHistoryRecord)
	}
	if s.hub != nil {
		mux.HandleFunc("GET /ws/trade", s.hub.ServeWS)
	}
	return corsMiddleware(mux)
}

// ---------------------------------------------------------------------------
// Health, account, quote
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	mode := "live"
	if s.mockMode {
		mode = "mock"
	}
	writeJSON(w, map[string]any{
		"status":    "ok",
		"mode":      mode,
		"gateway":   s.engine.GatewayName(),
		"connected": s.engine.Connected(),
	})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.engine.Account())
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	price, err := s.quotes.LatestPrice(r.Context(), code)
	if err != nil {
		writeJSON(w, map[string]any{"code": code, "price": 0, "error": err.Error()})
		return
	}
	writeJSON(w, map[string]any{"code": code, "price": price})
}

// ---------------------------------------------------------------------------
// Trade
// ---------------------------------------------------------------------------

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req domain.TradeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.engine.Execute(r.Context(), &req)
	if err != nil {
		if errors.Is(err, engine.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error("trade execution failed", "code", req.StockCode, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, resp)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions := s.engine.Positions()
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, positions)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "all" {
		status = ""
	}
	orders := s.engine.Orders(domain.OrderStatus(status))
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, orders)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req domain.CancelRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.OrderID == "" {
		writeError(w, http.StatusBadRequest, "order_id required")
		return
	}
	ok, err := s.engine.Cancel(r.Context(), req.OrderID)
	if err != nil {
		s.log.Error("cancel failed", "order_id", req.OrderID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusBadRequest, "order not cancellable")
		return
	}
	writeJSON(w, map[string]any{"success": true, "order_id": req.OrderID})
}

// ---------------------------------------------------------------------------
// Strategy
// ---------------------------------------------------------------------------

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	signals := s.strategies.Cached()
	if signals == nil {
		signals = []domain.StrategySignal{}
	}
	writeJSON(w, map[string]any{
		"signals":  signals,
		"last_run": lastRun(s.strategies),
		"count":    len(signals),
	})
}

func (s *Server) handleRunStrategies(w http.ResponseWriter, r *http.Request) {
	signals, err := s.strategies.RunAll(r.Context())
	if err != nil {
		s.log.Error("strategy run failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if signals == nil {
		signals = []domain.StrategySignal{}
	}
	writeJSON(w, map[string]any{
		"signals":  signals,
		"last_run": lastRun(s.strategies),
		"count":    len(signals),
	})
}

func lastRun(e *strategy.Engine) any {
	t := e.LastRun()
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339)
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := store.HistoryQuery{
		DataType:  q.Get("data_type"),
		StockCode: q.Get("stock_code"),
		Search:    q.Get("search"),
		Impact:    q.Get("impact"),
		StartDate: q.Get("start_date"),
		EndDate:   q.Get("end_date"),
	}
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid page")
			return
		}
		query.Page = n
	}
	if v := q.Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid page_size")
			return
		}
		query.PageSize = n
	}

	page, err := s.store.QueryHistory(r.Context(), query)
	if err != nil {
		s.log.Error("history query failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, page)
}

func (s *Server) handleHistoryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.log.Error("history stats failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, stats)
}

func (s *Server) handleGetPersistConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.PersistConfig(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, cfg)
}

func (s *Server) handlePutPersistConfig(w http.ResponseWriter, r *http.Request) {
	var toggles map[string]bool
	if err := decodeBody(r, &toggles); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.SetPersistConfig(r.Context(), toggles); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	all := q.Get("delete_all") == "true"
	dataType := q.Get("data_type")
	beforeDate := q.Get("before_date")

	if !all && dataType == "" && beforeDate == "" {
		writeError(w, http.StatusBadRequest, "data_type or before_date required")
		return
	}
	n, err := s.store.DeleteHistory(r.Context(), dataType, beforeDate, all)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if all {
		writeJSON(w, map[string]any{"deleted": "all"})
		return
	}
	writeJSON(w, map[string]any{"deleted": n})
}

func (s *Server) handleDeleteHistoryRecord(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid record id")
		return
	}
	ok, err := s.store.DeleteHistoryRecord(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return errors.New("reading body")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.New("invalid JSON")
	}
	return nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writing JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
