// Package domain defines the core types shared across the trading system:
// trade requests, orders, positions, risk check results, and the events
// broadcast on fills.
package domain

import (
	"fmt"
	"regexp"
	"time"
)

// ---------------------------------------------------------------------------
// Enums
// ---------------------------------------------------------------------------

// Direction is the side of a trade.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending       OrderStatus = "pending"
	OrderStatusSubmitted     OrderStatus = "submitted"
	OrderStatusPartialFilled OrderStatus = "partial_filled"
	OrderStatusFilled        OrderStatus = "filled"
	OrderStatusCancelled     OrderStatus = "cancelled"
	OrderStatusRejected      OrderStatus = "rejected"
)

// Terminal reports whether the status is final. A terminal order is never
// re-opened.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// Fillable reports whether a fill may still be applied to an order in this
// status.
func (s OrderStatus) Fillable() bool {
	return s == OrderStatusSubmitted || s == OrderStatusPartialFilled
}

// PriceType selects limit versus market pricing at the venue.
type PriceType string

const (
	PriceTypeLimit  PriceType = "limit"
	PriceTypeMarket PriceType = "market"
)

// StrategyType tags a request with the strategy that produced its signal.
type StrategyType string

const (
	StrategyTrendFollow    StrategyType = "trend_follow"
	StrategyTPlusZero      StrategyType = "t_plus_0"
	StrategyDividendLowVol StrategyType = "dividend_low_vol"
	StrategyMeanReversion  StrategyType = "mean_reversion"
	StrategyMultiFactor    StrategyType = "multi_factor"
	StrategyIndexEnhance   StrategyType = "index_enhance"
)

// ---------------------------------------------------------------------------
// Requests and responses
// ---------------------------------------------------------------------------

var stockCodeRe = regexp.MustCompile(`^\d{6}$`)

// TradeRequest is an inbound order request. Price 0 means "fetch the latest
// market price"; volume 0 means "size from capital and confidence". Both are
// resolved exactly once at the start of order processing.
type TradeRequest struct {
	SignalID   string       `json:"signal_id"`
	StockCode  string       `json:"stock_code"`
	StockName  string       `json:"stock_name"`
	Direction  Direction    `json:"direction"`
	Price      float64      `json:"price"`
	Volume     int64        `json:"volume"`
	Strategy   StrategyType `json:"strategy"`
	PriceType  PriceType    `json:"price_type"`
	Confidence float64      `json:"confidence"`
}

// Validate rejects malformed requests before any risk or ledger logic runs.
func (r *TradeRequest) Validate() error {
	if !stockCodeRe.MatchString(r.StockCode) {
		return fmt.Errorf("stock_code %q: must be exactly 6 digits", r.StockCode)
	}
	if r.Direction != DirectionBuy && r.Direction != DirectionSell {
		return fmt.Errorf("direction %q: must be %q or %q", r.Direction, DirectionBuy, DirectionSell)
	}
	if r.Price < 0 {
		return fmt.Errorf("price %v: must be >= 0", r.Price)
	}
	if r.Volume < 0 {
		return fmt.Errorf("volume %d: must be >= 0", r.Volume)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence %v: must be in [0, 1]", r.Confidence)
	}
	return nil
}

// Normalize fills in defaults for optional enum fields left empty by the
// client.
func (r *TradeRequest) Normalize() {
	if r.Strategy == "" {
		r.Strategy = StrategyMultiFactor
	}
	if r.PriceType == "" {
		r.PriceType = PriceTypeLimit
	}
}

// CancelRequest identifies an order to cancel.
type CancelRequest struct {
	OrderID string `json:"order_id"`
}

// TradeResponse is the outcome of a trade request. Success false with a
// populated RiskCheck is a risk rejection, a normal negative outcome rather
// than an error.
type TradeResponse struct {
	Success   bool             `json:"success"`
	OrderID   string           `json:"order_id,omitempty"`
	Message   string           `json:"message,omitempty"`
	RiskCheck *RiskCheckResult `json:"risk_check,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// ---------------------------------------------------------------------------
// Risk checks
// ---------------------------------------------------------------------------

// RiskCheck is a single named rule outcome.
type RiskCheck struct {
	Rule   string `json:"rule"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RiskCheckResult aggregates all rule outcomes for one request. Passed is
// the AND of every check; the checks always appear in rule-evaluation order.
type RiskCheckResult struct {
	Passed bool        `json:"passed"`
	Checks []RiskCheck `json:"checks"`
}

// ---------------------------------------------------------------------------
// Orders and positions
// ---------------------------------------------------------------------------

// Order is a submitted order and its fill progress. FilledVolume is
// cumulative and never decreases.
type Order struct {
	OrderID      string       `json:"order_id"`
	StockCode    string       `json:"stock_code"`
	StockName    string       `json:"stock_name"`
	Direction    Direction    `json:"direction"`
	Price        float64      `json:"price"`
	Volume       int64        `json:"volume"`
	FilledVolume int64        `json:"filled_volume"`
	FilledPrice  float64      `json:"filled_price"`
	Status       OrderStatus  `json:"status"`
	Strategy     StrategyType `json:"strategy"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Position is a holding in a single name. AvailableVolume is the portion
// sellable today under T+1 and is always <= Volume; it is derived on read,
// never stored as ground truth.
type Position struct {
	StockCode       string  `json:"stock_code"`
	StockName       string  `json:"stock_name"`
	Volume          int64   `json:"volume"`
	AvailableVolume int64   `json:"available_volume"`
	AvgCost         float64 `json:"avg_cost"`
	MarketValue     float64 `json:"market_value"`
	Profit          float64 `json:"profit"`
	ProfitRatio     float64 `json:"profit_ratio"`
}

// AccountSummary is a point-in-time read of the account.
type AccountSummary struct {
	Cash       float64 `json:"cash"`
	TotalAsset float64 `json:"total_asset"`
	Positions  int     `json:"positions"`
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// EventTradeExecuted is the type field of fill broadcast events.
const EventTradeExecuted = "trade_executed"

// TradeEvent is pushed to all subscribers on every completed fill. Delivery
// is best-effort with no acknowledgment.
type TradeEvent struct {
	Type         string       `json:"type"`
	OrderID      string       `json:"order_id"`
	StockCode    string       `json:"stock_code"`
	StockName    string       `json:"stock_name,omitempty"`
	Direction    Direction    `json:"direction"`
	FilledVolume int64        `json:"filled_volume"`
	FilledPrice  float64      `json:"filled_price"`
	Status       OrderStatus  `json:"status"`
	Strategy     StrategyType `json:"strategy"`
	Timestamp    time.Time    `json:"timestamp"`
}

// FillEvent builds the broadcast event for an order's current fill state.
func FillEvent(o *Order) TradeEvent {
	return TradeEvent{
		Type:         EventTradeExecuted,
		OrderID:      o.OrderID,
		StockCode:    o.StockCode,
		StockName:    o.StockName,
		Direction:    o.Direction,
		FilledVolume: o.FilledVolume,
		FilledPrice:  o.FilledPrice,
		Status:       o.Status,
		Strategy:     o.Strategy,
		Timestamp:    o.UpdatedAt,
	}
}

// ---------------------------------------------------------------------------
// Quotes and signals
// ---------------------------------------------------------------------------

// Quote is a normalized snapshot of one stock from a quote source.
type Quote struct {
	Code          string  `json:"code"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	ChangePercent float64 `json:"changePercent"`
	Volume        int64   `json:"volume"`
	Amount        float64 `json:"amount"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Open          float64 `json:"open"`
	PrevClose     float64 `json:"prevClose"`
	TurnoverRate  float64 `json:"turnoverRate"`
	PE            float64 `json:"pe"`
}

// Kline is one daily bar used for volatility scoring.
type Kline struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	Close  float64 `json:"close"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Volume int64   `json:"volume"`
}

// StrategySignal is an advisory buy/sell/hold signal produced by a strategy.
// Signals are input to order sizing only; they carry no execution authority.
type StrategySignal struct {
	ID             string   `json:"id"`
	StockCode      string   `json:"stockCode"`
	StockName      string   `json:"stockName"`
	Strategy       string   `json:"strategy"`
	Signal         string   `json:"signal"` // buy / sell / hold
	Confidence     float64  `json:"confidence"`
	ExpectedReturn float64  `json:"expectedReturn"`
	RiskLevel      string   `json:"riskLevel"` // low / medium / high
	Factors        []string `json:"factors"`
	Time           string   `json:"time"`
}
