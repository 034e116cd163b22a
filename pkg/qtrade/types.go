package qtrade

import "time"

// Direction values accepted by Execute.
const (
	DirectionBuy  = "buy"
	DirectionSell = "sell"
)

// Order status values returned by the server.
const (
	OrderStatusPending       = "pending"
	OrderStatusSubmitted     = "submitted"
	OrderStatusPartialFilled = "partial_filled"
	OrderStatusFilled        = "filled"
	OrderStatusCancelled     = "cancelled"
	OrderStatusRejected      = "rejected"
)

// TradeRequest is an order request. Price 0 asks the server to fetch the
// latest market price; volume 0 asks it to size from capital and confidence.
type TradeRequest struct {
	SignalID   string  `json:"signal_id"`
	StockCode  string  `json:"stock_code"`
	StockName  string  `json:"stock_name"`
	Direction  string  `json:"direction"`
	Price      float64 `json:"price"`
	Volume     int64   `json:"volume"`
	Strategy   string  `json:"strategy"`
	PriceType  string  `json:"price_type"`
	Confidence float64 `json:"confidence"`
}

// TradeResponse is the outcome of a trade request. Success false with a
// populated RiskCheck is a risk rejection, not a transport error.
type TradeResponse struct {
	Success   bool             `json:"success"`
	OrderID   string           `json:"order_id,omitempty"`
	Message   string           `json:"message,omitempty"`
	RiskCheck *RiskCheckResult `json:"risk_check,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// RiskCheck is a single named rule outcome.
type RiskCheck struct {
	Rule   string `json:"rule"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RiskCheckResult aggregates all rule outcomes for one request.
type RiskCheckResult struct {
	Passed bool        `json:"passed"`
	Checks []RiskCheck `json:"checks"`
}

// Order is a submitted order and its fill progress.
type Order struct {
	OrderID      string    `json:"order_id"`
	StockCode    string    `json:"stock_code"`
	StockName    string    `json:"stock_name"`
	Direction    string    `json:"direction"`
	Price        float64   `json:"price"`
	Volume       int64     `json:"volume"`
	FilledVolume int64     `json:"filled_volume"`
	FilledPrice  float64   `json:"filled_price"`
	Status       string    `json:"status"`
	Strategy     string    `json:"strategy"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Position is a holding in a single name. AvailableVolume is the portion
// sellable today under T+1.
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

// StrategySignal is an advisory buy/sell/hold signal.
type StrategySignal struct {
	ID             string   `json:"id"`
	StockCode      string   `json:"stockCode"`
	StockName      string   `json:"stockName"`
	Strategy       string   `json:"strategy"`
	Signal         string   `json:"signal"`
	Confidence     float64  `json:"confidence"`
	ExpectedReturn float64  `json:"expectedReturn"`
	RiskLevel      string   `json:"riskLevel"`
	Factors        []string `json:"factors"`
	Time           string   `json:"time"`
}
