// Package engine orchestrates trade execution: request validation, price
// resolution, position sizing, the risk chain, gateway submission and fill
// publication.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"qtrade/internal/broker"
	"qtrade/internal/config"
	"qtrade/internal/domain"
	"qtrade/internal/ledger"
	"qtrade/internal/quote"
	"qtrade/internal/risk"
)

// ErrValidation marks a malformed request; API handlers map it to a client
// error instead of a server error.
var ErrValidation = errors.New("invalid trade request")

// Publisher receives the event for every applied fill.
type Publisher interface {
	Publish(ev domain.TradeEvent)
}

// Engine is the trade orchestrator. All execution flows through Execute so
// the risk chain can never be bypassed.
type Engine struct {
	trader broker.Trader
	risk   *risk.Manager
	quotes quote.Source
	pub    Publisher
	log    *slog.Logger

	mockMode  bool
	lotSize   int64
	maxAmount float64
}

// New wires the orchestrator. The gateway's fill callback is registered
// here so every fill, simulated or live, reaches the publisher.
func New(trader broker.Trader, rm *risk.Manager, quotes quote.Source, pub Publisher, cfg *config.Config) *Engine {
	e := &Engine{
		trader:    trader,
		risk:      rm,
		quotes:    quotes,
		pub:       pub,
		log:       slog.Default().With("component", "engine"),
		mockMode:  cfg.Trading.MockMode,
		lotSize:   cfg.Risk.LotSize,
		maxAmount: cfg.Risk.MaxSingleOrderAmount,
	}
	trader.OnFill(func(o *domain.Order) {
		e.log.Info("fill",
			"order_id", o.OrderID, "code", o.StockCode, "direction", o.Direction,
			"volume", o.FilledVolume, "price", o.FilledPrice, "status", o.Status)
		if e.pub != nil {
			e.pub.Publish(domain.FillEvent(o))
		}
	})
	return e
}

// Execute runs the full order pipeline. A risk rejection or a failed cash
// re-check is a negative outcome, returned as success=false with detail; an
// error return means the request never reached a decision (validation) or
// the venue failed.
func (e *Engine) Execute(ctx context.Context, req *domain.TradeRequest) (*domain.TradeResponse, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	// Resolve price and volume exactly once, before the risk chain sees
	// the request.
	if req.Price <= 0 {
		price, err := e.quotes.LatestPrice(ctx, req.StockCode)
		if err != nil {
			e.log.Warn("price resolution failed", "code", req.StockCode, "error", err)
			return &domain.TradeResponse{
				Success:   false,
				Message:   fmt.Sprintf("cannot resolve price for %s: %v", req.StockCode, err),
				Timestamp: time.Now(),
			}, nil
		}
		req.Price = price
	}
	// One consistent read of the book feeds both sizing and the risk
	// chain; a fill landing mid-pipeline cannot show a half-applied view.
	positions, cash, totalAsset := e.trader.Snapshot()
	if req.Volume <= 0 {
		req.Volume = e.autoSize(req.Price, req.Confidence, totalAsset)
	}

	result := e.risk.Check(req, positions, totalAsset, cash)
	if !result.Passed {
		e.log.Info("risk rejected",
			"code", req.StockCode, "direction", req.Direction,
			"volume", req.Volume, "price", req.Price)
		return &domain.TradeResponse{
			Success:   false,
			Message:   "risk check failed",
			RiskCheck: &result,
			Timestamp: time.Now(),
		}, nil
	}

	order, err := e.trader.SubmitOrder(ctx, req)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientCash) || errors.Is(err, ledger.ErrInsufficientPosition) {
			// Cash or shares moved between the risk check and submission.
			// The risk chain passed this order, so the rejection is
			// anomalous and worth an operator's attention.
			e.log.Error("ledger refused order after passed risk check",
				"code", req.StockCode, "direction", req.Direction,
				"volume", req.Volume, "price", req.Price, "error", err)
			return &domain.TradeResponse{
				Success:   false,
				Message:   err.Error(),
				Timestamp: time.Now(),
			}, nil
		}
		return nil, fmt.Errorf("gateway submit: %w", err)
	}
	e.risk.RecordOrder()
	e.log.Info("order submitted",
		"order_id", order.OrderID, "code", order.StockCode,
		"direction", order.Direction, "volume", order.Volume, "price", order.Price)

	if e.mockMode {
		// The fill callback wired in New publishes when this lands.
		go func() {
			if _, err := e.trader.SimulateFill(context.Background(), order.OrderID); err != nil {
				e.log.Warn("simulated fill failed", "order_id", order.OrderID, "error", err)
			}
		}()
	}

	return &domain.TradeResponse{
		Success:   true,
		OrderID:   order.OrderID,
		Message:   "order submitted",
		RiskCheck: &result,
		Timestamp: time.Now(),
	}, nil
}

// autoSize converts capital and signal confidence into a lot-aligned
// volume: 2% of total assets at zero confidence, up to 5% at full
// confidence, capped by the single-order limit and floored at one lot.
func (e *Engine) autoSize(price, confidence, total float64) int64 {
	target := total * (0.02 + confidence*0.03)
	if target > e.maxAmount {
		target = e.maxAmount
	}
	lot := float64(e.lotSize)
	volume := int64(math.Floor(target/price/lot) * lot)
	if volume < e.lotSize {
		volume = e.lotSize
	}
	return volume
}

// Cancel requests cancellation of an open order.
func (e *Engine) Cancel(ctx context.Context, orderID string) (bool, error) {
	ok, err := e.trader.CancelOrder(ctx, orderID)
	if err != nil {
		return false, fmt.Errorf("gateway cancel: %w", err)
	}
	if ok {
		e.log.Info("order cancelled", "order_id", orderID)
	}
	return ok, nil
}

// Positions returns current holdings.
func (e *Engine) Positions() []domain.Position { return e.trader.GetPositions() }

// Orders returns known orders, optionally filtered by status.
func (e *Engine) Orders(status domain.OrderStatus) []domain.Order {
	return e.trader.GetOrders(status)
}

// Account returns the account summary.
func (e *Engine) Account() domain.AccountSummary {
	positions, cash, totalAsset := e.trader.Snapshot()
	return domain.AccountSummary{
		Cash:       cash,
		TotalAsset: totalAsset,
		Positions:  len(positions),
	}
}

// Connected reports gateway health for the health endpoint.
func (e *Engine) Connected() bool { return e.trader.IsConnected() }

// GatewayName identifies the active gateway.
func (e *Engine) GatewayName() string { return e.trader.Name() }
