package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"qtrade/internal/domain"
	"qtrade/internal/ledger"
	"qtrade/internal/store"
)

// Compile-time interface check.
var _ Trader = (*AlpacaTrader)(nil)

// AlpacaTrader routes orders to an Alpaca brokerage session. The shared
// ledger mirrors venue state: orders are tracked under their venue ids and
// the trade-update stream drives fills into the ledger.
type AlpacaTrader struct {
	client *alpaca.Client
	ledger *ledger.Ledger
	store  *store.SQLiteStore
	log    *slog.Logger

	connected  atomic.Bool
	streamOnce sync.Once

	mu     sync.Mutex
	onFill func(*domain.Order)
	cash   float64
	equity float64
}

// NewAlpacaTrader creates a live gateway. store may be nil.
func NewAlpacaTrader(apiKey, apiSecret, baseURL string, l *ledger.Ledger, s *store.SQLiteStore) *AlpacaTrader {
	return &AlpacaTrader{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		ledger: l,
		store:  s,
		log:    slog.Default().With("gateway", "alpaca"),
	}
}

// Name returns "alpaca".
func (t *AlpacaTrader) Name() string { return "alpaca" }

// Connect loads the venue account and positions into the ledger and starts
// the trade-update stream.
func (t *AlpacaTrader) Connect(ctx context.Context) error {
	acct, err := t.client.GetAccount()
	if err != nil {
		return fmt.Errorf("alpaca: loading account: %w", err)
	}
	cash, _ := acct.Cash.Float64()
	equity, _ := acct.Equity.Float64()
	t.mu.Lock()
	t.cash, t.equity = cash, equity
	t.mu.Unlock()

	positions, err := t.fetchPositions()
	if err != nil {
		return err
	}
	t.ledger.Restore(positions, cash)
	t.connected.Store(true)
	t.log.Info("connected", "cash", cash, "equity", equity, "positions", len(positions))

	t.streamOnce.Do(func() {
		go t.runStream(ctx)
	})
	return nil
}

// IsConnected reports whether the session and its update stream are up.
func (t *AlpacaTrader) IsConnected() bool { return t.connected.Load() }

// TotalAsset returns account equity, refreshed from the venue when
// reachable.
func (t *AlpacaTrader) TotalAsset() float64 {
	t.refreshAccount()
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.equity
}

// Cash returns the venue cash balance.
func (t *AlpacaTrader) Cash() float64 {
	t.refreshAccount()
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cash
}

// GetPositions returns venue positions, falling back to the ledger mirror
// when the venue is unreachable.
func (t *AlpacaTrader) GetPositions() []domain.Position {
	positions, err := t.fetchPositions()
	if err != nil {
		t.log.Warn("position fetch failed, serving ledger mirror", "error", err)
		t.connected.Store(false)
		return t.ledger.Positions()
	}
	return positions
}

// Snapshot returns the ledger mirror's positions with the venue's cash and
// equity. The mirror is the consistent book; venue numbers are refreshed
// first so they are no staler than the positions.
func (t *AlpacaTrader) Snapshot() ([]domain.Position, float64, float64) {
	t.refreshAccount()
	positions, _, _ := t.ledger.Snapshot()
	t.mu.Lock()
	cash, equity := t.cash, t.equity
	t.mu.Unlock()
	return positions, cash, equity
}

// GetOrders serves orders from the ledger mirror; every submitted order is
// tracked there under its venue id.
func (t *AlpacaTrader) GetOrders(status domain.OrderStatus) []domain.Order {
	return t.ledger.Orders(status)
}

// OnFill registers the fill callback.
func (t *AlpacaTrader) OnFill(fn func(*domain.Order)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onFill = fn
}

// SubmitOrder places the order at the venue and tracks it in the ledger. A
// venue rejection surfaces as an error; the risk chain has already passed
// by the time we get here.
func (t *AlpacaTrader) SubmitOrder(ctx context.Context, req *domain.TradeRequest) (*domain.Order, error) {
	if err := t.ensure(ctx); err != nil {
		return nil, err
	}

	side := alpaca.Buy
	if req.Direction == domain.DirectionSell {
		side = alpaca.Sell
	}
	qty := decimal.NewFromInt(req.Volume)
	placeReq := alpaca.PlaceOrderRequest{
		Symbol:      req.StockCode,
		Qty:         &qty,
		Side:        side,
		Type:        alpaca.Market,
		TimeInForce: alpaca.Day,
	}
	if req.PriceType == domain.PriceTypeLimit && req.Price > 0 {
		limit := decimal.NewFromFloat(req.Price)
		placeReq.Type = alpaca.Limit
		placeReq.LimitPrice = &limit
	}

	ao, err := t.client.PlaceOrder(placeReq)
	if err != nil {
		return nil, fmt.Errorf("alpaca: placing %s %s x%d: %w", req.Direction, req.StockCode, req.Volume, err)
	}

	o := &domain.Order{
		OrderID:   ao.ID,
		StockCode: req.StockCode,
		StockName: req.StockName,
		Direction: req.Direction,
		Price:     req.Price,
		Volume:    req.Volume,
		Status:    domain.OrderStatusSubmitted,
		Strategy:  req.Strategy,
		CreatedAt: ao.CreatedAt,
		UpdatedAt: ao.UpdatedAt,
	}
	t.ledger.Track(o)
	t.persistOrder(o)
	return o, nil
}

// CancelOrder cancels at the venue first, then mirrors the state locally.
func (t *AlpacaTrader) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	if err := t.ensure(ctx); err != nil {
		return false, err
	}
	if err := t.client.CancelOrder(orderID); err != nil {
		return false, fmt.Errorf("alpaca: cancelling %s: %w", orderID, err)
	}
	// The stream will confirm; mirror eagerly so reads are consistent.
	if t.ledger.Cancel(orderID) {
		if o, ok := t.ledger.Order(orderID); ok {
			t.persistOrder(o)
		}
	}
	return true, nil
}

// SimulateFill is a lookup on a live gateway; real fills arrive on the
// update stream.
func (t *AlpacaTrader) SimulateFill(_ context.Context, orderID string) (*domain.Order, error) {
	o, ok := t.ledger.Order(orderID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrOrderNotFound, orderID)
	}
	return o, nil
}

// ensure reconnects a dropped session before use.
func (t *AlpacaTrader) ensure(ctx context.Context) error {
	if t.connected.Load() {
		return nil
	}
	if err := t.Connect(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

func (t *AlpacaTrader) refreshAccount() {
	acct, err := t.client.GetAccount()
	if err != nil {
		t.log.Warn("account refresh failed", "error", err)
		t.connected.Store(false)
		return
	}
	cash, _ := acct.Cash.Float64()
	equity, _ := acct.Equity.Float64()
	t.mu.Lock()
	t.cash, t.equity = cash, equity
	t.mu.Unlock()
}

func (t *AlpacaTrader) fetchPositions() ([]domain.Position, error) {
	alpacaPositions, err := t.client.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("alpaca: loading positions: %w", err)
	}
	out := make([]domain.Position, 0, len(alpacaPositions))
	for _, ap := range alpacaPositions {
		p := domain.Position{
			StockCode:       ap.Symbol,
			StockName:       ap.Symbol,
			Volume:          ap.Qty.IntPart(),
			AvailableVolume: ap.QtyAvailable.IntPart(),
		}
		p.AvgCost, _ = ap.AvgEntryPrice.Float64()
		if ap.MarketValue != nil {
			p.MarketValue, _ = ap.MarketValue.Float64()
		}
		if ap.UnrealizedPL != nil {
			p.Profit, _ = ap.UnrealizedPL.Float64()
		}
		if ap.UnrealizedPLPC != nil {
			p.ProfitRatio, _ = ap.UnrealizedPLPC.Float64()
		}
		out = append(out, p)
	}
	return out, nil
}

// runStream consumes trade updates until ctx is cancelled, reconnecting
// with a fixed backoff.
func (t *AlpacaTrader) runStream(ctx context.Context) {
	for {
		t.connected.Store(true)
		err := t.client.StreamTradeUpdates(ctx, t.handleTradeUpdate, alpaca.StreamTradeUpdatesRequest{})
		t.connected.Store(false)
		if ctx.Err() != nil {
			return
		}
		t.log.Warn("trade update stream lost, reconnecting", "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (t *AlpacaTrader) handleTradeUpdate(u alpaca.TradeUpdate) {
	switch u.Event {
	case "fill", "partial_fill":
		filled := u.Order.FilledQty.IntPart()
		var price float64
		if u.Order.FilledAvgPrice != nil {
			price, _ = u.Order.FilledAvgPrice.Float64()
		} else if u.Price != nil {
			price, _ = u.Price.Float64()
		}
		o, err := t.ledger.ApplyFill(u.Order.ID, filled, price)
		if err != nil {
			t.log.Warn("stream fill not applied", "order_id", u.Order.ID, "error", err)
			return
		}
		go t.persistFill(o)
		t.mu.Lock()
		fn := t.onFill
		t.mu.Unlock()
		if fn != nil {
			fn(o)
		}
	case "canceled", "expired":
		if t.ledger.Cancel(u.Order.ID) {
			if o, ok := t.ledger.Order(u.Order.ID); ok {
				t.persistOrder(o)
			}
		}
	case "rejected":
		if t.ledger.Reject(u.Order.ID) {
			t.log.Warn("order rejected by venue", "order_id", u.Order.ID)
			if o, ok := t.ledger.Order(u.Order.ID); ok {
				t.persistOrder(o)
			}
		}
	}
}

func (t *AlpacaTrader) persistOrder(o *domain.Order) {
	if t.store == nil {
		return
	}
	if err := t.store.AppendOrder(context.Background(), o); err != nil {
		t.log.Error("persisting order", "order_id", o.OrderID, "error", err)
	}
}

func (t *AlpacaTrader) persistFill(o *domain.Order) {
	if t.store == nil {
		return
	}
	ctx := context.Background()
	if err := t.store.AppendOrder(ctx, o); err != nil {
		t.log.Error("persisting fill", "order_id", o.OrderID, "error", err)
	}
	if err := t.store.SavePositions(ctx, t.ledger.Positions()); err != nil {
		t.log.Error("persisting positions", "error", err)
	}
	if err := t.store.SaveCash(ctx, t.ledger.Cash()); err != nil {
		t.log.Error("persisting cash", "error", err)
	}
}
