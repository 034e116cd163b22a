package broker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"qtrade/internal/domain"
	"qtrade/internal/ledger"
	"qtrade/internal/store"
)

// Compile-time interface check.
var _ Trader = (*SimTrader)(nil)

// SimTrader executes orders against the in-memory ledger with a randomized
// fill delay and slippage. With a store attached, the book survives
// restarts.
type SimTrader struct {
	ledger *ledger.Ledger
	store  *store.SQLiteStore
	log    *slog.Logger

	connected atomic.Bool

	mu     sync.Mutex
	onFill func(*domain.Order)

	// Fill behavior; tests shrink the delays to zero.
	FillDelayMin time.Duration
	FillDelayMax time.Duration
	Slippage     float64 // max relative slippage, symmetric

	// InitialCash seeds the demo book on first run.
	InitialCash float64
}

// NewSimTrader creates a simulator over the given ledger. store may be nil
// for a purely in-memory book.
func NewSimTrader(l *ledger.Ledger, s *store.SQLiteStore) *SimTrader {
	return &SimTrader{
		ledger:       l,
		store:        s,
		log:          slog.Default().With("gateway", "sim"),
		FillDelayMin: 300 * time.Millisecond,
		FillDelayMax: 800 * time.Millisecond,
		Slippage:     0.002,
		InitialCash:  500_000,
	}
}

// Name returns "sim".
func (t *SimTrader) Name() string { return "sim" }

// Connect restores the book from the store, seeding the demo account on
// first run.
func (t *SimTrader) Connect(ctx context.Context) error {
	if t.store != nil {
		cash, err := t.store.LoadAccount(ctx)
		if err != nil {
			return fmt.Errorf("restoring account: %w", err)
		}
		positions, err := t.store.LoadPositions(ctx)
		if err != nil {
			return fmt.Errorf("restoring positions: %w", err)
		}
		if len(positions) > 0 {
			t.ledger.Restore(positions, cash)
			t.log.Info("book restored", "cash", cash, "positions", len(positions))
		} else {
			t.ledger.SeedDefaults(t.InitialCash)
			t.persistBook(ctx)
			t.log.Info("book seeded", "cash", t.ledger.Cash())
		}
	} else {
		t.ledger.SeedDefaults(t.InitialCash)
	}
	t.connected.Store(true)
	return nil
}

// IsConnected reports whether Connect has run.
func (t *SimTrader) IsConnected() bool { return t.connected.Load() }

// TotalAsset returns cash plus market value.
func (t *SimTrader) TotalAsset() float64 { return t.ledger.TotalAsset() }

// Cash returns the free cash balance.
func (t *SimTrader) Cash() float64 { return t.ledger.Cash() }

// GetPositions returns current holdings.
func (t *SimTrader) GetPositions() []domain.Position { return t.ledger.Positions() }

// Snapshot returns positions, cash and total asset from one ledger read.
func (t *SimTrader) Snapshot() ([]domain.Position, float64, float64) {
	return t.ledger.Snapshot()
}

// GetOrders returns orders, optionally filtered by status.
func (t *SimTrader) GetOrders(status domain.OrderStatus) []domain.Order {
	return t.ledger.Orders(status)
}

// OnFill registers the fill callback.
func (t *SimTrader) OnFill(fn func(*domain.Order)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onFill = fn
}

// SubmitOrder opens the order in the ledger. The caller schedules
// SimulateFill; submission itself never fills.
func (t *SimTrader) SubmitOrder(ctx context.Context, req *domain.TradeRequest) (*domain.Order, error) {
	if !t.connected.Load() {
		return nil, ErrNotConnected
	}
	o, err := t.ledger.Submit(req)
	if err != nil {
		return nil, err
	}
	t.persistOrder(o)
	return o, nil
}

// CancelOrder cancels a still-open order.
func (t *SimTrader) CancelOrder(_ context.Context, orderID string) (bool, error) {
	if !t.ledger.Cancel(orderID) {
		return false, nil
	}
	if o, ok := t.ledger.Order(orderID); ok {
		t.persistOrder(o)
	}
	return true, nil
}

// SimulateFill sleeps the fill delay, then fills the entire order at the
// limit price moved by random slippage. Orders cancelled during the delay
// are left untouched.
func (t *SimTrader) SimulateFill(ctx context.Context, orderID string) (*domain.Order, error) {
	delay := t.FillDelayMin
	if jitter := t.FillDelayMax - t.FillDelayMin; jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(jitter)))
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(delay):
	}

	o, ok := t.ledger.Order(orderID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrOrderNotFound, orderID)
	}
	if !o.Status.Fillable() {
		// Cancelled while waiting; not an error.
		return nil, nil
	}

	slip := (rand.Float64()*2 - 1) * t.Slippage
	price := math.Round(o.Price*(1+slip)*100) / 100

	filled, err := t.ledger.ApplyFill(orderID, o.Volume, price)
	if err != nil {
		return nil, err
	}

	// Persistence is off the fill path: a storage failure is logged, the
	// fill stands.
	go t.persistFill(filled)

	t.mu.Lock()
	fn := t.onFill
	t.mu.Unlock()
	if fn != nil {
		fn(filled)
	}
	return filled, nil
}

func (t *SimTrader) persistOrder(o *domain.Order) {
	if t.store == nil {
		return
	}
	if err := t.store.AppendOrder(context.Background(), o); err != nil {
		t.log.Error("persisting order", "order_id", o.OrderID, "error", err)
	}
}

func (t *SimTrader) persistFill(o *domain.Order) {
	if t.store == nil {
		return
	}
	ctx := context.Background()
	if err := t.store.AppendOrder(ctx, o); err != nil {
		t.log.Error("persisting fill", "order_id", o.OrderID, "error", err)
	}
	t.persistBook(ctx)
}

func (t *SimTrader) persistBook(ctx context.Context) {
	if t.store == nil {
		return
	}
	if err := t.store.SavePositions(ctx, t.ledger.Positions()); err != nil {
		t.log.Error("persisting positions", "error", err)
	}
	if err := t.store.SaveCash(ctx, t.ledger.Cash()); err != nil {
		t.log.Error("persisting cash", "error", err)
	}
}
