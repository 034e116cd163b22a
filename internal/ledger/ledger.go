// Package ledger holds the in-memory book of record for orders, positions
// and cash. A single mutex serializes every mutation, so each operation sees
// and leaves a consistent book.
package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"qtrade/internal/domain"
	"qtrade/internal/util"
)

var (
	// ErrInsufficientCash is returned by Submit when a buy no longer fits
	// the cash balance at submission time.
	ErrInsufficientCash = errors.New("insufficient cash")
	// ErrInsufficientPosition is returned by Submit when a sell exceeds the
	// sellable volume, and by ApplyFill when a fill exceeds the held volume.
	ErrInsufficientPosition = errors.New("insufficient position")
	// ErrOrderNotFound is returned for fills or cancels against unknown ids.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderNotFillable is returned for fills against terminal or pending
	// orders.
	ErrOrderNotFillable = errors.New("order not fillable")
)

// position is the internal mutable holding. AvailableVolume is not stored;
// it is derived on read from the same-day buy records.
type position struct {
	code    string
	name    string
	volume  int64
	avgCost float64
}

// holding is a raw copy of one position taken under the lock, priced later.
type holding struct {
	code    string
	name    string
	volume  int64
	avail   int64
	avgCost float64
}

// Ledger is the mutable account book. PriceFunc, when set, supplies the
// latest price used for market values; positions fall back to average cost
// when it is nil or has no price for a code. The price lookup runs outside
// the lock, so a slow quote source never blocks submits or fills.
type Ledger struct {
	mu sync.Mutex

	cash      float64
	positions map[string]*position
	orders    map[string]*domain.Order
	orderSeq  []string

	// buyDates[code][localDate] is the volume bought that day. Shares
	// bought today are not sellable until the next local date.
	buyDates map[string]map[string]int64

	priceFn func(code string) (float64, bool)
	now     func() time.Time
	log     *slog.Logger
}

// New returns an empty ledger with zero cash.
func New() *Ledger {
	return &Ledger{
		positions: make(map[string]*position),
		orders:    make(map[string]*domain.Order),
		buyDates:  make(map[string]map[string]int64),
		now:       time.Now,
		log:       slog.Default().With("component", "ledger"),
	}
}

// SetClock overrides the wall clock used for timestamps and the T+1 date.
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// SetPriceFunc installs the latest-price lookup used to mark positions.
func (l *Ledger) SetPriceFunc(fn func(code string) (float64, bool)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.priceFn = fn
}

// SeedDefaults loads the stock demo book: two holdings and the remainder of
// the initial cash. Used when no persisted state exists yet. A non-positive
// initialCash falls back to a 500k account.
func (l *Ledger) SeedDefaults(initialCash float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if initialCash <= 0 {
		initialCash = 500_000
	}
	l.positions = map[string]*position{
		"600519": {code: "600519", name: "贵州茅台", volume: 200, avgCost: 1650.00},
		"000001": {code: "000001", name: "平安银行", volume: 1000, avgCost: 12.10},
	}
	var mv float64
	for _, p := range l.positions {
		mv += float64(p.volume) * p.avgCost
	}
	l.cash = initialCash - mv
}

// Restore replaces the book with persisted positions and cash. Same-day buy
// records do not survive a restart; restored shares are fully available.
func (l *Ledger) Restore(positions []domain.Position, cash float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cash = cash
	l.positions = make(map[string]*position, len(positions))
	for _, p := range positions {
		l.positions[p.StockCode] = &position{
			code:    p.StockCode,
			name:    p.StockName,
			volume:  p.Volume,
			avgCost: p.AvgCost,
		}
	}
}

// Submit opens a new order in submitted state. Buys re-check cash and sells
// re-check sellable volume under the lock: the risk check ran earlier
// without it, and other orders may have consumed either in between. Sellable
// volume withholds both today's buys and the unfilled remainder of open sell
// orders, so two sells cannot claim the same shares.
func (l *Ledger) Submit(req *domain.TradeRequest) (*domain.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch req.Direction {
	case domain.DirectionBuy:
		if need := req.Price * float64(req.Volume); need > l.cash {
			return nil, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientCash, need, l.cash)
		}
	case domain.DirectionSell:
		if avail := l.sellableLocked(req.StockCode); req.Volume > avail {
			return nil, fmt.Errorf("%w: %s sellable %d, want %d",
				ErrInsufficientPosition, req.StockCode, avail, req.Volume)
		}
	}

	now := l.now()
	o := &domain.Order{
		OrderID:   newOrderID(),
		StockCode: req.StockCode,
		StockName: req.StockName,
		Direction: req.Direction,
		Price:     req.Price,
		Volume:    req.Volume,
		Status:    domain.OrderStatusSubmitted,
		Strategy:  req.Strategy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	l.orders[o.OrderID] = o
	l.orderSeq = append(l.orderSeq, o.OrderID)

	out := *o
	return &out, nil
}

// sellableLocked is the volume of code that a new sell may claim: held
// volume minus today's buys minus the unfilled remainder of open sells.
func (l *Ledger) sellableLocked(code string) int64 {
	p := l.positions[code]
	if p == nil {
		return 0
	}
	today := util.LocalDate(l.now())
	avail := p.volume - l.buyDates[code][today]
	for _, id := range l.orderSeq {
		o := l.orders[id]
		if o.StockCode == code && o.Direction == domain.DirectionSell && o.Status.Fillable() {
			avail -= o.Volume - o.FilledVolume
		}
	}
	if avail < 0 {
		avail = 0
	}
	return avail
}

// Track registers an order opened at an external venue under its
// venue-assigned id, so later fill reports can be applied to it.
func (l *Ledger) Track(o *domain.Order) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.orders[o.OrderID]; ok {
		return
	}
	cp := *o
	l.orders[o.OrderID] = &cp
	l.orderSeq = append(l.orderSeq, o.OrderID)
}

// Reject moves a non-terminal order to rejected. It reports false for
// unknown ids and orders already terminal.
func (l *Ledger) Reject(orderID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[orderID]
	if !ok || o.Status.Terminal() {
		return false
	}
	o.Status = domain.OrderStatusRejected
	o.UpdatedAt = l.now()
	return true
}

// ApplyFill advances an order to the given cumulative filled volume and
// applies only the delta to positions and cash, so a duplicated fill report
// is a no-op. filled must not exceed the order volume or regress. A sell
// fill beyond the held volume fails without touching the book.
func (l *Ledger) ApplyFill(orderID string, filled int64, price float64) (*domain.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if !o.Status.Fillable() {
		return nil, fmt.Errorf("%w: %s is %s", ErrOrderNotFillable, orderID, o.Status)
	}
	if filled > o.Volume {
		return nil, fmt.Errorf("fill of %d exceeds order volume %d", filled, o.Volume)
	}

	delta := filled - o.FilledVolume
	if delta > 0 {
		switch o.Direction {
		case domain.DirectionBuy:
			l.applyBuy(o, delta, price)
		case domain.DirectionSell:
			if err := l.applySell(o, delta, price); err != nil {
				return nil, err
			}
		}
	}

	o.FilledVolume = filled
	o.FilledPrice = price
	if filled == o.Volume {
		o.Status = domain.OrderStatusFilled
	} else if filled > 0 {
		o.Status = domain.OrderStatusPartialFilled
	}
	o.UpdatedAt = l.now()

	out := *o
	return &out, nil
}

func (l *Ledger) applyBuy(o *domain.Order, delta int64, price float64) {
	cost := price * float64(delta)
	l.cash -= cost

	p := l.positions[o.StockCode]
	if p == nil {
		p = &position{code: o.StockCode, name: o.StockName}
		l.positions[o.StockCode] = p
	}
	total := float64(p.volume)*p.avgCost + cost
	p.volume += delta
	p.avgCost = total / float64(p.volume)
	if p.name == "" {
		p.name = o.StockName
	}

	today := util.LocalDate(l.now())
	if l.buyDates[o.StockCode] == nil {
		l.buyDates[o.StockCode] = make(map[string]int64)
	}
	l.buyDates[o.StockCode][today] += delta
}

// applySell credits the sale and shrinks the holding. A fill that exceeds
// the held volume means the book and the venue have diverged; the fill is
// refused so cash is never credited for shares the book does not hold.
func (l *Ledger) applySell(o *domain.Order, delta int64, price float64) error {
	p := l.positions[o.StockCode]
	var held int64
	if p != nil {
		held = p.volume
	}
	if delta > held {
		l.log.Error("sell fill exceeds held volume",
			"order_id", o.OrderID, "code", o.StockCode, "held", held, "fill", delta)
		return fmt.Errorf("%w: %s holds %d, fill of %d", ErrInsufficientPosition, o.StockCode, held, delta)
	}

	l.cash += price * float64(delta)
	p.volume -= delta
	if p.volume <= 0 {
		delete(l.positions, o.StockCode)
		delete(l.buyDates, o.StockCode)
	}
	return nil
}

// Cancel moves a submitted or partially filled order to cancelled. It
// reports false for unknown ids and for orders that are already terminal.
func (l *Ledger) Cancel(orderID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[orderID]
	if !ok || !o.Status.Fillable() {
		return false
	}
	o.Status = domain.OrderStatusCancelled
	o.UpdatedAt = l.now()
	return true
}

// Order returns a copy of one order.
func (l *Ledger) Order(orderID string) (*domain.Order, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[orderID]
	if !ok {
		return nil, false
	}
	out := *o
	return &out, true
}

// Orders returns copies of all orders in submission order, optionally
// filtered by status.
func (l *Ledger) Orders(status domain.OrderStatus) []domain.Order {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.Order, 0, len(l.orderSeq))
	for _, id := range l.orderSeq {
		o := l.orders[id]
		if status != "" && o.Status != status {
			continue
		}
		out = append(out, *o)
	}
	return out
}

// Snapshot returns the positions, cash and total asset from one read of the
// book, so a fill landing between calls can never show a half-applied view.
// Prices are resolved after the lock is released.
func (l *Ledger) Snapshot() ([]domain.Position, float64, float64) {
	l.mu.Lock()
	holdings := l.holdingsLocked()
	cash := l.cash
	priceFn := l.priceFn
	l.mu.Unlock()

	positions := markPositions(holdings, priceFn)
	total := cash
	for _, p := range positions {
		total += p.MarketValue
	}
	return positions, cash, total
}

// Positions returns the current holdings with derived fields: today's buys
// withheld from AvailableVolume, market value from the latest price (average
// cost when none is known), and profit against cost.
func (l *Ledger) Positions() []domain.Position {
	l.mu.Lock()
	holdings := l.holdingsLocked()
	priceFn := l.priceFn
	l.mu.Unlock()
	return markPositions(holdings, priceFn)
}

// holdingsLocked copies the raw holdings in code order. Callers hold l.mu.
func (l *Ledger) holdingsLocked() []holding {
	today := util.LocalDate(l.now())
	out := make([]holding, 0, len(l.positions))
	for _, p := range l.positions {
		avail := p.volume - l.buyDates[p.code][today]
		if avail < 0 {
			avail = 0
		}
		out = append(out, holding{
			code:    p.code,
			name:    p.name,
			volume:  p.volume,
			avail:   avail,
			avgCost: p.avgCost,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].code < out[j].code })
	return out
}

// markPositions prices raw holdings into the served position view.
func markPositions(holdings []holding, priceFn func(code string) (float64, bool)) []domain.Position {
	out := make([]domain.Position, 0, len(holdings))
	for _, h := range holdings {
		price := h.avgCost
		if priceFn != nil {
			if latest, ok := priceFn(h.code); ok && latest > 0 {
				price = latest
			}
		}
		mv := float64(h.volume) * price
		cost := float64(h.volume) * h.avgCost
		dp := domain.Position{
			StockCode:       h.code,
			StockName:       h.name,
			Volume:          h.volume,
			AvailableVolume: h.avail,
			AvgCost:         h.avgCost,
			MarketValue:     mv,
			Profit:          mv - cost,
		}
		if cost > 0 {
			dp.ProfitRatio = dp.Profit / cost
		}
		out = append(out, dp)
	}
	return out
}

// Cash returns the free cash balance.
func (l *Ledger) Cash() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cash
}

// TotalAsset returns cash plus the market value of all holdings.
func (l *Ledger) TotalAsset() float64 {
	_, _, total := l.Snapshot()
	return total
}

// Account returns the summary view served by the account endpoint.
func (l *Ledger) Account() domain.AccountSummary {
	positions, cash, total := l.Snapshot()
	return domain.AccountSummary{
		Cash:       cash,
		TotalAsset: total,
		Positions:  len(positions),
	}
}

// newOrderID builds a short simulator order id like SIM-9F3A27C1.
func newOrderID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "SIM-" + strings.ToUpper(raw[:8])
}
