// Package broker provides the execution gateways: an in-process simulator
// and a live brokerage session. Both keep the shared ledger as the book of
// record and report fills through a registered callback.
package broker

import (
	"context"
	"errors"

	"qtrade/internal/domain"
)

// ErrNotConnected is returned when an operation requires a live session and
// the gateway has none.
var ErrNotConnected = errors.New("gateway not connected")

// Trader is an execution gateway. SubmitOrder returns once the venue has
// accepted the order; fills arrive later through the OnFill callback.
type Trader interface {
	// Name identifies the gateway ("sim" or "alpaca").
	Name() string

	// Connect establishes the session and loads or seeds the book.
	Connect(ctx context.Context) error

	// IsConnected reports whether the session is currently usable.
	IsConnected() bool

	// TotalAsset returns cash plus the market value of all holdings.
	TotalAsset() float64

	// Cash returns the free cash balance.
	Cash() float64

	// GetPositions returns current holdings with T+1 availability applied.
	GetPositions() []domain.Position

	// Snapshot returns positions, cash and total asset from one consistent
	// read of the book, for callers that must not see a half-applied fill.
	Snapshot() ([]domain.Position, float64, float64)

	// GetOrders returns known orders, optionally filtered by status.
	GetOrders(status domain.OrderStatus) []domain.Order

	// SubmitOrder sends the order to the venue and returns it in submitted
	// state.
	SubmitOrder(ctx context.Context, req *domain.TradeRequest) (*domain.Order, error)

	// CancelOrder requests cancellation. False means the order was not in a
	// cancellable state.
	CancelOrder(ctx context.Context, orderID string) (bool, error)

	// SimulateFill drives one order to completion. Only the simulator does
	// real work here; live gateways fill from their own update stream.
	SimulateFill(ctx context.Context, orderID string) (*domain.Order, error)

	// OnFill registers the callback invoked after every applied fill.
	OnFill(fn func(*domain.Order))
}
