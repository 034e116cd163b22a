// Package strategy generates advisory trade signals from the quote pool.
// Signals carry no execution authority; they only feed confidence into
// order sizing.
package strategy

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"qtrade/internal/domain"
	"qtrade/internal/quote"
)

// Strategy scores a stock pool into buy/sell/hold signals.
type Strategy interface {
	Name() string
	GenerateSignals(ctx context.Context, pool []domain.Quote) ([]domain.StrategySignal, error)
}

// Engine runs all registered strategies over the quote pool and caches the
// latest signal set. A failed run keeps serving the previous signals.
type Engine struct {
	quotes     quote.Source
	strategies []Strategy
	log        *slog.Logger

	mu      sync.Mutex
	cached  []domain.StrategySignal
	lastRun time.Time
}

// NewEngine creates an Engine with the default strategy set.
func NewEngine(quotes quote.Source) *Engine {
	return &Engine{
		quotes: quotes,
		strategies: []Strategy{
			NewDividendLowVol(quotes),
		},
		log: slog.Default().With("component", "strategy"),
	}
}

// RunAll fetches the quote pool, runs every strategy and replaces the
// cached signals. One failing strategy does not stop the others.
func (e *Engine) RunAll(ctx context.Context) ([]domain.StrategySignal, error) {
	pool, err := e.quotes.Pool(ctx, nil)
	if err != nil {
		e.log.Error("quote pool fetch failed, keeping cached signals", "error", err)
		return e.Cached(), err
	}

	now := time.Now()
	var all []domain.StrategySignal
	for _, s := range e.strategies {
		signals, err := s.GenerateSignals(ctx, pool)
		if err != nil {
			e.log.Error("strategy failed", "strategy", s.Name(), "error", err)
			continue
		}
		for i := range signals {
			signals[i].ID = "sig-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
			signals[i].Time = now.Format("15:04:05")
		}
		all = append(all, signals...)
		e.log.Info("strategy run", "strategy", s.Name(), "signals", len(signals))
	}

	e.mu.Lock()
	e.cached = all
	e.lastRun = now
	e.mu.Unlock()
	return all, nil
}

// Cached returns the signals from the most recent successful run.
func (e *Engine) Cached() []domain.StrategySignal {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.StrategySignal, len(e.cached))
	copy(out, e.cached)
	return out
}

// LastRun returns the time of the most recent run, zero before the first.
func (e *Engine) LastRun() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastRun
}

// RunLoop re-runs the strategies on a fixed interval until ctx is
// cancelled. The first run happens immediately.
func (e *Engine) RunLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := e.RunAll(ctx); err != nil {
			e.log.Warn("strategy cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
