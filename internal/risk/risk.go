// Package risk implements the pre-trade rule chain applied to every trade
// request. All rules run on every check — there is no short-circuit — so the
// caller always receives the complete diagnostic picture.
package risk

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"qtrade/internal/config"
	"qtrade/internal/domain"
	"qtrade/internal/util"
)

// Rule names, in evaluation order. The order is fixed: response details and
// tests depend on it.
const (
	RuleOrderAmount      = "single_order_amount"
	RuleLotSize          = "lot_size"
	RulePositionRatio    = "position_ratio"
	RuleDailyOrders      = "daily_order_limit"
	RuleTradingHours     = "trading_hours"
	RuleSTBlock          = "st_block"
	RuleSellAvailability = "sell_availability"
	RuleCashSufficiency  = "cash_sufficiency"
)

// Manager evaluates the rule chain and owns the daily order counter. Check
// itself has no side effects; the counter advances only through RecordOrder,
// so a failed risk check never consumes a daily order slot.
type Manager struct {
	cfg config.RiskConfig
	now func() time.Time

	mu            sync.Mutex
	dailyOrders   int
	lastResetDate string
}

// NewManager creates a Manager with the given rule parameters.
func NewManager(cfg config.RiskConfig) *Manager {
	return &Manager{cfg: cfg, now: time.Now}
}

// SetClock overrides the wall clock. Tests use this to pin trading-hours
// and daily-reset behavior.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Check evaluates every rule against a consistent ledger snapshot. The same
// "now" is used for the daily reset and the trading-hours gate within one
// call.
func (m *Manager) Check(req *domain.TradeRequest, positions []domain.Position, totalAsset, cash float64) domain.RiskCheckResult {
	now := m.now()
	count := m.dailyCount(now)

	checks := []domain.RiskCheck{
		m.checkAmount(req),
		m.checkLotSize(req),
		m.checkPositionRatio(req, positions, totalAsset),
		m.checkDailyLimit(count),
		m.checkTradingHours(now),
		m.checkST(req),
		m.checkSellAvailable(req, positions),
		m.checkCashSufficient(req, cash),
	}

	passed := true
	for _, c := range checks {
		if !c.Passed {
			passed = false
		}
	}
	return domain.RiskCheckResult{Passed: passed, Checks: checks}
}

// RecordOrder increments the daily order counter. The orchestrator calls it
// only after a successful gateway submission.
func (m *Manager) RecordOrder() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyOrders++
}

// dailyCount returns the current daily counter, lazily resetting it the
// first time it is read on a new local calendar date.
func (m *Manager) dailyCount(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	today := util.LocalDate(now)
	if today != m.lastResetDate {
		m.dailyOrders = 0
		m.lastResetDate = today
	}
	return m.dailyOrders
}

// ---------------------------------------------------------------------------
// Rules
// ---------------------------------------------------------------------------

func (m *Manager) checkAmount(req *domain.TradeRequest) domain.RiskCheck {
	amount := req.Price * float64(req.Volume)
	limit := m.cfg.MaxSingleOrderAmount
	ok := amount <= limit
	rel := "<="
	if !ok {
		rel = ">"
	}
	return domain.RiskCheck{
		Rule:   RuleOrderAmount,
		Passed: ok,
		Detail: fmt.Sprintf("notional %.0f %s limit %.0f", amount, rel, limit),
	}
}

func (m *Manager) checkLotSize(req *domain.TradeRequest) domain.RiskCheck {
	lot := m.cfg.LotSize
	ok := lot > 0 && req.Volume%lot == 0
	detail := fmt.Sprintf("volume %d is a multiple of lot %d", req.Volume, lot)
	if !ok {
		detail = fmt.Sprintf("volume %d is not a multiple of lot %d", req.Volume, lot)
	}
	return domain.RiskCheck{Rule: RuleLotSize, Passed: ok, Detail: detail}
}

func (m *Manager) checkPositionRatio(req *domain.TradeRequest, positions []domain.Position, totalAsset float64) domain.RiskCheck {
	if req.Direction == domain.DirectionSell || totalAsset <= 0 {
		return domain.RiskCheck{Rule: RulePositionRatio, Passed: true, Detail: "sell or empty account, skipped"}
	}
	var currentMV float64
	for _, p := range positions {
		if p.StockCode == req.StockCode {
			currentMV += p.MarketValue
		}
	}
	newMV := currentMV + req.Price*float64(req.Volume)
	ratio := newMV / totalAsset
	limit := m.cfg.MaxPositionRatio
	ok := ratio <= limit
	rel := "<="
	if !ok {
		rel = ">"
	}
	return domain.RiskCheck{
		Rule:   RulePositionRatio,
		Passed: ok,
		Detail: fmt.Sprintf("%.1f%% %s %.0f%%", ratio*100, rel, limit*100),
	}
}

func (m *Manager) checkDailyLimit(count int) domain.RiskCheck {
	limit := m.cfg.MaxDailyOrders
	ok := count < limit
	return domain.RiskCheck{
		Rule:   RuleDailyOrders,
		Passed: ok,
		Detail: fmt.Sprintf("%d/%d orders today", count, limit),
	}
}

func (m *Manager) checkTradingHours(now time.Time) domain.RiskCheck {
	if m.cfg.SkipTradingHoursCheck {
		return domain.RiskCheck{Rule: RuleTradingHours, Passed: true, Detail: "trading-hours check bypassed"}
	}
	ok := util.InTradingSession(now)
	detail := fmt.Sprintf("%s inside trading session", now.Format("15:04"))
	if !ok {
		detail = fmt.Sprintf("%s outside trading session", now.Format("15:04"))
	}
	return domain.RiskCheck{Rule: RuleTradingHours, Passed: ok, Detail: detail}
}

func (m *Manager) checkST(req *domain.TradeRequest) domain.RiskCheck {
	isST := strings.Contains(strings.ToUpper(req.StockName), "ST")
	ok := !(m.cfg.BlockST && isST)
	detail := "not an ST name"
	if !ok {
		detail = "ST name blocked"
	}
	return domain.RiskCheck{Rule: RuleSTBlock, Passed: ok, Detail: detail}
}

func (m *Manager) checkSellAvailable(req *domain.TradeRequest, positions []domain.Position) domain.RiskCheck {
	if req.Direction == domain.DirectionBuy {
		return domain.RiskCheck{Rule: RuleSellAvailability, Passed: true, Detail: "buy, skipped"}
	}
	var avail int64
	for _, p := range positions {
		if p.StockCode == req.StockCode {
			avail = p.AvailableVolume
			break
		}
	}
	ok := req.Volume <= avail
	rel := "<="
	if !ok {
		rel = ">"
	}
	return domain.RiskCheck{
		Rule:   RuleSellAvailability,
		Passed: ok,
		Detail: fmt.Sprintf("sell %d %s available %d", req.Volume, rel, avail),
	}
}

func (m *Manager) checkCashSufficient(req *domain.TradeRequest, cash float64) domain.RiskCheck {
	if req.Direction == domain.DirectionSell {
		return domain.RiskCheck{Rule: RuleCashSufficiency, Passed: true, Detail: "sell, skipped"}
	}
	amount := req.Price * float64(req.Volume)
	ok := amount <= cash
	rel := "<="
	if !ok {
		rel = ">"
	}
	return domain.RiskCheck{
		Rule:   RuleCashSufficiency,
		Passed: ok,
		Detail: fmt.Sprintf("need %.0f %s available %.0f", amount, rel, cash),
	}
}
