package strategy

import (
	"context"
	"fmt"
	"math"
	"sort"

	"qtrade/internal/domain"
	"qtrade/internal/quote"
)

var _ Strategy = (*DividendLowVol)(nil)

// dividendYields holds trailing 12-month dividend yields (%) for the pool,
// from public disclosures.
var dividendYields = map[string]float64{
	"600519": 1.8, "000858": 2.5, "601318": 3.2, "000001": 5.1, "600036": 4.8,
	"300750": 0.3, "002594": 0.1, "688981": 0.5, "603259": 1.2, "000725": 2.8,
	"002415": 1.5, "600900": 4.5, "601899": 3.8, "000568": 2.2, "600276": 1.0,
	"002475": 0.8, "601012": 2.0, "600030": 3.0, "002714": 1.6, "601888": 1.4,
	"000333": 3.5, "600309": 2.6, "601669": 4.0, "002049": 1.1, "600585": 3.3,
	"601225": 5.5, "002352": 0.6, "300059": 0.4, "688111": 0.7, "002371": 1.3,
}

// fallbackVolatility is assigned when there is too little price history to
// measure volatility; it sorts such stocks to the bottom.
const fallbackVolatility = 999.0

// DividendLowVol ranks the pool on dividend yield and realized volatility:
// high-yield low-volatility names score best. The top quintile gets buy
// signals, the bottom quintile sell.
type DividendLowVol struct {
	quotes quote.Source
}

// NewDividendLowVol creates the strategy over the given kline source.
func NewDividendLowVol(quotes quote.Source) *DividendLowVol {
	return &DividendLowVol{quotes: quotes}
}

// Name returns "dividend_low_vol".
func (s *DividendLowVol) Name() string { return "dividend_low_vol" }

type scoredStock struct {
	code       string
	name       string
	divYield   float64
	volatility float64
	divRank    float64
	volRank    float64
	score      float64
}

// GenerateSignals scores every pool stock with a known dividend yield.
// Fewer than three scoreable stocks yields no signals.
func (s *DividendLowVol) GenerateSignals(ctx context.Context, pool []domain.Quote) ([]domain.StrategySignal, error) {
	var scored []scoredStock
	for _, q := range pool {
		divYield, ok := dividendYields[q.Code]
		if !ok {
			continue
		}
		klines, err := s.quotes.Kline(ctx, q.Code, 25)
		if err != nil {
			klines = nil
		}
		scored = append(scored, scoredStock{
			code:       q.Code,
			name:       q.Name,
			divYield:   divYield,
			volatility: annualizedVolatility(klines),
		})
	}
	if len(scored) < 3 {
		return nil, fmt.Errorf("dividend_low_vol: only %d scoreable stocks", len(scored))
	}

	// Rank on each factor, 0 being best, then blend equally.
	sort.Slice(scored, func(i, j int) bool { return scored[i].divYield > scored[j].divYield })
	denom := float64(max(len(scored)-1, 1))
	for i := range scored {
		scored[i].divRank = float64(i) / denom
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].volatility < scored[j].volatility })
	for i := range scored {
		scored[i].volRank = float64(i) / denom
	}
	for i := range scored {
		scored[i].score = scored[i].divRank*0.5 + scored[i].volRank*0.5
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].score < scored[j].score })

	return s.buildSignals(scored), nil
}

func (s *DividendLowVol) buildSignals(scored []scoredStock) []domain.StrategySignal {
	n := len(scored)
	quintile := max(n/5, 1)

	signals := make([]domain.StrategySignal, 0, n)
	for i, st := range scored {
		sig := domain.StrategySignal{
			StockCode: st.code,
			StockName: st.name,
			Strategy:  s.Name(),
		}
		switch {
		case i < quintile:
			sig.Signal = "buy"
			sig.Confidence = round2(0.7 + 0.2*(1-float64(i)/float64(quintile)))
			sig.ExpectedReturn = round1(st.divYield * 0.8)
			sig.RiskLevel = "low"
			sig.Factors = []string{
				fmt.Sprintf("股息率 %.1f%%", st.divYield),
				fmt.Sprintf("波动率 %.1f%%", st.volatility*100),
				"高股息低波动",
			}
		case i >= n-quintile:
			sig.Signal = "sell"
			sig.Confidence = round2(0.5 + 0.2*float64(i-n+quintile)/float64(quintile))
			sig.ExpectedReturn = round1(-st.volatility * 10)
			sig.RiskLevel = "high"
			sig.Factors = []string{
				fmt.Sprintf("股息率 %.1f%%", st.divYield),
				fmt.Sprintf("波动率 %.1f%%", st.volatility*100),
				"低股息高波动",
			}
		default:
			sig.Signal = "hold"
			sig.Confidence = 0.4
			sig.ExpectedReturn = round1(st.divYield * 0.3)
			sig.RiskLevel = "medium"
			sig.Factors = []string{
				fmt.Sprintf("股息率 %.1f%%", st.divYield),
				"中性",
			}
		}
		signals = append(signals, sig)
	}
	return signals
}

// annualizedVolatility computes the annualized standard deviation of daily
// log returns over the given bars.
func annualizedVolatility(klines []domain.Kline) float64 {
	var closes []float64
	for _, k := range klines {
		if k.Close > 0 {
			closes = append(closes, k.Close)
		}
	}
	if len(closes) < 5 {
		return fallbackVolatility
	}

	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		returns = append(returns, math.Log(closes[i]/closes[i-1]))
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))

	return math.Sqrt(variance) * math.Sqrt(252)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round1(v float64) float64 { return math.Round(v*10) / 10 }
