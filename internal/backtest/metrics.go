package backtest

import (
	"math"

	"github.com/shopspring/decimal"
)

// Metrics summarizes a Result for the optimizer's objective function,
// grounded on internal/backtester/metrics.go's Sharpe/drawdown/win-rate
// computations.
type Metrics struct {
	Sharpe      float64
	TotalReturn float64
	MaxDrawdown float64
	WinRate     float64
	TotalTrades int
}

// Compute derives Metrics from a Result's trades and daily closes.
func Compute(r Result) Metrics {
	m := Metrics{TotalReturn: r.TotalReturnPct, TotalTrades: len(r.Trades)}

	if len(r.Trades) > 0 {
		wins := 0
		for _, t := range r.Trades {
			if t.PnL.Sign() > 0 {
				wins++
			}
		}
		m.WinRate = float64(wins) / float64(len(r.Trades)) * 100
	}

	m.Sharpe = sharpeRatio(r.DailyCloses)
	m.MaxDrawdown = maxDrawdownPct(r.DailyCloses)
	return m
}

// sharpeRatio computes an annualized Sharpe ratio (assuming one bar per
// trading day; callers on finer timeframes get a proportionally scaled but
// still comparable figure, acceptable since the optimizer only compares
// Sharpe across configs on the same timeframe).
func sharpeRatio(closes []decimal.Decimal) float64 {
	if len(closes) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		prev, _ := closes[i-1].Float64()
		cur, _ := closes[i].Float64()
		if prev == 0 {
			continue
		}
		returns = append(returns, (cur-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	stdDev := math.Sqrt(variance)
	if stdDev == 0 {
		return 0
	}
	return (mean / stdDev) * math.Sqrt(252)
}

func maxDrawdownPct(closes []decimal.Decimal) float64 {
	if len(closes) == 0 {
		return 0
	}
	peak, _ := closes[0].Float64()
	maxDD := 0.0
	for _, c := range closes {
		v, _ := c.Float64()
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := (peak - v) / peak * 100
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}
