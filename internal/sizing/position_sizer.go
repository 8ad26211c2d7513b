// Package sizing computes the Analyst's position size: a risk-per-trade
// percentage of equity, scaled by the Volatility Manager's multiplier and
// the configured risk-appetite score, bounded by max position size.
package sizing

import (
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/agent-core/pkg/utils"
)

// Sizer turns a TradeProposal's stop distance into a position size.
type Sizer struct {
	logger *zap.Logger

	mu           sync.RWMutex
	tradeHistory []TradeResult
	lookback     int
}

// TradeResult is one closed trade's outcome, used to derive win rate and
// expectancy (see Stats).
type TradeResult struct {
	Symbol    string
	ReturnPct float64
	IsWin     bool
}

// New builds a Sizer whose trade history keeps at least the last lookback
// outcomes; RecordTrade trims it back to lookback once it exceeds twice that.
func New(logger *zap.Logger, lookback int) *Sizer {
	if lookback <= 0 {
		lookback = 100
	}
	return &Sizer{logger: logger, lookback: lookback}
}

// Request carries everything the Sizer needs to size one proposal.
type Request struct {
	Equity              decimal.Decimal
	CurrentPrice        decimal.Decimal
	StopPrice           decimal.Decimal
	RiskPerTradePercent decimal.Decimal // from AnalystConfig
	MaxPositionSizePct  decimal.Decimal // from AnalystConfig
	RiskAppetiteScore   int             // 1-9, from AnalystConfig
	VolatilityMult      float64         // from volatility.Manager
	LotSize             decimal.Decimal // exchange step size; zero means unrounded
}

// Result is the sized outcome: quantity in units, plus the bookkeeping that
// produced it.
type Result struct {
	Quantity       decimal.Decimal
	NotionalPct    float64
	RiskAmount     decimal.Decimal
	LimitingFactor string
}

// Size computes the order quantity for req. The base risk budget is
// RiskPerTradePercent of equity, scaled by appetiteMultiplier(score) and by
// VolatilityMult, then divided by the stop distance (risk per unit) to get
// quantity, and finally capped so notional never exceeds MaxPositionSizePct
// of equity.
func (s *Sizer) Size(req Request) Result {
	stopDistance := req.CurrentPrice.Sub(req.StopPrice).Abs()
	if stopDistance.Sign() <= 0 || req.CurrentPrice.Sign() <= 0 {
		return Result{LimitingFactor: "invalid_stop"}
	}

	appetite := appetiteMultiplier(req.RiskAppetiteScore)
	volMult := req.VolatilityMult
	if volMult <= 0 {
		volMult = 1.0
	}

	riskBudget := req.Equity.Mul(req.RiskPerTradePercent).
		Mul(decimal.NewFromFloat(appetite)).
		Mul(decimal.NewFromFloat(volMult))

	quantity := riskBudget.Div(stopDistance)
	notional := quantity.Mul(req.CurrentPrice)
	maxNotional := req.Equity.Mul(req.MaxPositionSizePct)

	limiting := "risk_budget"
	if notional.GreaterThan(maxNotional) && req.CurrentPrice.Sign() > 0 {
		quantity = maxNotional.Div(req.CurrentPrice)
		notional = maxNotional
		limiting = "max_position_pct"
	}

	if req.LotSize.Sign() > 0 {
		quantity = utils.RoundToStepSize(quantity, req.LotSize)
		notional = quantity.Mul(req.CurrentPrice)
	}

	notionalPct := 0.0
	if eq, _ := req.Equity.Float64(); eq > 0 {
		n, _ := notional.Float64()
		notionalPct = n / eq
	}

	return Result{
		Quantity:       quantity,
		NotionalPct:    notionalPct,
		RiskAmount:     riskBudget,
		LimitingFactor: limiting,
	}
}

// appetiteMultiplier maps the 1-9 risk-appetite score onto a [0.4, 1.8]
// multiplier, piecewise linear through the neutral midpoint (1 -> 0.4,
// 5 -> 1.0, 9 -> 1.8), grounded on the Kelly-fraction scaling the teacher
// applied uniformly across all trades.
func appetiteMultiplier(score int) float64 {
	if score < 1 {
		score = 1
	}
	if score > 9 {
		score = 9
	}
	if score <= 5 {
		return 0.4 + (float64(score)-1.0)*(1.0-0.4)/4.0
	}
	return 1.0 + (float64(score)-5.0)*(1.8-1.0)/4.0
}

// RecordTrade appends a closed trade's outcome for win-rate bookkeeping.
func (s *Sizer) RecordTrade(r TradeResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tradeHistory = append(s.tradeHistory, r)
	if len(s.tradeHistory) > s.lookback*2 {
		s.tradeHistory = s.tradeHistory[len(s.tradeHistory)-s.lookback:]
	}
}

// Stats summarizes the retained trade history.
type Stats struct {
	TotalTrades int
	WinRate     float64
	Expectancy  float64
}

// Stats computes win rate and expectancy over the retained trade history.
func (s *Sizer) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.tradeHistory) == 0 {
		return Stats{}
	}
	var wins int
	var sumReturns float64
	for _, t := range s.tradeHistory {
		sumReturns += t.ReturnPct
		if t.IsWin {
			wins++
		}
	}
	n := len(s.tradeHistory)
	return Stats{
		TotalTrades: n,
		WinRate:     float64(wins) / float64(n),
		Expectancy:  sumReturns / float64(n),
	}
}
