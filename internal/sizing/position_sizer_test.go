package sizing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestSize_RiskBudgetGovernsQuantityWhenUnderPositionCap(t *testing.T) {
	s := New(zap.NewNop(), 100)
	res := s.Size(Request{
		Equity:              decimal.NewFromInt(100000),
		CurrentPrice:        decimal.NewFromInt(100),
		StopPrice:           decimal.NewFromInt(95), // 5 risk per unit
		RiskPerTradePercent: decimal.NewFromFloat(0.01),
		MaxPositionSizePct:  decimal.NewFromFloat(1),
		RiskAppetiteScore:   5, // neutral multiplier == 1.0
		VolatilityMult:      1.0,
	})

	// riskBudget = 100000 * 0.01 * 1.0 * 1.0 = 1000; quantity = 1000/5 = 200
	assert.True(t, res.Quantity.Equal(decimal.NewFromInt(200)))
	assert.Equal(t, "risk_budget", res.LimitingFactor)
}

func TestSize_MaxPositionPctCapsOversizedRiskBudget(t *testing.T) {
	s := New(zap.NewNop(), 100)
	res := s.Size(Request{
		Equity:              decimal.NewFromInt(100000),
		CurrentPrice:        decimal.NewFromInt(100),
		StopPrice:           decimal.NewFromInt(99), // tight stop -> large quantity
		RiskPerTradePercent: decimal.NewFromFloat(0.5),
		MaxPositionSizePct:  decimal.NewFromFloat(0.1), // cap notional at 10000
		RiskAppetiteScore:   5,
		VolatilityMult:      1.0,
	})

	assert.Equal(t, "max_position_pct", res.LimitingFactor)
	assert.True(t, res.Quantity.Equal(decimal.NewFromInt(100))) // 10000/100
}

func TestSize_InvalidStopYieldsZeroQuantity(t *testing.T) {
	s := New(zap.NewNop(), 100)
	res := s.Size(Request{
		Equity:       decimal.NewFromInt(1000),
		CurrentPrice: decimal.NewFromInt(100),
		StopPrice:    decimal.NewFromInt(100), // zero stop distance
	})
	assert.Equal(t, "invalid_stop", res.LimitingFactor)
	assert.True(t, res.Quantity.IsZero())
}

func TestSize_LotSizeRoundsQuantityDown(t *testing.T) {
	s := New(zap.NewNop(), 100)
	res := s.Size(Request{
		Equity:              decimal.NewFromInt(100000),
		CurrentPrice:        decimal.NewFromInt(100),
		StopPrice:           decimal.NewFromInt(95),
		RiskPerTradePercent: decimal.NewFromFloat(0.01),
		MaxPositionSizePct:  decimal.NewFromFloat(1),
		RiskAppetiteScore:   5,
		VolatilityMult:      1.0,
		LotSize:             decimal.NewFromInt(3),
	})
	// Unrounded quantity is 200, not a multiple of 3: 200/3=66.67 -> floor 66 -> 66*3=198
	assert.True(t, res.Quantity.Equal(decimal.NewFromInt(198)))
}

func TestRecordTradeAndStats_ComputesWinRateAndExpectancy(t *testing.T) {
	s := New(zap.NewNop(), 10)
	s.RecordTrade(TradeResult{Symbol: "BTC", ReturnPct: 0.02, IsWin: true})
	s.RecordTrade(TradeResult{Symbol: "BTC", ReturnPct: -0.01, IsWin: false})

	stats := s.Stats()
	assert.Equal(t, 2, stats.TotalTrades)
	assert.Equal(t, 0.5, stats.WinRate)
	assert.InDelta(t, 0.005, stats.Expectancy, 1e-9)
}
