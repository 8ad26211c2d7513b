package fees

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestConstant_FeeChargesFlatRate(t *testing.T) {
	m := NewConstant(decimal.NewFromFloat(0.001), decimal.Zero)
	fee := m.Fee(decimal.NewFromInt(10000))
	assert.True(t, fee.Equal(decimal.NewFromInt(10)))
}

func TestTiered_FeeUsesHighestApplicableTier(t *testing.T) {
	m := NewTiered([]Tier{
		{MinNotional: decimal.Zero, Rate: decimal.NewFromFloat(0.002)},
		{MinNotional: decimal.NewFromInt(10000), Rate: decimal.NewFromFloat(0.001)},
		{MinNotional: decimal.NewFromInt(100000), Rate: decimal.NewFromFloat(0.0005)},
	}, decimal.Zero)

	assert.True(t, m.Fee(decimal.NewFromInt(5000)).Equal(decimal.NewFromInt(10)))
	assert.True(t, m.Fee(decimal.NewFromInt(50000)).Equal(decimal.NewFromInt(50)))
	assert.True(t, m.Fee(decimal.NewFromInt(200000)).Equal(decimal.NewFromInt(100)))
}

func TestEstimateSlippage_WidensPriceInTradeDirection(t *testing.T) {
	m := NewConstant(decimal.Zero, decimal.NewFromFloat(0.01))

	buyPrice := m.EstimateSlippage(decimal.NewFromInt(1), decimal.NewFromInt(100), decimal.NewFromInt(10), decimal.Zero)
	assert.True(t, buyPrice.Equal(decimal.NewFromInt(101)))

	sellPrice := m.EstimateSlippage(decimal.NewFromInt(-1), decimal.NewFromInt(100), decimal.NewFromInt(10), decimal.Zero)
	assert.True(t, sellPrice.Equal(decimal.NewFromInt(99)))
}
