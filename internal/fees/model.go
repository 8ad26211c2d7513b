// Package fees implements the Fee Model: constant or tiered trading fees
// plus a slippage estimate, applied by both the live Executor and the
// Backtest Simulator so cost accounting stays identical in both paths.
package fees

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Tier is one volume breakpoint in a tiered fee schedule: notional at or
// above MinNotional (and below the next tier's MinNotional) pays Rate.
type Tier struct {
	MinNotional decimal.Decimal
	Rate        decimal.Decimal // fraction of notional, e.g. 0.001 = 10bps
}

// Model computes the fee and slippage estimate for a fill.
type Model struct {
	mu             sync.RWMutex
	tiers          []Tier // sorted ascending by MinNotional; empty => constant rate
	constantRate   decimal.Decimal
	baseSlippage   decimal.Decimal // flat slippage estimate, fraction of price
	volumeImpactBp decimal.Decimal // extra slippage per unit of ADV fraction consumed
}

// NewConstant builds a Model charging a flat rate on every fill's notional.
func NewConstant(rate, baseSlippage decimal.Decimal) *Model {
	return &Model{constantRate: rate, baseSlippage: baseSlippage}
}

// NewTiered builds a Model that charges the rate of the highest tier whose
// MinNotional is <= the fill's notional. tiers need not be pre-sorted.
func NewTiered(tiers []Tier, baseSlippage decimal.Decimal) *Model {
	sorted := append([]Tier(nil), tiers...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1].MinNotional.GreaterThan(sorted[j].MinNotional); j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	return &Model{tiers: sorted, baseSlippage: baseSlippage}
}

// Fee returns the commission owed on a fill of the given notional value.
func (m *Model) Fee(notional decimal.Decimal) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rate := m.constantRate
	for _, t := range m.tiers {
		if notional.GreaterThanOrEqual(t.MinNotional) {
			rate = t.Rate
		}
	}
	return notional.Abs().Mul(rate)
}

// EstimateSlippage returns the expected execution price after applying base
// slippage and, if avgDailyVolume is known and positive, a volume-impact
// term proportional to the order's share of it.
func (m *Model) EstimateSlippage(side decimal.Decimal, price, quantity, avgDailyVolume decimal.Decimal) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()

	slip := m.baseSlippage
	if avgDailyVolume.Sign() > 0 {
		participation := quantity.Div(avgDailyVolume)
		slip = slip.Add(participation.Mul(m.volumeImpactBp))
	}
	delta := price.Mul(slip)
	if side.Sign() >= 0 {
		return price.Add(delta)
	}
	return price.Sub(delta)
}

// SetVolumeImpact configures the extra slippage applied per unit of average
// daily volume consumed by an order.
func (m *Model) SetVolumeImpact(bp decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volumeImpactBp = bp
}
