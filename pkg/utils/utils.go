// Package utils provides the one decimal-rounding helper the sizing package
// needs for lot-size compliance. The teacher's broader utility grab-bag (ID
// generation, Sharpe/drawdown stats, EMA/SMA, time formatting) is covered
// elsewhere now: repository/session/uuid for IDs, internal/backtest for
// performance stats, internal/analyst for EMA/SMA.
package utils

import "github.com/shopspring/decimal"

// RoundToStepSize rounds a quantity down to the nearest stepSize increment,
// the way an exchange rejects orders that don't land on its lot size.
func RoundToStepSize(qty, stepSize decimal.Decimal) decimal.Decimal {
	if stepSize.IsZero() {
		return qty
	}
	return qty.Div(stepSize).Floor().Mul(stepSize)
}
