// Package optimize implements the Optimizer: GridSearch and Genetic engines
// sharing the backtest simulator, grounded on internal/optimization/
// optimizer.go and internal/backtester/walkforward.go.
package optimize

import "github.com/atlas-desktop/agent-core/internal/backtest"

// Score is a pure function of a backtest.Metrics, so it can be recomputed
// after reweighting without re-simulating (spec.md §4.11 / §9 and the
// original_source optimizer's cached-result rescoring, carried forward as a
// supplemented feature).
func Score(m backtest.Metrics) float64 {
	return 0.4*m.Sharpe + 0.3*(m.TotalReturn/100) + 0.2*(m.WinRate/100) - 0.1*(m.MaxDrawdown/100)
}
