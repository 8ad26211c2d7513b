// Package repository declares persistence interfaces for candles, trades,
// strategy configs, and risk state, plus one JSON-file-backed reference
// implementation, grounded on the teacher's data.Store (a directory of
// per-symbol JSON blobs with an in-memory cache).
package repository

import (
	"context"

	"github.com/atlas-desktop/agent-core/pkg/types"
)

// CandleRepository persists and serves historical candles.
type CandleRepository interface {
	SaveCandles(ctx context.Context, symbol string, candles []types.Candle) error
	LoadCandles(ctx context.Context, symbol string, limit int) ([]types.Candle, error)
}

// TradeRepository persists completed trades (filled orders) for later
// analysis by the Adaptive Optimization Service and reporting.
type TradeRepository interface {
	SaveTrade(ctx context.Context, order types.Order) error
	RecentTrades(ctx context.Context, symbol string, limit int) ([]types.Order, error)
}

// StrategyRepository persists the AnalystConfig the optimizer last
// selected, so a restart resumes with the latest tuned parameters.
type StrategyRepository interface {
	SaveConfig(ctx context.Context, symbol string, cfg types.AnalystConfig) error
	LoadConfig(ctx context.Context, symbol string) (types.AnalystConfig, bool, error)
}

// RiskStateRepository persists the session/drawdown RiskState across
// restarts.
type RiskStateRepository interface {
	SaveRiskState(ctx context.Context, state types.RiskState) error
	LoadRiskState(ctx context.Context) (types.RiskState, bool, error)
}
