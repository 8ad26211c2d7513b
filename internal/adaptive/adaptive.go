// Package adaptive implements the Adaptive Optimization Service: a periodic
// loop that captures rolling performance snapshots, detects a reoptimization
// trigger (rolling Sharpe below floor, or a large drawdown), invokes the
// optimizer, and persists the chosen parameters back to the strategy
// repository. Grounded on internal/learning/feedback.go's performance
// tracking and internal/orchestrator/orchestrator.go's periodic trigger loop.
package adaptive

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/agent-core/internal/backtest"
	"github.com/atlas-desktop/agent-core/internal/config"
	"github.com/atlas-desktop/agent-core/internal/fees"
	"github.com/atlas-desktop/agent-core/internal/optimize"
	"github.com/atlas-desktop/agent-core/internal/repository"
	"github.com/atlas-desktop/agent-core/pkg/types"
)

// Snapshot is one evaluation-hour performance capture.
type Snapshot struct {
	At          time.Time
	Symbol      string
	Sharpe      float64
	DrawdownPct float64
	TotalTrades int
}

// CandleSource supplies the recent candle history an evaluation cycle scores
// the currently active parameters against, and the candles a reoptimization
// run sweeps over.
type CandleSource interface {
	RecentCandles(ctx context.Context, symbol string, limit int) ([]types.Candle, error)
}

// Service runs the periodic evaluate-and-maybe-reoptimize loop.
type Service struct {
	logger   *zap.Logger
	cfg      config.AdaptiveConfig
	symbols  []string
	candles  CandleSource
	strategy repository.StrategyRepository
	fees     *fees.Model
	equity   decimal.Decimal
	grid     optimize.ParameterGrid

	history []Snapshot
}

// New constructs a Service. grid is the ParameterGrid a reoptimization run
// sweeps when a trigger fires.
func New(logger *zap.Logger, cfg config.AdaptiveConfig, symbols []string, candles CandleSource, strategy repository.StrategyRepository, feeModel *fees.Model, startEquity decimal.Decimal, grid optimize.ParameterGrid) *Service {
	return &Service{
		logger:   logger.Named("adaptive"),
		cfg:      cfg,
		symbols:  symbols,
		candles:  candles,
		strategy: strategy,
		fees:     feeModel,
		equity:   startEquity,
		grid:     grid,
	}
}

// Run loops until ctx is cancelled, evaluating every CheckInterval.
func (s *Service) Run(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.logger.Info("adaptive optimization disabled")
		return nil
	}

	interval := s.cfg.CheckInterval
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.evaluateOnce(ctx)
		}
	}
}

func (s *Service) evaluateOnce(ctx context.Context) {
	for _, symbol := range s.symbols {
		cfg, ok, err := s.strategy.LoadConfig(ctx, symbol)
		if err != nil || !ok {
			s.logger.Warn("adaptive: no active parameters, skipping evaluation", zap.String("symbol", symbol), zap.Error(err))
			continue
		}

		candles, err := s.candles.RecentCandles(ctx, symbol, 500)
		if err != nil || len(candles) < 30 {
			continue
		}

		result, err := backtest.Run(backtest.Input{
			Symbol: symbol, Candles: candles, Config: cfg,
			InitialEquity: s.equity, Fees: s.fees,
		})
		if err != nil {
			s.logger.Warn("adaptive: evaluation backtest failed", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		metrics := backtest.Compute(result)

		snap := Snapshot{At: s.now(), Symbol: symbol, Sharpe: metrics.Sharpe, DrawdownPct: metrics.MaxDrawdown, TotalTrades: metrics.TotalTrades}
		s.history = append(s.history, snap)

		if metrics.TotalTrades < s.cfg.MinTradesForEval {
			continue
		}

		if s.triggerFires(metrics) {
			s.logger.Info("adaptive: reoptimization trigger fired",
				zap.String("symbol", symbol),
				zap.Float64("sharpe", metrics.Sharpe),
				zap.Float64("drawdown_pct", metrics.MaxDrawdown),
			)
			s.reoptimize(ctx, symbol, candles, cfg)
		}
	}
}

// triggerFires reports whether rolling Sharpe has fallen below the floor or
// drawdown has crossed the configured threshold.
func (s *Service) triggerFires(m backtest.Metrics) bool {
	if m.Sharpe < s.cfg.SharpeFloor {
		return true
	}
	triggerPct, _ := s.cfg.DrawdownTriggerPct.Float64()
	return triggerPct > 0 && m.MaxDrawdown/100 >= triggerPct
}

func (s *Service) reoptimize(ctx context.Context, symbol string, candles []types.Candle, base types.AnalystConfig) {
	grid := s.grid
	grid.Base = base

	results, err := optimize.RunGridSearch(s.logger, optimize.GridSearchInput{
		Symbol: symbol, Candles: candles, Grid: grid,
		InitialEquity: s.equity, Fees: s.fees, TrainRatio: 0.7,
	})
	if err != nil || len(results) == 0 {
		s.logger.Warn("adaptive: reoptimization produced no candidate", zap.String("symbol", symbol), zap.Error(err))
		return
	}

	best := results[0]
	if err := s.strategy.SaveConfig(ctx, symbol, best.Config); err != nil {
		s.logger.Error("adaptive: failed to persist reoptimized parameters", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	s.logger.Info("adaptive: persisted reoptimized parameters",
		zap.String("symbol", symbol),
		zap.Float64("objective_score", best.ObjectiveScore),
	)
}

// now returns the wall clock; the adaptive loop's cadence is
// wall-clock-driven (unlike the deterministic backtest simulator).
func (s *Service) now() time.Time { return time.Now() }

// History returns the captured snapshots, most recent last.
func (s *Service) History() []Snapshot {
	out := make([]Snapshot, len(s.history))
	copy(out, s.history)
	return out
}
