// Package main wires the agent's pipeline together: Sentinel → Analyst →
// Risk Manager → Throttler → Executor, plus the Adaptive Optimization and
// Shutdown services, and dispatches run/backtest/optimize per config.Mode.
// Grounded on cmd/server/main.go's service-wiring and signal-handling
// structure.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlas-desktop/agent-core/internal/adaptive"
	"github.com/atlas-desktop/agent-core/internal/analyst"
	"github.com/atlas-desktop/agent-core/internal/backtest"
	"github.com/atlas-desktop/agent-core/internal/broker"
	"github.com/atlas-desktop/agent-core/internal/config"
	"github.com/atlas-desktop/agent-core/internal/executor"
	"github.com/atlas-desktop/agent-core/internal/fees"
	"github.com/atlas-desktop/agent-core/internal/optimize"
	"github.com/atlas-desktop/agent-core/internal/portfolio"
	"github.com/atlas-desktop/agent-core/internal/repository"
	"github.com/atlas-desktop/agent-core/internal/riskgate"
	"github.com/atlas-desktop/agent-core/internal/scanner"
	"github.com/atlas-desktop/agent-core/internal/sentinel"
	"github.com/atlas-desktop/agent-core/internal/session"
	"github.com/atlas-desktop/agent-core/internal/shutdown"
	"github.com/atlas-desktop/agent-core/internal/sizing"
	"github.com/atlas-desktop/agent-core/internal/telemetry"
	"github.com/atlas-desktop/agent-core/internal/throttle"
	"github.com/atlas-desktop/agent-core/internal/volatility"
	"github.com/atlas-desktop/agent-core/pkg/types"
)

func main() {
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	symbolFlag := flag.String("symbol", "", "Symbol to backtest/optimize (backtest/optimize modes only)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	switch cfg.Mode {
	case config.ModeBacktest:
		runBacktest(logger, cfg, *symbolFlag)
	case config.ModeOptimize:
		runOptimize(logger, cfg, *symbolFlag)
	default:
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		runLive(ctx, cancel, logger, cfg)
	}
}

// runLive wires the full pipeline and blocks until a termination signal is
// received, then runs the Shutdown Service before exiting.
func runLive(ctx context.Context, cancel context.CancelFunc, logger *zap.Logger, cfg config.AppConfig) {
	store, err := repository.NewFileStore(logger, cfg.DataDir)
	if err != nil {
		logger.Fatal("failed to open data store", zap.Error(err))
	}

	startPrices := make(map[string]decimal.Decimal, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		startPrices[symbol] = decimal.NewFromInt(100)
	}
	paperBroker := broker.NewPaperBroker(logger, startPrices, decimal.NewFromInt(100000), 1)

	startEquity := decimal.NewFromInt(100000)
	pm := portfolio.New(logger, startEquity, func() int64 { return time.Now().UnixMilli() })

	var sm *session.Manager
	if restored, ok, err := store.LoadRiskState(ctx); err != nil {
		logger.Warn("failed to load persisted risk state, starting a fresh session", zap.Error(err))
		sm = session.New(logger, startEquity, time.Now)
	} else if ok {
		logger.Info("restored risk state from previous session",
			zap.String("equity_high_water_mark", restored.EquityHighWaterMark.String()),
			zap.Int("consecutive_losses", restored.ConsecutiveLosses))
		sm = session.NewFromState(logger, startEquity, time.Now, restored)
	} else {
		sm = session.New(logger, startEquity, time.Now)
	}

	sentinelSvc := sentinel.New(logger, paperBroker)
	sentinelSvc.SetSymbols(cfg.Symbols)

	volMgr := volatility.New(20)
	sizer := sizing.New(logger, 50)

	analystSvc := analyst.New(logger, buildAnalystConfig(cfg), volMgr, sizer, equityAdapter{pm}, positionAdapter{pm}, 100)

	riskLimits := riskgate.Limits{
		MaxPositionPct:      cfg.Risk.MaxPositionPct,
		MaxSectorPct:        cfg.Risk.MaxSectorPct,
		MaxDailyDrawdownPct: cfg.Risk.MaxDailyDrawdownPct,
		MaxTotalDrawdownPct: cfg.Risk.MaxTotalDrawdownPct,
		MaxConsecutiveLoss:  cfg.Risk.MaxConsecutiveLoss,
		PDTGuardEnabled:     cfg.Risk.PDTGuardEnabled,
	}
	riskMgr := riskgate.New(logger, riskLimits, pm, sm, paperBroker, staticSectorLookup{})

	throttler := throttle.New(logger, cfg.Throttle.OrdersPerSecond, cfg.Throttle.Burst, 100)

	feeModel := fees.NewConstant(decimal.NewFromFloat(0.001), decimal.NewFromFloat(0.0005))
	monitor := executor.NewMonitor(30 * time.Second)
	exec := executor.New(logger, paperBroker, pm, monitor, feeModel, store)

	var telemetrySvc *telemetry.Server
	if cfg.Observability.Enabled {
		telemetrySvc = telemetry.New(logger, cfg.Observability.ListenAddr, pm, sm, paperBroker, func() map[string]float64 {
			prices := sentinelSvc.LastPrices()
			out := make(map[string]float64, len(prices))
			for sym, p := range prices {
				f, _ := p.Float64()
				out[sym] = f
			}
			return out
		})
	}

	grid := optimize.ParameterGrid{
		FastSMAValues: []int{5, 8, 10, 13, 20},
		SlowSMAValues: []int{20, 30, 40, 50, 60},
	}
	adaptiveSvc := adaptive.New(logger, cfg.Adaptive, cfg.Symbols, candleSourceAdapter{broker: paperBroker}, store, feeModel, decimal.NewFromInt(100000), grid)

	shutdownSvc := shutdown.New(logger, paperBroker, pm, sm, store, shutdown.Options{FlattenPositions: true, LiquidationTimeout: 30 * time.Second})

	subscribed := sentinelSvc.Subscribe(ctx)
	proposals := analystSvc.Proposals()
	throttledOut := throttler.Out()

	go runOrGrumble(logger, "sentinel", func() error { return sentinelSvc.Run(ctx) })
	go runOrGrumble(logger, "analyst", func() error { return analystSvc.Run(ctx, subscribed) })
	go runOrGrumble(logger, "executor", func() error { return exec.Run(ctx, throttledOut) })
	go runOrGrumble(logger, "throttle", func() error { return throttler.Run(ctx) })
	go runOrGrumble(logger, "adaptive", func() error { return adaptiveSvc.Run(ctx) })
	if telemetrySvc != nil {
		go runOrGrumble(logger, "telemetry", func() error { return telemetrySvc.Run(ctx) })
	}

	if len(cfg.Symbols) > 0 {
		sc := scanner.New(logger, cfg.Symbols, candleMoveRanker{store: store}, heldSymbolsAdapter{pm}, len(cfg.Symbols), time.Minute)
		sc.OnSelection(func(selected []string) { sentinelSvc.SetSymbols(selected) })
		go runOrGrumble(logger, "scanner", func() error { return sc.Run(ctx) })
	}

	go func() {
		prices := map[string]decimal.Decimal{}
		for proposal := range proposals {
			prices[proposal.Symbol] = proposal.Price
			order, reject := riskMgr.Evaluate(ctx, proposal, prices)
			if reject != riskgate.RejectNone {
				logger.Info("proposal rejected", zap.String("symbol", proposal.Symbol), zap.String("reason", string(reject)))
				continue
			}
			throttler.Submit(order)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	cancel()
	shutdownSvc.Run(context.Background())
	logger.Info("agent stopped")
}

// runBacktest replays stored candle history for one symbol through the
// deterministic simulator and prints the resulting objective metrics.
func runBacktest(logger *zap.Logger, cfg config.AppConfig, symbol string) {
	if symbol == "" && len(cfg.Symbols) > 0 {
		symbol = cfg.Symbols[0]
	}
	if symbol == "" {
		logger.Fatal("backtest mode requires -symbol or at least one configured symbol")
	}

	store, err := repository.NewFileStore(logger, cfg.DataDir)
	if err != nil {
		logger.Fatal("failed to open data store", zap.Error(err))
	}

	candles, err := store.LoadCandles(context.Background(), symbol, 0)
	if err != nil || len(candles) == 0 {
		logger.Fatal("no stored candles for symbol", zap.String("symbol", symbol), zap.Error(err))
	}

	feeModel := fees.NewConstant(decimal.NewFromFloat(0.001), decimal.NewFromFloat(0.0005))
	result, err := backtest.Run(backtest.Input{
		Symbol: symbol, Candles: candles, Config: buildAnalystConfig(cfg),
		InitialEquity: decimal.NewFromInt(100000), Fees: feeModel,
	})
	if err != nil {
		logger.Fatal("backtest run failed", zap.Error(err))
	}

	metrics := backtest.Compute(result)
	fmt.Printf("symbol=%s trades=%d sharpe=%.3f total_return_pct=%.2f max_drawdown_pct=%.2f win_rate_pct=%.2f\n",
		symbol, metrics.TotalTrades, metrics.Sharpe, metrics.TotalReturn, metrics.MaxDrawdown, metrics.WinRate)
}

// runOptimize sweeps a grid of fast/slow SMA periods for one symbol and
// prints the best surviving configuration of a 70/30 walk-forward split,
// ranked by out-of-sample Sharpe.
func runOptimize(logger *zap.Logger, cfg config.AppConfig, symbol string) {
	if symbol == "" && len(cfg.Symbols) > 0 {
		symbol = cfg.Symbols[0]
	}
	if symbol == "" {
		logger.Fatal("optimize mode requires -symbol or at least one configured symbol")
	}

	store, err := repository.NewFileStore(logger, cfg.DataDir)
	if err != nil {
		logger.Fatal("failed to open data store", zap.Error(err))
	}

	candles, err := store.LoadCandles(context.Background(), symbol, 0)
	if err != nil || len(candles) == 0 {
		logger.Fatal("no stored candles for symbol", zap.String("symbol", symbol), zap.Error(err))
	}

	feeModel := fees.NewConstant(decimal.NewFromFloat(0.001), decimal.NewFromFloat(0.0005))
	grid := optimize.ParameterGrid{
		Base:          buildAnalystConfig(cfg),
		FastSMAValues: []int{5, 8, 10, 13, 20},
		SlowSMAValues: []int{20, 30, 40, 50, 60},
	}

	results, err := optimize.RunGridSearch(logger, optimize.GridSearchInput{
		Symbol: symbol, Candles: candles, Grid: grid,
		InitialEquity: decimal.NewFromInt(100000), Fees: feeModel, TrainRatio: 0.7,
	})
	if err != nil || len(results) == 0 {
		logger.Fatal("grid search produced no surviving configuration", zap.Error(err))
	}

	best := results[0]
	if err := store.SaveConfig(context.Background(), symbol, best.Config); err != nil {
		logger.Error("failed to persist optimized parameters", zap.Error(err))
	}
	fmt.Printf("symbol=%s fast_sma=%d slow_sma=%d objective_score=%.4f sharpe=%.3f\n",
		symbol, best.Config.FastSMAPeriod, best.Config.SlowSMAPeriod, best.ObjectiveScore, best.Metrics.Sharpe)
}

func buildAnalystConfig(cfg config.AppConfig) types.AnalystConfig {
	return types.AnalystConfig{
		FastSMAPeriod:          10,
		SlowSMAPeriod:          30,
		RSIPeriod:              14,
		RSIOverbought:          decimal.NewFromInt(70),
		RSIOversold:            decimal.NewFromInt(30),
		MACDFast:               12,
		MACDSlow:               26,
		MACDSignal:             9,
		ATRPeriod:              14,
		ADXPeriod:              14,
		BBPeriod:               20,
		BBStdDev:               decimal.NewFromFloat(2),
		RiskPerTradePercent:    cfg.Analyst.RiskPerTradePercent,
		StrategyMode:           cfg.Analyst.StrategyMode,
		MaxPositionSizePct:     cfg.Analyst.MaxPositionSizePct,
		RiskAppetiteScore:      cfg.Analyst.RiskAppetiteScore,
		OrderCooldownSeconds:   30,
		SignalConfirmationBars: 2,
		MaxLossPerTradePct:     decimal.NewFromFloat(0.02),
	}
}

func runOrGrumble(logger *zap.Logger, name string, fn func() error) {
	if err := fn(); err != nil {
		logger.Error("service exited with error", zap.String("service", name), zap.Error(err))
	}
}

// equityAdapter lets portfolio.Manager satisfy analyst.EquitySource without
// the portfolio package importing the analyst package back.
type equityAdapter struct{ pm *portfolio.Manager }

func (a equityAdapter) Equity(prices map[string]decimal.Decimal) decimal.Decimal {
	snap := a.pm.Snapshot()
	return snap.Portfolio.Equity(prices)
}

// positionAdapter lets portfolio.Manager satisfy analyst.PositionSource.
type positionAdapter struct{ pm *portfolio.Manager }

func (a positionAdapter) Position(symbol string) (types.Position, bool) {
	snap := a.pm.Snapshot()
	pos, ok := snap.Portfolio.Positions[symbol]
	if !ok {
		return types.Position{}, false
	}
	return *pos, true
}

// heldSymbolsAdapter lets portfolio.Manager satisfy scanner.HeldSymbols.
type heldSymbolsAdapter struct{ pm *portfolio.Manager }

func (a heldSymbolsAdapter) HeldSymbols() []string {
	snap := a.pm.Snapshot()
	out := make([]string, 0, len(snap.Portfolio.Positions))
	for symbol := range snap.Portfolio.Positions {
		out = append(out, symbol)
	}
	return out
}

// staticSectorLookup is a small hardcoded classification for the crypto
// pairs this agent trades; the spec's sector-exposure check is venue-
// agnostic, and no pack repo carries a richer sector reference service.
type staticSectorLookup struct{}

func (staticSectorLookup) Sector(symbol string) (string, error) {
	switch symbol {
	case "BTCUSDT", "BTC/USDT", "BTC-USD":
		return "store-of-value", nil
	case "ETHUSDT", "ETH/USDT", "ETH-USD":
		return "smart-contract-platform", nil
	default:
		return "altcoin", nil
	}
}

// candleSourceAdapter lets a broker.MarketDataService satisfy
// adaptive.CandleSource.
type candleSourceAdapter struct{ broker broker.MarketDataService }

func (a candleSourceAdapter) RecentCandles(ctx context.Context, symbol string, limit int) ([]types.Candle, error) {
	return a.broker.HistoricalCandles(ctx, symbol, limit)
}

// candleMoveRanker satisfies scanner.MoveRanker from stored candle history:
// the percent move over the most recent 12 five-minute bars (an hour),
// aggregated from the raw 1-minute series to smooth single-bar noise.
type candleMoveRanker struct{ store *repository.FileStore }

func (r candleMoveRanker) PercentMove(ctx context.Context, symbol string) (decimal.Decimal, error) {
	bars, err := r.store.LoadTimeframeCandles(ctx, symbol, 12, 5, types.Timeframe5m)
	if err != nil || len(bars) < 2 {
		return decimal.Zero, err
	}
	first := bars[0].Close
	last := bars[len(bars)-1].Close
	if first.IsZero() {
		return decimal.Zero, nil
	}
	return last.Sub(first).Div(first), nil
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	zcfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
