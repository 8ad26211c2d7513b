// Package backtest implements the Backtest Simulator: replaying historical
// candles for one symbol against a configured strategy and an in-memory
// fill model, deterministically. Grounded on internal/backtester/engine.go's
// event-driven structure, simplified to a single-symbol synchronous replay
// loop (no wall-clock dependence, no goroutines) so identical inputs always
// produce identical output.
package backtest

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/agent-core/internal/analyst"
	"github.com/atlas-desktop/agent-core/internal/fees"
	"github.com/atlas-desktop/agent-core/pkg/types"
)

// Trade is one closed round-trip recorded during a run.
type Trade struct {
	Symbol       string
	Side         types.OrderSide
	EntryPrice   decimal.Decimal
	ExitPrice    decimal.Decimal
	Quantity     decimal.Decimal
	PnL          decimal.Decimal
	EntryTime    int64
	ExitTime     int64
}

// Result is the deterministic output of one Run.
type Result struct {
	Trades        []Trade
	DailyCloses   []decimal.Decimal
	InitialEquity decimal.Decimal
	FinalEquity   decimal.Decimal
	TotalReturnPct float64
	Alpha         float64
	Beta          float64
}

// Input parameterizes one backtest run.
type Input struct {
	Symbol         string
	Candles        []types.Candle
	Benchmark      []types.Candle // optional, for alpha/beta
	Config         types.AnalystConfig
	InitialEquity  decimal.Decimal
	Fees           *fees.Model
}

// Run replays Candles bar-by-bar through the same strategy-dispatch logic
// the live Analyst uses, applying Fees to every fill, and returns the
// resulting trades/equity curve/alpha/beta. Determinism: no wall-clock
// reads, no goroutines, no map iteration in the hot path.
func Run(input Input) (Result, error) {
	if len(input.Candles) == 0 {
		return Result{}, fmt.Errorf("backtest run for %s: no candles supplied", input.Symbol)
	}
	if input.Fees == nil {
		return Result{}, fmt.Errorf("backtest run for %s: fee model required", input.Symbol)
	}

	params := analyst.Params{
		FastSMAPeriod: input.Config.FastSMAPeriod,
		SlowSMAPeriod: input.Config.SlowSMAPeriod,
		RSIPeriod:     input.Config.RSIPeriod,
		MACDFast:      input.Config.MACDFast,
		MACDSlow:      input.Config.MACDSlow,
		MACDSignal:    input.Config.MACDSignal,
		ATRPeriod:     input.Config.ATRPeriod,
		ADXPeriod:     input.Config.ADXPeriod,
		BBPeriod:      input.Config.BBPeriod,
		BBStdDev:      analyst.AsFloat(input.Config.BBStdDev),
	}
	indicators := analyst.NewIndicatorState(len(input.Candles) + 1)

	equity := input.InitialEquity
	cash := input.InitialEquity
	var position decimal.Decimal
	var avgEntry decimal.Decimal
	var entryTime int64

	var trades []Trade
	closes := make([]decimal.Decimal, 0, len(input.Candles))
	mode := analyst.StrategyMode(input.Config.StrategyMode)

	for _, bar := range input.Candles {
		high, _ := bar.High.Float64()
		low, _ := bar.Low.Float64()
		close, _ := bar.Close.Float64()
		indicators.Update(params, high, low, close)
		closes = append(closes, bar.Close)

		hasPosition := position.Sign() != 0
		sig := analyst.Evaluate(mode, analyst.Context{
			Symbol:       input.Symbol,
			Price:        close,
			Indicators:   indicators,
			HasPosition:  hasPosition,
			PositionLong: position.Sign() > 0,
		})
		if sig == nil {
			continue
		}

		qty := sizeFor(input.Config, equity, bar.Close)
		if qty.Sign() <= 0 {
			continue
		}

		fillPrice := input.Fees.EstimateSlippage(sideSign(sig.Side), bar.Close, qty, decimal.Zero)
		notional := fillPrice.Mul(qty)
		fee := input.Fees.Fee(notional)

		switch {
		case sig.Side == types.OrderSideBuy && position.Sign() <= 0:
			if position.Sign() < 0 {
				pnl := avgEntry.Sub(fillPrice).Mul(position.Abs()).Sub(fee)
				trades = append(trades, Trade{Symbol: input.Symbol, Side: types.OrderSideBuy, EntryPrice: avgEntry, ExitPrice: fillPrice, Quantity: position.Abs(), PnL: pnl, EntryTime: entryTime, ExitTime: bar.Timestamp})
				cash = cash.Add(pnl)
				position = decimal.Zero
			}
			cash = cash.Sub(notional).Sub(fee)
			position = position.Add(qty)
			avgEntry = fillPrice
			entryTime = bar.Timestamp
		case sig.Side == types.OrderSideSell && position.Sign() > 0:
			pnl := fillPrice.Sub(avgEntry).Mul(position).Sub(fee)
			trades = append(trades, Trade{Symbol: input.Symbol, Side: types.OrderSideSell, EntryPrice: avgEntry, ExitPrice: fillPrice, Quantity: position, PnL: pnl, EntryTime: entryTime, ExitTime: bar.Timestamp})
			cash = cash.Add(notional).Sub(fee)
			position = decimal.Zero
		}

		equity = cash.Add(position.Mul(bar.Close))
	}

	finalEquity := cash.Add(position.Mul(lastClose(input.Candles)))
	totalReturnPct := 0.0
	if input.InitialEquity.Sign() > 0 {
		ratio, _ := finalEquity.Sub(input.InitialEquity).Div(input.InitialEquity).Float64()
		totalReturnPct = ratio * 100
	}

	alpha, beta := alphaBeta(closes, input.Benchmark)

	return Result{
		Trades:         trades,
		DailyCloses:    closes,
		InitialEquity:  input.InitialEquity,
		FinalEquity:    finalEquity,
		TotalReturnPct: totalReturnPct,
		Alpha:          alpha,
		Beta:           beta,
	}, nil
}

func lastClose(candles []types.Candle) decimal.Decimal {
	if len(candles) == 0 {
		return decimal.Zero
	}
	return candles[len(candles)-1].Close
}

func sideSign(side types.OrderSide) decimal.Decimal {
	if side == types.OrderSideBuy {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(-1)
}

func sizeFor(cfg types.AnalystConfig, equity, price decimal.Decimal) decimal.Decimal {
	if cfg.TradeQuantity.Sign() > 0 {
		return cfg.TradeQuantity
	}
	if price.Sign() <= 0 || cfg.MaxPositionSizePct.Sign() <= 0 {
		return decimal.Zero
	}
	notional := equity.Mul(cfg.MaxPositionSizePct)
	return notional.Div(price)
}

// alphaBeta computes simple linear-regression alpha/beta of strategy
// returns against benchmark returns, or (0,0) if no benchmark is supplied.
func alphaBeta(closes []decimal.Decimal, benchmark []types.Candle) (float64, float64) {
	if len(benchmark) < 2 || len(closes) < 2 {
		return 0, 0
	}
	n := len(closes)
	if len(benchmark) < n {
		n = len(benchmark)
	}
	var stratReturns, benchReturns []float64
	for i := 1; i < n; i++ {
		sPrev, _ := closes[i-1].Float64()
		sCur, _ := closes[i].Float64()
		bPrev, _ := benchmark[i-1].Close.Float64()
		bCur, _ := benchmark[i].Close.Float64()
		if sPrev == 0 || bPrev == 0 {
			continue
		}
		stratReturns = append(stratReturns, (sCur-sPrev)/sPrev)
		benchReturns = append(benchReturns, (bCur-bPrev)/bPrev)
	}
	if len(stratReturns) < 2 {
		return 0, 0
	}

	meanS := meanOf(stratReturns)
	meanB := meanOf(benchReturns)

	var covar, varB float64
	for i := range stratReturns {
		ds := stratReturns[i] - meanS
		db := benchReturns[i] - meanB
		covar += ds * db
		varB += db * db
	}
	if varB == 0 {
		return 0, 0
	}
	beta := covar / varB
	alpha := meanS - beta*meanB
	if math.IsNaN(alpha) || math.IsNaN(beta) {
		return 0, 0
	}
	return alpha, beta
}

func meanOf(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
