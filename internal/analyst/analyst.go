package analyst

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/agent-core/internal/sizing"
	"github.com/atlas-desktop/agent-core/internal/volatility"
	"github.com/atlas-desktop/agent-core/pkg/types"
)

// EquitySource reports current total equity, used to size proposals as a
// percentage of the portfolio.
type EquitySource interface {
	Equity(prices map[string]decimal.Decimal) decimal.Decimal
}

// PositionSource reports the current position for a symbol, if any.
type PositionSource interface {
	Position(symbol string) (types.Position, bool)
}

type symbolState struct {
	indicators      *IndicatorState
	lastProposalAt  time.Time
	confirmSide     types.OrderSide
	confirmCount    int
	lastBarHigh     float64
	lastBarLow      float64
	recentCandles   []types.Candle
}

// ofiWindow bounds how many closed bars feed the order-flow imbalance
// estimate; short enough to track recent aggression, long enough to smooth
// single-bar noise.
const ofiWindow = 10

// Analyst is the per-process single owner of indicator state and strategy
// dispatch across all tracked symbols.
type Analyst struct {
	logger *zap.Logger
	cfg    types.AnalystConfig
	vol    *volatility.Manager
	sizer  *sizing.Sizer
	equity EquitySource
	pos    PositionSource

	mu     sync.Mutex
	states map[string]*symbolState

	out chan types.TradeProposal
}

// New builds an Analyst emitting proposals onto a bounded channel of
// capacity bufSize (typical 100, per the concurrency model's channel
// capacities).
func New(logger *zap.Logger, cfg types.AnalystConfig, vol *volatility.Manager, sizer *sizing.Sizer, equity EquitySource, pos PositionSource, bufSize int) *Analyst {
	if bufSize <= 0 {
		bufSize = 100
	}
	return &Analyst{
		logger: logger.Named("analyst"),
		cfg:    cfg,
		vol:    vol,
		sizer:  sizer,
		equity: equity,
		pos:    pos,
		states: make(map[string]*symbolState),
		out:    make(chan types.TradeProposal, bufSize),
	}
}

// Proposals is the read side of the Analyst's output channel.
func (a *Analyst) Proposals() <-chan types.TradeProposal {
	return a.out
}

// Run consumes events until ctx is canceled or events closes.
func (a *Analyst) Run(ctx context.Context, events <-chan types.MarketEvent) error {
	defer close(a.out)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			a.handle(ctx, evt)
		}
	}
}

func (a *Analyst) handle(ctx context.Context, evt types.MarketEvent) {
	switch evt.Kind {
	case types.MarketEventBar:
		if evt.Bar != nil {
			a.onBar(ctx, *evt.Bar)
		}
	case types.MarketEventPriceUpdate:
		a.onPriceUpdate(ctx, evt.Symbol, evt.Price)
	}
}

func (a *Analyst) stateFor(symbol string) *symbolState {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.states[symbol]
	if !ok {
		st = &symbolState{indicators: NewIndicatorState(200)}
		a.states[symbol] = st
	}
	return st
}

// onPriceUpdate checks the hard-stop override against every tick, since a
// loss can cross the limit between bar closes.
func (a *Analyst) onPriceUpdate(ctx context.Context, symbol string, price decimal.Decimal) {
	a.checkHardStop(ctx, symbol, price)
}

func (a *Analyst) onBar(ctx context.Context, bar types.Candle) {
	st := a.stateFor(bar.Symbol)
	params := Params{
		FastSMAPeriod: a.cfg.FastSMAPeriod,
		SlowSMAPeriod: a.cfg.SlowSMAPeriod,
		RSIPeriod:     a.cfg.RSIPeriod,
		MACDFast:      a.cfg.MACDFast,
		MACDSlow:      a.cfg.MACDSlow,
		MACDSignal:    a.cfg.MACDSignal,
		ATRPeriod:     a.cfg.ATRPeriod,
		ADXPeriod:     a.cfg.ADXPeriod,
		BBPeriod:      a.cfg.BBPeriod,
		BBStdDev:      AsFloat(a.cfg.BBStdDev),
	}

	high, _ := bar.High.Float64()
	low, _ := bar.Low.Float64()
	close, _ := bar.Close.Float64()
	st.indicators.Update(params, high, low, close)

	st.recentCandles = append(st.recentCandles, bar)
	if len(st.recentCandles) > ofiWindow {
		st.recentCandles = st.recentCandles[len(st.recentCandles)-ofiWindow:]
	}

	a.checkHardStop(ctx, bar.Symbol, bar.Close)

	pos, hasPos := a.pos.Position(bar.Symbol)
	positionLong := hasPos && pos.Quantity.Sign() > 0

	sig := Evaluate(StrategyMode(a.cfg.StrategyMode), Context{
		Symbol:       bar.Symbol,
		Price:        close,
		Indicators:   st.indicators,
		HasPosition:  hasPos,
		PositionLong: positionLong,
		OFI:          AggregateOFI(st.recentCandles),
	})
	if sig == nil {
		a.resetConfirmation(st)
		return
	}

	if !a.confirmSignal(st, sig) {
		return
	}
	if !a.passCooldown(st) {
		return
	}

	a.emit(ctx, bar.Symbol, *sig, bar.Close, "signal")
	st.lastProposalAt = time.Now()
}

func (a *Analyst) resetConfirmation(st *symbolState) {
	st.confirmCount = 0
	st.confirmSide = ""
}

func (a *Analyst) confirmSignal(st *symbolState, sig *Signal) bool {
	required := a.cfg.SignalConfirmationBars
	if required <= 1 {
		return true
	}
	if st.confirmSide == sig.Side {
		st.confirmCount++
	} else {
		st.confirmSide = sig.Side
		st.confirmCount = 1
	}
	return st.confirmCount >= required
}

func (a *Analyst) passCooldown(st *symbolState) bool {
	cooldown := time.Duration(a.cfg.OrderCooldownSeconds) * time.Second
	if cooldown <= 0 {
		return true
	}
	return time.Since(st.lastProposalAt) >= cooldown
}

// checkHardStop emits an unconditional exit proposal if a held position's
// unrealized loss crosses max_loss_per_trade_pct, bypassing cooldown and
// strategy dispatch entirely.
func (a *Analyst) checkHardStop(ctx context.Context, symbol string, price decimal.Decimal) {
	if price.Sign() <= 0 {
		return
	}
	pos, ok := a.pos.Position(symbol)
	if !ok || pos.Quantity.IsZero() {
		return
	}
	if a.cfg.MaxLossPerTradePct.Sign() <= 0 {
		return
	}

	var unrealizedPct decimal.Decimal
	if pos.Quantity.Sign() > 0 {
		unrealizedPct = pos.AveragePrice.Sub(price).Div(pos.AveragePrice)
	} else {
		unrealizedPct = price.Sub(pos.AveragePrice).Div(pos.AveragePrice)
	}
	if unrealizedPct.LessThanOrEqual(a.cfg.MaxLossPerTradePct) {
		return
	}

	side := types.OrderSideSell
	if pos.Quantity.Sign() < 0 {
		side = types.OrderSideBuy
	}
	a.emit(ctx, symbol, Signal{Side: side, Confidence: 1.0, Reason: "hard stop triggered"}, price, "hard_stop")
}

func (a *Analyst) emit(ctx context.Context, symbol string, sig Signal, price decimal.Decimal, kind string) {
	prices := map[string]decimal.Decimal{symbol: price}
	equity := a.equity.Equity(prices)

	volMult := 1.0
	if a.vol != nil {
		volMult = a.vol.Multiplier(symbol)
	}

	stop := price
	if sig.Side == types.OrderSideBuy {
		stop = price.Mul(decimal.NewFromFloat(1 - 0.02))
	} else {
		stop = price.Mul(decimal.NewFromFloat(1 + 0.02))
	}

	var qty decimal.Decimal
	if kind == "hard_stop" {
		pos, _ := a.pos.Position(symbol)
		qty = pos.Quantity.Abs()
	} else {
		result := a.sizer.Size(sizing.Request{
			Equity:              equity,
			CurrentPrice:        price,
			StopPrice:           stop,
			RiskPerTradePercent: a.cfg.RiskPerTradePercent,
			MaxPositionSizePct:  a.cfg.MaxPositionSizePct,
			RiskAppetiteScore:   a.cfg.RiskAppetiteScore,
			VolatilityMult:      volMult,
		})
		qty = result.Quantity
		if qty.Sign() <= 0 {
			qty = a.cfg.TradeQuantity
		}
	}
	if qty.Sign() <= 0 {
		return
	}

	proposal := types.TradeProposal{
		Symbol:    symbol,
		Side:      sig.Side,
		Price:     price,
		Quantity:  qty,
		OrderType: types.OrderTypeMarket,
		Reason:    sig.Reason,
		Timestamp: time.Now().UnixMilli(),
	}

	select {
	case a.out <- proposal:
	case <-ctx.Done():
	}
}
