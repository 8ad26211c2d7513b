package analyst

import (
	"github.com/atlas-desktop/agent-core/pkg/types"
)

// StrategyMode names one member of the fixed strategy set strategies
// dispatch over.
type StrategyMode string

const (
	StrategyDualSMA              StrategyMode = "dual_sma"
	StrategyAdvancedTripleFilter StrategyMode = "advanced_triple_filter"
	StrategyDynamicRegime        StrategyMode = "dynamic_regime"
	StrategyTrendRiding          StrategyMode = "trend_riding"
	StrategyMeanReversion        StrategyMode = "mean_reversion"
	StrategyOrderFlow            StrategyMode = "order_flow"
	StrategySMC                  StrategyMode = "smc"
	StrategyBreakout             StrategyMode = "breakout"
	StrategyStatisticalMomentum  StrategyMode = "statistical_momentum"
	StrategyZScore               StrategyMode = "z_score"
	StrategyEnsemble             StrategyMode = "ensemble"
)

// Signal is what a strategy emits when it wants the pipeline to act.
type Signal struct {
	Side       types.OrderSide
	Confidence float64 // 0-1
	Reason     string
}

// Context is everything a strategy needs to evaluate one symbol at one bar
// close: the current indicator state, price, position, and order-flow
// features.
type Context struct {
	Symbol        string
	Price         float64
	Indicators    *IndicatorState
	HasPosition   bool
	PositionLong  bool
	OFI           float64 // order-flow imbalance, -1..1
	CumulativeDelta float64
}

// Evaluate dispatches ctx to the named strategy and returns its Signal, or
// nil if the strategy has nothing to say this bar.
func Evaluate(mode StrategyMode, ctx Context) *Signal {
	switch mode {
	case StrategyDualSMA:
		return dualSMA(ctx)
	case StrategyAdvancedTripleFilter:
		return advancedTripleFilter(ctx)
	case StrategyDynamicRegime:
		return dynamicRegime(ctx)
	case StrategyTrendRiding:
		return trendRiding(ctx)
	case StrategyMeanReversion:
		return meanReversion(ctx)
	case StrategyOrderFlow:
		return orderFlow(ctx)
	case StrategySMC:
		return smc(ctx)
	case StrategyBreakout:
		return breakout(ctx)
	case StrategyStatisticalMomentum:
		return statisticalMomentum(ctx)
	case StrategyZScore:
		return zScore(ctx)
	case StrategyEnsemble:
		return ensemble(ctx)
	default:
		return dualSMA(ctx)
	}
}

func dualSMA(ctx Context) *Signal {
	ind := ctx.Indicators
	if ind.SMAFast == 0 || ind.SMASlow == 0 {
		return nil
	}
	if ind.SMAFast > ind.SMASlow && !ctx.PositionLong {
		return &Signal{Side: types.OrderSideBuy, Confidence: 0.6, Reason: "fast SMA above slow SMA"}
	}
	if ind.SMAFast < ind.SMASlow && (ctx.PositionLong || !ctx.HasPosition) {
		return &Signal{Side: types.OrderSideSell, Confidence: 0.6, Reason: "fast SMA below slow SMA"}
	}
	return nil
}

func advancedTripleFilter(ctx Context) *Signal {
	ind := ctx.Indicators
	trendUp := ind.SMAFast > ind.SMASlow
	momentumUp := ind.MACD > ind.MACDSig
	notOverbought := ind.RSI < 75
	notOversold := ind.RSI > 25

	if trendUp && momentumUp && notOverbought && !ctx.PositionLong {
		return &Signal{Side: types.OrderSideBuy, Confidence: 0.75, Reason: "trend+momentum+RSI filter aligned long"}
	}
	if !trendUp && !momentumUp && notOversold && ctx.PositionLong {
		return &Signal{Side: types.OrderSideSell, Confidence: 0.75, Reason: "trend+momentum+RSI filter aligned short"}
	}
	return nil
}

func dynamicRegime(ctx Context) *Signal {
	ind := ctx.Indicators
	trending := ind.ADX > 25
	if trending {
		return trendRiding(ctx)
	}
	return meanReversion(ctx)
}

func trendRiding(ctx Context) *Signal {
	ind := ctx.Indicators
	if ind.ADX < 20 {
		return nil
	}
	if ind.SMAFast > ind.SMASlow && !ctx.PositionLong {
		return &Signal{Side: types.OrderSideBuy, Confidence: 0.65 + ind.ADX/400, Reason: "strong trend, riding long"}
	}
	if ind.SMAFast < ind.SMASlow && ctx.PositionLong {
		return &Signal{Side: types.OrderSideSell, Confidence: 0.65, Reason: "trend reversed, exiting"}
	}
	return nil
}

func meanReversion(ctx Context) *Signal {
	ind := ctx.Indicators
	if ind.BBUpper == 0 {
		return nil
	}
	if ctx.Price <= ind.BBLower && !ctx.PositionLong {
		return &Signal{Side: types.OrderSideBuy, Confidence: 0.6, Reason: "price at lower Bollinger band"}
	}
	if ctx.Price >= ind.BBUpper && ctx.PositionLong {
		return &Signal{Side: types.OrderSideSell, Confidence: 0.6, Reason: "price at upper Bollinger band"}
	}
	return nil
}

func orderFlow(ctx Context) *Signal {
	if ctx.OFI > 0.3 && !ctx.PositionLong {
		return &Signal{Side: types.OrderSideBuy, Confidence: 0.5 + ctx.OFI/2, Reason: "positive order-flow imbalance"}
	}
	if ctx.OFI < -0.3 && ctx.PositionLong {
		return &Signal{Side: types.OrderSideSell, Confidence: 0.5 - ctx.OFI/2, Reason: "negative order-flow imbalance"}
	}
	return nil
}

func smc(ctx Context) *Signal {
	ind := ctx.Indicators
	brokeHigh := ctx.Price > ind.BBUpper && ind.BBUpper > 0
	brokeLow := ctx.Price < ind.BBLower && ind.BBLower > 0
	if brokeHigh && ind.SMAFast > ind.SMASlow && !ctx.PositionLong {
		return &Signal{Side: types.OrderSideBuy, Confidence: 0.6, Reason: "structure break above range with trend confirmation"}
	}
	if brokeLow && ctx.PositionLong {
		return &Signal{Side: types.OrderSideSell, Confidence: 0.6, Reason: "structure break below range"}
	}
	return nil
}

func breakout(ctx Context) *Signal {
	ind := ctx.Indicators
	if ind.ATR == 0 {
		return nil
	}
	if ctx.Price > ind.BBUpper && !ctx.PositionLong {
		return &Signal{Side: types.OrderSideBuy, Confidence: 0.65, Reason: "breakout above volatility band"}
	}
	if ctx.Price < ind.BBMid && ctx.PositionLong {
		return &Signal{Side: types.OrderSideSell, Confidence: 0.55, Reason: "breakout faded back to midline"}
	}
	return nil
}

func statisticalMomentum(ctx Context) *Signal {
	ind := ctx.Indicators
	if ind.RSI > 60 && ind.MACD > ind.MACDSig && !ctx.PositionLong {
		return &Signal{Side: types.OrderSideBuy, Confidence: 0.55 + (ind.RSI-60)/100, Reason: "statistical momentum long"}
	}
	if ind.RSI < 40 && ctx.PositionLong {
		return &Signal{Side: types.OrderSideSell, Confidence: 0.55, Reason: "statistical momentum faded"}
	}
	return nil
}

func zScore(ctx Context) *Signal {
	ind := ctx.Indicators
	if ind.BBMid == 0 {
		return nil
	}
	stdDev := (ind.BBUpper - ind.BBMid)
	if stdDev == 0 {
		return nil
	}
	z := (ctx.Price - ind.BBMid) / stdDev
	if z < -2 && !ctx.PositionLong {
		return &Signal{Side: types.OrderSideBuy, Confidence: 0.6, Reason: "price 2+ std below mean"}
	}
	if z > 2 && ctx.PositionLong {
		return &Signal{Side: types.OrderSideSell, Confidence: 0.6, Reason: "price 2+ std above mean"}
	}
	return nil
}

// ensemble polls a representative subset of the other strategies and fires
// only on majority agreement, trading off signal frequency for conviction.
func ensemble(ctx Context) *Signal {
	votes := []*Signal{dualSMA(ctx), trendRiding(ctx), meanReversion(ctx), statisticalMomentum(ctx)}
	var buys, sells int
	var sumConf float64
	var reason string
	for _, v := range votes {
		if v == nil {
			continue
		}
		sumConf += v.Confidence
		reason = v.Reason
		if v.Side == types.OrderSideBuy {
			buys++
		} else {
			sells++
		}
	}
	if buys >= 2 && buys > sells {
		return &Signal{Side: types.OrderSideBuy, Confidence: sumConf / float64(buys), Reason: "ensemble majority buy: " + reason}
	}
	if sells >= 2 && sells > buys {
		return &Signal{Side: types.OrderSideSell, Confidence: sumConf / float64(sells), Reason: "ensemble majority sell: " + reason}
	}
	return nil
}
