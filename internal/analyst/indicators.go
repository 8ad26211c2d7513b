// Package analyst implements the Analyst: per-symbol rolling indicator
// state, strategy dispatch over a fixed set, and TradeProposal emission
// subject to cooldown/confirmation-bar filters and the hard-stop override.
// Grounded on internal/signals/aggregator.go (indicator update cadence) and
// internal/strategy/strategy.go (strategy interface shape).
package analyst

import (
	"github.com/shopspring/decimal"
)

// IndicatorState holds rolling indicator values for one symbol, recomputed
// on every bar close. Formulas are intentionally simple (spec.md excludes
// indicator-formula tuning from scope); what matters is that each indicator
// updates incrementally and exposes a stable read surface to strategies.
type IndicatorState struct {
	closes []float64
	highs  []float64
	lows   []float64
	maxLen int

	SMAFast float64
	SMASlow float64
	RSI     float64
	MACD    float64
	MACDSig float64
	ATR     float64
	ADX     float64
	BBUpper float64
	BBMid   float64
	BBLower float64

	emaFast    float64
	emaSlow    float64
	emaSignal  float64
	haveEMA    bool
	avgGain    float64
	avgLoss    float64
	haveRSI    bool
	prevClose  float64
	havePrev   bool
}

// NewIndicatorState keeps up to maxLen bars of history.
func NewIndicatorState(maxLen int) *IndicatorState {
	if maxLen <= 0 {
		maxLen = 200
	}
	return &IndicatorState{maxLen: maxLen}
}

// Update folds in a new closed bar's OHLC and recomputes every indicator.
func (s *IndicatorState) Update(cfg Params, high, low, close float64) {
	s.closes = appendBounded(s.closes, close, s.maxLen)
	s.highs = appendBounded(s.highs, high, s.maxLen)
	s.lows = appendBounded(s.lows, low, s.maxLen)

	s.SMAFast = sma(s.closes, cfg.FastSMAPeriod)
	s.SMASlow = sma(s.closes, cfg.SlowSMAPeriod)
	s.updateEMAMACD(cfg, close)
	s.updateRSI(cfg, close)
	s.ATR = atr(s.highs, s.lows, s.closes, cfg.ATRPeriod)
	s.ADX = adxApprox(s.highs, s.lows, cfg.ADXPeriod)
	s.updateBollinger(cfg, close)
}

// Params is the subset of AnalystConfig the indicator layer needs, kept
// separate from types.AnalystConfig so this package has no import-time
// dependency cycle risk and can be unit tested with minimal setup.
type Params struct {
	FastSMAPeriod int
	SlowSMAPeriod int
	RSIPeriod     int
	MACDFast      int
	MACDSlow      int
	MACDSignal    int
	ATRPeriod     int
	ADXPeriod     int
	BBPeriod      int
	BBStdDev      float64
}

func appendBounded(series []float64, v float64, maxLen int) []float64 {
	series = append(series, v)
	if len(series) > maxLen {
		series = series[len(series)-maxLen:]
	}
	return series
}

func sma(series []float64, period int) float64 {
	if period <= 0 || len(series) < period {
		return 0
	}
	sum := 0.0
	for _, v := range series[len(series)-period:] {
		sum += v
	}
	return sum / float64(period)
}

func ema(prev, value float64, period int, have bool) (float64, bool) {
	if period <= 0 {
		return value, true
	}
	if !have {
		return value, true
	}
	alpha := 2.0 / (float64(period) + 1.0)
	return alpha*value + (1-alpha)*prev, true
}

func (s *IndicatorState) updateEMAMACD(cfg Params, close float64) {
	s.emaFast, _ = ema(s.emaFast, close, cfg.MACDFast, s.haveEMA)
	s.emaSlow, s.haveEMA = ema(s.emaSlow, close, cfg.MACDSlow, s.haveEMA)
	macd := s.emaFast - s.emaSlow
	s.emaSignal, _ = ema(s.emaSignal, macd, cfg.MACDSignal, s.haveEMA)
	s.MACD = macd
	s.MACDSig = s.emaSignal
}

func (s *IndicatorState) updateRSI(cfg Params, close float64) {
	if !s.havePrev {
		s.prevClose = close
		s.havePrev = true
		return
	}
	change := close - s.prevClose
	s.prevClose = close

	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}

	period := float64(cfg.RSIPeriod)
	if period <= 0 {
		period = 14
	}
	if !s.haveRSI {
		s.avgGain, s.avgLoss = gain, loss
		s.haveRSI = true
	} else {
		s.avgGain = (s.avgGain*(period-1) + gain) / period
		s.avgLoss = (s.avgLoss*(period-1) + loss) / period
	}

	if s.avgLoss == 0 {
		s.RSI = 100
		return
	}
	rs := s.avgGain / s.avgLoss
	s.RSI = 100 - 100/(1+rs)
}

func atr(highs, lows, closes []float64, period int) float64 {
	if period <= 0 || len(highs) < period+1 {
		return 0
	}
	n := len(highs)
	sum := 0.0
	for i := n - period; i < n; i++ {
		tr := highs[i] - lows[i]
		if i > 0 {
			hc := absF(highs[i] - closes[i-1])
			lc := absF(lows[i] - closes[i-1])
			if hc > tr {
				tr = hc
			}
			if lc > tr {
				tr = lc
			}
		}
		sum += tr
	}
	return sum / float64(period)
}

// adxApprox is a simplified directional-movement proxy: the normalized
// range of recent highs/lows, scaled to roughly [0,100], standing in for a
// full ADX/DI computation (acceptable under spec.md's non-goal on formula
// fidelity; what strategies need is a trend-strength signal that rises in
// trends and falls in chop).
func adxApprox(highs, lows []float64, period int) float64 {
	if period <= 0 || len(highs) < period {
		return 0
	}
	n := len(highs)
	window := highs[n-period:]
	lowWindow := lows[n-period:]
	hi, lo := window[0], lowWindow[0]
	for i := range window {
		if window[i] > hi {
			hi = window[i]
		}
		if lowWindow[i] < lo {
			lo = lowWindow[i]
		}
	}
	if hi == 0 {
		return 0
	}
	spread := (hi - lo) / hi
	v := spread * 400
	if v > 100 {
		v = 100
	}
	return v
}

func (s *IndicatorState) updateBollinger(cfg Params, close float64) {
	period := cfg.BBPeriod
	if period <= 0 || len(s.closes) < period {
		return
	}
	mid := sma(s.closes, period)
	window := s.closes[len(s.closes)-period:]
	var variance float64
	for _, v := range window {
		d := v - mid
		variance += d * d
	}
	variance /= float64(period)
	stdDev := sqrtF(variance)
	mult := cfg.BBStdDev
	if mult <= 0 {
		mult = 2.0
	}
	s.BBMid = mid
	s.BBUpper = mid + mult*stdDev
	s.BBLower = mid - mult*stdDev
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func sqrtF(v float64) float64 {
	if v <= 0 {
		return 0
	}
	x := v
	for i := 0; i < 20; i++ {
		x = 0.5 * (x + v/x)
	}
	return x
}

// AsFloat is a convenience for strategies comparing against decimal
// thresholds from AnalystConfig.
func AsFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
