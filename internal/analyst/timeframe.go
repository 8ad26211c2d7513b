package analyst

import "github.com/atlas-desktop/agent-core/pkg/types"

// AggregateCandles combines consecutive groups of k one-minute candles into
// a single TimeframeCandle apiece: open is the group's first open, close its
// last close, high/low the group extremes, and volume the group sum. A
// trailing partial group (len(candles) not a multiple of k) is dropped
// rather than emitted half-formed, so the result always has exactly
// len(candles)/k complete bars.
func AggregateCandles(candles []types.Candle, k int, tf types.Timeframe) []types.TimeframeCandle {
	if k <= 0 {
		return nil
	}
	n := len(candles) / k
	out := make([]types.TimeframeCandle, 0, n)
	for i := 0; i < n; i++ {
		group := candles[i*k : (i+1)*k]
		out = append(out, mergeGroup(group, tf))
	}
	return out
}

func mergeGroup(group []types.Candle, tf types.Timeframe) types.TimeframeCandle {
	first := group[0]
	merged := types.TimeframeCandle{
		Candle: types.Candle{
			Symbol:    first.Symbol,
			Open:      first.Open,
			High:      first.High,
			Low:       first.Low,
			Close:     group[len(group)-1].Close,
			Volume:    first.Volume,
			Timestamp: first.Timestamp,
		},
		Timeframe:   tf,
		CandleCount: len(group),
	}
	for _, c := range group[1:] {
		if c.High.GreaterThan(merged.High) {
			merged.High = c.High
		}
		if c.Low.LessThan(merged.Low) {
			merged.Low = c.Low
		}
		merged.Volume = merged.Volume.Add(c.Volume)
	}
	return merged
}
