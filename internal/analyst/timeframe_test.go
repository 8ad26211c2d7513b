package analyst

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/atlas-desktop/agent-core/pkg/types"
)

func oneMinCandle(symbol string, open, high, low, close, volume float64, ts int64) types.Candle {
	return types.Candle{
		Symbol:    symbol,
		Open:      decimal.NewFromFloat(open),
		High:      decimal.NewFromFloat(high),
		Low:       decimal.NewFromFloat(low),
		Close:     decimal.NewFromFloat(close),
		Volume:    decimal.NewFromFloat(volume),
		Timestamp: ts,
	}
}

// Aggregating N consecutive 1-min candles into a K-min timeframe yields
// exactly floor(N/K) complete candles with correct OHLCV and candle_count.
func TestAggregateCandles_YieldsFloorNOverKCompleteBars(t *testing.T) {
	candles := []types.Candle{
		oneMinCandle("BTC", 100, 105, 99, 102, 10, 0),
		oneMinCandle("BTC", 102, 110, 101, 108, 20, 60_000),
		oneMinCandle("BTC", 108, 109, 95, 97, 30, 120_000),
		oneMinCandle("BTC", 97, 100, 96, 99, 5, 180_000), // trailing partial group of 1 when k=3
	}

	bars := AggregateCandles(candles, 3, types.Timeframe5m)
	assert.Len(t, bars, 1) // floor(4/3) == 1, trailing bar dropped

	bar := bars[0]
	assert.True(t, bar.Open.Equal(decimal.NewFromFloat(100)))
	assert.True(t, bar.Close.Equal(decimal.NewFromFloat(97)))
	assert.True(t, bar.High.Equal(decimal.NewFromFloat(110)))
	assert.True(t, bar.Low.Equal(decimal.NewFromFloat(95)))
	assert.True(t, bar.Volume.Equal(decimal.NewFromFloat(60)))
	assert.Equal(t, 3, bar.CandleCount)
	assert.Equal(t, types.Timeframe5m, bar.Timeframe)
}

func TestAggregateCandles_ExactMultipleYieldsNoPartials(t *testing.T) {
	candles := []types.Candle{
		oneMinCandle("BTC", 1, 2, 0, 1, 1, 0),
		oneMinCandle("BTC", 1, 2, 0, 1, 1, 60_000),
	}
	bars := AggregateCandles(candles, 2, types.Timeframe1m)
	assert.Len(t, bars, 1)
	assert.Equal(t, 2, bars[0].CandleCount)
}

// Order-flow OFI: all-green candles of equal volume aggregate to +1, all-red
// to -1, and mixed activity lands strictly between the two.
func TestAggregateOFI_AllGreenEqualVolume(t *testing.T) {
	candles := []types.Candle{
		oneMinCandle("BTC", 100, 110, 100, 110, 10, 0), // close at high
		oneMinCandle("BTC", 110, 120, 110, 120, 10, 60_000),
	}
	assert.InDelta(t, 1.0, AggregateOFI(candles), 1e-9)
}

func TestAggregateOFI_AllRedEqualVolume(t *testing.T) {
	candles := []types.Candle{
		oneMinCandle("BTC", 110, 110, 100, 100, 10, 0), // close at low
		oneMinCandle("BTC", 100, 100, 90, 90, 10, 60_000),
	}
	assert.InDelta(t, -1.0, AggregateOFI(candles), 1e-9)
}

func TestAggregateOFI_MixedLiesStrictlyBetween(t *testing.T) {
	candles := []types.Candle{
		oneMinCandle("BTC", 100, 110, 100, 110, 10, 0),  // +1
		oneMinCandle("BTC", 110, 110, 100, 100, 10, 60_000), // -1
	}
	ofi := AggregateOFI(candles)
	assert.Greater(t, ofi, -1.0)
	assert.Less(t, ofi, 1.0)
}
